package utils

// validator.go - валидация входных данных сигналов

import (
	"fmt"
	"regexp"
	"strings"
)

var symbolPattern = regexp.MustCompile(`^[A-Z0-9]{2,20}$`)

// NormalizeSymbol приводит символ к виду биржи: BTC-usdt -> BTCUSDT
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	return strings.NewReplacer("-", "", "_", "", "/", "").Replace(s)
}

// ValidateSymbol проверяет формат символа (после нормализации)
func ValidateSymbol(symbol string) error {
	if symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if !symbolPattern.MatchString(NormalizeSymbol(symbol)) {
		return fmt.Errorf("invalid symbol %q", symbol)
	}
	return nil
}

// ValidatePrice проверяет что цена положительна
func ValidatePrice(name string, price float64) error {
	if price <= 0 {
		return fmt.Errorf("%s must be positive, got %v", name, price)
	}
	return nil
}

// ValidateFraction проверяет долю в интервале (0, 1)
func ValidateFraction(name string, v float64) error {
	if v <= 0 || v >= 1 {
		return fmt.Errorf("%s must be in (0, 1), got %v", name, v)
	}
	return nil
}
