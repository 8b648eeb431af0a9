package exchange

import (
	"fmt"
	"strings"
)

// SupportedExchanges - список поддерживаемых шлюзов
var SupportedExchanges = []string{
	"bybit",
	"paper",
}

// Credentials - ключи и параметры подключения к бирже
type Credentials struct {
	APIKey    string
	APISecret string
	BaseURL   string
	RateLimit float64
}

// NewGateway создает шлюз по имени
func NewGateway(name string, creds Credentials) (Gateway, error) {
	name = strings.ToLower(name)

	switch name {
	case "bybit":
		if creds.APIKey == "" || creds.APISecret == "" {
			return nil, fmt.Errorf("bybit: api key and secret are required")
		}
		return NewBybit(BybitConfig{
			APIKey:    creds.APIKey,
			APISecret: creds.APISecret,
			BaseURL:   creds.BaseURL,
			RateLimit: creds.RateLimit,
		}), nil
	case "paper":
		return NewPaper(), nil
	default:
		return nil, fmt.Errorf("unsupported exchange: %s", name)
	}
}

// IsSupported проверяет, поддерживается ли биржа
func IsSupported(name string) bool {
	name = strings.ToLower(name)
	for _, supported := range SupportedExchanges {
		if name == supported {
			return true
		}
	}
	return false
}
