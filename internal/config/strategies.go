package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Sizing - размеры позиций по стратегиям и символам
//
// Пример файла:
//
//	default_quantity: 0.01
//	lot_sizes:
//	  BTCUSDT: 0.001
//	strategies:
//	  breakout:
//	    quantity: 0.02
//	    symbols:
//	      ETHUSDT: 0.5
type Sizing struct {
	DefaultQuantity float64                   `yaml:"default_quantity"`
	LotSizes        map[string]float64        `yaml:"lot_sizes"`
	Strategies      map[string]StrategySizing `yaml:"strategies"`
}

// StrategySizing - размер по умолчанию для стратегии и переопределения по символам
type StrategySizing struct {
	Quantity float64            `yaml:"quantity"`
	Symbols  map[string]float64 `yaml:"symbols"`
}

// LoadSizing читает YAML файл размеров. Пустой путь = пустая конфигурация
// с fallback количеством.
func LoadSizing(path string, fallback float64) (*Sizing, error) {
	s := &Sizing{DefaultQuantity: fallback}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read strategies file: %w", err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parse strategies file %s: %w", path, err)
	}
	if s.DefaultQuantity <= 0 {
		s.DefaultQuantity = fallback
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sizing) validate() error {
	if s.DefaultQuantity < 0 {
		return fmt.Errorf("default_quantity cannot be negative")
	}
	for name, st := range s.Strategies {
		if st.Quantity < 0 {
			return fmt.Errorf("strategy %s: quantity cannot be negative", name)
		}
		for sym, q := range st.Symbols {
			if q <= 0 {
				return fmt.Errorf("strategy %s: quantity for %s must be positive", name, sym)
			}
		}
	}
	for sym, lot := range s.LotSizes {
		if lot <= 0 {
			return fmt.Errorf("lot size for %s must be positive", sym)
		}
	}
	return nil
}

// Quantity возвращает размер позиции: символ стратегии, затем стратегия,
// затем значение по умолчанию. 0 = размер неизвестен.
func (s *Sizing) Quantity(strategyID, symbol string) float64 {
	if s == nil {
		return 0
	}
	if st, ok := s.Strategies[strategyID]; ok {
		if q, ok := st.Symbols[symbol]; ok {
			return q
		}
		if st.Quantity > 0 {
			return st.Quantity
		}
	}
	return s.DefaultQuantity
}

// LotSize возвращает шаг объёма символа (0 = без округления)
func (s *Sizing) LotSize(symbol string) float64 {
	if s == nil {
		return 0
	}
	return s.LotSizes[symbol]
}
