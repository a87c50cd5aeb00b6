package utils

// validator.go - валидация данных
//
// Назначение:
// Проверка корректности входных данных стратегии и команд.
//
// Функции:
// - ValidateSymbol: проверка формата символа (EURUSD)
// - ValidateVolume: проверка объёма в лотах
// - ValidatePips: проверка расстояния в пипсах
// - ValidateZoneTable / ValidateLotTable: таблицы зон и лотов
// - ValidateCycleConfig: полная проверка конфигурации цикла
//
// Возвращает error с описанием проблемы или nil

import (
	"errors"
	"fmt"
	"strings"
)

// Сентинельные ошибки валидации
var (
	ErrInvalidSymbol = errors.New("invalid symbol format")
	ErrInvalidVolume = errors.New("volume must be between 0.01 and 1000 lots")
	ErrInvalidPips   = errors.New("pips value must be positive and below 100000")
	ErrInvalidToken  = errors.New("token must be at least 16 characters of [A-Za-z0-9_-]")
	ErrEmptyTable    = errors.New("table must contain at least one element")
)

// ValidateSymbol проверяет формат торгового символа.
//
// Допустимы 2-30 символов: буквы, цифры и разделители - _ /
func ValidateSymbol(symbol string) error {
	if len(symbol) < 2 || len(symbol) > 30 {
		return ErrInvalidSymbol
	}
	for _, r := range symbol {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '/':
		default:
			return ErrInvalidSymbol
		}
	}
	return nil
}

// IsValidSymbol сообщает, проходит ли символ валидацию
func IsValidSymbol(symbol string) bool {
	return ValidateSymbol(symbol) == nil
}

// NormalizeSymbol приводит символ к каноническому виду:
// верхний регистр, без разделителей.
//
// Примеры:
//   - "eurusd" -> "EURUSD"
//   - "eur/usd" -> "EURUSD"
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.NewReplacer("-", "", "_", "", "/", "").Replace(s)
	return s
}

// ValidateVolume проверяет объём ордера в лотах
func ValidateVolume(volume float64) error {
	if volume < 0.01 || volume > 1000 {
		return ErrInvalidVolume
	}
	return nil
}

// ValidatePips проверяет расстояние в пипсах
func ValidatePips(pips float64) error {
	if pips <= 0 || pips >= 100000 {
		return ErrInvalidPips
	}
	return nil
}

// ValidatePercentage проверяет процентное значение [0, 100]
func ValidatePercentage(pct float64) error {
	if pct < 0 || pct > 100 {
		return fmt.Errorf("percentage must be between 0 and 100, got %v", pct)
	}
	return nil
}

// ValidateZoneTable проверяет таблицу зон: непустая, положительная,
// строго возрастающая.
func ValidateZoneTable(zones []float64) error {
	if len(zones) == 0 {
		return ErrEmptyTable
	}
	prev := 0.0
	for i, z := range zones {
		if z <= prev {
			return fmt.Errorf("zone table must be positive and strictly increasing, element %d = %v", i, z)
		}
		prev = z
	}
	return nil
}

// ValidateLotTable проверяет таблицу лотов: непустая, каждый объём валиден
func ValidateLotTable(lots []float64) error {
	if len(lots) == 0 {
		return ErrEmptyTable
	}
	for i, lot := range lots {
		if err := ValidateVolume(lot); err != nil {
			return fmt.Errorf("lot table element %d: %w", i, err)
		}
	}
	return nil
}

// ValidateToken проверяет токен доступа (минимум 16 символов [A-Za-z0-9_-])
func ValidateToken(token string) error {
	if len(token) < 16 {
		return ErrInvalidToken
	}
	for _, r := range token {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return ErrInvalidToken
		}
	}
	return nil
}

// CycleConfigValidation содержит параметры стратегии для проверки
type CycleConfigValidation struct {
	Symbol        string
	TakeProfit    float64   // целевая прибыль цикла в валюте
	Zones         []float64 // таблица зон в пипсах
	LotSizes      []float64 // таблица лотов
	HedgeDistance float64   // шаг мартингейл-лестницы в пипсах
	MaxDrawdown   float64   // предел просадки в валюте, 0 = не задан
}

// ValidateCycleConfig проверяет конфигурацию цикла целиком.
// Собирает все ошибки, а не останавливается на первой.
func ValidateCycleConfig(cfg CycleConfigValidation) error {
	var errs ValidationErrors

	errs.AddError("symbol", ValidateSymbol(cfg.Symbol))
	errs.AddError("zones", ValidateZoneTable(cfg.Zones))
	errs.AddError("lot_sizes", ValidateLotTable(cfg.LotSizes))

	if cfg.TakeProfit <= 0 {
		errs.Add("take_profit", "must be positive")
	}
	if cfg.HedgeDistance > 0 {
		errs.AddError("hedge_distance", ValidatePips(cfg.HedgeDistance))
	}
	if cfg.MaxDrawdown < 0 {
		errs.Add("max_drawdown", "must not be negative")
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// ValidationError описывает одну ошибку валидации поля
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors аккумулирует ошибки валидации нескольких полей
type ValidationErrors []ValidationError

// Add добавляет ошибку по имени поля
func (e *ValidationErrors) Add(field, message string) {
	*e = append(*e, ValidationError{Field: field, Message: message})
}

// AddError добавляет ошибку, если она не nil
func (e *ValidationErrors) AddError(field string, err error) {
	if err == nil {
		return
	}
	e.Add(field, err.Error())
}

// HasErrors сообщает, накоплены ли ошибки
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Error реализует интерфейс error
func (e ValidationErrors) Error() string {
	parts := make([]string, 0, len(e))
	for _, ve := range e {
		parts = append(parts, fmt.Sprintf("%s: %s", ve.Field, ve.Message))
	}
	return strings.Join(parts, "; ")
}
