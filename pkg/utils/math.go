package utils

import (
	"math"
)

// math.go - математические утилиты для цикличной торговли
//
// Назначение:
// Вспомогательные математические функции для торговых операций.
// Все функции являются чистыми (pure functions) без побочных эффектов.
//
// Функции:
// - RoundToLotStep: округление объёма до шага лота брокера
// - PipsToPrice / PriceDiffInPips: пересчёт пипсов в цену и обратно
// - CalculatePNL: плавающая прибыль позиции
// - MartingaleVolume: объём уровня мартингейл-лестницы

// RoundToLotStep округляет объём ВНИЗ до ближайшего кратного lotStep.
//
// Округление вниз гарантирует, что мы не превысим допустимый объём.
//
// Параметры:
//   - volume: исходный объём в лотах
//   - lotStep: минимальный шаг изменения объёма у брокера
//
// Возвращает:
//   - Округлённый объём, кратный lotStep
//   - Если lotStep <= 0, возвращает исходное значение
//
// Примеры:
//   - RoundToLotStep(0.123, 0.01) = 0.12
//   - RoundToLotStep(1.999, 0.01) = 1.99
func RoundToLotStep(volume, lotStep float64) float64 {
	if lotStep <= 0 {
		return volume
	}
	return math.Floor(volume/lotStep+1e-9) * lotStep
}

// RoundToLotStepUp округляет объём ВВЕРХ до ближайшего кратного lotStep.
//
// Используется когда нужно гарантировать минимальный объём.
func RoundToLotStepUp(volume, lotStep float64) float64 {
	if lotStep <= 0 {
		return volume
	}
	return math.Ceil(volume/lotStep-1e-9) * lotStep
}

// PipsToPrice переводит расстояние в пипсах в ценовое расстояние.
//
// Параметры:
//   - pips: расстояние в пипсах
//   - pip: размер одного пипса инструмента (0.0001 для EURUSD)
//
// Возвращает:
//   - Ценовое расстояние (pips × pip)
//
// Примеры:
//   - PipsToPrice(500, 0.0001) = 0.05
//   - PipsToPrice(50, 0.01) = 0.5
func PipsToPrice(pips, pip float64) float64 {
	return pips * pip
}

// PriceDiffInPips переводит разницу двух цен в пипсы.
//
// Параметры:
//   - a, b: цены
//   - pip: размер одного пипса инструмента
//
// Возвращает:
//   - Абсолютная разница в пипсах (всегда >= 0)
//   - Если pip <= 0, возвращает 0
func PriceDiffInPips(a, b, pip float64) float64 {
	if pip <= 0 {
		return 0
	}
	return math.Abs(a-b) / pip
}

// CalculatePNL расчитывает плавающую прибыль позиции в валюте котировки.
//
// Формулы:
//   - buy PNL = (P_текущая - P_открытия) × volume × contract
//   - sell PNL = (P_открытия - P_текущая) × volume × contract
//
// Параметры:
//   - side: "buy" или "sell"
//   - openPrice: цена открытия
//   - currentPrice: текущая цена
//   - volume: объём в лотах
//   - contractSize: размер контракта (100000 для стандартного лота forex)
func CalculatePNL(side string, openPrice, currentPrice, volume, contractSize float64) float64 {
	if volume <= 0 || contractSize <= 0 {
		return 0
	}

	switch side {
	case "buy":
		return (currentPrice - openPrice) * volume * contractSize
	case "sell":
		return (openPrice - currentPrice) * volume * contractSize
	default:
		return 0
	}
}

// MartingaleVolume возвращает объём уровня мартингейл-лестницы.
//
// Объём удваивается на каждом уровне: base × 2^(level-1).
//
// Параметры:
//   - baseVolume: объём первого уровня
//   - level: номер уровня, начиная с 1
//
// Возвращает:
//   - Объём уровня; 0 для level < 1
//
// Примеры:
//   - MartingaleVolume(0.01, 1) = 0.01
//   - MartingaleVolume(0.01, 3) = 0.04
func MartingaleVolume(baseVolume float64, level int) float64 {
	if level < 1 || baseVolume <= 0 {
		return 0
	}
	return baseVolume * math.Pow(2, float64(level-1))
}

// NormalizePrice округляет цену до заданного количества знаков
func NormalizePrice(price float64, digits int) float64 {
	if digits < 0 {
		return price
	}
	factor := math.Pow(10, float64(digits))
	return math.Round(price*factor) / factor
}

// Abs возвращает абсолютное значение числа.
func Abs(x float64) float64 {
	return math.Abs(x)
}

// Min возвращает минимум из двух чисел.
func Min(a, b float64) float64 {
	return math.Min(a, b)
}

// Max возвращает максимум из двух чисел.
func Max(a, b float64) float64 {
	return math.Max(a, b)
}

// Clamp ограничивает значение диапазоном [min, max].
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// ClampIndex ограничивает индекс длиной слайса.
// Таблицы зон и лотов конечны: после последнего элемента
// используется последний.
func ClampIndex(idx, length int) int {
	if length <= 0 {
		return 0
	}
	if idx < 0 {
		return 0
	}
	if idx >= length {
		return length - 1
	}
	return idx
}
