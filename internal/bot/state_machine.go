package bot

import "cycletrader/internal/models"

// ValidTransitions определяет допустимые переходы между статусами цикла
var ValidTransitions = map[string][]string{
	models.StatusPending:     {models.StatusInitial, models.StatusClosed},
	models.StatusInitial:     {models.StatusHedge, models.StatusRecovery, models.StatusThreshold, models.StatusClosed},
	models.StatusHedge:       {models.StatusRecovery, models.StatusMaxRecovery, models.StatusClosed},
	models.StatusRecovery:    {models.StatusHedge, models.StatusMaxRecovery, models.StatusThreshold, models.StatusClosed},
	models.StatusMaxRecovery: {models.StatusRecovery, models.StatusClosed},
	models.StatusThreshold:   {models.StatusRecovery, models.StatusMaxRecovery, models.StatusClosed},
	models.StatusClosed:      {models.StatusReopened}, // только самовосстановление
	models.StatusReopened:    {models.StatusHedge, models.StatusRecovery, models.StatusMaxRecovery, models.StatusClosed},
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to string) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// StateInfo возвращает описание статуса для UI
func StateInfo(s string) string {
	switch s {
	case models.StatusPending:
		return "Ожидание исполнения отложенных ордеров"
	case models.StatusInitial:
		return "Цикл открыт, цена внутри зоны"
	case models.StatusHedge:
		return "Хеджирование пробоя границы"
	case models.StatusRecovery:
		return "Восстановление после пробоя"
	case models.StatusMaxRecovery:
		return "Достигнута последняя зона восстановления"
	case models.StatusThreshold:
		return "Расширение пороговых ордеров"
	case models.StatusClosed:
		return "Цикл закрыт"
	case models.StatusReopened:
		return "Цикл восстановлен после ложного закрытия"
	default:
		return "Неизвестный статус"
	}
}

// IsActive возвращает true если цикл торгуется
func IsActive(s string) bool {
	return s != models.StatusClosed && s != ""
}

// IsRecovering возвращает true если цикл в фазе восстановления
func IsRecovering(s string) bool {
	return s == models.StatusRecovery || s == models.StatusMaxRecovery
}
