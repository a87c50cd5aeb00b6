package bot

import (
	"sync"
	"time"

	"cycletrader/internal/models"
	"cycletrader/pkg/utils"
)

// RiskAction - решение риск-менеджера по текущему состоянию дня
type RiskAction int

const (
	// RiskAllow - ограничений нет
	RiskAllow RiskAction = iota
	// RiskStopOpening - дневная цель достигнута: новые циклы не
	// открываются, открытые закрываются в плюс
	RiskStopOpening
	// RiskEmergencyFlatten - дневной лимит убытка: всё закрывается
	// немедленно, стратегия останавливается до конца дня
	RiskEmergencyFlatten
)

// String возвращает имя действия для логов
func (a RiskAction) String() string {
	switch a {
	case RiskStopOpening:
		return "stop_opening"
	case RiskEmergencyFlatten:
		return "emergency_flatten"
	default:
		return "allow"
	}
}

// RiskConfig - дневные лимиты стратегии
type RiskConfig struct {
	DailyProfitTarget float64 // 0 = без цели
	DailyLossLimit    float64 // 0 = без лимита, задаётся положительным числом
	MaxExposure       float64 // суммарный объём, после которого пишется предупреждение
}

// RiskManager ведёт дневной аккумулятор PnL и решает, можно ли
// открывать новые циклы. Счётчик обнуляется на границе торгового дня.
//
// Остановка по лимиту действует до конца дня, а не до перезапуска
// процесса: границу дня проверяет каждый вызов.
type RiskManager struct {
	cfg    RiskConfig
	events EventSink
	log    *utils.Logger

	mu        sync.Mutex
	dayStart  time.Time
	realized  float64
	halted    bool
	haltCause string

	exposureWarned bool

	now func() time.Time // подменяется в тестах
}

// NewRiskManager создаёт риск-менеджера
func NewRiskManager(cfg RiskConfig, events EventSink, log *utils.Logger) *RiskManager {
	if log == nil {
		log = utils.GetGlobalLogger()
	}
	return &RiskManager{
		cfg:    cfg,
		events: events,
		log:    log.WithComponent("risk"),
		now:    time.Now,
	}
}

// AddRealized учитывает реализованную прибыль закрытого цикла
func (r *RiskManager) AddRealized(pnl float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rollDayLocked()
	r.realized += pnl
	DailyRealizedPnl.Set(r.realized)
}

// DailyPnL возвращает реализованный PnL с начала дня
func (r *RiskManager) DailyPnL() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rollDayLocked()
	return r.realized
}

// Halted сообщает, остановлена ли стратегия дневным лимитом
func (r *RiskManager) Halted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rollDayLocked()
	return r.halted
}

// CanOpen сообщает, разрешено ли открывать новые циклы
func (r *RiskManager) CanOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rollDayLocked()
	if r.halted {
		return false
	}
	if r.cfg.DailyProfitTarget > 0 && r.realized >= r.cfg.DailyProfitTarget {
		return false
	}
	return true
}

// Evaluate сопоставляет дневной PnL (реализованный + плавающий)
// с лимитами и возвращает требуемое действие. Пересечение лимита
// убытка останавливает стратегию до конца дня и порождает
// критическое событие.
func (r *RiskManager) Evaluate(accountID, botID string, floating float64) RiskAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rollDayLocked()

	if r.halted {
		return RiskEmergencyFlatten
	}

	total := r.realized + floating

	if r.cfg.DailyLossLimit > 0 && total <= -r.cfg.DailyLossLimit {
		r.halted = true
		r.haltCause = "daily_loss_limit"
		StrategyHalted.Set(1)

		r.log.Error("daily loss limit breached, halting strategy",
			utils.PNL(total),
			utils.Float64("limit", r.cfg.DailyLossLimit))

		if r.events != nil {
			r.events.Emit(models.NewEvent(accountID, botID, models.EventDailyLimitReached, models.SeverityCritical, map[string]interface{}{
				"daily_pnl": total,
				"limit":     -r.cfg.DailyLossLimit,
				"action":    RiskEmergencyFlatten.String(),
			}))
		}
		return RiskEmergencyFlatten
	}

	if r.cfg.DailyProfitTarget > 0 && total >= r.cfg.DailyProfitTarget {
		r.log.Info("daily profit target reached",
			utils.PNL(total),
			utils.Float64("target", r.cfg.DailyProfitTarget))

		if r.events != nil {
			r.events.Emit(models.NewEvent(accountID, botID, models.EventDailyLimitReached, models.SeverityInfo, map[string]interface{}{
				"daily_pnl": total,
				"target":    r.cfg.DailyProfitTarget,
				"action":    RiskStopOpening.String(),
			}))
		}
		return RiskStopOpening
	}

	return RiskAllow
}

// CheckExposure пишет предупреждение при превышении суммарного объёма.
// Предупреждение одно на день, не на каждый тик.
func (r *RiskManager) CheckExposure(accountID, botID string, totalVolume float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rollDayLocked()

	if r.cfg.MaxExposure <= 0 || totalVolume < r.cfg.MaxExposure || r.exposureWarned {
		return
	}
	r.exposureWarned = true

	r.log.Warn("total exposure above configured maximum",
		utils.Volume(totalVolume),
		utils.Float64("max_exposure", r.cfg.MaxExposure))

	if r.events != nil {
		r.events.Emit(models.NewEvent(accountID, botID, models.EventHighExposure, models.SeverityWarn, map[string]interface{}{
			"total_volume": totalVolume,
			"max_exposure": r.cfg.MaxExposure,
		}))
	}
}

// rollDayLocked обнуляет дневной аккумулятор на границе дня
func (r *RiskManager) rollDayLocked() {
	today := utils.GetDayStartFrom(r.now())
	if r.dayStart.Equal(today) {
		return
	}
	r.dayStart = today
	r.realized = 0
	r.halted = false
	r.haltCause = ""
	r.exposureWarned = false
	DailyRealizedPnl.Set(0)
	StrategyHalted.Set(0)
}
