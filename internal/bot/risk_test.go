package bot

import (
	"testing"
	"time"

	"cycletrader/internal/models"
)

func newTestRisk(cfg RiskConfig) (*RiskManager, *captureSink, *time.Time) {
	sink := &captureSink{}
	r := NewRiskManager(cfg, sink, nil)
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	return r, sink, &now
}

func TestRiskManager_LossLimitHaltsUntilDayEnd(t *testing.T) {
	r, sink, now := newTestRisk(RiskConfig{DailyLossLimit: 500})

	if action := r.Evaluate("acc-1001", "bot-5", -100); action != RiskAllow {
		t.Fatalf("действие при малом убытке = %s, ожидалось allow", action)
	}

	// Плавающий убыток пробивает лимит
	if action := r.Evaluate("acc-1001", "bot-5", -600); action != RiskEmergencyFlatten {
		t.Fatal("пробой лимита должен требовать аварийного закрытия")
	}
	if !r.Halted() {
		t.Error("стратегия должна быть остановлена")
	}
	if r.CanOpen() {
		t.Error("открытие циклов должно быть запрещено")
	}
	if !sink.has(models.EventDailyLimitReached) {
		t.Error("событие DAILY_LIMIT_REACHED не отправлено")
	}

	// Остановка держится даже после возврата PnL в ноль
	if action := r.Evaluate("acc-1001", "bot-5", 0); action != RiskEmergencyFlatten {
		t.Error("остановка должна действовать до конца дня")
	}

	// Следующий торговый день снимает остановку
	*now = now.Add(24 * time.Hour)
	if r.Halted() {
		t.Error("новый день должен снять остановку")
	}
	if action := r.Evaluate("acc-1001", "bot-5", 0); action != RiskAllow {
		t.Error("новый день должен вернуть allow")
	}
}

func TestRiskManager_ProfitTargetStopsOpening(t *testing.T) {
	r, _, _ := newTestRisk(RiskConfig{DailyProfitTarget: 200})

	r.AddRealized(150)
	if !r.CanOpen() {
		t.Error("цель не достигнута, открытие должно быть разрешено")
	}

	if action := r.Evaluate("acc-1001", "bot-5", 60); action != RiskStopOpening {
		t.Error("достижение цели должно останавливать открытие")
	}

	r.AddRealized(60)
	if r.CanOpen() {
		t.Error("после достижения цели открытие запрещено")
	}
	if r.Halted() {
		t.Error("достижение цели не является аварийной остановкой")
	}
}

func TestRiskManager_DayRolloverResetsRealized(t *testing.T) {
	r, _, now := newTestRisk(RiskConfig{})

	r.AddRealized(120)
	if got := r.DailyPnL(); !almostEqual(got, 120) {
		t.Fatalf("daily pnl = %.0f, ожидалось 120", got)
	}

	*now = now.Add(24 * time.Hour)
	if got := r.DailyPnL(); !almostEqual(got, 0) {
		t.Errorf("daily pnl после смены дня = %.0f, ожидался 0", got)
	}
}

func TestRiskManager_ExposureWarnedOncePerDay(t *testing.T) {
	r, sink, now := newTestRisk(RiskConfig{MaxExposure: 1.0})

	r.CheckExposure("acc-1001", "bot-5", 1.5)
	r.CheckExposure("acc-1001", "bot-5", 2.0)

	warns := 0
	for _, e := range sink.events {
		if e.Type == models.EventHighExposure {
			warns++
		}
	}
	if warns != 1 {
		t.Errorf("предупреждений о превышении объёма %d, ожидалось 1", warns)
	}

	// Новый день разрешает новое предупреждение
	*now = now.Add(24 * time.Hour)
	r.CheckExposure("acc-1001", "bot-5", 1.5)
	warns = 0
	for _, e := range sink.events {
		if e.Type == models.EventHighExposure {
			warns++
		}
	}
	if warns != 2 {
		t.Errorf("предупреждений после смены дня %d, ожидалось 2", warns)
	}
}
