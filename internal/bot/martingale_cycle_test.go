package bot

import (
	"context"
	"testing"

	"cycletrader/internal/models"
)

func ladderTestConfig() CycleConfig {
	return CycleConfig{
		Symbol:        "EURUSD",
		BaseLot:       0.01,
		HedgeDistance: 55,
		LotSizes:      []float64{0.02, 0.04, 0.08},
		MaxLevels:     3,
		TakeProfit:    20,
	}
}

func TestPrepareLevels_BuyDirection(t *testing.T) {
	levels := PrepareLevels(1.1000, models.SideBuy, 0.0001, ladderTestConfig())
	if len(levels) != 3 {
		t.Fatalf("уровней %d, ожидалось 3", len(levels))
	}

	// Триггеры уходят вниз шагом 55 пипсов, все уровни стороной,
	// противоположной входу
	expected := []struct {
		trigger float64
		side    string
		volume  float64
	}{
		{1.0945, models.SideSell, 0.02},
		{1.0890, models.SideSell, 0.04},
		{1.0835, models.SideSell, 0.08},
	}
	for i, want := range expected {
		lv := levels[i]
		if lv.Level != i+1 {
			t.Errorf("уровень[%d].Level = %d, ожидался %d", i, lv.Level, i+1)
		}
		if !almostEqual(lv.TriggerPrice, want.trigger) {
			t.Errorf("уровень[%d].TriggerPrice = %.4f, ожидался %.4f", i, lv.TriggerPrice, want.trigger)
		}
		if lv.Side != want.side {
			t.Errorf("уровень[%d].Side = %s, ожидался %s", i, lv.Side, want.side)
		}
		if !almostEqual(lv.Volume, want.volume) {
			t.Errorf("уровень[%d].Volume = %.2f, ожидался %.2f", i, lv.Volume, want.volume)
		}
		if lv.Activated {
			t.Errorf("уровень[%d] не должен быть активирован при подготовке", i)
		}
	}
}

func TestPrepareLevels_SellDirectionAndMartingaleFallback(t *testing.T) {
	cfg := ladderTestConfig()
	cfg.LotSizes = nil // без таблицы лоты удваиваются от базового

	levels := PrepareLevels(1.1000, models.SideSell, 0.0001, cfg)
	if len(levels) != 3 {
		t.Fatalf("уровней %d, ожидалось 3", len(levels))
	}

	// SELL-лестница уходит вверх, первый уровень buy
	if !almostEqual(levels[0].TriggerPrice, 1.1055) || levels[0].Side != models.SideBuy {
		t.Errorf("уровень[0] = %.4f/%s, ожидалось 1.1055/buy", levels[0].TriggerPrice, levels[0].Side)
	}

	// Прогрессия 0.01, 0.02, 0.04
	for i, want := range []float64{0.01, 0.02, 0.04} {
		if !almostEqual(levels[i].Volume, want) {
			t.Errorf("уровень[%d].Volume = %.2f, ожидался %.2f", i, levels[i].Volume, want)
		}
	}
}

func TestOpenMartingaleCycle(t *testing.T) {
	fb := newFakeBroker()
	fb.fillPrice = 1.1000
	deps, orders, _, sink := zoneTestDeps(fb)

	mc, err := OpenMartingaleCycle(context.Background(), "acc-1001", "bot-5", models.SideBuy, ladderTestConfig(), deps, models.OpenedBy{Status: "autotrade"})
	if err != nil {
		t.Fatalf("OpenMartingaleCycle: %v", err)
	}

	cycle := mc.Model()
	if cycle.Type != models.CycleTypeHedge {
		t.Errorf("type = %s, ожидался HEDGE", cycle.Type)
	}
	if len(cycle.HedgeLevels) != 3 {
		t.Errorf("уровней %d, ожидалось 3", len(cycle.HedgeLevels))
	}
	if len(cycle.Initial) != 1 {
		t.Fatalf("initial-тикетов %d, ожидался 1", len(cycle.Initial))
	}
	if _, err := orders.GetByTicket(cycle.Initial[0]); err != nil {
		t.Errorf("входной ордер не сохранён: %v", err)
	}
	if !sink.has(models.EventCycleCreated) {
		t.Error("событие CYCLE_CREATED не отправлено")
	}
}

func TestMartingaleCycle_LevelActivation(t *testing.T) {
	fb := newFakeBroker()
	fb.fillPrice = 1.1000
	deps, orders, _, sink := zoneTestDeps(fb)

	mc, err := OpenMartingaleCycle(context.Background(), "acc-1001", "bot-5", models.SideBuy, ladderTestConfig(), deps, models.OpenedBy{})
	if err != nil {
		t.Fatalf("OpenMartingaleCycle: %v", err)
	}
	cycle := mc.Model()

	// Цена ещё не дошла до первого триггера 1.0945
	fb.quote.Bid = 1.0950
	if err := mc.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if cycle.HedgeLevels[0].Activated {
		t.Fatal("уровень активирован до пересечения триггера")
	}

	// Триггер пересечён: активируется ровно один уровень
	fb.quote.Bid = 1.0940
	fb.fillPrice = 1.0940
	if err := mc.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	lv := cycle.HedgeLevels[0]
	if !lv.Activated || lv.Ticket == 0 {
		t.Fatalf("уровень 1 должен быть активирован с тикетом, got %+v", lv)
	}
	if cycle.HedgeLevels[1].Activated {
		t.Error("уровень 2 не должен активироваться в том же тике")
	}
	hedge, err := orders.GetByTicket(lv.Ticket)
	if err != nil {
		t.Fatalf("хедж-ордер уровня не сохранён: %v", err)
	}
	if hedge.Side != models.SideSell || hedge.Role != models.RoleHedge || !almostEqual(hedge.Volume, 0.02) {
		t.Errorf("хедж уровня: side=%s role=%s volume=%.2f", hedge.Side, hedge.Role, hedge.Volume)
	}
	if cycle.Status != models.StatusHedge {
		t.Errorf("status = %s, ожидался hedge", cycle.Status)
	}
	if !sink.has(models.EventHedgeLevelExecuted) {
		t.Error("событие HEDGE_LEVEL_EXECUTED не отправлено")
	}

	// Повторный тик на той же цене идемпотентен: уровень 1 уже
	// активирован, триггер уровня 2 (1.0890) не пересечён
	placed := len(fb.placed)
	if err := mc.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(fb.placed) != placed {
		t.Error("повторный тик активировал уровень второй раз")
	}
}

func TestMartingaleCycle_ActivationThresholdGate(t *testing.T) {
	fb := newFakeBroker()
	fb.fillPrice = 1.1000
	cfg := ladderTestConfig()
	cfg.ActivationThreshold = 50
	deps, orders, _, _ := zoneTestDeps(fb)

	mc, err := OpenMartingaleCycle(context.Background(), "acc-1001", "bot-5", models.SideBuy, cfg, deps, models.OpenedBy{})
	if err != nil {
		t.Fatalf("OpenMartingaleCycle: %v", err)
	}
	cycle := mc.Model()
	entry, _ := orders.GetByTicket(cycle.Initial[0])

	// Триггер пересечён, но просадка мельче порога: лестница не трогается
	entry.Profit = -20
	fb.quote.Bid = 1.0940
	fb.fillPrice = 1.0940
	if err := mc.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if cycle.HedgeLevels[0].Activated {
		t.Fatal("уровень не должен активироваться, пока просадка мельче порога")
	}

	// Просадка прошла порог активации: уровень 1 открывается
	entry.Profit = -60
	if err := mc.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if !cycle.HedgeLevels[0].Activated {
		t.Error("уровень 1 должен активироваться после достижения порога просадки")
	}
}

func TestMartingaleCycle_MaxDrawdownEmergencyClose(t *testing.T) {
	fb := newFakeBroker()
	fb.fillPrice = 1.1000
	cfg := ladderTestConfig()
	cfg.MaxDrawdown = 50
	deps, orders, _, sink := zoneTestDeps(fb)

	mc, err := OpenMartingaleCycle(context.Background(), "acc-1001", "bot-5", models.SideBuy, cfg, deps, models.OpenedBy{})
	if err != nil {
		t.Fatalf("OpenMartingaleCycle: %v", err)
	}
	cycle := mc.Model()

	entry, _ := orders.GetByTicket(cycle.Initial[0])
	entry.Profit = -75

	fb.quote.Bid = 1.0900
	if err := mc.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if !cycle.IsClosed {
		t.Fatal("цикл должен быть аварийно закрыт")
	}
	if cycle.ClosingMethod.Reason != "max_drawdown" {
		t.Errorf("reason = %s, ожидался max_drawdown", cycle.ClosingMethod.Reason)
	}
	if !sink.has(models.EventEmergencyClose) {
		t.Error("событие EMERGENCY_CLOSE не отправлено")
	}
}

func TestMartingaleCycle_TakeProfitClose(t *testing.T) {
	fb := newFakeBroker()
	fb.fillPrice = 1.1000
	deps, orders, cycles, _ := zoneTestDeps(fb)

	mc, err := OpenMartingaleCycle(context.Background(), "acc-1001", "bot-5", models.SideBuy, ladderTestConfig(), deps, models.OpenedBy{})
	if err != nil {
		t.Fatalf("OpenMartingaleCycle: %v", err)
	}
	cycle := mc.Model()

	entry, _ := orders.GetByTicket(cycle.Initial[0])
	entry.Profit = 25

	fb.quote.Bid = 1.1100
	if err := mc.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if !cycle.IsClosed || cycle.ClosingMethod.Reason != "take_profit" {
		t.Fatalf("цикл должен закрыться по цели: closed=%v reason=%s",
			cycle.IsClosed, cycle.ClosingMethod.Reason)
	}
	stored, _ := cycles.GetByID(cycle.ID)
	if !stored.IsClosed {
		t.Error("закрытие не сохранено в хранилище")
	}
}
