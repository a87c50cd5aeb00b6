package bot

import (
	"context"
	"fmt"
	"time"

	"cycletrader/internal/broker"
	"cycletrader/internal/models"
	"cycletrader/pkg/utils"
)

// MartingaleCycle реализует хедж-лестницу: при открытии цикла
// рассчитывается неизменяемая лестница уровней, тик активирует
// следующий пересечённый уровень. Активация идемпотентна: флаг
// Activated сохраняется до того, как следующий тик может
// сработать повторно.
type MartingaleCycle struct {
	cycle *models.Cycle
	cfg   CycleConfig
	deps  CycleDeps
	pip   float64
	log   *utils.Logger
}

// NewMartingaleCycle оборачивает существующий цикл обработчиком
func NewMartingaleCycle(cycle *models.Cycle, cfg CycleConfig, pip float64, deps CycleDeps) *MartingaleCycle {
	log := deps.Log
	if log == nil {
		log = utils.GetGlobalLogger()
	}
	return &MartingaleCycle{
		cycle: cycle,
		cfg:   cfg,
		deps:  deps,
		pip:   pip,
		log:   log.WithComponent("martingale_cycle").With(utils.CycleID(cycle.ID), utils.Symbol(cycle.Symbol)),
	}
}

// OpenMartingaleCycle открывает цикл-лестницу: рыночный ордер по
// направлению и заранее рассчитанные уровни хеджирования
func OpenMartingaleCycle(ctx context.Context, accountID, botID, direction string, cfg CycleConfig, deps CycleDeps, openedBy models.OpenedBy) (*MartingaleCycle, error) {
	pip, err := deps.Broker.Pip(ctx, cfg.Symbol)
	if err != nil {
		return nil, fmt.Errorf("open ladder cycle: %w", err)
	}

	req := broker.OrderRequest{
		Symbol:   cfg.Symbol,
		Volume:   cfg.BaseLot,
		Slippage: cfg.Slippage,
		Magic:    cfg.Magic,
		Comment:  "ladder entry",
	}

	var result *broker.OrderResult
	if direction == models.SideBuy {
		result, err = deps.Broker.Buy(ctx, req)
	} else {
		result, err = deps.Broker.Sell(ctx, req)
	}
	if err != nil {
		return nil, fmt.Errorf("open ladder cycle: entry order: %w", err)
	}

	cycle := &models.Cycle{
		AccountID:   accountID,
		BotID:       botID,
		Symbol:      cfg.Symbol,
		Type:        models.CycleTypeHedge,
		Status:      models.StatusInitial,
		Direction:   direction,
		EntryPrice:  result.Price,
		HedgeLevels: PrepareLevels(result.Price, direction, pip, cfg),
		OpenedBy:    openedBy,
	}
	cycle.AddOrder(result.Ticket, models.RoleInitial)

	if err := deps.Cycles.Create(cycle); err != nil {
		return nil, fmt.Errorf("open ladder cycle: persist: %w", err)
	}
	entryOrder := &models.Order{
		Ticket:    result.Ticket,
		CycleID:   cycle.ID,
		AccountID: accountID,
		Symbol:    cfg.Symbol,
		Side:      direction,
		Role:      models.RoleInitial,
		Volume:    result.Volume,
		OpenPrice: result.Price,
		Magic:     cfg.Magic,
		OpenedAt:  time.Now(),
	}
	if err := deps.Orders.Create(entryOrder); err != nil {
		return nil, fmt.Errorf("open ladder cycle: persist order: %w", err)
	}
	emitOrderCreated(deps.Events, accountID, botID, cycle.ID, entryOrder)

	if deps.Events != nil {
		deps.Events.Emit(models.NewEvent(accountID, botID, models.EventCycleCreated, models.SeverityInfo, map[string]interface{}{
			"symbol":      cfg.Symbol,
			"cycle_type":  models.CycleTypeHedge,
			"entry_price": cycle.EntryPrice,
			"levels":      len(cycle.HedgeLevels),
		}).WithCycle(cycle.ID))
	}

	return NewMartingaleCycle(cycle, cfg, pip, deps), nil
}

// PrepareLevels строит лестницу уровней: каждый уровень открывается
// стороной, противоположной входу (хедж BUY-цикла всегда SELL),
// триггеры уходят от цены входа против направления цикла с
// фиксированным шагом, лоты по таблице прогрессии (при пустой
// таблице удвоение от базового лота).
func PrepareLevels(entry float64, direction string, pip float64, cfg CycleConfig) []models.HedgeLevel {
	n := cfg.MaxLevels
	if n <= 0 {
		n = len(cfg.LotSizes)
	}
	if n <= 0 {
		return nil
	}

	distance := cfg.HedgeDistance * pip
	levels := make([]models.HedgeLevel, 0, n)
	side := models.OppositeSide(direction)

	for i := 1; i <= n; i++ {
		trigger := entry - float64(i)*distance
		if direction == models.SideSell {
			trigger = entry + float64(i)*distance
		}

		volume := 0.0
		if len(cfg.LotSizes) > 0 {
			volume = cfg.LotSizes[utils.ClampIndex(i-1, len(cfg.LotSizes))]
		} else {
			volume = utils.MartingaleVolume(cfg.BaseLot, i)
		}

		levels = append(levels, models.HedgeLevel{
			Level:        i,
			TriggerPrice: utils.NormalizePrice(trigger, 5),
			Side:         side,
			Volume:       volume,
		})
	}
	return levels
}

// Model возвращает модель цикла
func (m *MartingaleCycle) Model() *models.Cycle { return m.cycle }

// Tick выполняет один шаг лестницы
func (m *MartingaleCycle) Tick(ctx context.Context) error {
	if m.cycle.IsClosed {
		return nil
	}

	quote, err := m.deps.Broker.Quote(ctx, m.cycle.Symbol)
	if err != nil {
		return fmt.Errorf("ladder tick: quote: %w", err)
	}
	price := quote.Bid

	orders, err := m.deps.Orders.GetByCycle(m.cycle.ID)
	if err != nil {
		return fmt.Errorf("ladder tick: load orders: %w", err)
	}
	open, closed := splitOrders(orders)

	floating := CycleProfit(open, closed, m.cfg.AddAllToPNL)
	volume := 0.0
	for _, o := range open {
		volume += o.Volume
	}
	if floating != m.cycle.TotalProfit || volume != m.cycle.TotalVolume {
		m.cycle.TotalProfit = floating
		m.cycle.TotalVolume = volume
		if err := m.deps.Cycles.UpdateAggregates(m.cycle.ID, floating, volume); err != nil {
			return fmt.Errorf("ladder tick: persist aggregates: %w", err)
		}
	}

	// Аварийное закрытие по максимальной просадке
	if m.cfg.MaxDrawdown > 0 && floating <= -m.cfg.MaxDrawdown {
		if m.deps.Events != nil {
			m.deps.Events.Emit(models.NewEvent(m.cycle.AccountID, m.cycle.BotID, models.EventEmergencyClose, models.SeverityCritical, map[string]interface{}{
				"floating_loss": floating,
				"max_drawdown":  m.cfg.MaxDrawdown,
			}).WithCycle(m.cycle.ID))
		}
		return m.Close(ctx, models.ClosingMethod{Status: "MetaTrader5", Reason: "max_drawdown"})
	}

	// Прибыльное закрытие по цели
	if m.cfg.TakeProfit > 0 && floating >= m.cfg.TakeProfit {
		return m.Close(ctx, models.ClosingMethod{Status: "MetaTrader5", Reason: "take_profit"})
	}

	// Уровни активируются только после того, как просадка достигла
	// порога активации: пока убыток мельче, лестница не трогается
	if m.cfg.ActivationThreshold > 0 && -floating < m.cfg.ActivationThreshold {
		return nil
	}

	return m.activateNextLevel(ctx, price)
}

// activateNextLevel активирует первый неактивированный уровень,
// чей триггер пересечён текущей ценой. За тик активируется не
// больше одного уровня.
func (m *MartingaleCycle) activateNextLevel(ctx context.Context, price float64) error {
	for i := range m.cycle.HedgeLevels {
		level := &m.cycle.HedgeLevels[i]
		if level.Activated {
			continue
		}
		if !m.triggered(level.TriggerPrice, price) {
			return nil // уровни пересекаются строго по порядку
		}

		req := broker.OrderRequest{
			Symbol:   m.cycle.Symbol,
			Volume:   level.Volume,
			Slippage: m.cfg.Slippage,
			Magic:    m.cfg.Magic,
			Comment:  fmt.Sprintf("ladder level %d", level.Level),
		}

		var result *broker.OrderResult
		var err error
		if level.Side == models.SideBuy {
			result, err = m.deps.Broker.Buy(ctx, req)
		} else {
			result, err = m.deps.Broker.Sell(ctx, req)
		}
		if err != nil {
			return fmt.Errorf("ladder level %d: %w", level.Level, err)
		}

		level.Activated = true
		level.Ticket = result.Ticket
		m.cycle.AddOrder(result.Ticket, models.RoleHedge)

		// Сначала фиксируем активацию, потом всё остальное:
		// повторный тик не должен активировать уровень дважды
		if err := m.deps.Cycles.Update(m.cycle); err != nil {
			return fmt.Errorf("ladder level %d: persist cycle: %w", level.Level, err)
		}

		levelOrder := &models.Order{
			Ticket:    result.Ticket,
			CycleID:   m.cycle.ID,
			AccountID: m.cycle.AccountID,
			Symbol:    m.cycle.Symbol,
			Side:      level.Side,
			Role:      models.RoleHedge,
			Volume:    result.Volume,
			OpenPrice: result.Price,
			Magic:     m.cfg.Magic,
			OpenedAt:  time.Now(),
		}
		if err := m.deps.Orders.Create(levelOrder); err != nil {
			return fmt.Errorf("ladder level %d: persist order: %w", level.Level, err)
		}
		emitOrderCreated(m.deps.Events, m.cycle.AccountID, m.cycle.BotID, m.cycle.ID, levelOrder)

		m.log.Info("hedge level activated",
			utils.Int("level", level.Level),
			utils.Side(level.Side),
			utils.Volume(level.Volume),
			utils.Price(result.Price))

		if m.deps.Events != nil {
			m.deps.Events.Emit(models.NewEvent(m.cycle.AccountID, m.cycle.BotID, models.EventHedgeLevelExecuted, models.SeverityInfo, map[string]interface{}{
				"level":  level.Level,
				"side":   level.Side,
				"volume": level.Volume,
				"ticket": result.Ticket,
			}).WithCycle(m.cycle.ID))
		}

		if CanTransition(m.cycle.Status, models.StatusHedge) {
			m.cycle.Status = models.StatusHedge
		}
		return nil
	}
	return nil
}

// triggered сообщает, пересекла ли цена триггер уровня.
// Лестница BUY-цикла уходит вниз, SELL-цикла вверх.
func (m *MartingaleCycle) triggered(trigger, price float64) bool {
	if m.cycle.Direction == models.SideBuy {
		return price <= trigger
	}
	return price >= trigger
}

// Close закрывает все открытые ордера цикла и помечает его закрытым
func (m *MartingaleCycle) Close(ctx context.Context, closing models.ClosingMethod) error {
	orders, err := m.deps.Orders.GetByCycle(m.cycle.ID)
	if err != nil {
		return fmt.Errorf("close ladder cycle: load orders: %w", err)
	}
	open, _ := splitOrders(orders)

	for _, o := range open {
		if err := m.closeOrder(ctx, o); err != nil {
			return fmt.Errorf("close ladder cycle: %w", err)
		}
	}

	m.cycle.IsClosed = true
	m.cycle.Status = models.StatusClosed
	m.cycle.ClosingMethod = closing
	if err := m.deps.Cycles.MarkClosed(m.cycle.ID, closing); err != nil {
		return fmt.Errorf("close ladder cycle: persist: %w", err)
	}

	m.log.Info("ladder cycle closed",
		utils.PNL(m.cycle.TotalProfit),
		utils.String("reason", closing.Reason))

	if m.deps.Events != nil {
		m.deps.Events.Emit(models.NewEvent(m.cycle.AccountID, m.cycle.BotID, models.EventCycleClosed, models.SeverityInfo, map[string]interface{}{
			"total_profit": m.cycle.TotalProfit,
			"reason":       closing.Reason,
			"closed_by":    closing.Status,
		}).WithCycle(m.cycle.ID))
	}
	return nil
}

func (m *MartingaleCycle) closeOrder(ctx context.Context, o *models.Order) error {
	err := retryCloseOrder(ctx, m.deps.Broker, o.Ticket)
	if err != nil {
		return fmt.Errorf("close order %d: %w", o.Ticket, err)
	}
	if err := m.deps.Orders.MarkClosed(o.Ticket, o.Profit, o.Swap, o.Commission); err != nil {
		return fmt.Errorf("close order %d: persist: %w", o.Ticket, err)
	}
	m.cycle.MoveToClosed(o.Ticket)
	return nil
}
