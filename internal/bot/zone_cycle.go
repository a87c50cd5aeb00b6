package bot

import (
	"context"
	"fmt"
	"time"

	"cycletrader/internal/broker"
	"cycletrader/internal/models"
	"cycletrader/pkg/retry"
	"cycletrader/pkg/utils"
)

// CycleHandler - общий контракт обработчиков цикла.
// Две реализации: ZoneCycle (зонная стратегия) и MartingaleCycle
// (мартингейл-лестница). Tick никогда не вызывается конкурентно
// для одного цикла.
type CycleHandler interface {
	Tick(ctx context.Context) error
	Close(ctx context.Context, closing models.ClosingMethod) error
	Model() *models.Cycle
}

// CycleConfig - неизменяемый снимок настроек на один тик.
// Меняется только через команды, обработчики его не мутируют.
type CycleConfig struct {
	Symbol  string
	BaseLot float64

	// Зонная стратегия
	Zones         []float64 // размер зоны в пипсах по индексу зоны
	TakeProfit    float64   // целевая прибыль цикла в валюте счёта
	RecoveryLot   float64   // 0 = не открывать recovery-ордер при пробое
	ThresholdStep float64   // шаг пороговых ордеров в пипсах
	AddAllToPNL   bool      // учитывать ли неисполнившиеся закрытые ноги

	// Мартингейл-лестница
	HedgeDistance       float64   // расстояние между уровнями в пипсах
	LotSizes            []float64 // прогрессия лотов по уровням
	MaxLevels           int
	ActivationThreshold float64 // просадка, начиная с которой активируются уровни
	MaxDrawdown         float64 // аварийное закрытие цикла

	Slippage int
	Magic    int64
}

// CycleDeps - зависимости обработчика цикла
type CycleDeps struct {
	Broker broker.Broker
	Orders OrderStore
	Cycles CycleStore
	Events EventSink
	Log    *utils.Logger
}

// ============================================================
// Зонный цикл
// ============================================================

// ZoneCycle реализует зонную стратегию: цикл живёт внутри ценовой
// зоны, пробой границы хеджируется ордером, выравнивающим нетто-
// экспозицию, зона пересчитывается от цены хеджа.
type ZoneCycle struct {
	cycle *models.Cycle
	cfg   CycleConfig
	deps  CycleDeps
	pip   float64
	log   *utils.Logger
}

// NewZoneCycle оборачивает существующий цикл обработчиком
func NewZoneCycle(cycle *models.Cycle, cfg CycleConfig, pip float64, deps CycleDeps) *ZoneCycle {
	log := deps.Log
	if log == nil {
		log = utils.GetGlobalLogger()
	}
	return &ZoneCycle{
		cycle: cycle,
		cfg:   cfg,
		deps:  deps,
		pip:   pip,
		log:   log.WithComponent("zone_cycle").With(utils.CycleID(cycle.ID), utils.Symbol(cycle.Symbol)),
	}
}

// OpenZoneCycle открывает новый зонный цикл: рыночный ордер по
// направлению, для BUY&SELL дополнительно отложенная нога на
// противоположной стороне. Границы зоны считаются от цены входа.
func OpenZoneCycle(ctx context.Context, accountID, botID string, cycleType string, cfg CycleConfig, deps CycleDeps, openedBy models.OpenedBy) (*ZoneCycle, error) {
	pip, err := deps.Broker.Pip(ctx, cfg.Symbol)
	if err != nil {
		return nil, fmt.Errorf("open cycle: %w", err)
	}

	direction := models.SideBuy
	if cycleType == models.CycleTypeSell {
		direction = models.SideSell
	}

	req := broker.OrderRequest{
		Symbol:   cfg.Symbol,
		Volume:   cfg.BaseLot,
		Slippage: cfg.Slippage,
		Magic:    cfg.Magic,
		Comment:  "zone initial",
	}

	var result *broker.OrderResult
	if direction == models.SideBuy {
		result, err = deps.Broker.Buy(ctx, req)
	} else {
		result, err = deps.Broker.Sell(ctx, req)
	}
	if err != nil {
		return nil, fmt.Errorf("open cycle: initial order: %w", err)
	}

	zoneSize := zoneSizeFor(cfg.Zones, 0) * pip
	cycle := &models.Cycle{
		AccountID:  accountID,
		BotID:      botID,
		Symbol:     cfg.Symbol,
		Type:       cycleType,
		Status:     models.StatusInitial,
		Direction:  direction,
		EntryPrice: result.Price,
		LowerBound: result.Price - zoneSize,
		UpperBound: result.Price + zoneSize,
		OpenedBy:   openedBy,
	}
	if cfg.ThresholdStep > 0 {
		cycle.ThresholdUpper = result.Price + cfg.ThresholdStep*pip
		cycle.ThresholdLower = result.Price - cfg.ThresholdStep*pip
	}
	cycle.AddOrder(result.Ticket, models.RoleInitial)

	order := &models.Order{
		Ticket:    result.Ticket,
		AccountID: accountID,
		Symbol:    cfg.Symbol,
		Side:      direction,
		Role:      models.RoleInitial,
		Volume:    result.Volume,
		OpenPrice: result.Price,
		Magic:     cfg.Magic,
		OpenedAt:  time.Now(),
	}

	// Вторая нога BUY&SELL: стоп-ордер на противоположной стороне
	// границы зоны. Исполнится только при движении против первой ноги.
	if cycleType == models.CycleTypeBuySell {
		pendingReq := req
		pendingReq.Comment = "zone pending leg"
		var pending *broker.OrderResult
		if direction == models.SideBuy {
			pendingReq.Price = cycle.LowerBound
			pending, err = deps.Broker.SellStop(ctx, pendingReq)
		} else {
			pendingReq.Price = cycle.UpperBound
			pending, err = deps.Broker.BuyStop(ctx, pendingReq)
		}
		if err != nil {
			return nil, fmt.Errorf("open cycle: pending leg: %w", err)
		}
		cycle.AddOrder(pending.Ticket, models.RolePending)
	}

	if err := deps.Cycles.Create(cycle); err != nil {
		return nil, fmt.Errorf("open cycle: persist: %w", err)
	}
	order.CycleID = cycle.ID
	if err := deps.Orders.Create(order); err != nil {
		return nil, fmt.Errorf("open cycle: persist order: %w", err)
	}
	emitOrderCreated(deps.Events, accountID, botID, cycle.ID, order)
	if cycleType == models.CycleTypeBuySell && len(cycle.Pending) > 0 {
		pendingOrder := &models.Order{
			Ticket:    cycle.Pending[0],
			CycleID:   cycle.ID,
			AccountID: accountID,
			Symbol:    cfg.Symbol,
			Side:      models.OppositeSide(direction),
			Role:      models.RolePending,
			Volume:    cfg.BaseLot,
			IsPending: true,
			Magic:     cfg.Magic,
			OpenedAt:  time.Now(),
		}
		if err := deps.Orders.Create(pendingOrder); err != nil {
			return nil, fmt.Errorf("open cycle: persist pending leg: %w", err)
		}
		emitOrderCreated(deps.Events, accountID, botID, cycle.ID, pendingOrder)
	}

	if deps.Events != nil {
		deps.Events.Emit(models.NewEvent(accountID, botID, models.EventCycleCreated, models.SeverityInfo, map[string]interface{}{
			"symbol":      cfg.Symbol,
			"cycle_type":  cycleType,
			"entry_price": cycle.EntryPrice,
			"lower_bound": cycle.LowerBound,
			"upper_bound": cycle.UpperBound,
		}).WithCycle(cycle.ID))
	}

	return NewZoneCycle(cycle, cfg, pip, deps), nil
}

// Model возвращает модель цикла
func (z *ZoneCycle) Model() *models.Cycle { return z.cycle }

// Tick выполняет один шаг зонной машины состояний.
// Любая ошибка брокера оставляет цикл в статусе до перехода,
// следующий тик повторит ту же проверку границы.
func (z *ZoneCycle) Tick(ctx context.Context) error {
	if z.cycle.IsClosed {
		return nil
	}

	quote, err := z.deps.Broker.Quote(ctx, z.cycle.Symbol)
	if err != nil {
		return fmt.Errorf("tick: quote: %w", err)
	}

	orders, err := z.deps.Orders.GetByCycle(z.cycle.ID)
	if err != nil {
		return fmt.Errorf("tick: load orders: %w", err)
	}
	open, closed := splitOrders(orders)

	z.repositionThresholds(open)

	if err := z.handleBoundaryBreak(ctx, quote, open); err != nil {
		return err
	}
	if err := z.handleDirectionFlip(ctx, quote, open); err != nil {
		return err
	}
	if err := z.handleThresholdExpansion(ctx, quote); err != nil {
		return err
	}
	if err := z.consolidateLonePending(ctx, open, closed); err != nil {
		return err
	}

	return z.checkClosure(ctx, open, closed)
}

// repositionThresholds пересчитывает пороговые цены по максимальному
// покрытому отклонению. Пороги двигаются только наружу.
func (z *ZoneCycle) repositionThresholds(open []*models.Order) {
	if z.cfg.ThresholdStep <= 0 {
		return
	}
	step := z.cfg.ThresholdStep * z.pip

	for _, o := range open {
		role := z.cycle.RoleOf(o.Ticket)
		if role != models.RoleInitial && role != models.RoleThreshold {
			continue
		}
		if o.OpenPrice > z.cycle.EntryPrice {
			if candidate := o.OpenPrice + step; candidate > z.cycle.ThresholdUpper {
				z.cycle.ThresholdUpper = candidate
			}
		} else if o.OpenPrice < z.cycle.EntryPrice {
			if candidate := o.OpenPrice - step; candidate < z.cycle.ThresholdLower {
				z.cycle.ThresholdLower = candidate
			}
		}
	}
}

// handleBoundaryBreak обрабатывает пробой границы из статуса initial.
// Пробой вверх проверяется по ask, вниз по bid. Закрываются
// инициирующие ордера стороны пробоя (они в прибыли), хедж
// выравнивает оставшуюся противоположную сторону.
func (z *ZoneCycle) handleBoundaryBreak(ctx context.Context, quote *broker.Quote, open []*models.Order) error {
	if z.cycle.Status != models.StatusInitial {
		return nil
	}

	var breakSide string
	switch {
	case quote.Ask > z.cycle.UpperBound:
		breakSide = models.SideBuy
	case quote.Bid < z.cycle.LowerBound:
		breakSide = models.SideSell
	default:
		return nil
	}

	// Одноногий цикл ничего не закрывает: фиксация стороны пробоя
	// имеет смысл только у двухногой пары
	initials := 0
	for _, o := range open {
		if !o.IsPending && z.cycle.RoleOf(o.Ticket) == models.RoleInitial {
			initials++
		}
	}

	remaining := make([]*models.Order, 0, len(open))
	for _, o := range open {
		if initials > 1 && o.Side == breakSide && z.cycle.RoleOf(o.Ticket) == models.RoleInitial && !o.IsPending {
			if err := z.closeOrder(ctx, o); err != nil {
				return fmt.Errorf("boundary break: close initial: %w", err)
			}
			continue
		}
		remaining = append(remaining, o)
	}

	// Хедж нужен, только если проигравшая сторона ещё открыта
	if !hasOpenSide(remaining, models.OppositeSide(breakSide)) {
		return nil
	}

	return z.rehedge(ctx, breakSide)
}

// handleDirectionFlip перехеджирует цикл при обратном пробое границы.
// Повторный пробой в ту же сторону игнорируется: последний хедж уже
// смотрит в нужном направлении. Прибыльный последний хедж тоже не
// перекрывается, цикл закроется по цели.
func (z *ZoneCycle) handleDirectionFlip(ctx context.Context, quote *broker.Quote, open []*models.Order) error {
	if !IsRecovering(z.cycle.Status) {
		return nil
	}

	var newSide string
	switch {
	case quote.Ask > z.cycle.UpperBound:
		newSide = models.SideBuy
	case quote.Bid < z.cycle.LowerBound:
		newSide = models.SideSell
	default:
		return nil
	}

	last := lastHedge(open, z.cycle)
	if last == nil || last.Side == newSide || last.NetProfit() >= 0 {
		return nil
	}

	// Закрываем recovery-ордера прошлого направления
	for _, o := range open {
		if z.cycle.RoleOf(o.Ticket) != models.RoleRecovery {
			continue
		}
		if err := z.closeOrder(ctx, o); err != nil {
			return fmt.Errorf("direction flip: close recovery: %w", err)
		}
	}

	return z.rehedge(ctx, newSide)
}

// rehedge открывает хедж, выравнивающий нетто-экспозицию, двигает
// индекс зоны и пересчитывает границы от цены нового хеджа
func (z *ZoneCycle) rehedge(ctx context.Context, side string) error {
	orders, err := z.deps.Orders.GetByCycle(z.cycle.ID)
	if err != nil {
		return fmt.Errorf("rehedge: load orders: %w", err)
	}
	open, _ := splitOrders(orders)

	buyLots, sellLots := lotsBySide(open)
	hedgeLot := utils.Abs(buyLots - sellLots)
	if hedgeLot < 0.01 {
		hedgeLot = z.cfg.BaseLot
	}

	req := broker.OrderRequest{
		Symbol:   z.cycle.Symbol,
		Volume:   hedgeLot,
		Slippage: z.cfg.Slippage,
		Magic:    z.cfg.Magic,
		Comment:  "zone hedge",
	}

	var result *broker.OrderResult
	if side == models.SideBuy {
		result, err = z.deps.Broker.Buy(ctx, req)
	} else {
		result, err = z.deps.Broker.Sell(ctx, req)
	}
	if err != nil {
		return fmt.Errorf("rehedge: open hedge: %w", err)
	}

	z.cycle.AddOrder(result.Ticket, models.RoleHedge)
	hedgeOrder := &models.Order{
		Ticket:    result.Ticket,
		CycleID:   z.cycle.ID,
		AccountID: z.cycle.AccountID,
		Symbol:    z.cycle.Symbol,
		Side:      side,
		Role:      models.RoleHedge,
		Volume:    result.Volume,
		OpenPrice: result.Price,
		Magic:     z.cfg.Magic,
		OpenedAt:  time.Now(),
	}
	if err := z.deps.Orders.Create(hedgeOrder); err != nil {
		return fmt.Errorf("rehedge: persist hedge: %w", err)
	}
	emitOrderCreated(z.deps.Events, z.cycle.AccountID, z.cycle.BotID, z.cycle.ID, hedgeOrder)

	// Дополнительный recovery-ордер фиксированным лотом
	if z.cfg.RecoveryLot > 0 {
		recReq := req
		recReq.Volume = z.cfg.RecoveryLot
		recReq.Comment = "zone recovery"
		var rec *broker.OrderResult
		if side == models.SideBuy {
			rec, err = z.deps.Broker.Buy(ctx, recReq)
		} else {
			rec, err = z.deps.Broker.Sell(ctx, recReq)
		}
		if err != nil {
			return fmt.Errorf("rehedge: open recovery: %w", err)
		}
		z.cycle.AddOrder(rec.Ticket, models.RoleRecovery)
		recOrder := &models.Order{
			Ticket:    rec.Ticket,
			CycleID:   z.cycle.ID,
			AccountID: z.cycle.AccountID,
			Symbol:    z.cycle.Symbol,
			Side:      side,
			Role:      models.RoleRecovery,
			Volume:    rec.Volume,
			OpenPrice: rec.Price,
			Magic:     z.cfg.Magic,
			OpenedAt:  time.Now(),
		}
		if err := z.deps.Orders.Create(recOrder); err != nil {
			return fmt.Errorf("rehedge: persist recovery: %w", err)
		}
		emitOrderCreated(z.deps.Events, z.cycle.AccountID, z.cycle.BotID, z.cycle.ID, recOrder)
	}

	// Индекс зоны растёт до последней зоны, дальше цикл остаётся
	// в max_recovery с границами последней ширины
	z.cycle.ZoneIndex = utils.ClampIndex(z.cycle.ZoneIndex+1, len(z.cfg.Zones))
	zoneSize := zoneSizeFor(z.cfg.Zones, z.cycle.ZoneIndex) * z.pip
	z.cycle.LowerBound = result.Price - zoneSize
	z.cycle.UpperBound = result.Price + zoneSize
	z.cycle.Direction = side

	newStatus := models.StatusRecovery
	if len(z.cfg.Zones) > 0 && z.cycle.ZoneIndex == len(z.cfg.Zones)-1 {
		newStatus = models.StatusMaxRecovery
	}
	if CanTransition(z.cycle.Status, newStatus) {
		z.cycle.Status = newStatus
	}

	if err := z.deps.Cycles.Update(z.cycle); err != nil {
		return fmt.Errorf("rehedge: persist cycle: %w", err)
	}

	z.log.Info("cycle rehedged",
		utils.Side(side),
		utils.Volume(hedgeLot),
		utils.Price(result.Price),
		utils.Int("zone_index", z.cycle.ZoneIndex))

	if z.deps.Events != nil {
		z.deps.Events.Emit(models.NewEvent(z.cycle.AccountID, z.cycle.BotID, models.EventCycleUpdated, models.SeverityInfo, map[string]interface{}{
			"reason":      "rehedge",
			"side":        side,
			"hedge_lot":   hedgeLot,
			"zone_index":  z.cycle.ZoneIndex,
			"lower_bound": z.cycle.LowerBound,
			"upper_bound": z.cycle.UpperBound,
		}).WithCycle(z.cycle.ID))
	}
	return nil
}

// handleThresholdExpansion добавляет пороговый ордер базовым лотом
// и сдвигает порог наружу ещё на один шаг
func (z *ZoneCycle) handleThresholdExpansion(ctx context.Context, quote *broker.Quote) error {
	if z.cfg.ThresholdStep <= 0 || len(z.cycle.Hedge) == 0 {
		return nil
	}

	var side string
	switch {
	case z.cycle.ThresholdUpper > 0 && quote.Ask >= z.cycle.ThresholdUpper:
		side = models.SideBuy
	case z.cycle.ThresholdLower > 0 && quote.Bid <= z.cycle.ThresholdLower:
		side = models.SideSell
	default:
		return nil
	}

	req := broker.OrderRequest{
		Symbol:   z.cycle.Symbol,
		Volume:   z.cfg.BaseLot,
		Slippage: z.cfg.Slippage,
		Magic:    z.cfg.Magic,
		Comment:  "zone threshold",
	}

	var result *broker.OrderResult
	var err error
	if side == models.SideBuy {
		result, err = z.deps.Broker.Buy(ctx, req)
	} else {
		result, err = z.deps.Broker.Sell(ctx, req)
	}
	if err != nil {
		return fmt.Errorf("threshold expansion: %w", err)
	}

	z.cycle.AddOrder(result.Ticket, models.RoleThreshold)
	thresholdOrder := &models.Order{
		Ticket:    result.Ticket,
		CycleID:   z.cycle.ID,
		AccountID: z.cycle.AccountID,
		Symbol:    z.cycle.Symbol,
		Side:      side,
		Role:      models.RoleThreshold,
		Volume:    result.Volume,
		OpenPrice: result.Price,
		Magic:     z.cfg.Magic,
		OpenedAt:  time.Now(),
	}
	if err := z.deps.Orders.Create(thresholdOrder); err != nil {
		return fmt.Errorf("threshold expansion: persist: %w", err)
	}
	emitOrderCreated(z.deps.Events, z.cycle.AccountID, z.cycle.BotID, z.cycle.ID, thresholdOrder)

	step := z.cfg.ThresholdStep * z.pip
	if side == models.SideBuy {
		z.cycle.ThresholdUpper += step
	} else {
		z.cycle.ThresholdLower -= step
	}

	if err := z.deps.Cycles.Update(z.cycle); err != nil {
		return fmt.Errorf("threshold expansion: persist cycle: %w", err)
	}
	return nil
}

// consolidateLonePending превращает одинокую отложенную ногу
// BUY&SELL-пары в рыночный ордер той же стороны. Срабатывает только
// пока цикл ещё ничего не закрывал.
func (z *ZoneCycle) consolidateLonePending(ctx context.Context, open, closed []*models.Order) error {
	if len(open) != 1 || len(closed) != 0 || !open[0].IsPending {
		return nil
	}
	lone := open[0]

	if err := z.deps.Broker.CloseOrder(ctx, lone.Ticket); err != nil {
		return fmt.Errorf("consolidate: cancel pending: %w", err)
	}
	if err := z.deps.Orders.MarkClosed(lone.Ticket, 0, 0, 0); err != nil {
		return fmt.Errorf("consolidate: persist cancel: %w", err)
	}
	z.cycle.MoveToClosed(lone.Ticket)

	req := broker.OrderRequest{
		Symbol:   z.cycle.Symbol,
		Volume:   lone.Volume,
		Slippage: z.cfg.Slippage,
		Magic:    z.cfg.Magic,
		Comment:  "zone consolidated",
	}
	var result *broker.OrderResult
	var err error
	if lone.Side == models.SideBuy {
		result, err = z.deps.Broker.Buy(ctx, req)
	} else {
		result, err = z.deps.Broker.Sell(ctx, req)
	}
	if err != nil {
		return fmt.Errorf("consolidate: open market: %w", err)
	}

	z.cycle.AddOrder(result.Ticket, models.RoleInitial)
	z.cycle.Direction = lone.Side
	marketOrder := &models.Order{
		Ticket:    result.Ticket,
		CycleID:   z.cycle.ID,
		AccountID: z.cycle.AccountID,
		Symbol:    z.cycle.Symbol,
		Side:      lone.Side,
		Role:      models.RoleInitial,
		Volume:    result.Volume,
		OpenPrice: result.Price,
		Magic:     z.cfg.Magic,
		OpenedAt:  time.Now(),
	}
	if err := z.deps.Orders.Create(marketOrder); err != nil {
		return fmt.Errorf("consolidate: persist: %w", err)
	}
	emitOrderCreated(z.deps.Events, z.cycle.AccountID, z.cycle.BotID, z.cycle.ID, marketOrder)
	if err := z.deps.Cycles.Update(z.cycle); err != nil {
		return fmt.Errorf("consolidate: persist cycle: %w", err)
	}

	z.log.Info("lone pending leg consolidated to market order", utils.Ticket(result.Ticket))
	return nil
}

// checkClosure пересчитывает прибыль цикла и закрывает его при
// достижении целевой прибыли
func (z *ZoneCycle) checkClosure(ctx context.Context, open, closed []*models.Order) error {
	total := CycleProfit(open, closed, z.cfg.AddAllToPNL)
	volume := 0.0
	for _, o := range open {
		volume += o.Volume
	}

	if total != z.cycle.TotalProfit || volume != z.cycle.TotalVolume {
		z.cycle.TotalProfit = total
		z.cycle.TotalVolume = volume
		if err := z.deps.Cycles.UpdateAggregates(z.cycle.ID, total, volume); err != nil {
			return fmt.Errorf("closure check: persist aggregates: %w", err)
		}
	}

	if z.cfg.TakeProfit <= 0 || total < z.cfg.TakeProfit {
		return nil
	}

	return z.Close(ctx, models.ClosingMethod{Status: "MetaTrader5", Reason: "take_profit"})
}

// Close закрывает все открытые ордера цикла и помечает его закрытым
func (z *ZoneCycle) Close(ctx context.Context, closing models.ClosingMethod) error {
	orders, err := z.deps.Orders.GetByCycle(z.cycle.ID)
	if err != nil {
		return fmt.Errorf("close cycle: load orders: %w", err)
	}
	open, _ := splitOrders(orders)

	for _, o := range open {
		if err := z.closeOrder(ctx, o); err != nil {
			return fmt.Errorf("close cycle: %w", err)
		}
	}

	z.cycle.IsClosed = true
	z.cycle.Status = models.StatusClosed
	z.cycle.ClosingMethod = closing
	if err := z.deps.Cycles.MarkClosed(z.cycle.ID, closing); err != nil {
		return fmt.Errorf("close cycle: persist: %w", err)
	}

	z.log.Info("cycle closed",
		utils.PNL(z.cycle.TotalProfit),
		utils.String("reason", closing.Reason))

	if z.deps.Events != nil {
		z.deps.Events.Emit(models.NewEvent(z.cycle.AccountID, z.cycle.BotID, models.EventCycleClosed, models.SeverityInfo, map[string]interface{}{
			"total_profit": z.cycle.TotalProfit,
			"reason":       closing.Reason,
			"closed_by":    closing.Status,
		}).WithCycle(z.cycle.ID))
	}
	return nil
}

// closeOrder закрывает один ордер у брокера и в хранилище
func (z *ZoneCycle) closeOrder(ctx context.Context, o *models.Order) error {
	err := retryCloseOrder(ctx, z.deps.Broker, o.Ticket)
	if err != nil {
		return fmt.Errorf("close order %d: %w", o.Ticket, err)
	}

	if err := z.deps.Orders.MarkClosed(o.Ticket, o.Profit, o.Swap, o.Commission); err != nil {
		return fmt.Errorf("close order %d: persist: %w", o.Ticket, err)
	}
	z.cycle.MoveToClosed(o.Ticket)

	if z.deps.Events != nil {
		z.deps.Events.Emit(models.NewEvent(z.cycle.AccountID, z.cycle.BotID, models.EventOrderClosed, models.SeverityInfo, map[string]interface{}{
			"ticket": o.Ticket,
			"profit": o.NetProfit(),
		}).WithCycle(z.cycle.ID))
	}
	return nil
}

// ============================================================
// Общие помощники обработчиков
// ============================================================

// CycleProfit считает прибыль цикла как чистую функцию набора ордеров.
// Закрытые отложенные ноги, которые так и не исполнились, учитываются
// только при addAll=true.
func CycleProfit(open, closed []*models.Order, addAll bool) float64 {
	total := 0.0
	for _, o := range open {
		if o.IsPending {
			continue
		}
		total += o.NetProfit()
	}
	for _, o := range closed {
		if !addAll && o.Role == models.RolePending {
			continue
		}
		total += o.NetProfit()
	}
	return total
}

// emitOrderCreated публикует событие о новом ордере цикла
func emitOrderCreated(events EventSink, accountID, botID string, cycleID int64, o *models.Order) {
	if events == nil {
		return
	}
	events.Emit(models.NewEvent(accountID, botID, models.EventOrderCreated, models.SeverityInfo, map[string]interface{}{
		"ticket": o.Ticket,
		"side":   o.Side,
		"role":   o.Role,
		"volume": o.Volume,
	}).WithCycle(cycleID))
}

func splitOrders(orders []*models.Order) (open, closed []*models.Order) {
	for _, o := range orders {
		if o.IsClosed {
			closed = append(closed, o)
		} else {
			open = append(open, o)
		}
	}
	return open, closed
}

func lotsBySide(open []*models.Order) (buyLots, sellLots float64) {
	for _, o := range open {
		if o.IsPending {
			continue
		}
		if o.Side == models.SideBuy {
			buyLots += o.Volume
		} else {
			sellLots += o.Volume
		}
	}
	return buyLots, sellLots
}

func hasOpenSide(open []*models.Order, side string) bool {
	for _, o := range open {
		if !o.IsPending && o.Side == side {
			return true
		}
	}
	return false
}

// lastHedge возвращает последний открытый хедж-ордер цикла
func lastHedge(open []*models.Order, cycle *models.Cycle) *models.Order {
	if len(cycle.Hedge) == 0 {
		return nil
	}
	lastTicket := cycle.Hedge[len(cycle.Hedge)-1]
	for _, o := range open {
		if o.Ticket == lastTicket {
			return o
		}
	}
	return nil
}

func zoneSizeFor(zones []float64, index int) float64 {
	if len(zones) == 0 {
		return 0
	}
	return zones[utils.ClampIndex(index, len(zones))]
}

// retryCloseOrder закрывает ордер с повторами на временных ошибках
func retryCloseOrder(ctx context.Context, b broker.Broker, ticket int64) error {
	cfg := retry.DefaultConfig()
	cfg.RetryIf = retry.IsRetryable
	return retry.Do(ctx, func() error {
		return b.CloseOrder(ctx, ticket)
	}, cfg)
}
