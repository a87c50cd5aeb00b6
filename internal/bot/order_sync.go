package bot

import (
	"context"
	"sync/atomic"
	"time"

	"cycletrader/internal/broker"
	"cycletrader/internal/models"
	"cycletrader/pkg/utils"
)

// profitEpsilon - минимальное изменение прибыли, которое пишется
// в хранилище. Более мелкие колебания не стоят записи.
const profitEpsilon = 0.01

// OrderSyncConfig настройки цикла сверки ордеров
type OrderSyncConfig struct {
	AccountID   string
	BotID       string
	Interval    time.Duration // default: 500ms
	AddAllToPNL bool          // то же значение, что у обработчиков циклов
}

// OrderSynchronizer сверяет ордера хранилища с правдой брокера.
//
// Подозрительный тикет (есть в хранилище, нет в снимке брокера)
// не считается закрытым по одному снимку: API может на мгновение
// не вернуть тикет. Закрытие подтверждается вторым явным запросом,
// итоговая прибыль берётся из истории сделок.
type OrderSynchronizer struct {
	cfg    OrderSyncConfig
	broker broker.Broker
	orders OrderStore
	cycles CycleStore
	events EventSink
	log    *utils.Logger

	// Статистика для /api/status
	passes     int64
	updated    int64
	closed     int64
	suspicious int64
	errors     int64
}

// NewOrderSynchronizer создаёт цикл сверки ордеров
func NewOrderSynchronizer(cfg OrderSyncConfig, b broker.Broker, orders OrderStore, cycles CycleStore, events EventSink, log *utils.Logger) *OrderSynchronizer {
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}
	if log == nil {
		log = utils.GetGlobalLogger()
	}
	return &OrderSynchronizer{
		cfg:    cfg,
		broker: b,
		orders: orders,
		cycles: cycles,
		events: events,
		log:    log.WithComponent("order_sync").WithAccount(cfg.AccountID),
	}
}

// Run крутит цикл сверки до отмены контекста. Ошибки итерации
// логируются и не останавливают следующие итерации.
func (s *OrderSynchronizer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.log.Info("order synchronizer started", utils.Dur("interval", s.cfg.Interval))

	for {
		select {
		case <-ctx.Done():
			s.log.Info("order synchronizer stopped")
			return
		case <-ticker.C:
			if err := s.SyncOnce(ctx); err != nil {
				atomic.AddInt64(&s.errors, 1)
				s.log.Warn("order sync pass failed", utils.Err(err))
			}
		}
	}
}

// brokerSnapshot - состояние тикета по версии брокера
type brokerSnapshot struct {
	price      float64
	profit     float64
	swap       float64
	commission float64
	isPending  bool
	openPrice  float64
}

// SyncOnce выполняет один проход сверки
func (s *OrderSynchronizer) SyncOnce(ctx context.Context) error {
	atomic.AddInt64(&s.passes, 1)

	positions, err := s.broker.ListPositions(ctx)
	if err != nil {
		return err
	}
	pendings, err := s.broker.ListPendingOrders(ctx)
	if err != nil {
		return err
	}

	snapshots := make(map[int64]brokerSnapshot, len(positions)+len(pendings))
	for _, p := range positions {
		snapshots[p.Ticket] = brokerSnapshot{
			price:      p.CurrentPrice,
			profit:     p.Profit,
			swap:       p.Swap,
			commission: p.Commission,
			openPrice:  p.OpenPrice,
		}
	}
	for _, p := range pendings {
		snapshots[p.Ticket] = brokerSnapshot{
			price:     p.Price,
			isPending: true,
			openPrice: p.Price,
		}
	}

	stored, err := s.orders.GetOpen(s.cfg.AccountID)
	if err != nil {
		return err
	}

	for _, order := range stored {
		snap, present := snapshots[order.Ticket]
		if !present {
			s.resolveSuspicious(ctx, order)
			continue
		}

		// Отложенный ордер появился среди позиций: нога исполнилась
		if order.IsPending && !snap.isPending {
			if err := s.orders.MarkFilled(order.Ticket, snap.openPrice); err != nil {
				atomic.AddInt64(&s.errors, 1)
				s.log.Warn("mark filled failed", utils.Ticket(order.Ticket), utils.Err(err))
				continue
			}
			s.log.Info("pending order filled", utils.Ticket(order.Ticket), utils.Price(snap.openPrice))
		}

		if utils.Abs(snap.profit-order.Profit) >= profitEpsilon ||
			utils.Abs(snap.swap-order.Swap) >= profitEpsilon ||
			utils.Abs(snap.commission-order.Commission) >= profitEpsilon {
			if err := s.orders.UpdateQuote(order.Ticket, snap.price, snap.profit, snap.swap, snap.commission); err != nil {
				atomic.AddInt64(&s.errors, 1)
				s.log.Warn("quote update failed", utils.Ticket(order.Ticket), utils.Err(err))
				continue
			}
			atomic.AddInt64(&s.updated, 1)
			if s.events != nil && order.CycleID != 0 {
				s.events.Emit(models.NewEvent(s.cfg.AccountID, s.cfg.BotID, models.EventCycleUpdated, models.SeverityInfo, map[string]interface{}{
					"ticket":       order.Ticket,
					"profit":       snap.profit,
					"profit_delta": snap.profit - order.Profit,
				}).WithCycle(order.CycleID))
			}
		}
	}

	return nil
}

// resolveSuspicious выполняет двухфазную проверку тикета, которого
// нет в снимке брокера. Ордер помечается закрытым только если явный
// повторный запрос тоже считает его закрытым.
func (s *OrderSynchronizer) resolveSuspicious(ctx context.Context, order *models.Order) {
	atomic.AddInt64(&s.suspicious, 1)

	closed, err := s.broker.IsOrderClosed(ctx, order.Ticket)
	if err != nil {
		atomic.AddInt64(&s.errors, 1)
		s.log.Warn("suspicious order re-check failed", utils.Ticket(order.Ticket), utils.Err(err))
		return
	}
	if !closed {
		// Снимок был неполным, ордер жив. Не трогаем.
		s.log.Debug("suspicious order still open", utils.Ticket(order.Ticket))
		return
	}

	profit, swap, commission := order.Profit, order.Swap, order.Commission
	deals, err := s.broker.DealsForTicket(ctx, order.Ticket)
	if err != nil {
		atomic.AddInt64(&s.errors, 1)
		s.log.Warn("deal history fetch failed, keeping last known profit",
			utils.Ticket(order.Ticket), utils.Err(err))
	} else if len(deals) > 0 {
		profit, swap, commission = 0, 0, 0
		for _, d := range deals {
			profit += d.Profit
			swap += d.Swap
			commission += d.Commission
		}
	}

	if err := s.orders.MarkClosed(order.Ticket, profit, swap, commission); err != nil {
		atomic.AddInt64(&s.errors, 1)
		s.log.Warn("mark closed failed", utils.Ticket(order.Ticket), utils.Err(err))
		return
	}
	atomic.AddInt64(&s.closed, 1)

	s.log.Info("order closed on broker side",
		utils.Ticket(order.Ticket),
		utils.PNL(profit+swap+commission))

	if order.CycleID != 0 {
		s.recalculateCycle(order.CycleID, order.Ticket)
	}

	if s.events != nil {
		event := models.NewEvent(s.cfg.AccountID, s.cfg.BotID, models.EventOrderClosed, models.SeverityInfo, map[string]interface{}{
			"ticket": order.Ticket,
			"profit": profit + swap + commission,
		})
		if order.CycleID != 0 {
			event = event.WithCycle(order.CycleID)
		}
		s.events.Emit(event)
	}
}

// recalculateCycle переносит закрытый тикет в Closed и пересчитывает
// агрегаты родительского цикла от набора его ордеров
func (s *OrderSynchronizer) recalculateCycle(cycleID, ticket int64) {
	cycle, err := s.cycles.GetByID(cycleID)
	if err != nil {
		atomic.AddInt64(&s.errors, 1)
		s.log.Warn("cycle reload failed", utils.CycleID(cycleID), utils.Err(err))
		return
	}

	cycle.MoveToClosed(ticket)

	orders, err := s.orders.GetByCycle(cycleID)
	if err != nil {
		atomic.AddInt64(&s.errors, 1)
		s.log.Warn("cycle orders reload failed", utils.CycleID(cycleID), utils.Err(err))
		return
	}
	open, closed := splitOrders(orders)
	cycle.TotalProfit = CycleProfit(open, closed, s.cfg.AddAllToPNL)
	cycle.TotalVolume = 0
	for _, o := range open {
		cycle.TotalVolume += o.Volume
	}

	if err := s.cycles.Update(cycle); err != nil {
		atomic.AddInt64(&s.errors, 1)
		s.log.Warn("cycle update failed", utils.CycleID(cycleID), utils.Err(err))
	}
}

// Stats возвращает счётчики проходов для /api/status
func (s *OrderSynchronizer) Stats() map[string]int64 {
	return map[string]int64{
		"passes":     atomic.LoadInt64(&s.passes),
		"updated":    atomic.LoadInt64(&s.updated),
		"closed":     atomic.LoadInt64(&s.closed),
		"suspicious": atomic.LoadInt64(&s.suspicious),
		"errors":     atomic.LoadInt64(&s.errors),
	}
}
