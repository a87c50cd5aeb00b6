package bot

import (
	"context"
	"fmt"
	"time"

	"cycletrader/internal/models"
	"cycletrader/pkg/utils"
)

// Recovery восстанавливает состояние после перезапуска процесса.
//
// Функциональность:
// - Обнаружение открытых позиций и отложенных ордеров у брокера
// - Сопоставление найденных тикетов с циклами хранилища
// - Усыновление тикетов, известных хранилищу, но выпавших из циклов
// - Предупреждение о тикетах-сиротах, которых хранилище не знает
// - Опциональное автоматическое закрытие сирот (по умолчанию выключено)
type Recovery struct {
	accountID string
	botID     string
	deps      CycleDeps
	log       *utils.Logger

	// Закрывать ли ордера, не принадлежащие ни одному циклу.
	// Безопасное значение false: сироты только логируются.
	autoCloseOrphans bool
	timeout          time.Duration
}

// NewRecovery создаёт восстановление с безопасными настройками
func NewRecovery(accountID, botID string, deps CycleDeps) *Recovery {
	log := deps.Log
	if log == nil {
		log = utils.GetGlobalLogger()
	}
	return &Recovery{
		accountID: accountID,
		botID:     botID,
		deps:      deps,
		log:       log.WithComponent("recovery").WithAccount(accountID),
		timeout:   30 * time.Second,
	}
}

// WithAutoCloseOrphans включает автозакрытие ордеров-сирот
func (r *Recovery) WithAutoCloseOrphans() *Recovery {
	r.autoCloseOrphans = true
	return r
}

// Run выполняет однократное восстановление при старте
func (r *Recovery) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	positions, err := r.deps.Broker.ListPositions(ctx)
	if err != nil {
		return fmt.Errorf("recovery: list positions: %w", err)
	}
	pendings, err := r.deps.Broker.ListPendingOrders(ctx)
	if err != nil {
		return fmt.Errorf("recovery: list pending orders: %w", err)
	}

	if len(positions) == 0 && len(pendings) == 0 {
		r.log.Info("recovery: no broker-side orders found")
		return nil
	}

	r.log.Info("recovery: broker-side orders discovered",
		utils.Int("positions", len(positions)),
		utils.Int("pendings", len(pendings)))

	active, err := r.deps.Cycles.GetActive(r.accountID)
	if err != nil {
		return fmt.Errorf("recovery: load cycles: %w", err)
	}

	cycleByTicket := make(map[int64]*models.Cycle)
	for _, cycle := range active {
		for _, ticket := range cycle.AllTickets() {
			cycleByTicket[ticket] = cycle
		}
	}

	adopted, orphaned := 0, 0
	for _, p := range positions {
		if _, ok := cycleByTicket[p.Ticket]; ok {
			continue
		}
		if r.adoptTicket(ctx, p.Ticket, p.Symbol, active) {
			adopted++
			continue
		}
		orphaned++
		r.reportOrphan(ctx, p.Ticket, p.Symbol)
	}
	for _, p := range pendings {
		if _, ok := cycleByTicket[p.Ticket]; ok {
			continue
		}
		if r.adoptTicket(ctx, p.Ticket, p.Symbol, active) {
			adopted++
			continue
		}
		orphaned++
		r.reportOrphan(ctx, p.Ticket, p.Symbol)
	}

	r.log.Info("recovery finished",
		utils.Int("matched", len(cycleByTicket)),
		utils.Int("adopted", adopted),
		utils.Int("orphaned", orphaned))
	return nil
}

// adoptTicket возвращает тикет в ролевой список его цикла, если
// хранилище ордеров знает этот тикет
func (r *Recovery) adoptTicket(ctx context.Context, ticket int64, symbol string, active []*models.Cycle) bool {
	order, err := r.deps.Orders.GetByTicket(ticket)
	if err != nil || order.CycleID == 0 {
		return false
	}

	for _, cycle := range active {
		if cycle.ID != order.CycleID {
			continue
		}
		cycle.AddOrder(ticket, order.Role)
		if err := r.deps.Cycles.Update(cycle); err != nil {
			r.log.Warn("recovery: cycle update failed", utils.CycleID(cycle.ID), utils.Err(err))
			return false
		}
		r.log.Info("recovery: ticket adopted back into cycle",
			utils.Ticket(ticket), utils.CycleID(cycle.ID), utils.String("role", order.Role))
		return true
	}
	return false
}

// reportOrphan сообщает о тикете, не принадлежащем ни одному циклу
func (r *Recovery) reportOrphan(ctx context.Context, ticket int64, symbol string) {
	r.log.Warn("recovery: orphaned broker order",
		utils.Ticket(ticket), utils.Symbol(symbol))

	if r.deps.Events != nil {
		r.deps.Events.Emit(models.NewEvent(r.accountID, r.botID, models.EventHighExposure, models.SeverityWarn, map[string]interface{}{
			"reason": "orphaned_order",
			"ticket": ticket,
			"symbol": symbol,
		}))
	}

	if !r.autoCloseOrphans {
		return
	}
	if err := retryCloseOrder(ctx, r.deps.Broker, ticket); err != nil {
		r.log.Error("recovery: orphan close failed", utils.Ticket(ticket), utils.Err(err))
		return
	}
	r.log.Info("recovery: orphaned order closed", utils.Ticket(ticket))
}
