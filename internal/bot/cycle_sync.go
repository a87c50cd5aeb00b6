package bot

import (
	"context"
	"sync/atomic"
	"time"

	"cycletrader/internal/broker"
	"cycletrader/internal/models"
	"cycletrader/internal/remote"
	"cycletrader/pkg/utils"
)

// reopenWindow - окно, в котором закрытый цикл ещё проверяется
// на ложное закрытие
const reopenWindow = 24 * time.Hour

// CycleMirror - операции удалённого зеркала, нужные сверке.
// Реализуется remote.Client; nil отключает зеркалирование.
type CycleMirror interface {
	CreateCycle(ctx context.Context, payload remote.CyclePayload) (string, error)
	UpdateCycle(ctx context.Context, remoteID string, payload remote.CyclePayload) error
	ListActiveCycles(ctx context.Context, account string) ([]remote.RemoteCycle, error)
}

// CycleSyncConfig настройки цикла сверки циклов
type CycleSyncConfig struct {
	AccountID string
	BotID     string
	Interval  time.Duration // default: 5s
}

// CycleSynchronizer сверяет структуру циклов: хранилище ордеров
// авторитетно по существованию тикета, цикл авторитетен по
// структуре, зеркало по факту существования цикла. Расхождения
// чинятся заполнением пробелов, валидные ссылки не удаляются.
type CycleSynchronizer struct {
	cfg    CycleSyncConfig
	broker broker.Broker
	orders OrderStore
	cycles CycleStore
	mirror CycleMirror // nil = зеркалирование выключено
	events EventSink
	log    *utils.Logger

	passes   int64
	repaired int64
	reopened int64
	mirrored int64
	errors   int64
}

// NewCycleSynchronizer создаёт цикл сверки циклов
func NewCycleSynchronizer(cfg CycleSyncConfig, b broker.Broker, orders OrderStore, cycles CycleStore, mirror CycleMirror, events EventSink, log *utils.Logger) *CycleSynchronizer {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if log == nil {
		log = utils.GetGlobalLogger()
	}
	return &CycleSynchronizer{
		cfg:    cfg,
		broker: b,
		orders: orders,
		cycles: cycles,
		mirror: mirror,
		events: events,
		log:    log.WithComponent("cycle_sync").WithAccount(cfg.AccountID),
	}
}

// Run крутит цикл сверки до отмены контекста
func (s *CycleSynchronizer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.log.Info("cycle synchronizer started", utils.Dur("interval", s.cfg.Interval))

	for {
		select {
		case <-ctx.Done():
			s.log.Info("cycle synchronizer stopped")
			return
		case <-ticker.C:
			if err := s.SyncOnce(ctx); err != nil {
				atomic.AddInt64(&s.errors, 1)
				s.log.Warn("cycle sync pass failed", utils.Err(err))
			}
		}
	}
}

// SyncOnce выполняет один проход: целостность ролевых списков,
// самовосстановление ложных закрытий, зеркалирование
func (s *CycleSynchronizer) SyncOnce(ctx context.Context) error {
	atomic.AddInt64(&s.passes, 1)

	active, err := s.cycles.GetActive(s.cfg.AccountID)
	if err != nil {
		return err
	}

	for _, cycle := range active {
		if err := s.repairIntegrity(cycle); err != nil {
			atomic.AddInt64(&s.errors, 1)
			s.log.Warn("integrity repair failed", utils.CycleID(cycle.ID), utils.Err(err))
		}
	}

	if err := s.healFalseCloses(ctx); err != nil {
		atomic.AddInt64(&s.errors, 1)
		s.log.Warn("false-close healing failed", utils.Err(err))
	}

	if s.mirror != nil {
		if err := s.syncMirror(ctx, active); err != nil {
			atomic.AddInt64(&s.errors, 1)
			s.log.Warn("mirror sync failed", utils.Err(err))
		}
	}

	return nil
}

// repairIntegrity сводит ролевые списки цикла с хранилищем ордеров:
// тикеты без записи в хранилище выбрасываются, ордера цикла без
// места в списках возвращаются в список своей роли
func (s *CycleSynchronizer) repairIntegrity(cycle *models.Cycle) error {
	orders, err := s.orders.GetByCycle(cycle.ID)
	if err != nil {
		return err
	}

	known := make(map[int64]*models.Order, len(orders))
	for _, o := range orders {
		known[o.Ticket] = o
	}

	changed := false

	// Тикеты-сироты: числятся в цикле, отсутствуют в хранилище
	for _, ticket := range cycle.AllTickets() {
		if _, ok := known[ticket]; !ok {
			cycle.RemoveOrder(ticket)
			changed = true
			s.log.Warn("pruned orphaned ticket from cycle",
				utils.CycleID(cycle.ID), utils.Ticket(ticket))
		}
	}

	// Потерянные ордера: ссылаются на цикл, но не числятся в списках
	for ticket, order := range known {
		if cycle.HasTicket(ticket) {
			continue
		}
		if order.IsClosed {
			cycle.MoveToClosed(ticket)
		} else {
			cycle.AddOrder(ticket, order.Role)
		}
		changed = true
		s.log.Warn("re-attached order to cycle",
			utils.CycleID(cycle.ID), utils.Ticket(ticket), utils.String("role", order.Role))
	}

	if !changed {
		return nil
	}

	atomic.AddInt64(&s.repaired, 1)
	if err := s.cycles.Update(cycle); err != nil {
		return err
	}
	if s.events != nil {
		s.events.Emit(models.NewEvent(s.cfg.AccountID, s.cfg.BotID, models.EventCycleUpdated, models.SeverityWarn, map[string]interface{}{
			"reason": "integrity_repair",
		}).WithCycle(cycle.ID))
	}
	return nil
}

// healFalseCloses возвращает в работу циклы, закрытые недавно, чьи
// тикеты брокер всё ещё показывает открытыми. Ловит гонку между
// транзакцией закрытия цикла и поздним ордером брокера.
func (s *CycleSynchronizer) healFalseCloses(ctx context.Context) error {
	recent, err := s.cycles.GetClosedSince(s.cfg.AccountID, time.Now().Add(-reopenWindow))
	if err != nil {
		return err
	}
	if len(recent) == 0 {
		return nil
	}

	positions, err := s.broker.ListPositions(ctx)
	if err != nil {
		return err
	}
	pendings, err := s.broker.ListPendingOrders(ctx)
	if err != nil {
		return err
	}

	brokerOpen := make(map[int64]bool, len(positions)+len(pendings))
	for _, p := range positions {
		brokerOpen[p.Ticket] = true
	}
	for _, p := range pendings {
		brokerOpen[p.Ticket] = true
	}

	for _, cycle := range recent {
		alive := int64(0)
		for _, ticket := range cycle.AllTickets() {
			if brokerOpen[ticket] {
				alive = ticket
				break
			}
		}
		if alive == 0 {
			continue
		}

		if err := s.cycles.Reopen(cycle.ID); err != nil {
			atomic.AddInt64(&s.errors, 1)
			s.log.Warn("cycle reopen failed", utils.CycleID(cycle.ID), utils.Err(err))
			continue
		}
		atomic.AddInt64(&s.reopened, 1)

		s.log.Warn("falsely closed cycle reopened",
			utils.CycleID(cycle.ID), utils.Ticket(alive))

		if s.events != nil {
			s.events.Emit(models.NewEvent(s.cfg.AccountID, s.cfg.BotID, models.EventCycleReopened, models.SeverityWarn, map[string]interface{}{
				"alive_ticket": alive,
			}).WithCycle(cycle.ID))
		}
	}
	return nil
}

// syncMirror сводит локальные циклы с удалённым зеркалом. Зеркало
// авторитетно по существованию цикла, локальная копия по финансовым
// агрегатам (last-writer-wins только на агрегатах).
func (s *CycleSynchronizer) syncMirror(ctx context.Context, active []*models.Cycle) error {
	remoteCycles, err := s.mirror.ListActiveCycles(ctx, s.cfg.AccountID)
	if err != nil {
		return err
	}

	localByRemote := make(map[string]*models.Cycle, len(active))
	for _, c := range active {
		if c.RemoteID != "" {
			localByRemote[c.RemoteID] = c
		}
	}

	// Циклы, существующие только на зеркале, материализуются локально
	for _, rc := range remoteCycles {
		if rc.IsClosed {
			continue
		}
		if _, ok := localByRemote[rc.ID]; ok {
			continue
		}
		if _, err := s.cycles.GetByRemoteID(rc.ID); err == nil {
			continue
		}

		local := &models.Cycle{
			RemoteID:    rc.ID,
			AccountID:   s.cfg.AccountID,
			BotID:       s.cfg.BotID,
			Symbol:      rc.Symbol,
			Type:        rc.Type,
			Status:      rc.Status,
			Initial:     rc.Orders.Initial,
			Hedge:       rc.Orders.Hedge,
			Recovery:    rc.Orders.Recovery,
			Pending:     rc.Orders.Pending,
			Threshold:   rc.Orders.Threshold,
			MaxRecovery: rc.Orders.MaxRecovery,
			Closed:      rc.Orders.Closed,
			OpenedBy:    models.OpenedBy{Status: "mirror"},
		}
		if local.Status == "" {
			local.Status = models.StatusInitial
		}
		if err := s.cycles.Create(local); err != nil {
			atomic.AddInt64(&s.errors, 1)
			s.log.Warn("mirror cycle materialization failed",
				utils.String("remote_id", rc.ID), utils.Err(err))
			continue
		}
		atomic.AddInt64(&s.mirrored, 1)
		s.log.Info("materialized cycle from mirror",
			utils.CycleID(local.ID), utils.String("remote_id", rc.ID))
	}

	// Локальные агрегаты выталкиваются на зеркало
	for _, c := range active {
		payload := remote.PayloadFor(c)
		if c.RemoteID == "" {
			remoteID, err := s.mirror.CreateCycle(ctx, payload)
			if err != nil {
				atomic.AddInt64(&s.errors, 1)
				s.log.Warn("mirror create failed", utils.CycleID(c.ID), utils.Err(err))
				continue
			}
			if err := s.cycles.SetRemoteID(c.ID, remoteID); err != nil {
				atomic.AddInt64(&s.errors, 1)
				s.log.Warn("remote id persist failed", utils.CycleID(c.ID), utils.Err(err))
				continue
			}
			c.RemoteID = remoteID
			atomic.AddInt64(&s.mirrored, 1)
			continue
		}

		if err := s.mirror.UpdateCycle(ctx, c.RemoteID, payload); err != nil {
			atomic.AddInt64(&s.errors, 1)
			s.log.Warn("mirror update failed", utils.CycleID(c.ID), utils.Err(err))
			continue
		}
		atomic.AddInt64(&s.mirrored, 1)
	}

	return nil
}

// Stats возвращает счётчики проходов для /api/status
func (s *CycleSynchronizer) Stats() map[string]int64 {
	return map[string]int64{
		"passes":   atomic.LoadInt64(&s.passes),
		"repaired": atomic.LoadInt64(&s.repaired),
		"reopened": atomic.LoadInt64(&s.reopened),
		"mirrored": atomic.LoadInt64(&s.mirrored),
		"errors":   atomic.LoadInt64(&s.errors),
	}
}
