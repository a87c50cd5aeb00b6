package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"cycletrader/internal/models"
	"cycletrader/internal/remote"
	"cycletrader/pkg/utils"
)

// StrategyType выбирает обработчика циклов
type StrategyType string

// Поддерживаемые стратегии
const (
	StrategyZone       StrategyType = "zone"
	StrategyMartingale StrategyType = "martingale"
)

// CommandSource - очередь команд оператора.
// Реализуется remote.Client; nil отключает обработку команд.
type CommandSource interface {
	ListCommands(ctx context.Context, account string) ([]remote.RemoteCommand, error)
	AckCommand(ctx context.Context, id int64) error
}

// EngineConfig настройки движка стратегии
type EngineConfig struct {
	AccountID string
	BotID     string
	Strategy  StrategyType

	Cycle CycleConfig
	Risk  RiskConfig

	TickInterval      time.Duration // default: 1s
	CommandInterval   time.Duration // default: 2s
	HeartbeatInterval time.Duration // default: 30s

	// Автооткрытие новых циклов
	Autotrade         bool
	AutotradeDistance float64       // минимальный отход цены от последнего цикла, в пипсах
	AutotradeType     string        // тип открываемого цикла
	YoungCycleAge     time.Duration // default: 15m
	MaxNearbyOrders   int           // default: 10
}

// controlState - атомарные флаги управления стратегией.
// Мутируются только командами оператора.
type controlState struct {
	stopped int32
	paused  int32
}

// Engine владеет набором живых циклов аккаунта и крутит четыре
// независимые горутины: тики стратегии, сверку ордеров, сверку
// циклов и опрос команд. Тик одного цикла строго последователен,
// разные циклы обрабатываются по очереди внутри одного прохода.
type Engine struct {
	cfg   EngineConfig
	cfgMu sync.RWMutex // защищает Cycle-снимок от update_order_configs

	deps      CycleDeps
	risk      *RiskManager
	orderSync *OrderSynchronizer
	cycleSync *CycleSynchronizer
	commands  CommandSource
	log       *utils.Logger

	control controlState

	// Кэш размера пипса по символу
	pips   map[string]float64
	pipsMu sync.Mutex

	wg     sync.WaitGroup
	cancel context.CancelFunc

	startedAt time.Time
}

// NewEngine создаёт движок стратегии
func NewEngine(cfg EngineConfig, deps CycleDeps, risk *RiskManager, orderSync *OrderSynchronizer, cycleSync *CycleSynchronizer, commands CommandSource) *Engine {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.CommandInterval <= 0 {
		cfg.CommandInterval = 2 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.YoungCycleAge <= 0 {
		cfg.YoungCycleAge = 15 * time.Minute
	}
	if cfg.MaxNearbyOrders <= 0 {
		cfg.MaxNearbyOrders = 10
	}

	log := deps.Log
	if log == nil {
		log = utils.GetGlobalLogger()
	}

	return &Engine{
		cfg:       cfg,
		deps:      deps,
		risk:      risk,
		orderSync: orderSync,
		cycleSync: cycleSync,
		commands:  commands,
		log:       log.WithComponent("engine").WithAccount(cfg.AccountID),
		pips:      make(map[string]float64),
	}
}

// Start подключается к брокеру, восстанавливает состояние после
// перезапуска и запускает рабочие горутины
func (e *Engine) Start(ctx context.Context) error {
	if err := e.deps.Broker.Connect(ctx); err != nil {
		return fmt.Errorf("engine start: broker connect: %w", err)
	}

	recovery := NewRecovery(e.cfg.AccountID, e.cfg.BotID, e.deps)
	if err := recovery.Run(ctx); err != nil {
		e.log.Warn("startup recovery incomplete", utils.Err(err))
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.startedAt = time.Now()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runStrategy(runCtx)
	}()

	if e.orderSync != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.orderSync.Run(runCtx)
		}()
	}
	if e.cycleSync != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.cycleSync.Run(runCtx)
		}()
	}
	if e.commands != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.runCommands(runCtx)
		}()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runHeartbeat(runCtx)
	}()

	e.log.Info("engine started",
		utils.String("strategy", string(e.cfg.Strategy)),
		utils.Dur("tick_interval", e.cfg.TickInterval))
	return nil
}

// Stop останавливает все горутины и дожидается их завершения.
// Начатые вызовы брокера доделываются.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.log.Info("engine stopped")
}

// Stopped сообщает, остановлена ли стратегия командой
func (e *Engine) Stopped() bool {
	return atomic.LoadInt32(&e.control.stopped) == 1
}

// Execute выполняет команду оператора вне очереди удалённой системы.
// Используется HTTP API: семантика та же, что у команд из очереди.
func (e *Engine) Execute(ctx context.Context, cmd models.Command) error {
	return e.handleCommand(ctx, cmd)
}

// ============================================================
// Тики стратегии
// ============================================================

func (e *Engine) runStrategy(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e.Stopped() || atomic.LoadInt32(&e.control.paused) == 1 {
				continue
			}
			if err := e.tick(ctx); err != nil {
				e.log.Warn("strategy tick failed", utils.Err(err))
			}
		}
	}
}

// tick обрабатывает все активные циклы аккаунта один раз
func (e *Engine) tick(ctx context.Context) error {
	cfg := e.cycleConfig()

	active, err := e.deps.Cycles.GetActive(e.cfg.AccountID)
	if err != nil {
		return fmt.Errorf("tick: load cycles: %w", err)
	}

	floating := 0.0
	volume := 0.0
	bySymbol := make(map[string]int)
	for _, c := range active {
		floating += c.TotalProfit
		volume += c.TotalVolume
		bySymbol[c.Symbol]++
	}
	FloatingPnl.Set(floating)
	for symbol, n := range bySymbol {
		CyclesActive.WithLabelValues(symbol).Set(float64(n))
	}

	e.risk.CheckExposure(e.cfg.AccountID, e.cfg.BotID, volume)

	action := e.risk.Evaluate(e.cfg.AccountID, e.cfg.BotID, floating)
	switch action {
	case RiskEmergencyFlatten:
		return e.flattenAll(ctx, active, "daily_loss_limit")
	case RiskStopOpening:
		// Цель дня достигнута: прибыльные циклы закрываются сразу,
		// убыточные продолжают обслуживаться до выхода в плюс
		if err := e.flattenProfitable(ctx, active); err != nil {
			e.log.Warn("profit target flatten failed", utils.Err(err))
		}
	}

	for _, cycle := range active {
		if cycle.IsClosed {
			continue
		}
		handler, err := e.handlerFor(ctx, cycle, cfg)
		if err != nil {
			e.log.Warn("handler construction failed", utils.CycleID(cycle.ID), utils.Err(err))
			continue
		}

		start := time.Now()
		if err := handler.Tick(ctx); err != nil {
			// Статус до перехода сохранён, следующий тик повторит проверку
			e.log.Warn("cycle tick failed", utils.CycleID(cycle.ID), utils.Err(err))
		}
		TickLatency.WithLabelValues(cycle.Symbol, string(e.cfg.Strategy)).
			Observe(float64(time.Since(start).Milliseconds()))

		if handler.Model().IsClosed {
			e.risk.AddRealized(handler.Model().TotalProfit)
			CyclesClosed.WithLabelValues(handler.Model().ClosingMethod.Reason).Inc()
		}
	}

	if action == RiskAllow && e.cfg.Autotrade && e.risk.CanOpen() {
		if err := e.maybeOpenCycle(ctx, active, cfg); err != nil {
			e.log.Warn("autotrade open failed", utils.Err(err))
		}
	}

	return nil
}

// handlerFor оборачивает цикл обработчиком его стратегии
func (e *Engine) handlerFor(ctx context.Context, cycle *models.Cycle, cfg CycleConfig) (CycleHandler, error) {
	pip, err := e.pipFor(ctx, cycle.Symbol)
	if err != nil {
		return nil, err
	}
	cfg.Symbol = cycle.Symbol

	if cycle.Type == models.CycleTypeHedge {
		return NewMartingaleCycle(cycle, cfg, pip, e.deps), nil
	}
	return NewZoneCycle(cycle, cfg, pip, e.deps), nil
}

func (e *Engine) pipFor(ctx context.Context, symbol string) (float64, error) {
	e.pipsMu.Lock()
	defer e.pipsMu.Unlock()
	if pip, ok := e.pips[symbol]; ok {
		return pip, nil
	}
	pip, err := e.deps.Broker.Pip(ctx, symbol)
	if err != nil {
		return 0, err
	}
	e.pips[symbol] = pip
	return pip, nil
}

// maybeOpenCycle применяет политику автооткрытия: новый цикл
// открывается, когда цена отошла от входа последнего цикла на
// заданное расстояние и рядом с текущей ценой не скопились ордера
// молодых циклов
func (e *Engine) maybeOpenCycle(ctx context.Context, active []*models.Cycle, cfg CycleConfig) error {
	if e.cfg.AutotradeDistance <= 0 {
		return nil
	}

	pip, err := e.pipFor(ctx, cfg.Symbol)
	if err != nil {
		return err
	}
	quote, err := e.deps.Broker.Quote(ctx, cfg.Symbol)
	if err != nil {
		return err
	}
	price := quote.Bid
	distance := e.cfg.AutotradeDistance * pip

	var last *models.Cycle
	for _, c := range active {
		if c.Symbol != cfg.Symbol {
			continue
		}
		if last == nil || c.CreatedAt.After(last.CreatedAt) {
			last = c
		}
	}

	if last != nil && utils.Abs(price-last.EntryPrice) < distance {
		return nil
	}

	// Ограничение на скопление: молодые циклы рядом с текущей ценой
	nearby := 0
	cutoff := time.Now().Add(-e.cfg.YoungCycleAge)
	for _, c := range active {
		if c.Symbol != cfg.Symbol || c.CreatedAt.Before(cutoff) {
			continue
		}
		if utils.Abs(price-c.EntryPrice) < distance {
			nearby += len(c.OpenTickets())
		}
	}
	if nearby >= e.cfg.MaxNearbyOrders {
		e.log.Debug("autotrade skipped, too many orders near price",
			utils.Price(price), utils.Int("nearby", nearby))
		return nil
	}

	return e.openCycle(ctx, e.cfg.AutotradeType, cfg, models.OpenedBy{Status: "autotrade"})
}

// openCycle открывает цикл выбранной стратегии
func (e *Engine) openCycle(ctx context.Context, cycleType string, cfg CycleConfig, openedBy models.OpenedBy) error {
	var err error
	if e.cfg.Strategy == StrategyMartingale || cycleType == models.CycleTypeHedge {
		direction := models.SideBuy
		if cycleType == models.CycleTypeSell {
			direction = models.SideSell
		}
		_, err = OpenMartingaleCycle(ctx, e.cfg.AccountID, e.cfg.BotID, direction, cfg, e.deps, openedBy)
	} else {
		if cycleType == "" {
			cycleType = models.CycleTypeBuy
		}
		_, err = OpenZoneCycle(ctx, e.cfg.AccountID, e.cfg.BotID, cycleType, cfg, e.deps, openedBy)
	}
	return err
}

// flattenProfitable закрывает циклы с положительной прибылью после
// достижения дневной цели
func (e *Engine) flattenProfitable(ctx context.Context, active []*models.Cycle) error {
	profitable := make([]*models.Cycle, 0, len(active))
	for _, c := range active {
		if !c.IsClosed && c.TotalProfit > 0 {
			profitable = append(profitable, c)
		}
	}
	if len(profitable) == 0 {
		return nil
	}
	return e.flattenAll(ctx, profitable, "daily_profit_target")
}

// flattenAll аварийно закрывает все активные циклы
func (e *Engine) flattenAll(ctx context.Context, active []*models.Cycle, reason string) error {
	cfg := e.cycleConfig()
	var firstErr error
	for _, cycle := range active {
		handler, err := e.handlerFor(ctx, cycle, cfg)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := handler.Close(ctx, models.ClosingMethod{Status: "MetaTrader5", Reason: reason}); err != nil {
			e.log.Error("emergency close failed", utils.CycleID(cycle.ID), utils.Err(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		e.risk.AddRealized(handler.Model().TotalProfit)
		CyclesClosed.WithLabelValues(reason).Inc()
	}
	return firstErr
}

// cycleConfig возвращает неизменяемый снимок настроек на один тик
func (e *Engine) cycleConfig() CycleConfig {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg.Cycle
}

// ============================================================
// Команды оператора
// ============================================================

func (e *Engine) runCommands(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.CommandInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.pollCommands(ctx)
		}
	}
}

func (e *Engine) pollCommands(ctx context.Context) {
	inbox, err := e.commands.ListCommands(ctx, e.cfg.AccountID)
	if err != nil {
		e.log.Warn("command poll failed", utils.Err(err))
		return
	}

	for _, rc := range inbox {
		cmd := rc.Command()
		result := "ok"
		if err := e.handleCommand(ctx, cmd); err != nil {
			result = "failed"
			if isConfigurationError(err) {
				result = "rejected"
				e.rejectCommand(cmd, err)
			} else {
				e.log.Error("command failed", utils.String("message", cmd.Message), utils.Err(err))
			}
		}
		CommandsProcessed.WithLabelValues(cmd.Message, result).Inc()

		// Обработанная команда подтверждается в любом исходе, кроме
		// временной ошибки: иначе она будет молотить очередь вечно
		if err := e.commands.AckCommand(ctx, cmd.ID); err != nil {
			e.log.Warn("command ack failed", utils.Int64("command_id", cmd.ID), utils.Err(err))
		}
	}
}

// handleCommand маршрутизирует команду оператора
func (e *Engine) handleCommand(ctx context.Context, cmd models.Command) error {
	e.log.Info("command received", utils.String("message", cmd.Message))

	switch cmd.Message {
	case models.CmdStopBot:
		atomic.StoreInt32(&e.control.stopped, 1)
		return nil

	case models.CmdStartBot:
		atomic.StoreInt32(&e.control.stopped, 0)
		return nil

	case models.CmdOpenOrder:
		cycleType := cmd.Str("cycle_type")
		if cycleType == "" {
			return configurationErrorf("open_order: missing cycle_type")
		}
		return e.openCycle(ctx, cycleType, e.cycleConfig(), models.OpenedBy{
			Status:   "command",
			Username: cmd.Str("username"),
		})

	case models.CmdCloseCycle:
		cycleID, ok := cmd.Ticket("cycle_id")
		if !ok {
			return configurationErrorf("close_cycle: missing cycle_id")
		}
		return e.closeCycleByID(ctx, cycleID, cmd.Str("username"))

	case models.CmdCloseAllCycles:
		active, err := e.deps.Cycles.GetActive(e.cfg.AccountID)
		if err != nil {
			return err
		}
		return e.flattenAll(ctx, active, "command")

	case models.CmdCloseOrder:
		ticket, ok := cmd.Ticket("ticket")
		if !ok {
			return configurationErrorf("close_order: missing ticket")
		}
		return e.closeOrderByTicket(ctx, ticket)

	case models.CmdClosePendingOrder:
		ticket, ok := cmd.Ticket("ticket")
		if !ok {
			return configurationErrorf("close_pending_order: missing ticket")
		}
		return e.closeOrderByTicket(ctx, ticket)

	case models.CmdCloseAllPending:
		return e.closeAllPending(ctx)

	case models.CmdUpdateOrderConfigs:
		return e.updateConfigs(cmd)

	default:
		return configurationErrorf("unknown command %q", cmd.Message)
	}
}

func (e *Engine) closeCycleByID(ctx context.Context, cycleID int64, username string) error {
	cycle, err := e.deps.Cycles.GetByID(cycleID)
	if err != nil {
		return configurationErrorf("close_cycle: cycle %d not found", cycleID)
	}
	handler, err := e.handlerFor(ctx, cycle, e.cycleConfig())
	if err != nil {
		return err
	}
	if err := handler.Close(ctx, models.ClosingMethod{Status: "command", Username: username}); err != nil {
		return err
	}
	e.risk.AddRealized(handler.Model().TotalProfit)
	CyclesClosed.WithLabelValues("command").Inc()
	return nil
}

func (e *Engine) closeOrderByTicket(ctx context.Context, ticket int64) error {
	order, err := e.deps.Orders.GetByTicket(ticket)
	if err != nil {
		return configurationErrorf("close_order: ticket %d not found", ticket)
	}
	if err := retryCloseOrder(ctx, e.deps.Broker, ticket); err != nil {
		return err
	}
	if err := e.deps.Orders.MarkClosed(ticket, order.Profit, order.Swap, order.Commission); err != nil {
		return err
	}
	if order.CycleID != 0 {
		if cycle, err := e.deps.Cycles.GetByID(order.CycleID); err == nil {
			cycle.MoveToClosed(ticket)
			if err := e.deps.Cycles.Update(cycle); err != nil {
				e.log.Warn("cycle update after order close failed", utils.CycleID(cycle.ID), utils.Err(err))
			}
		}
	}
	OrdersClosed.WithLabelValues(order.Symbol).Inc()
	return nil
}

func (e *Engine) closeAllPending(ctx context.Context) error {
	open, err := e.deps.Orders.GetOpen(e.cfg.AccountID)
	if err != nil {
		return err
	}
	var firstErr error
	for _, o := range open {
		if !o.IsPending {
			continue
		}
		if err := e.closeOrderByTicket(ctx, o.Ticket); err != nil {
			e.log.Warn("pending order close failed", utils.Ticket(o.Ticket), utils.Err(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// updateConfigs применяет новые настройки цикла. Снимок заменяется
// целиком, идущий тик дорабатывает со старым.
func (e *Engine) updateConfigs(cmd models.Command) error {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()

	if v, ok := cmd.Float("take_profit"); ok {
		e.cfg.Cycle.TakeProfit = v
	}
	if v, ok := cmd.Float("base_lot"); ok {
		e.cfg.Cycle.BaseLot = v
	}
	if v, ok := cmd.Float("recovery_lot"); ok {
		e.cfg.Cycle.RecoveryLot = v
	}
	if v, ok := cmd.Float("threshold_step"); ok {
		e.cfg.Cycle.ThresholdStep = v
	}
	if v, ok := cmd.Float("hedge_distance"); ok {
		e.cfg.Cycle.HedgeDistance = v
	}
	if v, ok := cmd.Float("max_drawdown"); ok {
		e.cfg.Cycle.MaxDrawdown = v
	}

	e.log.Info("cycle configuration updated")
	return nil
}

func (e *Engine) rejectCommand(cmd models.Command, err error) {
	e.log.Error("command rejected", utils.String("message", cmd.Message), utils.Err(err))
	if e.deps.Events != nil {
		e.deps.Events.Emit(models.NewEvent(e.cfg.AccountID, e.cfg.BotID, models.EventCommandRejected, models.SeverityError, map[string]interface{}{
			"message": cmd.Message,
			"error":   err.Error(),
		}))
	}
}

// ============================================================
// Пульс и статус
// ============================================================

func (e *Engine) runHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.log.Info("heartbeat",
				utils.Bool("stopped", e.Stopped()),
				utils.Float64("daily_pnl", e.risk.DailyPnL()))
		}
	}
}

// Status возвращает снимок состояния движка для /api/status
func (e *Engine) Status() map[string]interface{} {
	status := map[string]interface{}{
		"account_id": e.cfg.AccountID,
		"bot_id":     e.cfg.BotID,
		"strategy":   string(e.cfg.Strategy),
		"stopped":    e.Stopped(),
		"halted":     e.risk.Halted(),
		"daily_pnl":  e.risk.DailyPnL(),
		"started_at": e.startedAt,
	}
	if e.orderSync != nil {
		status["order_sync"] = e.orderSync.Stats()
	}
	if e.cycleSync != nil {
		status["cycle_sync"] = e.cycleSync.Stats()
	}
	return status
}

// ============================================================
// Ошибки конфигурации команд
// ============================================================

// configurationError - команда с недостающими или битыми полями.
// Такая команда отбрасывается, а не повторяется.
type configurationError struct {
	msg string
}

func (e *configurationError) Error() string { return e.msg }

func configurationErrorf(format string, args ...interface{}) error {
	return &configurationError{msg: fmt.Sprintf(format, args...)}
}

func isConfigurationError(err error) bool {
	var ce *configurationError
	return errors.As(err, &ce)
}
