package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"cycletrader/internal/api"
	"cycletrader/internal/bot"
	"cycletrader/internal/broker"
	"cycletrader/internal/config"
	"cycletrader/internal/models"
	"cycletrader/internal/remote"
	"cycletrader/internal/repository"
	"cycletrader/internal/websocket"
	"cycletrader/pkg/utils"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := utils.InitGlobalLogger(utils.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	defer logger.Sync()

	log := logger.WithComponent("main")

	// Инициализация базы данных
	db, err := initDatabase(cfg)
	if err != nil {
		log.Fatal("failed to connect to database", utils.Err(err))
	}
	defer db.Close()
	log.Info("connected to database", utils.String("dsn", cfg.Database.DSNWithoutPassword()))

	// Репозитории
	cycleRepo := repository.NewCycleRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	eventRepo := repository.NewEventRepository(db)

	// WebSocket hub для real-time обновлений
	hub := websocket.NewHub()
	go hub.Run()
	defer hub.Stop()

	// События пишутся в журнал и рассылаются подписчикам
	persistSink := bot.EventSinkFunc(func(event *models.Event) {
		if err := eventRepo.Create(event); err != nil {
			log.Warn("persist event", utils.String("type", event.Type), utils.Err(err))
		}
	})
	events := bot.MultiSink{persistSink, hub}

	// Шлюз к мосту торгового терминала
	gateway := broker.NewGateway(broker.GatewayConfig{
		BaseURL: cfg.Bridge.URL,
		Token:   cfg.Bridge.Token,
		Account: cfg.Bridge.Account,
		Rate:    cfg.Bridge.Rate,
		Burst:   cfg.Bridge.Burst,
		HTTP: broker.HTTPClientConfig{
			TotalTimeout: cfg.Bridge.Timeout,
		},
	}, logger)
	defer gateway.Close()

	// Удаленное зеркало и очередь команд (опционально)
	var (
		mirror   bot.CycleMirror
		commands bot.CommandSource
	)
	if cfg.Remote.Enabled {
		client := remote.NewClient(remote.ClientConfig{
			BaseURL:          cfg.Remote.URL,
			Token:            cfg.Remote.Token,
			Account:          cfg.Bot.AccountID,
			Timeout:          cfg.Remote.Timeout,
			BreakerThreshold: cfg.Remote.BreakerThreshold,
			BreakerCooldown:  cfg.Remote.BreakerCooldown,
		}, logger)
		mirror = client
		commands = client
		log.Info("remote mirror enabled", utils.String("url", cfg.Remote.URL))
	}

	deps := bot.CycleDeps{
		Broker: gateway,
		Orders: orderRepo,
		Cycles: cycleRepo,
		Events: events,
		Log:    logger,
	}

	risk := bot.NewRiskManager(bot.RiskConfig{
		DailyProfitTarget: cfg.Bot.DailyProfitTarget,
		DailyLossLimit:    cfg.Bot.DailyLossLimit,
		MaxExposure:       cfg.Bot.MaxExposure,
	}, events, logger)

	orderSync := bot.NewOrderSynchronizer(bot.OrderSyncConfig{
		AccountID:   cfg.Bot.AccountID,
		BotID:       cfg.Bot.BotID,
		AddAllToPNL: cfg.Bot.AddAllToPNL,
	}, gateway, orderRepo, cycleRepo, events, logger)

	cycleSync := bot.NewCycleSynchronizer(bot.CycleSyncConfig{
		AccountID: cfg.Bot.AccountID,
		BotID:     cfg.Bot.BotID,
	}, gateway, orderRepo, cycleRepo, mirror, events, logger)

	engine := bot.NewEngine(bot.EngineConfig{
		AccountID: cfg.Bot.AccountID,
		BotID:     cfg.Bot.BotID,
		Strategy:  bot.StrategyType(cfg.Bot.Strategy),
		Cycle: bot.CycleConfig{
			Symbol:              cfg.Bot.Symbol,
			BaseLot:             cfg.Bot.BaseLot,
			Zones:               cfg.Bot.Zones,
			TakeProfit:          cfg.Bot.TakeProfit,
			RecoveryLot:         cfg.Bot.RecoveryLot,
			ThresholdStep:       cfg.Bot.ThresholdStep,
			AddAllToPNL:         cfg.Bot.AddAllToPNL,
			HedgeDistance:       cfg.Bot.HedgeDistance,
			LotSizes:            cfg.Bot.LotSizes,
			MaxLevels:           cfg.Bot.MaxLevels,
			ActivationThreshold: cfg.Bot.ActivationThreshold,
			MaxDrawdown:         cfg.Bot.MaxDrawdown,
			Slippage:            cfg.Bot.Slippage,
			Magic:               cfg.Bot.Magic,
		},
		Risk: bot.RiskConfig{
			DailyProfitTarget: cfg.Bot.DailyProfitTarget,
			DailyLossLimit:    cfg.Bot.DailyLossLimit,
			MaxExposure:       cfg.Bot.MaxExposure,
		},
		TickInterval:      cfg.Bot.TickInterval,
		CommandInterval:   cfg.Bot.CommandInterval,
		HeartbeatInterval: cfg.Bot.HeartbeatInterval,
		Autotrade:         cfg.Bot.Autotrade,
		AutotradeDistance: cfg.Bot.AutotradeDistance,
		AutotradeType:     cfg.Bot.AutotradeType,
	}, deps, risk, orderSync, cycleSync, commands)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := engine.Start(ctx); err != nil {
		log.Fatal("failed to start engine", utils.Err(err))
	}

	// HTTP API
	router := api.SetupRoutes(&api.Dependencies{
		Cycles:       cycleRepo,
		Orders:       orderRepo,
		Events:       eventRepo,
		Engine:       engine,
		Hub:          hub,
		APITokenHash: cfg.Security.APITokenHash,
		AccountID:    cfg.Bot.AccountID,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("starting server", utils.String("addr", server.Addr))
		var err error
		if cfg.Server.UseHTTPS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", utils.Err(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	// Сначала останавливаем торговлю, потом HTTP
	engine.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", utils.Err(err))
	}

	log.Info("exited")
}

// initDatabase создает подключение к базе данных
func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Проверка подключения
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
