package main

import (
	"context"
	"log"
	ossignal "os/signal"
	"syscall"

	"trade-engine/internal/account"
	"trade-engine/internal/api"
	"trade-engine/internal/bridge"
	"trade-engine/internal/engine"
	"trade-engine/internal/events"
	"trade-engine/internal/monitor"
	"trade-engine/internal/order"
	"trade-engine/internal/persistence"
	"trade-engine/internal/position"
	"trade-engine/internal/risk"
	"trade-engine/internal/signal"
	"trade-engine/pkg/clock"
	"trade-engine/pkg/config"
	"trade-engine/pkg/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	log.Printf("starting execution core, port=%s mode=%s", cfg.Port, cfg.Mode)

	ctx, cancel := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Core services
	bus := events.NewBus()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("db init failed: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("db migrations failed: %v", err)
	}

	instruments, err := config.LoadInstruments(cfg.InstrumentsPath)
	if err != nil {
		log.Fatalf("instrument catalog failed: %v", err)
	}

	// Trading components
	fill := order.NewFillModel(cfg.SlippageSeed, cfg.MaxSlippage, cfg.CommissionRate)
	tracker := account.NewTracker(cfg.InitialBalance)
	journal := persistence.NewJournal(database)
	defer journal.Close()

	metrics := risk.NewMetrics()
	gate := risk.NewGate(risk.GateConfig{
		MaxDailyLossFraction: cfg.MaxDailyLossFraction,
		MaxPositions:         cfg.MaxPositions,
		MaxRiskPerTrade:      cfg.MaxRiskPerTrade,
		MaxSpreadPct:         cfg.MaxSpreadPct,
		DefaultStopLoss:      cfg.DefaultStopLoss,
		DefaultTakeProfit:    cfg.DefaultTakeProfit,
	}, instruments)

	mode := order.ModePaper
	if cfg.IsLive() {
		mode = order.ModeLive
	}
	executor := order.NewExecutor(database, bus, fill, instruments, mode)
	ledger := position.NewLedger(database, journal, tracker, bus, fill, cfg.Leverage)

	core := engine.New(engine.Deps{
		Config:   cfg,
		Store:    database,
		Bus:      bus,
		Clock:    clock.New(),
		Queue:    signal.NewQueue(),
		Gate:     gate,
		Metrics:  metrics,
		Executor: executor,
		Ledger:   ledger,
		Tracker:  tracker,
		Journal:  journal,
	})

	// Venue bridge, fed back into the engine's inbox.
	if cfg.BridgeURL != "" {
		client := bridge.NewClient(bridge.Config{
			URL:            cfg.BridgeURL,
			RequestTimeout: cfg.BridgeTimeout,
			ReconnectDelay: cfg.BridgeReconnectDelay,
			RequestsPerSec: cfg.BridgeRequestsPerSec,
		}, bus, core.Handlers())
		defer client.Close()
		executor.SetVenue(client)
		core.SetBridge(client)
	}

	if err := core.Initialize(ctx); err != nil {
		log.Fatalf("engine initialize failed: %v", err)
	}
	go func() {
		if err := core.Run(ctx); err != nil {
			log.Printf("engine loop exited: %v", err)
		}
	}()
	if err := core.Start(); err != nil {
		log.Fatalf("engine start failed: %v", err)
	}

	mon := monitor.New(bus, nil)
	mon.Start(ctx)

	server := api.NewServer(core, bus, mon, cfg.JWTSecret, cfg.AdminKey)
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("api server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")
	if err := core.Stop(); err != nil {
		log.Printf("engine stop: %v", err)
	}
}
