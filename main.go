package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"nse-trading-bot/config"
	"nse-trading-bot/internal/api"
	"nse-trading-bot/internal/backtest"
	"nse-trading-bot/internal/broker"
	"nse-trading-bot/internal/circuit"
	"nse-trading-bot/internal/clock"
	"nse-trading-bot/internal/confirm"
	"nse-trading-bot/internal/database"
	"nse-trading-bot/internal/dedup"
	"nse-trading-bot/internal/engine"
	"nse-trading-bot/internal/events"
	"nse-trading-bot/internal/executor"
	"nse-trading-bot/internal/hedge"
	"nse-trading-bot/internal/instrument"
	"nse-trading-bot/internal/logging"
	"nse-trading-bot/internal/margin"
	"nse-trading-bot/internal/notification"
	"nse-trading-bot/internal/portfolio"
	"nse-trading-bot/internal/risk"
	"nse-trading-bot/internal/schedule"
	"nse-trading-bot/internal/validation"
	"nse-trading-bot/internal/vault"

	redis "github.com/redis/go-redis/v9"
)

// Exit codes: 0 success, 1 configuration error, 2 gateway unreachable at
// startup, 3 schema migration required.
const (
	exitOK            = 0
	exitConfigError   = 1
	exitGatewayError  = 2
	exitSchemaMissing = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cmd := "live"
	if len(args) > 0 {
		cmd = args[0]
	}

	switch cmd {
	case "live":
		return runLive()
	case "backtest":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: nse-trading-bot backtest <session.json>")
			return exitConfigError
		}
		return runBacktest(args[1])
	case "verify":
		return runVerify()
	case "sample-config":
		path := "config.sample.json"
		if len(args) > 1 {
			path = args[1]
		}
		if err := config.GenerateSampleConfig(path); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write sample config: %v\n", err)
			return exitConfigError
		}
		fmt.Printf("sample config written to %s\n", path)
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (expected live, backtest, verify, sample-config)\n", cmd)
		return exitConfigError
	}
}

func newLogger(cfg *config.Config) *logging.Logger {
	logger := logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
		Component:   "main",
	})
	logging.SetDefault(logger)
	return logger
}

// newGateway builds the live or simulating gateway per config, resolving
// broker credentials through Vault when enabled.
func newGateway(ctx context.Context, cfg *config.Config, logger *logging.Logger) (broker.Gateway, error) {
	if cfg.BrokerConfig.SimMode {
		logger.Warn("broker simulator active, no real orders will be placed")
		sim := broker.NewSimGateway()
		sim.SetFunds(broker.Funds{AvailableCash: cfg.PortfolioConfig.InitialCapital})
		return sim, nil
	}

	vc, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		return nil, fmt.Errorf("vault client: %w", err)
	}
	creds, err := vc.BrokerCredentials(ctx, vault.BrokerCredentials{
		APIKey:      cfg.BrokerConfig.APIKey,
		AccessToken: cfg.BrokerConfig.AccessToken,
	})
	if err != nil {
		logger.Warn("vault credential fetch failed, using config values", "error", err)
	}
	if creds.APIKey == "" || creds.AccessToken == "" {
		return nil, fmt.Errorf("broker credentials missing (set broker.api_key and broker.access_token, or enable vault)")
	}

	return broker.NewClient(creds.APIKey, creds.AccessToken, cfg.BrokerConfig.BaseURL,
		cfg.BrokerConfig.RequestTimeoutDuration(), cfg.BrokerConfig.RateLimitRPS), nil
}

func validationConfig(c config.ValidationConfig) validation.Config {
	return validation.Config{
		WarningThresholdPct:   c.WarningThresholdPct,
		BaseEntryMaxDivPct:    c.BaseEntryMaxDivPct,
		PyramidMaxDivPct:      c.PyramidMaxDivPct,
		ExitMaxDivPct:         c.ExitMaxDivPct,
		ElevatedMaxDivPct:     c.ElevatedMaxDivPct,
		MaxRiskIncreasePct:    c.MaxRiskIncreasePct,
		AllowResize:           c.AllowResize,
		MinLotsAfterAdjust:    c.MinLotsAfterAdjust,
		RejectChaseForPyramid: c.RejectChaseForPyramid,
		WarningAge:            time.Duration(c.WarningAgeSecs) * time.Second,
		ElevatedAge:           time.Duration(c.ElevatedAgeSecs) * time.Second,
		StaleAge:              time.Duration(c.StaleAgeSecs) * time.Second,
	}
}

// newExecutor builds the order executor from the execution section
func newExecutor(gw broker.Gateway, c config.ExecutionConfig) *executor.Executor {
	zlog := zerolog.New(os.Stdout).With().Timestamp().Logger()
	return executor.New(gw, executor.Config{
		Strategy:            executor.Strategy(c.DefaultStrategy),
		LimitBufferPct:      c.LimitBufferPct,
		OrderTimeout:        time.Duration(c.OrderTimeoutSecs) * time.Second,
		PollInterval:        time.Duration(c.PollIntervalSecs) * time.Second,
		PartialFillStrategy: c.PartialFillStrategy,
		InitialBufferPct:    c.InitialBufferPct,
		IncrementPct:        c.IncrementPct,
		MaxRetries:          c.MaxRetries,
		RetryInterval:       time.Duration(c.RetryIntervalSecs) * time.Second,
		MarketFallback:      c.MarketFallback,
	}, zlog)
}

func runLive() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return exitConfigError
	}
	logger := newLogger(cfg)
	logger.Info("starting trading bot", "mode", "live", "sim", cfg.BrokerConfig.SimMode)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Broker gateway and startup reachability check
	gw, err := newGateway(ctx, cfg, logger)
	if err != nil {
		logger.Error("gateway setup failed", "error", err)
		return exitConfigError
	}
	probeCtx, probeCancel := context.WithTimeout(ctx, 15*time.Second)
	_, err = gw.Funds(probeCtx)
	probeCancel()
	if err != nil {
		logger.Error("broker gateway unreachable", "error", err)
		return exitGatewayError
	}

	// Database and repository
	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	}, logger)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		return exitConfigError
	}
	defer db.Close()
	if err := db.RunMigrations(ctx); err != nil {
		logger.Error("migrations failed", "error", err)
		return exitSchemaMissing
	}
	repo := database.NewRepository(db)

	// Optional Redis mirror for the account cache
	var rdb *redis.Client
	if cfg.RedisConfig.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisConfig.Address,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
			PoolSize: cfg.RedisConfig.PoolSize,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, cache runs in-memory only", "error", err)
			rdb = nil
		}
	}

	clk := clock.SystemClock{}
	cal := clock.NewCalendar(clk, nil)
	bus := events.NewBus()
	registry := instrument.NewRegistry()

	state := portfolio.NewState(portfolio.Config{
		InitialCapital: cfg.PortfolioConfig.InitialCapital,
		EquityMode:     cfg.PortfolioConfig.EquityMode,
		BlendedWeight:  cfg.PortfolioConfig.BlendedWeight,
		MaxRiskPct:     cfg.PortfolioConfig.MaxRiskPct,
	})

	// Restore persisted portfolio before anything trades
	if open, err := repo.OpenPositions(ctx); err != nil {
		logger.Error("failed to restore open positions", "error", err)
	} else if len(open) > 0 {
		for _, p := range open {
			state.Restore(p)
		}
		logger.Info("restored open positions", "count", len(open))
	}
	if closedEq, found, err := repo.ClosedEquity(ctx); err != nil {
		logger.Error("failed to restore closed equity", "error", err)
	} else if found {
		state.SetClosedEquity(closedEq)
	}

	// Notifications and the confirmation bus
	notifier := notification.NewManager(cfg.NotificationConfig.Enabled)
	if cfg.NotificationConfig.Telegram.Enabled {
		notifier.AddNotifier(notification.NewTelegramNotifier(
			cfg.NotificationConfig.Telegram.BotToken,
			cfg.NotificationConfig.Telegram.ChatID,
			true,
		))
		logger.Info("telegram notifications enabled")
	}
	wireNotifications(bus, notifier)

	confirms := confirm.NewBus(confirm.Config{
		DefaultTimeout: time.Duration(cfg.ConfirmationConfig.TimeoutSecs) * time.Second,
		QueueSize:      cfg.ConfirmationConfig.QueueSize,
		RateInterval:   time.Duration(cfg.ConfirmationConfig.RateLimitSecs) * time.Second,
	}, logger)
	confirms.AddChannel(notification.NewConfirmChannel(notifier))

	breaker := circuit.NewBreaker(circuit.Config{
		Enabled:             cfg.CircuitConfig.Enabled,
		MaxGatewayFailures:  cfg.CircuitConfig.MaxGatewayFailures,
		MaxDailyLossPct:     cfg.CircuitConfig.MaxDailyLossPct,
		CooldownMinutes:     cfg.CircuitConfig.CooldownMinutes,
		MaxRollbackFailures: 1,
	}, bus)

	cache := broker.NewAccountCache(gw, clk, time.Duration(cfg.BrokerConfig.CacheTTL)*time.Second, rdb)
	exec := newExecutor(gw, cfg.ExecutionConfig)
	detector := dedup.NewDetector(
		time.Duration(cfg.EngineConfig.DuplicateWindowSecs)*time.Second,
		cfg.EngineConfig.DuplicateCapacity, clk)

	eng := engine.New(engine.Config{
		QuoteRetries: cfg.ValidationConfig.QuoteRetries,
		QuoteTimeout: cfg.BrokerConfig.QuoteTimeoutDuration(),
		MaxRiskPct:   cfg.PortfolioConfig.MaxRiskPct,
	}, engine.Deps{
		Detector: detector,
		Validator: validation.NewValidator(validationConfig(cfg.ValidationConfig)),
		Sizer:     risk.NewSizer(cfg.PortfolioConfig.MaxMarginUtilPct),
		Gate: risk.NewPyramidGate(risk.PyramidConfig{
			ATRSpacing:   cfg.PyramidConfig.ATRSpacing,
			RiskBlockPct: cfg.PyramidConfig.RiskBlockPct,
			VolBlockPct:  cfg.PyramidConfig.VolBlockPct,
		}),
		Stops:    risk.NewStopManager(state, logger),
		State:    state,
		Registry: registry,
		Gateway:  gw,
		Cache:    cache,
		Executor: exec,
		Confirms: confirms,
		Breaker:  breaker,
		Audit:    repo,
		Store:    repo,
		Orders:   repo,
		Bus:      bus,
		Clock:    clk,
		Log:      logger,
	})

	// Boot-time integrity check surfaces positions the broker no longer holds
	if flagged := eng.VerifyIntegrity(ctx); len(flagged) > 0 {
		for _, id := range flagged {
			logger.Warn("position flagged integrity_suspect at boot", "position_id", id)
		}
		notifier.SendError("integrity check", fmt.Sprintf("%d position(s) missing at broker, tagged for review", len(flagged)))
	}

	intake := engine.NewIntake(eng, cfg.EngineConfig.QueueSize)
	go intake.Run(ctx)

	sched := schedule.New(clk, cal, schedule.DefaultPlan(),
		time.Duration(cfg.HedgeConfig.LookaheadMins)*time.Minute,
		time.Duration(cfg.HedgeConfig.ExitBufferMins)*time.Minute)

	monitor := margin.NewMonitor(gw, repo, clk, cal, bus, logger, margin.Config{
		Interval:        time.Duration(cfg.MarginConfig.IntervalMins) * time.Minute,
		BaselineDelay:   time.Duration(cfg.MarginConfig.BaselineDelayMins) * time.Minute,
		ExcludedMargin:  cfg.MarginConfig.ExcludedMargin,
		NumBaskets:      cfg.MarginConfig.NumBaskets,
		BudgetPerBasket: cfg.MarginConfig.BudgetPerBasket,
	})
	go monitor.Run(ctx)

	if cfg.HedgeConfig.Enabled {
		table := hedge.NewMarginTable(hedge.DefaultRows(), logger)
		orch := hedge.NewOrchestrator(gw, exec, table, monitor, sched, repo, bus, clk, cal, logger, hedge.Config{
			EntryTriggerPct: cfg.HedgeConfig.EntryTriggerPct,
			EntryTargetPct:  cfg.HedgeConfig.EntryTargetPct,
			ExitTriggerPct:  cfg.HedgeConfig.ExitTriggerPct,
			Band: hedge.Band{
				MinPremium: cfg.HedgeConfig.MinPremium,
				MaxPremium: cfg.HedgeConfig.MaxPremium,
			},
			MaxCostPerDay: cfg.HedgeConfig.MaxCostPerDay,
			Cooldown:      time.Duration(cfg.HedgeConfig.CooldownSecs) * time.Second,
			MinExitValue:  cfg.HedgeConfig.MinExitValue,
			FullPair:      cfg.HedgeConfig.FullPair,
		})
		interval := time.Duration(cfg.HedgeConfig.IntervalSecs) * time.Second
		if interval <= 0 {
			interval = time.Minute
		}
		go orch.Run(ctx, interval)
		logger.Info("hedge orchestrator started", "interval", interval.String())
	}

	// Hourly heartbeat while the market is open
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := clk.Now()
				if !cal.IsMarketOpen(clock.ExchangeNFO, now) && !cal.IsMarketOpen(clock.ExchangeMCX, now) {
					continue
				}
				snap := state.CurrentState()
				notifier.SendHeartbeat(len(snap.Positions), snap.Equity, snap.TotalRiskAmount)
			}
		}
	}()

	srv := api.NewServer(cfg.ServerConfig, cfg.EngineConfig.WebhookSecret, api.Deps{
		Intake:   intake,
		State:    state,
		Detector: detector,
		Breaker:  breaker,
		Monitor:  monitor,
		Schedule: sched,
		Repo:     repo,
		Confirms: confirms,
		Bus:      bus,
		Clock:    clk,
		Log:      logger,
	})
	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Start() }()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-srvErr:
		if err != nil {
			logger.Error("HTTP server failed", "error", err)
		}
		cancel()
	}

	shutCtx, shutCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer shutCancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
	return exitOK
}

func runBacktest(path string) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return exitConfigError
	}
	logger := newLogger(cfg)

	session, err := backtest.LoadSession(path)
	if err != nil {
		logger.Error("cannot load session", "error", err)
		return exitConfigError
	}

	capital := cfg.PortfolioConfig.InitialCapital
	if session.InitialCapital > 0 {
		capital = session.InitialCapital
	}

	clk := &clock.FakeClock{}
	gw := broker.NewSimGateway()
	gw.SetFunds(broker.Funds{AvailableCash: capital})
	bus := events.NewBus()
	state := portfolio.NewState(portfolio.Config{
		InitialCapital: capital,
		EquityMode:     cfg.PortfolioConfig.EquityMode,
		BlendedWeight:  cfg.PortfolioConfig.BlendedWeight,
		MaxRiskPct:     cfg.PortfolioConfig.MaxRiskPct,
	})
	audit := engine.NewMemoryAuditSink()

	// Confirmations auto-resolve fast in replay; nobody is answering
	confirms := confirm.NewBus(confirm.Config{DefaultTimeout: 10 * time.Millisecond}, logger)

	eng := engine.New(engine.Config{
		QuoteRetries:  1,
		QuoteBackoffs: []time.Duration{time.Millisecond},
		MaxRiskPct:    cfg.PortfolioConfig.MaxRiskPct,
	}, engine.Deps{
		Detector: dedup.NewDetector(
			time.Duration(cfg.EngineConfig.DuplicateWindowSecs)*time.Second,
			cfg.EngineConfig.DuplicateCapacity, clk),
		Validator: validation.NewValidator(validationConfig(cfg.ValidationConfig)),
		Sizer:     risk.NewSizer(cfg.PortfolioConfig.MaxMarginUtilPct),
		Gate: risk.NewPyramidGate(risk.PyramidConfig{
			ATRSpacing:   cfg.PyramidConfig.ATRSpacing,
			RiskBlockPct: cfg.PyramidConfig.RiskBlockPct,
			VolBlockPct:  cfg.PyramidConfig.VolBlockPct,
		}),
		Stops:    risk.NewStopManager(state, logger),
		State:    state,
		Registry: instrument.NewRegistry(),
		Gateway:  gw,
		Cache:    broker.NewAccountCache(gw, clk, time.Second, nil),
		Executor: newExecutor(gw, cfg.ExecutionConfig),
		Confirms: confirms,
		Breaker: circuit.NewBreaker(circuit.Config{
			Enabled:             cfg.CircuitConfig.Enabled,
			MaxGatewayFailures:  cfg.CircuitConfig.MaxGatewayFailures,
			MaxDailyLossPct:     cfg.CircuitConfig.MaxDailyLossPct,
			CooldownMinutes:     cfg.CircuitConfig.CooldownMinutes,
			MaxRollbackFailures: 1,
		}, bus),
		Audit: audit,
		Bus:   bus,
		Clock: clk,
		Log:   logger,
	})

	runner := backtest.NewRunner(eng, gw, clk, state)
	report, err := runner.Run(context.Background(), session)
	if err != nil {
		logger.Error("replay failed", "error", err)
		return exitConfigError
	}
	report.Print()
	return exitOK
}

func runVerify() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return exitConfigError
	}
	logger := newLogger(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	gw, err := newGateway(ctx, cfg, logger)
	if err != nil {
		logger.Error("gateway setup failed", "error", err)
		return exitConfigError
	}
	if _, err := gw.Funds(ctx); err != nil {
		logger.Error("broker gateway unreachable", "error", err)
		return exitGatewayError
	}
	logger.Info("broker gateway reachable")

	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	}, logger)
	if err != nil {
		logger.Error("database unreachable", "error", err)
		return exitConfigError
	}
	defer db.Close()

	present, err := db.SchemaPresent(ctx)
	if err != nil {
		logger.Error("schema check failed", "error", err)
		return exitConfigError
	}
	if !present {
		logger.Error("schema missing, run live once (or apply migrations) first")
		return exitSchemaMissing
	}
	logger.Info("database schema present")

	clk := clock.SystemClock{}
	cal := clock.NewCalendar(clk, nil)
	sched := schedule.New(clk, cal, schedule.DefaultPlan(), 5*time.Minute, 15*time.Minute)
	if entry, until, ok := sched.NextEntry(); ok {
		logger.Info("schedule loaded", "next_entry", entry.At.Format(time.RFC3339), "in", until.String())
	} else {
		logger.Info("schedule loaded, no further entries today")
	}

	logger.Info("verify passed")
	return exitOK
}

// wireNotifications forwards the events an operator cares about
func wireNotifications(bus *events.Bus, notifier *notification.Manager) {
	bus.Subscribe(events.EventPositionOpened, func(ev events.Event) {
		inst, _ := ev.Data["instrument"].(string)
		entry, _ := ev.Data["entry_price"].(float64)
		lots, _ := ev.Data["lots"].(int)
		stop, _ := ev.Data["stop"].(float64)
		notifier.SendPositionOpen(inst, entry, lots, stop, "")
	})
	bus.Subscribe(events.EventPositionClosed, func(ev events.Event) {
		inst, _ := ev.Data["instrument"].(string)
		exit, _ := ev.Data["exit_price"].(float64)
		pnl, _ := ev.Data["realized_pnl"].(float64)
		notifier.SendPositionExit(inst, exit, pnl, "")
	})
	hedgeFwd := func(action string) events.Subscriber {
		return func(ev events.Event) {
			symbol, _ := ev.Data["symbol"].(string)
			qty, _ := ev.Data["quantity"].(int)
			price, _ := ev.Data["price"].(float64)
			notifier.SendHedgeAction(action, symbol, qty, price)
		}
	}
	bus.Subscribe(events.EventHedgeBought, hedgeFwd("BUY"))
	bus.Subscribe(events.EventHedgeSold, hedgeFwd("SELL"))
	bus.Subscribe(events.EventCircuitTripped, func(ev events.Event) {
		reason, _ := ev.Data["reason"].(string)
		notifier.SendError("circuit breaker tripped", reason)
	})
	bus.Subscribe(events.EventError, func(ev events.Event) {
		source, _ := ev.Data["source"].(string)
		message, _ := ev.Data["message"].(string)
		notifier.SendError(source, message)
	})
}
