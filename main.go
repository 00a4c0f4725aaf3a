package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"execution-core/internal/api"
	"execution-core/internal/engine"
	"execution-core/internal/events"
	"execution-core/internal/gateway"
	"execution-core/internal/market"
	"execution-core/internal/monitor"
	"execution-core/internal/order"
	"execution-core/internal/risk"
	"execution-core/internal/symbols"
	"execution-core/pkg/config"
	"execution-core/pkg/exchanges/bridge"
	"execution-core/pkg/exchanges/common"
	"execution-core/pkg/exchanges/paper"
	"execution-core/pkg/logger"
)

// activePaper moves quotes on whichever paper account is active, so the mock
// feed follows account switches.
type activePaper struct {
	accounts *gateway.Manager
}

func (a activePaper) current() (*paper.Gateway, error) {
	gw, ok := a.accounts.Gateway(a.accounts.ActiveAccount())
	if !ok {
		return nil, gateway.ErrGatewayUnavailable
	}
	p, ok := gw.(*paper.Gateway)
	if !ok {
		return nil, fmt.Errorf("account %s is not a paper account", gw.AccountID())
	}
	return p, nil
}

func (a activePaper) GetSymbolPrice(ctx context.Context, symbol string) (common.Price, error) {
	p, err := a.current()
	if err != nil {
		return common.Price{}, err
	}
	return p.GetSymbolPrice(ctx, symbol)
}

func (a activePaper) SetPrice(symbol string, bid, ask float64) error {
	p, err := a.current()
	if err != nil {
		return err
	}
	return p.SetPrice(symbol, bid, ask)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("execution core stopped")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	buildVersion := os.Getenv("APP_VERSION")
	if buildVersion == "" {
		buildVersion = "v0.1-dev"
	}
	log.Info().Str("version", buildVersion).Str("gateway", cfg.GatewayMode).Str("port", cfg.Port).Msg("starting execution core")

	// Core services
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitor.NewMetrics(reg)
	bus := events.NewBus()

	// Exchange gateway selection
	var factory gateway.Factory
	switch cfg.GatewayMode {
	case "paper":
		factory = gateway.PaperFactory(paper.Config{
			SlippageBps:  cfg.PaperSlippageBps,
			LatencyMinMs: cfg.PaperLatencyMinMs,
			LatencyMaxMs: cfg.PaperLatencyMaxMs,
		})
	case "bridge":
		factory = gateway.BridgeFactory(bridge.Config{
			BaseURL:   cfg.BridgeBaseURL,
			StreamURL: cfg.BridgeStreamURL,
			Token:     cfg.BridgeToken,
			RPS:       cfg.BridgeRPS,
			Timeout:   cfg.ExecutionTimeout,
		}, log)
	default:
		return fmt.Errorf("unknown GATEWAY_MODE %q", cfg.GatewayMode)
	}
	accounts := gateway.NewManager(factory, gateway.Config{}, log)
	if _, err := accounts.Use(ctx, cfg.AccountID); err != nil {
		return fmt.Errorf("connect account %s: %w", cfg.AccountID, err)
	}
	accounts.Start(ctx)
	defer accounts.Stop(context.Background())

	// Market data
	catalog, err := symbols.LoadCatalog(cfg.SymbolVariantsPath)
	if err != nil {
		return err
	}
	resolver := symbols.NewResolver(catalog, log, metrics)
	prices := market.NewPriceCache(accounts, resolver, log,
		market.WithTTL(cfg.PriceCacheTTL),
		market.WithBus(bus),
		market.WithMetrics(metrics),
	)

	var candleCache market.CandleCache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		pctx, pcancel := context.WithTimeout(ctx, 3*time.Second)
		err := rdb.Ping(pctx).Err()
		pcancel()
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unreachable, using in-memory candle cache")
		} else {
			candleCache = market.NewRedisCandleCache(rdb, cfg.CandleCacheTTL, "")
			log.Info().Str("addr", cfg.RedisAddr).Msg("candle cache backed by redis")
		}
	}
	candles := market.NewCandleStore(accounts, resolver, candleCache, metrics, log)

	// Execution
	calc := risk.NewCalculator(risk.Config{
		MinLot:                cfg.MinLot,
		MaxLot:                cfg.MaxLot,
		MinStopDistancePoints: cfg.MinStopDistancePoints,
	}, log)
	executor := order.NewExecutor(accounts, resolver, calc, order.Config{
		ExecutionTimeout: cfg.ExecutionTimeout,
		SlippagePoints:   cfg.SlippagePoints,
		BatchConcurrency: cfg.BatchConcurrency,
	}, log, order.WithBus(bus), order.WithMetrics(metrics))

	useMockFeed := cfg.GatewayMode == "paper" && cfg.UseMockFeed
	engService := engine.NewImpl(engine.Config{
		Accounts: accounts,
		Resolver: resolver,
		Prices:   prices,
		Candles:  candles,
		Executor: executor,
		Bus:      bus,
		Metrics:  metrics,
		Meta: engine.SystemStatus{
			Mode:        cfg.GatewayMode,
			Symbols:     catalog.Symbols(),
			UseMockFeed: useMockFeed,
			Version:     buildVersion,
		},
		Log: log,
	})

	mon := &monitor.Monitor{Bus: bus, Sink: monitor.LogSink{Log: log}, Log: log}
	mon.Start(ctx)

	if useMockFeed {
		feed := &market.MockFeed{
			Target:   activePaper{accounts: accounts},
			Symbols:  cfg.MockFeedSymbols,
			Interval: cfg.MockFeedInterval,
			Log:      log,
		}
		feed.Start(ctx)
	}

	// API
	if log.GetLevel() > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	server := api.NewServer(engService, bus, reg, api.Options{
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		RequestTimeout: cfg.RequestTimeout,
	}, log)
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("api listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("api server: %w", err)
	}

	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}
