// Package app wires the pieces into a running system: one market
// stream, one account stream, and a trigger loop per symbol.
package app

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"trigger_go/internal/detector"
	"trigger_go/internal/domain"
	"trigger_go/internal/engine"
	"trigger_go/internal/event"
	"trigger_go/internal/execution"
	"trigger_go/internal/infra"
	"trigger_go/internal/infra/binance"
	"trigger_go/internal/infra/storage"
	"trigger_go/internal/service"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const klineInterval = "1m"

// symbolRuntime bundles everything owned by one symbol.
type symbolRuntime struct {
	symbol       string
	cache        *service.QuoteCache
	inbox        *event.Inbox
	orchestrator *engine.Orchestrator
}

// Bootstrap performs the startup sequence and owns the long-lived
// components.
type Bootstrap struct {
	Config  *infra.Config
	Archive *storage.OrderArchive

	logger   *slog.Logger
	store    *service.OrderLifecycleStore
	runtimes []*symbolRuntime
	market   *binance.MarketWorker
	user     *binance.UserWorker
	client   *binance.Client
}

// NewBootstrap creates an empty Bootstrap instance.
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads configuration and builds every component. Nothing
// is connected yet; Run does that.
func (b *Bootstrap) Initialize(configPath string) error {
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err
	}
	b.Config = cfg

	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)
	b.logger = logger

	archive, err := storage.NewOrderArchive(cfg.Archive.Path)
	if err != nil {
		return err
	}
	b.Archive = archive
	logger.Info("order archive ready", slog.String("path", cfg.Archive.Path))

	wsURL, restURL := cfg.Binance.WSURL, cfg.Binance.RestURL
	if cfg.Binance.Testnet {
		wsURL = "wss://fstream.binancefuture.com"
		restURL = "https://testnet.binancefuture.com"
		logger.Info("using futures testnet endpoints")
	}

	b.client = binance.NewClient(restURL, cfg.Binance.APIKey)
	b.store = service.NewOrderLifecycleStore(logger)

	notional := cfg.Trigger.NotionalUSD
	if notional.IsZero() {
		notional = decimal.NewFromInt(100)
	}
	pipeline := execution.NewPaperPipeline(notional, logger)

	detectorCfg := detector.Config{
		Window:           time.Duration(cfg.Detector.WindowSec) * time.Second,
		DeltaPct:         cfg.Detector.DeltaPct,
		RangePct:         cfg.Detector.RangePct,
		VolLookback:      cfg.Detector.VolLookback,
		VolMult:          cfg.Detector.VolMult,
		UseQuoteVolume:   cfg.Detector.UseQuoteVolume,
		EnableMarkDelta:  cfg.Detector.EnableMarkDelta,
		EnableKlineRange: cfg.Detector.EnableKlineRange,
		EnableVolSurge:   cfg.Detector.EnableVolSurge,
	}

	sinks := make(map[string]binance.SymbolSink, len(cfg.Binance.Symbols))
	for _, symbol := range cfg.Binance.Symbols {
		symbol = strings.ToUpper(symbol)

		cache := service.NewQuoteCache(symbol, detectorCfg.Window, cfg.Detector.VolLookback+1)
		inbox := event.NewInbox(cfg.Stream.ChannelCapacity)

		orch := engine.NewOrchestrator(engine.Config{
			Symbol:     symbol,
			Mode:       cfg.Trigger.Mode,
			Interval:   time.Duration(cfg.Trigger.IntervalSec) * time.Second,
			Cooldown:   time.Duration(cfg.Trigger.CooldownSec) * time.Second,
			BackoffMax: time.Duration(cfg.Trigger.BackoffMaxSec) * time.Second,
			Detector:   detectorCfg,
		}, cache, b.store, inbox, pipeline, logger)

		b.runtimes = append(b.runtimes, &symbolRuntime{
			symbol:       symbol,
			cache:        cache,
			inbox:        inbox,
			orchestrator: orch,
		})
		sinks[symbol] = binance.NewSymbolSink(cache, inbox)
	}

	retry := binance.NewRetryPolicy(cfg.Stream.ReconnectBaseSec, cfg.Stream.ReconnectMaxSec)
	b.market = binance.NewMarketWorker(wsURL, klineInterval, sinks, retry, logger)
	b.user = binance.NewUserWorker(
		wsURL,
		b.client,
		sinks,
		time.Duration(cfg.Stream.AccountPushTimeoutMS)*time.Millisecond,
		retry,
		logger,
	)

	event.Warmup()
	return nil
}

// warmup seeds each cache with closed kline history so the volume
// condition is usable before a full lookback of live candles arrives.
func (b *Bootstrap) warmup(ctx context.Context) {
	limit := b.Config.Stream.WarmupKlines
	if limit <= 0 {
		return
	}

	for _, rt := range b.runtimes {
		candles, err := b.client.Klines(ctx, rt.symbol, klineInterval, limit)
		if err != nil {
			b.logger.Warn("kline warmup failed, detector starts cold",
				slog.String("symbol", rt.symbol),
				slog.Any("error", err))
			continue
		}
		rt.cache.SeedKlines(candles)
		b.logger.Info("kline history seeded",
			slog.String("symbol", rt.symbol),
			slog.Int("candles", len(candles)))
	}
}

// Run connects the streams and blocks until the context is cancelled
// or a trigger loop fails.
func (b *Bootstrap) Run(ctx context.Context) error {
	b.warmup(ctx)

	if err := b.market.Connect(ctx); err != nil {
		return err
	}
	defer b.market.Disconnect()

	if err := b.user.Connect(ctx); err != nil {
		return err
	}
	defer b.user.Disconnect()

	g, ctx := errgroup.WithContext(ctx)
	for _, rt := range b.runtimes {
		rt := rt
		g.Go(func() error {
			return rt.orchestrator.Run(ctx)
		})
	}
	g.Go(func() error {
		return b.sweepLoop(ctx)
	})

	b.logger.Info("trigger core running",
		slog.Int("symbols", len(b.runtimes)),
		slog.String("mode", b.Config.Trigger.Mode))

	return g.Wait()
}

// sweepLoop periodically archives terminal orders past the grace
// period.
func (b *Bootstrap) sweepLoop(ctx context.Context) error {
	interval := time.Duration(b.Config.Archive.SweepIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	grace := time.Duration(b.Config.Archive.GracePeriodSec) * time.Second

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := b.store.ArchiveSweep(b.Archive, grace); n > 0 {
				b.logger.Info("orders archived", slog.Int("count", n))
			}
		}
	}
}

// Close releases held resources after Run returns.
func (b *Bootstrap) Close() {
	if b.Archive != nil {
		if err := b.Archive.Close(); err != nil {
			b.logger.Warn("archive close failed", slog.Any("error", err))
		}
	}
}

// OrderView exposes the lifecycle store for external inspection.
func (b *Bootstrap) OrderView() domain.OrderView {
	return b.store
}
