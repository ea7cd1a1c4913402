package di

import (
	"context"
	"fmt"
	"time"

	"FinScreen/internal/domain/models"
	drepo "FinScreen/internal/domain/repository"
	"FinScreen/internal/handler/api"
	mid "FinScreen/internal/middleware"
	internalrepo "FinScreen/internal/repository"
	"FinScreen/internal/service/binance"
	"FinScreen/internal/service/rates"
	"FinScreen/internal/usecase"
	"FinScreen/pkg/cache"
	pkgch "FinScreen/pkg/clickhouse"
	"FinScreen/pkg/config"
	xhttp "FinScreen/pkg/http"
	"FinScreen/pkg/http/middleware"
	pkgkafka "FinScreen/pkg/kafka"
	applogger "FinScreen/pkg/logger"
	"FinScreen/pkg/metrics"
	"FinScreen/pkg/server"

	"github.com/shopspring/decimal"
)

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideLogger creates the application logger. Repeated errors are shipped
// to Kafka when log collection is enabled.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Logger.Level,
		Format: cfg.Logger.Format,
		Output: cfg.Logger.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.Logger.Collect.Enabled && producer != nil {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   cfg.Logger.Collect.Interval,
			CountThreshold: cfg.Logger.Collect.Threshold,
			Topic:          cfg.Logger.Collect.Topic,
			Publisher:      producer,
		})
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() drepo.Metrics {
	return metrics.New()
}

// ProvideClickHouseClient creates a ClickHouse client and the match table,
// or nil when ClickHouse is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := pkgch.NewClient(ctx,
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	if err := client.InitSchema(ctx, internalrepo.MatchSchema(cfg.ClickHouse.Database, cfg.ClickHouse.MatchTable)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideRateCache backs last-known rates with Redis when enabled, memory otherwise.
func ProvideRateCache(cfg *config.Config) (cache.Service, error) {
	if !cfg.Redis.Enabled {
		return cache.NewMemoryCache(cache.WithMemoryMaxSize(64)), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rc, err := cache.NewRedisCache(ctx,
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPort(cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return cache.NewLayeredCache(rc, cfg.Rates.RefreshInterval, cache.WithMemoryMaxSize(64)), nil
}

func ProvideHTTPClient(cfg *config.Config) *xhttp.Client {
	return xhttp.NewClient(xhttp.WithTimeout(cfg.Binance.RequestTimeout))
}

func ProvideBinanceREST(cfg *config.Config, client *xhttp.Client) *binance.REST {
	return binance.NewREST(binance.RESTConfig{
		BaseURL:       cfg.Binance.RestURL,
		QuoteAsset:    cfg.Catalog.QuoteAsset,
		MaxSymbols:    cfg.Catalog.MaxSymbols,
		KlineInterval: cfg.Binance.KlineInterval,
	}, client)
}

func ProvideSymbolSource(rest *binance.REST) drepo.SymbolSource { return rest }

func ProvideFeed(cfg *config.Config, log *applogger.Logger) drepo.FeedProvider {
	return binance.NewStream(binance.StreamConfig{
		URL:            cfg.Binance.WebSocketURL,
		StreamsPerConn: cfg.Binance.StreamsPerConn,
		DialTimeout:    cfg.Binance.DialTimeout,
		ReadTimeout:    cfg.Binance.ReadTimeout,
		PingInterval:   cfg.Binance.PingInterval,
	}, log)
}

// ProvideBarsProvider picks the historical bar source named by baseline.source.
func ProvideBarsProvider(cfg *config.Config, rest *binance.REST, ch *pkgch.Client, log *applogger.Logger) drepo.BarsProvider {
	if cfg.Baseline.Source == "clickhouse" && ch != nil {
		tf := drepo.NormalizeTimeframe(cfg.Binance.KlineInterval)
		return internalrepo.NewCHBarsProvider(ch, cfg.Baseline.Table, tf, log)
	}
	return rest
}

func ProvideRateProvider(cfg *config.Config) drepo.RateProvider {
	return rates.NewClient(cfg.Rates.URL, xhttp.NewClient(xhttp.WithTimeout(cfg.Rates.Timeout)))
}

func ProvideMatchPublisher(cfg *config.Config, producer *pkgkafka.Producer) drepo.MatchPublisher {
	if producer == nil {
		return internalrepo.NoopMatchPublisher{}
	}
	return internalrepo.NewKafkaMatchPublisher(producer, cfg.Kafka.Topic)
}

func ProvideMatchArchive(cfg *config.Config, ch *pkgch.Client, log *applogger.Logger) drepo.MatchArchive {
	if ch == nil {
		return internalrepo.NoopMatchArchive{}
	}
	return internalrepo.NewCHMatchArchive(ch, cfg.ClickHouse.Database, cfg.ClickHouse.MatchTable, log)
}

// ProvideRule builds the startup rule from screener.rule.
func ProvideRule(cfg *config.Config) (models.Rule, error) {
	rc := cfg.Screener.Rule
	spec := models.RuleSpec{
		Kind:         models.RuleKind(rc.Kind),
		LookbackDays: rc.LookbackDays,
		Currency:     rc.Currency,
	}
	var err error
	if spec.Multiplier, err = decimal.NewFromString(rc.Multiplier); err != nil {
		return nil, fmt.Errorf("%w: screener.rule.multiplier: %v", models.ErrConfiguration, err)
	}
	if spec.Threshold, err = decimal.NewFromString(rc.Threshold); err != nil {
		return nil, fmt.Errorf("%w: screener.rule.threshold: %v", models.ErrConfiguration, err)
	}
	return spec.Build()
}

func ProvideGapTracker(m drepo.Metrics) *usecase.GapTracker {
	return usecase.NewGapTracker(m)
}

func ProvideTradeBuffer(cfg *config.Config, m drepo.Metrics) *mid.TradeBuffer {
	return mid.NewTradeBuffer(cfg.Screener.BufferSize, m,
		mid.WithOverflowPolicy(mid.OverflowPolicy(cfg.Screener.OverflowPolicy)),
	)
}

func ProvideTradeIngestor(
	feed drepo.FeedProvider,
	buf *mid.TradeBuffer,
	gaps *usecase.GapTracker,
	m drepo.Metrics,
	log *applogger.Logger,
	cfg *config.Config,
) *usecase.TradeIngestor {
	return usecase.NewTradeIngestor(feed, buf, gaps, m, log, usecase.IngestorConfig{
		ReconnectMin: cfg.Binance.ReconnectMin,
		ReconnectMax: cfg.Binance.ReconnectMax,
	})
}

func ProvideWindowAggregator(cfg *config.Config, gaps *usecase.GapTracker, m drepo.Metrics, log *applogger.Logger) *usecase.WindowAggregator {
	return usecase.NewWindowAggregator(usecase.AggregatorConfig{Window: cfg.Screener.Window}, gaps, m, log)
}

func ProvideBaselineEstimator(bars drepo.BarsProvider, m drepo.Metrics, log *applogger.Logger, cfg *config.Config) *usecase.BaselineEstimator {
	return usecase.NewBaselineEstimator(bars, m, log, usecase.BaselineConfig{
		MinBars:         cfg.Baseline.MinBars,
		RefreshInterval: cfg.Baseline.RefreshInterval,
		FetchTimeout:    cfg.Baseline.FetchTimeout,
		Concurrency:     cfg.Baseline.Concurrency,
		LookbackDays:    cfg.Screener.Rule.LookbackDays,
	})
}

func ProvideRateKeeper(provider drepo.RateProvider, c cache.Service, m drepo.Metrics, log *applogger.Logger, cfg *config.Config) (*usecase.RateKeeper, error) {
	fallbacks, err := cfg.RateFallbacks()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrConfiguration, err)
	}
	return usecase.NewRateKeeper(provider, c, m, log, usecase.RateConfig{
		Base:            cfg.Rates.Base,
		Fallbacks:       fallbacks,
		RefreshInterval: cfg.Rates.RefreshInterval,
		Timeout:         cfg.Rates.Timeout,
		CacheTTL:        cfg.Rates.CacheTTL,
	}), nil
}

func ProvideHistoryStore(cfg *config.Config) *usecase.HistoryStore {
	return usecase.NewHistoryStore(cfg.Screener.MaxWindows)
}

func ProvideScreeningEngine(
	rule models.Rule,
	baselines *usecase.BaselineEstimator,
	rk *usecase.RateKeeper,
	history *usecase.HistoryStore,
	pub drepo.MatchPublisher,
	archive drepo.MatchArchive,
	m drepo.Metrics,
	log *applogger.Logger,
	cfg *config.Config,
) *usecase.ScreeningEngine {
	return usecase.NewScreeningEngine(rule, baselines, rk, history, pub, archive, m, log, usecase.ScreeningConfig{
		DisplayCurrency: cfg.Screener.Rule.Currency,
		SinkTimeout:     cfg.Kafka.Producer.WriteTimeout,
	})
}

func ProvideQueryFacade(engine *usecase.ScreeningEngine, history *usecase.HistoryStore, cfg *config.Config) *usecase.QueryFacade {
	return usecase.NewQueryFacade(engine, history, cfg.Screener.MaxPageSize)
}

func ProvideSymbolCatalog(source drepo.SymbolSource, log *applogger.Logger, cfg *config.Config) *usecase.SymbolCatalog {
	return usecase.NewSymbolCatalog(source, log, usecase.CatalogConfig{
		Symbols:         cfg.Catalog.Symbols,
		RefreshInterval: cfg.Catalog.RefreshInterval,
	})
}

func ProvideScreener(
	catalog *usecase.SymbolCatalog,
	ingestor *usecase.TradeIngestor,
	aggregator *usecase.WindowAggregator,
	baselines *usecase.BaselineEstimator,
	rk *usecase.RateKeeper,
	engine *usecase.ScreeningEngine,
	history *usecase.HistoryStore,
	query *usecase.QueryFacade,
	gaps *usecase.GapTracker,
	m drepo.Metrics,
	log *applogger.Logger,
	cfg *config.Config,
) *usecase.Screener {
	return usecase.NewScreener(catalog, ingestor, aggregator, baselines, rk, engine, history, query, gaps, m, log, usecase.ScreenerConfig{
		Window:       cfg.Screener.Window,
		ReconnectMin: cfg.Binance.ReconnectMin,
		ReconnectMax: cfg.Binance.ReconnectMax,
	})
}

// ProvideHTTPHandler exposes the screener over the JSON API.
func ProvideHTTPHandler(log *applogger.Logger, s *usecase.Screener, cfg *config.Config) xhttp.Handler {
	var limiter *middleware.Limiter
	if cfg.Server.RuleUpdatesRPS > 0 {
		limiter = middleware.NewLimiter(5, cfg.Server.RuleUpdatesRPS)
	}
	return api.NewScreenerHandler(log, s.Query(), s.Engine(), s, s.Catalog(), limiter, cfg.Screener.Rule.Currency)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	log *applogger.Logger,
	screener *usecase.Screener,
	handler xhttp.Handler,
	pub drepo.MatchPublisher,
	archive drepo.MatchArchive,
	rateCache cache.Service,
	ch *pkgch.Client,
) *server.App {
	httpServer := xhttp.NewServer(handler, log,
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
	)
	app := server.New(log, screener, httpServer)
	// the collector flushes through the producer, so it goes first
	app.AddCloser("log collector", func() error {
		log.RemoveCollector()
		return nil
	})
	app.AddCloser("match publisher", pub.Close)
	app.AddCloser("match archive", archive.Close)
	app.AddCloser("rate cache", rateCache.Close)
	if ch != nil {
		app.AddCloser("clickhouse", ch.Close)
	}
	return app
}
