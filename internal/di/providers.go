package di

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"TriggerHub/internal/dispatcher"
	"TriggerHub/internal/domain/repository"
	"TriggerHub/internal/evaluator"
	"TriggerHub/internal/feed"
	"TriggerHub/internal/handler/api"
	"TriggerHub/internal/indicator"
	"TriggerHub/internal/registry"
	internalrepo "TriggerHub/internal/repository"
	"TriggerHub/internal/usecase"
	pkgcache "TriggerHub/pkg/cache"
	pkgch "TriggerHub/pkg/clickhouse"
	"TriggerHub/pkg/config"
	pkghttp "TriggerHub/pkg/http"
	pkgkafka "TriggerHub/pkg/kafka"
	applogger "TriggerHub/pkg/logger"
	"TriggerHub/pkg/metrics"
	"TriggerHub/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	level := cfg.Logger.Level
	if level == "" {
		level = "info"
	}
	format := cfg.Logger.Format
	if format == "" {
		format = "json"
	}
	output := cfg.Logger.Output
	if output == "" {
		output = "stdout"
	}
	return applogger.New(&applogger.Config{Level: level, Format: format, Output: output})
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideClickHouseClient creates a ClickHouse client and ensures schema.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := append(
		[]string{"CREATE DATABASE IF NOT EXISTS " + cfg.ClickHouse.Database},
		internalrepo.Schema()...,
	)
	if err := client.InitSchema(ctx, stmts); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}

	return client, nil
}

// ProvideCacheService creates the cache backing idempotency marks and
// warm-state checkpoints. Without a Redis address it degrades to the
// in-memory cache: single-node semantics, no state across restarts.
func ProvideCacheService(cfg *config.Config) (pkgcache.Service, error) {
	if cfg.Redis.Addr == "" {
		return pkgcache.NewMemoryCache(), nil
	}
	host, portStr, err := net.SplitHostPort(cfg.Redis.Addr)
	if err != nil {
		return nil, fmt.Errorf("redis addr: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("redis port: %w", err)
	}
	return pkgcache.NewRedisCache(
		pkgcache.WithRedisHost(host),
		pkgcache.WithRedisPort(port),
		pkgcache.WithRedisPassword(cfg.Redis.Password),
		pkgcache.WithRedisDB(cfg.Redis.DB),
	)
}

// ProvideKafkaProducer creates a Kafka producer.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideKafkaConsumer creates the in-process trigger topic consumer.
// Returns nil when disabled; bot runtimes usually consume out of process.
func ProvideKafkaConsumer(cfg *config.Config) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Consumer.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideTriggerHandler creates the handler for the trigger topic.
func ProvideTriggerHandler(cfg *config.Config, l *applogger.Logger, m repository.Metrics) pkgkafka.MessageHandler {
	if !cfg.Kafka.Consumer.Enabled {
		return nil
	}
	return usecase.NewTriggerConsumer(cfg.Kafka.TriggerTopic, l, m)
}

// ProvideTriggerBus creates the Kafka-backed delivery bus.
func ProvideTriggerBus(producer *pkgkafka.Producer, cfg *config.Config, l *applogger.Logger) repository.TriggerBus {
	return internalrepo.NewKafkaTriggerBus(producer, cfg.Kafka.TriggerTopic, cfg.Kafka.DLQTopic, l)
}

// ProvideIdempotencyStore creates the Redis-backed delivery dedup store.
func ProvideIdempotencyStore(svc pkgcache.Service) repository.IdempotencyStore {
	return internalrepo.NewCacheIdempotencyStore(svc)
}

// ProvideConditionStore creates the ClickHouse condition repository.
func ProvideConditionStore(ch *pkgch.Client, l *applogger.Logger) repository.ConditionStore {
	return internalrepo.NewCHConditionStore(ch, l)
}

// ProvideSubscriptionStore creates the ClickHouse subscription repository.
func ProvideSubscriptionStore(ch *pkgch.Client, l *applogger.Logger) repository.SubscriptionStore {
	return internalrepo.NewCHSubscriptionStore(ch, l)
}

// ProvideEventStore creates the ClickHouse trigger event audit store.
func ProvideEventStore(ch *pkgch.Client, l *applogger.Logger) repository.EventStore {
	return internalrepo.NewCHEventStore(ch, l)
}

// ProvideRegistry creates the condition registry.
func ProvideRegistry(cs repository.ConditionStore, ss repository.SubscriptionStore, l *applogger.Logger, m repository.Metrics, cfg *config.Config) *registry.Registry {
	var opts []registry.Option
	if cfg.Registry.Retention > 0 {
		opts = append(opts, registry.WithRetention(cfg.Registry.Retention))
	}
	return registry.New(cs, ss, l, m, opts...)
}

// ProvideMarketFeed creates the WebSocket market feed client.
func ProvideMarketFeed(cfg *config.Config, l *applogger.Logger) repository.MarketFeed {
	httpClient := pkghttp.NewClient(pkghttp.WithTimeout(15 * time.Second))
	return feed.New(
		cfg.Feed.WebSocketURL,
		cfg.Feed.RestURL,
		httpClient,
		l,
		feed.WithAPIKey(cfg.Feed.APIKey),
		feed.WithReconnectDelay(cfg.Feed.ReconnectDelay),
		feed.WithPingInterval(cfg.Feed.PingInterval),
	)
}

// ProvideIndicatorCache creates the shared indicator cache.
func ProvideIndicatorCache(mf repository.MarketFeed, l *applogger.Logger, m repository.Metrics, cfg *config.Config) *indicator.Cache {
	var opts []indicator.CacheOption
	if cfg.Evaluator.StaleMultiple > 0 {
		opts = append(opts, indicator.WithStaleMultiple(cfg.Evaluator.StaleMultiple))
	}
	if cfg.Evaluator.BackfillTimeout > 0 {
		opts = append(opts, indicator.WithBackfillTimeout(cfg.Evaluator.BackfillTimeout))
	}
	if cfg.Evaluator.BackfillRPS > 0 {
		opts = append(opts, indicator.WithBackfillRPS(cfg.Evaluator.BackfillRPS))
	}
	return indicator.NewCache(mf, l, m, opts...)
}

// ProvideStateStore creates the per-condition evaluation state store.
func ProvideStateStore() *evaluator.StateStore {
	return evaluator.NewStateStore()
}

// ProvideDispatcher creates the trigger dispatcher.
func ProvideDispatcher(reg *registry.Registry, bus repository.TriggerBus, idem repository.IdempotencyStore, l *applogger.Logger, m repository.Metrics, cfg *config.Config) *dispatcher.Dispatcher {
	var opts []dispatcher.Option
	if cfg.Dispatcher.QueueSize > 0 {
		opts = append(opts, dispatcher.WithQueueSize(cfg.Dispatcher.QueueSize))
	}
	if cfg.Dispatcher.Workers > 0 {
		opts = append(opts, dispatcher.WithWorkers(cfg.Dispatcher.Workers))
	}
	if cfg.Dispatcher.MaxAttempts > 0 {
		opts = append(opts, dispatcher.WithRetry(cfg.Dispatcher.MaxAttempts, cfg.Dispatcher.BackoffMin, cfg.Dispatcher.BackoffMax))
	}
	if cfg.Dispatcher.IdempotencyTTL > 0 {
		opts = append(opts, dispatcher.WithIdempotencyTTL(cfg.Dispatcher.IdempotencyTTL))
	}
	if host, err := os.Hostname(); err == nil {
		opts = append(opts, dispatcher.WithSourceNode(host))
	}
	return dispatcher.New(reg, bus, idem, l, m, opts...)
}

// ProvideTriggerSink chains the audit recorder in front of the dispatcher.
func ProvideTriggerSink(events repository.EventStore, disp *dispatcher.Dispatcher, l *applogger.Logger, m repository.Metrics) evaluator.TriggerSink {
	return usecase.NewTriggerRecorder(events, disp, l, m)
}

// ProvideEvaluator creates the condition evaluator.
func ProvideEvaluator(reg *registry.Registry, cache *indicator.Cache, states *evaluator.StateStore, sink evaluator.TriggerSink, l *applogger.Logger, m repository.Metrics, cfg *config.Config) *evaluator.Evaluator {
	var opts []evaluator.EvalOption
	if cfg.Evaluator.Debounce > 0 {
		opts = append(opts, evaluator.WithDebounce(cfg.Evaluator.Debounce))
	}
	if cfg.Evaluator.FallbackInterval > 0 {
		opts = append(opts, evaluator.WithFallbackInterval(cfg.Evaluator.FallbackInterval))
	}
	if cfg.Evaluator.Workers > 0 {
		opts = append(opts, evaluator.WithWorkers(cfg.Evaluator.Workers))
	}
	return evaluator.New(reg, cache, states, sink, l, m, opts...)
}

// ProvidePipeline creates the candle ingest pipeline. The native stream
// resolution is resampled up to every timeframe conditions may use.
func ProvidePipeline(mf repository.MarketFeed, ev *evaluator.Evaluator, l *applogger.Logger, m repository.Metrics, cfg *config.Config) *feed.Pipeline {
	tfs := resampleTimeframes(cfg.Feed.Timeframes)
	return feed.NewPipeline(mf, ev, tfs, l, m)
}

func resampleTimeframes(raw []string) []repository.Timeframe {
	if len(raw) == 0 {
		return []repository.Timeframe{
			repository.TF5m, repository.TF15m, repository.TF1h, repository.TF4h, repository.TF1d,
		}
	}
	var tfs []repository.Timeframe
	for _, s := range raw {
		tf, ok := repository.NormalizeTimeframe(s)
		if !ok || tf == repository.TF1m {
			continue
		}
		tfs = append(tfs, tf)
	}
	return tfs
}

// ProvideCandleCollector creates the feed lifecycle owner.
func ProvideCandleCollector(mf repository.MarketFeed, pipe *feed.Pipeline, cfg *config.Config) *usecase.CandleCollector {
	return usecase.NewCandleCollector(mf, pipe, cfg.Feed.Symbols)
}

// kafkaLogSink adapts the producer to the log collector's publisher.
type kafkaLogSink struct {
	p *pkgkafka.Producer
}

func (s kafkaLogSink) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return s.p.Publish(ctx, topic, nil, payload)
}

// ProvideApp assembles the application server and its HTTP surface.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	collector *usecase.CandleCollector,
	ev *evaluator.Evaluator,
	disp *dispatcher.Dispatcher,
	reg *registry.Registry,
	indicators *indicator.Cache,
	states *evaluator.StateStore,
	redisCache pkgcache.Service,
	bus repository.TriggerBus,
	producer *pkgkafka.Producer,
	consumer *pkgkafka.Consumer,
	kh pkgkafka.MessageHandler,
	chClient *pkgch.Client,
	events repository.EventStore,
	mf repository.MarketFeed,
) *server.App {
	if consumer != nil {
		consumer.WithConsumerHook(pkgkafka.NoopHook{})
	}

	// Aggregated error logs ship to the ops topic in batches.
	l.AddCollector(&applogger.CollectionConfig{
		TimeInterval:   30 * time.Second,
		CountThreshold: 100,
		Topic:          "trighub.logs",
		Publisher:      kafkaLogSink{p: producer},
	})

	app := server.New(cfg, l, collector, ev, disp, reg, indicators, states, redisCache, bus, consumer, kh, chClient)

	app.AddHTTPHandler(api.NewRegistryEchoHandler(l, reg, events))

	health := api.NewHealthEchoHandler(l)
	health.AddCheck("clickhouse", chClient.Health)
	health.AddCheck("feed", func(ctx context.Context) error {
		if !mf.IsConnected() {
			return errors.New("market feed disconnected")
		}
		return nil
	})
	health.AddCheck("redis", func(ctx context.Context) error {
		_, err := redisCache.Exists(ctx, "healthz")
		return err
	})
	app.AddHTTPHandler(health)

	return app
}
