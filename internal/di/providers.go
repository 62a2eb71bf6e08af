package di

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"

	domrepo "OmniSpectrum/internal/domain/repository"
	"OmniSpectrum/internal/domain/service"
	"OmniSpectrum/internal/handler/api"
	"OmniSpectrum/internal/middleware"
	internalrepo "OmniSpectrum/internal/repository"
	"OmniSpectrum/internal/service/ratelimit"
	"OmniSpectrum/internal/services/embedding"
	"OmniSpectrum/internal/services/fusion"
	"OmniSpectrum/internal/services/training"
	"OmniSpectrum/internal/usecase"
	"OmniSpectrum/pkg/cache"
	pkgch "OmniSpectrum/pkg/clickhouse"
	"OmniSpectrum/pkg/config"
	xhttp "OmniSpectrum/pkg/http"
	pkgkafka "OmniSpectrum/pkg/kafka"
	applogger "OmniSpectrum/pkg/logger"
	"OmniSpectrum/pkg/metrics"
	"OmniSpectrum/pkg/queue"
	"OmniSpectrum/pkg/server"
)

// ProvideLogger builds the process logger. When the digest is enabled and a
// producer exists, warnings and errors are also shipped to the log topic.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.Log.Digest.Enabled && producer != nil {
		l.AttachDigest(applogger.NewDigest(applogger.DigestConfig{
			FlushInterval: cfg.Log.Digest.FlushInterval,
			MaxEntries:    cfg.Log.Digest.MaxEntries,
			Topic:         cfg.Kafka.LogTopic,
			Publisher:     producer,
		}))
	}
	return l.With(applogger.String("symbol", cfg.Pipeline.Symbol)), nil
}

// ProvideClickHouseClient creates a ClickHouse client and applies the schema.
// It returns nil when ClickHouse is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := pkgch.SchemaStatements(cfg.ClickHouse.Database, cfg.ClickHouse.CandlesTable, cfg.ClickHouse.ForecastsTable)
	if err := client.InitSchema(ctx, stmts); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideKafkaProducer returns nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Producer.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.Producer.RequiredAcks),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.BatchTimeout),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.WriteTimeout),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideKafkaConsumer creates the cache-updated consumer, or nil when Kafka
// is disabled.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerAutoOffsetReset("latest"),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.NewHookChain(pkgkafka.LoggingHook(l)))
	return consumer, nil
}

// ProvideRedisClient returns nil when Redis is disabled.
func ProvideRedisClient(cfg *config.Config) (*redis.Client, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	client, err := cache.NewRedisClient(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return client, nil
}

// ProvideCache layers memory over Redis when Redis is available and falls
// back to a process-local cache otherwise.
func ProvideCache(cfg *config.Config, rc *redis.Client) cache.Service {
	if rc == nil {
		return cache.NewMemoryCache(cache.WithMemoryMaxSize(256))
	}
	return cache.NewLayeredCache(
		cache.NewRedisCacheFromClient(rc, cfg.Redis.Prefix),
		cache.WithLayeredMemoryTTL(30*time.Second),
	)
}

// ProvideSeriesStore returns nil without ClickHouse.
func ProvideSeriesStore(cfg *config.Config, ch *pkgch.Client, l *applogger.Logger) *internalrepo.CHSeriesStore {
	if ch == nil {
		return nil
	}
	s := internalrepo.NewCHSeriesStore(ch, cfg.ClickHouse.CandlesTable, cfg.ClickHouse.ForecastsTable, cfg.Pipeline.Symbol)
	s.SetLogger(l)
	return s
}

func ProvideSnapshotSource(cfg *config.Config, store *internalrepo.CHSeriesStore, l *applogger.Logger) (domrepo.SnapshotSource, error) {
	p := cfg.Pipeline
	switch p.CacheSource {
	case "http":
		return internalrepo.NewHTTPSnapshotSource(p.CacheURL, p.Symbol, p.Timeout, l), nil
	case "clickhouse":
		if store == nil {
			return nil, fmt.Errorf("cache source clickhouse: clickhouse is disabled")
		}
		return internalrepo.NewStoreSnapshotSource(store, p.Symbol, p.HistoryBars), nil
	default:
		return internalrepo.NewFileSnapshotSource(p.CachePath, p.Symbol, l), nil
	}
}

func ProvideModelStore(cfg *config.Config, l *applogger.Logger) *internalrepo.ModelStore {
	return internalrepo.NewModelStore(cfg.Pipeline.ModelDir, l)
}

// ProvideModelBundle loads the model artifacts once for the life of the
// process. It returns nil when none are usable yet.
func ProvideModelBundle(store *internalrepo.ModelStore, l *applogger.Logger) *service.ModelBundle {
	return usecase.LoadModelBundle(store, l)
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() domrepo.Metrics {
	return metrics.New(nil)
}

func ProvideFileSink(cfg *config.Config) *internalrepo.FileSink {
	return internalrepo.NewFileSink(cfg.Pipeline.OutputPath)
}

func ProvideCacheSink(cfg *config.Config, c cache.Service) *internalrepo.CacheSink {
	return internalrepo.NewCacheSink(c, cfg.Pipeline.Symbol, cfg.Cache.ForecastTTL)
}

// ProvideForecastQuery reads the cached document first and the output file
// second.
func ProvideForecastQuery(cfg *config.Config, store *internalrepo.CHSeriesStore, cs *internalrepo.CacheSink, fs *internalrepo.FileSink) *usecase.ForecastQueryUseCase {
	var history domrepo.ForecastHistory
	if store != nil {
		history = store
	}
	return usecase.NewForecastQueryUseCase(cfg.Pipeline.Symbol, history, cs, fs)
}

func ProvideHub(cfg *config.Config, l *applogger.Logger, query *usecase.ForecastQueryUseCase) *api.Hub {
	return api.NewHub(l, query, cfg.Server.WSPingInterval)
}

// ProvideForecastSink fans documents out to every configured store. The
// output file is the primary: if it cannot be written the run fails.
func ProvideForecastSink(
	cfg *config.Config,
	l *applogger.Logger,
	fs *internalrepo.FileSink,
	cs *internalrepo.CacheSink,
	store *internalrepo.CHSeriesStore,
	producer *pkgkafka.Producer,
	hub *api.Hub,
) domrepo.ForecastSink {
	sink := internalrepo.NewMultiSink(l, fs, cs)
	if store != nil {
		sink.Add(store)
	}
	if producer != nil {
		sink.Add(internalrepo.NewKafkaSink(producer, cfg.Kafka.ForecastTopic, cfg.Pipeline.Symbol))
	}
	if hub != nil {
		sink.Add(hub)
	}
	return sink
}

func ProvideInference(
	cfg *config.Config,
	source domrepo.SnapshotSource,
	bundle *service.ModelBundle,
	sink domrepo.ForecastSink,
	m domrepo.Metrics,
	l *applogger.Logger,
) *usecase.InferenceUseCase {
	return usecase.NewInferenceUseCase(source, bundle, sink,
		usecase.WithInferenceTimeout(cfg.Pipeline.Timeout),
		usecase.WithInferenceMetrics(m),
		usecase.WithInferenceLogger(l),
	)
}

func ProvideRefresh(
	cfg *config.Config,
	inf *usecase.InferenceUseCase,
	query *usecase.ForecastQueryUseCase,
	c cache.Service,
	l *applogger.Logger,
) *usecase.RefreshUseCase {
	return usecase.NewRefreshUseCase(inf, query, c, cfg.Pipeline.Symbol, cfg.Cache.LockTTL, l)
}

func ProvideTrainingConfig(cfg *config.Config) training.Config {
	t := cfg.Training
	return training.Config{
		Seed:         t.Seed,
		ModelVersion: t.ModelVersion,
		Symbol:       cfg.Pipeline.Symbol,
		Autoencoder: embedding.AutoencoderTraining{
			Epochs:       t.Autoencoder.Epochs,
			BatchSize:    t.BatchSize,
			LearningRate: t.Autoencoder.LearningRate,
		},
		Classifier: fusion.ClassifierTraining{
			Epochs:       t.Epochs,
			BatchSize:    t.BatchSize,
			LearningRate: t.LearningRate,
		},
		Booster: fusion.BoosterTraining{
			Rounds:       t.Expansion.Rounds,
			MaxDepth:     t.Expansion.MaxDepth,
			LearningRate: t.Expansion.LearningRate,
			MinLeaf:      t.Expansion.MinLeaf,
			Bins:         t.Expansion.Bins,
			Lambda:       t.Expansion.Lambda,
		},
	}
}

func ProvideTraining(
	source domrepo.SnapshotSource,
	store *internalrepo.ModelStore,
	tcfg training.Config,
	l *applogger.Logger,
) *usecase.TrainingUseCase {
	return usecase.NewTrainingUseCase(source, store, tcfg, l)
}

// ProvideTrainQueue builds the Redis job queue that runs training requests,
// or nil without Redis.
func ProvideTrainQueue(cfg *config.Config, rc *redis.Client, uc *usecase.TrainingUseCase, l *applogger.Logger) *queue.RedisQueue {
	if rc == nil {
		return nil
	}
	q := queue.NewRedisQueue(l, queue.QueueConfig{
		Workers:    1,
		RetryLimit: cfg.Queue.MaxRetries,
		PollWait:   cfg.Queue.PollWait,
	}, rc, queue.WithKeyPrefix(cfg.Redis.Prefix+cfg.Queue.Name))
	q.RegisterJob(usecase.NewTrainJob(uc, l))
	return q
}

// ProvideLocalTrainScheduler is only used when there is no queue.
func ProvideLocalTrainScheduler(q *queue.RedisQueue, uc *usecase.TrainingUseCase, l *applogger.Logger) *usecase.LocalTrainScheduler {
	if q != nil {
		return nil
	}
	return usecase.NewLocalTrainScheduler(uc, l)
}

func ProvideTrainScheduler(q *queue.RedisQueue, local *usecase.LocalTrainScheduler) usecase.TrainScheduler {
	if q != nil {
		return usecase.NewQueueTrainScheduler(q)
	}
	return local
}

func ProvideRateLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst)
}

func ProvideCacheUpdatedHandler(cfg *config.Config, refresh *usecase.RefreshUseCase, l *applogger.Logger) *usecase.CacheUpdatedHandler {
	return usecase.NewCacheUpdatedHandler(cfg.Kafka.CacheTopic, cfg.Pipeline.Symbol, refresh, l)
}

// ProvideNotificationThrottle guards the cache-updated handler against
// notification bursts.
func ProvideNotificationThrottle(cfg *config.Config, kh *usecase.CacheUpdatedHandler, l *applogger.Logger) *middleware.NotificationThrottle {
	return middleware.NewNotificationThrottle(kh,
		middleware.WithMinInterval(cfg.Kafka.Consumer.MinRefreshInterval),
		middleware.WithThrottleLogger(l),
	)
}

// ProvideForecastHandler builds the API handler and registers a health probe
// for every configured dependency.
func ProvideForecastHandler(
	l *applogger.Logger,
	query *usecase.ForecastQueryUseCase,
	refresh *usecase.RefreshUseCase,
	sched usecase.TrainScheduler,
	hub *api.Hub,
	rl *ratelimit.Limiter,
	bundle *service.ModelBundle,
	ch *pkgch.Client,
	rc *redis.Client,
) *api.ForecastEchoHandler {
	h := api.NewForecastEchoHandler(l, query, refresh, sched, hub, rl)
	h.AddHealthCheck("models", func(context.Context) error {
		return bundle.Validate()
	})
	if ch != nil {
		h.AddHealthCheck("clickhouse", ch.Health)
	}
	if rc != nil {
		h.AddHealthCheck("redis", func(ctx context.Context) error {
			return rc.Ping(ctx).Err()
		})
	}
	return h
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	h *api.ForecastEchoHandler,
	consumer *pkgkafka.Consumer,
	kh *middleware.NotificationThrottle,
	q *queue.RedisQueue,
	local *usecase.LocalTrainScheduler,
	hub *api.Hub,
	sink domrepo.ForecastSink,
	c cache.Service,
	producer *pkgkafka.Producer,
	ch *pkgch.Client,
	rc *redis.Client,
) *server.App {
	opts := []server.Option{
		server.WithHub(hub),
		server.WithConsumer(consumer, kh),
	}
	if q != nil {
		opts = append(opts, server.WithTrainQueue(q))
	}
	if local != nil {
		opts = append(opts, server.WithLocalTrainer(local))
	}
	// closed in reverse: sinks before the clients they write through
	if rc != nil {
		opts = append(opts, server.WithCloser("redis", rc))
	}
	if ch != nil {
		opts = append(opts, server.WithCloser("clickhouse", ch))
	}
	if producer != nil {
		opts = append(opts, server.WithCloser("kafka producer", producer))
	}
	if cc, ok := c.(io.Closer); ok {
		opts = append(opts, server.WithCloser("cache", cc))
	}
	opts = append(opts, server.WithCloser("forecast sink", sink))

	return server.New(cfg, l, []xhttp.Handler{h}, opts...)
}

// Pipeline is the part of the graph the one-shot commands need.
type Pipeline struct {
	Config     *config.Config
	Logger     *applogger.Logger
	Inference  *usecase.InferenceUseCase
	Training   *usecase.TrainingUseCase
	Series     *internalrepo.CHSeriesStore
	Sink       domrepo.ForecastSink
	Cache      cache.Service
	Producer   *pkgkafka.Producer
	ClickHouse *pkgch.Client
	Redis      *redis.Client
}

// Close releases the pipeline's clients.
func (p *Pipeline) Close() {
	if p.Sink != nil {
		_ = p.Sink.Close()
	}
	if cc, ok := p.Cache.(io.Closer); ok {
		_ = cc.Close()
	}
	if p.Producer != nil {
		_ = p.Producer.Close()
	}
	if p.ClickHouse != nil {
		_ = p.ClickHouse.Close()
	}
	if p.Redis != nil {
		_ = p.Redis.Close()
	}
	if p.Logger != nil {
		p.Logger.DetachDigest()
	}
}
