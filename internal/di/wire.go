//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"OmniSpectrum/pkg/config"
	"OmniSpectrum/pkg/server"
)

var infraSet = wire.NewSet(
	ProvideKafkaProducer,
	ProvideLogger,
	ProvideClickHouseClient,
	ProvideRedisClient,
	ProvideCache,
	ProvideMetrics,
)

var pipelineSet = wire.NewSet(
	ProvideSeriesStore,
	ProvideSnapshotSource,
	ProvideModelStore,
	ProvideModelBundle,
	ProvideFileSink,
	ProvideCacheSink,
	ProvideForecastQuery,
	ProvideHub,
	ProvideForecastSink,
	ProvideInference,
	ProvideTrainingConfig,
	ProvideTraining,
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		infraSet,
		pipelineSet,

		// Use cases
		ProvideRefresh,
		ProvideTrainQueue,
		ProvideLocalTrainScheduler,
		ProvideTrainScheduler,
		ProvideRateLimiter,

		// Transport
		ProvideKafkaConsumer,
		ProvideCacheUpdatedHandler,
		ProvideNotificationThrottle,
		ProvideForecastHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}

// InitializePipeline wires the graph used by the infer, train and synth
// commands.
func InitializePipeline(cfg *config.Config) (*Pipeline, error) {
	wire.Build(
		infraSet,
		pipelineSet,
		wire.Struct(new(Pipeline), "*"),
	)
	return &Pipeline{}, nil
}
