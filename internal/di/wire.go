//go:build wireinject
// +build wireinject

package di

import (
	"TriggerHub/pkg/config"
	"TriggerHub/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideCacheService,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,

		// Repositories
		ProvideConditionStore,
		ProvideSubscriptionStore,
		ProvideEventStore,
		ProvideTriggerBus,
		ProvideIdempotencyStore,
		ProvideMarketFeed,

		// Engine
		ProvideRegistry,
		ProvideIndicatorCache,
		ProvideStateStore,
		ProvideDispatcher,
		ProvideTriggerSink,
		ProvideEvaluator,
		ProvidePipeline,
		ProvideCandleCollector,
		ProvideTriggerHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
