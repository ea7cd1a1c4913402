//go:build wireinject
// +build wireinject

package di

import (
	"FinScreen/pkg/config"
	"FinScreen/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideMetrics,
		ProvideClickHouseClient,
		ProvideRateCache,
		ProvideHTTPClient,

		// Market data
		ProvideBinanceREST,
		ProvideSymbolSource,
		ProvideFeed,
		ProvideBarsProvider,
		ProvideRateProvider,

		// Sinks
		ProvideMatchPublisher,
		ProvideMatchArchive,

		// Pipeline
		ProvideRule,
		ProvideGapTracker,
		ProvideTradeBuffer,
		ProvideTradeIngestor,
		ProvideWindowAggregator,
		ProvideBaselineEstimator,
		ProvideRateKeeper,
		ProvideHistoryStore,
		ProvideScreeningEngine,
		ProvideQueryFacade,
		ProvideSymbolCatalog,
		ProvideScreener,

		// Application server
		ProvideHTTPHandler,
		ProvideApp,
	)
	return &server.App{}, nil
}
