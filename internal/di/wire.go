//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"ChartFeed/pkg/config"
	"ChartFeed/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application plus a
// cleanup that releases the infrastructure clients.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		ProvideInstanceID,
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideCacheStore,
		ProvideClickHouseClient,
		ProvideSQLiteClient,
		ProvideReloadPublisher,
		ProvideKafkaConsumer,

		// Repositories
		ProvideQueryCache,
		ProvideSeriesStore,
		ProvideDatasetSources,

		// Use cases
		ProvideDatasetService,
		ProvideReloadHandler,
		ProvideCandlesUseCase,
		ProvideBackfillConfig,

		// HTTP
		ProvideHandlers,
		ProvideRateLimiter,
		ProvideHTTPServer,

		ProvideApp,
	)
	return nil, nil, nil
}
