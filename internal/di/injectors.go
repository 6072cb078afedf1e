//go:build wireinject
// +build wireinject

package di

import (
	"consentsync/internal"
	"consentsync/internal/cache"
	"consentsync/internal/changefeed"
	"consentsync/internal/clock"
	"consentsync/internal/connectivity"
	"consentsync/internal/controllers"
	"consentsync/internal/persistence"
	"consentsync/internal/providers"
	"consentsync/internal/retry"
	"consentsync/internal/stores"
	"consentsync/internal/structures"

	wire "github.com/google/wire"
)

var durableSet = wire.NewSet(
	providers.NewConfigProvider,
	providers.NewLogProvider,
	providers.NewMetricsProvider,

	persistence.NewSnapshotCompressor,
	persistence.NewFileManager,
	persistence.NewDurableStore,
	persistence.NewScheduler,
	connectivity.NewState,
)

func InitApp(cfg *structures.CliFlags) (*internal.App, error) {

	wire.Build(
		durableSet,
		clock.Real,
		providers.NewInstrumentedCacheProvider,
		cache.NewLocalCache,
		wire.Bind(new(cache.LocalCacheInterface), new(*cache.LocalCache)),

		NewBackend,
		connectivity.NewNetworkChecker,
		retry.NewScheduler,
		connectivity.NewProbe,
		wire.Bind(new(connectivity.ProbeInterface), new(*connectivity.Probe)),
		changefeed.NewSubscriber,
		wire.Bind(new(changefeed.SubscriberInterface), new(*changefeed.Subscriber)),

		stores.NewEnv,
		stores.NewConsentStore,
		stores.NewConfigStore,
		wire.Bind(new(stores.DependencyChecker), new(*stores.ConsentStore)),
		wire.Bind(new(stores.ConsentStoreInterface), new(*stores.ConsentStore)),
		wire.Bind(new(stores.ConfigStoreInterface), new(*stores.ConfigStore)),

		controllers.NewApiController,
		controllers.NewHealthController,
		internal.InitRoutes,
		internal.NewApp,
	)

	return nil, nil
}

func InitMaintenance(cfg *structures.CliFlags) (*Maintenance, error) {

	wire.Build(
		durableSet,
		wire.Struct(new(Maintenance), "*"),
	)

	return nil, nil
}
