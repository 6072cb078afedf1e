package internal

import (
	"consentsync/internal/connectivity"
	"consentsync/internal/controllers"
	"consentsync/internal/persistence"
	"consentsync/internal/providers"
	"consentsync/internal/stores"
	"consentsync/internal/structures"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// lifecycle is a store the app starts with the server and closes on shutdown.
type lifecycle interface {
	Start(ctx context.Context)
	Close()
}

type App struct {
	WebServer *http.Server

	scheduler persistence.SchedulerInterface
	stores    []lifecycle
	logger    providers.Logger
	cancel    context.CancelFunc
}

func NewApp(
	apiController *controllers.ApiController,
	healthController *controllers.HealthController,
	scheduler persistence.SchedulerInterface,
	configStore *stores.ConfigStore,
	consentStore *stores.ConsentStore,
	probe connectivity.ProbeInterface,
	conf *structures.Config,
	logger providers.Logger,
	router providers.RouterProviderInterface,
	metrics providers.MetricsProviderInterface,
) (*App, error) {
	// Inner mux: API routes
	routes := router.GetRoutes()
	apiMux := http.NewServeMux()
	for _, route := range routes {
		apiMux.Handle(route.Url, route.Handler)
	}

	// Wrap API routes with metrics middleware
	instrumentedAPI := providers.MetricsMiddleware(metrics, routes, apiMux)

	// Outer mux: infrastructure + instrumented API
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthController.Health)
	if conf.Metrics.Enabled {
		mux.Handle("/metrics", promhttp.Handler())
	}
	mux.Handle("/", instrumentedAPI)

	logger.Infof(providers.TypeApp, "Starting %s", conf.AppName)
	if conf.Sync.OfflineMode {
		probe.State().SetOfflineMode(true)
		logger.Warnf(providers.TypeApp, "Offline mode forced by configuration")
	}

	app := &App{
		WebServer: &http.Server{
			Addr:    conf.WebServer.Host + ":" + strconv.Itoa(conf.WebServer.Port),
			Handler: mux,
			// Signatures make request bodies large and mutations wait out retries.
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 2 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		scheduler: scheduler,
		stores:    []lifecycle{consentStore, configStore},
		logger:    logger,
	}

	serverErr := app.start()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-stop:
		logger.Infof(providers.TypeApp, "Shutdown signal received")
	case err := <-serverErr:
		runErr = fmt.Errorf("server error: %w", err)
	}

	if err := app.shutdown(runErr); err != nil {
		return nil, err
	}
	return app, nil
}

func (a *App) start() <-chan error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	for _, s := range a.stores {
		s.Start(ctx)
	}

	a.scheduler.Init()

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Infof(providers.TypeApp, "Listening HTTP clients on %s", a.WebServer.Addr)
		if err := a.WebServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()
	return serverErr
}

// shutdown stops the server, the stores and the flush scheduler and writes
// the final snapshot. The logger is closed last so buffered lines are not
// lost.
func (a *App) shutdown(runErr error) error {
	defer a.logger.Close()

	if runErr == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.WebServer.Shutdown(ctx); err != nil {
			a.logger.Errorf(providers.TypeApp, "HTTP shutdown: %s", err)
		}
	}

	if a.cancel != nil {
		a.cancel()
	}
	for i := len(a.stores) - 1; i >= 0; i-- {
		a.stores[i].Close()
	}
	a.scheduler.Stop()

	// Persist even after a server failure.
	if err := a.scheduler.Persist(); err != nil {
		if runErr != nil {
			return runErr
		}
		a.logger.Errorf(providers.TypeApp, "final snapshot: %s", err)
		return err
	}
	if runErr != nil {
		a.logger.Errorf(providers.TypeApp, "%s", runErr)
		return runErr
	}
	a.logger.Infof(providers.TypeApp, "gracefully stopped")
	return nil
}
