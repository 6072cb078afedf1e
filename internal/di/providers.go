package di

import (
	"consentsync/internal/backend"
	"consentsync/internal/backend/memory"
	"consentsync/internal/backend/remote"
	"consentsync/internal/clock"
	"consentsync/internal/connectivity"
	"consentsync/internal/persistence"
	"consentsync/internal/providers"
	"consentsync/internal/structures"
)

// Maintenance is the slice of the graph used by CLI subcommands that edit
// the durable snapshot without starting the daemon.
type Maintenance struct {
	State     *connectivity.State
	Scheduler persistence.SchedulerInterface
}

// NewBackend picks the backend driver. The memory driver keeps everything in
// process and is meant for demos and local development.
func NewBackend(conf *structures.Config, clk clock.Clock, logger providers.Logger) backend.Backend {
	if conf.Backend.Driver == "memory" {
		logger.Warnf(providers.TypeApp, "Using the in-memory backend; data is lost on exit")
		return memory.New(clk)
	}
	return remote.NewBackend(conf, logger)
}
