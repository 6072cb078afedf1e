package persistence

import (
	"consentsync/internal/providers"
	"consentsync/internal/structures"
	"sync"
	"time"

	"github.com/roylee0704/gron"
)

type SchedulerInterface interface {
	Init()
	Stop()
	Persist() error
}

// Scheduler flushes the durable store to disk on a fixed interval and on shutdown.
type Scheduler struct {
	config      *structures.Config
	logger      providers.Logger
	store       *Store
	fileManager *FileManager
	metrics     providers.MetricsProviderInterface
	cron        *gron.Cron
	opsMu       sync.Mutex
}

func (s *Scheduler) Init() {
	s.cron = gron.New()
	interval := s.config.Persistence.SaveInterval

	s.cron.AddFunc(gron.Every(interval), func() {
		if !s.store.Dirty() {
			return
		}
		if err := s.flush(); err != nil {
			s.logger.Errorf(providers.TypeApp, "Error while persisting data: %s", err)
			return
		}
		s.logger.Debugf(providers.TypeApp, "Persisted snapshot to file %s", s.config.Persistence.FilePath)
	})

	s.cron.Start()
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

func (s *Scheduler) Persist() error {
	s.logger.Infof(providers.TypeApp, "Persisting snapshot to file...")
	err := s.flush()
	if err != nil {
		s.logger.Errorf(providers.TypeApp, "Error while persisting data: %s", err)
		return err
	}
	return nil
}

func (s *Scheduler) flush() error {
	s.opsMu.Lock()
	defer s.opsMu.Unlock()

	start := time.Now()
	snap, rev := s.store.Snapshot()
	if err := s.fileManager.SaveToFile(s.config.Persistence.FilePath, snap); err != nil {
		return err
	}
	s.store.MarkSaved(rev)
	s.metrics.ObservePersistenceDuration(time.Since(start))
	return nil
}

func NewScheduler(config *structures.Config, logger providers.Logger, store *Store, fileManager *FileManager, metrics providers.MetricsProviderInterface) SchedulerInterface {
	return &Scheduler{
		config:      config,
		logger:      logger,
		store:       store,
		fileManager: fileManager,
		metrics:     metrics,
	}
}
