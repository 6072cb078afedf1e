package stores

import (
	"consentsync/internal/apperr"
	"consentsync/internal/backend"
	"consentsync/internal/cache"
	"consentsync/internal/models"
	"consentsync/internal/persistence"
	"consentsync/internal/providers"
	"consentsync/internal/structures"
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// DependencyChecker reports whether consent records still reference an artist.
type DependencyChecker interface {
	HasDependents(ctx context.Context, artist models.Artist) (bool, error)
}

// ConfigStoreInterface is the configuration surface the controllers use.
// Artist mutations return the locally applied artist together with a remote
// write error and the zero artist for any other error.
type ConfigStoreInterface interface {
	Config() models.StudioConfig
	ConfigID() string
	ArtistByName(name string) (models.Artist, bool)
	UpdateConfig(ctx context.Context, patch models.ConfigPatch) error
	AddArtist(ctx context.Context, artist models.Artist) (models.Artist, error)
	UpdateArtist(ctx context.Context, id string, patch models.ArtistPatch) (models.Artist, error)
	RemoveArtist(ctx context.Context, id string) error
	Refresh(ctx context.Context) error
	RetryConnection()
	Status() Status
}

type ConfigStore struct {
	*core

	mu       sync.RWMutex
	config   models.StudioConfig
	configID string
	deps     DependencyChecker
}

func NewConfigStore(conf *structures.Config, env *Env, deps DependencyChecker) *ConfigStore {
	s := &ConfigStore{
		core:   newCore("config", conf.Stores.Config, env),
		config: models.DefaultStudioConfig(),
		deps:   deps,
	}
	s.fetch = s.fetchConfig
	s.feeds = []feed{
		{table: models.TableConfig, refresh: s.reload},
		{table: models.TableArtists, refresh: s.RefreshArtists},
	}

	if id, ok := env.Durable.GetValue(persistence.ValueConfigID); ok {
		s.configID = id
	}
	if cfg, ok := cache.Get[models.StudioConfig](env.Cache, persistence.KeyStudioConfig); ok {
		s.config = cfg
		s.seeded()
		env.Logger.Infof(providers.TypeSync, "config store: serving cached configuration for %q", cfg.StudioName)
	}
	return s
}

// Config returns a copy of the current configuration.
func (s *ConfigStore) Config() models.StudioConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.Clone()
}

func (s *ConfigStore) ConfigID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.configID
}

func (s *ConfigStore) ArtistByName(name string) (models.Artist, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.ArtistByName(name)
}

func (s *ConfigStore) Artist(id string) (models.Artist, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.config.ArtistIndex(id); i >= 0 {
		return s.config.Artists[i], true
	}
	return models.Artist{}, false
}

// fetchConfig reads the newest configuration row, creating the default one
// on an empty backend, and then its artists.
func (s *ConfigStore) fetchConfig(ctx context.Context, seen uint64) (bool, error) {
	be := s.env.Backend
	rows, err := be.Select(ctx, models.TableConfig, backend.Query{}.OrderBy("created_at", false).WithLimit(1))
	if err != nil {
		return false, err
	}

	var row models.ConfigRow
	if len(rows) == 0 {
		s.env.Logger.Infof(providers.TypeSync, "config store: no configuration found, creating the default one")
		def, err := backend.Encode(models.ConfigRowFrom(models.DefaultStudioConfig()))
		if err != nil {
			return false, err
		}
		created, err := be.Insert(ctx, models.TableConfig, def)
		if err != nil {
			return false, err
		}
		rows = []backend.Row{created}
	}
	if err := backend.DecodeRow(rows[0], &row); err != nil {
		return false, fmt.Errorf("decode config: %w", err)
	}

	id := row.ID.String()
	artists, err := s.selectArtists(ctx, id)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	s.configID = id
	installed := s.current(seen)
	var snapshot models.StudioConfig
	if installed {
		cfg := row.ToStudioConfig(artists)
		// health questions live only on this device
		cfg.HealthQuestions = append(cfg.HealthQuestions, s.config.HealthQuestions...)
		s.config = cfg
		snapshot = s.config.Clone()
	}
	s.mu.Unlock()

	s.env.Durable.SetValue(persistence.ValueConfigID, id)
	if installed {
		s.cacheSet(persistence.KeyStudioConfig, snapshot)
	}
	return installed, nil
}

func (s *ConfigStore) selectArtists(ctx context.Context, configID string) ([]models.Artist, error) {
	rows, err := s.env.Backend.Select(ctx, models.TableArtists,
		backend.Query{}.Eq("config_id", configID).OrderBy("created_at", true))
	if err != nil {
		return nil, err
	}
	var decoded []models.ArtistRow
	if err := backend.Decode(rows, &decoded); err != nil {
		return nil, fmt.Errorf("decode artists: %w", err)
	}
	artists := make([]models.Artist, 0, len(decoded))
	for _, r := range decoded {
		artists = append(artists, r.ToArtist())
	}
	return artists, nil
}

// RefreshArtists reloads only the artist list after the artists table
// changed. Without a known configuration, or when local changes raced the
// read, it falls back to a full load.
func (s *ConfigStore) RefreshArtists(ctx context.Context) error {
	id := s.ConfigID()
	if id == "" {
		return s.reload(ctx)
	}

	var dropped bool
	err := s.share(ctx, "artists", true, func() error {
		lctx, cancel := s.loadContext()
		defer cancel()
		seen := s.changes.Load()
		artists, err := s.selectArtists(lctx, id)
		if err != nil {
			return apperr.FromContext("config refresh artists", err)
		}
		s.mu.Lock()
		if !s.current(seen) {
			s.mu.Unlock()
			dropped = true
			return nil
		}
		s.config.Artists = artists
		snapshot := s.config.Clone()
		s.mu.Unlock()
		s.cacheSet(persistence.KeyStudioConfig, snapshot)
		return nil
	})
	if err == nil && dropped {
		return s.reload(ctx)
	}
	return err
}

// commit applies a local change and its cache slot, opening the change
// with beginChange. When apply fails nothing is changed.
func (s *ConfigStore) commit(apply func(cfg *models.StudioConfig) error) error {
	s.mu.Lock()
	next := s.config.Clone()
	if err := apply(&next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.config = next
	s.beginChange()
	snapshot := s.config.Clone()
	s.mu.Unlock()
	s.cacheSet(persistence.KeyStudioConfig, snapshot)
	return nil
}

func (s *ConfigStore) requireConfigID(op string) (string, error) {
	id := s.ConfigID()
	if id == "" {
		return "", apperr.New(apperr.NotFound, op, "configuration not loaded yet")
	}
	return id, nil
}

func (s *ConfigStore) UpdateConfig(ctx context.Context, patch models.ConfigPatch) error {
	const op = "update config"
	if patch.Empty() {
		return nil
	}
	if err := s.ensureOnline(ctx, op); err != nil {
		return err
	}
	id, err := s.requireConfigID(op)
	if err != nil {
		return err
	}

	_ = s.commit(func(cfg *models.StudioConfig) error {
		*cfg = patch.Apply(*cfg)
		return nil
	})

	row := patch.Row()
	row["updated_at"] = s.now()
	err = s.remote(ctx, op, func(ctx context.Context) error {
		_, err := s.env.Backend.Update(ctx, models.TableConfig, id, row)
		return err
	})
	return s.settle(id, err)
}

// AddArtist appends the artist with a client minted id and inserts it.
func (s *ConfigStore) AddArtist(ctx context.Context, artist models.Artist) (models.Artist, error) {
	const op = "add artist"
	if err := artist.Validate(); err != nil {
		return models.Artist{}, apperr.Wrap(apperr.IntegrityViolation, op, err)
	}
	if err := s.ensureOnline(ctx, op); err != nil {
		return models.Artist{}, err
	}
	configID, err := s.requireConfigID(op)
	if err != nil {
		return models.Artist{}, err
	}
	if artist.ID == "" {
		artist.ID = uuid.NewString()
	}

	_ = s.commit(func(cfg *models.StudioConfig) error {
		cfg.Artists = append(cfg.Artists, artist)
		return nil
	})

	row, err := backend.Encode(models.ArtistRowFrom(artist, configID))
	if err != nil {
		return artist, s.settle(artist.ID, err)
	}
	err = s.remote(ctx, op, func(ctx context.Context) error {
		_, err := s.env.Backend.Insert(ctx, models.TableArtists, row)
		return err
	})
	return artist, s.settle(artist.ID, err)
}

func (s *ConfigStore) UpdateArtist(ctx context.Context, id string, patch models.ArtistPatch) (models.Artist, error) {
	const op = "update artist"
	if err := s.ensureOnline(ctx, op); err != nil {
		return models.Artist{}, err
	}
	if patch.Empty() {
		current, ok := s.Artist(id)
		if !ok {
			return models.Artist{}, apperr.New(apperr.NotFound, op, fmt.Sprintf("artist %s not found", id))
		}
		return current, nil
	}

	// patched against the stored artist, not a copy read before the lock
	var updated models.Artist
	err := s.commit(func(cfg *models.StudioConfig) error {
		i := cfg.ArtistIndex(id)
		if i < 0 {
			return apperr.New(apperr.NotFound, op, fmt.Sprintf("artist %s not found", id))
		}
		updated = patch.Apply(cfg.Artists[i])
		if err := updated.Validate(); err != nil {
			return apperr.Wrap(apperr.IntegrityViolation, op, err)
		}
		cfg.Artists[i] = updated
		return nil
	})
	if err != nil {
		return models.Artist{}, err
	}

	row := patch.Row()
	row["updated_at"] = s.now()
	err = s.remote(ctx, op, func(ctx context.Context) error {
		_, err := s.env.Backend.Update(ctx, models.TableArtists, id, row)
		return err
	})
	return updated, s.settle(id, err)
}

// RemoveArtist deletes an artist no consent record refers to. The artist
// leaves the local list only after the backend confirmed the delete.
func (s *ConfigStore) RemoveArtist(ctx context.Context, id string) error {
	const op = "remove artist"
	if err := s.ensureOnline(ctx, op); err != nil {
		return err
	}
	artist, ok := s.Artist(id)
	if !ok {
		return apperr.New(apperr.NotFound, op, fmt.Sprintf("artist %s not found", id))
	}

	referenced, err := s.deps.HasDependents(ctx, artist)
	if err != nil {
		return err
	}
	if referenced {
		return apperr.New(apperr.IntegrityViolation, op,
			fmt.Sprintf("artist %s has consent records and cannot be removed", artist.Name))
	}

	// loads that read the artist before the delete must not bring it back
	s.mu.Lock()
	s.beginChange()
	s.mu.Unlock()

	err = s.remote(ctx, op, func(ctx context.Context) error {
		return s.env.Backend.Delete(ctx, models.TableArtists, id)
	})
	if err != nil {
		s.endChange()
		return err
	}

	s.mu.Lock()
	if i := s.config.ArtistIndex(id); i >= 0 {
		s.config.Artists = append(s.config.Artists[:i:i], s.config.Artists[i+1:]...)
	}
	snapshot := s.config.Clone()
	s.mu.Unlock()
	s.cacheSet(persistence.KeyStudioConfig, snapshot)
	return s.settle(id, nil)
}
