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
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ConsentStoreInterface is the consent surface the controllers use. When a
// mutation fails after the local change, the record is returned with the
// error; otherwise the zero record is.
type ConsentStoreInterface interface {
	Active() []models.ConsentRecord
	Archived() []models.ConsentRecord
	Get(id string) (models.ConsentRecord, bool)
	GetByCode(code string) (models.ConsentRecord, bool)
	Add(ctx context.Context, consent models.NewConsent) (models.ConsentRecord, error)
	Archive(ctx context.Context, id string) (models.ConsentRecord, error)
	Statistics() models.Statistics
	Refresh(ctx context.Context) error
	RetryConnection()
	Status() Status
}

type ConsentStore struct {
	*core

	mu       sync.RWMutex
	active   []models.ConsentRecord
	archived []models.ConsentRecord
	newCode  func() string
	location *time.Location
}

func NewConsentStore(conf *structures.Config, env *Env) *ConsentStore {
	s := &ConsentStore{
		core:     newCore("consents", conf.Stores.Consents, env),
		active:   []models.ConsentRecord{},
		archived: []models.ConsentRecord{},
		newCode:  NewCode,
		location: time.Local,
	}
	s.fetch = s.fetchConsents
	s.feeds = []feed{{table: models.TableConsents, refresh: s.reload}}

	active, okActive := cache.Get[[]models.ConsentRecord](env.Cache, persistence.KeyActiveConsents)
	archived, okArchived := cache.Get[[]models.ConsentRecord](env.Cache, persistence.KeyArchivedConsents)
	if okActive && active != nil {
		s.active = active
	}
	if okArchived && archived != nil {
		s.archived = archived
	}
	if okActive || okArchived {
		s.seeded()
		env.Logger.Infof(providers.TypeSync, "consent store: serving %d active and %d archived cached records",
			len(s.active), len(s.archived))
	}
	return s
}

func (s *ConsentStore) Active() []models.ConsentRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.active)
}

func (s *ConsentStore) Archived() []models.ConsentRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.archived)
}

// Get looks id up in both collections.
func (s *ConsentStore) Get(id string) (models.ConsentRecord, bool) {
	return s.find(func(r models.ConsentRecord) bool { return r.ID == id })
}

// GetByCode looks a verification code up in both collections.
func (s *ConsentStore) GetByCode(code string) (models.ConsentRecord, bool) {
	return s.find(func(r models.ConsentRecord) bool { return r.Code == code })
}

func (s *ConsentStore) find(match func(models.ConsentRecord) bool) (models.ConsentRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := slices.IndexFunc(s.active, match); i >= 0 {
		return s.active[i], true
	}
	if i := slices.IndexFunc(s.archived, match); i >= 0 {
		return s.archived[i], true
	}
	return models.ConsentRecord{}, false
}

func (s *ConsentStore) Statistics() models.Statistics {
	return ComputeStatistics(s.Active(), s.location)
}

// fetchConsents reads both collections in parallel. They replace the local
// ones only if no local change happened since seen.
func (s *ConsentStore) fetchConsents(ctx context.Context, seen uint64) (bool, error) {
	var active, archived []models.ConsentRecord
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		active, err = s.selectConsents(gctx, false)
		return err
	})
	g.Go(func() error {
		var err error
		archived, err = s.selectConsents(gctx, true)
		return err
	})
	if err := g.Wait(); err != nil {
		return false, err
	}

	s.mu.Lock()
	if !s.current(seen) {
		s.mu.Unlock()
		return false, nil
	}
	s.active, s.archived = active, archived
	s.mu.Unlock()

	s.cacheSet(persistence.KeyActiveConsents, active)
	s.cacheSet(persistence.KeyArchivedConsents, archived)
	return true, nil
}

func (s *ConsentStore) selectConsents(ctx context.Context, archived bool) ([]models.ConsentRecord, error) {
	rows, err := s.env.Backend.Select(ctx, models.TableConsents, backend.Query{Columns: models.ConsentColumns}.
		Eq("archived", archived).
		OrderBy("created_at", false))
	if err != nil {
		return nil, err
	}
	var decoded []models.ConsentRow
	if err := backend.Decode(rows, &decoded); err != nil {
		return nil, fmt.Errorf("decode consents: %w", err)
	}
	out := make([]models.ConsentRecord, 0, len(decoded))
	for _, r := range decoded {
		out = append(out, r.ToConsent())
	}
	return out, nil
}

// Add stores a new consent record under a freshly minted verification code.
// The record is visible in Active before the backend confirms it.
func (s *ConsentStore) Add(ctx context.Context, consent models.NewConsent) (models.ConsentRecord, error) {
	const op = "add consent"
	if err := consent.Validate(); err != nil {
		return models.ConsentRecord{}, apperr.Wrap(apperr.IntegrityViolation, op, err)
	}
	if err := s.ensureOnline(ctx, op); err != nil {
		return models.ConsentRecord{}, err
	}
	artistID, err := s.resolveArtist(ctx, consent.ArtistName)
	if err != nil {
		return models.ConsentRecord{}, err
	}

	health := consent.Health
	if health == nil {
		health = models.HealthAnswers{}
	}
	rec := models.ConsentRecord{
		ID:         uuid.NewString(),
		Code:       s.newCode(),
		CreatedAt:  s.env.Clock.Now().UTC(),
		Client:     consent.Client,
		Guardian:   consent.Guardian,
		Health:     health,
		ArtistName: consent.ArtistName,
		Signature:  consent.Signature,
	}

	s.mu.Lock()
	s.active = slices.Insert(s.active, 0, rec)
	s.beginChange()
	active := slices.Clone(s.active)
	s.mu.Unlock()
	s.cacheSet(persistence.KeyActiveConsents, active)

	row, err := backend.Encode(models.ConsentRowFrom(rec, artistID))
	if err != nil {
		return rec, s.settle(rec.ID, err)
	}
	row["created_at"] = rec.CreatedAt.Format(time.RFC3339Nano)
	err = s.remote(ctx, op, func(ctx context.Context) error {
		_, err := s.env.Backend.Insert(ctx, models.TableConsents, row)
		return err
	})
	return rec, s.settle(rec.ID, err)
}

func (s *ConsentStore) resolveArtist(ctx context.Context, name string) (string, error) {
	var rows []backend.Row
	err := s.remote(ctx, "resolve artist", func(ctx context.Context) error {
		var err error
		rows, err = s.env.Backend.Select(ctx, models.TableArtists,
			backend.Query{Columns: []string{"id"}}.Eq("name", name).WithLimit(1))
		return err
	})
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", apperr.New(apperr.NotFound, "resolve artist", fmt.Sprintf("artist %q not found", name))
	}
	var artist models.ArtistRow
	if err := backend.DecodeRow(rows[0], &artist); err != nil {
		return "", fmt.Errorf("decode artist: %w", err)
	}
	return artist.ID.String(), nil
}

// Archive moves a record from the active to the archived collection. Both
// collections and both cache slots change together.
func (s *ConsentStore) Archive(ctx context.Context, id string) (models.ConsentRecord, error) {
	const op = "archive consent"
	if err := s.ensureOnline(ctx, op); err != nil {
		return models.ConsentRecord{}, err
	}

	s.mu.Lock()
	i := slices.IndexFunc(s.active, func(r models.ConsentRecord) bool { return r.ID == id })
	if i < 0 {
		archived := slices.ContainsFunc(s.archived, func(r models.ConsentRecord) bool { return r.ID == id })
		s.mu.Unlock()
		if archived {
			return models.ConsentRecord{}, apperr.New(apperr.IntegrityViolation, op, fmt.Sprintf("consent %s is already archived", id))
		}
		return models.ConsentRecord{}, apperr.New(apperr.NotFound, op, fmt.Sprintf("consent %s not found", id))
	}

	rec := s.active[i]
	rec.Archived = true
	s.active = slices.Delete(s.active, i, i+1)
	// archived stays newest first
	at, _ := slices.BinarySearchFunc(s.archived, rec, func(e, target models.ConsentRecord) int {
		return target.CreatedAt.Compare(e.CreatedAt)
	})
	s.archived = slices.Insert(s.archived, at, rec)
	s.beginChange()
	active, archived := slices.Clone(s.active), slices.Clone(s.archived)
	s.mu.Unlock()

	s.cacheSet(persistence.KeyActiveConsents, active)
	s.cacheSet(persistence.KeyArchivedConsents, archived)

	patch := backend.Row{"archived": true, "updated_at": s.now()}
	err := s.remote(ctx, op, func(ctx context.Context) error {
		_, err := s.env.Backend.Update(ctx, models.TableConsents, id, patch)
		return err
	})
	return rec, s.settle(id, err)
}

// HasDependents checks the local collections first and asks the backend
// only when no local record names the artist.
func (s *ConsentStore) HasDependents(ctx context.Context, artist models.Artist) (bool, error) {
	byArtist := func(r models.ConsentRecord) bool { return r.ArtistName == artist.Name }
	s.mu.RLock()
	local := slices.ContainsFunc(s.active, byArtist) || slices.ContainsFunc(s.archived, byArtist)
	s.mu.RUnlock()
	if local || artist.ID == "" {
		return local, nil
	}

	var rows []backend.Row
	err := s.remote(ctx, "check artist references", func(ctx context.Context) error {
		var err error
		rows, err = s.env.Backend.Select(ctx, models.TableConsents,
			backend.Query{Columns: []string{"id"}}.Eq("artist_id", artist.ID).WithLimit(1))
		return err
	})
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}
