package remote

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/amaumene/shelfsync/internal/models"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

const fetchAllKey = "fetch_all"

// FallbackStore is a network-first response cache in front of a Store. A
// successful FetchAll is remembered for ttl; when the network read fails, the
// remembered rows are served as a success. Callers cannot tell the difference.
type FallbackStore struct {
	inner     Store
	responses *cache.Cache
	logger    *logrus.Logger

	// bumped by every write; a read that overlapped one is not remembered
	generation atomic.Uint64
}

// NewFallbackStore wraps inner with a response cache of the given ttl
func NewFallbackStore(inner Store, ttl time.Duration, logger *logrus.Logger) *FallbackStore {
	return &FallbackStore{
		inner:     inner,
		responses: cache.New(ttl, 2*ttl),
		logger:    logger,
	}
}

// FetchAll implements Store.FetchAll
func (s *FallbackStore) FetchAll(ctx context.Context) ([]models.Row, error) {
	gen := s.generation.Load()
	rows, err := s.inner.FetchAll(ctx)
	if err == nil {
		if s.generation.Load() == gen {
			s.responses.SetDefault(fetchAllKey, rows)
		}
		return rows, nil
	}

	cached, ok := s.responses.Get(fetchAllKey)
	if !ok {
		return nil, err
	}

	s.logger.WithError(err).Warn("Remote read failed, serving cached response")
	stale := cached.([]models.Row)
	out := make([]models.Row, len(stale))
	copy(out, stale)
	return out, nil
}

// Upsert implements Store.Upsert
func (s *FallbackStore) Upsert(ctx context.Context, row *models.Row) error {
	err := s.inner.Upsert(ctx, row)
	s.invalidate()
	return err
}

// Patch implements Store.Patch
func (s *FallbackStore) Patch(ctx context.Context, id string, fields models.Columns) error {
	err := s.inner.Patch(ctx, id, fields)
	s.invalidate()
	return err
}

// Remove implements Store.Remove
func (s *FallbackStore) Remove(ctx context.Context, id string) error {
	err := s.inner.Remove(ctx, id)
	s.invalidate()
	return err
}

func (s *FallbackStore) invalidate() {
	s.generation.Add(1)
	s.responses.Delete(fetchAllKey)
}
