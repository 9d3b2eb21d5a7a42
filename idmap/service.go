// Package idmap translates source identifiers into target identifiers through a durable
// store with a bounded per-type cache in front of it.
package idmap

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// DefaultMaximumSize is the cache capacity of a source type without its own setting.
const DefaultMaximumSize = 500000

type Options struct {
	// MaximumSize is the cache capacity per source type. 0 means DefaultMaximumSize,
	// a negative value disables caching.
	MaximumSize int
	// PerType overrides MaximumSize for individual source types.
	PerType map[string]int
	// NewID generates candidate target ids, a UUIDv7 string by default.
	NewID func() string
}

// Service resolves target ids. It is safe for concurrent use; the store's unique key is
// what guarantees a single mapping per source key across services and processes.
type Service struct {
	store  Store
	opts   Options
	caches sync.Map
	group  singleflight.Group
}

func NewService(store Store, opts Options) *Service {
	if opts.MaximumSize == 0 {
		opts.MaximumSize = DefaultMaximumSize
	}
	if opts.NewID == nil {
		opts.NewID = newUUID
	}
	return &Service{store: store, opts: opts}
}

func newUUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (s *Service) cache(sourceType string) *lru.Cache[string, string] {
	if c, ok := s.caches.Load(sourceType); ok {
		return c.(*lru.Cache[string, string])
	}
	size := s.opts.MaximumSize
	if n, ok := s.opts.PerType[sourceType]; ok {
		size = n
	}
	if size <= 0 {
		return nil
	}
	c, err := lru.New[string, string](size)
	if err != nil {
		return nil
	}
	actual, _ := s.caches.LoadOrStore(sourceType, c)
	return actual.(*lru.Cache[string, string])
}

// Resolve returns the target id of the key, creating the mapping when there is none.
// Concurrent callers always observe the same target id.
func (s *Service) Resolve(ctx context.Context, sourceType, sourceID string) (string, error) {
	c := s.cache(sourceType)
	if c != nil {
		if id, ok := c.Get(sourceID); ok {
			return id, nil
		}
	}
	v, err, _ := s.group.Do(sourceType+"\x00"+sourceID, func() (interface{}, error) {
		return s.resolve(ctx, sourceType, sourceID)
	})
	if err != nil {
		return "", err
	}
	id := v.(string)
	if c != nil {
		c.Add(sourceID, id)
	}
	return id, nil
}

func (s *Service) resolve(ctx context.Context, sourceType, sourceID string) (string, error) {
	id, found, err := s.store.Find(ctx, sourceType, sourceID)
	if err != nil {
		return "", unavailable(err)
	}
	if found {
		return id, nil
	}
	candidate := s.opts.NewID()
	err = s.store.Insert(ctx, sourceType, sourceID, candidate)
	if err == nil {
		return candidate, nil
	}
	if !errors.Is(err, ErrUniqueConstraintViolation) {
		return "", unavailable(err)
	}
	// another worker inserted first, its id wins
	id, found, err = s.store.Find(ctx, sourceType, sourceID)
	if err != nil {
		return "", unavailable(err)
	}
	if !found {
		return "", unavailable(fmt.Errorf("mapping %s/%s vanished after a duplicate insert", sourceType, sourceID))
	}
	return id, nil
}

// Lookup returns the target id of an existing mapping, ErrNotMapped when there is none.
func (s *Service) Lookup(ctx context.Context, sourceType, sourceID string) (string, error) {
	c := s.cache(sourceType)
	if c != nil {
		if id, ok := c.Get(sourceID); ok {
			return id, nil
		}
	}
	id, found, err := s.store.Find(ctx, sourceType, sourceID)
	if err != nil {
		return "", unavailable(err)
	}
	if !found {
		return "", fmt.Errorf("%w: %s/%s", ErrNotMapped, sourceType, sourceID)
	}
	if c != nil {
		c.Add(sourceID, id)
	}
	return id, nil
}

// Purge drops every cached entry. Call it after the store was reset.
func (s *Service) Purge() {
	s.caches.Range(func(key, value interface{}) bool {
		value.(*lru.Cache[string, string]).Purge()
		return true
	})
}

func unavailable(err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
