package repository

import (
	"context"
	"sync/atomic"
	"time"

	"mozzafiato/internal/domain"
	"mozzafiato/internal/models"

	"github.com/rs/zerolog"
)

// FailoverResponseCache serves from primary until it errors, then switches
// to fallback and retries primary once recoveryAfter has passed.
type FailoverResponseCache struct {
	primary       domain.ResponseCache
	fallback      domain.ResponseCache
	logger        *zerolog.Logger
	isDown        atomic.Bool
	lastCheck     atomic.Int64
	recoveryAfter time.Duration
	now           func() time.Time
}

func NewFailoverResponseCache(primary, fallback domain.ResponseCache, logger *zerolog.Logger) *FailoverResponseCache {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverResponseCache{
		primary:       primary,
		fallback:      fallback,
		logger:        logger,
		recoveryAfter: time.Minute,
		now:           time.Now,
	}
}

// usePrimary reports whether the next call should go to primary.
func (r *FailoverResponseCache) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	last := time.Unix(0, r.lastCheck.Load())
	return r.now().Sub(last) > r.recoveryAfter
}

func (r *FailoverResponseCache) markDown(err error) {
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Msg("Primary response cache failed, falling back")
	}
	r.lastCheck.Store(r.now().UnixNano())
}

func (r *FailoverResponseCache) markUp() {
	if r.isDown.Swap(false) {
		r.logger.Info().Msg("Primary response cache recovered")
	}
}

func (r *FailoverResponseCache) Put(ctx context.Context, entry *models.CacheEntry) error {
	if r.usePrimary() {
		err := r.primary.Put(ctx, entry)
		if err == nil {
			r.markUp()
			return nil
		}
		r.markDown(err)
	}
	return r.fallback.Put(ctx, entry)
}

func (r *FailoverResponseCache) Get(ctx context.Context, namespace, key string) (*models.CacheEntry, error) {
	if r.usePrimary() {
		entry, err := r.primary.Get(ctx, namespace, key)
		if err == nil {
			r.markUp()
			// Entries written while primary was down live in fallback and
			// may be newer than what primary still holds.
			other, ferr := r.fallback.Get(ctx, namespace, key)
			if ferr != nil || other == nil {
				return entry, nil
			}
			return newer(entry, other), nil
		}
		r.markDown(err)
	}
	return r.fallback.Get(ctx, namespace, key)
}

func (r *FailoverResponseCache) Delete(ctx context.Context, namespace, key string) error {
	if r.usePrimary() {
		if err := r.primary.Delete(ctx, namespace, key); err != nil {
			r.markDown(err)
		} else {
			r.markUp()
		}
	}
	return r.fallback.Delete(ctx, namespace, key)
}

func (r *FailoverResponseCache) Namespaces(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	add := func(names []string) {
		for _, n := range names {
			if _, ok := seen[n]; !ok {
				seen[n] = struct{}{}
				out = append(out, n)
			}
		}
	}

	if r.usePrimary() {
		names, err := r.primary.Namespaces(ctx)
		if err != nil {
			r.markDown(err)
		} else {
			r.markUp()
			add(names)
		}
	}

	names, err := r.fallback.Namespaces(ctx)
	if err != nil {
		return nil, err
	}
	add(names)
	return out, nil
}

func (r *FailoverResponseCache) DropNamespace(ctx context.Context, namespace string) error {
	if r.usePrimary() {
		if err := r.primary.DropNamespace(ctx, namespace); err != nil {
			r.markDown(err)
		} else {
			r.markUp()
		}
	}
	return r.fallback.DropNamespace(ctx, namespace)
}

// newer returns the entry captured last; a nil entry loses.
func newer(a, b *models.CacheEntry) *models.CacheEntry {
	if a == nil {
		return b
	}
	if b == nil || !b.CapturedAt.After(a.CapturedAt) {
		return a
	}
	return b
}
