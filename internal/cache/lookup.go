// Package cache memoizes the media and version lookups a tracking run
// repeats for every file it processes.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/andresmejia3/tracklets/internal/types"
)

// DefaultTTL keeps entries for the length of a typical batch run.
const DefaultTTL = 10 * time.Minute

// Lookup is the read side of an annotation backend.
type Lookup interface {
	Media(ctx context.Context, id int64) (types.Media, error)
	VersionByNumber(ctx context.Context, number int) (types.Version, error)
}

// Lookups wraps a Lookup with an expiring in-memory cache. Failed lookups
// are never cached.
type Lookups struct {
	inner  Lookup
	cache  *gocache.Cache
	logger *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

var _ Lookup = (*Lookups)(nil)

// New wraps inner. A non positive ttl selects DefaultTTL.
func New(inner Lookup, ttl time.Duration, logger *slog.Logger) *Lookups {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Lookups{
		inner:  inner,
		cache:  gocache.New(ttl, ttl*2),
		logger: logger,
	}
}

func (l *Lookups) Media(ctx context.Context, id int64) (types.Media, error) {
	key := fmt.Sprintf("media:%d", id)
	if cached, found := l.cache.Get(key); found {
		if m, ok := cached.(types.Media); ok {
			l.hits.Add(1)
			l.logger.Debug("media cache hit", "media_id", id)
			return m, nil
		}
	}
	l.misses.Add(1)

	m, err := l.inner.Media(ctx, id)
	if err != nil {
		return m, err
	}
	l.cache.Set(key, m, gocache.DefaultExpiration)
	return m, nil
}

func (l *Lookups) VersionByNumber(ctx context.Context, number int) (types.Version, error) {
	key := fmt.Sprintf("version:%d", number)
	if cached, found := l.cache.Get(key); found {
		if v, ok := cached.(types.Version); ok {
			l.hits.Add(1)
			l.logger.Debug("version cache hit", "number", number)
			return v, nil
		}
	}
	l.misses.Add(1)

	v, err := l.inner.VersionByNumber(ctx, number)
	if err != nil {
		return v, err
	}
	l.cache.Set(key, v, gocache.DefaultExpiration)
	return v, nil
}

// ForgetMedia drops one media so the next lookup reaches the backend.
func (l *Lookups) ForgetMedia(id int64) {
	l.cache.Delete(fmt.Sprintf("media:%d", id))
}

// Flush empties the cache.
func (l *Lookups) Flush() {
	l.cache.Flush()
	l.logger.Debug("lookup cache cleared")
}

// Stats reports hit and miss counters and the current entry count.
func (l *Lookups) Stats() (hits, misses int64, items int) {
	return l.hits.Load(), l.misses.Load(), l.cache.ItemCount()
}
