package entity

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"golang.org/x/sync/singleflight"
)

// CachedDirectory is a read-through cache in front of another Directory.
// Entries are keyed per actor so authorization decisions are never shared,
// and only successful lookups are cached.
type CachedDirectory struct {
	next  Directory
	cache *ristretto.Cache
	ttl   time.Duration
	group singleflight.Group
}

func NewCachedDirectory(next Directory, ttl time.Duration) (*CachedDirectory, error) {
	if ttl <= 0 {
		ttl = time.Minute
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     1 << 12,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create entity cache: %w", err)
	}
	return &CachedDirectory{next: next, cache: cache, ttl: ttl}, nil
}

func (d *CachedDirectory) Character(ctx context.Context, actor Actor, id string) (Character, error) {
	v, err := d.load(ctx, "character", actor, id, func() (any, error) {
		return d.next.Character(ctx, actor, id)
	})
	if err != nil {
		return Character{}, err
	}
	return v.(Character), nil
}

func (d *CachedDirectory) Campaign(ctx context.Context, actor Actor, id string) (Campaign, error) {
	v, err := d.load(ctx, "campaign", actor, id, func() (any, error) {
		return d.next.Campaign(ctx, actor, id)
	})
	if err != nil {
		return Campaign{}, err
	}
	return v.(Campaign), nil
}

func (d *CachedDirectory) World(ctx context.Context, actor Actor, id string) (World, error) {
	v, err := d.load(ctx, "world", actor, id, func() (any, error) {
		return d.next.World(ctx, actor, id)
	})
	if err != nil {
		return World{}, err
	}
	return v.(World), nil
}

// Characters is not cached; listings change more often than single profiles.
func (d *CachedDirectory) Characters(ctx context.Context, actor Actor, worldID string) ([]Character, error) {
	return d.next.Characters(ctx, actor, worldID)
}

func (d *CachedDirectory) Close() {
	d.cache.Close()
}

func (d *CachedDirectory) load(_ context.Context, kind string, actor Actor, id string, fetch func() (any, error)) (any, error) {
	key := cacheKey(kind, actor, id)
	if v, ok := d.cache.Get(key); ok {
		return v, nil
	}
	v, err, _ := d.group.Do(key, func() (any, error) {
		v, err := fetch()
		if err != nil {
			return nil, err
		}
		d.cache.SetWithTTL(key, v, 1, d.ttl)
		return v, nil
	})
	return v, err
}

func cacheKey(kind string, actor Actor, id string) string {
	return kind + "\x00" + actor.ID + "\x00" + id
}
