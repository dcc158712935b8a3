package classification

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"mailsort_server/core/domain"
	"mailsort_server/core/port/out"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// =============================================================================
// Category Snapshot
// =============================================================================

// CategorySnapshot is an immutable view of a user's active categories.
type CategorySnapshot struct {
	UserID     string
	Categories []*domain.Category
	LoadedAt   time.Time
	byName     map[string]*domain.Category
}

func newSnapshot(userID string, categories []*domain.Category) *CategorySnapshot {
	snap := &CategorySnapshot{
		UserID:     userID,
		Categories: make([]*domain.Category, 0, len(categories)),
		LoadedAt:   time.Now(),
		byName:     make(map[string]*domain.Category, len(categories)),
	}
	for _, c := range categories {
		if c == nil || !c.Active {
			continue
		}
		cp := c.Clone()
		snap.Categories = append(snap.Categories, cp)
		snap.byName[strings.ToLower(cp.Name)] = cp
	}
	sort.Slice(snap.Categories, func(i, j int) bool { return snap.Categories[i].Name < snap.Categories[j].Name })
	return snap
}

// Resolve returns the canonical category name for a case-insensitive match.
func (s *CategorySnapshot) Resolve(name string) (string, bool) {
	c, ok := s.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", false
	}
	return c.Name, true
}

// Names returns the active category names in order.
func (s *CategorySnapshot) Names() []string {
	names := make([]string, len(s.Categories))
	for i, c := range s.Categories {
		names[i] = c.Name
	}
	return names
}

// =============================================================================
// Category Cache - per-user registry
// =============================================================================

// CategoryLoader reads the active categories of one user.
type CategoryLoader interface {
	ListActive(ctx context.Context, userID string) ([]*domain.Category, error)
}

type cacheEntry struct {
	snap    *CategorySnapshot
	expires time.Time
}

// CategoryCache holds one snapshot per user. Entries are replaced or dropped,
// never patched. A load that started before an invalidation is never stored.
type CategoryCache struct {
	loader CategoryLoader
	ttl    time.Duration
	bus    out.InvalidationBus
	log    zerolog.Logger

	mu          sync.Mutex
	entries     map[string]*cacheEntry
	generations map[string]uint64
	group       singleflight.Group
}

// NewCategoryCache creates the registry. ttl <= 0 keeps entries until invalidated.
func NewCategoryCache(loader CategoryLoader, ttl time.Duration, log zerolog.Logger) *CategoryCache {
	return &CategoryCache{
		loader:      loader,
		ttl:         ttl,
		log:         log.With().Str("component", "category_cache").Logger(),
		entries:     make(map[string]*cacheEntry),
		generations: make(map[string]uint64),
	}
}

// SetBus attaches the cross-instance invalidation broadcaster.
func (c *CategoryCache) SetBus(bus out.InvalidationBus) {
	c.bus = bus
}

// Get returns the user's snapshot, loading it once for concurrent callers.
func (c *CategoryCache) Get(ctx context.Context, userID string) (*CategorySnapshot, error) {
	c.mu.Lock()
	if e, ok := c.entries[userID]; ok && (c.ttl <= 0 || time.Now().Before(e.expires)) {
		c.mu.Unlock()
		return e.snap, nil
	}
	gen := c.generations[userID]
	c.mu.Unlock()

	key := userID + "#" + strconv.FormatUint(gen, 10)
	v, err, _ := c.group.Do(key, func() (any, error) {
		categories, err := c.loader.ListActive(ctx, userID)
		if err != nil {
			return nil, err
		}
		snap := newSnapshot(userID, categories)

		c.mu.Lock()
		if c.generations[userID] == gen {
			c.entries[userID] = &cacheEntry{snap: snap, expires: time.Now().Add(c.ttl)}
		}
		c.mu.Unlock()
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*CategorySnapshot), nil
}

// Invalidate drops the user's entry here and on every other instance.
func (c *CategoryCache) Invalidate(ctx context.Context, userID string) {
	c.InvalidateLocal(userID)
	if c.bus == nil {
		return
	}
	if err := c.bus.PublishInvalidation(ctx, userID); err != nil {
		c.log.Warn().Err(err).Str("user_id", userID).Msg("failed to broadcast invalidation")
	}
}

// InvalidateLocal drops the user's entry in this process only.
func (c *CategoryCache) InvalidateLocal(userID string) {
	c.mu.Lock()
	delete(c.entries, userID)
	c.generations[userID]++
	c.mu.Unlock()
}

// Listen applies invalidations from other instances until ctx is done.
func (c *CategoryCache) Listen(ctx context.Context) error {
	if c.bus == nil {
		return nil
	}
	return c.bus.SubscribeInvalidations(ctx, c.InvalidateLocal)
}

// Len returns the number of cached users.
func (c *CategoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
