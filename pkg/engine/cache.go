package engine

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/openfroyo/symgraph/pkg/graph"
)

// Plan key separators. Node names never contain control characters.
const (
	keyEntrySep   = "\x00"
	keySectionSep = "\x1e"
	keyFieldSep   = "\x1f"
)

// PlanStore holds computed plans by key. Implementations must be safe for
// concurrent use.
type PlanStore interface {
	Get(key string) (*Plan, bool)
	Add(key string, plan *Plan)
	Len() int
	Purge()
}

// unboundedStore keeps every plan forever.
type unboundedStore struct {
	mu    sync.RWMutex
	plans map[string]*Plan
}

// NewUnboundedPlanStore returns a store that never evicts.
func NewUnboundedPlanStore() PlanStore {
	return &unboundedStore{plans: make(map[string]*Plan)}
}

func (s *unboundedStore) Get(key string) (*Plan, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[key]
	return p, ok
}

func (s *unboundedStore) Add(key string, plan *Plan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[key] = plan
}

func (s *unboundedStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.plans)
}

func (s *unboundedStore) Purge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans = make(map[string]*Plan)
}

// lruStore evicts the least recently used plan beyond its size.
type lruStore struct {
	cache *lru.Cache[string, *Plan]
}

// NewLRUPlanStore returns a store bounded to size plans.
func NewLRUPlanStore(size int) (PlanStore, error) {
	cache, err := lru.New[string, *Plan](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create plan store: %w", err)
	}
	return &lruStore{cache: cache}, nil
}

func (s *lruStore) Get(key string) (*Plan, bool) { return s.cache.Get(key) }
func (s *lruStore) Add(key string, plan *Plan)   { s.cache.Add(key, plan) }
func (s *lruStore) Len() int                     { return s.cache.Len() }
func (s *lruStore) Purge()                       { s.cache.Purge() }

// PlanCache memoizes BuildPlan by fetch and feed signature. Concurrent
// misses for one key compute the plan once.
type PlanCache struct {
	store  PlanStore
	group  singleflight.Group
	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewPlanCache wraps store. A nil store means NewUnboundedPlanStore.
func NewPlanCache(store PlanStore) *PlanCache {
	if store == nil {
		store = NewUnboundedPlanStore()
	}
	return &PlanCache{store: store}
}

// PlanKey builds the cache key: each fetch name with its structural
// fingerprint, in order, then the feed names in insertion order.
func PlanKey(fetches []*graph.Node, feeds *FeedDict) string {
	var sb strings.Builder
	for i, f := range fetches {
		if i > 0 {
			sb.WriteString(keyEntrySep)
		}
		sb.WriteString(f.Name())
		sb.WriteString(keyFieldSep)
		sb.WriteString(strconv.FormatUint(f.Fingerprint(), 16))
	}
	sb.WriteString(keySectionSep)
	for i, name := range feeds.Names() {
		if i > 0 {
			sb.WriteString(keyEntrySep)
		}
		sb.WriteString(name)
	}
	return sb.String()
}

// GetOrBuild returns the cached plan for the signature, building and
// storing it on a miss. The bool reports a cache hit.
func (c *PlanCache) GetOrBuild(fetches []*graph.Node, feeds *FeedDict) (*Plan, bool, error) {
	if len(fetches) == 0 {
		return nil, false, NewInvariantError("cannot plan an execution with no fetches")
	}
	for i, f := range fetches {
		if f == nil {
			return nil, false, NewInvariantError(fmt.Sprintf("fetch %d is nil", i))
		}
	}

	key := PlanKey(fetches, feeds)
	if plan, ok := c.store.Get(key); ok {
		c.hits.Add(1)
		return plan, true, nil
	}
	c.misses.Add(1)

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if plan, ok := c.store.Get(key); ok {
			return plan, nil
		}
		plan, err := BuildPlan(fetches, feeds)
		if err != nil {
			return nil, err
		}
		c.store.Add(key, plan)
		return plan, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*Plan), false, nil
}

// Hits returns the number of lookups served from the store.
func (c *PlanCache) Hits() uint64 { return c.hits.Load() }

// Misses returns the number of lookups that needed a plan to be built.
func (c *PlanCache) Misses() uint64 { return c.misses.Load() }

// Len returns the number of stored plans.
func (c *PlanCache) Len() int { return c.store.Len() }

// Purge drops every stored plan.
func (c *PlanCache) Purge() { c.store.Purge() }
