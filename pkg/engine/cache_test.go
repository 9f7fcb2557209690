package engine

import (
	"sync"
	"testing"

	"github.com/openfroyo/symgraph/pkg/graph"
	"github.com/openfroyo/symgraph/pkg/tensor"
)

func TestPlanCache_ReusesPlans(t *testing.T) {
	pool := tensor.NewPool()
	dm := newDiamond(t)
	feeds := mustFeeds(t, Feed{Node: dm.a, Value: newValue(t, pool, []int{3}, 1, 2, 3)})
	cache := NewPlanCache(nil)

	first, hit, err := cache.GetOrBuild([]*graph.Node{dm.d}, feeds)
	if err != nil || hit {
		t.Fatalf("first GetOrBuild() = hit %v, error %v; want a miss", hit, err)
	}
	second, hit, err := cache.GetOrBuild([]*graph.Node{dm.d}, feeds)
	if err != nil || !hit {
		t.Fatalf("second GetOrBuild() = hit %v, error %v; want a hit", hit, err)
	}
	if first != second {
		t.Error("cache returned a different plan for the same signature")
	}
	if cache.Hits() != 1 || cache.Misses() != 1 || cache.Len() != 1 {
		t.Errorf("hits=%d misses=%d len=%d, want 1/1/1", cache.Hits(), cache.Misses(), cache.Len())
	}

	counts := first.CountsCopy()
	counts["A"] = 99
	if first.RecipientCounts["A"] != 2 {
		t.Error("mutating CountsCopy() changed the cached plan")
	}

	cache.Purge()
	if cache.Len() != 0 {
		t.Errorf("Len() after Purge() = %d", cache.Len())
	}
}

func TestPlanKey_Signature(t *testing.T) {
	pool := tensor.NewPool()
	dm := newDiamond(t)
	other := newDiamond(t)

	fedA := mustFeeds(t, Feed{Node: dm.a, Value: newValue(t, pool, []int{3}, 1, 2, 3)})
	fedB := mustFeeds(t, Feed{Node: dm.b, Value: newValue(t, pool, []int{3}, 1, 2, 3)})
	otherFedA := mustFeeds(t, Feed{Node: other.a, Value: newValue(t, pool, []int{3}, 1, 2, 3)})

	base := PlanKey([]*graph.Node{dm.d}, fedA)
	if base != PlanKey([]*graph.Node{dm.d}, fedA.Clone()) {
		t.Error("equal signatures produced different keys")
	}
	if base == PlanKey([]*graph.Node{dm.d}, fedB) {
		t.Error("different feed names produced the same key")
	}
	if base == PlanKey([]*graph.Node{dm.d, dm.b}, fedA) {
		t.Error("different fetches produced the same key")
	}
	if base == PlanKey([]*graph.Node{other.d}, otherFedA) {
		t.Error("same-named nodes of another graph produced the same key")
	}
}

func TestPlanCache_LRUStore(t *testing.T) {
	if _, err := NewLRUPlanStore(0); err == nil {
		t.Error("NewLRUPlanStore(0) should fail")
	}

	store, err := NewLRUPlanStore(1)
	if err != nil {
		t.Fatalf("NewLRUPlanStore() error = %v", err)
	}
	cache := NewPlanCache(store)

	pool := tensor.NewPool()
	dm := newDiamond(t)
	feeds := mustFeeds(t, Feed{Node: dm.a, Value: newValue(t, pool, []int{3}, 1, 2, 3)})

	for _, fetch := range []*graph.Node{dm.b, dm.c, dm.b} {
		if _, _, err := cache.GetOrBuild([]*graph.Node{fetch}, feeds); err != nil {
			t.Fatalf("GetOrBuild(%s) error = %v", fetch.Name(), err)
		}
	}
	if cache.Len() != 1 {
		t.Errorf("Len() = %d, want 1", cache.Len())
	}
	if cache.Misses() != 3 {
		t.Errorf("Misses() = %d, want 3 after eviction", cache.Misses())
	}
}

func TestPlanCache_ConcurrentMisses(t *testing.T) {
	pool := tensor.NewPool()
	dm := newDiamond(t)
	feeds := mustFeeds(t, Feed{Node: dm.a, Value: newValue(t, pool, []int{3}, 1, 2, 3)})
	cache := NewPlanCache(nil)

	const workers = 16
	plans := make([]*Plan, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			plan, _, err := cache.GetOrBuild([]*graph.Node{dm.d}, feeds)
			if err != nil {
				t.Errorf("GetOrBuild() error = %v", err)
				return
			}
			plans[i] = plan
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if plans[i] != plans[0] {
			t.Fatal("concurrent lookups returned different plans")
		}
	}
	if cache.Hits()+cache.Misses() != workers || cache.Len() != 1 {
		t.Errorf("hits=%d misses=%d len=%d", cache.Hits(), cache.Misses(), cache.Len())
	}
}

func TestPlanCache_ErrorsAreNotCached(t *testing.T) {
	cache := NewPlanCache(nil)
	if _, _, err := cache.GetOrBuild(nil, nil); !IsInvariantError(err) {
		t.Errorf("GetOrBuild(nil) error = %v, want InvariantError", err)
	}
	if cache.Len() != 0 {
		t.Errorf("Len() = %d, want 0", cache.Len())
	}
}

func TestExecutionProbe_Observe(t *testing.T) {
	p := NewExecutionProbe()
	for _, live := range []int{3, 5, 1, 4} {
		p.Observe(live)
	}
	if p.MaxNumValues != 5 || p.MinNumValues != 1 || p.Samples() != 4 {
		t.Errorf("probe = max %d min %d samples %d", p.MaxNumValues, p.MinNumValues, p.Samples())
	}
}
