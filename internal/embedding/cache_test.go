package embedding

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestResultCache_GetSet(t *testing.T) {
	c := NewResultCache(2)
	if v, ok := c.Get("a", IntentDocument); ok || v != nil {
		t.Fatal("expected miss")
	}
	c.Set("a", IntentDocument, []float32{1, 2, 3})
	v, ok := c.Get("a", IntentDocument)
	if !ok || len(v) != 3 || v[0] != 1 {
		t.Errorf("Get: got %v, %v", v, ok)
	}
	c.Set("b", IntentDocument, []float32{4, 5})
	c.Set("c", IntentDocument, []float32{6}) // evicts a
	if _, ok := c.Get("a", IntentDocument); ok {
		t.Error("expected a to be evicted")
	}
	if _, ok := c.Get("b", IntentDocument); !ok {
		t.Error("expected b to remain")
	}
	if _, ok := c.Get("c", IntentDocument); !ok {
		t.Error("expected c to be present")
	}
	if got := c.Stats().Evictions; got != 1 {
		t.Errorf("evictions = %d, want 1", got)
	}
}

func TestResultCache_IntentIsPartOfKey(t *testing.T) {
	c := NewResultCache(4)
	c.Set("paris", IntentDocument, []float32{1})
	if _, ok := c.Get("paris", IntentQuery); ok {
		t.Error("query lookup should not see the document entry")
	}
	c.Set("paris", IntentQuery, []float32{2})
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
}

func TestResultCache_GetRefreshesRecency(t *testing.T) {
	c := NewResultCache(2)
	c.Set("a", IntentDocument, []float32{1})
	c.Set("b", IntentDocument, []float32{2})
	c.Get("a", IntentDocument)
	c.Set("c", IntentDocument, []float32{3}) // evicts b, not a
	if _, ok := c.Get("a", IntentDocument); !ok {
		t.Error("recently read entry should survive")
	}
	if _, ok := c.Get("b", IntentDocument); ok {
		t.Error("least recently used entry should be evicted")
	}
}

func TestResultCache_ReturnsCopies(t *testing.T) {
	c := NewResultCache(1)
	in := []float32{1, 2}
	c.Set("a", IntentDocument, in)
	in[0] = 99
	out, _ := c.Get("a", IntentDocument)
	if out[0] != 1 {
		t.Fatalf("entry aliased caller slice: %v", out)
	}
	out[1] = 42
	again, _ := c.Get("a", IntentDocument)
	if again[1] != 2 {
		t.Fatalf("entry aliased returned slice: %v", again)
	}
}

func TestResultCache_GetOrCompute(t *testing.T) {
	c := NewResultCache(4)
	ctx := context.Background()
	calls := 0
	compute := func(context.Context) ([]float32, error) {
		calls++
		return []float32{0.6, 0.8}, nil
	}

	v, hit, err := c.GetOrCompute(ctx, "x", IntentQuery, compute)
	if err != nil || hit || len(v) != 2 {
		t.Fatalf("first call: v=%v hit=%v err=%v", v, hit, err)
	}
	v2, hit, err := c.GetOrCompute(ctx, "x", IntentQuery, compute)
	if err != nil || !hit {
		t.Fatalf("second call: hit=%v err=%v", hit, err)
	}
	if calls != 1 {
		t.Errorf("compute calls = %d, want 1", calls)
	}
	if v[0] != v2[0] || v[1] != v2[1] {
		t.Errorf("hit returned %v, want %v", v2, v)
	}
	if s := c.Stats(); s.Hits != 1 || s.Misses != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestResultCache_ErrorsNotCached(t *testing.T) {
	c := NewResultCache(4)
	boom := errors.New("boom")
	_, _, err := c.GetOrCompute(context.Background(), "x", IntentDocument, func(context.Context) ([]float32, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if c.Len() != 0 {
		t.Error("failed compute should not populate the cache")
	}
}

func TestResultCache_DefaultCapacity(t *testing.T) {
	if got := NewResultCache(0).Capacity(); got != DefaultCacheCapacity {
		t.Errorf("Capacity = %d, want %d", got, DefaultCacheCapacity)
	}
}

func TestResultCache_ComputeRunsOutsideLock(t *testing.T) {
	c := NewResultCache(4)
	ctx := context.Background()
	started := make(chan struct{})
	release := make(chan struct{})

	slowDone := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrCompute(ctx, "slow", IntentDocument, func(context.Context) ([]float32, error) {
			close(started)
			<-release
			return []float32{1}, nil
		})
		slowDone <- err
	}()
	<-started

	fastDone := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrCompute(ctx, "fast", IntentDocument, func(context.Context) ([]float32, error) {
			return []float32{2}, nil
		})
		fastDone <- err
	}()
	select {
	case err := <-fastDone:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("a blocked compute on one key stalled another key")
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d while slow compute pending, want 1", c.Len())
	}

	close(release)
	if err := <-slowDone; err != nil {
		t.Fatal(err)
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
}

func TestResultCache_ConcurrentMissesBothCompute(t *testing.T) {
	c := NewResultCache(4)
	ctx := context.Background()
	var calls atomic.Int32
	var entered sync.WaitGroup
	entered.Add(2)

	results := make(chan []float32, 2)
	for i := 0; i < 2; i++ {
		go func() {
			v, _, err := c.GetOrCompute(ctx, "same", IntentQuery, func(context.Context) ([]float32, error) {
				n := calls.Add(1)
				entered.Done()
				entered.Wait()
				return []float32{float32(n)}, nil
			})
			if err != nil {
				t.Error(err)
			}
			results <- v
		}()
	}
	a, b := <-results, <-results

	if calls.Load() != 2 {
		t.Errorf("compute calls = %d, want 2", calls.Load())
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
	got, ok := c.Get("same", IntentQuery)
	if !ok {
		t.Fatal("expected an entry after concurrent misses")
	}
	if !sameVector(got, a) && !sameVector(got, b) {
		t.Errorf("cached %v, want one of %v or %v", got, a, b)
	}
}
