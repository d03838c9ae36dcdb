package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func storing(value any) ComputeFunc {
	return func(ctx context.Context) (any, bool, error) {
		return value, true, nil
	}
}

func TestGetOrComputeStoresAndHits(t *testing.T) {
	c := New(Config{TTL: time.Minute})
	defer c.Close()
	ctx := context.Background()

	value, cached, err := c.GetOrCompute(ctx, "k", storing("v1"))
	if err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}
	if cached {
		t.Error("first call reported cached")
	}
	if value != "v1" {
		t.Errorf("value = %v, want v1", value)
	}

	value, cached, err = c.GetOrCompute(ctx, "k", storing("v2"))
	if err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}
	if !cached {
		t.Error("second call missed the cache")
	}
	if value != "v1" {
		t.Errorf("value = %v, want v1 from cache", value)
	}
}

func TestGetOrComputeSingleFlight(t *testing.T) {
	// N concurrent callers for the same missing key must trigger exactly
	// one compute; everyone gets the same value.
	c := New(Config{TTL: time.Minute, WaitTimeout: 5 * time.Second})
	defer c.Close()
	ctx := context.Background()

	var computes atomic.Int64
	started := make(chan struct{})
	release := make(chan struct{})
	compute := func(ctx context.Context) (any, bool, error) {
		computes.Add(1)
		close(started)
		<-release
		return "shared", true, nil
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make([]any, callers)

	wg.Add(1)
	go func() {
		defer wg.Done()
		v, _, err := c.GetOrCompute(ctx, "k", compute)
		if err != nil {
			t.Errorf("leader GetOrCompute: %v", err)
		}
		results[0] = v
	}()
	<-started

	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, cached, err := c.GetOrCompute(ctx, "k", compute)
			if err != nil {
				t.Errorf("waiter GetOrCompute: %v", err)
			}
			if !cached {
				t.Error("waiter result not served from cache")
			}
			results[i] = v
		}(i)
	}

	// Give waiters time to park on the in-flight compute.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := computes.Load(); got != 1 {
		t.Errorf("computes = %d, want 1", got)
	}
	for i, v := range results {
		if v != "shared" {
			t.Errorf("results[%d] = %v, want shared", i, v)
		}
	}
}

func TestFailedComputeReleasesWaiters(t *testing.T) {
	c := New(Config{TTL: time.Minute, WaitTimeout: 5 * time.Second})
	defer c.Close()
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	failing := func(ctx context.Context) (any, bool, error) {
		close(started)
		<-release
		return nil, false, errors.New("backend exploded")
	}

	leaderErr := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrCompute(ctx, "k", failing)
		leaderErr <- err
	}()
	<-started

	waiterDone := make(chan struct{})
	go func() {
		defer close(waiterDone)
		v, cached, err := c.GetOrCompute(ctx, "k", storing("recovered"))
		if err != nil {
			t.Errorf("waiter GetOrCompute: %v", err)
		}
		if cached {
			t.Error("waiter served stale cache after leader failure")
		}
		if v != "recovered" {
			t.Errorf("waiter value = %v, want recovered", v)
		}
	}()

	time.Sleep(50 * time.Millisecond)
	close(release)

	if err := <-leaderErr; err == nil {
		t.Error("leader error was swallowed")
	}
	select {
	case <-waiterDone:
	case <-time.After(5 * time.Second):
		t.Fatal("waiter never recovered after leader failure")
	}
}

func TestWaitTimeoutFallsBackToOwnCompute(t *testing.T) {
	c := New(Config{TTL: time.Minute, WaitTimeout: 20 * time.Millisecond})
	defer c.Close()
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	slow := func(ctx context.Context) (any, bool, error) {
		close(started)
		<-release
		return "slow", true, nil
	}

	go c.GetOrCompute(ctx, "k", slow)
	<-started

	v, cached, err := c.GetOrCompute(ctx, "k", storing("fast"))
	if err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}
	if cached {
		t.Error("timed-out waiter reported cached result")
	}
	if v != "fast" {
		t.Errorf("value = %v, want independently computed fast", v)
	}
	close(release)
}

func TestNonStorableResultNotCached(t *testing.T) {
	c := New(Config{TTL: time.Minute})
	defer c.Close()
	ctx := context.Background()

	v, cached, err := c.GetOrCompute(ctx, "k", func(ctx context.Context) (any, bool, error) {
		return "ephemeral", false, nil
	})
	if err != nil || cached || v != "ephemeral" {
		t.Fatalf("GetOrCompute = (%v, %v, %v)", v, cached, err)
	}
	if _, ok := c.Get("k"); ok {
		t.Error("non-storable result was cached")
	}
}

func TestTTLExpiry(t *testing.T) {
	c := New(Config{TTL: 30 * time.Millisecond, SweepInterval: time.Hour})
	defer c.Close()

	c.Put("k", "v")
	if _, ok := c.Get("k"); !ok {
		t.Fatal("entry missing before TTL")
	}

	time.Sleep(50 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Error("entry survived past TTL")
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d after lazy expiry, want 0", c.Len())
	}
}

func TestMaxEntriesEvictsOldest(t *testing.T) {
	c := New(Config{TTL: time.Minute, MaxEntries: 2})
	defer c.Close()

	c.Put("a", 1)
	time.Sleep(5 * time.Millisecond)
	c.Put("b", 2)
	time.Sleep(5 * time.Millisecond)
	c.Put("c", 3)

	if _, ok := c.Get("a"); ok {
		t.Error("oldest entry survived eviction")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("entry b evicted unexpectedly")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("entry c missing")
	}
}

func TestKeyIsContentAddressed(t *testing.T) {
	k1 := Key("openai", "gpt-4", "chat", []byte(`{"messages":[1]}`))
	k2 := Key("openai", "gpt-4", "chat", []byte(`{"messages":[1]}`))
	k3 := Key("openai", "gpt-4", "chat", []byte(`{"messages":[2]}`))
	k4 := Key("anthropic", "gpt-4", "chat", []byte(`{"messages":[1]}`))

	if k1 != k2 {
		t.Error("identical content produced different keys")
	}
	if k1 == k3 {
		t.Error("different payloads produced the same key")
	}
	if k1 == k4 {
		t.Error("different providers produced the same key")
	}
}
