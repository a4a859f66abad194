package connectivity

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mozzafiato/internal/events"
	"mozzafiato/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorEdgeTriggered(t *testing.T) {
	m := NewMonitor(nil, false, nil)

	var calls []string
	m.OnBecameOnline(func() { calls = append(calls, "first") })
	m.OnBecameOnline(func() { calls = append(calls, "second") })

	assert.True(t, m.Set(true))
	assert.False(t, m.Set(true), "duplicate online signal must be ignored")
	assert.Equal(t, []string{"first", "second"}, calls)

	assert.True(t, m.Set(false))
	assert.False(t, m.IsOnline())
	assert.True(t, m.Set(true))
	assert.Equal(t, []string{"first", "second", "first", "second"}, calls)
}

func TestMonitorOptimisticDefault(t *testing.T) {
	m := NewMonitor(nil, true, nil)
	fired := false
	m.OnBecameOnline(func() { fired = true })

	assert.True(t, m.IsOnline())
	m.Set(true)
	assert.False(t, fired)
}

func TestMonitorPublishesPayload(t *testing.T) {
	bus := events.NewEventBus()
	var got events.ConnectivityPayload
	bus.Subscribe(models.EventConnectivityOffline, func(e *events.Event) error {
		return e.Decode(&got)
	})

	m := NewMonitor(bus, true, nil)
	offline := 0
	m.OnBecameOffline(func() { offline++ })
	m.Set(false)

	assert.Equal(t, 1, offline)
	assert.False(t, got.Online)
	assert.False(t, got.At.IsZero())
	assert.Equal(t, got.At, m.Since())
}

func TestMonitorConcurrentSignals(t *testing.T) {
	m := NewMonitor(nil, false, nil)
	var fired atomic.Int32
	m.OnBecameOnline(func() { fired.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Set(true)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), fired.Load())
}

func TestBackoff(t *testing.T) {
	b := Backoff{InitialDelay: time.Second, MaxDelay: 5 * time.Second, BackoffFactor: 2}
	assert.Equal(t, time.Second, b.NextDelay(0))
	assert.Equal(t, time.Second, b.NextDelay(1))
	assert.Equal(t, 2*time.Second, b.NextDelay(2))
	assert.Equal(t, 4*time.Second, b.NextDelay(3))
	assert.Equal(t, 5*time.Second, b.NextDelay(4))
	assert.Equal(t, 5*time.Second, b.NextDelay(100))

	assert.Equal(t, time.Second, Backoff{}.NextDelay(1))
}

type fakeChecker struct {
	mu      sync.Mutex
	results []bool
	calls   int
}

func (f *fakeChecker) TestConnection(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.results[f.calls%len(f.results)]
	f.calls++
	return r
}

func TestProberFlipsMonitor(t *testing.T) {
	checker := &fakeChecker{results: []bool{false, false, true}}
	m := NewMonitor(nil, true, nil)
	p := NewProber(checker, m, time.Second, 10*time.Second, nil)

	online := 0
	m.OnBecameOnline(func() { online++ })
	ctx := context.Background()

	assert.False(t, p.Probe(ctx))
	assert.False(t, m.IsOnline())
	assert.Equal(t, time.Second, p.NextDelay())

	assert.False(t, p.Probe(ctx))
	assert.Equal(t, 2*time.Second, p.NextDelay())

	assert.True(t, p.Probe(ctx))
	assert.True(t, m.IsOnline())
	assert.Equal(t, 1, online)
	assert.Equal(t, time.Second, p.NextDelay())
}

func TestProberRunStopsOnCancel(t *testing.T) {
	checker := &fakeChecker{results: []bool{true}}
	m := NewMonitor(nil, false, nil)
	p := NewProber(checker, m, 10*time.Millisecond, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, m.IsOnline, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("prober did not stop")
	}
}

// cancellingChecker cancels the probe context mid-check, like a shutdown.
type cancellingChecker struct {
	cancel context.CancelFunc
}

func (c *cancellingChecker) TestConnection(context.Context) bool {
	c.cancel()
	return false
}

func TestProberIgnoresCancelledCheck(t *testing.T) {
	m := NewMonitor(nil, true, nil)
	offline := 0
	m.OnBecameOffline(func() { offline++ })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := NewProber(&cancellingChecker{cancel: cancel}, m, time.Second, 0, nil)

	assert.True(t, p.Probe(ctx))
	assert.True(t, m.IsOnline())
	assert.Zero(t, offline)
	assert.Equal(t, time.Second, p.NextDelay())
}
