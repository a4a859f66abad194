package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mozzafiato/internal/connectivity"
	"mozzafiato/internal/database"
	"mozzafiato/internal/events"
	"mozzafiato/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	mu        sync.Mutex
	submit    func(call int, category models.Category, records []models.PendingRecord) models.SyncResult
	calls     int
	batches   map[models.Category][][]models.PendingRecord
	inventory []models.InventoryItem
	stats     models.Stats
	catalog   []models.Product
	reports   models.Reports
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{batches: make(map[models.Category][][]models.PendingRecord)}
}

func (g *fakeGateway) TestConnection(context.Context) bool { return true }

func (g *fakeGateway) FetchCatalog(context.Context) []models.Product {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.catalog
}

func (g *fakeGateway) FetchInventory(context.Context) []models.InventoryItem {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inventory
}

func (g *fakeGateway) FetchStats(context.Context) models.Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

func (g *fakeGateway) FetchReports(context.Context) models.Reports {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reports
}

func (g *fakeGateway) SubmitBatch(_ context.Context, category models.Category, records []models.PendingRecord) models.SyncResult {
	g.mu.Lock()
	g.calls++
	call := g.calls
	g.batches[category] = append(g.batches[category], records)
	submit := g.submit
	g.mu.Unlock()

	if submit == nil {
		return models.SyncResult{Succeeded: true}
	}
	return submit(call, category, records)
}

func (g *fakeGateway) submitCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type recordingReporter struct {
	mu  sync.Mutex
	ops []string
}

func (r *recordingReporter) Report(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
}

type fixture struct {
	db       *database.DB
	gateway  *fakeGateway
	monitor  *connectivity.Monitor
	bus      *events.EventBus
	reporter *recordingReporter
	coord    *Coordinator
}

func newFixture(t *testing.T, online bool, interval time.Duration) *fixture {
	t.Helper()
	db, err := database.NewDB(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	bus := events.NewEventBus()
	f := &fixture{
		db:       db,
		gateway:  newFakeGateway(),
		monitor:  connectivity.NewMonitor(bus, online, nil),
		bus:      bus,
		reporter: &recordingReporter{},
	}
	f.coord = New(Deps{
		Queue:    db,
		Reads:    db,
		Gateway:  f.gateway,
		Monitor:  f.monitor,
		Reporter: f.reporter,
		Events:   bus,
	}, Config{Interval: interval})
	return f
}

func (f *fixture) enqueue(t *testing.T, category models.Category, n int) []models.PendingRecord {
	t.Helper()
	var out []models.PendingRecord
	for i := 0; i < n; i++ {
		r, err := f.coord.Enqueue(context.Background(), category, json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)))
		require.NoError(t, err)
		out = append(out, *r)
	}
	return out
}

func (f *fixture) pending(t *testing.T, category models.Category) []models.PendingRecord {
	t.Helper()
	records, err := f.db.PeekAll(context.Background(), category)
	require.NoError(t, err)
	return records
}

func ids(records []models.PendingRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

func runInBackground(t *testing.T, c *Coordinator) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func TestOfflineEnqueueThenReconnect(t *testing.T) {
	f := newFixture(t, false, time.Hour)
	enqueued := f.enqueue(t, models.CategoryProduction, 3)

	assert.Equal(t, ids(enqueued), ids(f.pending(t, models.CategoryProduction)))

	runInBackground(t, f.coord)
	assert.Never(t, func() bool { return f.gateway.submitCalls() > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	f.monitor.Set(true)
	require.Eventually(t, func() bool {
		return len(f.pending(t, models.CategoryProduction)) == 0
	}, 2*time.Second, 10*time.Millisecond)

	f.gateway.mu.Lock()
	defer f.gateway.mu.Unlock()
	require.Len(t, f.gateway.batches[models.CategoryProduction], 1)
	assert.Equal(t, ids(enqueued), ids(f.gateway.batches[models.CategoryProduction][0]))
}

func TestFailedSubmitKeepsQueueThenRetryClears(t *testing.T) {
	f := newFixture(t, true, 30*time.Millisecond)
	f.gateway.submit = func(call int, _ models.Category, _ []models.PendingRecord) models.SyncResult {
		if call == 1 {
			return models.SyncFailed("timeout")
		}
		return models.SyncResult{Succeeded: true}
	}
	enqueued := f.enqueue(t, models.CategorySales, 2)

	summary := f.coord.SyncNow(context.Background(), TriggerManual)
	assert.Equal(t, models.SyncFailed("timeout"), summary.Categories["sales"].Result)
	remaining := f.pending(t, models.CategorySales)
	assert.Equal(t, ids(enqueued), ids(remaining), "failed batch must leave the queue unchanged")
	for i := range remaining {
		assert.Equal(t, enqueued[i].Payload, remaining[i].Payload)
	}

	runInBackground(t, f.coord)
	require.Eventually(t, func() bool {
		return len(f.pending(t, models.CategorySales)) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClearKeepsRecordsEnqueuedDuringSubmit(t *testing.T) {
	f := newFixture(t, true, time.Hour)
	f.enqueue(t, models.CategoryProduction, 2)

	var late *models.PendingRecord
	f.gateway.submit = func(call int, category models.Category, _ []models.PendingRecord) models.SyncResult {
		if call == 1 {
			r, err := f.db.Enqueue(context.Background(), category, json.RawMessage(`{"late":true}`))
			require.NoError(t, err)
			late = r
		}
		return models.SyncResult{Succeeded: true}
	}

	f.coord.DrainPending(context.Background())

	remaining := f.pending(t, models.CategoryProduction)
	require.Len(t, remaining, 1)
	assert.Equal(t, late.ID, remaining[0].ID)
}

func TestEmptyResultsDoNotClobberCache(t *testing.T) {
	f := newFixture(t, true, time.Hour)
	ctx := context.Background()
	require.NoError(t, f.db.SetCachedRead(ctx, models.LabelInventory, []byte(`[{"Producto":"Mozzarella"}]`)))
	require.NoError(t, f.db.SetCachedRead(ctx, models.LabelStats, []byte(`{"ventasHoy":3}`)))

	f.gateway.inventory = []models.InventoryItem{}
	f.gateway.stats = nil

	refreshed := f.coord.RefreshCaches(ctx)
	assert.Empty(t, refreshed)

	inv, _, err := f.db.GetCachedRead(ctx, models.LabelInventory)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"Producto":"Mozzarella"}]`, string(inv))
	stats, _, err := f.db.GetCachedRead(ctx, models.LabelStats)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ventasHoy":3}`, string(stats))
}

func TestRefreshCachesOverwrites(t *testing.T) {
	f := newFixture(t, true, time.Hour)
	ctx := context.Background()
	f.gateway.inventory = []models.InventoryItem{{"Producto": "Burrata", "Stock": 4.0}}
	f.gateway.stats = models.Stats{"ventasHoy": 9.0}
	f.gateway.catalog = []models.Product{{"nombre": "Ricotta"}}
	f.gateway.reports = models.Reports{"mensual": []any{}}

	refreshed := f.coord.RefreshCaches(ctx)
	assert.Equal(t, []string{models.LabelInventory, models.LabelStats, models.LabelCatalog, models.LabelReports}, refreshed)

	inv, capturedAt, err := f.db.GetCachedRead(ctx, models.LabelInventory)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"Producto":"Burrata","Stock":4}]`, string(inv))
	assert.False(t, capturedAt.IsZero())
}

func TestOfflineSkipsBothPhases(t *testing.T) {
	f := newFixture(t, false, time.Hour)
	f.enqueue(t, models.CategoryProduction, 1)
	f.gateway.inventory = []models.InventoryItem{{"Producto": "Burrata"}}

	summary := f.coord.SyncNow(context.Background(), TriggerManual)
	assert.False(t, summary.Online)
	assert.Nil(t, summary.Categories)
	assert.Nil(t, summary.Refreshed)
	assert.Zero(t, f.gateway.submitCalls())
	assert.Len(t, f.pending(t, models.CategoryProduction), 1)
}

type brokenQueue struct {
	*database.DB
}

func (brokenQueue) PeekAll(context.Context, models.Category) ([]models.PendingRecord, error) {
	return nil, errors.New("disk I/O error")
}

func TestPhaseFailureDoesNotBlockRefresh(t *testing.T) {
	f := newFixture(t, true, time.Hour)
	f.gateway.inventory = []models.InventoryItem{{"Producto": "Burrata"}}
	c := New(Deps{
		Queue:    brokenQueue{f.db},
		Reads:    f.db,
		Gateway:  f.gateway,
		Monitor:  f.monitor,
		Reporter: f.reporter,
	}, Config{})

	summary := c.SyncNow(context.Background(), TriggerManual)
	assert.Empty(t, summary.Categories)
	assert.Equal(t, []string{models.LabelInventory}, summary.Refreshed)
	assert.Contains(t, f.reporter.ops, "peekAll")
}

func TestSyncCompletedEvent(t *testing.T) {
	f := newFixture(t, true, time.Hour)
	f.enqueue(t, models.CategoryProduction, 2)

	var got events.SyncCompletedPayload
	f.bus.Subscribe(models.EventSyncCompleted, func(e *events.Event) error {
		return e.Decode(&got)
	})

	f.coord.SyncNow(context.Background(), TriggerManual)
	assert.Equal(t, TriggerManual, got.Trigger)
	assert.True(t, got.Online)
	assert.Equal(t, 2, got.Categories["production"].Submitted)
	assert.True(t, got.Categories["production"].Result.Succeeded)
}

func TestEnqueuePublishes(t *testing.T) {
	f := newFixture(t, false, time.Hour)
	var got events.RecordEnqueuedPayload
	f.bus.Subscribe(models.EventRecordEnqueued, func(e *events.Event) error {
		return e.Decode(&got)
	})

	records := f.enqueue(t, models.CategorySales, 1)
	assert.Equal(t, records[0].ID, got.RecordID)
	assert.Equal(t, models.CategorySales, got.Category)

	_, err := f.coord.Enqueue(context.Background(), models.CategorySales, json.RawMessage(`{oops`))
	assert.ErrorIs(t, err, database.ErrInvalidPayload)
}

func TestTriggerRunsSync(t *testing.T) {
	f := newFixture(t, true, time.Hour)
	var completed atomic.Int32
	f.bus.Subscribe(models.EventSyncCompleted, func(e *events.Event) error {
		var p events.SyncCompletedPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		if p.Trigger == TriggerManual {
			completed.Add(1)
		}
		return nil
	})

	runInBackground(t, f.coord)
	f.coord.Trigger(TriggerManual)
	require.Eventually(t, func() bool { return completed.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestRunWaitsForInflight(t *testing.T) {
	f := newFixture(t, true, time.Hour)
	f.enqueue(t, models.CategoryProduction, 1)

	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	f.gateway.submit = func(int, models.Category, []models.PendingRecord) models.SyncResult {
		entered <- struct{}{}
		<-release
		return models.SyncResult{Succeeded: true}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.coord.Run(ctx)
		close(done)
	}()

	<-entered
	cancel()
	select {
	case <-done:
		t.Fatal("Run returned while a sync was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}
