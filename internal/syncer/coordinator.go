package syncer

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"mozzafiato/internal/domain"
	"mozzafiato/internal/events"
	"mozzafiato/internal/metrics"
	"mozzafiato/internal/models"

	"github.com/rs/zerolog"
)

// Trigger reasons attached to sync_completed events.
const (
	TriggerStartup  = "startup"
	TriggerInterval = "interval"
	TriggerOnline   = "online"
	TriggerManual   = "manual"
)

// Deps are the collaborators of the coordinator. Queue, Gateway and Monitor
// are required.
type Deps struct {
	Queue    domain.QueueStore
	Reads    domain.CachedReadStore
	Gateway  domain.RemoteGateway
	Monitor  domain.ConnectivityMonitor
	Reporter domain.Reporter
	Events   domain.EventPublisher
	Logger   *zerolog.Logger
}

type Config struct {
	Interval   time.Duration
	Categories []models.Category
}

// Coordinator drains the pending queues and refreshes cached reads. Runs may
// overlap; correctness rests on ClearThrough only removing what was submitted
// and on the remote tolerating a batch delivered twice.
type Coordinator struct {
	deps Deps
	cfg  Config

	triggers chan string

	mu       sync.Mutex
	stopped  bool
	inflight sync.WaitGroup
}

func New(deps Deps, cfg Config) *Coordinator {
	if deps.Reporter == nil {
		deps.Reporter = domain.NopReporter{}
	}
	if deps.Logger == nil {
		nop := zerolog.Nop()
		deps.Logger = &nop
	}
	if cfg.Interval <= 0 {
		cfg.Interval = models.DefaultSyncInterval
	}
	if len(cfg.Categories) == 0 {
		cfg.Categories = models.Categories
	}
	return &Coordinator{
		deps:     deps,
		cfg:      cfg,
		triggers: make(chan string, 1),
	}
}

// SyncNow runs Phase A then Phase B and returns the summary it publishes.
func (c *Coordinator) SyncNow(ctx context.Context, trigger string) events.SyncCompletedPayload {
	start := time.Now()
	summary := events.SyncCompletedPayload{
		Trigger:   trigger,
		Online:    c.deps.Monitor.IsOnline(),
		StartedAt: start.UTC(),
	}

	summary.Categories = c.DrainPending(ctx)
	summary.Refreshed = c.RefreshCaches(ctx)
	summary.Duration = time.Since(start)

	metrics.ObserveSyncDuration(summary.Duration)
	c.deps.Logger.Debug().
		Str("trigger", trigger).
		Bool("online", summary.Online).
		Int("categories", len(summary.Categories)).
		Strs("refreshed", summary.Refreshed).
		Dur("duration", summary.Duration).
		Msg("sync finished")

	if c.deps.Events != nil {
		if err := c.deps.Events.PublishJSON(models.EventSyncCompleted, summary); err != nil {
			c.deps.Reporter.Report("publishSyncCompleted", err)
		}
	}
	return summary
}

// DrainPending submits each non-empty category queue as one batch and clears
// it only when the remote confirmed the whole batch. Nothing is attempted
// while offline.
func (c *Coordinator) DrainPending(ctx context.Context) map[string]events.CategoryOutcome {
	if !c.deps.Monitor.IsOnline() {
		return nil
	}

	outcomes := make(map[string]events.CategoryOutcome)
	for _, category := range c.cfg.Categories {
		records, err := c.deps.Queue.PeekAll(ctx, category)
		if err != nil {
			c.deps.Reporter.Report("peekAll", err)
			continue
		}
		if len(records) == 0 {
			metrics.SetQueueDepth(category.String(), 0)
			continue
		}

		result := c.deps.Gateway.SubmitBatch(ctx, category, records)
		metrics.ObserveSync(category.String(), result.Succeeded)
		outcomes[category.String()] = events.CategoryOutcome{Submitted: len(records), Result: result}

		if !result.Succeeded {
			c.deps.Logger.Warn().
				Str("category", category.String()).
				Int("records", len(records)).
				Str("error", result.Error).
				Msg("batch not accepted, queue kept")
			c.updateDepth(ctx, category)
			continue
		}

		if err := c.deps.Queue.ClearThrough(ctx, category, models.LastSeq(records)); err != nil {
			// The remote has the batch; it will be sent again next run.
			c.deps.Reporter.Report("clearQueue", err)
		} else {
			c.deps.Logger.Info().Str("category", category.String()).Int("records", len(records)).Msg("queue synced")
		}
		c.updateDepth(ctx, category)
	}
	return outcomes
}

func (c *Coordinator) updateDepth(ctx context.Context, category models.Category) {
	n, err := c.deps.Queue.Count(ctx, category)
	if err != nil {
		c.deps.Reporter.Report("countQueue", err)
		return
	}
	metrics.SetQueueDepth(category.String(), n)
}

// RefreshCaches overwrites cached reads with fresh remote data. Empty or
// absent results leave the previous value in place. Returns the labels that
// were written.
func (c *Coordinator) RefreshCaches(ctx context.Context) []string {
	if !c.deps.Monitor.IsOnline() || c.deps.Reads == nil {
		return nil
	}

	var refreshed []string
	store := func(label string, value any) {
		raw, err := json.Marshal(value)
		if err != nil {
			c.deps.Reporter.Report("encode "+label, err)
			return
		}
		if err := c.deps.Reads.SetCachedRead(ctx, label, raw); err != nil {
			c.deps.Reporter.Report("setCachedRead", err)
			return
		}
		refreshed = append(refreshed, label)
	}

	if inventory := c.deps.Gateway.FetchInventory(ctx); len(inventory) > 0 {
		store(models.LabelInventory, inventory)
	}
	if stats := c.deps.Gateway.FetchStats(ctx); len(stats) > 0 {
		store(models.LabelStats, stats)
	}
	if catalog := c.deps.Gateway.FetchCatalog(ctx); len(catalog) > 0 {
		store(models.LabelCatalog, catalog)
	}
	if reports := c.deps.Gateway.FetchReports(ctx); len(reports) > 0 {
		store(models.LabelReports, reports)
	}
	return refreshed
}

// Trigger asks a running loop for an extra sync. Signals that arrive while
// one is already waiting are merged.
func (c *Coordinator) Trigger(reason string) {
	select {
	case c.triggers <- reason:
	default:
	}
}

// Run syncs at startup when online, on every tick, on each offline→online
// transition and on Trigger, until ctx is cancelled. It returns after the
// runs it started have finished.
func (c *Coordinator) Run(ctx context.Context) {
	c.deps.Monitor.OnBecameOnline(func() {
		c.spawn(ctx, TriggerOnline)
	})

	if c.deps.Monitor.IsOnline() {
		c.spawn(ctx, TriggerStartup)
	}

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	c.deps.Logger.Info().Dur("interval", c.cfg.Interval).Msg("sync coordinator started")
	for {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			c.stopped = true
			c.mu.Unlock()
			c.inflight.Wait()
			c.deps.Logger.Info().Msg("sync coordinator stopped")
			return
		case <-ticker.C:
			c.spawn(ctx, TriggerInterval)
		case reason := <-c.triggers:
			c.spawn(ctx, reason)
		}
	}
}

// spawn starts one independent run unless the loop is shutting down.
func (c *Coordinator) spawn(ctx context.Context, trigger string) {
	c.mu.Lock()
	if c.stopped || ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	c.inflight.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.inflight.Done()
		c.SyncNow(ctx, trigger)
	}()
}

// Enqueue persists a write and announces it. The error is the store's: a
// write that could not be persisted must not be reported as saved.
func (c *Coordinator) Enqueue(ctx context.Context, category models.Category, payload json.RawMessage) (*models.PendingRecord, error) {
	record, err := c.deps.Queue.Enqueue(ctx, category, payload)
	if err != nil {
		return nil, err
	}
	c.updateDepth(ctx, category)

	if c.deps.Events != nil {
		event := events.RecordEnqueuedPayload{RecordID: record.ID, Category: record.Category, Seq: record.Seq}
		if err := c.deps.Events.PublishJSON(models.EventRecordEnqueued, event); err != nil {
			c.deps.Reporter.Report("publishRecordEnqueued", err)
		}
	}
	return record, nil
}
