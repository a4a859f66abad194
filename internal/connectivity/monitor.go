package connectivity

import (
	"sync"
	"time"

	"mozzafiato/internal/events"
	"mozzafiato/internal/metrics"
	"mozzafiato/internal/models"

	"github.com/rs/zerolog"
)

// Monitor holds the process-wide online flag. Transitions are published on
// the event bus, so subscribers fire once per edge and never on a repeated
// signal for the state already held.
type Monitor struct {
	mu     sync.RWMutex
	online bool
	since  time.Time

	bus    *events.EventBus
	logger *zerolog.Logger
}

// NewMonitor starts in the given state. Pass true when the platform gives no
// information, otherwise sync would never get a chance to run.
func NewMonitor(bus *events.EventBus, online bool, logger *zerolog.Logger) *Monitor {
	if bus == nil {
		bus = events.NewEventBus()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	metrics.SetOnline(online)
	return &Monitor{online: online, since: time.Now(), bus: bus, logger: logger}
}

func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Since returns when the current state was entered.
func (m *Monitor) Since() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.since
}

// OnBecameOnline registers handler for offline→online transitions.
// Handlers run in registration order.
func (m *Monitor) OnBecameOnline(handler func()) {
	m.bus.Subscribe(models.EventConnectivityOnline, func(*events.Event) error {
		handler()
		return nil
	})
}

// OnBecameOffline registers handler for online→offline transitions.
func (m *Monitor) OnBecameOffline(handler func()) {
	m.bus.Subscribe(models.EventConnectivityOffline, func(*events.Event) error {
		handler()
		return nil
	})
}

// Set feeds the platform signal and reports whether it changed the state.
func (m *Monitor) Set(online bool) bool {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return false
	}
	m.online = online
	m.since = time.Now()
	at := m.since
	m.mu.Unlock()

	metrics.SetOnline(online)

	eventType := models.EventConnectivityOffline
	if online {
		eventType = models.EventConnectivityOnline
	}
	m.logger.Info().Bool("online", online).Msg("connectivity changed")

	if err := m.bus.PublishJSON(eventType, events.ConnectivityPayload{Online: online, At: at}); err != nil {
		m.logger.Error().Err(err).Str("event", eventType).Msg("failed to publish connectivity event")
	}
	return true
}
