package connectivity

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// HealthChecker is the part of the remote gateway the prober needs.
type HealthChecker interface {
	TestConnection(ctx context.Context) bool
}

// Prober periodically health-checks the remote and feeds the result to the
// monitor. While the remote is unreachable the interval backs off.
type Prober struct {
	checker  HealthChecker
	monitor  *Monitor
	interval time.Duration
	backoff  Backoff
	logger   *zerolog.Logger

	failures int
}

func NewProber(checker HealthChecker, monitor *Monitor, interval, maxInterval time.Duration, logger *zerolog.Logger) *Prober {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if maxInterval < interval {
		maxInterval = interval
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Prober{
		checker:  checker,
		monitor:  monitor,
		interval: interval,
		backoff:  Backoff{InitialDelay: interval, MaxDelay: maxInterval, BackoffFactor: 2},
		logger:   logger,
	}
}

// Probe runs one health check and updates the monitor. A check cut short by
// ctx says nothing about the remote, so the monitor keeps its state.
func (p *Prober) Probe(ctx context.Context) bool {
	up := p.checker.TestConnection(ctx)
	if ctx.Err() != nil {
		return p.monitor.IsOnline()
	}
	if up {
		p.failures = 0
	} else {
		p.failures++
	}
	p.monitor.Set(up)
	return up
}

// NextDelay is the wait before the next probe.
func (p *Prober) NextDelay() time.Duration {
	if p.failures == 0 {
		return p.interval
	}
	return p.backoff.NextDelay(p.failures)
}

// Run probes until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) {
	p.logger.Info().Dur("interval", p.interval).Msg("connectivity prober started")
	for {
		p.Probe(ctx)

		delay := p.NextDelay()
		if p.failures > 0 {
			p.logger.Debug().Int("failures", p.failures).Dur("next", delay).Msg("remote unreachable")
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			p.logger.Info().Msg("connectivity prober stopped")
			return
		case <-timer.C:
		}
	}
}
