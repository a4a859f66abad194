package logging

import (
	"github.com/rs/zerolog"
)

// Reporter routes fail-soft diagnostics into a zerolog logger.
type Reporter struct {
	logger *zerolog.Logger
	hook   func(op string, err error)
}

func NewReporter(logger *zerolog.Logger) *Reporter {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Reporter{logger: logger}
}

// WithHook returns a copy that also forwards every report to hook,
// e.g. a metrics counter.
func (r *Reporter) WithHook(hook func(op string, err error)) *Reporter {
	return &Reporter{logger: r.logger, hook: hook}
}

func (r *Reporter) Report(op string, err error) {
	if err == nil {
		return
	}
	r.logger.Warn().Err(err).Str("op", op).Msg("operation degraded")
	if r.hook != nil {
		r.hook(op, err)
	}
}
