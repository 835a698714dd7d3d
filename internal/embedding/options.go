package embedding

import (
	"go.uber.org/zap"

	"github.com/hyperjump/embedserver/internal/device"
	"github.com/hyperjump/embedserver/internal/observe"
)

// Option configures a Handle or an Engine.
type Option func(*options)

type options struct {
	logger  *zap.Logger
	metrics *observe.Metrics
	probes  *device.Probes
	open    OpenFunc
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.metrics == nil {
		o.metrics = observe.NopMetrics()
	}
	return o
}

// WithLogger sets the logger. Default is a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the metrics instruments. Default records nothing.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithProbes replaces host capability probes for device selection (Handle only).
func WithProbes(p device.Probes) Option {
	return func(o *options) { o.probes = &p }
}

// WithOpener replaces the backend opener (Handle only).
func WithOpener(open OpenFunc) Option {
	return func(o *options) { o.open = open }
}
