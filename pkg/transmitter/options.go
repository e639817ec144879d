package transmitter

import (
	"log/slog"

	"github.com/samsamfire/cyphalcan/pkg/metrics"
)

// Option configures an Instance at Init time.
type Option func(*Instance)

// WithFD switches the instance between CAN classic (MTU 8, the
// default) and CAN-FD (MTU 64, with FD and BRS frame flags set).
func WithFD(enabled bool) Option {
	return func(in *Instance) {
		in.fd = enabled
		if enabled {
			in.mtu = 64
		} else {
			in.mtu = 8
		}
	}
}

// WithLogger overrides the default slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(in *Instance) {
		if logger != nil {
			in.logger = logger
		}
	}
}

// WithMetrics wires a Collector; omit for a nil-safe no-op collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(in *Instance) { in.metrics = collector }
}
