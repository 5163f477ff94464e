package agent

import loggerpkg "github.com/minhyannv/mcp-chat-go/pkg/logger"

// Option configures optional runtime dependencies for Loop.
type Option func(*loopDeps)

type loopDeps struct {
	logger    loggerpkg.Logger
	tracer    Tracer
	maxCycles int
}

// WithLogger injects a logger dependency.
func WithLogger(l loggerpkg.Logger) Option {
	return func(d *loopDeps) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithTracer injects a per-cycle observer.
func WithTracer(t Tracer) Option {
	return func(d *loopDeps) {
		if t != nil {
			d.tracer = t
		}
	}
}

// WithMaxCycles caps the number of cycles. Zero or less means unlimited.
func WithMaxCycles(n int) Option {
	return func(d *loopDeps) {
		if n > 0 {
			d.maxCycles = n
		}
	}
}
