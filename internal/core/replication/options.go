package replication

import (
	"time"

	"github.com/zeusync/replicate/internal/core/observability/log"
	"github.com/zeusync/replicate/internal/core/observability/metrics"
)

const DefaultScratchSize = 64 << 10

type options struct {
	logger      log.Log
	metrics     *metrics.Metrics
	epoch       time.Time
	scratchSize int
}

type Option func(*options)

func WithLogger(l log.Log) Option {
	return func(o *options) { o.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithEpoch sets the zero point of packet timestamps. Timestamps are
// milliseconds since the epoch truncated to uint32.
func WithEpoch(t time.Time) Option {
	return func(o *options) { o.epoch = t }
}

// WithScratchSize sizes the fan-out encode buffer. It grows to the largest
// attached packet size regardless.
func WithScratchSize(n int) Option {
	return func(o *options) { o.scratchSize = n }
}
