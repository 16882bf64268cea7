package kernerr

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// defaultSinkCapacity bounds the number of in-flight error records the
// sink will buffer; once it is full, Report drops further records.
const defaultSinkCapacity = 256

var recordsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "parallax_kernel_errors_total",
		Help: "Total number of error records observed by the kernel error sink, by kind.",
	},
	[]string{"kind", "protocol"},
)

// Sink is the process-wide bounded channel every spawned actor forwards
// failures into. It is owned by the bootstrapper and passed (as a clonable
// sender) into every Spawn call — never a package-level singleton.
type Sink struct {
	records chan *Record
	logger  *zap.Logger
	done    chan struct{}
}

// NewSink creates a new error sink and starts its consumer goroutine. Call
// Close to stop the consumer once every actor has been torn down.
func NewSink(logger *zap.Logger) *Sink {
	s := &Sink{
		records: make(chan *Record, defaultSinkCapacity),
		logger:  logger,
		done:    make(chan struct{}),
	}
	go s.consume()
	return s
}

func (s *Sink) consume() {
	defer close(s.done)
	for rec := range s.records {
		recordsTotal.WithLabelValues(string(rec.Kind), string(rec.Protocol)).Inc()

		fields := []zap.Field{
			zap.String("kind", string(rec.Kind)),
			zap.String("actor", rec.ActorKey),
		}
		if rec.Protocol != "" {
			fields = append(fields, zap.String("protocol", string(rec.Protocol)))
		}
		if rec.Cause != nil {
			fields = append(fields, zap.Error(rec.Cause))
		}

		// Channel(Closed) during teardown is expected, not an error.
		if rec.Kind == Channel {
			s.logger.Info(rec.Message, fields...)
			continue
		}
		s.logger.Error(rec.Message, fields...)
	}
}

// Report forwards a record to the sink. It never blocks indefinitely: if
// the sink is saturated the record is dropped and logged synchronously,
// since the sink itself must never become a source of actor backpressure.
func (s *Sink) Report(rec *Record) {
	if s == nil || rec == nil {
		return
	}
	select {
	case s.records <- rec:
	default:
		s.logger.Warn("error sink saturated, dropping record",
			zap.String("kind", string(rec.Kind)),
			zap.String("actor", rec.ActorKey),
		)
	}
}

// Close stops accepting new records and waits for the consumer to drain.
func (s *Sink) Close(ctx context.Context) {
	close(s.records)
	select {
	case <-s.done:
	case <-ctx.Done():
	}
}
