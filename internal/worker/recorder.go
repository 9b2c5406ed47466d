package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	respcache "github.com/eugener/respcache/internal"
	"github.com/eugener/respcache/internal/telemetry"
)

const (
	recordChanSize   = 1000
	recordBatchSize  = 100
	recordFlushEvery = 5 * time.Second
	recordDrainTime  = 30 * time.Second
)

// GenerationStore is the persistence interface consumed by GenerationRecorder.
type GenerationStore interface {
	InsertGenerations(ctx context.Context, records []respcache.GenerationRecord) error
}

// GenerationRecorder buffers ledger records and batch-flushes them to the
// store. Records are dropped when the buffer is full.
type GenerationRecorder struct {
	ch         chan respcache.GenerationRecord
	store      GenerationStore
	metrics    *telemetry.Metrics
	flushEvery time.Duration
}

// NewGenerationRecorder creates a recorder backed by store. metrics may be nil.
func NewGenerationRecorder(store GenerationStore, metrics *telemetry.Metrics) *GenerationRecorder {
	return &GenerationRecorder{
		ch:         make(chan respcache.GenerationRecord, recordChanSize),
		store:      store,
		metrics:    metrics,
		flushEvery: recordFlushEvery,
	}
}

// Name returns the worker identifier.
func (g *GenerationRecorder) Name() string { return "generation_recorder" }

// Record enqueues r. It never blocks.
func (g *GenerationRecorder) Record(r respcache.GenerationRecord) {
	select {
	case g.ch <- r:
		g.gauge()
	default:
		slog.Warn("generation record dropped, channel full", "category", r.Category.String())
	}
}

// Run flushes batches until ctx is cancelled, then drains what is queued.
func (g *GenerationRecorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.flushEvery)
	defer ticker.Stop()

	buf := make([]respcache.GenerationRecord, 0, recordBatchSize)
	for {
		select {
		case r := <-g.ch:
			buf = append(buf, r)
			if len(buf) >= recordBatchSize {
				g.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ticker.C:
			if len(buf) > 0 {
				g.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ctx.Done():
			g.drain(buf)
			return nil
		}
	}
}

func (g *GenerationRecorder) drain(buf []respcache.GenerationRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), recordDrainTime)
	defer cancel()

	for {
		select {
		case r := <-g.ch:
			buf = append(buf, r)
			if len(buf) >= recordBatchSize {
				g.flush(ctx, buf)
				buf = buf[:0]
			}
		default:
			if len(buf) > 0 {
				g.flush(ctx, buf)
			}
			return
		}
	}
}

func (g *GenerationRecorder) flush(ctx context.Context, buf []respcache.GenerationRecord) {
	batch := make([]respcache.GenerationRecord, len(buf))
	copy(batch, buf)

	// IDs are assigned here rather than on the request path.
	for i := range batch {
		if batch[i].ID == "" {
			batch[i].ID = uuid.Must(uuid.NewV7()).String()
		}
	}

	if err := g.store.InsertGenerations(ctx, batch); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "generation flush failed",
			slog.Int("count", len(batch)),
			slog.String("error", err.Error()),
		)
	}
	g.gauge()
}

func (g *GenerationRecorder) gauge() {
	if g.metrics != nil {
		g.metrics.GenerationQueueLength.Set(float64(len(g.ch)))
	}
}
