package worker

import (
	"context"
	"log/slog"
	"time"
)

// CycleAdvancer creates next-cycle bills that are due as of now.
type CycleAdvancer interface {
	AdvanceDueBills(ctx context.Context, now time.Time) (int, error)
}

// CycleWorker runs the cycle processor once at start and then on every tick.
type CycleWorker struct {
	processor CycleAdvancer
	interval  time.Duration
	now       func() time.Time

	// OnAdvance is called after a pass that created at least one bill.
	OnAdvance func(created int)
}

func NewCycleWorker(processor CycleAdvancer, interval time.Duration) *CycleWorker {
	return &CycleWorker{
		processor: processor,
		interval:  interval,
		now:       time.Now,
	}
}

// Run blocks until ctx is cancelled. Failed passes are logged and retried on
// the next tick.
func (w *CycleWorker) Run(ctx context.Context) error {
	slog.InfoContext(ctx, "Cycle processor started", "interval", w.interval)

	w.runOnce(ctx, w.now())

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Cycle processor stopped")
			return nil
		case <-ticker.C:
			w.runOnce(ctx, w.now())
		}
	}
}

func (w *CycleWorker) runOnce(ctx context.Context, now time.Time) {
	created, err := w.processor.AdvanceDueBills(ctx, now)
	if err != nil {
		slog.ErrorContext(ctx, "Cycle processing failed", "error", err)
		return
	}
	slog.InfoContext(ctx, "Cycle processing complete",
		"bills_created", created,
		"next_check", now.Add(w.interval).Format("15:04:05"))
	if created > 0 && w.OnAdvance != nil {
		w.OnAdvance(created)
	}
}
