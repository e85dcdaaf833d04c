package lifecycle

import (
	"context"
	"time"

	"voyagehub.org/internal/obs"
)

// Sweeper periodically reclaims expired manifests.
type Sweeper struct {
	orch     *Orchestrator
	interval time.Duration
}

func NewSweeper(orch *Orchestrator, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{orch: orch, interval: interval}
}

// Run blocks until ctx is canceled, sweeping once per interval.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.orch.PurgeExpired(ctx)
			if err != nil {
				obs.LogRequest(map[string]any{"level": "error", "msg": "manifest sweep failed", "error": err.Error()})
				continue
			}
			if n > 0 {
				obs.LogRequest(map[string]any{"level": "info", "msg": "manifest sweep", "reclaimed": n})
			}
		}
	}
}

// Worker drains the erasure queue, retrying partial runs on later passes.
type Worker struct {
	orch     *Orchestrator
	interval time.Duration
	batch    int
}

func NewWorker(orch *Orchestrator, interval time.Duration, batch int) *Worker {
	if interval <= 0 {
		interval = time.Minute
	}
	if batch <= 0 {
		batch = 16
	}
	return &Worker{orch: orch, interval: interval, batch: batch}
}

// Run blocks until ctx is canceled, processing queued and partial runs each
// tick.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			completed, err := w.orch.ProcessQueued(ctx, w.batch)
			if err != nil {
				obs.LogRequest(map[string]any{"level": "error", "msg": "erasure pass failed", "error": err.Error()})
				continue
			}
			if completed > 0 {
				obs.LogRequest(map[string]any{"level": "info", "msg": "erasure pass", "completed": completed})
			}
		}
	}
}
