// Package sweep periodically drops pending requests nobody asked about.
package sweep

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"mkopaji/internal/monitoring"
)

// Sweeper is satisfied by *pending.Tracker.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
	Count(ctx context.Context) (int, error)
}

type Worker struct {
	tracker   Sweeper
	pollEvery time.Duration
}

func NewWorker(tracker Sweeper, every time.Duration) *Worker {
	if every <= 0 {
		every = 30 * time.Second
	}
	return &Worker{tracker: tracker, pollEvery: every}
}

func (w *Worker) Run(ctx context.Context) {
	log.Info().Dur("every", w.pollEvery).Msg("sweep worker: started")
	t := time.NewTicker(w.pollEvery)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("sweep worker: stopping")
			return
		case <-t.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	removed, err := w.tracker.Sweep(ctx)
	if err != nil {
		log.Error().Err(err).Msg("sweep worker: sweep failed")
	}
	if removed > 0 {
		monitoring.RecordExpired(removed)
		log.Info().Int("expired", removed).Msg("sweep worker: dropped expired requests")
	}
	if n, err := w.tracker.Count(ctx); err == nil {
		monitoring.SetPending(n)
	}
}
