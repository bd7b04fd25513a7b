package auction

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// TickInterval is the auction clock period. Item remaining time is counted
// in seconds, so one tick removes one second.
const TickInterval = time.Second

// runClock delivers a tick into every unsold item's worker on each period.
// Ticks are queued, never applied here, so a slow or failing item cannot
// hold up the others.
func (e *Engine) runClock(ctx context.Context) {
	ticker := e.clock.NewTicker(TickInterval)
	defer ticker.Stop()

	log.Info().Dur("interval", TickInterval).Msg("auction clock started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("auction clock stopped")
			return
		case <-ticker.Chan():
			e.tick()
		}
	}
}

// tick fans one tick out and returns the number of items it reached.
func (e *Engine) tick() int {
	start := e.clock.Now()

	ws := e.unsold()
	for _, w := range ws {
		w.enqueueTick()
	}

	e.metrics.RecordTick(len(ws), e.clock.Since(start))
	return len(ws)
}
