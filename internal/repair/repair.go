// Package repair re-creates calendar events for bookings whose calendar sync
// failed when they were written.
package repair

import (
	"context"
	"errors"
	"sync"
	"time"

	"studiobook/internal/database"
	"studiobook/internal/metrics"
	"studiobook/internal/models"

	"github.com/rs/zerolog"
)

const (
	defaultBatchSize = 50
	defaultGrace     = time.Minute
)

// Store lists bookings created before a cutoff that have no calendar event on
// record.
type Store interface {
	ListMissingCalendarEvents(ctx context.Context, createdBefore time.Time, limit int) ([]*models.Booking, error)
}

// Syncer creates the calendar event of a booking and records its id.
type Syncer interface {
	SyncCalendar(ctx context.Context, b *models.Booking) error
}

// Stats summarizes one repair pass.
type Stats struct {
	Scanned  int
	Repaired int
	// Skipped counts bookings that got an event elsewhere or were closed
	// while the pass ran.
	Skipped int
	Failed  int
}

// Worker runs repair passes on a fixed interval.
type Worker struct {
	store     Store
	syncer    Syncer
	interval  time.Duration
	grace     time.Duration
	batchSize int
	logger    zerolog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewWorker creates a repair worker. Bookings younger than grace are left
// alone, since their own write may still be creating the event.
func NewWorker(store Store, syncer Syncer, interval, grace time.Duration, logger zerolog.Logger) *Worker {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if grace <= 0 {
		grace = defaultGrace
	}
	return &Worker{
		store:     store,
		syncer:    syncer,
		interval:  interval,
		grace:     grace,
		batchSize: defaultBatchSize,
		logger:    logger.With().Str("component", "calendar_repair").Logger(),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the loop in the background. Calling it twice is a no-op.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true

	w.logger.Info().Dur("interval", w.interval).Msg("Calendar repair started")

	w.wg.Add(1)
	go w.loop(ctx)
}

// Stop ends the loop and waits for an in-flight pass to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.running {
		w.running = false
		close(w.stopCh)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *Worker) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce repairs one batch of bookings. Failures are left for the next pass.
func (w *Worker) RunOnce(ctx context.Context) Stats {
	var stats Stats

	bookings, err := w.store.ListMissingCalendarEvents(ctx, time.Now().Add(-w.grace), w.batchSize)
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to list bookings without calendar events")
		return stats
	}
	stats.Scanned = len(bookings)

	for _, b := range bookings {
		if ctx.Err() != nil {
			break
		}
		err := w.syncer.SyncCalendar(ctx, b)
		if errors.Is(err, database.ErrCalendarEventConflict) {
			stats.Skipped++
			w.logger.Debug().Str("booking_id", b.ID).Msg("Booking changed during repair, skipped")
			continue
		}
		metrics.IncCalendarRepair(err)
		if err != nil {
			stats.Failed++
			w.logger.Warn().Err(err).Str("booking_id", b.ID).Msg("Calendar repair failed")
			continue
		}
		stats.Repaired++
		w.logger.Info().Str("booking_id", b.ID).Str("event_id", b.CalendarEventID).Msg("Calendar event restored")
	}

	if stats.Scanned > 0 {
		w.logger.Info().
			Int("scanned", stats.Scanned).
			Int("repaired", stats.Repaired).
			Int("skipped", stats.Skipped).
			Int("failed", stats.Failed).
			Msg("Calendar repair pass finished")
	}
	return stats
}
