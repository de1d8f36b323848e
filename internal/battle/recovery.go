package battle

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/promptquest/internal/models"
)

const recoveryBatch = 100

// Recover re-drives battles whose scoring or finalize was interrupted, for
// example by a restart. It returns the number of battles it picked up.
// Re-scoring a seat that is concurrently being scored is harmless: only one
// score write can land.
func (e *Engine) Recover(ctx context.Context, olderThan time.Time) (int, error) {
	stalled, err := e.store.ListStalled(ctx, olderThan, recoveryBatch)
	if err != nil {
		return 0, fmt.Errorf("list stalled battles: %w", err)
	}
	for _, b := range stalled {
		if b.BothScored() {
			e.wg.Add(1)
			go func(b *models.Battle) {
				defer e.wg.Done()
				e.finalize(e.bg, b)
			}(b)
			continue
		}
		for _, seat := range []models.Seat{models.Seat1, models.Seat2} {
			slot := b.Slot(seat)
			if slot == nil || slot.Prompt == nil || slot.Score != nil {
				continue
			}
			if slot.SubmittedAt != nil && !slot.SubmittedAt.Before(olderThan) {
				continue
			}
			e.logger.WithFields(logrus.Fields{"battle_id": b.ID, "seat": seat.String()}).Info("rescoring stalled seat")
			e.scoreAsync(b.ID, seat, b.TargetImage, *slot.Prompt)
		}
	}
	return len(stalled), nil
}

// Recovery runs Recover on a fixed interval.
type Recovery struct {
	engine    *Engine
	scheduler gocron.Scheduler
	after     time.Duration
	logger    logrus.FieldLogger
}

// NewRecovery schedules a sweep every interval for seats stalled longer than after.
func NewRecovery(engine *Engine, interval, after time.Duration, logger logrus.FieldLogger) (*Recovery, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	r := &Recovery{engine: engine, scheduler: s, after: after, logger: logger}

	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(r.sweep),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, fmt.Errorf("schedule recovery job: %w", err)
	}
	return r, nil
}

func (r *Recovery) Start() {
	r.scheduler.Start()
	r.logger.WithField("after", r.after).Info("scoring recovery started")
}

func (r *Recovery) Shutdown() error {
	return r.scheduler.Shutdown()
}

func (r *Recovery) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := r.engine.Recover(ctx, r.engine.now().Add(-r.after))
	if err != nil {
		r.logger.WithError(err).Error("recovery sweep failed")
		return
	}
	if n > 0 {
		r.logger.WithField("battles", n).Info("recovery sweep re-drove stalled battles")
	}
}
