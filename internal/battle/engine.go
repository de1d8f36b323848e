// Package battle implements the lifecycle of a two-seat prompt battle:
// create, join, submit, score and finalize. All state lives in a Store and every
// transition is a conditional update against it, so any number of engine
// instances may serve the same battles.
package battle

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/promptquest/internal/models"
	"github.com/jason-s-yu/promptquest/internal/scoring"
)

const (
	MaxPromptLength = 1000

	defaultPlayerName = "Player"
)

// Engine owns every valid battle transition.
type Engine struct {
	store     Store
	oracle    scoring.Oracle
	analyst   scoring.Analyst
	publisher Publisher
	results   ResultRecorder
	retry     RetryPolicy
	logger    logrus.FieldLogger
	now       func() time.Time

	// scoring goroutines outlive the request that started them
	bg     context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithAnalyst sets the model that writes the match analysis.
func WithAnalyst(a scoring.Analyst) Option {
	return func(e *Engine) { e.analyst = a }
}

// ResultRecorder is told about every battle this engine completes.
type ResultRecorder interface {
	Record(ctx context.Context, b *models.Battle) error
}

// WithResultRecorder feeds completed battles to r, e.g. for ratings.
func WithResultRecorder(r ResultRecorder) Option {
	return func(e *Engine) { e.results = r }
}

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(e *Engine) { e.retry = p.normalized() }
}

// WithClock overrides time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine wires an engine. A nil publisher disables fan-out.
func NewEngine(store Store, oracle scoring.Oracle, publisher Publisher, logger logrus.FieldLogger, opts ...Option) *Engine {
	if oracle == nil {
		oracle = scoring.Offline{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	bg, cancel := context.WithCancel(context.Background())
	e := &Engine{
		store:     store,
		oracle:    oracle,
		publisher: publisher,
		retry:     DefaultRetryPolicy(),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		bg:        bg,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Create opens a new waiting battle with the host in seat 1.
func (e *Engine) Create(ctx context.Context, host models.Participant, image models.ImageRef) (*models.Battle, error) {
	if host.ID == uuid.Nil {
		return nil, fmt.Errorf("%w: host identity is required", ErrInvalidInput)
	}
	if err := validateImage(image); err != nil {
		return nil, err
	}
	if host.Name == "" {
		host.Name = defaultPlayerName
	}

	b := &models.Battle{
		ID:          uuid.New(),
		TargetImage: image,
		Status:      models.StatusWaiting,
		Player1:     models.PlayerSlot{Participant: host},
		CreatedAt:   e.now(),
		Version:     1,
	}
	if err := e.store.Create(ctx, b); err != nil {
		return nil, fmt.Errorf("create battle: %w", err)
	}

	e.logger.WithFields(logrus.Fields{"battle_id": b.ID, "participant": host.ID}).Info("battle created")
	e.publish(ctx, EventCreated, b)
	return b, nil
}

// Get returns the stored battle.
func (e *Engine) Get(ctx context.Context, id uuid.UUID) (*models.Battle, error) {
	return e.store.Get(ctx, id)
}

// Join fills seat 2 and activates the battle. Exactly one of several
// concurrent joiners succeeds; the rest get ErrConflict.
func (e *Engine) Join(ctx context.Context, battleID uuid.UUID, p models.Participant) (*models.Battle, error) {
	if p.ID == uuid.Nil {
		return nil, fmt.Errorf("%w: participant identity is required", ErrInvalidInput)
	}
	if p.Name == "" {
		p.Name = defaultPlayerName
	}

	current, err := e.store.Get(ctx, battleID)
	if err != nil {
		return nil, err
	}
	// the host seat never changes, so this check cannot go stale
	if current.Player1.ID == p.ID {
		return nil, fmt.Errorf("%w: cannot join your own battle", ErrForbidden)
	}

	updated, err := e.store.Update(ctx, battleID,
		Condition{Status: models.StatusWaiting, SeatOpen: true},
		Mutation{Status: models.StatusActive, Opponent: &p, At: e.now()},
	)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, fmt.Errorf("%w: battle is no longer open", ErrConflict)
		}
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{"battle_id": battleID, "participant": p.ID}).Info("battle joined")
	e.publish(ctx, EventJoined, updated)
	return updated, nil
}

// SubmitPrompt records the participant's prompt for their seat and starts scoring
// in the background. The returned snapshot has the prompt set and the score pending.
func (e *Engine) SubmitPrompt(ctx context.Context, battleID, participantID uuid.UUID, text string) (*models.Battle, error) {
	prompt, err := normalizePrompt(text)
	if err != nil {
		return nil, err
	}
	if participantID == uuid.Nil {
		return nil, fmt.Errorf("%w: participant identity is required", ErrInvalidInput)
	}

	current, err := e.store.Get(ctx, battleID)
	if err != nil {
		return nil, err
	}
	seat := current.SeatOf(participantID)
	if seat == models.SeatNone {
		return nil, fmt.Errorf("%w: not a participant of this battle", ErrForbidden)
	}
	switch current.Status {
	case models.StatusWaiting:
		return nil, fmt.Errorf("%w: battle is waiting for an opponent", ErrConflict)
	case models.StatusCompleted:
		return nil, fmt.Errorf("%w: battle is already completed", ErrConflict)
	}
	if current.Slot(seat).Prompt != nil {
		return nil, fmt.Errorf("%w: prompt already submitted", ErrConflict)
	}

	updated, err := e.store.Update(ctx, battleID,
		Condition{Status: models.StatusActive, Seat: seat, Occupant: participantID, PromptUnset: true},
		Mutation{Seat: seat, Prompt: &prompt, At: e.now()},
	)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, fmt.Errorf("%w: prompt already submitted", ErrConflict)
		}
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{"battle_id": battleID, "seat": seat.String()}).Info("prompt submitted")
	e.publish(ctx, EventPromptSubmitted, updated)
	e.scoreAsync(updated.ID, seat, updated.TargetImage, prompt)
	return updated, nil
}

// Wait blocks until in-flight scoring finishes.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Close cancels in-flight scoring and waits for it to stop. Seats left unscored
// are picked up by Recover.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
}

func (e *Engine) scoreAsync(battleID uuid.UUID, seat models.Seat, image models.ImageRef, prompt string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.scoreSeat(e.bg, battleID, seat, image, prompt)
	}()
}

// scoreSeat evaluates one prompt and writes the score once. The seat that lands
// second finalizes the battle.
func (e *Engine) scoreSeat(ctx context.Context, battleID uuid.UUID, seat models.Seat, image models.ImageRef, prompt string) {
	log := e.logger.WithFields(logrus.Fields{"battle_id": battleID, "seat": seat.String()})

	ev, err := e.evaluate(ctx, log, image, prompt)
	if err != nil {
		log.WithError(err).Warn("scoring abandoned")
		return
	}

	score := ev.Score
	updated, err := e.store.Update(ctx, battleID,
		Condition{Status: models.StatusActive, Seat: seat, PromptSet: true, ScoreUnset: true},
		Mutation{Seat: seat, Score: &score, Feedback: ev.Feedback, At: e.now()},
	)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			log.Debug("score already recorded")
			return
		}
		log.WithError(err).Error("failed to record score")
		return
	}

	log.WithField("score", score).Info("seat scored")
	e.publish(ctx, EventSeatScored, updated)

	if updated.BothScored() {
		e.finalize(ctx, updated)
	}
}

// evaluate calls the oracle under the retry policy. Permanent failure yields the
// fallback evaluation; an error is returned only when ctx itself is done.
func (e *Engine) evaluate(ctx context.Context, log logrus.FieldLogger, image models.ImageRef, prompt string) (scoring.Evaluation, error) {
	var lastErr error
	for attempt := 1; attempt <= e.retry.MaxAttempts; attempt++ {
		actx, cancel := context.WithTimeout(ctx, e.retry.AttemptTimeout)
		ev, err := e.oracle.Score(actx, image, prompt)
		cancel()
		if err == nil {
			ev.Score = scoring.Clamp(ev.Score)
			return ev, nil
		}
		if ctx.Err() != nil {
			return scoring.Evaluation{}, ctx.Err()
		}

		lastErr = err
		alog := log.WithField("attempt", attempt).WithError(err)
		if !scoring.Retryable(err) || attempt == e.retry.MaxAttempts {
			alog.Warn("oracle failed, using fallback score")
			break
		}
		alog.Info("oracle failed, retrying")
		if err := sleepCtx(ctx, e.retry.Delay(attempt)); err != nil {
			return scoring.Evaluation{}, err
		}
	}
	return scoring.Fallback(lastErr), nil
}

// finalize completes a battle from a snapshot with both scores. Scores are
// write-once, so the winner computed here is the only possible one; a losing
// concurrent finalize gets ErrConflict and stops.
func (e *Engine) finalize(ctx context.Context, b *models.Battle) {
	log := e.logger.WithField("battle_id", b.ID)
	winner := ComputeWinner(*b.Player1.Score, *b.Player2.Score)
	analysis := e.analyze(ctx, log, b, winner)

	done, err := e.store.Update(ctx, b.ID,
		Condition{Status: models.StatusActive, BothScored: true},
		Mutation{Status: models.StatusCompleted, Winner: winner, MatchAnalysis: analysis, At: e.now()},
	)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			log.Debug("battle already finalized")
			return
		}
		log.WithError(err).Error("failed to finalize battle")
		return
	}

	log.WithField("winner", winner).Info("battle completed")
	e.publish(ctx, EventCompleted, done)

	if e.results != nil {
		if err := e.results.Record(ctx, done); err != nil {
			log.WithError(err).Warn("failed to record battle result")
		}
	}
}

func (e *Engine) analyze(ctx context.Context, log logrus.FieldLogger, b *models.Battle, winner models.Winner) string {
	if e.analyst != nil {
		actx, cancel := context.WithTimeout(ctx, e.retry.AttemptTimeout)
		text, err := e.analyst.Analyze(actx, b.TargetImage, b.Player1, *b.Player2)
		cancel()
		if err == nil && text != "" {
			return text
		}
		log.WithError(err).Warn("match analysis failed, using summary")
	}
	return DescribeOutcome(b, winner)
}

func (e *Engine) publish(ctx context.Context, kind EventKind, b *models.Battle) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, NewEvent(kind, b)); err != nil {
		e.logger.WithFields(logrus.Fields{"battle_id": b.ID, "event": kind}).WithError(err).Warn("publish failed")
	}
}

func validateImage(image models.ImageRef) error {
	if strings.TrimSpace(image.URL) == "" {
		return fmt.Errorf("%w: target image is required", ErrInvalidInput)
	}
	u, err := url.Parse(image.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: target image must be an absolute http(s) URL", ErrInvalidInput)
	}
	return nil
}

func normalizePrompt(text string) (string, error) {
	prompt := strings.TrimSpace(text)
	if prompt == "" {
		return "", fmt.Errorf("%w: prompt is required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(prompt) > MaxPromptLength {
		return "", fmt.Errorf("%w: prompt exceeds %d characters", ErrInvalidInput, MaxPromptLength)
	}
	return prompt, nil
}
