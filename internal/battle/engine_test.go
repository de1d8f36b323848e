package battle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jason-s-yu/promptquest/internal/models"
	"github.com/jason-s-yu/promptquest/internal/scoring"
)

// fakeOracle scores prompts from a fixed table and counts calls.
type fakeOracle struct {
	mu     sync.Mutex
	scores map[string]int
	errs   map[string]error
	calls  map[string]int
	block  bool // wait for the attempt deadline instead of answering
}

func newFakeOracle(scores map[string]int) *fakeOracle {
	return &fakeOracle{scores: scores, errs: map[string]error{}, calls: map[string]int{}}
}

func (f *fakeOracle) Score(ctx context.Context, _ models.ImageRef, prompt string) (scoring.Evaluation, error) {
	f.mu.Lock()
	f.calls[prompt]++
	err := f.errs[prompt]
	score, ok := f.scores[prompt]
	block := f.block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return scoring.Evaluation{}, ctx.Err()
	}
	if err != nil {
		return scoring.Evaluation{}, err
	}
	if !ok {
		score = 50
	}
	return scoring.Evaluation{Score: score, Feedback: "feedback for " + prompt}, nil
}

func (f *fakeOracle) callCount(prompt string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[prompt]
}

type fakeAnalyst struct {
	text string
	err  error
}

func (a fakeAnalyst) Analyze(context.Context, models.ImageRef, models.PlayerSlot, models.PlayerSlot) (string, error) {
	return a.text, a.err
}

// recordingPublisher collects events instead of sending them anywhere.
type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) kinds() []EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]EventKind, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (p *recordingPublisher) count(kind EventKind) int {
	n := 0
	for _, k := range p.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

// byVersion returns the recorded snapshots in store order.
func (p *recordingPublisher) byVersion() []*models.Battle {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*models.Battle, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Battle)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

var testImage = models.ImageRef{URL: "https://images.example.com/img1.jpg", ID: "IMG1"}

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2, AttemptTimeout: time.Second}
}

func setupEngine(t *testing.T, oracle scoring.Oracle, opts ...Option) (*Engine, *MemoryStore, *recordingPublisher) {
	t.Helper()
	store := NewMemoryStore()
	pub := &recordingPublisher{}
	opts = append([]Option{WithRetryPolicy(fastRetry())}, opts...)
	e := NewEngine(store, oracle, pub, quietLogger(), opts...)
	t.Cleanup(e.Close)
	return e, store, pub
}

func participant(name string) models.Participant {
	return models.Participant{ID: uuid.New(), Name: name}
}

// activeBattle creates and joins a battle, returning it with both participants.
func activeBattle(t *testing.T, e *Engine) (*models.Battle, models.Participant, models.Participant) {
	t.Helper()
	ctx := context.Background()
	host, guest := participant("host"), participant("guest")
	b, err := e.Create(ctx, host, testImage)
	require.NoError(t, err)
	b, err = e.Join(ctx, b.ID, guest)
	require.NoError(t, err)
	return b, host, guest
}

func TestBattleScenario(t *testing.T) {
	ctx := context.Background()
	oracle := newFakeOracle(map[string]int{"a red bicycle": 70, "a blue car": 85})
	e, _, pub := setupEngine(t, oracle)

	host, guest := participant("alice"), participant("bob")
	b, err := e.Create(ctx, host, testImage)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, b.Status)
	assert.Nil(t, b.Player2)
	assert.Equal(t, testImage, b.TargetImage)

	lobby, err := e.ListWaiting(ctx, 0)
	require.NoError(t, err)
	require.Len(t, lobby, 1)
	assert.Equal(t, b.ID, lobby[0].ID)
	assert.Equal(t, "alice", lobby[0].Host.Name)

	b, err = e.Join(ctx, b.ID, guest)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, b.Status)
	require.NotNil(t, b.Player2)
	assert.Equal(t, guest.ID, b.Player2.ID)

	lobby, err = e.ListWaiting(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, lobby)

	b, err = e.SubmitPrompt(ctx, b.ID, host.ID, "a red bicycle")
	require.NoError(t, err)
	require.NotNil(t, b.Player1.Prompt)
	assert.Equal(t, "a red bicycle", *b.Player1.Prompt)
	e.Wait()

	b, err = e.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, b.Status)
	require.NotNil(t, b.Player1.Score)
	assert.Equal(t, 70, *b.Player1.Score)

	_, err = e.SubmitPrompt(ctx, b.ID, guest.ID, "  a blue car  ")
	require.NoError(t, err)
	e.Wait()

	b, err = e.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, b.Status)
	assert.Equal(t, models.WinnerPlayer2, b.Winner)
	assert.Equal(t, "a blue car", *b.Player2.Prompt)
	assert.Equal(t, 85, *b.Player2.Score)
	assert.Equal(t, "feedback for a blue car", b.Player2.Feedback)
	assert.NotNil(t, b.CompletedAt)
	assert.Contains(t, b.MatchAnalysis, "bob wins with 85")

	assert.Equal(t, []EventKind{
		EventCreated, EventJoined,
		EventPromptSubmitted, EventSeatScored,
		EventPromptSubmitted, EventSeatScored, EventCompleted,
	}, pub.kinds())
}

func TestStatusNeverMovesBackward(t *testing.T) {
	ctx := context.Background()
	e, _, pub := setupEngine(t, newFakeOracle(map[string]int{"one": 40, "two": 60}))
	b, host, guest := activeBattle(t, e)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _, _ = e.SubmitPrompt(ctx, b.ID, host.ID, "one") }()
	go func() { defer wg.Done(); _, _ = e.SubmitPrompt(ctx, b.ID, guest.ID, "two") }()
	wg.Wait()
	e.Wait()

	snapshots := pub.byVersion()
	require.NotEmpty(t, snapshots)
	prev := 0
	sawActive := false
	for _, s := range snapshots {
		require.GreaterOrEqual(t, s.Status.Rank(), prev, "status moved backward at version %d", s.Version)
		if s.Status == models.StatusActive {
			sawActive = true
		}
		if s.Status == models.StatusCompleted {
			assert.True(t, sawActive, "completed without passing through active")
		}
		prev = s.Status.Rank()
	}
	assert.Equal(t, models.StatusCompleted, snapshots[len(snapshots)-1].Status)
	assert.Equal(t, 1, pub.count(EventCompleted))
}

func TestConcurrentJoin(t *testing.T) {
	ctx := context.Background()
	e, _, _ := setupEngine(t, newFakeOracle(nil))
	b, err := e.Create(ctx, participant("host"), testImage)
	require.NoError(t, err)

	const joiners = 8
	var (
		wg        sync.WaitGroup
		start     = make(chan struct{})
		mu        sync.Mutex
		succeeded []uuid.UUID
		conflicts int
	)
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func(p models.Participant) {
			defer wg.Done()
			<-start
			_, err := e.Join(ctx, b.ID, p)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded = append(succeeded, p.ID)
			case errors.Is(err, ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected join error: %v", err)
			}
		}(participant(fmt.Sprintf("joiner-%d", i)))
	}
	close(start)
	wg.Wait()

	require.Len(t, succeeded, 1)
	assert.Equal(t, joiners-1, conflicts)

	stored, err := e.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, stored.Status)
	assert.Equal(t, succeeded[0], stored.Player2.ID)
	assert.Equal(t, 2, stored.Version)
}

func TestConcurrentSubmitSameSeat(t *testing.T) {
	ctx := context.Background()
	oracle := newFakeOracle(nil)
	oracle.block = true
	e, _, _ := setupEngine(t, oracle)
	b, host, _ := activeBattle(t, e)

	const attempts = 8
	var (
		wg        sync.WaitGroup
		start     = make(chan struct{})
		mu        sync.Mutex
		accepted  []string
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(prompt string) {
			defer wg.Done()
			<-start
			_, err := e.SubmitPrompt(ctx, b.ID, host.ID, prompt)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted = append(accepted, prompt)
			case errors.Is(err, ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected submit error: %v", err)
			}
		}(fmt.Sprintf("prompt %d", i))
	}
	close(start)
	wg.Wait()

	require.Len(t, accepted, 1)
	assert.Equal(t, attempts-1, conflicts)

	stored, err := e.Get(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Player1.Prompt)
	assert.Equal(t, accepted[0], *stored.Player1.Prompt)
	assert.Nil(t, stored.Player2.Prompt)
}

func TestJoinErrors(t *testing.T) {
	ctx := context.Background()
	e, _, _ := setupEngine(t, newFakeOracle(nil))
	host := participant("host")
	b, err := e.Create(ctx, host, testImage)
	require.NoError(t, err)

	_, err = e.Join(ctx, b.ID, host)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = e.Join(ctx, uuid.New(), participant("x"))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = e.Join(ctx, b.ID, models.Participant{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = e.Join(ctx, b.ID, participant("guest"))
	require.NoError(t, err)

	_, err = e.Join(ctx, b.ID, participant("late"))
	assert.ErrorIs(t, err, ErrConflict)

	// host still forbidden, not conflict, once the battle is full
	_, err = e.Join(ctx, b.ID, host)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()
	e, _, _ := setupEngine(t, newFakeOracle(nil))

	_, err := e.Create(ctx, participant("host"), models.ImageRef{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = e.Create(ctx, participant("host"), models.ImageRef{URL: "not a url"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = e.Create(ctx, participant("host"), models.ImageRef{URL: "ftp://example.com/a.png"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = e.Create(ctx, models.Participant{}, testImage)
	assert.ErrorIs(t, err, ErrInvalidInput)

	b, err := e.Create(ctx, models.Participant{ID: uuid.New()}, testImage)
	require.NoError(t, err)
	assert.Equal(t, "Player", b.Player1.Name)
	assert.Equal(t, 1, b.Version)
}

func TestSubmitErrors(t *testing.T) {
	ctx := context.Background()
	e, _, _ := setupEngine(t, newFakeOracle(map[string]int{"a": 10, "b": 20}))
	host, guest := participant("host"), participant("guest")

	waiting, err := e.Create(ctx, host, testImage)
	require.NoError(t, err)
	_, err = e.SubmitPrompt(ctx, waiting.ID, host.ID, "a")
	assert.ErrorIs(t, err, ErrConflict)

	_, err = e.SubmitPrompt(ctx, uuid.New(), host.ID, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = e.Join(ctx, waiting.ID, guest)
	require.NoError(t, err)

	_, err = e.SubmitPrompt(ctx, waiting.ID, uuid.New(), "a")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = e.SubmitPrompt(ctx, waiting.ID, host.ID, "   ")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = e.SubmitPrompt(ctx, waiting.ID, host.ID, strings.Repeat("x", MaxPromptLength+1))
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = e.SubmitPrompt(ctx, waiting.ID, host.ID, strings.Repeat("é", MaxPromptLength))
	require.NoError(t, err)

	_, err = e.SubmitPrompt(ctx, waiting.ID, host.ID, "again")
	assert.ErrorIs(t, err, ErrConflict)

	_, err = e.SubmitPrompt(ctx, waiting.ID, guest.ID, "b")
	require.NoError(t, err)
	e.Wait()

	done, err := e.Get(ctx, waiting.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, done.Status)

	_, err = e.SubmitPrompt(ctx, waiting.ID, guest.ID, "b")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestOracleFailureFallsBackAndCompletes(t *testing.T) {
	ctx := context.Background()
	oracle := newFakeOracle(map[string]int{"good prompt": 80})
	oracle.errs["doomed prompt"] = fmt.Errorf("quota: %w", scoring.ErrRateLimited)
	e, _, _ := setupEngine(t, oracle)
	b, host, guest := activeBattle(t, e)

	_, err := e.SubmitPrompt(ctx, b.ID, host.ID, "doomed prompt")
	require.NoError(t, err)
	_, err = e.SubmitPrompt(ctx, b.ID, guest.ID, "good prompt")
	require.NoError(t, err)
	e.Wait()

	assert.Equal(t, 3, oracle.callCount("doomed prompt"))
	assert.Equal(t, 1, oracle.callCount("good prompt"))

	done, err := e.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.Equal(t, scoring.NeutralScore, *done.Player1.Score)
	assert.True(t, strings.HasPrefix(done.Player1.Feedback, "Evaluation unavailable"))
	assert.Equal(t, models.WinnerPlayer2, done.Winner)
}

func TestNonRetryableOracleFailure(t *testing.T) {
	ctx := context.Background()
	oracle := newFakeOracle(nil)
	oracle.errs["garbled"] = scoring.ErrMalformedResponse
	e, _, _ := setupEngine(t, oracle)
	b, host, _ := activeBattle(t, e)

	_, err := e.SubmitPrompt(ctx, b.ID, host.ID, "garbled")
	require.NoError(t, err)
	e.Wait()

	assert.Equal(t, 1, oracle.callCount("garbled"))
	stored, err := e.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, scoring.NeutralScore, *stored.Player1.Score)
}

func TestOracleTimeoutIsRetried(t *testing.T) {
	ctx := context.Background()
	oracle := newFakeOracle(nil)
	oracle.block = true
	e, _, _ := setupEngine(t, oracle, WithRetryPolicy(RetryPolicy{
		MaxAttempts: 2, BaseDelay: time.Millisecond, Multiplier: 1, AttemptTimeout: 10 * time.Millisecond,
	}))
	b, host, _ := activeBattle(t, e)

	_, err := e.SubmitPrompt(ctx, b.ID, host.ID, "slow")
	require.NoError(t, err)
	e.Wait()

	assert.Equal(t, 2, oracle.callCount("slow"))
	stored, err := e.Get(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Player1.Score)
	assert.Equal(t, scoring.NeutralScore, *stored.Player1.Score)
	assert.Equal(t, models.StatusActive, stored.Status)
}

func TestOpponentNeverSubmits(t *testing.T) {
	ctx := context.Background()
	e, _, pub := setupEngine(t, newFakeOracle(map[string]int{"solo": 90}))
	b, host, _ := activeBattle(t, e)

	_, err := e.SubmitPrompt(ctx, b.ID, host.ID, "solo")
	require.NoError(t, err)
	e.Wait()

	stored, err := e.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, stored.Status)
	assert.Equal(t, models.WinnerNone, stored.Winner)
	assert.Nil(t, stored.CompletedAt)
	assert.Zero(t, pub.count(EventCompleted))
}

func TestDrawWithAnalyst(t *testing.T) {
	ctx := context.Background()
	oracle := newFakeOracle(map[string]int{"left": 64, "right": 64})
	e, _, _ := setupEngine(t, oracle, WithAnalyst(fakeAnalyst{text: "Both prompts nailed the subject."}))
	b, host, guest := activeBattle(t, e)

	_, err := e.SubmitPrompt(ctx, b.ID, host.ID, "left")
	require.NoError(t, err)
	_, err = e.SubmitPrompt(ctx, b.ID, guest.ID, "right")
	require.NoError(t, err)
	e.Wait()

	done, err := e.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WinnerDraw, done.Winner)
	assert.Equal(t, "Both prompts nailed the subject.", done.MatchAnalysis)
}

func TestAnalystFailureUsesSummary(t *testing.T) {
	ctx := context.Background()
	oracle := newFakeOracle(map[string]int{"x": 90, "y": 30})
	e, _, _ := setupEngine(t, oracle, WithAnalyst(fakeAnalyst{err: scoring.ErrUnavailable}))
	b, host, guest := activeBattle(t, e)

	_, err := e.SubmitPrompt(ctx, b.ID, host.ID, "x")
	require.NoError(t, err)
	_, err = e.SubmitPrompt(ctx, b.ID, guest.ID, "y")
	require.NoError(t, err)
	e.Wait()

	done, err := e.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WinnerPlayer1, done.Winner)
	assert.Equal(t, "host wins with 90 against guest's 30, a margin of 60 points.", done.MatchAnalysis)
}

// scoredBattle stores an active battle with both seats scored but not finalized.
func scoredBattle(t *testing.T, store Store, s1, s2 int, at time.Time) *models.Battle {
	t.Helper()
	p1, p2 := "first", "second"
	b := &models.Battle{
		ID:          uuid.New(),
		TargetImage: testImage,
		Status:      models.StatusActive,
		Player1:     models.PlayerSlot{Participant: participant("p1"), Prompt: &p1, SubmittedAt: &at, Score: &s1, ScoredAt: &at},
		Player2:     &models.PlayerSlot{Participant: participant("p2"), Prompt: &p2, SubmittedAt: &at, Score: &s2, ScoredAt: &at},
		CreatedAt:   at,
		Version:     5,
	}
	require.NoError(t, store.Create(context.Background(), b))
	return b
}

func TestFinalizeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	results := &countingRecorder{}
	e, store, pub := setupEngine(t, newFakeOracle(nil), WithResultRecorder(results))
	b := scoredBattle(t, store, 30, 55, time.Now())

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			e.finalize(ctx, b.Clone())
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, pub.count(EventCompleted))
	done, err := store.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.Equal(t, models.WinnerPlayer2, done.Winner)
	assert.Equal(t, 6, done.Version)

	results.mu.Lock()
	defer results.mu.Unlock()
	require.Len(t, results.battles, 1)
	assert.Equal(t, models.StatusCompleted, results.battles[0].Status)
}

type countingRecorder struct {
	mu      sync.Mutex
	battles []*models.Battle
}

func (r *countingRecorder) Record(_ context.Context, b *models.Battle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.battles = append(r.battles, b)
	return nil
}

func TestPublisherFailureDoesNotFailRequest(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(NewMemoryStore(), newFakeOracle(nil), failingPublisher{}, quietLogger(), WithRetryPolicy(fastRetry()))
	t.Cleanup(e.Close)

	b, err := e.Create(ctx, participant("host"), testImage)
	require.NoError(t, err)
	_, err = e.Join(ctx, b.ID, participant("guest"))
	require.NoError(t, err)
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, Event) error { return errors.New("relay down") }

func TestLobbyOrderingAndLimit(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	clock := func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	e, _, _ := setupEngine(t, newFakeOracle(nil), WithClock(clock))

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		b, err := e.Create(ctx, participant(fmt.Sprintf("host-%d", i)), testImage)
		require.NoError(t, err)
		ids = append(ids, b.ID)
	}

	lobby, err := e.ListWaiting(ctx, 0)
	require.NoError(t, err)
	require.Len(t, lobby, 3)
	for i, s := range lobby {
		assert.Equal(t, ids[i], s.ID)
	}

	lobby, err = e.ListWaiting(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, lobby, 2)
}

func TestPublishersFanOutPastFailures(t *testing.T) {
	first, last := &recordingPublisher{}, &recordingPublisher{}
	pubs := Publishers{first, failingPublisher{}, last}

	b := &models.Battle{ID: uuid.New(), Status: models.StatusWaiting}
	err := pubs.Publish(context.Background(), NewEvent(EventCreated, b))
	assert.ErrorContains(t, err, "relay down")
	assert.Equal(t, 1, first.count(EventCreated))
	assert.Equal(t, 1, last.count(EventCreated))

	assert.NoError(t, Publishers{}.Publish(context.Background(), NewEvent(EventCreated, b)))
}
