// Package historian archives battle lifecycle events. The server pushes each
// stored transition onto a Redis list; the historian worker pops them and
// writes them to Postgres in batches.
package historian

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/promptquest/internal/battle"
	"github.com/jason-s-yu/promptquest/internal/models"
)

const (
	DefaultQueue         = "promptquest:battle_history"
	DefaultBatchSize     = 20
	DefaultFlushInterval = time.Second
	DefaultMaxQueueLen   = 100000

	// BLPOP timeouts are whole seconds.
	popTimeout = time.Second
)

// Record is one archived transition: the battle as it was at Version.
type Record struct {
	BattleID   uuid.UUID           `json:"battle_id"`
	Version    int                 `json:"version"`
	Event      battle.EventKind    `json:"event"`
	Status     models.BattleStatus `json:"status"`
	Battle     json.RawMessage     `json:"battle"`
	RecordedAt time.Time           `json:"recorded_at"`
}

// NewRecord captures ev. Snapshots are not transitions and are rejected.
func NewRecord(ev battle.Event, at time.Time) (Record, error) {
	if ev.Battle == nil {
		return Record{}, errors.New("event has no battle")
	}
	if ev.Kind == battle.EventSnapshot {
		return Record{}, errors.New("snapshots are not archived")
	}
	data, err := json.Marshal(ev.Battle)
	if err != nil {
		return Record{}, fmt.Errorf("failed to marshal battle: %w", err)
	}
	return Record{
		BattleID:   ev.Battle.ID,
		Version:    ev.Battle.Version,
		Event:      ev.Kind,
		Status:     ev.Battle.Status,
		Battle:     data,
		RecordedAt: at,
	}, nil
}

// Queue is a battle.Publisher that appends events to the historian's Redis list.
// The list is capped at maxLen; the oldest entries go first when the worker is down.
type Queue struct {
	client *redis.Client
	key    string
	maxLen int64
}

func NewQueue(client *redis.Client, key string, maxLen int64) *Queue {
	if key == "" {
		key = DefaultQueue
	}
	if maxLen <= 0 {
		maxLen = DefaultMaxQueueLen
	}
	return &Queue{client: client, key: key, maxLen: maxLen}
}

func (q *Queue) Publish(ctx context.Context, ev battle.Event) error {
	if ev.Kind == battle.EventSnapshot {
		return nil
	}
	rec, err := NewRecord(ev, time.Now().UTC())
	if err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal history record: %w", err)
	}
	_, err = q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, q.key, data)
		p.LTrim(ctx, q.key, -q.maxLen, -1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to queue history record: %w", err)
	}
	return nil
}

// Sink stores archived records. Inserting a record twice must be harmless.
type Sink interface {
	InsertHistory(ctx context.Context, recs []Record) error
}

// Reader serves a battle's archived transitions in version order.
type Reader interface {
	ListHistory(ctx context.Context, battleID uuid.UUID) ([]Record, error)
}

type Options struct {
	Queue         string
	BatchSize     int
	FlushInterval time.Duration
}

func (o Options) normalized() Options {
	if o.Queue == "" {
		o.Queue = DefaultQueue
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = DefaultFlushInterval
	}
	return o
}

// Service drains the queue into a Sink.
type Service struct {
	client *redis.Client
	sink   Sink
	opts   Options
	logger logrus.FieldLogger
	batch  *batcher
}

func NewService(client *redis.Client, sink Sink, opts Options, logger logrus.FieldLogger) *Service {
	opts = opts.normalized()
	return &Service{
		client: client,
		sink:   sink,
		opts:   opts,
		logger: logger,
		batch:  newBatcher(opts.BatchSize, opts.FlushInterval),
	}
}

// Run pops records until ctx is cancelled, then flushes what it holds.
func (s *Service) Run(ctx context.Context) error {
	s.logger.WithField("queue", s.opts.Queue).Info("historian started")
	for {
		if ctx.Err() != nil {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			s.flush(flushCtx)
			cancel()
			s.logger.Info("historian stopped")
			return nil
		}

		res, err := s.client.BLPop(ctx, popTimeout, s.opts.Queue).Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			if ctx.Err() == nil {
				s.logger.WithError(err).Error("BLPOP failed")
				sleepCtx(ctx, s.opts.FlushInterval)
			}
		case len(res) == 2:
			var rec Record
			if err := json.Unmarshal([]byte(res[1]), &rec); err != nil {
				s.logger.WithError(err).Warn("dropping invalid history record")
				break
			}
			if dropped := s.batch.add(rec, time.Now()); dropped > 0 {
				s.logger.WithField("dropped", dropped).Error("history backlog full, dropping oldest records")
			}
		}

		if s.batch.due(time.Now()) {
			s.flush(ctx)
		}
	}
}

func (s *Service) flush(ctx context.Context) {
	recs := s.batch.take()
	if len(recs) == 0 {
		return
	}
	if err := s.sink.InsertHistory(ctx, recs); err != nil {
		s.logger.WithError(err).WithField("records", len(recs)).Error("failed to flush history, will retry")
		s.batch.restore(recs, time.Now())
		return
	}
	s.logger.WithField("records", len(recs)).Debug("flushed history")
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// batcher holds popped records until there are size of them or the oldest has
// waited interval. Failed flushes are kept, up to maxPending records.
type batcher struct {
	size       int
	interval   time.Duration
	maxPending int
	recs       []Record
	oldest     time.Time
	holdUntil  time.Time
}

func newBatcher(size int, interval time.Duration) *batcher {
	return &batcher{size: size, interval: interval, maxPending: size * 50}
}

// add appends r and returns how many of the oldest records were dropped to stay under maxPending.
func (b *batcher) add(r Record, now time.Time) int {
	if len(b.recs) == 0 {
		b.oldest = now
	}
	b.recs = append(b.recs, r)
	return b.trim()
}

func (b *batcher) due(now time.Time) bool {
	if len(b.recs) == 0 || now.Before(b.holdUntil) {
		return false
	}
	return len(b.recs) >= b.size || now.Sub(b.oldest) >= b.interval
}

func (b *batcher) take() []Record {
	out := b.recs
	b.recs = nil
	return out
}

// restore puts back a batch that failed to flush ahead of anything newer and
// holds further flushes for one interval.
func (b *batcher) restore(recs []Record, now time.Time) {
	b.recs = append(recs, b.recs...)
	b.oldest = now
	b.holdUntil = now.Add(b.interval)
	b.trim()
}

func (b *batcher) trim() int {
	over := len(b.recs) - b.maxPending
	if over <= 0 {
		return 0
	}
	b.recs = b.recs[over:]
	return over
}
