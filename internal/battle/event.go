package battle

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/jason-s-yu/promptquest/internal/models"
)

// EventKind names the transition that produced an update.
type EventKind string

const (
	EventCreated         EventKind = "created"
	EventJoined          EventKind = "joined"
	EventPromptSubmitted EventKind = "prompt_submitted"
	EventSeatScored      EventKind = "seat_scored"
	EventCompleted       EventKind = "completed"

	// EventSnapshot is sent on connect and on resync, not on a transition.
	EventSnapshot EventKind = "snapshot"
)

// EventTypeUpdate is the wire type of every lifecycle event.
const EventTypeUpdate = "battle_update"

// Event carries the full battle snapshot after a stored transition.
type Event struct {
	Type   string         `json:"type"`
	Kind   EventKind      `json:"event"`
	Battle *models.Battle `json:"battle"`
}

// NewEvent builds a battle_update event for a snapshot.
func NewEvent(kind EventKind, b *models.Battle) Event {
	return Event{Type: EventTypeUpdate, Kind: kind, Battle: b}
}

// BattleID is the channel key of the event.
func (e Event) BattleID() uuid.UUID {
	if e.Battle == nil {
		return uuid.Nil
	}
	return e.Battle.ID
}

// Publisher fans events out to subscribers. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Publishers sends every event to each publisher in order. One failing
// publisher does not stop the others.
type Publishers []Publisher

func (ps Publishers) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range ps {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
