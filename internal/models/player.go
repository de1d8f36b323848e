package models

import (
	"time"

	"github.com/google/uuid"
)

// Seat identifies one of the two participant slots.
type Seat int

const (
	SeatNone Seat = iota
	Seat1
	Seat2
)

func (s Seat) String() string {
	switch s {
	case Seat1:
		return "player1"
	case Seat2:
		return "player2"
	}
	return "none"
}

// Other returns the opposing seat.
func (s Seat) Other() Seat {
	switch s {
	case Seat1:
		return Seat2
	case Seat2:
		return Seat1
	}
	return SeatNone
}

// Participant is the identity occupying a seat.
type Participant struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// PlayerSlot is a filled seat. Prompt, Score and their timestamps are write-once.
type PlayerSlot struct {
	Participant

	Prompt      *string    `json:"prompt"`
	SubmittedAt *time.Time `json:"submittedAt,omitempty"`
	Score       *int       `json:"score"`
	Feedback    string     `json:"feedback,omitempty"`
	ScoredAt    *time.Time `json:"scoredAt,omitempty"`
}

func (p PlayerSlot) clone() PlayerSlot {
	c := p
	if p.Prompt != nil {
		s := *p.Prompt
		c.Prompt = &s
	}
	if p.SubmittedAt != nil {
		t := *p.SubmittedAt
		c.SubmittedAt = &t
	}
	if p.Score != nil {
		v := *p.Score
		c.Score = &v
	}
	if p.ScoredAt != nil {
		t := *p.ScoredAt
		c.ScoredAt = &t
	}
	return c
}
