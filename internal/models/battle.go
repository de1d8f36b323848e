// internal/models/battle.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// BattleStatus is the lifecycle phase of a battle. Transitions only move forward:
// waiting -> active -> completed.
type BattleStatus string

const (
	StatusWaiting   BattleStatus = "waiting"
	StatusActive    BattleStatus = "active"
	StatusCompleted BattleStatus = "completed"
)

// Rank orders statuses so callers can assert monotonic progress.
func (s BattleStatus) Rank() int {
	switch s {
	case StatusWaiting:
		return 1
	case StatusActive:
		return 2
	case StatusCompleted:
		return 3
	}
	return 0
}

// Winner is the outcome of a completed battle.
type Winner string

const (
	WinnerNone    Winner = ""
	WinnerPlayer1 Winner = "player1"
	WinnerPlayer2 Winner = "player2"
	WinnerDraw    Winner = "draw"
)

// ImageRef points at the image both players describe.
type ImageRef struct {
	URL string `json:"url"`
	ID  string `json:"id"`
}

// Battle is the persisted record of a two-seat prompt duel.
type Battle struct {
	ID          uuid.UUID    `json:"id"`
	TargetImage ImageRef     `json:"targetImage"`
	Status      BattleStatus `json:"status"`

	// Player1 is the host and is always present.
	Player1 PlayerSlot `json:"player1"`

	// Player2 is nil while the battle is waiting for an opponent.
	Player2 *PlayerSlot `json:"player2"`

	Winner        Winner     `json:"winner,omitempty"`
	MatchAnalysis string     `json:"matchAnalysis,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`

	// Version increments on every stored mutation.
	Version int `json:"version"`
}

// Slot returns the slot for a seat, or nil if the seat is empty.
func (b *Battle) Slot(seat Seat) *PlayerSlot {
	switch seat {
	case Seat1:
		return &b.Player1
	case Seat2:
		return b.Player2
	}
	return nil
}

// SeatOf reports which seat the participant holds, or SeatNone.
func (b *Battle) SeatOf(participantID uuid.UUID) Seat {
	if b.Player1.ID == participantID {
		return Seat1
	}
	if b.Player2 != nil && b.Player2.ID == participantID {
		return Seat2
	}
	return SeatNone
}

// BothScored is true once each seat has a score.
func (b *Battle) BothScored() bool {
	return b.Player1.Score != nil && b.Player2 != nil && b.Player2.Score != nil
}

// Clone returns a deep copy so stored records never alias caller-held values.
func (b *Battle) Clone() *Battle {
	if b == nil {
		return nil
	}
	c := *b
	c.Player1 = b.Player1.clone()
	if b.Player2 != nil {
		p2 := b.Player2.clone()
		c.Player2 = &p2
	}
	if b.CompletedAt != nil {
		t := *b.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// BattleSummary is the lobby listing view of a waiting battle.
type BattleSummary struct {
	ID          uuid.UUID   `json:"id"`
	TargetImage ImageRef    `json:"targetImage"`
	Host        Participant `json:"host"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// Summary builds the lobby view of a battle.
func (b *Battle) Summary() BattleSummary {
	return BattleSummary{
		ID:          b.ID,
		TargetImage: b.TargetImage,
		Host:        b.Player1.Participant,
		CreatedAt:   b.CreatedAt,
	}
}
