package models

import (
	"time"

	"github.com/google/uuid"
)

// PlayerRating is a participant's Glicko-2 standing on the 1500 scale.
type PlayerRating struct {
	UserID     uuid.UUID `json:"userId"`
	Name       string    `json:"name"`
	Rating     float64   `json:"rating"`
	Deviation  float64   `json:"deviation"`
	Volatility float64   `json:"volatility"`

	Wins   int `json:"wins"`
	Losses int `json:"losses"`
	Draws  int `json:"draws"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// Played is the number of rated battles.
func (r PlayerRating) Played() int {
	return r.Wins + r.Losses + r.Draws
}
