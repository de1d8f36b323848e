package handlers

import (
	"net/http"
	"strconv"

	"github.com/jason-s-yu/promptquest/internal/models"
)

type leaderboardResponse struct {
	Success bool                  `json:"success"`
	Players []models.PlayerRating `json:"players"`
}

type ratingResponse struct {
	Success bool                `json:"success"`
	Rating  models.PlayerRating `json:"rating"`
}

// LeaderboardHandler lists the highest rated players. Optional ?limit=N.
func (s *Server) LeaderboardHandler(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	players, err := s.Ratings.Leaderboard(r.Context(), limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if players == nil {
		players = []models.PlayerRating{}
	}
	writeJSON(w, http.StatusOK, leaderboardResponse{Success: true, Players: players})
}

// MyRatingHandler returns the caller's rating, defaulted if they have not finished a battle.
func (s *Server) MyRatingHandler(w http.ResponseWriter, r *http.Request) {
	p, err := authenticate(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	rt, err := s.Ratings.Get(r.Context(), p)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ratingResponse{Success: true, Rating: rt})
}
