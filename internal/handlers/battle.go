// internal/handlers/battle.go
package handlers

import (
	"net/http"
	"strconv"

	"github.com/jason-s-yu/promptquest/internal/historian"
	"github.com/jason-s-yu/promptquest/internal/models"
)

type createBattleRequest struct {
	TargetImageURL string `json:"targetImageUrl"`
	TargetImageID  string `json:"targetImageId"`
}

type createBattleResponse struct {
	Success  bool           `json:"success"`
	BattleID string         `json:"battleId"`
	Battle   *models.Battle `json:"battle"`
}

type battleResponse struct {
	Success bool           `json:"success"`
	Battle  *models.Battle `json:"battle"`
}

type lobbyResponse struct {
	Success bool                   `json:"success"`
	Battles []models.BattleSummary `json:"battles"`
}

type submitRequest struct {
	Prompt string `json:"prompt"`
}

// CreateBattleHandler opens a battle hosted by the caller.
//
//	POST /api/battles/create {"targetImageUrl": "...", "targetImageId": "..."}
func (s *Server) CreateBattleHandler(w http.ResponseWriter, r *http.Request) {
	host, err := authenticate(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req createBattleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	b, err := s.Engine.Create(r.Context(), host, models.ImageRef{URL: req.TargetImageURL, ID: req.TargetImageID})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createBattleResponse{Success: true, BattleID: b.ID.String(), Battle: b})
}

// ListWaitingHandler returns the lobby, oldest battle first. Optional ?limit=N.
func (s *Server) ListWaitingHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := authenticate(r); err != nil {
		s.respondError(w, r, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	battles, err := s.Engine.ListWaiting(r.Context(), limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lobbyResponse{Success: true, Battles: battles})
}

// JoinBattleHandler takes seat 2 of a waiting battle.
func (s *Server) JoinBattleHandler(w http.ResponseWriter, r *http.Request) {
	p, err := authenticate(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	id, err := battleID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	b, err := s.Engine.Join(r.Context(), id, p)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, battleResponse{Success: true, Battle: b})
}

// GetBattleHandler is the polling fallback clients use to reconcile state.
func (s *Server) GetBattleHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := authenticate(r); err != nil {
		s.respondError(w, r, err)
		return
	}
	id, err := battleID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	b, err := s.Engine.Get(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, battleResponse{Success: true, Battle: b})
}

// SubmitPromptHandler records the caller's prompt. Scoring continues after the response.
//
//	POST /api/battles/{id}/submit {"prompt": "..."}
func (s *Server) SubmitPromptHandler(w http.ResponseWriter, r *http.Request) {
	p, err := authenticate(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	id, err := battleID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req submitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	b, err := s.Engine.SubmitPrompt(r.Context(), id, p.ID, req.Prompt)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, battleResponse{Success: true, Battle: b})
}

type historyResponse struct {
	Success bool               `json:"success"`
	Events  []historian.Record `json:"events"`
}

// BattleHistoryHandler lists a battle's archived transitions, oldest first.
// The archive lags the live battle by the historian's flush interval.
func (s *Server) BattleHistoryHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := authenticate(r); err != nil {
		s.respondError(w, r, err)
		return
	}
	id, err := battleID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if _, err := s.Engine.Get(r.Context(), id); err != nil {
		s.respondError(w, r, err)
		return
	}

	events, err := s.History.ListHistory(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if events == nil {
		events = []historian.Record{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Success: true, Events: events})
}
