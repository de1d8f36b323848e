package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/jason-s-yu/promptquest/internal/auth"
	"github.com/jason-s-yu/promptquest/internal/battle"
	"github.com/jason-s-yu/promptquest/internal/models"
	"github.com/jason-s-yu/promptquest/internal/users"
)

const (
	authCookie   = "auth_token"
	maxBodyBytes = 64 << 10
)

type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Success: false, Message: msg})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, battle.ErrInvalidInput), errors.Is(err, users.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrUnauthenticated), errors.Is(err, users.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, battle.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, battle.ErrNotFound), errors.Is(err, users.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, battle.ErrConflict), errors.Is(err, users.ErrEmailTaken):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// respondError writes err with its mapped status. Internal errors are logged and hidden.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.Logger.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, publicMessage(err))
}

// publicMessage strips the sentinel prefix: "conflict: prompt already submitted" -> "prompt already submitted".
func publicMessage(err error) string {
	msg := err.Error()
	for _, sentinel := range []error{battle.ErrInvalidInput, battle.ErrForbidden, battle.ErrConflict, battle.ErrNotFound, users.ErrInvalidInput, auth.ErrUnauthenticated} {
		if rest, ok := strings.CutPrefix(msg, sentinel.Error()+": "); ok {
			return rest
		}
	}
	return msg
}

// tokenFromRequest reads the session token from the Authorization header, the
// auth_token cookie or, for WebSocket upgrades, the token query parameter.
func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(authCookie); err == nil && c.Value != "" {
		return c.Value
	}
	return r.URL.Query().Get("token")
}

func authenticate(r *http.Request) (models.Participant, error) {
	claims, err := auth.AuthenticateJWT(tokenFromRequest(r))
	if err != nil {
		return models.Participant{}, err
	}
	return models.Participant{ID: claims.UserID, Name: claims.Name}, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request payload", battle.ErrInvalidInput)
	}
	return nil
}

func battleID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid battle id", battle.ErrInvalidInput)
	}
	return id, nil
}
