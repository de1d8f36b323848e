// internal/handlers/user.go
package handlers

import (
	"net/http"

	"github.com/jason-s-yu/promptquest/internal/auth"
	"github.com/jason-s-yu/promptquest/internal/models"
	"github.com/jason-s-yu/promptquest/internal/users"
)

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type guestRequest struct {
	Name string `json:"name"`
}

type sessionResponse struct {
	Success bool         `json:"success"`
	Token   string       `json:"token"`
	User    *models.User `json:"user"`
}

// RegisterHandler creates an account and signs it in.
//
// Request payload:
//
//	{"name": "Alice", "email": "alice@example.com", "password": "hunter22"}
//
// The token is returned in the body and as the auth_token cookie.
func (s *Server) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	sess, err := s.Users.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.writeSession(w, http.StatusCreated, sess)
}

// LoginHandler exchanges email and password for a session token.
func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	sess, err := s.Users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.writeSession(w, http.StatusOK, sess)
}

// GuestHandler mints an ephemeral identity. The body is optional.
func (s *Server) GuestHandler(w http.ResponseWriter, r *http.Request) {
	var req guestRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			s.respondError(w, r, err)
			return
		}
	}
	sess, err := s.Users.Guest(r.Context(), req.Name)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.writeSession(w, http.StatusCreated, sess)
}

// MeHandler returns the caller's account.
func (s *Server) MeHandler(w http.ResponseWriter, r *http.Request) {
	p, err := authenticate(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	u, err := s.Users.Get(r.Context(), p.ID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": u})
}

func (s *Server) writeSession(w http.ResponseWriter, status int, sess *users.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     authCookie,
		Value:    sess.Token,
		HttpOnly: true,
		Path:     "/",
		MaxAge:   int(auth.TokenTTL().Seconds()),
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, status, sessionResponse{Success: true, Token: sess.Token, User: sess.User})
}
