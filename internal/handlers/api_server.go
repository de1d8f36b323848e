// internal/handlers/api_server.go
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/promptquest/internal/battle"
	"github.com/jason-s-yu/promptquest/internal/historian"
	"github.com/jason-s-yu/promptquest/internal/middleware"
	"github.com/jason-s-yu/promptquest/internal/rating"
	"github.com/jason-s-yu/promptquest/internal/realtime"
	"github.com/jason-s-yu/promptquest/internal/users"
)

// Pinger reports whether a backend is reachable.
type Pinger func(ctx context.Context) error

// Server holds the collaborators the HTTP and WebSocket handlers share.
type Server struct {
	Engine *battle.Engine
	Users  *users.Service
	Hub    *realtime.Hub
	// Ratings is optional; without it the leaderboard routes are not mounted.
	Ratings *rating.Recorder
	// History is optional; it serves archived transitions when Postgres is configured.
	History historian.Reader
	Logger logrus.FieldLogger

	AllowedOrigins []string

	// Backends names the implementation behind each dependency for /api/health.
	Backends map[string]string
	Pingers  map[string]Pinger
}

// Routes builds the service mux.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/auth/register", s.RegisterHandler)
	mux.HandleFunc("POST /api/auth/login", s.LoginHandler)
	mux.HandleFunc("POST /api/auth/guest", s.GuestHandler)
	mux.HandleFunc("GET /api/auth/me", s.MeHandler)

	mux.HandleFunc("POST /api/battles/create", s.CreateBattleHandler)
	mux.HandleFunc("GET /api/battles/waiting", s.ListWaitingHandler)
	mux.HandleFunc("POST /api/battles/join/{id}", s.JoinBattleHandler)
	mux.HandleFunc("GET /api/battles/{id}", s.GetBattleHandler)
	mux.HandleFunc("POST /api/battles/{id}/submit", s.SubmitPromptHandler)
	mux.HandleFunc("GET /api/battles/{id}/ws", s.BattleWSHandler)

	if s.History != nil {
		mux.HandleFunc("GET /api/battles/{id}/history", s.BattleHistoryHandler)
	}
	if s.Ratings != nil {
		mux.HandleFunc("GET /api/leaderboard", s.LeaderboardHandler)
		mux.HandleFunc("GET /api/ratings/me", s.MyRatingHandler)
	}

	mux.HandleFunc("GET /api/health", s.HealthHandler)

	var h http.Handler = mux
	h = middleware.CORS(s.AllowedOrigins)(h)
	h = middleware.LogMiddleware(s.Logger)(h)
	return h
}

// HealthHandler reports the configured backends and pings the ones that can be pinged.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.Pingers))
	for name, ping := range s.Pingers {
		if err := ping(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	writeJSON(w, status, map[string]any{
		"success":  status == http.StatusOK,
		"backends": s.Backends,
		"checks":   checks,
	})
}
