package battle

import (
	"context"

	"github.com/jason-s-yu/promptquest/internal/models"
)

// DefaultLobbyLimit caps a lobby listing when the caller does not ask for less.
const DefaultLobbyLimit = 50

// ListWaiting returns the lobby: open battles, oldest first. It reads the store
// directly, so a joined battle drops out as soon as the join commits.
func (e *Engine) ListWaiting(ctx context.Context, limit int) ([]models.BattleSummary, error) {
	if limit <= 0 || limit > DefaultLobbyLimit {
		limit = DefaultLobbyLimit
	}
	battles, err := e.store.ListWaiting(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]models.BattleSummary, 0, len(battles))
	for _, b := range battles {
		out = append(out, b.Summary())
	}
	return out, nil
}
