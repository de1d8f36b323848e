package battle

import (
	"fmt"

	"github.com/jason-s-yu/promptquest/internal/models"
)

// ComputeWinner compares the two final scores. Equal scores are a draw.
func ComputeWinner(score1, score2 int) models.Winner {
	switch {
	case score1 > score2:
		return models.WinnerPlayer1
	case score2 > score1:
		return models.WinnerPlayer2
	}
	return models.WinnerDraw
}

// DescribeOutcome is the match analysis used when no analyst is configured or it fails.
func DescribeOutcome(b *models.Battle, winner models.Winner) string {
	if !b.BothScored() {
		return ""
	}
	s1, s2 := *b.Player1.Score, *b.Player2.Score
	n1, n2 := displayName(b.Player1.Name, "Player 1"), displayName(b.Player2.Name, "Player 2")
	switch winner {
	case models.WinnerPlayer1:
		return fmt.Sprintf("%s wins with %d against %s's %d, a margin of %d points.", n1, s1, n2, s2, s1-s2)
	case models.WinnerPlayer2:
		return fmt.Sprintf("%s wins with %d against %s's %d, a margin of %d points.", n2, s2, n1, s1, s2-s1)
	}
	return fmt.Sprintf("Both prompts scored %d. The battle is a draw.", s1)
}

func displayName(name, def string) string {
	if name == "" {
		return def
	}
	return name
}
