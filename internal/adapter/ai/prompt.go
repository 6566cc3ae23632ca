package ai

import (
	"encoding/json"
	"log/slog"

	"github.com/finsight-ai/finsight/internal/domain"
)

// snapshotContext serializes the snapshot for prompting, truncating the
// positions list until the context fits the token budget. Aggregates always
// survive truncation; only the per-position detail is shed.
func snapshotContext(snap domain.PortfolioSnapshot, tokenBudget int) string {
	for {
		b, err := json.Marshal(snap)
		if err != nil {
			slog.Error("snapshot marshal failed", slog.Any("error", err))
			return "{}"
		}
		if tokenBudget <= 0 || countTokens(string(b)) <= tokenBudget || len(snap.Positions) == 0 {
			return string(b)
		}
		snap.Positions = snap.Positions[:len(snap.Positions)/2]
	}
}
