package ai

import (
	"log/slog"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// countTokens estimates prompt tokens with the cl100k_base encoding, falling
// back to a 4-chars-per-token estimate when the encoding is unavailable.
func countTokens(text string) int {
	encOnce.Do(func() {
		var err error
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			slog.Warn("tiktoken encoding unavailable, using length estimate", slog.Any("error", err))
		}
	})
	if enc == nil {
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}
