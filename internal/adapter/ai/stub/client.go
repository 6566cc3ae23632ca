package stub

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Client is a fast, deterministic chat client for local development and
// tests. It recognizes which worker is calling from the system prompt and
// returns a minimal payload that passes that worker's structural contract.
type Client struct {
	// Latency simulates provider round-trip time. Zero is fine for tests.
	Latency time.Duration
}

func New() *Client { return &Client{Latency: 50 * time.Millisecond} }

// ChatJSON returns a compact JSON string matching the schema the caller's
// system prompt asks for.
func (c *Client) ChatJSON(ctx context.Context, systemPrompt, userPrompt string, _ int) (string, error) {
	if c.Latency > 0 {
		select {
		case <-time.After(c.Latency):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	var payload any
	switch {
	case strings.Contains(systemPrompt, "instrument classifier"):
		payload = map[string]any{
			"classifications": classificationsFor(userPrompt),
		}
	case strings.Contains(systemPrompt, "data-visualization"):
		payload = map[string]any{
			"charts": []map[string]any{
				{"title": "Asset Allocation", "type": "donut", "data": []map[string]any{
					{"label": "equity", "value": 62.5}, {"label": "bond", "value": 27.5}, {"label": "cash", "value": 10.0},
				}},
				{"title": "Regional Exposure", "type": "pie", "data": []map[string]any{
					{"label": "us", "value": 70.0}, {"label": "europe", "value": 20.0}, {"label": "other", "value": 10.0},
				}},
				{"title": "Sector Weights", "type": "horizontal_bar", "data": []map[string]any{
					{"label": "technology", "value": 35.0}, {"label": "financials", "value": 25.0}, {"label": "healthcare", "value": 40.0},
				}},
				{"title": "Projected Value", "type": "line", "data": []map[string]any{
					{"label": "2026", "value": 100000.0}, {"label": "2031", "value": 160000.0}, {"label": "2036", "value": 250000.0},
				}},
			},
		}
	case strings.Contains(systemPrompt, "retirement planner"):
		payload = map[string]any{
			"success_probability": 78.5,
			"milestones": []map[string]any{
				{"year": 2031, "label": "Halfway to target", "value": 160000.0},
				{"year": 2036, "label": "Income target reached", "value": 250000.0},
			},
			"narrative": "On the current contribution path the income target is reached within the horizon.",
		}
	case strings.Contains(systemPrompt, "quality reviewer"):
		payload = map[string]any{
			"score":     82.0,
			"rationale": "Covers allocation, risks, and concrete recommendations grounded in the data.",
		}
	default:
		payload = map[string]any{
			"text": "Executive Summary\nThe portfolio is diversified across equities and bonds.\n\nRisks\nConcentration in technology is the main risk.\n\nRecommendations\nRebalance toward the target allocation and keep contributing monthly.",
		}
	}
	b, _ := json.Marshal(payload)
	return string(b), nil
}

// classificationsFor echoes one classification per symbol found in the
// request payload so the preprocessing step accepts every item.
func classificationsFor(userPrompt string) []map[string]any {
	var req struct {
		Instruments []struct {
			Symbol string `json:"symbol"`
		} `json:"instruments"`
	}
	_ = json.Unmarshal([]byte(userPrompt), &req)
	if len(req.Instruments) == 0 {
		req.Instruments = append(req.Instruments, struct {
			Symbol string `json:"symbol"`
		}{Symbol: "UNKNOWN"})
	}
	out := make([]map[string]any, 0, len(req.Instruments))
	for _, in := range req.Instruments {
		out = append(out, map[string]any{
			"symbol":          in.Symbol,
			"asset_class_map": map[string]float64{"equity": 100},
			"region_map":      map[string]float64{"us": 100},
			"sector_map":      map[string]float64{"technology": 100},
		})
	}
	return out
}
