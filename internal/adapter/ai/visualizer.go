package ai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/finsight-ai/finsight/internal/domain"
)

// VisualizerAdapter invokes the chart-specification worker and enforces its
// structural contract: each chart has a title, a known type, and non-empty
// data; the set size stays within configured bounds.
type VisualizerAdapter struct {
	chat        ChatClient
	minCharts   int
	maxCharts   int
	tokenBudget int
}

// NewVisualizer constructs a VisualizerAdapter.
func NewVisualizer(chat ChatClient, minCharts, maxCharts, tokenBudget int) *VisualizerAdapter {
	return &VisualizerAdapter{chat: chat, minCharts: minCharts, maxCharts: maxCharts, tokenBudget: tokenBudget}
}

// Visualize implements domain.Visualizer.
func (a *VisualizerAdapter) Visualize(ctx context.Context, snap domain.PortfolioSnapshot) (domain.ChartSet, error) {
	system := fmt.Sprintf(`You are a data-visualization planner for portfolio dashboards.
Propose between %d and %d charts for the portfolio below. Allowed types:
pie, donut, bar, horizontal_bar, line. Respond with JSON:
{"charts":[{"title":"...","type":"pie","data":[{"label":"...","value":0}]}]}`,
		a.minCharts, a.maxCharts)

	out, err := a.chat.ChatJSON(ctx, system, snapshotContext(snap, a.tokenBudget), 3000)
	if err != nil {
		return domain.ChartSet{}, err
	}
	var parsed domain.ChartSet
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		return domain.ChartSet{}, domain.Validationf("visualizer output not valid JSON: %v", err)
	}
	if err := validateChartSet(parsed, a.minCharts, a.maxCharts); err != nil {
		return domain.ChartSet{}, err
	}
	return parsed, nil
}
