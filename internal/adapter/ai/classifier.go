package ai

import (
	"context"
	"encoding/json"

	"github.com/finsight-ai/finsight/internal/domain"
)

const classifierSystemPrompt = `You are a financial instrument classifier.
For each instrument, return allocation maps for asset class, region, and
sector. Each map's percentages must sum to exactly 100. Respond with JSON:
{"classifications":[{"symbol":"...","asset_class_map":{...},"region_map":{...},"sector_map":{...}}]}`

// ClassifierAdapter invokes the classification worker in batch. Per-item
// sum validation happens in the orchestrator so one bad item never discards
// the batch.
type ClassifierAdapter struct {
	chat ChatClient
}

// NewClassifier constructs a ClassifierAdapter.
func NewClassifier(chat ChatClient) *ClassifierAdapter {
	return &ClassifierAdapter{chat: chat}
}

type classifierResponse struct {
	Classifications []domain.Classification `json:"classifications"`
}

// Classify implements domain.Classifier.
func (a *ClassifierAdapter) Classify(ctx context.Context, reqs []domain.ClassificationRequest) ([]domain.Classification, error) {
	input, err := json.Marshal(map[string]any{"instruments": reqs})
	if err != nil {
		return nil, domain.NewWorkerError(domain.KindInternal, err)
	}
	out, err := a.chat.ChatJSON(ctx, classifierSystemPrompt, string(input), 2000)
	if err != nil {
		return nil, err
	}
	var parsed classifierResponse
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		return nil, domain.Validationf("classifier output not valid JSON: %v", err)
	}
	if len(parsed.Classifications) == 0 {
		return nil, domain.Validationf("classifier returned no classifications")
	}
	return parsed.Classifications, nil
}
