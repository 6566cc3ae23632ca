package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/finsight-ai/finsight/internal/domain"
)

// NarratorAdapter invokes the narrative worker and enforces its structural
// contract: non-empty text containing every configured section heading.
type NarratorAdapter struct {
	chat        ChatClient
	headings    []string
	tokenBudget int
}

// NewNarrator constructs a NarratorAdapter. The heading set is configuration,
// matched case-insensitively.
func NewNarrator(chat ChatClient, headings []string, tokenBudget int) *NarratorAdapter {
	return &NarratorAdapter{chat: chat, headings: headings, tokenBudget: tokenBudget}
}

type narratorResponse struct {
	Text string `json:"text"`
}

// Narrate implements domain.Narrator.
func (a *NarratorAdapter) Narrate(ctx context.Context, snap domain.PortfolioSnapshot, req domain.AnalysisRequest) (domain.Narrative, error) {
	system := fmt.Sprintf(`You are a portfolio analyst writing for a retail investor.
Write a narrative analysis of the portfolio below. The narrative MUST contain
these section headings: %s. Respond with JSON: {"text":"..."}`,
		strings.Join(a.headings, ", "))

	user := fmt.Sprintf("Portfolio snapshot: %s\nRetirement horizon: %d years\nAnnual income target: %.2f\nRisk profile: %s",
		snapshotContext(snap, a.tokenBudget), req.RetirementHorizonYears, req.AnnualIncomeTarget, req.RiskProfile)

	out, err := a.chat.ChatJSON(ctx, system, user, 3000)
	if err != nil {
		return domain.Narrative{}, err
	}
	var parsed narratorResponse
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		return domain.Narrative{}, domain.Validationf("narrator output not valid JSON: %v", err)
	}
	if strings.TrimSpace(parsed.Text) == "" {
		return domain.Narrative{}, domain.Validationf("narrator returned empty text")
	}
	if missing := missingHeadings(parsed.Text, a.headings); len(missing) > 0 {
		return domain.Narrative{}, domain.Validationf("narrative missing headings: %s", strings.Join(missing, ", "))
	}
	return domain.Narrative{
		Text:     parsed.Text,
		Sections: findHeadings(parsed.Text, a.headings),
	}, nil
}
