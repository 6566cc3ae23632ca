package ai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/finsight-ai/finsight/internal/domain"
)

// ProjectorAdapter invokes the retirement-projection worker.
type ProjectorAdapter struct {
	chat        ChatClient
	tokenBudget int
}

// NewProjector constructs a ProjectorAdapter.
func NewProjector(chat ChatClient, tokenBudget int) *ProjectorAdapter {
	return &ProjectorAdapter{chat: chat, tokenBudget: tokenBudget}
}

// Project implements domain.Projector.
func (a *ProjectorAdapter) Project(ctx context.Context, snap domain.PortfolioSnapshot, req domain.AnalysisRequest) (domain.Projections, error) {
	system := `You are a retirement planner. Given a portfolio and goals, project
the probability of meeting the income target and lay out milestones. Respond
with JSON: {"success_probability":0,"milestones":[{"year":0,"label":"...",
"value":0}],"narrative":"..."}
success_probability is a percentage in [0,100]. At least one milestone.`

	user := fmt.Sprintf("Portfolio snapshot: %s\nRetirement horizon: %d years\nAnnual income target: %.2f\nRisk profile: %s",
		snapshotContext(snap, a.tokenBudget), req.RetirementHorizonYears, req.AnnualIncomeTarget, req.RiskProfile)

	out, err := a.chat.ChatJSON(ctx, system, user, 2500)
	if err != nil {
		return domain.Projections{}, err
	}
	var parsed domain.Projections
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		return domain.Projections{}, domain.Validationf("projector output not valid JSON: %v", err)
	}
	if err := validateProjections(parsed); err != nil {
		return domain.Projections{}, err
	}
	return parsed, nil
}
