package ai

import (
	"context"
	"encoding/json"

	"github.com/finsight-ai/finsight/internal/domain"
)

const judgeSystemPrompt = `You are a strict quality reviewer of portfolio analyses.
Score the narrative below from 0 (unusable) to 100 (excellent) on accuracy,
completeness, and clarity. Respond with JSON: {"score":0,"rationale":"..."}`

// JudgeAdapter invokes the LLM-as-judge quality scorer.
type JudgeAdapter struct {
	chat ChatClient
}

// NewJudge constructs a JudgeAdapter.
func NewJudge(chat ChatClient) *JudgeAdapter {
	return &JudgeAdapter{chat: chat}
}

// Judge implements domain.QualityJudge.
func (a *JudgeAdapter) Judge(ctx context.Context, text string) (domain.JudgeVerdict, error) {
	out, err := a.chat.ChatJSON(ctx, judgeSystemPrompt, text, 1000)
	if err != nil {
		return domain.JudgeVerdict{}, err
	}
	var parsed domain.JudgeVerdict
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		return domain.JudgeVerdict{}, domain.Validationf("judge output not valid JSON: %v", err)
	}
	if parsed.Score < 0 || parsed.Score > 100 {
		return domain.JudgeVerdict{}, domain.Validationf("judge score %.1f outside [0,100]", parsed.Score)
	}
	return parsed, nil
}
