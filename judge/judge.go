package judge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/tmc/langchaingo/llms"

	"github.com/mdwoicke/dentix-ortho-sub013/logger"
	"github.com/mdwoicke/dentix-ortho-sub013/model"
)

// DefaultJudgeTimeout bounds one judge call.
const DefaultJudgeTimeout = 15 * time.Second

// Verdict is the judge's answer for one criterion.
type Verdict struct {
	Pass      bool   `json:"pass"`
	Rationale string `json:"rationale"`
}

// Judge decides whether a piece of conversation satisfies a
// natural-language criterion.
type Judge interface {
	Judge(ctx context.Context, content, criteria string) (*Verdict, error)
}

// ===== LLM JUDGE =====

const judgePromptTemplate = `You are evaluating the behaviour of a dental clinic booking assistant.

Criterion:
%s

Conversation excerpt:
%s

Does the excerpt satisfy the criterion? Respond with ONLY a JSON object, no markdown fences, in this exact shape:
{"pass": true or false, "rationale": "one short sentence"}`

// LLMJudge scores content with a configured LLM provider.
type LLMJudge struct {
	llm     llms.Model
	timeout time.Duration
}

// NewLLMJudge wraps a provider with the default call timeout.
func NewLLMJudge(llm llms.Model) *LLMJudge {
	return &LLMJudge{llm: llm, timeout: DefaultJudgeTimeout}
}

// WithTimeout overrides the per-call timeout.
func (j *LLMJudge) WithTimeout(timeout time.Duration) *LLMJudge {
	if timeout > 0 {
		j.timeout = timeout
	}
	return j
}

// Judge asks the LLM whether content satisfies the criterion. Provider
// failures come back as JudgeUnavailableError so callers can degrade
// instead of failing the test.
func (j *LLMJudge) Judge(ctx context.Context, content, criteria string) (*Verdict, error) {
	callCtx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	prompt := fmt.Sprintf(judgePromptTemplate, criteria, content)
	resp, err := j.llm.GenerateContent(callCtx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}, llms.WithTemperature(0))
	if err != nil {
		return nil, &model.JudgeUnavailableError{Cause: err}
	}
	if len(resp.Choices) == 0 {
		return nil, &model.JudgeUnavailableError{Cause: fmt.Errorf("judge returned no choices")}
	}

	verdict, err := parseVerdict(resp.Choices[0].Content)
	if err != nil {
		return nil, &model.JudgeUnavailableError{Cause: err}
	}

	logger.Logger.Debug("Judge verdict",
		"pass", verdict.Pass,
		"criteria", truncateCriteria(criteria))
	return verdict, nil
}

// parseVerdict reads the judge's JSON answer, tolerating models that wrap it
// in markdown fences or prose.
func parseVerdict(raw string) (*Verdict, error) {
	text := strings.TrimSpace(raw)
	if start := strings.Index(text, "{"); start >= 0 {
		if end := strings.LastIndex(text, "}"); end > start {
			text = text[start : end+1]
		}
	}

	var v Verdict
	if err := sonic.Unmarshal([]byte(text), &v); err != nil {
		return nil, fmt.Errorf("judge answer is not valid JSON: %w", err)
	}
	return &v, nil
}

func truncateCriteria(s string) string {
	if len(s) <= 80 {
		return s
	}
	return s[:80] + "..."
}
