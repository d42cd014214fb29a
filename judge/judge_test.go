package judge

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/mdwoicke/dentix-ortho-sub013/model"
)

// fakeLLM answers every call with a fixed response.
type fakeLLM struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if text, ok := part.(llms.TextContent); ok {
				f.prompts = append(f.prompts, text.Text)
			}
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: f.response}},
	}, nil
}

func (f *fakeLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func TestJudgePassVerdict(t *testing.T) {
	llm := &fakeLLM{response: `{"pass": true, "rationale": "the assistant asked for a phone number"}`}
	j := NewLLMJudge(llm)

	verdict, err := j.Judge(context.Background(), "What's a good phone number?", "The assistant asks for a callback phone number.")
	require.NoError(t, err)
	assert.True(t, verdict.Pass)
	assert.Contains(t, verdict.Rationale, "phone")

	t.Run("prompt carries criterion and content", func(t *testing.T) {
		require.Len(t, llm.prompts, 1)
		assert.Contains(t, llm.prompts[0], "callback phone number")
		assert.Contains(t, llm.prompts[0], "What's a good phone number?")
	})
}

func TestJudgeFailVerdict(t *testing.T) {
	llm := &fakeLLM{response: `{"pass": false, "rationale": "no greeting found"}`}
	j := NewLLMJudge(llm)

	verdict, err := j.Judge(context.Background(), "transcript", "The assistant greets the caller.")
	require.NoError(t, err)
	assert.False(t, verdict.Pass)
}

func TestJudgeProviderFailureIsUnavailable(t *testing.T) {
	llm := &fakeLLM{err: fmt.Errorf("rate limited")}
	j := NewLLMJudge(llm)

	_, err := j.Judge(context.Background(), "x", "y")
	require.Error(t, err)
	assert.True(t, model.IsJudgeUnavailable(err))
}

func TestParseVerdictToleratesWrapping(t *testing.T) {
	cases := map[string]string{
		"bare json":       `{"pass": true, "rationale": "ok"}`,
		"markdown fences": "```json\n{\"pass\": true, \"rationale\": \"ok\"}\n```",
		"leading prose":   `Sure! Here is my answer: {"pass": true, "rationale": "ok"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			v, err := parseVerdict(raw)
			require.NoError(t, err)
			assert.True(t, v.Pass)
		})
	}

	t.Run("garbage is an error", func(t *testing.T) {
		_, err := parseVerdict("I think it passes")
		assert.Error(t, err)
	})
}

func TestCreateProviderValidation(t *testing.T) {
	ctx := context.Background()

	t.Run("missing token", func(t *testing.T) {
		_, err := CreateProvider(ctx, ProviderConfig{Type: ProviderOpenAI, Model: "gpt-4o-mini"})
		assert.Error(t, err)
	})

	t.Run("missing model", func(t *testing.T) {
		_, err := CreateProvider(ctx, ProviderConfig{Type: ProviderOpenAI, Token: "sk-x"})
		assert.Error(t, err)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := CreateProvider(ctx, ProviderConfig{Type: "FROBNICATOR", Model: "m", Token: "t"})
		assert.Error(t, err)
	})

	t.Run("azure requires version and base url", func(t *testing.T) {
		_, err := CreateProvider(ctx, ProviderConfig{Type: ProviderAzure, Model: "m", Token: "t"})
		assert.Error(t, err)
	})
}
