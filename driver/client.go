// Package driver executes scripted conversations against chat prediction
// endpoints and records transcripts for later evaluation.
package driver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"

	"github.com/mdwoicke/dentix-ortho-sub013/logger"
	"github.com/mdwoicke/dentix-ortho-sub013/model"
)

// ===== CHAT CLIENT =====

// Reply is one assistant turn as returned by the endpoint.
type Reply struct {
	AssistantText  string
	ResponseTimeMs int64
	ToolOutputs    []model.ToolOutput
}

// ChatClient sends user messages to a chat prediction endpoint and returns
// the assistant reply. Implementations must be safe for concurrent use.
type ChatClient interface {
	SendMessage(ctx context.Context, endpoint model.EndpointConfig, conversationID, text string) (*Reply, error)
	TestConnection(ctx context.Context, endpoint model.EndpointConfig) error
}

// predictionRequest is the wire form of one user turn.
type predictionRequest struct {
	Question       string         `json:"question"`
	OverrideConfig overrideConfig `json:"overrideConfig"`
}

type overrideConfig struct {
	SessionID string `json:"sessionId"`
}

// predictionResponse is the endpoint's reply. Tool invocations ride along
// when the agent called one during the turn.
type predictionResponse struct {
	Text      string     `json:"text"`
	UsedTools []usedTool `json:"usedTools,omitempty"`
}

type usedTool struct {
	Tool       string      `json:"tool"`
	ToolInput  interface{} `json:"toolInput,omitempty"`
	ToolOutput interface{} `json:"toolOutput,omitempty"`
}

// HTTPChatClient talks to a Flowise-style prediction API over HTTP.
type HTTPChatClient struct {
	client *http.Client
}

// NewHTTPChatClient builds a client. The per-request deadline comes from the
// caller's context, so the underlying http.Client carries no timeout itself.
func NewHTTPChatClient() *HTTPChatClient {
	return &HTTPChatClient{client: &http.Client{}}
}

// SendMessage posts one user turn and waits for the assistant reply.
// Connection failures are wrapped in EndpointUnreachableError so the caller
// can tell a dead endpoint from a failed conversation.
func (c *HTTPChatClient) SendMessage(ctx context.Context, endpoint model.EndpointConfig, conversationID, text string) (*Reply, error) {
	body, err := sonic.Marshal(predictionRequest{
		Question:       text,
		OverrideConfig: overrideConfig{SessionID: conversationID},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode prediction request: %w", err)
	}

	var raw []byte
	var elapsed int64
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to build prediction request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if endpoint.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+endpoint.APIKey)
		}

		start := time.Now()
		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &model.EndpointUnreachableError{Endpoint: endpoint.URL, Cause: err}
		}
		elapsed = time.Since(start).Milliseconds()

		raw, err = io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read prediction response: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt < maxRateLimitRetries {
			delay := retryAfterDelay(resp.Header)
			logger.Logger.Warn("Endpoint rate limited, backing off",
				"endpoint", endpoint.URL,
				"retry_after", delay,
				"attempt", attempt+1)
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			logger.Logger.Warn("Prediction request rejected",
				"endpoint", endpoint.URL,
				"status", resp.StatusCode,
				"body", truncate(string(raw), 200))
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusBadGateway || resp.StatusCode == http.StatusServiceUnavailable {
				return nil, &model.EndpointUnreachableError{
					Endpoint: endpoint.URL,
					Cause:    fmt.Errorf("endpoint returned status %d", resp.StatusCode),
				}
			}
			return nil, fmt.Errorf("prediction request failed with status %d", resp.StatusCode)
		}
		break
	}

	var pr predictionResponse
	if err := sonic.Unmarshal(raw, &pr); err != nil {
		return nil, fmt.Errorf("failed to decode prediction response: %w", err)
	}

	reply := &Reply{
		AssistantText:  pr.Text,
		ResponseTimeMs: elapsed,
	}
	for _, t := range pr.UsedTools {
		reply.ToolOutputs = append(reply.ToolOutputs, model.ToolOutput{
			Tool:   t.Tool,
			Input:  stringify(t.ToolInput),
			Output: stringify(t.ToolOutput),
		})
	}

	logger.Logger.Debug("Assistant reply received",
		"endpoint", endpoint.URL,
		"conversation_id", conversationID,
		"response_time_ms", elapsed,
		"tools", len(reply.ToolOutputs))
	return reply, nil
}

// TestConnection probes the endpoint without starting a conversation. Any
// HTTP response counts as reachable; only transport failures do not.
func (c *HTTPChatClient) TestConnection(ctx context.Context, endpoint model.EndpointConfig) error {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, endpoint.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to build probe request: %w", err)
	}
	if endpoint.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+endpoint.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &model.EndpointUnreachableError{Endpoint: endpoint.URL, Cause: err}
	}
	resp.Body.Close()
	return nil
}

// stringify renders a tool payload for the transcript. Strings pass through,
// anything structured is re-encoded as JSON.
func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		data, err := sonic.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(data)
	}
}

// sleepCtx waits out a rate-limit delay, waking early on cancellation. The
// step context bounds the wait regardless of what the server asked for.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
