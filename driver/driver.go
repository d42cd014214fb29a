package driver

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/mdwoicke/dentix-ortho-sub013/logger"
	"github.com/mdwoicke/dentix-ortho-sub013/model"
	"github.com/mdwoicke/dentix-ortho-sub013/persona"
)

// DefaultStepTimeout bounds one assistant reply when the step does not set
// its own timeout.
const DefaultStepTimeout = 30 * time.Second

// ===== CONVERSATION DRIVER =====

// Driver walks a test case's script turn by turn against one endpoint.
type Driver struct {
	client      ChatClient
	resolver    *persona.Resolver
	stepTimeout time.Duration
}

// NewDriver builds a driver with the default per-step timeout.
func NewDriver(client ChatClient, resolver *persona.Resolver) *Driver {
	return &Driver{client: client, resolver: resolver, stepTimeout: DefaultStepTimeout}
}

// WithStepTimeout overrides the default per-step timeout.
func (d *Driver) WithStepTimeout(timeout time.Duration) *Driver {
	if timeout > 0 {
		d.stepTimeout = timeout
	}
	return d
}

// Run executes the script. The returned result is always populated, even on
// failure; the error is non-nil only when the endpoint itself became
// unreachable or the context was cancelled, in which case the result carries
// the partial transcript.
func (d *Driver) Run(ctx context.Context, tc model.TestCase, key model.EndpointKey, endpoint model.EndpointConfig) (*model.ConversationResult, error) {
	result := &model.ConversationResult{
		CaseID:    tc.CaseID,
		Endpoint:  key,
		State:     model.StateNotStarted,
		StartedAt: time.Now().UTC(),
	}

	inventory, err := d.resolver.ResolveInventory(tc.Persona.Inventory)
	if err != nil {
		result.State = model.StateFailed
		result.Error = "persona resolution failed: " + err.Error()
		return result, nil
	}
	result.Inventory = inventory
	templateCtx := model.PersonaContext(inventory)

	conversationID := uuid.NewString()
	logger.Logger.Info("Starting conversation",
		"case_id", tc.CaseID,
		"endpoint", key,
		"conversation_id", conversationID,
		"steps", len(tc.Steps))

	result.State = model.StateRunning
	start := time.Now()

	for i, step := range tc.Steps {
		outcome := model.StepOutcome{
			StepID:    step.ID,
			StepIndex: i,
			ReplyTurn: -1,
		}

		if err := d.wait(ctx, parseDuration(step.Delay, 0)); err != nil {
			result.State = model.StateFailed
			result.Error = "cancelled while waiting to send step"
			result.Steps = append(result.Steps, outcome)
			result.DurationMs = time.Since(start).Milliseconds()
			return result, err
		}

		message := model.RenderTemplate(step.UserMessage, templateCtx)
		outcome.UserMessage = message

		stepCtx, cancel := context.WithTimeout(ctx, parseDuration(step.Timeout, d.stepTimeout))
		stepStart := time.Now()
		reply, err := d.client.SendMessage(stepCtx, endpoint, conversationID, message)
		cancel()
		outcome.ElapsedMs = time.Since(stepStart).Milliseconds()
		outcome.Sent = true

		switch {
		case err == nil:
			result.Transcript = append(result.Transcript, model.TranscriptEntry{
				Role:      model.RoleUser,
				Content:   message,
				Timestamp: stepStart.UTC(),
			})
			result.Transcript = append(result.Transcript, model.TranscriptEntry{
				Role:           model.RoleAssistant,
				Content:        reply.AssistantText,
				ResponseTimeMs: reply.ResponseTimeMs,
				Timestamp:      time.Now().UTC(),
			})
			result.ToolOutputs = append(result.ToolOutputs, reply.ToolOutputs...)
			outcome.ReplyTurn = len(result.Transcript) - 1
			// a turn is one transcript entry, so each exchange is two turns
			result.TurnCount = len(result.Transcript)

		case ctx.Err() != nil:
			// outer cancellation, not a step timeout
			result.State = model.StateFailed
			result.Error = "conversation cancelled"
			result.Steps = append(result.Steps, outcome)
			result.DurationMs = time.Since(start).Milliseconds()
			return result, ctx.Err()

		case errors.Is(err, context.DeadlineExceeded):
			outcome.TimedOut = true
			if step.Optional {
				outcome.SkippedGap = true
				logger.Logger.Debug("Optional step timed out, skipping",
					"case_id", tc.CaseID, "step", i)
				result.Steps = append(result.Steps, outcome)
				continue
			}
			result.State = model.StateTimedOut
			result.Error = (&model.StepTimeoutError{
				StepIndex: i,
				Timeout:   parseDuration(step.Timeout, d.stepTimeout),
			}).Error()
			result.Steps = append(result.Steps, outcome)
			result.DurationMs = time.Since(start).Milliseconds()
			return result, nil

		case model.IsEndpointUnreachable(err):
			result.State = model.StateFailed
			result.Error = err.Error()
			result.Steps = append(result.Steps, outcome)
			result.DurationMs = time.Since(start).Milliseconds()
			return result, err

		default:
			result.State = model.StateFailed
			result.Error = err.Error()
			result.Steps = append(result.Steps, outcome)
			result.DurationMs = time.Since(start).Milliseconds()
			return result, nil
		}

		result.Steps = append(result.Steps, outcome)
	}

	result.State = model.StateCompleted
	result.DurationMs = time.Since(start).Milliseconds()

	logger.Logger.Info("Conversation finished",
		"case_id", tc.CaseID,
		"endpoint", key,
		"state", result.State,
		"turns", result.TurnCount,
		"duration_ms", result.DurationMs)
	return result, nil
}

// wait sleeps for the step delay, waking early on cancellation.
func (d *Driver) wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// parseDuration reads a config duration string, falling back when empty or
// malformed. Validation catches malformed values long before execution.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
