// Package litellm implements the collaborator port against a LiteLLM
// proxy's OpenAI-compatible chat completions API.
package litellm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/orchestry/missiond/internal/domain/mission"
	"github.com/orchestry/missiond/internal/port/collaborator"
	"github.com/orchestry/missiond/internal/resilience"
)

const defaultModel = "gpt-4o"

// Client talks to a LiteLLM proxy. All calls pass through the circuit
// breaker when one is attached.
type Client struct {
	baseURL    string
	masterKey  string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a collaborator client for the given proxy endpoint.
func NewClient(baseURL, masterKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		masterKey:  masterKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

// structuredResult is the JSON contract each agent persona is prompted
// to answer with. Supervisors fill outcome and feedback; planners and
// workers fill content and artifacts.
type structuredResult struct {
	Outcome   string   `json:"outcome,omitempty"`
	Content   string   `json:"content,omitempty"`
	Feedback  []string `json:"feedback,omitempty"`
	Artifacts []string `json:"artifacts,omitempty"`
}

// Complete performs one collaborator call.
func (c *Client) Complete(ctx context.Context, req collaborator.Request) (*collaborator.Response, error) {
	model := req.ModelHint
	if model == "" {
		model = defaultModel
	}

	body, err := json.Marshal(chatRequest{
		Model:    model,
		Messages: buildMessages(req),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	var raw []byte
	call := func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if c.masterKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.masterKey)
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if isTimeout(err) {
				return fmt.Errorf("chat completions: %w", collaborator.ErrTimeout)
			}
			return fmt.Errorf("chat completions: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("litellm API error %d: %s", resp.StatusCode, string(data))
		}
		raw = data
		return nil
	}

	if c.breaker != nil {
		err = c.breaker.Call(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, err
	}

	return parseResponse(raw, model)
}

func buildMessages(req collaborator.Request) []chatMessage {
	msgs := []chatMessage{
		{Role: "system", Content: systemPromptFor(req.Role)},
		{Role: "user", Content: req.Prompt},
	}
	if len(req.Feedback) > 0 {
		msgs = append(msgs, chatMessage{
			Role:    "user",
			Content: "Reviewer feedback to address:\n- " + strings.Join(req.Feedback, "\n- "),
		})
	}
	return msgs
}

func systemPromptFor(role mission.Role) string {
	switch role {
	case mission.RolePlanner:
		return `You are the planning agent. Produce a concrete step plan. Reply as JSON: {"content": "...", "artifacts": []}`
	case mission.RoleSupervisor:
		return `You are the reviewing agent. Judge the work. Reply as JSON: {"outcome": "approved"|"needs_changes", "feedback": ["..."]}`
	default:
		return `You are the working agent. Execute the plan. Reply as JSON: {"content": "...", "artifacts": ["..."]}`
	}
}

func parseResponse(raw []byte, requestedModel string) (*collaborator.Response, error) {
	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return nil, fmt.Errorf("unmarshal chat response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return nil, fmt.Errorf("chat response has no choices")
	}

	model := cr.Model
	if model == "" {
		model = requestedModel
	}
	out := &collaborator.Response{
		Model:     model,
		TokensIn:  cr.Usage.PromptTokens,
		TokensOut: cr.Usage.CompletionTokens,
	}

	content := cr.Choices[0].Message.Content
	var sr structuredResult
	if err := json.Unmarshal([]byte(extractJSON(content)), &sr); err != nil {
		// Not every model honors the contract; fall back to raw text.
		out.Content = content
		return out, nil
	}
	out.Outcome = mission.Outcome(sr.Outcome)
	out.Content = sr.Content
	out.Feedback = sr.Feedback
	out.Artifacts = sr.Artifacts
	if out.Content == "" && sr.Outcome == "" {
		out.Content = content
	}
	return out, nil
}

// extractJSON trims markdown fences models tend to wrap JSON answers in.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if after, ok := strings.CutPrefix(s, "```json"); ok {
		s = after
	} else if after, ok := strings.CutPrefix(s, "```"); ok {
		s = after
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
