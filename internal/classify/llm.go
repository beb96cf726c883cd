package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ignite/dasher-monitor/internal/config"
	"github.com/ignite/dasher-monitor/internal/domain"
	"github.com/ignite/dasher-monitor/internal/pkg/logger"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
)

const systemPrompt = `You are an email analysis assistant for a DoorDash Dasher account monitoring platform.
Analyze the given email and classify it. Respond ONLY with valid JSON, no other text.

Categories and sub-categories:
- bgc: submitted, pending, clear, consider, identity_verified
- account: welcome, activation, deactivation, reactivation
- earnings: weekly_pay, direct_deposit, earnings_summary, tax_document
- operational: dash_opportunity, rating_update, policy_update, promotion, survey
- warning: contract_violation, low_rating_warning
- insurance: coverage_update, claim_status, policy_info
- scheduling: shift_reminder, schedule_change, availability_update
- equipment: delivery_bag, red_card, equipment_return
- unknown: unclassified, needs_review

Urgency levels: critical, high, medium, low, info

JSON format:
{
  "category": "string",
  "sub_category": "string",
  "summary": "1-2 sentence summary",
  "urgency": "string",
  "action_required": true/false,
  "key_details": {"any": "relevant details"},
  "confidence": 0.0-1.0
}`

var retryBackoffs = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// errNoChoices marks an empty completion; retried like a parse failure.
var errNoChoices = errors.New("empty completion response")

// LLMClassifier is the fallback tier: an OpenAI-compatible chat endpoint
// prompted with a fixed taxonomy. A circuit breaker fronts the endpoint so a
// struggling provider fails scans fast instead of burning the full retry
// schedule per message.
type LLMClassifier struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	maxRetries  int
	backoffs    []time.Duration
	breaker     *gobreaker.CircuitBreaker
	log         *logger.Logger
}

// NewLLMClassifier builds the fallback tier from configuration. The caller
// is expected to have checked cfg.Enabled(); an empty key still produces a
// working client that will fail on first use.
func NewLLMClassifier(cfg config.LLMConfig) *LLMClassifier {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm-classifier",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &LLMClassifier{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout(),
		maxRetries:  cfg.MaxRetries,
		backoffs:    retryBackoffs,
		breaker:     breaker,
		log:         logger.With("llm"),
	}
}

// Classify asks the model to place one message in the taxonomy. It retries
// timeouts, transport errors and unparseable responses up to maxRetries with
// the fixed backoff schedule. An open circuit breaker aborts immediately.
// On total failure the error is returned and the pipeline falls back to a
// manual-review placeholder.
func (c *LLMClassifier) Classify(ctx context.Context, subject, sender, body string) (*Result, error) {
	userContent := fmt.Sprintf("Subject: %s\nFrom: %s\n", subject, sender)
	if body != "" {
		userContent += "\nBody:\n" + SmartTruncate(body)
	}

	c.log.Info("llm analysis started", "subject", truncateForLog(subject), "body_length", len(body))

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		start := time.Now()
		resp, err := c.complete(ctx, userContent)
		if err == nil {
			result, perr := parseLLMResponse(resp)
			if perr == nil {
				c.log.Info("llm analysis complete",
					"category", string(result.Category),
					"confidence", result.Confidence,
					"elapsed", time.Since(start).String())
				return result, nil
			}
			err = perr
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("llm circuit open: %w", err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		c.log.Warn("llm attempt failed", "attempt", attempt+1, "max", c.maxRetries, "error", err.Error())

		if attempt < c.maxRetries-1 {
			if err := sleepCtx(ctx, c.backoffs[min(attempt, len(c.backoffs)-1)]); err != nil {
				return nil, err
			}
		}
	}

	c.log.Error("llm analysis failed", "retries", c.maxRetries, "error", lastErr.Error())
	return nil, fmt.Errorf("llm analysis failed after %d attempts: %w", c.maxRetries, lastErr)
}

func (c *LLMClassifier) complete(ctx context.Context, userContent string) (string, error) {
	v, err := c.breaker.Execute(func() (interface{}, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		resp, err := c.client.CreateChatCompletion(attemptCtx, openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: userContent},
			},
			Temperature: c.temperature,
			MaxTokens:   c.maxTokens,
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return nil, errNoChoices
		}
		return strings.TrimSpace(resp.Choices[0].Message.Content), nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// jsonObjectRE finds the first balanced brace block, one nesting level deep.
var jsonObjectRE = regexp.MustCompile(`\{[^{}]*(?:\{[^{}]*\}[^{}]*)*\}`)

// extractJSON pulls a JSON object out of a model response that may wrap it
// in markdown fences or surrounding prose.
func extractJSON(text string) (map[string]interface{}, error) {
	if strings.Contains(text, "```") {
		parts := strings.Split(text, "```")
		// Odd-indexed parts are inside code fences.
		for i := 1; i < len(parts); i += 2 {
			cleaned := strings.TrimSpace(parts[i])
			cleaned = strings.TrimSpace(strings.TrimPrefix(cleaned, "json"))
			var m map[string]interface{}
			if err := json.Unmarshal([]byte(cleaned), &m); err == nil {
				return m, nil
			}
		}
	}

	var m map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &m); err == nil {
		return m, nil
	}

	if match := jsonObjectRE.FindString(text); match != "" {
		if err := json.Unmarshal([]byte(match), &m); err == nil {
			return m, nil
		}
	}

	return nil, fmt.Errorf("no valid JSON object in response")
}

// parseLLMResponse extracts and validates the model's JSON, filling defaults
// for missing fields and clamping confidence into [0, 1].
func parseLLMResponse(text string) (*Result, error) {
	m, err := extractJSON(text)
	if err != nil {
		return nil, err
	}

	r := &Result{
		Category:    domain.CategoryUnknown,
		SubCategory: "unclassified",
		Urgency:     domain.UrgencyInfo,
	}
	if v, ok := m["category"].(string); ok && v != "" {
		r.Category = domain.Category(v)
	}
	if v, ok := m["sub_category"].(string); ok && v != "" {
		r.SubCategory = v
	}
	if v, ok := m["summary"].(string); ok {
		r.Summary = v
	}
	if v, ok := m["urgency"].(string); ok && v != "" {
		r.Urgency = domain.Urgency(v)
	}
	if v, ok := m["action_required"].(bool); ok {
		r.ActionRequired = v
	}
	switch v := m["confidence"].(type) {
	case float64:
		r.Confidence = domain.ClampConfidence(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			r.Confidence = domain.ClampConfidence(f)
		}
	}
	if kd, ok := m["key_details"]; ok && kd != nil {
		if b, err := json.Marshal(kd); err == nil {
			r.KeyDetails = b
		}
	}
	if b, err := json.Marshal(m); err == nil {
		r.RawResponse = b
	}
	return r, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncateForLog(s string) string {
	return cutRunes(s, 80)
}
