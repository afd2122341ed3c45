package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

var (
	// ErrModelUnavailable means the LLM could not be reached at all
	// (connection refused, timeout, non-2xx status).
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrModelParse means the LLM replied but the reply did not contain a
	// usable decision.
	ErrModelParse = errors.New("model response unparseable")
)

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

type Method string

const (
	MethodLLM             Method = "llm"
	MethodKeywordFallback Method = "keyword_fallback"
)

// Decision is the outcome of classifying one message. Method records which
// path produced it.
type Decision struct {
	Detected   bool       `json:"detected"`
	Confidence Confidence `json:"confidence"`
	Reasoning  string     `json:"reasoning"`
	Method     Method     `json:"method"`
}

// Classifier decides whether a message asks to unsubscribe. The model is
// the primary path; any model failure degrades to keyword matching, so
// classification itself never fails a request.
type Classifier struct {
	model   Model
	timeout time.Duration
	logger  *slog.Logger
}

func New(model Model, timeout time.Duration, logger *slog.Logger) *Classifier {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		model:   model,
		timeout: timeout,
		logger:  logger,
	}
}

func (c *Classifier) Classify(ctx context.Context, subject, body string) Decision {
	if c.model == nil {
		return Fallback(subject, body)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.model.Generate(ctx, buildPrompt(subject, body))
	if err != nil {
		c.logger.Warn("model call failed, using keyword fallback",
			"model", c.model.Name(), "error", err)
		return Fallback(subject, body)
	}

	decision, err := parseVerdict(raw)
	if err != nil {
		c.logger.Warn("model reply unparseable, using keyword fallback",
			"model", c.model.Name(), "error", err)
		return Fallback(subject, body)
	}
	return decision
}

const promptTemplate = `You are a highly accurate email intent classification system. Analyze the email below and decide whether the sender wants to unsubscribe from marketing emails.

Email subject: %s
Email body: %s

Respond with ONLY valid JSON in exactly this format, nothing else:
{"has_unsubscribe_intent": true or false, "confidence": "high" or "medium" or "low", "reasoning": "one short sentence"}`

const maxPromptBody = 1000

func buildPrompt(subject, body string) string {
	if len(body) > maxPromptBody {
		body = body[:maxPromptBody]
	}
	return fmt.Sprintf(promptTemplate, subject, body)
}

// verdict is the wire format the prompt demands from the model.
type verdict struct {
	HasUnsubscribeIntent bool   `json:"has_unsubscribe_intent"`
	Confidence           string `json:"confidence"`
	Reasoning            string `json:"reasoning"`
}

// parseVerdict parses a model reply strictly. Models often wrap the JSON in
// prose or markdown fences, so the slice from the first '{' to the last '}'
// is tried. Anything that does not decode to a verdict with a known
// confidence is ErrModelParse.
func parseVerdict(raw string) (Decision, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Decision{}, fmt.Errorf("%w: empty reply", ErrModelParse)
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return Decision{}, fmt.Errorf("%w: no JSON object in reply", ErrModelParse)
	}

	var v verdict
	if err := json.Unmarshal([]byte(text[start:end+1]), &v); err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrModelParse, err)
	}

	confidence := Confidence(strings.ToLower(strings.TrimSpace(v.Confidence)))
	switch confidence {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
	default:
		return Decision{}, fmt.Errorf("%w: unknown confidence %q", ErrModelParse, v.Confidence)
	}

	return Decision{
		Detected:   v.HasUnsubscribeIntent,
		Confidence: confidence,
		Reasoning:  v.Reasoning,
		Method:     MethodLLM,
	}, nil
}

// Unsubscribe phrasings checked by the fallback path. Matching is
// case-insensitive substring over subject and body together.
var fallbackKeywords = []string{
	"unsubscribe",
	"remove me",
	"stop emails",
	"stop sending",
	"take me off",
	"opt out",
	"cancel subscription",
	"no longer interested",
	"don't want to receive",
	"don't send",
	"stop contacting",
}

// Fallback is the deterministic keyword path. A hit is medium confidence,
// a miss is low.
func Fallback(subject, body string) Decision {
	text := strings.ToLower(subject + " " + body)

	for _, keyword := range fallbackKeywords {
		if strings.Contains(text, keyword) {
			return Decision{
				Detected:   true,
				Confidence: ConfidenceMedium,
				Reasoning:  fmt.Sprintf("Keyword match: %q", keyword),
				Method:     MethodKeywordFallback,
			}
		}
	}

	return Decision{
		Detected:   false,
		Confidence: ConfidenceLow,
		Reasoning:  "No unsubscribe keywords found",
		Method:     MethodKeywordFallback,
	}
}
