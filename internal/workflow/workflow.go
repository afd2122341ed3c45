// Package workflow coordinates the unsubscribe pipeline: classify a
// message, blocklist the sender with the contact-list provider, and append
// one audit record per message whatever the outcome.
package workflow

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"unsubscribe-service/internal/brevo"
	"unsubscribe-service/internal/classifier"
	"unsubscribe-service/internal/db"
)

type Source string

const (
	SourceWebhook Source = "webhook"
	SourcePoll    Source = "poll"
	SourceManual  Source = "manual"
)

// Message is one inbound email to run through the pipeline.
type Message struct {
	SenderEmail string    `json:"sender_email"`
	Subject     string    `json:"subject"`
	Body        string    `json:"body"`
	ReceivedAt  time.Time `json:"received_at"`
	Source      Source    `json:"source"`
}

type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionSkipped Action = "skipped"
	ActionFailed  Action = "failed"
)

// Result reports what happened to one message. Skips are successful
// outcomes; only a provider failure clears Success.
type Result struct {
	Email   string `json:"email"`
	Success bool   `json:"success"`
	Action  Action `json:"action"`
	Message string `json:"message"`
}

// IntentClassifier is the slice of the classifier the coordinator uses.
type IntentClassifier interface {
	Classify(ctx context.Context, subject, body string) classifier.Decision
}

// Blocklister is the slice of the contact-list provider the coordinator uses.
type Blocklister interface {
	Blocklist(ctx context.Context, email string) (brevo.Outcome, error)
}

// AuditStore appends audit records.
type AuditStore interface {
	LogAction(rec *db.Record) error
}

// Coordinator runs messages through classification and provider action.
// Batches are processed sequentially; the seen set deduplicates senders
// within one batch and is never persisted.
type Coordinator struct {
	classifier IntentClassifier
	provider   Blocklister
	store      AuditStore
	logger     *slog.Logger
	clock      func() time.Time
}

func NewCoordinator(cls IntentClassifier, provider Blocklister, store AuditStore, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		classifier: cls,
		provider:   provider,
		store:      store,
		logger:     logger,
		clock:      time.Now,
	}
}

// ProcessBatch classifies and processes each message in order with a fresh
// dedup set. One webhook request or one mailbox sweep is one batch.
func (c *Coordinator) ProcessBatch(ctx context.Context, msgs []Message) []Result {
	if len(msgs) == 0 {
		return nil
	}

	batchID := uuid.NewString()
	c.logger.Info("processing batch", "batch_id", batchID, "messages", len(msgs))

	seen := make(map[string]bool)
	results := make([]Result, 0, len(msgs))
	for _, msg := range msgs {
		decision := c.classifier.Classify(ctx, msg.Subject, msg.Body)
		result := c.Process(ctx, msg, decision, seen)
		c.logger.Info("message processed",
			"batch_id", batchID,
			"email", result.Email,
			"detected", decision.Detected,
			"method", decision.Method,
			"action", result.Action)
		results = append(results, result)
	}
	return results
}

// Process applies one decision. Senders are added to seen only after a
// successful provider call, so a failed sender is retried on its next
// message instead of being skipped as a duplicate.
func (c *Coordinator) Process(ctx context.Context, msg Message, decision classifier.Decision, seen map[string]bool) Result {
	email := strings.ToLower(strings.TrimSpace(msg.SenderEmail))

	var result Result
	switch {
	case !decision.Detected:
		result = Result{
			Email:   email,
			Success: true,
			Action:  ActionSkipped,
			Message: "No unsubscribe intent detected",
		}
	case seen[email]:
		result = Result{
			Email:   email,
			Success: true,
			Action:  ActionSkipped,
			Message: "Duplicate sender in batch",
		}
	default:
		outcome, err := c.provider.Blocklist(ctx, email)
		if err != nil {
			result = Result{
				Email:   email,
				Action:  ActionFailed,
				Message: err.Error(),
			}
		} else {
			seen[email] = true
			result = Result{
				Email:   email,
				Success: true,
				Action:  Action(outcome.Action),
				Message: outcome.Message,
			}
		}
	}

	c.audit(msg, decision, result)
	return result
}

// BlocklistDirect bypasses classification for the manual admin surface. It
// still appends an audit record, with source manual.
func (c *Coordinator) BlocklistDirect(ctx context.Context, email string) Result {
	email = strings.ToLower(strings.TrimSpace(email))

	var result Result
	outcome, err := c.provider.Blocklist(ctx, email)
	if err != nil {
		result = Result{Email: email, Action: ActionFailed, Message: err.Error()}
	} else {
		result = Result{Email: email, Success: true, Action: Action(outcome.Action), Message: outcome.Message}
	}

	decision := classifier.Decision{
		Detected:   true,
		Confidence: classifier.ConfidenceHigh,
		Reasoning:  "Manual blocklist request",
	}
	c.audit(Message{SenderEmail: email, Source: SourceManual}, decision, result)
	return result
}

func (c *Coordinator) audit(msg Message, decision classifier.Decision, result Result) {
	rec := &db.Record{
		Email:            result.Email,
		IntentDetected:   decision.Detected,
		IntentConfidence: string(decision.Confidence),
		IntentReasoning:  decision.Reasoning,
		ProviderSuccess:  result.Success,
		ProviderAction:   string(result.Action),
		ProviderMessage:  result.Message,
		EmailSubject:     msg.Subject,
		EmailSnippet:     snippet(msg.Body),
		Source:           string(msg.Source),
		CreatedAt:        c.clock(),
	}
	if err := c.store.LogAction(rec); err != nil {
		c.logger.Error("failed to append audit record", "email", result.Email, "error", err)
	}
}

const snippetLen = 200

func snippet(body string) string {
	runes := []rune(body)
	if len(runes) <= snippetLen {
		return body
	}
	return string(runes[:snippetLen]) + "..."
}
