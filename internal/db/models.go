package db

import "time"

// Record is one row of the append-only unsubscribe audit log. Every
// processed message produces exactly one Record, whatever the outcome.
type Record struct {
	ID               int64     `json:"id"`
	Email            string    `json:"email"`
	IntentDetected   bool      `json:"intent_detected"`
	IntentConfidence string    `json:"intent_confidence"`
	IntentReasoning  string    `json:"intent_reasoning"`
	ProviderSuccess  bool      `json:"provider_success"`
	ProviderAction   string    `json:"provider_action"`
	ProviderMessage  string    `json:"provider_message"`
	EmailSubject     string    `json:"email_subject"`
	EmailSnippet     string    `json:"email_snippet"`
	Source           string    `json:"source"`
	CreatedAt        time.Time `json:"created_at"`
}

type Stats struct {
	TotalProcessed   int            `json:"total_processed"`
	Successful       int            `json:"successful_unsubscribes"`
	FailedAttempts   int            `json:"failed_attempts"`
	NoIntentDetected int            `json:"no_intent_detected"`
	BySource         map[string]int `json:"by_source"`
}
