package workflow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"unsubscribe-service/internal/brevo"
	"unsubscribe-service/internal/classifier"
	"unsubscribe-service/internal/db"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClassifier returns the keyword fallback decision, which is enough
// for coordinator tests: detection follows the body text deterministically.
type fakeClassifier struct{}

func (fakeClassifier) Classify(ctx context.Context, subject, body string) classifier.Decision {
	return classifier.Fallback(subject, body)
}

// fakeProvider records every blocklist call and can be told to fail for
// specific addresses.
type fakeProvider struct {
	calls   []string
	failFor map[string]error
	action  string
}

func (f *fakeProvider) Blocklist(ctx context.Context, email string) (brevo.Outcome, error) {
	f.calls = append(f.calls, email)
	if err, ok := f.failFor[email]; ok {
		return brevo.Outcome{}, err
	}
	action := f.action
	if action == "" {
		action = "created"
	}
	return brevo.Outcome{Action: action, Message: "Contact " + email + " blacklisted"}, nil
}

type fakeStore struct {
	records []db.Record
	err     error
}

func (f *fakeStore) LogAction(rec *db.Record) error {
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, *rec)
	return nil
}

func newTestCoordinator(provider *fakeProvider, store *fakeStore) *Coordinator {
	c := NewCoordinator(fakeClassifier{}, provider, store, testLogger())
	c.clock = func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) }
	return c
}

func msg(sender, body string) Message {
	return Message{
		SenderEmail: sender,
		Subject:     "hello",
		Body:        body,
		ReceivedAt:  time.Now(),
		Source:      SourcePoll,
	}
}

func TestProcess_NoIntentSkips(t *testing.T) {
	provider := &fakeProvider{}
	store := &fakeStore{}
	c := newTestCoordinator(provider, store)

	decision := classifier.Decision{Detected: false}
	result := c.Process(context.Background(), msg("user@example.com", "Thanks for the update"), decision, map[string]bool{})

	if !result.Success || result.Action != ActionSkipped {
		t.Errorf("expected successful skip, got %+v", result)
	}
	if len(provider.calls) != 0 {
		t.Errorf("expected no provider calls, got %d", len(provider.calls))
	}
	if len(store.records) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(store.records))
	}
}

func TestProcess_DetectedCallsProvider(t *testing.T) {
	provider := &fakeProvider{action: "updated"}
	store := &fakeStore{}
	c := newTestCoordinator(provider, store)

	decision := classifier.Decision{Detected: true, Confidence: classifier.ConfidenceHigh}
	seen := map[string]bool{}
	result := c.Process(context.Background(), msg("User@Example.com", "unsubscribe"), decision, seen)

	if !result.Success {
		t.Errorf("expected success, got %+v", result)
	}
	if result.Action != ActionUpdated {
		t.Errorf("expected updated, got %s", result.Action)
	}
	if result.Email != "user@example.com" {
		t.Errorf("expected normalized address, got %q", result.Email)
	}
	if !seen["user@example.com"] {
		t.Error("expected sender added to seen after success")
	}
	if len(provider.calls) != 1 {
		t.Fatalf("expected 1 provider call, got %d", len(provider.calls))
	}
}

func TestProcess_ProviderFailure(t *testing.T) {
	provider := &fakeProvider{failFor: map[string]error{
		"user@example.com": errors.New("api error 500 - internal"),
	}}
	store := &fakeStore{}
	c := newTestCoordinator(provider, store)

	decision := classifier.Decision{Detected: true}
	seen := map[string]bool{}
	result := c.Process(context.Background(), msg("user@example.com", "unsubscribe"), decision, seen)

	if result.Success {
		t.Error("expected failure")
	}
	if result.Action != ActionFailed {
		t.Errorf("expected failed, got %s", result.Action)
	}
	if result.Message == "" {
		t.Error("expected provider error message")
	}
	if seen["user@example.com"] {
		t.Error("failed sender must not be added to seen")
	}
	if len(store.records) != 1 {
		t.Fatalf("expected audit record for the failure, got %d", len(store.records))
	}
	if store.records[0].ProviderSuccess {
		t.Error("audit record should carry the failure")
	}
}

func TestProcessBatch_DeduplicatesSender(t *testing.T) {
	provider := &fakeProvider{}
	store := &fakeStore{}
	c := newTestCoordinator(provider, store)

	msgs := []Message{
		msg("user@example.com", "please unsubscribe me"),
		msg("user@example.com", "unsubscribe, again!"),
		msg("other@example.com", "take me off your list"),
	}
	results := c.ProcessBatch(context.Background(), msgs)

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if len(provider.calls) != 2 {
		t.Fatalf("expected exactly 2 provider calls, got %d: %v", len(provider.calls), provider.calls)
	}
	if results[0].Action != ActionCreated {
		t.Errorf("first message should act, got %s", results[0].Action)
	}
	if results[1].Action != ActionSkipped {
		t.Errorf("duplicate should skip, got %s", results[1].Action)
	}
	if results[2].Action != ActionCreated {
		t.Errorf("distinct sender should act, got %s", results[2].Action)
	}
	if len(store.records) != 3 {
		t.Errorf("every message must be audited, got %d records", len(store.records))
	}
}

func TestProcessBatch_FreshSeenPerBatch(t *testing.T) {
	provider := &fakeProvider{}
	store := &fakeStore{}
	c := newTestCoordinator(provider, store)

	batch := []Message{msg("user@example.com", "unsubscribe")}
	c.ProcessBatch(context.Background(), batch)
	c.ProcessBatch(context.Background(), batch)

	if len(provider.calls) != 2 {
		t.Errorf("dedup must not persist across batches, got %d calls", len(provider.calls))
	}
}

func TestProcessBatch_FailureIsolation(t *testing.T) {
	provider := &fakeProvider{failFor: map[string]error{
		"bad@example.com": errors.New("api error 500 - internal"),
	}}
	store := &fakeStore{}
	c := newTestCoordinator(provider, store)

	msgs := []Message{
		msg("bad@example.com", "unsubscribe"),
		msg("good@example.com", "remove me please"),
	}
	results := c.ProcessBatch(context.Background(), msgs)

	if results[0].Action != ActionFailed {
		t.Errorf("expected first to fail, got %s", results[0].Action)
	}
	if results[1].Action != ActionCreated {
		t.Errorf("failure must not stop the batch, got %s", results[1].Action)
	}
	if len(store.records) != 2 {
		t.Errorf("expected both messages audited, got %d", len(store.records))
	}
}

func TestProcessBatch_FailedSenderRetriedInBatch(t *testing.T) {
	provider := &fakeProvider{failFor: map[string]error{}}
	provider.failFor["user@example.com"] = errors.New("api error 429 - rate limited")
	store := &fakeStore{}
	c := newTestCoordinator(provider, store)

	first := c.ProcessBatch(context.Background(), []Message{msg("user@example.com", "unsubscribe")})
	if first[0].Action != ActionFailed {
		t.Fatalf("expected failure, got %s", first[0].Action)
	}

	delete(provider.failFor, "user@example.com")
	second := c.ProcessBatch(context.Background(), []Message{msg("user@example.com", "unsubscribe")})
	if second[0].Action != ActionCreated {
		t.Errorf("failed sender should retry on the next batch, got %s", second[0].Action)
	}
}

func TestProcessBatch_Empty(t *testing.T) {
	c := newTestCoordinator(&fakeProvider{}, &fakeStore{})
	if results := c.ProcessBatch(context.Background(), nil); results != nil {
		t.Errorf("expected nil results for an empty batch, got %v", results)
	}
}

func TestProcess_AuditRecordContents(t *testing.T) {
	provider := &fakeProvider{}
	store := &fakeStore{}
	c := newTestCoordinator(provider, store)

	m := Message{
		SenderEmail: "user@example.com",
		Subject:     "Remove me",
		Body:        "please unsubscribe me",
		Source:      SourceWebhook,
	}
	decision := classifier.Decision{
		Detected:   true,
		Confidence: classifier.ConfidenceMedium,
		Reasoning:  "Keyword match",
		Method:     classifier.MethodKeywordFallback,
	}
	c.Process(context.Background(), m, decision, map[string]bool{})

	rec := store.records[0]
	if rec.Email != "user@example.com" {
		t.Errorf("unexpected email: %q", rec.Email)
	}
	if !rec.IntentDetected || rec.IntentConfidence != "medium" {
		t.Errorf("decision not carried into audit record: %+v", rec)
	}
	if rec.EmailSubject != "Remove me" || rec.Source != "webhook" {
		t.Errorf("message fields not carried into audit record: %+v", rec)
	}
	if rec.CreatedAt.IsZero() {
		t.Error("expected created_at to be set")
	}
}

func TestProcess_AuditErrorDoesNotFail(t *testing.T) {
	provider := &fakeProvider{}
	store := &fakeStore{err: errors.New("disk full")}
	c := newTestCoordinator(provider, store)

	decision := classifier.Decision{Detected: true}
	result := c.Process(context.Background(), msg("user@example.com", "unsubscribe"), decision, map[string]bool{})

	if !result.Success {
		t.Error("an audit write failure must not fail the message")
	}
}

func TestSnippet(t *testing.T) {
	short := "hello"
	if got := snippet(short); got != short {
		t.Errorf("short body must pass through, got %q", got)
	}

	long := ""
	for i := 0; i < 300; i++ {
		long += "a"
	}
	got := snippet(long)
	if len([]rune(got)) != snippetLen+3 {
		t.Errorf("expected %d runes plus ellipsis, got %d", snippetLen, len([]rune(got)))
	}
}

func TestBlocklistDirect(t *testing.T) {
	provider := &fakeProvider{}
	store := &fakeStore{}
	c := newTestCoordinator(provider, store)

	result := c.BlocklistDirect(context.Background(), "Admin@Example.com")

	if !result.Success || result.Action != ActionCreated {
		t.Errorf("unexpected result: %+v", result)
	}
	if result.Email != "admin@example.com" {
		t.Errorf("expected normalized address, got %q", result.Email)
	}
	if len(store.records) != 1 {
		t.Fatalf("expected manual call audited, got %d records", len(store.records))
	}
	if store.records[0].Source != "manual" {
		t.Errorf("expected manual source, got %q", store.records[0].Source)
	}
}
