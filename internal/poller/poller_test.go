package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"unsubscribe-service/internal/imap"
	"unsubscribe-service/internal/workflow"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeMailbox struct {
	emails   []imap.Email
	fetchErr error
	marked   [][]uint32
	markErr  error
}

func (f *fakeMailbox) FetchUnseen() ([]imap.Email, error) {
	return f.emails, f.fetchErr
}

func (f *fakeMailbox) MarkSeen(uids []uint32) error {
	f.marked = append(f.marked, uids)
	return f.markErr
}

type fakeBatchProcessor struct {
	mu      sync.Mutex
	batches [][]workflow.Message
	results []workflow.Result
}

func (f *fakeBatchProcessor) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func (f *fakeBatchProcessor) ProcessBatch(ctx context.Context, msgs []workflow.Message) []workflow.Result {
	f.mu.Lock()
	f.batches = append(f.batches, msgs)
	f.mu.Unlock()
	if f.results != nil {
		return f.results
	}
	results := make([]workflow.Result, len(msgs))
	for i, m := range msgs {
		results[i] = workflow.Result{Email: m.SenderEmail, Success: true, Action: workflow.ActionCreated}
	}
	return results
}

type fakeConfirmer struct {
	sent []string
	err  error
}

func (f *fakeConfirmer) SendConfirmation(to, originalSubject, originalMessageID string) error {
	f.sent = append(f.sent, to)
	return f.err
}

func testEmail(uid uint32, from, body string) imap.Email {
	return imap.Email{
		UID:       uid,
		MessageID: "<msg@example.com>",
		From:      from,
		Subject:   "Unsubscribe",
		Body:      body,
		Date:      time.Now(),
	}
}

func newTestPoller(mailbox *fakeMailbox, processor *fakeBatchProcessor, confirmer ConfirmationSender) *Poller {
	return New(Options{
		Client:    mailbox,
		Processor: processor,
		Confirmer: confirmer,
		Interval:  time.Hour,
		Email:     "inbox@example.com",
		Folder:    "INBOX",
		Logger:    testLogger(),
	})
}

func TestSweep_ProcessesUnseenAsOneBatch(t *testing.T) {
	mailbox := &fakeMailbox{emails: []imap.Email{
		testEmail(1, "a@example.com", "unsubscribe"),
		testEmail(2, "b@example.com", "remove me"),
	}}
	processor := &fakeBatchProcessor{}
	p := newTestPoller(mailbox, processor, nil)

	p.sweep(context.Background())

	if len(processor.batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(processor.batches))
	}
	batch := processor.batches[0]
	if len(batch) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(batch))
	}
	if batch[0].SenderEmail != "a@example.com" || batch[0].Source != workflow.SourcePoll {
		t.Errorf("unexpected message: %+v", batch[0])
	}
	if len(mailbox.marked) != 1 || len(mailbox.marked[0]) != 2 {
		t.Errorf("expected both messages marked seen, got %v", mailbox.marked)
	}
}

func TestSweep_SenderlessMessageStillMarkedSeen(t *testing.T) {
	mailbox := &fakeMailbox{emails: []imap.Email{
		testEmail(1, "", "no sender header"),
		testEmail(2, "a@example.com", "unsubscribe"),
	}}
	processor := &fakeBatchProcessor{}
	p := newTestPoller(mailbox, processor, nil)

	p.sweep(context.Background())

	if len(processor.batches[0]) != 1 {
		t.Fatalf("expected only the addressable message processed, got %d", len(processor.batches[0]))
	}
	if len(mailbox.marked[0]) != 2 {
		t.Errorf("senderless message must be marked seen too, got %v", mailbox.marked[0])
	}
}

func TestSweep_FetchErrorSkipsProcessing(t *testing.T) {
	mailbox := &fakeMailbox{fetchErr: errors.New("connection refused")}
	processor := &fakeBatchProcessor{}
	p := newTestPoller(mailbox, processor, nil)

	p.sweep(context.Background())

	if len(processor.batches) != 0 {
		t.Errorf("expected no processing on fetch failure, got %d batches", len(processor.batches))
	}
	if len(mailbox.marked) != 0 {
		t.Errorf("nothing should be marked seen, got %v", mailbox.marked)
	}
}

func TestSweep_NoUnseenMessages(t *testing.T) {
	mailbox := &fakeMailbox{}
	processor := &fakeBatchProcessor{}
	p := newTestPoller(mailbox, processor, nil)

	p.sweep(context.Background())

	if len(processor.batches) != 0 {
		t.Errorf("expected no batch for an empty mailbox, got %d", len(processor.batches))
	}
}

func TestSweep_ConfirmationsForSuccessesOnly(t *testing.T) {
	mailbox := &fakeMailbox{emails: []imap.Email{
		testEmail(1, "ok@example.com", "unsubscribe"),
		testEmail(2, "skip@example.com", "thanks for the update"),
		testEmail(3, "fail@example.com", "unsubscribe"),
	}}
	processor := &fakeBatchProcessor{results: []workflow.Result{
		{Email: "ok@example.com", Success: true, Action: workflow.ActionCreated},
		{Email: "skip@example.com", Success: true, Action: workflow.ActionSkipped, Message: "No unsubscribe intent detected"},
		{Email: "fail@example.com", Action: workflow.ActionFailed, Message: "api error"},
	}}
	confirmer := &fakeConfirmer{}
	p := newTestPoller(mailbox, processor, confirmer)

	p.sweep(context.Background())

	if len(confirmer.sent) != 1 || confirmer.sent[0] != "ok@example.com" {
		t.Errorf("expected one confirmation to the successful sender, got %v", confirmer.sent)
	}
}

func TestSweep_ConfirmationFailureIsNonFatal(t *testing.T) {
	mailbox := &fakeMailbox{emails: []imap.Email{testEmail(1, "a@example.com", "unsubscribe")}}
	confirmer := &fakeConfirmer{err: errors.New("smtp refused")}
	p := newTestPoller(mailbox, &fakeBatchProcessor{}, confirmer)

	p.sweep(context.Background())

	if len(confirmer.sent) != 1 {
		t.Errorf("expected confirmation attempted, got %d", len(confirmer.sent))
	}
}

func TestTriggerNow_BeforeStart(t *testing.T) {
	p := newTestPoller(&fakeMailbox{}, &fakeBatchProcessor{}, nil)
	if err := p.TriggerNow(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning, got %v", err)
	}
}

func TestStartAndTrigger(t *testing.T) {
	mailbox := &fakeMailbox{emails: []imap.Email{testEmail(1, "a@example.com", "unsubscribe")}}
	processor := &fakeBatchProcessor{}
	p := newTestPoller(mailbox, processor, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	waitFor(t, func() bool { return p.Status().Running })

	if err := p.TriggerNow(); err != nil {
		t.Errorf("unexpected trigger error: %v", err)
	}
	// Initial sweep plus the triggered one.
	waitFor(t, func() bool { return processor.batchCount() >= 2 })

	cancel()
	<-done

	if p.Status().Running {
		t.Error("expected poller stopped after cancel")
	}
}

func TestEnableDisable(t *testing.T) {
	p := newTestPoller(&fakeMailbox{}, &fakeBatchProcessor{}, nil)

	if !p.Status().Enabled {
		t.Error("expected poller to start enabled")
	}
	p.Disable()
	if p.Status().Enabled {
		t.Error("expected disabled")
	}
	p.Enable()
	if !p.Status().Enabled {
		t.Error("expected enabled")
	}
}

func TestStatus_ReportsSchedule(t *testing.T) {
	p := newTestPoller(&fakeMailbox{}, &fakeBatchProcessor{}, nil)

	status := p.Status()
	if status.CheckIntervalSeconds != 3600 {
		t.Errorf("expected 3600s interval, got %d", status.CheckIntervalSeconds)
	}
	if status.MonitoringEmail != "inbox@example.com" || status.MonitoringFolder != "INBOX" {
		t.Errorf("unexpected status: %+v", status)
	}
	if status.LastRun != nil || status.NextRun != nil {
		t.Error("expected no schedule before the first sweep")
	}

	p.sweep(context.Background())

	status = p.Status()
	if status.LastRun == nil || status.NextRun == nil {
		t.Fatal("expected schedule after a sweep")
	}
	if !status.NextRun.After(*status.LastRun) {
		t.Error("next run must be after last run")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
