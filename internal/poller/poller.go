package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"unsubscribe-service/internal/imap"
	"unsubscribe-service/internal/workflow"
)

// ErrNotRunning is returned by TriggerNow before Start or after shutdown.
var ErrNotRunning = errors.New("worker is not running")

// MailboxClient is the slice of the IMAP client the poller uses.
type MailboxClient interface {
	FetchUnseen() ([]imap.Email, error)
	MarkSeen(uids []uint32) error
}

// BatchProcessor runs one sweep's messages through the unsubscribe pipeline.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, msgs []workflow.Message) []workflow.Result
}

// ConfirmationSender replies to senders whose unsubscribe succeeded.
type ConfirmationSender interface {
	SendConfirmation(to, originalSubject, originalMessageID string) error
}

type Options struct {
	Client    MailboxClient
	Processor BatchProcessor
	Confirmer ConfirmationSender // optional
	Interval  time.Duration
	Email     string
	Folder    string
	Logger    *slog.Logger
}

// Status is the worker state reported on the admin surface.
type Status struct {
	Running              bool       `json:"running"`
	Enabled              bool       `json:"enabled"`
	CheckIntervalSeconds int        `json:"check_interval_seconds"`
	MonitoringEmail      string     `json:"monitoring_email"`
	MonitoringFolder     string     `json:"monitoring_folder"`
	LastRun              *time.Time `json:"last_run,omitempty"`
	NextRun              *time.Time `json:"next_run,omitempty"`
}

// Poller sweeps the monitored mailbox on an interval. Each sweep is one
// batch: fetch unseen messages, process them in order, then mark them
// seen. Enable and Disable pause the interval sweeps at runtime;
// TriggerNow forces a sweep regardless.
type Poller struct {
	client    MailboxClient
	processor BatchProcessor
	confirmer ConfirmationSender
	interval  time.Duration
	email     string
	folder    string
	logger    *slog.Logger

	trigger chan struct{}

	mu      sync.Mutex
	running bool
	enabled bool
	lastRun time.Time
	nextRun time.Time
}

func New(opts Options) *Poller {
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		client:    opts.Client,
		processor: opts.Processor,
		confirmer: opts.Confirmer,
		interval:  interval,
		email:     opts.Email,
		folder:    opts.Folder,
		logger:    logger,
		trigger:   make(chan struct{}, 1),
		enabled:   true,
	}
}

// Start runs the poll loop until ctx is cancelled. The first sweep happens
// immediately.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	p.running = true
	p.mu.Unlock()

	p.logger.Info("starting mailbox poller",
		"interval", p.interval, "email", p.email, "folder", p.folder)

	p.sweep(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.running = false
			p.mu.Unlock()
			p.logger.Info("poller stopped")
			return
		case <-ticker.C:
			if p.isEnabled() {
				p.sweep(ctx)
			} else {
				p.advanceSchedule()
			}
		case <-p.trigger:
			p.sweep(ctx)
		}
	}
}

// Enable resumes interval sweeps.
func (p *Poller) Enable() {
	p.mu.Lock()
	p.enabled = true
	p.mu.Unlock()
	p.logger.Info("worker enabled")
}

// Disable pauses interval sweeps. The loop keeps running so TriggerNow
// still works.
func (p *Poller) Disable() {
	p.mu.Lock()
	p.enabled = false
	p.mu.Unlock()
	p.logger.Info("worker disabled")
}

// TriggerNow queues an immediate sweep. A sweep already queued counts.
func (p *Poller) TriggerNow() error {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if !running {
		return ErrNotRunning
	}

	select {
	case p.trigger <- struct{}{}:
	default:
	}
	return nil
}

func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	status := Status{
		Running:              p.running,
		Enabled:              p.enabled,
		CheckIntervalSeconds: int(p.interval / time.Second),
		MonitoringEmail:      p.email,
		MonitoringFolder:     p.folder,
	}
	if !p.lastRun.IsZero() {
		t := p.lastRun
		status.LastRun = &t
	}
	if !p.nextRun.IsZero() {
		t := p.nextRun
		status.NextRun = &t
	}
	return status
}

func (p *Poller) isEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

func (p *Poller) advanceSchedule() {
	p.mu.Lock()
	p.nextRun = time.Now().Add(p.interval)
	p.mu.Unlock()
}

func (p *Poller) sweep(ctx context.Context) {
	p.mu.Lock()
	p.lastRun = time.Now()
	p.nextRun = p.lastRun.Add(p.interval)
	p.mu.Unlock()

	emails, err := p.client.FetchUnseen()
	if err != nil {
		p.logger.Error("failed to fetch unseen messages", "error", err)
		return
	}
	if len(emails) == 0 {
		p.logger.Debug("no unseen messages")
		return
	}

	p.logger.Info("found unseen messages", "count", len(emails))

	// Messages without a sender cannot be processed but are still marked
	// seen so they do not come back every sweep.
	var msgs []workflow.Message
	var processed []imap.Email
	uids := make([]uint32, 0, len(emails))
	for _, email := range emails {
		uids = append(uids, email.UID)
		if email.From == "" {
			p.logger.Warn("skipping message without sender", "uid", email.UID)
			continue
		}
		msgs = append(msgs, workflow.Message{
			SenderEmail: email.From,
			Subject:     email.Subject,
			Body:        email.Body,
			ReceivedAt:  email.Date,
			Source:      workflow.SourcePoll,
		})
		processed = append(processed, email)
	}

	results := p.processor.ProcessBatch(ctx, msgs)

	if err := p.client.MarkSeen(uids); err != nil {
		p.logger.Error("failed to mark messages seen", "error", err)
	}

	var unsubscribed, skipped, failed int
	for i, result := range results {
		switch {
		case result.Action == workflow.ActionCreated || result.Action == workflow.ActionUpdated:
			unsubscribed++
			p.sendConfirmation(result.Email, processed[i])
		case result.Action == workflow.ActionFailed:
			failed++
		default:
			skipped++
		}
	}

	p.logger.Info("sweep complete",
		"fetched", len(emails),
		"unsubscribed", unsubscribed,
		"skipped", skipped,
		"failed", failed)
}

func (p *Poller) sendConfirmation(to string, email imap.Email) {
	if p.confirmer == nil {
		return
	}
	if err := p.confirmer.SendConfirmation(to, email.Subject, email.MessageID); err != nil {
		p.logger.Warn("failed to send confirmation", "email", to, "error", err)
	}
}
