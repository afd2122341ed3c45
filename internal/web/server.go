package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"unsubscribe-service/internal/classifier"
	"unsubscribe-service/internal/db"
	"unsubscribe-service/internal/poller"
	"unsubscribe-service/internal/workflow"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 500
)

// Processor is the slice of the coordinator the handlers use.
type Processor interface {
	Process(ctx context.Context, msg workflow.Message, decision classifier.Decision, seen map[string]bool) workflow.Result
	BlocklistDirect(ctx context.Context, email string) workflow.Result
}

// IntentClassifier decides unsubscribe intent for one message.
type IntentClassifier interface {
	Classify(ctx context.Context, subject, body string) classifier.Decision
}

// AuditReader is the slice of the store the read endpoints use.
type AuditReader interface {
	GetRecent(limit int) ([]db.Record, error)
	GetAll(successfulOnly bool) ([]db.Record, error)
	Search(email string) ([]db.Record, error)
	GetStats() (*db.Stats, error)
	Clear() (int64, error)
	ExportCSV(w io.Writer) error
}

// Worker is the poller control surface. It is nil when polling is disabled.
type Worker interface {
	Status() poller.Status
	TriggerNow() error
	Enable()
	Disable()
}

type Server struct {
	processor  Processor
	classifier IntentClassifier
	store      AuditReader
	worker     Worker
	port       int
	version    string
	logger     *slog.Logger
}

func NewServer(processor Processor, cls IntentClassifier, store AuditReader, worker Worker, port int, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		processor:  processor,
		classifier: cls,
		store:      store,
		worker:     worker,
		port:       port,
		version:    version,
		logger:     logger,
	}
}

// Handler builds the route table. Exposed separately from Start so tests
// can drive it directly.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/inbound-email", s.handleInboundEmail)
	mux.HandleFunc("/test-intent", s.handleTestIntent)
	mux.HandleFunc("/test-provider", s.handleTestProvider)
	mux.HandleFunc("/worker/status", s.handleWorkerStatus)
	mux.HandleFunc("/worker/check-now", s.handleWorkerCheckNow)
	mux.HandleFunc("/worker/start", s.handleWorkerStart)
	mux.HandleFunc("/worker/stop", s.handleWorkerStop)
	mux.HandleFunc("/blocklist/stats", s.handleBlocklistStats)
	mux.HandleFunc("/blocklist/all", s.handleBlocklistAll)
	mux.HandleFunc("/blocklist/search/", s.handleBlocklistSearch)
	mux.HandleFunc("/blocklist/recent", s.handleBlocklistRecent)
	mux.HandleFunc("/blocklist/export", s.handleBlocklistExport)
	mux.HandleFunc("/blocklist/clear", s.handleBlocklistClear)

	return mux
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("starting web server", "addr", addr)
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	s.handleHealth(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "unsubscribe-service",
		"version": s.version,
	})
}

// handleInboundEmail is the webhook entry point. One request is one batch,
// so a fresh dedup set is used per call.
func (s *Server) handleInboundEmail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		SenderEmail string `json:"sender_email"`
		From        string `json:"from"`
		Subject     string `json:"subject"`
		Body        string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sender := req.SenderEmail
	if sender == "" {
		sender = req.From
	}
	if !validEmail(sender) {
		s.writeError(w, http.StatusBadRequest, "a valid sender email is required")
		return
	}

	msg := workflow.Message{
		SenderEmail: sender,
		Subject:     req.Subject,
		Body:        req.Body,
		ReceivedAt:  time.Now(),
		Source:      workflow.SourceWebhook,
	}

	decision := s.classifier.Classify(r.Context(), msg.Subject, msg.Body)
	result := s.processor.Process(r.Context(), msg, decision, make(map[string]bool))

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "processed",
		"email":  result.Email,
		"intent": decision,
		"action": result,
	})
}

// handleTestIntent classifies without acting or auditing.
func (s *Server) handleTestIntent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Subject == "" && req.Body == "" {
		s.writeError(w, http.StatusBadRequest, "subject or body is required")
		return
	}

	decision := s.classifier.Classify(r.Context(), req.Subject, req.Body)
	s.writeJSON(w, http.StatusOK, decision)
}

// handleTestProvider blocklists one address directly, bypassing
// classification. The call is audited with source manual.
func (s *Server) handleTestProvider(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !validEmail(req.Email) {
		s.writeError(w, http.StatusBadRequest, "a valid email is required")
		return
	}

	result := s.processor.BlocklistDirect(r.Context(), req.Email)
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleWorkerStatus(w http.ResponseWriter, r *http.Request) {
	if s.worker == nil {
		s.writeJSON(w, http.StatusOK, poller.Status{})
		return
	}
	s.writeJSON(w, http.StatusOK, s.worker.Status())
}

func (s *Server) handleWorkerCheckNow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.worker == nil {
		s.writeError(w, http.StatusConflict, "worker is disabled")
		return
	}
	if err := s.worker.TriggerNow(); err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "check queued"})
}

func (s *Server) handleWorkerStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.worker == nil {
		s.writeError(w, http.StatusConflict, "worker is disabled")
		return
	}
	s.worker.Enable()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "worker enabled"})
}

func (s *Server) handleWorkerStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.worker == nil {
		s.writeError(w, http.StatusConflict, "worker is disabled")
		return
	}
	s.worker.Disable()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "worker disabled"})
}

func (s *Server) handleBlocklistStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetStats()
	if err != nil {
		s.logger.Error("failed to load stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleBlocklistAll(w http.ResponseWriter, r *http.Request) {
	successfulOnly := false
	if v := r.URL.Query().Get("successful_only"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			successfulOnly = parsed
		}
	}

	records, err := s.store.GetAll(successfulOnly)
	if err != nil {
		s.logger.Error("failed to load records", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load records")
		return
	}
	s.writeRecords(w, records)
}

func (s *Server) handleBlocklistSearch(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimPrefix(r.URL.Path, "/blocklist/search/")
	if email == "" {
		s.writeError(w, http.StatusBadRequest, "an email to search for is required")
		return
	}

	records, err := s.store.Search(email)
	if err != nil {
		s.logger.Error("search failed", "email", email, "error", err)
		s.writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	s.writeRecords(w, records)
}

func (s *Server) handleBlocklistRecent(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	records, err := s.store.GetRecent(limit)
	if err != nil {
		s.logger.Error("failed to load recent records", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load records")
		return
	}
	s.writeRecords(w, records)
}

func (s *Server) handleBlocklistExport(w http.ResponseWriter, r *http.Request) {
	filename := fmt.Sprintf("unsubscribe_logs_%s.csv", time.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	if err := s.store.ExportCSV(w); err != nil {
		s.logger.Error("csv export failed", "error", err)
	}
}

func (s *Server) handleBlocklistClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	deleted, err := s.store.Clear()
	if err != nil {
		s.logger.Error("failed to clear audit log", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to clear audit log")
		return
	}

	s.logger.Info("audit log cleared", "deleted", deleted)
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "cleared", "deleted": deleted})
}

func (s *Server) writeRecords(w http.ResponseWriter, records []db.Record) {
	if records == nil {
		records = []db.Record{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(records),
		"records": records,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func validEmail(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || !strings.Contains(s, "@") {
		return false
	}
	_, err := mail.ParseAddress(s)
	return err == nil
}
