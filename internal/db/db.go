package db

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	conn *sql.DB
}

func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS unsubscribe_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT NOT NULL,
		intent_detected INTEGER NOT NULL DEFAULT 0,
		intent_confidence TEXT,
		intent_reasoning TEXT,
		provider_success INTEGER NOT NULL DEFAULT 0,
		provider_action TEXT,
		provider_message TEXT,
		email_subject TEXT,
		email_snippet TEXT,
		source TEXT NOT NULL DEFAULT 'webhook',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_unsubscribe_logs_email ON unsubscribe_logs(email);
	CREATE INDEX IF NOT EXISTS idx_unsubscribe_logs_created_at ON unsubscribe_logs(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_unsubscribe_logs_source ON unsubscribe_logs(source);
	`
	_, err := db.conn.Exec(schema)
	return err
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// Audit log operations. The log is append-only: rows are never updated,
// and the only delete is the admin Clear.

func (db *DB) LogAction(rec *Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := db.conn.Exec(
		`INSERT INTO unsubscribe_logs (email, intent_detected, intent_confidence, intent_reasoning,
		   provider_success, provider_action, provider_message, email_subject, email_snippet, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Email, rec.IntentDetected, rec.IntentConfidence, rec.IntentReasoning,
		rec.ProviderSuccess, rec.ProviderAction, rec.ProviderMessage,
		rec.EmailSubject, rec.EmailSnippet, rec.Source, rec.CreatedAt,
	)
	return err
}

const recordColumns = `id, email, intent_detected, intent_confidence, intent_reasoning,
	provider_success, provider_action, provider_message, email_subject, email_snippet, source, created_at`

func (db *DB) GetRecent(limit int) ([]Record, error) {
	rows, err := db.conn.Query(
		"SELECT "+recordColumns+" FROM unsubscribe_logs ORDER BY created_at DESC, id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// GetAll returns every audit record, newest first. With successfulOnly set
// it returns only rows where intent was detected and the provider call
// succeeded, which is the effective blocklist.
func (db *DB) GetAll(successfulOnly bool) ([]Record, error) {
	query := "SELECT " + recordColumns + " FROM unsubscribe_logs"
	if successfulOnly {
		query += " WHERE intent_detected = 1 AND provider_success = 1"
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := db.conn.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (db *DB) Search(email string) ([]Record, error) {
	rows, err := db.conn.Query(
		"SELECT "+recordColumns+" FROM unsubscribe_logs WHERE email LIKE ? ORDER BY created_at DESC, id DESC",
		"%"+email+"%",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (db *DB) Count() (int, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM unsubscribe_logs").Scan(&count)
	return count, err
}

func (db *DB) GetStats() (*Stats, error) {
	stats := &Stats{BySource: make(map[string]int)}

	if err := db.conn.QueryRow("SELECT COUNT(*) FROM unsubscribe_logs").Scan(&stats.TotalProcessed); err != nil {
		return nil, err
	}

	if err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM unsubscribe_logs WHERE intent_detected = 1 AND provider_success = 1",
	).Scan(&stats.Successful); err != nil {
		return nil, err
	}

	if err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM unsubscribe_logs WHERE intent_detected = 1 AND provider_success = 0",
	).Scan(&stats.FailedAttempts); err != nil {
		return nil, err
	}

	if err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM unsubscribe_logs WHERE intent_detected = 0",
	).Scan(&stats.NoIntentDetected); err != nil {
		return nil, err
	}

	rows, err := db.conn.Query("SELECT source, COUNT(*) FROM unsubscribe_logs GROUP BY source")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var source string
		var count int
		if err := rows.Scan(&source, &count); err != nil {
			return nil, err
		}
		stats.BySource[source] = count
	}
	return stats, rows.Err()
}

// Clear deletes every audit record and returns the number removed.
func (db *DB) Clear() (int64, error) {
	result, err := db.conn.Exec("DELETE FROM unsubscribe_logs")
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ExportCSV writes the whole audit log to w, newest first.
func (db *DB) ExportCSV(w io.Writer) error {
	records, err := db.GetAll(false)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	header := []string{
		"id", "email", "intent_detected", "intent_confidence", "intent_reasoning",
		"provider_success", "provider_action", "provider_message", "email_subject", "source", "created_at",
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, rec := range records {
		row := []string{
			strconv.FormatInt(rec.ID, 10),
			rec.Email,
			strconv.FormatBool(rec.IntentDetected),
			rec.IntentConfidence,
			rec.IntentReasoning,
			strconv.FormatBool(rec.ProviderSuccess),
			rec.ProviderAction,
			rec.ProviderMessage,
			rec.EmailSubject,
			rec.Source,
			rec.CreatedAt.Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var r Record
		var detected, success int
		var confidence, reasoning, action, message, subject, snippet sql.NullString
		if err := rows.Scan(&r.ID, &r.Email, &detected, &confidence, &reasoning,
			&success, &action, &message, &subject, &snippet, &r.Source, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.IntentDetected = detected == 1
		r.IntentConfidence = confidence.String
		r.IntentReasoning = reasoning.String
		r.ProviderSuccess = success == 1
		r.ProviderAction = action.String
		r.ProviderMessage = message.String
		r.EmailSubject = subject.String
		r.EmailSnippet = snippet.String
		records = append(records, r)
	}
	return records, rows.Err()
}
