package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/chatwidget/internal/domain"
)

// SessionSummary is one row of the session listing.
type SessionSummary struct {
	ID         string    `json:"id"`
	Protocol   string    `json:"protocol"`
	Source     string    `json:"source,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	LastSeenAt time.Time `json:"lastSeenAt"`
	Exchanges  int       `json:"exchanges"`
}

// TranscriptStore records exchanges for later inspection. It is write-only
// from the conversation's point of view; nothing is ever replayed into a
// live session.
type TranscriptStore struct {
	db *DB
}

// NewTranscriptStore creates a transcript store using the given database.
func NewTranscriptStore(db *DB) *TranscriptStore {
	return &TranscriptStore{db: db}
}

// timeLayout has fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

// RecordExchange stores an exchange and its attempts in one transaction,
// creating the session row on first sight.
func (s *TranscriptStore) RecordExchange(ctx context.Context, ex domain.Exchange) error {
	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	started := formatTime(ex.StartedAt)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (id, protocol, source, created_at, last_seen_at, exchanges)
		 VALUES (?, ?, ?, ?, ?, 1)
		 ON CONFLICT(id) DO UPDATE SET
		   last_seen_at = excluded.last_seen_at,
		   exchanges = sessions.exchanges + 1`,
		ex.SessionID, ex.Protocol, ex.Source, started, started,
	); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO exchanges (id, session_id, user_text, reply_text, delivered, started_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ex.ID, ex.SessionID, ex.UserText, ex.ReplyText, ex.Delivered, started, ex.Duration.Milliseconds(),
	); err != nil {
		return fmt.Errorf("insert exchange: %w", err)
	}

	for _, a := range ex.Attempts {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO attempts (exchange_id, ordinal, started_at, outcome, status_code, detail, backoff_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			ex.ID, a.Ordinal, formatTime(a.StartedAt), string(a.Outcome), a.StatusCode, a.Detail, a.Backoff.Milliseconds(),
		); err != nil {
			return fmt.Errorf("insert attempt %d: %w", a.Ordinal, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.db.log.Debug().
		Str("exchangeId", ex.ID).
		Int("attempts", len(ex.Attempts)).
		Msg("exchange recorded")
	return nil
}

// ListSessions returns the most recently active sessions first.
func (s *TranscriptStore) ListSessions(ctx context.Context, limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT id, protocol, source, created_at, last_seen_at, exchanges
		 FROM sessions ORDER BY last_seen_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var ss SessionSummary
		var created, lastSeen string
		if err := rows.Scan(&ss.ID, &ss.Protocol, &ss.Source, &created, &lastSeen, &ss.Exchanges); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		ss.CreatedAt = parseTime(created)
		ss.LastSeenAt = parseTime(lastSeen)
		out = append(out, ss)
	}
	return out, rows.Err()
}

// Exchanges returns a session's exchanges in order, each with its attempts.
// An unknown session yields an empty slice.
func (s *TranscriptStore) Exchanges(ctx context.Context, sessionID string) ([]domain.Exchange, error) {
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT e.id, e.session_id, s.protocol, s.source, e.user_text, e.reply_text, e.delivered, e.started_at, e.duration_ms
		 FROM exchanges e JOIN sessions s ON s.id = e.session_id
		 WHERE e.session_id = ? ORDER BY e.started_at, e.rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query exchanges: %w", err)
	}
	out, err := scanExchanges(rows)
	if err != nil {
		return nil, err
	}

	for i := range out {
		attempts, err := s.attempts(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Attempts = attempts
	}
	return out, nil
}

// Search finds exchanges whose user or reply text matches an FTS5 query,
// best match first. Attempts are not loaded.
func (s *TranscriptStore) Search(ctx context.Context, query string, limit int) ([]domain.Exchange, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT e.id, e.session_id, s.protocol, s.source, e.user_text, e.reply_text, e.delivered, e.started_at, e.duration_ms
		 FROM exchanges_fts
		 JOIN exchanges e ON e.rowid = exchanges_fts.rowid
		 JOIN sessions s ON s.id = e.session_id
		 WHERE exchanges_fts MATCH ?
		 ORDER BY exchanges_fts.rank
		 LIMIT ?`, quoteFTS(query), limit)
	if err != nil {
		return nil, fmt.Errorf("search exchanges: %w", err)
	}
	return scanExchanges(rows)
}

// quoteFTS turns free text into a phrase query so punctuation in user input
// is never parsed as FTS5 syntax.
func quoteFTS(q string) string {
	return `"` + strings.ReplaceAll(q, `"`, `""`) + `"`
}

func scanExchanges(rows *sql.Rows) ([]domain.Exchange, error) {
	defer rows.Close()

	var out []domain.Exchange
	for rows.Next() {
		var ex domain.Exchange
		var started string
		var durationMs int64
		if err := rows.Scan(&ex.ID, &ex.SessionID, &ex.Protocol, &ex.Source, &ex.UserText,
			&ex.ReplyText, &ex.Delivered, &started, &durationMs); err != nil {
			return nil, fmt.Errorf("scan exchange: %w", err)
		}
		ex.StartedAt = parseTime(started)
		ex.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, ex)
	}
	return out, rows.Err()
}

func (s *TranscriptStore) attempts(ctx context.Context, exchangeID string) ([]domain.Attempt, error) {
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT ordinal, started_at, outcome, status_code, detail, backoff_ms
		 FROM attempts WHERE exchange_id = ? ORDER BY ordinal`, exchangeID)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var out []domain.Attempt
	for rows.Next() {
		var a domain.Attempt
		var started, outcome string
		var backoffMs int64
		if err := rows.Scan(&a.Ordinal, &started, &outcome, &a.StatusCode, &a.Detail, &backoffMs); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.StartedAt = parseTime(started)
		a.Outcome = domain.Outcome(outcome)
		a.Backoff = time.Duration(backoffMs) * time.Millisecond
		out = append(out, a)
	}
	return out, rows.Err()
}
