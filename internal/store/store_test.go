package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/chatwidget/internal/domain"
	"github.com/soyeahso/chatwidget/internal/logging"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	log := logging.New(nil, "silent")
	db, err := Open(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

var t0 = time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)

func sampleExchange(id, session string, at time.Time) domain.Exchange {
	return domain.Exchange{
		ID:        id,
		SessionID: session,
		Protocol:  "1.0.0",
		Source:    "gateway",
		UserText:  "what are your opening hours?",
		ReplyText: "We are open 9 to 5.",
		Delivered: true,
		Attempts: []domain.Attempt{
			{Ordinal: 0, StartedAt: at, Outcome: domain.OutcomeServerError, StatusCode: 502, Detail: "server error (502): ", Backoff: time.Second},
			{Ordinal: 1, StartedAt: at.Add(time.Second), Outcome: domain.OutcomeSuccess, StatusCode: 200},
		},
		StartedAt: at,
		Duration:  1500 * time.Millisecond,
	}
}

// --- DB/Migration tests ---

func TestOpen_InMemory(t *testing.T) {
	db := testDB(t)
	assert.NotNil(t, db)
	assert.NotNil(t, db.SQL())
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "transcript.db")
	db, err := Open(path, logging.New(nil, "silent"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// reopening runs no new migrations
	db, err = Open(path, logging.New(nil, "silent"))
	require.NoError(t, err)
	defer db.Close()
	v, err := db.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v)
}

func TestMigrations_Applied(t *testing.T) {
	db := testDB(t)

	var count int
	err := db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), count)
}

func TestMigrations_Idempotent(t *testing.T) {
	db := testDB(t)

	require.NoError(t, db.migrate())

	var count int
	err := db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), count)
}

func TestSchema_TablesExist(t *testing.T) {
	db := testDB(t)

	for _, table := range []string{"sessions", "exchanges", "attempts", "exchanges_fts"} {
		var name string
		err := db.sql.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}
}

// --- Transcript tests ---

func TestTranscript_RoundTrip(t *testing.T) {
	ts := NewTranscriptStore(testDB(t))
	ctx := context.Background()

	ex := sampleExchange("ex-1", "session_a_v1.0.0", t0)
	require.NoError(t, ts.RecordExchange(ctx, ex))

	got, err := ts.Exchanges(ctx, "session_a_v1.0.0")
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, ex.ID, got[0].ID)
	assert.Equal(t, ex.UserText, got[0].UserText)
	assert.Equal(t, ex.ReplyText, got[0].ReplyText)
	assert.True(t, got[0].Delivered)
	assert.Equal(t, "gateway", got[0].Source)
	assert.Equal(t, "1.0.0", got[0].Protocol)
	assert.True(t, ex.StartedAt.Equal(got[0].StartedAt))
	assert.Equal(t, ex.Duration, got[0].Duration)

	require.Len(t, got[0].Attempts, 2)
	assert.Equal(t, domain.OutcomeServerError, got[0].Attempts[0].Outcome)
	assert.Equal(t, 502, got[0].Attempts[0].StatusCode)
	assert.Equal(t, time.Second, got[0].Attempts[0].Backoff)
	assert.Equal(t, domain.OutcomeSuccess, got[0].Attempts[1].Outcome)
}

func TestTranscript_UndeliveredExchange(t *testing.T) {
	ts := NewTranscriptStore(testDB(t))
	ctx := context.Background()

	ex := sampleExchange("ex-1", "s1", t0)
	ex.Delivered = false
	ex.ReplyText = "Request timed out. Please try again."
	ex.Attempts = []domain.Attempt{{Ordinal: 0, StartedAt: t0, Outcome: domain.OutcomeTimeout}}
	require.NoError(t, ts.RecordExchange(ctx, ex))

	got, err := ts.Exchanges(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.False(t, got[0].Delivered)
	assert.Equal(t, domain.OutcomeTimeout, got[0].Attempts[0].Outcome)
}

func TestTranscript_ExchangesOrdered(t *testing.T) {
	ts := NewTranscriptStore(testDB(t))
	ctx := context.Background()

	require.NoError(t, ts.RecordExchange(ctx, sampleExchange("second", "s1", t0.Add(time.Minute))))
	require.NoError(t, ts.RecordExchange(ctx, sampleExchange("first", "s1", t0)))

	got, err := ts.Exchanges(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].ID)
	assert.Equal(t, "second", got[1].ID)
}

func TestTranscript_UnknownSession(t *testing.T) {
	ts := NewTranscriptStore(testDB(t))

	got, err := ts.Exchanges(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestTranscript_DuplicateExchangeRejected(t *testing.T) {
	ts := NewTranscriptStore(testDB(t))
	ctx := context.Background()

	ex := sampleExchange("dup", "s1", t0)
	require.NoError(t, ts.RecordExchange(ctx, ex))
	assert.Error(t, ts.RecordExchange(ctx, ex))

	// the failed transaction must not bump the counter
	sessions, err := ts.ListSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, 1, sessions[0].Exchanges)
}

func TestTranscript_ListSessions(t *testing.T) {
	ts := NewTranscriptStore(testDB(t))
	ctx := context.Background()

	require.NoError(t, ts.RecordExchange(ctx, sampleExchange("a1", "old", t0)))
	require.NoError(t, ts.RecordExchange(ctx, sampleExchange("b1", "new", t0.Add(time.Hour))))
	require.NoError(t, ts.RecordExchange(ctx, sampleExchange("a2", "old", t0.Add(2*time.Hour))))

	sessions, err := ts.ListSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	assert.Equal(t, "old", sessions[0].ID, "most recently active first")
	assert.Equal(t, 2, sessions[0].Exchanges)
	assert.True(t, t0.Equal(sessions[0].CreatedAt))
	assert.True(t, t0.Add(2*time.Hour).Equal(sessions[0].LastSeenAt))
	assert.Equal(t, "new", sessions[1].ID)
	assert.Equal(t, 1, sessions[1].Exchanges)

	limited, err := ts.ListSessions(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestTranscript_Search(t *testing.T) {
	ts := NewTranscriptStore(testDB(t))
	ctx := context.Background()

	hours := sampleExchange("hours", "s1", t0)
	refund := sampleExchange("refund", "s1", t0.Add(time.Minute))
	refund.UserText = "how do I get a refund?"
	refund.ReplyText = "Refunds take 5 days."
	require.NoError(t, ts.RecordExchange(ctx, hours))
	require.NoError(t, ts.RecordExchange(ctx, refund))

	got, err := ts.Search(ctx, "refund", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "refund", got[0].ID)

	got, err = ts.Search(ctx, `closing "time`, 10)
	require.NoError(t, err, "quotes in user input are escaped")
	assert.Empty(t, got)

	got, err = ts.Search(ctx, "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestQuoteFTS(t *testing.T) {
	assert.Equal(t, `"refund"`, quoteFTS("refund"))
	assert.Equal(t, `"say ""hi"""`, quoteFTS(`say "hi"`))
}
