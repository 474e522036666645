package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/SilenceZen/langgraph/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			question TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			ended_at DATETIME,
			result TEXT,
			error TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			message_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT,
			tool_calls TEXT,
			structured TEXT,
			call_id TEXT,
			results TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_run ON messages(run_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS events (
			event_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			type TEXT NOT NULL,
			payload TEXT,
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id, ts)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateRun creates a new run.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *domain.Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, question, status, started_at) VALUES (?, ?, ?, ?)`,
		run.RunID, run.Question, run.Status, run.StartedAt)
	return err
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	var run domain.Run
	var result, errData sql.NullString
	var endedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, question, status, started_at, ended_at, result, error FROM runs WHERE run_id = ?`,
		runID).Scan(&run.RunID, &run.Question, &run.Status, &run.StartedAt, &endedAt, &result, &errData)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if endedAt.Valid {
		run.EndedAt = &endedAt.Time
	}
	if result.Valid && result.String != "" {
		run.Result = json.RawMessage(result.String)
	}
	if errData.Valid && errData.String != "" {
		run.Error = json.RawMessage(errData.String)
	}
	return &run, nil
}

// ListRuns retrieves the most recently started runs.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*domain.Run, error) {
	query := `SELECT run_id, question, status, started_at, ended_at, result, error FROM runs ORDER BY started_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		var run domain.Run
		var result, errData sql.NullString
		var endedAt sql.NullTime
		if err := rows.Scan(&run.RunID, &run.Question, &run.Status, &run.StartedAt, &endedAt, &result, &errData); err != nil {
			return nil, err
		}
		if endedAt.Valid {
			run.EndedAt = &endedAt.Time
		}
		if result.Valid && result.String != "" {
			run.Result = json.RawMessage(result.String)
		}
		if errData.Valid && errData.String != "" {
			run.Error = json.RawMessage(errData.String)
		}
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

// UpdateRunStatus updates the status of a run.
func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status domain.RunStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ? WHERE run_id = ?`,
		status, runID)
	return err
}

// UpdateRunCompleted updates a run to a terminal state with its result or
// error payload.
func (s *SQLiteStore) UpdateRunCompleted(ctx context.Context, runID string, status domain.RunStatus, result []byte, errData []byte) error {
	now := time.Now()
	var resultStr, errStr sql.NullString
	if result != nil {
		resultStr = sql.NullString{String: string(result), Valid: true}
	}
	if errData != nil {
		errStr = sql.NullString{String: string(errData), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, ended_at = ?, result = ?, error = ? WHERE run_id = ?`,
		status, now, resultStr, errStr, runID)
	return err
}

// CreateMessage creates a new message.
func (s *SQLiteStore) CreateMessage(ctx context.Context, message *domain.Message) error {
	var toolCalls, results sql.NullString
	if len(message.ToolCalls) > 0 {
		raw, err := json.Marshal(message.ToolCalls)
		if err != nil {
			return fmt.Errorf("failed to marshal tool calls: %w", err)
		}
		toolCalls = sql.NullString{String: string(raw), Valid: true}
	}
	if message.Results != nil {
		raw, err := json.Marshal(message.Results)
		if err != nil {
			return fmt.Errorf("failed to marshal results: %w", err)
		}
		results = sql.NullString{String: string(raw), Valid: true}
	}
	var structured sql.NullString
	if len(message.Structured) > 0 {
		structured = sql.NullString{String: string(message.Structured), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (message_id, run_id, role, content, tool_calls, structured, call_id, results, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		message.MessageID, message.RunID, message.Role, message.Content, toolCalls, structured, message.CallID, results, message.CreatedAt)
	return err
}

// GetMessages retrieves the ordered messages of a run.
func (s *SQLiteStore) GetMessages(ctx context.Context, runID string, limit int) ([]domain.Message, error) {
	query := `SELECT message_id, run_id, role, content, tool_calls, structured, call_id, results, created_at
		FROM messages WHERE run_id = ? ORDER BY created_at ASC, message_id ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var msg domain.Message
		var content, toolCalls, structured, callID, results sql.NullString
		if err := rows.Scan(&msg.MessageID, &msg.RunID, &msg.Role, &content, &toolCalls, &structured, &callID, &results, &msg.CreatedAt); err != nil {
			return nil, err
		}
		if content.Valid {
			msg.Content = content.String
		}
		if callID.Valid {
			msg.CallID = callID.String
		}
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("failed to unmarshal tool calls: %w", err)
			}
		}
		if structured.Valid && structured.String != "" {
			msg.Structured = json.RawMessage(structured.String)
		}
		if results.Valid && results.String != "" {
			if err := json.Unmarshal([]byte(results.String), &msg.Results); err != nil {
				return nil, fmt.Errorf("failed to unmarshal results: %w", err)
			}
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// CreateEvent creates a new event.
func (s *SQLiteStore) CreateEvent(ctx context.Context, event *domain.Event) error {
	payload := ""
	if event.Payload != nil {
		payload = string(event.Payload)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (event_id, run_id, ts, type, payload) VALUES (?, ?, ?, ?, ?)`,
		event.EventID, event.RunID, event.Ts, event.Type, payload)
	return err
}

// GetEvents retrieves events for a run. afterSeq is the lossless cursor;
// afterTs is a coarse filter that skips whole milliseconds and can drop
// same-millisecond siblings, so incremental readers should page on seq.
func (s *SQLiteStore) GetEvents(ctx context.Context, runID string, afterTs int64, afterSeq int64, types []string, limit int) ([]domain.Event, error) {
	query := `SELECT event_id, run_id, ts, rowid, type, payload FROM events WHERE run_id = ?`
	args := []interface{}{runID}

	if afterTs > 0 {
		query += ` AND ts > ?`
		args = append(args, afterTs)
	}
	if afterSeq > 0 {
		query += ` AND rowid > ?`
		args = append(args, afterSeq)
	}

	if len(types) > 0 {
		placeholders := make([]string, len(types))
		for i, t := range types {
			placeholders[i] = "?"
			args = append(args, t)
		}
		query += fmt.Sprintf(" AND type IN (%s)", strings.Join(placeholders, ","))
	}

	// rowid breaks ties for events recorded within the same millisecond.
	query += ` ORDER BY ts ASC, rowid ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var event domain.Event
		var payload sql.NullString
		if err := rows.Scan(&event.EventID, &event.RunID, &event.Ts, &event.Seq, &event.Type, &payload); err != nil {
			return nil, err
		}
		if payload.Valid && payload.String != "" {
			event.Payload = json.RawMessage(payload.String)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
