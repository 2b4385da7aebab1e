// Package store persists tasks in SQLite. Its update primitives carry the
// concurrency guarantees the orchestrator relies on: conditional status
// writes and stream-id appends are single statements decided by the
// database, never read-modify-write in Go.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dohr-michael/sidekick/internal/tasks"
)

const schema = `
CREATE TABLE IF NOT EXISTS task (
	row_id       INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id      TEXT    NOT NULL,
	task_id      INTEGER NOT NULL,
	status       TEXT    NOT NULL,
	conversation TEXT    NOT NULL DEFAULT '[]',
	environment  TEXT,
	total_tokens INTEGER,
	error        TEXT,
	stream_ids   TEXT    NOT NULL DEFAULT '[]',
	created_at   TEXT    NOT NULL,
	updated_at   TEXT    NOT NULL,
	UNIQUE (user_id, task_id)
);

CREATE TABLE IF NOT EXISTS task_sequence (
	user_id      TEXT PRIMARY KEY,
	next_task_id INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_task_user ON task (user_id, task_id);
`

// SQLiteStore implements tasks.Store on a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the database at path. Use ":memory:"
// for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// The driver serializes writes; a single connection avoids table-lock
	// errors under concurrent use.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Create allocates the next task id for the user and inserts the row, both
// inside one transaction so ids stay dense per user.
func (s *SQLiteStore) Create(ctx context.Context, userID string, initial *tasks.Task) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var taskID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO task_sequence (user_id, next_task_id) VALUES (?, 1)
		ON CONFLICT (user_id) DO UPDATE SET next_task_id = next_task_id + 1
		RETURNING next_task_id`, userID).Scan(&taskID)
	if err != nil {
		return 0, fmt.Errorf("allocate task id: %w", err)
	}

	conversation, err := marshalOr(initial.Conversation, "[]")
	if err != nil {
		return 0, err
	}
	environment, err := marshalNullable(initial.Environment)
	if err != nil {
		return 0, err
	}
	taskErr, err := marshalNullable(initial.Error)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO task (user_id, task_id, status, conversation, environment, total_tokens, error, stream_ids, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, '[]', ?, ?)`,
		userID, taskID, string(initial.Status), conversation, environment,
		nullableInt(initial.TotalTokens), taskErr, now, now)
	if err != nil {
		return 0, fmt.Errorf("insert task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return taskID, nil
}

// Read fetches one task by owner and task id.
func (s *SQLiteStore) Read(ctx context.Context, userID string, taskID int64) (*tasks.Task, error) {
	row := s.db.QueryRowContext(ctx,
		selectColumns+` FROM task WHERE user_id = ? AND task_id = ?`, userID, taskID)
	return scanTask(row)
}

// ReadByRowID fetches one task by its global row id, owner unchecked.
// Callers resolving an obfuscated public id verify ownership themselves.
func (s *SQLiteStore) ReadByRowID(ctx context.Context, rowID int64) (*tasks.Task, error) {
	row := s.db.QueryRowContext(ctx,
		selectColumns+` FROM task WHERE row_id = ?`, rowID)
	return scanTask(row)
}

// Update applies a patch unconditionally.
func (s *SQLiteStore) Update(ctx context.Context, userID string, taskID int64, patch tasks.Patch) error {
	_, err := s.applyPatch(ctx, userID, taskID, patch, false)
	return err
}

// UpdateIfNotStreaming applies the patch only when the persisted status is
// not streaming. The guard lives in the statement's WHERE clause, so two
// racing callers cannot both win.
func (s *SQLiteStore) UpdateIfNotStreaming(ctx context.Context, userID string, taskID int64, patch tasks.Patch) (bool, error) {
	return s.applyPatch(ctx, userID, taskID, patch, true)
}

func (s *SQLiteStore) applyPatch(ctx context.Context, userID string, taskID int64, patch tasks.Patch, guarded bool) (bool, error) {
	var sets []string
	var args []any

	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if patch.Conversation != nil {
		conversation, err := marshalOr(patch.Conversation, "[]")
		if err != nil {
			return false, err
		}
		sets = append(sets, "conversation = ?")
		args = append(args, conversation)
	}
	if patch.Environment != nil {
		environment, err := marshalNullable(patch.Environment)
		if err != nil {
			return false, err
		}
		sets = append(sets, "environment = ?")
		args = append(args, environment)
	}
	if patch.TotalTokens != nil {
		sets = append(sets, "total_tokens = ?")
		args = append(args, *patch.TotalTokens)
	}
	if patch.Error != nil {
		taskErr, err := marshalNullable(patch.Error)
		if err != nil {
			return false, err
		}
		sets = append(sets, "error = ?")
		args = append(args, taskErr)
	} else if patch.ClearError {
		sets = append(sets, "error = NULL")
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC().Format(time.RFC3339Nano))

	query := "UPDATE task SET " + strings.Join(sets, ", ") + " WHERE user_id = ? AND task_id = ?"
	args = append(args, userID, taskID)
	if guarded {
		query += " AND status != ?"
		args = append(args, string(tasks.StatusStreaming))
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update task: %w", err)
	}
	if affected == 1 {
		return true, nil
	}

	// Zero rows: either the task does not exist or the guard rejected it.
	var exists int
	err = s.db.QueryRowContext(ctx,
		`SELECT 1 FROM task WHERE user_id = ? AND task_id = ?`, userID, taskID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, tasks.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("update task: %w", err)
	}
	return false, nil
}

// AppendStreamID appends one id to the task's stream history in a single
// statement, safe against concurrent appends.
func (s *SQLiteStore) AppendStreamID(ctx context.Context, userID string, taskID int64, streamID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE task SET stream_ids = json_insert(stream_ids, '$[#]', ?), updated_at = ?
		WHERE user_id = ? AND task_id = ?`,
		streamID, time.Now().UTC().Format(time.RFC3339Nano), userID, taskID)
	if err != nil {
		return fmt.Errorf("append stream id: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("append stream id: %w", err)
	}
	if affected == 0 {
		return tasks.ErrNotFound
	}
	return nil
}

// LatestStreamID returns the most recent stream id, or ErrNotFound when the
// task does not exist. An existing task with no streams yields "".
func (s *SQLiteStore) LatestStreamID(ctx context.Context, userID string, taskID int64) (string, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT stream_ids FROM task WHERE user_id = ? AND task_id = ?`, userID, taskID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", tasks.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("latest stream id: %w", err)
	}

	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return "", fmt.Errorf("latest stream id: decode: %w", err)
	}
	if len(ids) == 0 {
		return "", nil
	}
	return ids[len(ids)-1], nil
}

// ListStreaming returns every streaming task regardless of owner.
func (s *SQLiteStore) ListStreaming(ctx context.Context) ([]*tasks.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		selectColumns+` FROM task WHERE status = ? ORDER BY row_id`, string(tasks.StatusStreaming))
	if err != nil {
		return nil, fmt.Errorf("list streaming tasks: %w", err)
	}
	defer rows.Close()

	var out []*tasks.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list streaming tasks: %w", err)
	}
	return out, nil
}

// List returns a page of the user's tasks, newest first.
func (s *SQLiteStore) List(ctx context.Context, userID string, page, limit int, filter tasks.ListFilter) (*tasks.Page, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	where := "user_id = ?"
	args := []any{userID}
	if filter.CWD != "" {
		where += " AND json_extract(environment, '$.info.cwd') = ?"
		args = append(args, filter.CWD)
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM task WHERE "+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}

	query := selectColumns + " FROM task WHERE " + where + " ORDER BY task_id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, (page-1)*limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*tasks.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	totalPages := (total + limit - 1) / limit
	return &tasks.Page{
		Tasks:      out,
		TotalCount: total,
		Limit:      limit,
		Current:    page,
		TotalPages: totalPages,
	}, nil
}

// Delete removes a task.
func (s *SQLiteStore) Delete(ctx context.Context, userID string, taskID int64) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM task WHERE user_id = ? AND task_id = ?`, userID, taskID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if affected == 0 {
		return tasks.ErrNotFound
	}
	return nil
}

const selectColumns = `SELECT row_id, user_id, task_id, status, conversation, environment, total_tokens, error, stream_ids, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*tasks.Task, error) {
	var (
		task         tasks.Task
		status       string
		conversation string
		environment  sql.NullString
		totalTokens  sql.NullInt64
		taskErr      sql.NullString
		streamIDs    string
		createdAt    string
		updatedAt    string
	)
	err := row.Scan(&task.RowID, &task.UserID, &task.TaskID, &status, &conversation,
		&environment, &totalTokens, &taskErr, &streamIDs, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tasks.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	task.Status = tasks.Status(status)
	if err := json.Unmarshal([]byte(conversation), &task.Conversation); err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	if environment.Valid && environment.String != "" {
		task.Environment = &tasks.Environment{}
		if err := json.Unmarshal([]byte(environment.String), task.Environment); err != nil {
			return nil, fmt.Errorf("decode environment: %w", err)
		}
	}
	if totalTokens.Valid {
		n := int(totalTokens.Int64)
		task.TotalTokens = &n
	}
	if taskErr.Valid && taskErr.String != "" {
		task.Error = &tasks.TaskError{}
		if err := json.Unmarshal([]byte(taskErr.String), task.Error); err != nil {
			return nil, fmt.Errorf("decode error: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(streamIDs), &task.StreamIDs); err != nil {
		return nil, fmt.Errorf("decode stream ids: %w", err)
	}
	if task.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	if task.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("decode updated_at: %w", err)
	}
	return &task, nil
}

func marshalOr(v any, empty string) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode: %w", err)
	}
	if string(data) == "null" {
		return empty, nil
	}
	return string(data), nil
}

func marshalNullable(v any) (sql.NullString, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode: %w", err)
	}
	if string(data) == "null" {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

var _ tasks.Store = (*SQLiteStore)(nil)
