package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"remindflow/internal/domain"
)

// SQLiteStore keeps times as unix seconds so due comparisons are numeric.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the database file at path and applies
// migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?mode=rwc&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := Migrate(ctx, db, DialectSQLite); err != nil {
		db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(1) // SQLite single writer
	return NewSQLiteStore(db), nil
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

// DB returns the underlying database connection.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) Close() error { return s.db.Close() }

const sqliteColumns = `id,user_id,description,due_time,status,delivered,created_at,updated_at`

func (s *SQLiteStore) CreateTask(ctx context.Context, t domain.NewTask) (int64, error) {
	t, err := normalizeNew(t)
	if err != nil {
		return 0, err
	}
	now := s.now().Unix()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO tasks (user_id,description,due_time,status,delivered,created_at,updated_at)
VALUES (?,?,?,'pending',0,?,?)`, t.User, t.Description, t.DueTime.Unix(), now, now)
	if err != nil {
		return 0, mapSQLiteError("create task", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, mapSQLiteError("create task", err)
	}
	return id, nil
}

func (s *SQLiteStore) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM tasks WHERE id=?`, id)
	t, err := scanSQLite(row)
	if err != nil {
		return domain.Task{}, mapSQLiteError("get task", err)
	}
	return t, nil
}

func (s *SQLiteStore) GetDueTasks(ctx context.Context, now time.Time) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+sqliteColumns+`
FROM tasks
WHERE status='pending' AND delivered=0 AND due_time <= ?
ORDER BY due_time ASC, id ASC`, now.Unix())
	if err != nil {
		return nil, mapSQLiteError("get due tasks", err)
	}
	return collectSQLite(rows, "get due tasks")
}

func (s *SQLiteStore) MarkSent(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE tasks SET status='sent', delivered=1, updated_at=?
WHERE id=? AND status='pending' AND delivered=0`, s.now().Unix(), id)
	return affected(res, err, "mark sent")
}

func (s *SQLiteStore) UpdateTask(ctx context.Context, id int64, u domain.TaskUpdate) (bool, error) {
	u, err := checkUpdate(u)
	if err != nil {
		return false, err
	}
	var desc, due, status any
	if u.Description != nil {
		desc = *u.Description
	}
	if u.DueTime != nil {
		due = u.DueTime.Unix()
	}
	if u.Status != nil {
		status = string(*u.Status)
	}
	// A new due time re-arms the task regardless of the requested status.
	res, err := s.db.ExecContext(ctx, `
UPDATE tasks SET
  description = COALESCE(?1, description),
  due_time    = COALESCE(?2, due_time),
  status      = CASE WHEN ?2 IS NOT NULL THEN 'pending' ELSE COALESCE(?3, status) END,
  delivered   = CASE WHEN ?2 IS NOT NULL OR ?3 = 'pending' THEN 0 ELSE delivered END,
  updated_at  = ?4
WHERE id = ?5`, desc, due, status, s.now().Unix(), id)
	return affected(res, err, "update task")
}

func (s *SQLiteStore) DeleteTask(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	return affected(res, err, "delete task")
}

func (s *SQLiteStore) SnoozeTask(ctx context.Context, id int64, minutes int) (bool, error) {
	if err := checkSnooze(minutes); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE tasks SET due_time = due_time + ?, status='pending', delivered=0, updated_at=?
WHERE id=?`, int64(minutes)*60, s.now().Unix(), id)
	return affected(res, err, "snooze task")
}

func (s *SQLiteStore) ListTasks(ctx context.Context, f domain.ListFilter) ([]domain.Task, error) {
	var (
		where []string
		args  []any
	)
	if f.User != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.User)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	q := `SELECT ` + sqliteColumns + ` FROM tasks`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY id ASC LIMIT ?`
	args = append(args, listLimit(f))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapSQLiteError("list tasks", err)
	}
	return collectSQLite(rows, "list tasks")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row scanner) (domain.Task, error) {
	var (
		t                 domain.Task
		status            string
		due, created, upd int64
	)
	if err := row.Scan(&t.ID, &t.User, &t.Description, &due, &status, &t.Delivered, &created, &upd); err != nil {
		return domain.Task{}, err
	}
	t.Status = domain.Status(status)
	t.DueTime = time.Unix(due, 0)
	t.CreatedAt = time.Unix(created, 0)
	t.UpdatedAt = time.Unix(upd, 0)
	return t, nil
}

func collectSQLite(rows *sql.Rows, op string) ([]domain.Task, error) {
	defer rows.Close()
	var tasks []domain.Task
	for rows.Next() {
		t, err := scanSQLite(rows)
		if err != nil {
			return nil, mapSQLiteError(op, err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, mapSQLiteError(op, err)
	}
	return tasks, nil
}

func affected(res sql.Result, err error, op string) (bool, error) {
	if err != nil {
		return false, mapSQLiteError(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, mapSQLiteError(op, err)
	}
	return n > 0, nil
}

func mapSQLiteError(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, op)
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_NOTNULL, sqlite3.SQLITE_CONSTRAINT_CHECK:
			return fmt.Errorf("%w: %s: %v", domain.ErrValidation, op, err)
		}
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrStorage, op, err)
}
