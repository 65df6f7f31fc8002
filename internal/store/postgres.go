package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"remindflow/internal/domain"
)

// PostgreSQL error codes mapped to validation failures.
const (
	notNullViolationCode = "23502"
	checkViolationCode   = "23514"
)

type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// OpenPostgres connects to url and applies migrations.
func OpenPostgres(ctx context.Context, url string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	if err := Migrate(ctx, db, DialectPostgres); err != nil {
		pool.Close()
		return nil, err
	}
	return NewPostgresStore(pool), nil
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: time.Now}
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const pgColumns = `id,user_id,description,due_time,status,delivered,created_at,updated_at`

func (s *PostgresStore) CreateTask(ctx context.Context, t domain.NewTask) (int64, error) {
	t, err := normalizeNew(t)
	if err != nil {
		return 0, err
	}
	now := s.now().UTC()
	var id int64
	err = s.pool.QueryRow(ctx, `
INSERT INTO tasks (user_id,description,due_time,status,delivered,created_at,updated_at)
VALUES ($1,$2,$3,'pending',FALSE,$4,$4)
RETURNING id`, t.User, t.Description, t.DueTime.UTC(), now).Scan(&id)
	if err != nil {
		return 0, mapPgError("create task", err)
	}
	return id, nil
}

func (s *PostgresStore) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgColumns+` FROM tasks WHERE id=$1`, id)
	if err != nil {
		return domain.Task{}, mapPgError("get task", err)
	}
	t, err := pgx.CollectExactlyOneRow(rows, scanPg)
	if err != nil {
		return domain.Task{}, mapPgError("get task", err)
	}
	return t, nil
}

func (s *PostgresStore) GetDueTasks(ctx context.Context, now time.Time) ([]domain.Task, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+pgColumns+`
FROM tasks
WHERE status='pending' AND NOT delivered AND due_time <= $1
ORDER BY due_time ASC, id ASC`, now.UTC())
	if err != nil {
		return nil, mapPgError("get due tasks", err)
	}
	tasks, err := pgx.CollectRows(rows, scanPg)
	if err != nil {
		return nil, mapPgError("get due tasks", err)
	}
	return tasks, nil
}

func (s *PostgresStore) MarkSent(ctx context.Context, id int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE tasks SET status='sent', delivered=TRUE, updated_at=$2
WHERE id=$1 AND status='pending' AND NOT delivered`, id, s.now().UTC())
	return pgAffected(tag, err, "mark sent")
}

func (s *PostgresStore) UpdateTask(ctx context.Context, id int64, u domain.TaskUpdate) (bool, error) {
	u, err := checkUpdate(u)
	if err != nil {
		return false, err
	}
	var (
		due    *time.Time
		status *string
	)
	if u.DueTime != nil {
		d := u.DueTime.UTC()
		due = &d
	}
	if u.Status != nil {
		st := string(*u.Status)
		status = &st
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE tasks SET
  description = COALESCE($2::text, description),
  due_time    = COALESCE($3::timestamptz, due_time),
  status      = CASE WHEN $3::timestamptz IS NOT NULL THEN 'pending' ELSE COALESCE($4::text, status) END,
  delivered   = CASE WHEN $3::timestamptz IS NOT NULL OR $4::text = 'pending' THEN FALSE ELSE delivered END,
  updated_at  = $5
WHERE id = $1`, id, u.Description, due, status, s.now().UTC())
	return pgAffected(tag, err, "update task")
}

func (s *PostgresStore) DeleteTask(ctx context.Context, id int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE id=$1`, id)
	return pgAffected(tag, err, "delete task")
}

func (s *PostgresStore) SnoozeTask(ctx context.Context, id int64, minutes int) (bool, error) {
	if err := checkSnooze(minutes); err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE tasks SET due_time = due_time + make_interval(mins => $2::int), status='pending', delivered=FALSE, updated_at=$3
WHERE id=$1`, id, minutes, s.now().UTC())
	return pgAffected(tag, err, "snooze task")
}

func (s *PostgresStore) ListTasks(ctx context.Context, f domain.ListFilter) ([]domain.Task, error) {
	var (
		where []string
		args  []any
	)
	if f.User != "" {
		args = append(args, f.User)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	q := `SELECT ` + pgColumns + ` FROM tasks`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, listLimit(f))
	q += fmt.Sprintf(` ORDER BY id ASC LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, mapPgError("list tasks", err)
	}
	tasks, err := pgx.CollectRows(rows, scanPg)
	if err != nil {
		return nil, mapPgError("list tasks", err)
	}
	return tasks, nil
}

func scanPg(row pgx.CollectableRow) (domain.Task, error) {
	var (
		t      domain.Task
		status string
	)
	err := row.Scan(&t.ID, &t.User, &t.Description, &t.DueTime, &status, &t.Delivered, &t.CreatedAt, &t.UpdatedAt)
	t.Status = domain.Status(status)
	return t, err
}

func pgAffected(tag pgconn.CommandTag, err error, op string) (bool, error) {
	if err != nil {
		return false, mapPgError(op, err)
	}
	return tag.RowsAffected() > 0, nil
}

func mapPgError(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, op)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case notNullViolationCode, checkViolationCode:
			return fmt.Errorf("%w: %s: %s (%s)", domain.ErrValidation, op, pgErr.Message, pgErr.ConstraintName)
		}
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrStorage, op, err)
}
