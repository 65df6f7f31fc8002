// Package store persists reminder tasks. Every mutation is a single statement
// against the backend so concurrent writers never observe a half-applied change.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"remindflow/internal/domain"
)

// Store is the task table consumed by intake, the poller and the management API.
// Methods that report a bool return false when no task matched the id.
type Store interface {
	CreateTask(ctx context.Context, t domain.NewTask) (int64, error)
	GetTask(ctx context.Context, id int64) (domain.Task, error)
	// GetDueTasks returns pending, undelivered tasks due at or before now,
	// earliest first.
	GetDueTasks(ctx context.Context, now time.Time) ([]domain.Task, error)
	// MarkSent moves a pending undelivered task to sent+delivered. It is the
	// commit point of a delivery.
	MarkSent(ctx context.Context, id int64) (bool, error)
	UpdateTask(ctx context.Context, id int64, u domain.TaskUpdate) (bool, error)
	DeleteTask(ctx context.Context, id int64) (bool, error)
	// SnoozeTask pushes due_time forward by minutes and re-arms the task.
	SnoozeTask(ctx context.Context, id int64, minutes int) (bool, error)
	ListTasks(ctx context.Context, f domain.ListFilter) ([]domain.Task, error)
	Close() error
}

func normalizeNew(t domain.NewTask) (domain.NewTask, error) {
	t.User = strings.TrimSpace(t.User)
	t.Description = strings.TrimSpace(t.Description)
	return t, domain.Validate(t)
}

func checkUpdate(u domain.TaskUpdate) (domain.TaskUpdate, error) {
	if u.Empty() {
		return u, fmt.Errorf("%w: no fields to update", domain.ErrValidation)
	}
	if u.Description != nil {
		d := strings.TrimSpace(*u.Description)
		u.Description = &d
		if err := domain.Validate(struct {
			Description string `validate:"required"`
		}{d}); err != nil {
			return u, err
		}
	}
	if u.DueTime != nil && u.DueTime.IsZero() {
		return u, fmt.Errorf("%w: due_time is required", domain.ErrValidation)
	}
	if u.Status != nil {
		if err := domain.Validate(struct {
			Status string `validate:"oneof=pending sent cancelled done"`
		}{string(*u.Status)}); err != nil {
			return u, err
		}
	}
	return u, nil
}

func checkSnooze(minutes int) error {
	return domain.Validate(struct {
		Minutes int `validate:"gt=0"`
	}{minutes})
}

func listLimit(f domain.ListFilter) int {
	if f.Limit <= 0 {
		return domain.DefaultListLimit
	}
	return f.Limit
}
