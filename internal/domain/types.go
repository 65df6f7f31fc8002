package domain

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusCancelled Status = "cancelled"
	StatusDone      Status = "done"
)

// Valid reports whether s is one of the known task statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSent, StatusCancelled, StatusDone:
		return true
	}
	return false
}

type Task struct {
	ID          int64     `json:"id"`
	User        string    `json:"user"`
	Description string    `json:"description"`
	DueTime     time.Time `json:"due_time"`
	Status      Status    `json:"status"`
	Delivered   bool      `json:"delivered"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Eligible reports whether the task should be delivered at now.
func (t Task) Eligible(now time.Time) bool {
	return t.Status == StatusPending && !t.Delivered && !t.DueTime.After(now)
}

// NewTask is the input of a task creation.
type NewTask struct {
	User        string    `validate:"required"`
	Description string    `validate:"required"`
	DueTime     time.Time `validate:"required"`
}

// TaskUpdate carries the fields a management update may change. Nil fields are
// left untouched. Setting DueTime or Status=pending re-arms the task.
type TaskUpdate struct {
	Description *string
	DueTime     *time.Time
	Status      *Status
}

func (u TaskUpdate) Empty() bool {
	return u.Description == nil && u.DueTime == nil && u.Status == nil
}

type ListFilter struct {
	User   string
	Status Status
	Limit  int
}

const DefaultListLimit = 100
