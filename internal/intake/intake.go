// Package intake turns an inbound message into a stored task and a reply that
// can be echoed verbatim into any messaging channel.
package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"remindflow/internal/domain"
	"remindflow/internal/extract"
)

const (
	MsgNoTime     = "🕒 I didn't detect a time. Try like: 'remind me at 5pm to study'"
	MsgNoTask     = "❌ I couldn't understand the task. Please be more specific."
	MsgStoreError = "❌ Database error: Could not save task. Please try again."
	MsgUnexpected = "❌ Unexpected error. Please try again later."

	// DueLayout renders due times as "November 04 at 03:00 PM".
	DueLayout = "January 02 at 03:04 PM"
)

// Creator persists new tasks.
type Creator interface {
	CreateTask(ctx context.Context, t domain.NewTask) (int64, error)
}

type Intake struct {
	extractor *extract.Extractor
	store     Creator
	log       zerolog.Logger
}

func New(ex *extract.Extractor, store Creator, log zerolog.Logger) *Intake {
	return &Intake{extractor: ex, store: store, log: log}
}

// Handle processes one message from user. It never returns an error: every
// failure is mapped to a reply and logged.
func (in *Intake) Handle(ctx context.Context, user, text string) (reply string) {
	defer func() {
		if r := recover(); r != nil {
			in.log.Error().Interface("panic", r).Str("user", user).Msg("intake aborted")
			reply = MsgUnexpected
		}
	}()

	if strings.TrimSpace(text) == "" {
		return MsgNoTask
	}
	res := in.extractor.Extract(text)
	if !res.HasTime() {
		return MsgNoTime
	}
	if strings.TrimSpace(res.Task) == "" {
		return MsgNoTask
	}

	id, err := in.store.CreateTask(ctx, domain.NewTask{User: user, Description: res.Task, DueTime: res.Time})
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrValidation):
		in.log.Warn().Err(err).Str("user", user).Msg("rejected task")
		return "❌ Invalid input: " + domain.Reason(err)
	case errors.Is(err, domain.ErrStorage):
		in.log.Error().Err(err).Str("user", user).Msg("could not save task")
		return MsgStoreError
	default:
		in.log.Error().Err(err).Str("user", user).Msg("unexpected intake failure")
		return MsgUnexpected
	}

	in.log.Info().Int64("task_id", id).Str("user", user).Time("due", res.Time).Msg("task saved")
	return fmt.Sprintf("✅ Saved task #%d: '%s' for %s", id, res.Task, res.Time.Format(DueLayout))
}
