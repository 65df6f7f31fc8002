// Package scheduler runs the reminder poll cycle on a fixed interval.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"remindflow/internal/domain"
)

const DefaultInterval = 30 * time.Second

// Store is the slice of the task store the poller needs.
type Store interface {
	GetDueTasks(ctx context.Context, now time.Time) ([]domain.Task, error)
	MarkSent(ctx context.Context, id int64) (bool, error)
}

// Notifier delivers a reminder. It reports failure as false and never panics
// on transport errors.
type Notifier interface {
	Send(ctx context.Context, user, text string) bool
}

// Report summarises one poll cycle.
type Report struct {
	Due       int `json:"due"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

type Poller struct {
	store    Store
	notifier Notifier
	interval time.Duration
	now      func() time.Time
	log      zerolog.Logger

	// cycle holds a token while a poll cycle runs, scheduled or manual.
	cycle chan struct{}

	mu      sync.Mutex
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

type Option func(*Poller)

func WithInterval(d time.Duration) Option { return func(p *Poller) { p.interval = d } }

func WithClock(now func() time.Time) Option { return func(p *Poller) { p.now = now } }

func WithLogger(l zerolog.Logger) Option { return func(p *Poller) { p.log = l } }

func NewPoller(store Store, notifier Notifier, opts ...Option) *Poller {
	p := &Poller{
		store:    store,
		notifier: notifier,
		interval: DefaultInterval,
		now:      time.Now,
		log:      zerolog.Nop(),
		cycle:    make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// ReminderText is the message delivered for a due task.
func ReminderText(t domain.Task) string {
	return fmt.Sprintf("⏰ Reminder: %s (Task #%d)", t.Description, t.ID)
}

// Start schedules the poll cycle. Starting a running poller is a no-op and
// returns false.
func (p *Poller) Start() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		p.log.Warn().Msg("reminder poller already running")
		return false
	}

	logger := cronLogger{p.log}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	p.ctx, p.cancel = context.WithCancel(context.Background())
	ctx := p.ctx
	c.Schedule(cron.Every(p.interval), cron.FuncJob(func() { p.RunOnce(ctx) }))
	c.Start()

	p.cron = c
	p.running = true
	p.log.Info().Dur("interval", p.interval).Msg("reminder poller started")
	return true
}

// Stop waits for an in-flight cycle to finish, or for ctx to expire, and then
// deactivates the poller. Stopping a stopped poller is a no-op.
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return nil
	}
	done := p.cron.Stop()
	var err error
	select {
	case <-done.Done():
		err = p.idle(ctx)
	case <-ctx.Done():
		err = ctx.Err()
	}
	p.cancel()
	p.cron, p.ctx, p.cancel = nil, nil, nil
	p.running = false
	p.log.Info().Msg("reminder poller stopped")
	return err
}

// idle waits until no cycle is running, including manually triggered ones.
func (p *Poller) idle(ctx context.Context) error {
	select {
	case p.cycle <- struct{}{}:
		<-p.cycle
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// RunOnce executes a single poll cycle: deliver every due task in due order and
// commit each success with MarkSent. Failures stay pending for the next cycle.
// Cycles never overlap: a call waits for the running one to finish, or returns
// an empty report if ctx ends first.
func (p *Poller) RunOnce(ctx context.Context) (rep Report) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Msg("reminder cycle aborted")
		}
	}()

	select {
	case p.cycle <- struct{}{}:
		defer func() { <-p.cycle }()
	case <-ctx.Done():
		p.log.Warn().Err(ctx.Err()).Msg("reminder cycle skipped")
		return rep
	}

	p.log.Debug().Msg("running reminder check")
	tasks, err := p.store.GetDueTasks(ctx, p.now())
	if err != nil {
		p.log.Error().Err(err).Msg("failed to get due tasks")
		return rep
	}
	if len(tasks) == 0 {
		p.log.Debug().Msg("no due tasks found")
		return rep
	}
	rep.Due = len(tasks)
	p.log.Info().Int("due", len(tasks)).Msg("found due tasks")

	for _, t := range tasks {
		if ctx.Err() != nil {
			break
		}
		if p.deliver(ctx, t) {
			rep.Delivered++
		} else {
			rep.Failed++
		}
	}
	return rep
}

func (p *Poller) deliver(ctx context.Context, t domain.Task) bool {
	l := p.log.With().Int64("task_id", t.ID).Str("user", t.User).Time("due", t.DueTime).Logger()

	if !p.notifier.Send(ctx, t.User, ReminderText(t)) {
		l.Error().Msg("failed to send reminder")
		return false
	}
	ok, err := p.store.MarkSent(ctx, t.ID)
	switch {
	case err != nil:
		// Delivered but not committed: the task will be sent again next cycle.
		l.Error().Err(err).Msg("reminder sent but mark sent failed")
	case !ok:
		l.Warn().Msg("reminder sent but task changed before mark sent")
	default:
		l.Info().Msg("reminder sent and marked")
	}
	return true
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct{ l zerolog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
