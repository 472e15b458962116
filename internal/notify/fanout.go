package notify

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/Iron-Ham/ralphloop/internal/errors"
	"github.com/Iron-Ham/ralphloop/internal/logging"
	"github.com/Iron-Ham/ralphloop/internal/loop"
	"github.com/Iron-Ham/ralphloop/internal/state"
)

// Metrics receives fan-out measurements. *metrics.Recorder satisfies it.
type Metrics interface {
	TransitionRecorded(status string)
	WebhookDelivered(ok bool)
}

// Options configure a Fanout.
type Options struct {
	Store    *state.Store
	Webhooks []string
	// Events are the statuses that trigger webhooks.
	Events  []string
	Sender  Sender
	Metrics Metrics
	Logger  *logging.Logger
	Now     func() time.Time
}

// Fanout persists loop transitions and notifies subscribers.
type Fanout struct {
	store    *state.Store
	webhooks []string
	events   []string
	sender   Sender
	metrics  Metrics
	logger   *logging.Logger
	now      func() time.Time
}

// New creates a Fanout.
func New(opts Options) *Fanout {
	f := &Fanout{
		store:    opts.Store,
		webhooks: opts.Webhooks,
		events:   opts.Events,
		sender:   opts.Sender,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if f.sender == nil {
		f.sender = NewWebhookClient()
	}
	if f.logger == nil {
		f.logger = logging.NopLogger()
	}
	if f.now == nil {
		f.now = time.Now
	}
	return f
}

// Handler returns the loop callback. Store writes ignore cancellation of
// ctx so a stopped run can still record itself.
//
// A running transition only updates progress while the stored status is
// still running; if another process stopped the session the handler
// returns loop.ErrStopRequested. A terminal transition the store refuses,
// such as complete after an external stop, is reported the same way.
func (f *Fanout) Handler(ctx context.Context) loop.OnTransition {
	ctx = context.WithoutCancel(ctx)
	return func(tr loop.Transition) error {
		if err := f.record(ctx, tr); err != nil {
			return err
		}
		if f.metrics != nil {
			f.metrics.TransitionRecorded(string(tr.Status))
		}
		f.dispatch(ctx, tr)
		return nil
	}
}

func (f *Fanout) record(ctx context.Context, tr loop.Transition) error {
	logger := f.logger.WithSession(tr.Session).WithIteration(tr.Iteration)

	if tr.Status == state.StatusRunning {
		_, err := f.store.Update(ctx, tr.Session, func(rec *state.Record) error {
			if rec.Status != state.StatusRunning {
				return fmt.Errorf("session is %s: %w", rec.Status, loop.ErrStopRequested)
			}
			rec.Iteration = tr.Iteration
			rec.LastTaskCount = tr.RemainingTasks
			return nil
		})
		if err != nil && !errors.Is(err, loop.ErrStopRequested) {
			logger.Error("failed to record progress", "error", err.Error())
		}
		return err
	}

	msg := ""
	if tr.Err != nil {
		msg = tr.Err.Error()
	}
	fields := state.Fields{}.
		WithIteration(tr.Iteration).
		WithLastTaskCount(tr.RemainingTasks).
		WithError(msg)
	_, err := f.store.Transition(ctx, tr.Session, tr.Status, fields)
	if errors.Is(err, errors.ErrInvalidTransition) {
		logger.Warn("transition refused by store", "status", string(tr.Status), "error", err.Error())
		return fmt.Errorf("%w: %v", loop.ErrStopRequested, err)
	}
	if err != nil {
		logger.Error("failed to record transition", "status", string(tr.Status), "error", err.Error())
	}
	return err
}

// dispatch posts tr to every webhook when its status is subscribed.
// Delivery failures are logged and counted, never returned.
func (f *Fanout) dispatch(ctx context.Context, tr loop.Transition) {
	if len(f.webhooks) == 0 || !slices.Contains(f.events, string(tr.Status)) {
		return
	}

	ev := Event{
		Event:          string(tr.Status),
		Session:        tr.Session,
		Iteration:      tr.Iteration,
		RemainingTasks: tr.RemainingTasks,
		Timestamp:      f.now().UTC(),
	}
	if tr.Err != nil {
		ev.Error = tr.Err.Error()
	}

	for _, url := range f.webhooks {
		err := f.sender.Send(ctx, url, ev)
		if f.metrics != nil {
			f.metrics.WebhookDelivered(err == nil)
		}
		if err != nil {
			f.logger.WithSession(tr.Session).Warn("webhook delivery failed", "url", url, "error", err.Error())
		}
	}
}
