package notify

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-booking/pkg/logging"
)

// Dispatcher delivers a push event to whatever live connections the
// recipient account has. Delivery is best effort.
type Dispatcher interface {
	Publish(ctx context.Context, recipientID uuid.UUID, event Event) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, recipientID uuid.UUID, event Event) error

func (f DispatcherFunc) Publish(ctx context.Context, recipientID uuid.UUID, event Event) error {
	return f(ctx, recipientID, event)
}

// Fanout publishes to every dispatcher and joins their errors.
type Fanout []Dispatcher

func (f Fanout) Publish(ctx context.Context, recipientID uuid.UUID, event Event) error {
	var errs []error
	for _, d := range f {
		if d == nil {
			continue
		}
		if err := d.Publish(ctx, recipientID, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DispatchRecorder observes delivery outcomes.
type DispatchRecorder interface {
	ObserveDispatch(status string)
}

// Pusher sends already committed notifications. Failures are logged and
// never returned.
type Pusher struct {
	dispatcher Dispatcher
	logger     *logging.Logger
	recorder   DispatchRecorder
}

func NewPusher(dispatcher Dispatcher, logger *logging.Logger) *Pusher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Pusher{dispatcher: dispatcher, logger: logger}
}

// WithRecorder attaches a metrics recorder.
func (p *Pusher) WithRecorder(r DispatchRecorder) *Pusher {
	p.recorder = r
	return p
}

// Push publishes each message and returns how many failed.
func (p *Pusher) Push(ctx context.Context, msgs []Message) int {
	if p == nil || p.dispatcher == nil {
		return 0
	}
	failed := 0
	for _, m := range msgs {
		if err := p.dispatcher.Publish(ctx, m.Notification.RecipientID, m.Event()); err != nil {
			failed++
			p.logger.Warn("notification push failed",
				"error", err,
				"recipient_id", m.Notification.RecipientID,
				"title", m.Notification.Title,
			)
			p.observe("failed")
			continue
		}
		p.observe("sent")
	}
	return failed
}

func (p *Pusher) observe(status string) {
	if p.recorder != nil {
		p.recorder.ObserveDispatch(status)
	}
}
