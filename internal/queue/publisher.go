package queue

import (
	"context"
	"time"

	"github.com/pytake/backend/internal/apperr"
	"github.com/pytake/backend/internal/events"
)

// Publisher hands each event to the queue so a slow or failing broker is
// retried in the background instead of blocking the caller. Events that find
// the queue full are dropped with ErrQueueFull.
type Publisher struct {
	queue      *Queue
	next       events.Publisher
	maxRetries int
	timeout    time.Duration
}

func NewPublisher(q *Queue, next events.Publisher, maxRetries int, attemptTimeout time.Duration) *Publisher {
	return &Publisher{
		queue:      q,
		next:       next,
		maxRetries: maxRetries,
		timeout:    attemptTimeout,
	}
}

func (p *Publisher) Publish(_ context.Context, key string, msg events.Envelope) error {
	_, err := p.queue.TryEnqueue(Job{
		ID:             "publish-" + msg.Meta.ID,
		Kind:           "publish_event",
		MaxRetries:     p.maxRetries,
		AttemptTimeout: p.timeout,
		Run: func(ctx context.Context) error {
			return apperr.FromContext("publish "+msg.Meta.Type, p.next.Publish(ctx, key, msg))
		},
	})
	return err
}

func (p *Publisher) Close() error {
	return p.next.Close()
}
