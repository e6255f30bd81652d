package notification

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pytake/backend/internal/queue"
	"github.com/rs/zerolog"
)

// Deliverer pushes a notification over one channel
type Deliverer interface {
	Deliver(ctx context.Context, n Notification) error
}

// DelivererFunc adapts a function to Deliverer
type DelivererFunc func(ctx context.Context, n Notification) error

func (f DelivererFunc) Deliver(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// Service records notifications in the inbox and delivers them on their
// channels. With a queue attached, channel delivery runs as retrying jobs.
type Service struct {
	inbox      *Inbox
	mu         sync.RWMutex
	channels   map[Channel]Deliverer
	defaults   []Channel
	queue      *queue.Queue
	maxRetries int
	logger     zerolog.Logger
	now        func() time.Time
}

func NewService(inbox *Inbox, logger zerolog.Logger) *Service {
	return &Service{
		inbox:    inbox,
		channels: make(map[Channel]Deliverer),
		defaults: []Channel{ChannelInApp, ChannelWebsocket},
		logger:   logger.With().Str("component", "notifications").Logger(),
		now:      time.Now,
	}
}

// Register installs d as the deliverer for ch
func (s *Service) Register(ch Channel, d Deliverer) {
	s.mu.Lock()
	s.channels[ch] = d
	s.mu.Unlock()
}

// RegisterDefault installs d for ch and adds ch to the channels used when a
// notification names none
func (s *Service) RegisterDefault(ch Channel, d Deliverer) {
	s.mu.Lock()
	s.channels[ch] = d
	if !slices.Contains(s.defaults, ch) {
		s.defaults = append(s.defaults, ch)
	}
	s.mu.Unlock()
}

// UseQueue routes channel delivery through q with up to maxRetries retries
func (s *Service) UseQueue(q *queue.Queue, maxRetries int) {
	s.queue = q
	s.maxRetries = maxRetries
}

// Notify stores n and delivers it. The inbox write always happens; the
// returned error only reports channel failures.
func (s *Service) Notify(ctx context.Context, n Notification) (Notification, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC()
	}
	if n.Priority == "" {
		n.Priority = PriorityNormal
	}
	if len(n.Channels) == 0 {
		s.mu.RLock()
		n.Channels = slices.Clone(s.defaults)
		s.mu.RUnlock()
	}

	s.inbox.Add(n)

	var errs []error
	for _, ch := range n.Channels {
		if ch == ChannelInApp {
			continue
		}
		s.mu.RLock()
		d, ok := s.channels[ch]
		s.mu.RUnlock()
		if !ok {
			continue
		}

		if s.queue != nil {
			_, err := s.queue.TryEnqueue(queue.Job{
				ID:         "notify-" + string(ch) + "-" + n.ID,
				Kind:       "deliver_notification",
				MaxRetries: s.maxRetries,
				Run: func(ctx context.Context) error {
					return d.Deliver(ctx, n)
				},
			})
			if err != nil {
				errs = append(errs, fmt.Errorf("failed to enqueue %s delivery: %w", ch, err))
			}
			continue
		}
		if err := d.Deliver(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("failed to deliver over %s: %w", ch, err))
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		s.logger.Warn().Err(err).
			Str("notification_id", n.ID).
			Str("recipient", n.Recipient).
			Msg("notification delivery failed")
	}
	return n, err
}

// List returns the recipient's notifications, newest first
func (s *Service) List(recipient string, unreadOnly bool) []Notification {
	return s.inbox.List(recipient, unreadOnly)
}

// MarkRead marks a notification read
func (s *Service) MarkRead(recipient, id string) error {
	return s.inbox.MarkRead(recipient, id)
}

// Unread counts the recipient's unread notifications
func (s *Service) Unread(recipient string) int {
	return s.inbox.Unread(recipient)
}
