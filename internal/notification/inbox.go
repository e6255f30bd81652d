package notification

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pytake/backend/internal/apperr"
)

const (
	defaultMaxRecipients = 10000
	defaultPerRecipient  = 200
)

// Inbox keeps the most recent notifications per recipient. Recipients that
// go quiet are evicted least-recently-used first.
type Inbox struct {
	mu           sync.Mutex
	byRecipient  *lru.Cache[string, []Notification]
	perRecipient int
}

// NewInbox returns an inbox bounded to maxRecipients, each holding up to perRecipient items
func NewInbox(maxRecipients, perRecipient int) (*Inbox, error) {
	if maxRecipients <= 0 {
		maxRecipients = defaultMaxRecipients
	}
	if perRecipient <= 0 {
		perRecipient = defaultPerRecipient
	}
	cache, err := lru.New[string, []Notification](maxRecipients)
	if err != nil {
		return nil, err
	}
	return &Inbox{byRecipient: cache, perRecipient: perRecipient}, nil
}

// Add stores n, dropping the recipient's oldest entry when full
func (i *Inbox) Add(n Notification) {
	i.mu.Lock()
	defer i.mu.Unlock()

	list, _ := i.byRecipient.Get(n.Recipient)
	list = append(list, n)
	if len(list) > i.perRecipient {
		list = append([]Notification(nil), list[len(list)-i.perRecipient:]...)
	}
	i.byRecipient.Add(n.Recipient, list)
}

// List returns the recipient's notifications, newest first
func (i *Inbox) List(recipient string, unreadOnly bool) []Notification {
	i.mu.Lock()
	defer i.mu.Unlock()

	list, _ := i.byRecipient.Peek(recipient)
	out := make([]Notification, 0, len(list))
	for j := len(list) - 1; j >= 0; j-- {
		if unreadOnly && list[j].Read {
			continue
		}
		out = append(out, list[j])
	}
	return out
}

// MarkRead flags one notification as read
func (i *Inbox) MarkRead(recipient, id string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	list, _ := i.byRecipient.Peek(recipient)
	for j := range list {
		if list[j].ID == id {
			list[j].Read = true
			return nil
		}
	}
	return apperr.NotFound("notification %s not found", id)
}

// Unread counts unread notifications for recipient
func (i *Inbox) Unread(recipient string) int {
	i.mu.Lock()
	defer i.mu.Unlock()

	list, _ := i.byRecipient.Peek(recipient)
	n := 0
	for _, item := range list {
		if !item.Read {
			n++
		}
	}
	return n
}
