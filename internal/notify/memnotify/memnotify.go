// Package memnotify provides an in-memory incident.Notifier for development
// and tests. It keeps the latest content of every posted message.
package memnotify

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/linnemanlabs/downtime/internal/incident"
)

// ErrUnknownMessage is returned for edits and deletes of messages that were
// never posted or were already deleted.
var ErrUnknownMessage = errors.New("memnotify: unknown message")

// Edit is one recorded EditMessage call.
type Edit struct {
	MessageID string
	Message   incident.Message
}

// Notifier records messages in memory.
type Notifier struct {
	baseURL string

	mu       sync.Mutex
	seq      int
	posts    int
	messages map[string]incident.Message
	threads  map[string]string
	edits    []Edit
	deleted  []string
}

// New creates a Notifier whose message links start with baseURL.
func New(baseURL string) *Notifier {
	if baseURL == "" {
		baseURL = "memory://downtime"
	}
	return &Notifier{
		baseURL:  strings.TrimRight(baseURL, "/"),
		messages: make(map[string]incident.Message),
		threads:  make(map[string]string),
	}
}

// PostIncident stores msg under a new message id.
func (n *Notifier) PostIncident(_ context.Context, msg incident.Message) (incident.Reference, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.seq++
	n.posts++
	id := fmt.Sprintf("msg-%d", n.seq)
	n.messages[id] = msg
	return incident.Reference{
		MessageID: id,
		Link:      n.baseURL + "/messages/" + id,
	}, nil
}

// EditMessage replaces the content of an existing message.
func (n *Notifier) EditMessage(_ context.Context, ref incident.Reference, msg incident.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.messages[ref.MessageID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMessage, ref.MessageID)
	}
	n.messages[ref.MessageID] = msg
	n.edits = append(n.edits, Edit{MessageID: ref.MessageID, Message: msg})
	return nil
}

// DeleteMessage removes a message.
func (n *Notifier) DeleteMessage(_ context.Context, ref incident.Reference) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.messages[ref.MessageID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMessage, ref.MessageID)
	}
	delete(n.messages, ref.MessageID)
	n.deleted = append(n.deleted, ref.MessageID)
	return nil
}

// OpenThread records a discussion thread on a message.
func (n *Notifier) OpenThread(_ context.Context, ref incident.Reference, title string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.messages[ref.MessageID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMessage, ref.MessageID)
	}
	n.threads[ref.MessageID] = title
	return nil
}

// Message returns the current content of a live message.
func (n *Notifier) Message(id string) (incident.Message, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	msg, ok := n.messages[id]
	return msg, ok
}

// Live is the number of posted messages that have not been deleted.
func (n *Notifier) Live() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

// Posts is the number of PostIncident calls.
func (n *Notifier) Posts() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.posts
}

// Edits returns the recorded edits in call order.
func (n *Notifier) Edits() []Edit {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Edit, len(n.edits))
	copy(out, n.edits)
	return out
}

// Deleted returns the ids of deleted messages in call order.
func (n *Notifier) Deleted() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.deleted))
	copy(out, n.deleted)
	return out
}

// Threads returns thread titles keyed by message id.
func (n *Notifier) Threads() map[string]string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return maps.Clone(n.threads)
}
