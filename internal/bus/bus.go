// Package bus fans accepted records out to every session editing the same
// document.
package bus

import (
	"context"
	"sync"

	"collabtext/internal/collab"
)

// Handler receives records published for a document.
type Handler func(collab.ServerRecord)

// Bus delivers records to subscribers of a document.
type Bus interface {
	// Publish sends rec to every subscriber of docID.
	Publish(ctx context.Context, docID string, rec collab.ServerRecord) error

	// Subscribe calls fn for each record published to docID until the
	// subscription is cancelled, ctx is done, or the bus drops it.
	Subscribe(ctx context.Context, docID string, fn Handler) (*Subscription, error)

	Close() error
}

// Subscription is one live subscription.
type Subscription struct {
	done     chan struct{}
	doneOnce sync.Once
	stop     func()
	stopOnce sync.Once
}

func newSubscription(stop func()) *Subscription {
	return &Subscription{done: make(chan struct{}), stop: stop}
}

// Done is closed once no further records will be delivered, whether the
// subscriber left or the bus dropped it.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Unsubscribe stops delivery. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.stopOnce.Do(s.stop)
}

func (s *Subscription) finish() {
	s.doneOnce.Do(func() { close(s.done) })
}
