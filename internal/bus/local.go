package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"collabtext/internal/collab"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("bus closed")

const subscriberBuffer = 256

type subscriber struct {
	docID string
	send  chan collab.ServerRecord
}

type event struct {
	docID  string
	record collab.ServerRecord
}

// LocalBus is an in-process Bus. A single goroutine owns the subscriber
// set; subscribers that fall behind are dropped.
type LocalBus struct {
	subscribers map[*subscriber]bool
	register    chan *subscriber
	unregister  chan *subscriber
	broadcast   chan event
	done        chan struct{}
	closeOnce   sync.Once
	logger      *slog.Logger
}

// NewLocalBus starts a LocalBus.
func NewLocalBus(logger *slog.Logger) *LocalBus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &LocalBus{
		subscribers: make(map[*subscriber]bool),
		register:    make(chan *subscriber),
		unregister:  make(chan *subscriber),
		broadcast:   make(chan event),
		done:        make(chan struct{}),
		logger:      logger,
	}
	go b.run()
	return b
}

func (b *LocalBus) run() {
	for {
		select {
		case s := <-b.register:
			b.subscribers[s] = true
			b.logger.Debug("subscriber registered", "doc", s.docID, "total", len(b.subscribers))
		case s := <-b.unregister:
			if _, ok := b.subscribers[s]; ok {
				delete(b.subscribers, s)
				close(s.send)
				b.logger.Debug("subscriber unregistered", "doc", s.docID, "total", len(b.subscribers))
			}
		case ev := <-b.broadcast:
			for s := range b.subscribers {
				if s.docID != ev.docID {
					continue
				}
				select {
				case s.send <- ev.record:
				default:
					close(s.send)
					delete(b.subscribers, s)
					b.logger.Warn("dropping slow subscriber", "doc", s.docID)
				}
			}
		case <-b.done:
			for s := range b.subscribers {
				close(s.send)
			}
			b.subscribers = nil
			return
		}
	}
}

func (b *LocalBus) Publish(ctx context.Context, docID string, rec collab.ServerRecord) error {
	if b.closed() {
		return ErrClosed
	}
	select {
	case b.broadcast <- event{docID: docID, record: rec}:
		return nil
	case <-b.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *LocalBus) Subscribe(ctx context.Context, docID string, fn Handler) (*Subscription, error) {
	if b.closed() {
		return nil, ErrClosed
	}
	s := &subscriber{docID: docID, send: make(chan collab.ServerRecord, subscriberBuffer)}
	select {
	case b.register <- s:
	case <-b.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	sub := newSubscription(func() {
		select {
		case b.unregister <- s:
		case <-b.done:
		}
	})
	// The run loop closes s.send on unsubscribe, on Close and when it drops
	// a slow subscriber.
	go func() {
		defer sub.finish()
		for rec := range s.send {
			fn(rec)
		}
	}()
	go func() {
		select {
		case <-ctx.Done():
			sub.Unsubscribe()
		case <-sub.Done():
		}
	}()
	return sub, nil
}

func (b *LocalBus) Close() error {
	b.closeOnce.Do(func() { close(b.done) })
	return nil
}

func (b *LocalBus) closed() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}
