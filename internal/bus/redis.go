package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"collabtext/internal/collab"
)

const publishTimeout = 200 * time.Millisecond

// RedisBus relays records through Redis pub/sub so that every server
// instance sees the records accepted by the others.
type RedisBus struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewRedisBus wraps a connected client.
func NewRedisBus(rdb *redis.Client, logger *slog.Logger) *RedisBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBus{rdb: rdb, logger: logger}
}

// Channel returns the pub/sub channel of a document.
func Channel(docID string) string {
	return fmt.Sprintf("document:%s", docID)
}

func (b *RedisBus) Publish(ctx context.Context, docID string, rec collab.ServerRecord) error {
	message, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %d: %w", rec.Revision, err)
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := b.rdb.Publish(ctx, Channel(docID), message).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", docID, err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, docID string, fn Handler) (*Subscription, error) {
	pubsub := b.rdb.Subscribe(ctx, Channel(docID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", docID, err)
	}

	sub := newSubscription(func() { pubsub.Close() })
	go func() {
		defer sub.finish()
		for msg := range pubsub.Channel() {
			rec, err := decodeRecord(msg.Payload)
			if err != nil {
				b.logger.Warn("ignoring malformed record", "doc", docID, "error", err)
				continue
			}
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

func (b *RedisBus) Close() error {
	return b.rdb.Close()
}

func decodeRecord(payload string) (collab.ServerRecord, error) {
	var rec collab.ServerRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return collab.ServerRecord{}, err
	}
	return rec, nil
}
