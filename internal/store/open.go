package store

import (
	"context"
	"fmt"
)

// Open returns the store of the given kind: "memory", "bolt" (at boltPath)
// or "postgres" (at databaseURL).
func Open(ctx context.Context, kind, boltPath, databaseURL string) (Store, error) {
	switch kind {
	case "memory":
		return NewMemoryStore(), nil
	case "bolt":
		return OpenBolt(boltPath)
	case "postgres":
		return OpenPostgres(ctx, databaseURL)
	}
	return nil, fmt.Errorf("unknown store kind %q", kind)
}
