package internal

import (
	"context"
	"fmt"
)

// Logical keys within one ceremony's key space.
const (
	keyMeta        = "meta"
	keyConfig      = "config"
	keyEngineState = "engine_state"
)

func participantKey(userID string) string {
	return "participant:" + userID
}

func workingSetKey(round int) string {
	return fmt.Sprintf("round%d_working_set", round)
}

// Store is a durable per-ceremony key-value space. All writes in one
// PutAtomic call become visible together or not at all; a failure must
// leave prior state intact. Atomicity is scoped to a single operation id,
// there are no cross-ceremony transactions.
type Store interface {
	// Get returns the stored values for the requested keys. Missing keys
	// are absent from the result map rather than an error.
	Get(ctx context.Context, operationID string, keys []string) (map[string][]byte, error)

	// PutAtomic applies every entry in one transaction.
	PutAtomic(ctx context.Context, operationID string, entries map[string][]byte) error
}

// Lister is implemented by stores that can enumerate ceremonies, which the
// expiry janitor needs. It is deliberately separate from Store: the state
// machine itself never lists.
type Lister interface {
	ListOperations(ctx context.Context) ([]string, error)
}
