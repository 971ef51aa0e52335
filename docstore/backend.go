package docstore

import (
	"context"
	"errors"
)

// ErrAbsent is returned by Backend.Load when no record exists for a key.
// The Store turns it into read-or-init; it never reaches callers.
var ErrAbsent = errors.New("docstore: record absent")

// Backend is the physical persistence for documents.
//
// Implementations must make Save atomic: after it returns, a Load observes
// either the previous record or the new one in full, also across crashes.
// Backends are not required to be safe for concurrent use on the same key;
// the Store serializes access per key.
type Backend interface {
	// Load returns the raw record or ErrAbsent.
	Load(ctx context.Context, key string) ([]byte, error)

	// Save replaces the record for key.
	Save(ctx context.Context, key string, data []byte) error

	// Quarantine moves the current record aside without discarding it and
	// returns where it went. After Quarantine, Load returns ErrAbsent.
	Quarantine(ctx context.Context, key string) (string, error)
}
