// Package creds persists the gateway session so the daemon can reconnect
// without pairing again. The blob is opaque to everything here; AUTH and
// CONFLICT errors cause it to be purged by the gateway service.
package creds

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no session is stored.
var ErrNotFound = errors.New("creds: no stored session")

// Store loads, saves and clears the persisted session blob.
type Store interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, session []byte) error
	Clear(ctx context.Context) error
}
