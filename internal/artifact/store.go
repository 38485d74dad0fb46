// Package artifact keeps exported cards addressable for a short time, the
// server side counterpart of a temporary object URL.
package artifact

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/menta2k/membercard/pkg/types"
)

var (
	ErrNotFound = errors.New("artifact: not found or expired")
	ErrEmpty    = errors.New("artifact: no data")
)

// DefaultTTL is how long an artifact stays retrievable when not revoked.
const DefaultTTL = 10 * time.Minute

// Store holds artifacts by opaque id.
type Store interface {
	Put(ctx context.Context, art *types.Artifact, ttl time.Duration) (string, error)
	Get(ctx context.Context, id string) (*types.Artifact, error)
	Revoke(ctx context.Context, id string) error
}

func newID() string { return uuid.NewString() }

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
