// Package leadstore persists accepted inquiries ("leads") so that none are
// lost when the notification e-mail fails.
package leadstore

import (
	"context"
	"errors"

	"github.com/MrWong99/concierge/pkg/types"
)

// ErrNotFound is returned by [Store.Get] when no lead has the requested ID.
var ErrNotFound = errors.New("leadstore: lead not found")

// ErrDuplicate is returned by [Store.Save] when a lead with the same ID was
// already stored.
var ErrDuplicate = errors.New("leadstore: lead already exists")

// Store persists leads. Implementations must be safe for concurrent use.
type Store interface {
	// Save inserts a new lead. The lead's ID and ReceivedAt must be set.
	Save(ctx context.Context, lead *types.Lead) error

	// Get returns the lead with the given ID or [ErrNotFound].
	Get(ctx context.Context, id string) (*types.Lead, error)

	// List returns up to limit leads, newest first. A limit <= 0 returns all.
	List(ctx context.Context, limit int) ([]types.Lead, error)
}
