// Package notify tells the event planner about new leads.
//
// The production notifier is [EmailJS], which sends a templated e-mail through
// the EmailJS REST API. [Noop] stands in when no e-mail service is configured.
package notify

import (
	"context"

	"github.com/MrWong99/concierge/pkg/types"
)

// Notifier delivers a lead to the planner. Implementations must be safe for
// concurrent use.
type Notifier interface {
	// Notify sends lead. It returns an error when delivery failed and the
	// planner has not been told.
	Notify(ctx context.Context, lead *types.Lead) error

	// Name identifies the notifier in logs and metrics.
	Name() string
}

// Noop is a [Notifier] that accepts every lead without sending anything.
type Noop struct{}

var _ Notifier = Noop{}

// Notify implements [Notifier]. It only fails when ctx is already done.
func (Noop) Notify(ctx context.Context, _ *types.Lead) error { return ctx.Err() }

// Name implements [Notifier].
func (Noop) Name() string { return "noop" }
