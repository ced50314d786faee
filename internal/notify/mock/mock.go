// Package mock provides a test double for [notify.Notifier].
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/concierge/internal/notify"
	"github.com/MrWong99/concierge/pkg/types"
)

var _ notify.Notifier = (*Notifier)(nil)

// Notifier records every lead it is asked to deliver and returns Err.
type Notifier struct {
	mu sync.Mutex

	// Err is returned from Notify.
	Err error

	// NotifierName is returned from Name. Defaults to "mock".
	NotifierName string

	leads []types.Lead
}

// Notify implements [notify.Notifier].
func (n *Notifier) Notify(_ context.Context, lead *types.Lead) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.leads = append(n.leads, *lead)
	return n.Err
}

// Name implements [notify.Notifier].
func (n *Notifier) Name() string {
	if n.NotifierName == "" {
		return "mock"
	}
	return n.NotifierName
}

// Leads returns a copy of the recorded leads.
func (n *Notifier) Leads() []types.Lead {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]types.Lead, len(n.leads))
	copy(out, n.leads)
	return out
}
