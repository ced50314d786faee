// Package inquiry accepts event inquiries from the website form.
//
// [Service.Submit] stores the lead, notifies the planner and asks the
// consultation generator for a personal reply. [Handler] exposes it over
// HTTP.
package inquiry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/concierge/internal/consult"
	"github.com/MrWong99/concierge/internal/leadstore"
	"github.com/MrWong99/concierge/internal/notify"
	"github.com/MrWong99/concierge/internal/observe"
	"github.com/MrWong99/concierge/pkg/types"
)

// FallbackReply is shown when the planner could not be notified but the lead
// was stored.
const FallbackReply = "Obrigada pelo contacto. Entraremos em contacto brevemente para confirmar todos os detalhes."

// ErrNotDelivered is returned by [Service.Submit] when the lead could be
// neither stored nor delivered to the planner.
var ErrNotDelivered = errors.New("inquiry: not delivered")

// Submission outcomes, used as the status metric attribute.
const (
	StatusOK           = "ok"
	StatusNotifyFailed = "notify_failed"
	StatusStoreFailed  = "store_failed"
	StatusLost         = "lost"
	StatusInvalid      = "invalid"
)

// Replier writes the reply shown to the client. *consult.Generator
// implements it.
type Replier interface {
	Reply(ctx context.Context, inq types.Inquiry) consult.Reply
}

// Receipt is the outcome of a successful submission.
type Receipt struct {
	ID         string    `json:"id"`
	ReceivedAt time.Time `json:"receivedAt"`
	Reply      string    `json:"reply"`

	// Notified reports whether the planner was told about the lead.
	Notified bool `json:"notified"`
}

// Option configures a [Service].
type Option func(*Service)

// WithMetrics records submissions on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDFunc overrides lead ID generation.
func WithIDFunc(f func() string) Option {
	return func(s *Service) { s.newID = f }
}

// Service handles inquiry submissions. It is safe for concurrent use.
type Service struct {
	store    leadstore.Store
	notifier notify.Notifier
	replier  Replier
	metrics  *observe.Metrics
	log      *slog.Logger
	now      func() time.Time
	newID    func() string
}

// NewService wires a service. All three dependencies are required.
func NewService(store leadstore.Store, notifier notify.Notifier, replier Replier, opts ...Option) *Service {
	s := &Service{
		store:    store,
		notifier: notifier,
		replier:  replier,
		log:      slog.Default(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Submit validates inq, persists it, notifies the planner and returns the
// client-facing reply.
//
// A notification failure after a successful save yields [FallbackReply]
// without consulting the model. When both the save and the notification
// fail the lead is lost and Submit returns [ErrNotDelivered].
func (s *Service) Submit(ctx context.Context, inq types.Inquiry) (*Receipt, error) {
	ctx, span := observe.StartSpan(ctx, "inquiry.submit")
	defer span.End()

	inq = Normalize(inq)
	if err := Validate(inq); err != nil {
		s.record(ctx, inq, StatusInvalid)
		return nil, err
	}

	lead := &types.Lead{
		ID:         s.newID(),
		ReceivedAt: s.now().UTC(),
		Inquiry:    inq,
	}
	span.SetAttributes(
		attribute.String("lead.id", lead.ID),
		attribute.String("lead.event_type", string(inq.EventType)),
	)
	log := observe.Logger(ctx).With("lead_id", lead.ID)

	storeErr := s.store.Save(ctx, lead)
	if storeErr != nil {
		observe.SpanError(span, storeErr)
		log.Error("inquiry: storing lead", "err", storeErr)
	}

	notifyErr := s.notifier.Notify(ctx, lead)
	if s.metrics != nil {
		status := "sent"
		if notifyErr != nil {
			status = "failed"
		}
		s.metrics.RecordNotify(ctx, s.notifier.Name(), status)
	}

	switch {
	case storeErr != nil && notifyErr != nil:
		observe.SpanError(span, notifyErr)
		log.Error("inquiry: lead lost", "notifier", s.notifier.Name(), "err", notifyErr)
		s.record(ctx, inq, StatusLost)
		return nil, fmt.Errorf("%w: %w", ErrNotDelivered, errors.Join(storeErr, notifyErr))

	case notifyErr != nil:
		log.Warn("inquiry: notifying planner", "notifier", s.notifier.Name(), "err", notifyErr)
		s.record(ctx, inq, StatusNotifyFailed)
		return &Receipt{ID: lead.ID, ReceivedAt: lead.ReceivedAt, Reply: FallbackReply}, nil
	}

	reply := s.replier.Reply(ctx, inq)
	status := StatusOK
	if storeErr != nil {
		status = StatusStoreFailed
	}
	s.record(ctx, inq, status)
	log.Info("inquiry accepted", "event_type", inq.EventType, "reply_source", reply.Source)

	return &Receipt{
		ID:         lead.ID,
		ReceivedAt: lead.ReceivedAt,
		Reply:      reply.Text,
		Notified:   true,
	}, nil
}

// Get returns a stored lead.
func (s *Service) Get(ctx context.Context, id string) (*types.Lead, error) {
	return s.store.Get(ctx, id)
}

// List returns up to limit stored leads, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]types.Lead, error) {
	return s.store.List(ctx, limit)
}

func (s *Service) record(ctx context.Context, inq types.Inquiry, status string) {
	if s.metrics == nil {
		return
	}
	eventType := string(inq.EventType)
	if !inq.EventType.IsValid() {
		eventType = "unknown"
	}
	s.metrics.RecordInquiry(ctx, eventType, status)
}
