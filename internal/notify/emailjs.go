package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/concierge/internal/resilience"
	"github.com/MrWong99/concierge/pkg/types"
)

// DefaultEmailJSURL is the EmailJS REST endpoint for sending a template.
const DefaultEmailJSURL = "https://api.emailjs.com/api/v1.0/email/send"

// DefaultTimeout bounds a single EmailJS request.
const DefaultTimeout = 10 * time.Second

// EmailJSConfig identifies the EmailJS account and template.
type EmailJSConfig struct {
	ServiceID  string
	TemplateID string

	// PublicKey is the account's public key, sent as user_id.
	PublicKey string

	// PrivateKey is the optional access token. EmailJS requires it when the
	// account restricts API calls from non-browser clients.
	PrivateKey string

	// ToName is the template's recipient name.
	ToName string

	// URL overrides [DefaultEmailJSURL].
	URL string
}

// EmailJSOption configures an [EmailJS] notifier.
type EmailJSOption func(*EmailJS)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) EmailJSOption {
	return func(e *EmailJS) { e.client = c }
}

// WithBreaker guards sends with cb. Once the breaker opens, Notify fails fast
// with [resilience.ErrCircuitOpen].
func WithBreaker(cb *resilience.CircuitBreaker) EmailJSOption {
	return func(e *EmailJS) { e.breaker = cb }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) EmailJSOption {
	return func(e *EmailJS) { e.log = l }
}

// EmailJS sends lead notifications through the EmailJS REST API.
type EmailJS struct {
	cfg     EmailJSConfig
	client  *http.Client
	breaker *resilience.CircuitBreaker
	log     *slog.Logger
}

var _ Notifier = (*EmailJS)(nil)

// NewEmailJS validates cfg and returns a notifier.
func NewEmailJS(cfg EmailJSConfig, opts ...EmailJSOption) (*EmailJS, error) {
	var errs []error
	if cfg.ServiceID == "" {
		errs = append(errs, errors.New("service id must not be empty"))
	}
	if cfg.TemplateID == "" {
		errs = append(errs, errors.New("template id must not be empty"))
	}
	if cfg.PublicKey == "" {
		errs = append(errs, errors.New("public key must not be empty"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("notify: emailjs: %w", err)
	}
	if cfg.URL == "" {
		cfg.URL = DefaultEmailJSURL
	}

	e := &EmailJS{
		cfg:    cfg,
		client: &http.Client{Timeout: DefaultTimeout},
		log:    slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Name implements [Notifier].
func (e *EmailJS) Name() string { return "emailjs" }

// sendRequest is the JSON body of an EmailJS send call.
type sendRequest struct {
	ServiceID      string         `json:"service_id"`
	TemplateID     string         `json:"template_id"`
	UserID         string         `json:"user_id"`
	AccessToken    string         `json:"accessToken,omitempty"`
	TemplateParams templateParams `json:"template_params"`
}

// templateParams are the variables referenced by the planner's e-mail
// template.
type templateParams struct {
	ToName     string `json:"to_name"`
	FromName   string `json:"from_name"`
	FromEmail  string `json:"from_email"`
	Phone      string `json:"phone"`
	EventType  string `json:"event_type"`
	Date       string `json:"date"`
	Location   string `json:"location"`
	GuestCount int    `json:"guest_count"`
	Services   string `json:"services"`
	Message    string `json:"message"`
	Style      string `json:"style"`
}

func (e *EmailJS) buildRequest(lead *types.Lead) sendRequest {
	return sendRequest{
		ServiceID:   e.cfg.ServiceID,
		TemplateID:  e.cfg.TemplateID,
		UserID:      e.cfg.PublicKey,
		AccessToken: e.cfg.PrivateKey,
		TemplateParams: templateParams{
			ToName:     e.cfg.ToName,
			FromName:   lead.Name,
			FromEmail:  lead.Email,
			Phone:      lead.Phone,
			EventType:  string(lead.EventType),
			Date:       lead.Date,
			Location:   lead.Location,
			GuestCount: lead.GuestCount,
			Services:   strings.Join(lead.ServicesNeeded, ", "),
			Message:    lead.Details,
			Style:      lead.StylePreferences,
		},
	}
}

// Notify implements [Notifier].
func (e *EmailJS) Notify(ctx context.Context, lead *types.Lead) error {
	send := func(ctx context.Context) error { return e.send(ctx, lead) }
	var err error
	if e.breaker != nil {
		err = e.breaker.Execute(ctx, send)
	} else {
		err = send(ctx)
	}
	if err != nil {
		return fmt.Errorf("notify: emailjs: %w", err)
	}
	e.log.Debug("lead notification sent", "lead_id", lead.ID, "template", e.cfg.TemplateID)
	return nil
}

func (e *EmailJS) send(ctx context.Context, lead *types.Lead) error {
	body, err := json.Marshal(e.buildRequest(lead))
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
