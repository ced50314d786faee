package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/concierge/internal/resilience"
	"github.com/MrWong99/concierge/pkg/types"
)

func testLead() *types.Lead {
	return &types.Lead{
		ID:         "lead-7",
		ReceivedAt: time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC),
		Inquiry: types.Inquiry{
			Name:             "Rita Sousa",
			Email:            "rita@example.com",
			Phone:            "912000111",
			EventType:        types.EventBaptism,
			Date:             "2026-07-04",
			Location:         "Tavira",
			GuestCount:       45,
			StylePreferences: "Tons pastel",
			ServicesNeeded:   []string{"Decoração & Design", "Design Floral"},
			Details:          "Almoço no jardim.",
		},
	}
}

func testConfig(url string) EmailJSConfig {
	return EmailJSConfig{
		ServiceID:  "service_x",
		TemplateID: "template_y",
		PublicKey:  "pub",
		PrivateKey: "priv",
		ToName:     "Elsa Cruz",
		URL:        url,
	}
}

func TestNewEmailJS_Validation(t *testing.T) {
	t.Parallel()
	_, err := NewEmailJS(EmailJSConfig{})
	if err == nil {
		t.Fatal("NewEmailJS with empty config: want error")
	}
	for _, want := range []string{"service id", "template id", "public key"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}

	e, err := NewEmailJS(EmailJSConfig{ServiceID: "s", TemplateID: "t", PublicKey: "p"})
	if err != nil {
		t.Fatalf("NewEmailJS: %v", err)
	}
	if e.cfg.URL != DefaultEmailJSURL {
		t.Errorf("URL = %q, want default", e.cfg.URL)
	}
}

func TestEmailJS_Notify_SendsTemplateParams(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_, _ = w.Write([]byte("OK"))
	}))
	t.Cleanup(srv.Close)

	e, err := NewEmailJS(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("NewEmailJS: %v", err)
	}
	if err := e.Notify(context.Background(), testLead()); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if got["service_id"] != "service_x" || got["template_id"] != "template_y" ||
		got["user_id"] != "pub" || got["accessToken"] != "priv" {
		t.Errorf("envelope = %v", got)
	}
	params, ok := got["template_params"].(map[string]any)
	if !ok {
		t.Fatalf("template_params = %T", got["template_params"])
	}
	want := map[string]any{
		"to_name":     "Elsa Cruz",
		"from_name":   "Rita Sousa",
		"from_email":  "rita@example.com",
		"phone":       "912000111",
		"event_type":  "Batizado",
		"date":        "2026-07-04",
		"location":    "Tavira",
		"guest_count": float64(45),
		"services":    "Decoração & Design, Design Floral",
		"message":     "Almoço no jardim.",
		"style":       "Tons pastel",
	}
	for k, v := range want {
		if params[k] != v {
			t.Errorf("template_params[%s] = %v, want %v", k, params[k], v)
		}
	}
}

func TestEmailJS_Notify_OmitsEmptyAccessToken(t *testing.T) {
	t.Parallel()
	var raw string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		raw = string(b)
	}))
	t.Cleanup(srv.Close)

	cfg := testConfig(srv.URL)
	cfg.PrivateKey = ""
	e, _ := NewEmailJS(cfg)
	if err := e.Notify(context.Background(), testLead()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if strings.Contains(raw, "accessToken") {
		t.Errorf("body contains accessToken: %s", raw)
	}
}

func TestEmailJS_Notify_HTTPError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "The template ID is invalid", http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	e, _ := NewEmailJS(testConfig(srv.URL))
	err := e.Notify(context.Background(), testLead())
	if err == nil {
		t.Fatal("Notify: want error")
	}
	if !strings.Contains(err.Error(), "400") || !strings.Contains(err.Error(), "template ID is invalid") {
		t.Errorf("err = %v", err)
	}
}

func TestEmailJS_Notify_BreakerOpens(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "emailjs",
		MaxFailures:  2,
		ResetTimeout: time.Hour,
	})
	e, _ := NewEmailJS(testConfig(srv.URL), WithBreaker(cb))

	for range 2 {
		if err := e.Notify(context.Background(), testLead()); err == nil {
			t.Fatal("Notify: want error")
		}
	}
	err := e.Notify(context.Background(), testLead())
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("third Notify err = %v, want ErrCircuitOpen", err)
	}
	if hits.Load() != 2 {
		t.Errorf("server hits = %d, want 2", hits.Load())
	}
}

func TestEmailJS_Notify_ContextCancelled(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	e, _ := NewEmailJS(testConfig(srv.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := e.Notify(ctx, testLead()); err == nil {
		t.Error("Notify with expiring context: want error")
	}
}

func TestNoop(t *testing.T) {
	t.Parallel()
	var n Notifier = Noop{}
	if err := n.Notify(context.Background(), testLead()); err != nil {
		t.Errorf("Notify: %v", err)
	}
	if n.Name() != "noop" {
		t.Errorf("Name = %q", n.Name())
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := n.Notify(ctx, testLead()); !errors.Is(err, context.Canceled) {
		t.Errorf("Notify on cancelled ctx = %v", err)
	}
}
