package consult_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/concierge/internal/consult"
	"github.com/MrWong99/concierge/internal/observe"
	"github.com/MrWong99/concierge/internal/resilience"
	"github.com/MrWong99/concierge/pkg/provider/llm"
	llmmock "github.com/MrWong99/concierge/pkg/provider/llm/mock"
	"github.com/MrWong99/concierge/pkg/types"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func inquiry() types.Inquiry {
	return types.Inquiry{
		Name:             "Marta",
		Email:            "marta@example.com",
		EventType:        types.EventBirthday,
		Date:             "2026-08-20",
		Location:         "Faro",
		GuestCount:       30,
		StylePreferences: "Festa tropical",
		ServicesNeeded:   []string{"Planeamento Completo", "Design Floral"},
		Details:          "Surpresa!",
	}
}

func TestPrompt(t *testing.T) {
	t.Parallel()
	p, err := consult.Prompt(inquiry())
	if err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	for _, want := range []string{
		"Nome do Cliente: Marta",
		"Tipo de Evento: Aniversário",
		"Nº Convidados: 30",
		"Orçamento: Não especificado",
		"Serviços Solicitados: Planeamento Completo, Design Floral",
		`visão do cliente ("Festa tropical")`,
		"Português de Portugal (PT-PT)",
	} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}

	inq := inquiry()
	inq.Budget = "5000€"
	p, _ = consult.Prompt(inq)
	if !strings.Contains(p, "Orçamento: 5000€") {
		t.Error("prompt does not carry the budget")
	}
}

func TestReply_Model(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "  Olá Marta!  "}}
	g := consult.New(p, "gemini", consult.WithTemperature(0.7), consult.WithMaxTokens(300))

	r := g.Reply(context.Background(), inquiry())
	if r.Text != "Olá Marta!" || r.Source != consult.SourceModel {
		t.Errorf("Reply = %+v", r)
	}

	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("Complete calls = %d, want 1", len(calls))
	}
	req := calls[0].Req
	if req.Temperature != 0.7 || req.MaxTokens != 300 {
		t.Errorf("request = %+v", req)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != llm.RoleUser ||
		!strings.Contains(req.Messages[0].Content, "Elsa Cruz") {
		t.Errorf("messages = %+v", req.Messages)
	}
	if _, ok := calls[0].Ctx.Deadline(); !ok {
		t.Error("model call has no deadline")
	}
}

func TestReply_Fallbacks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		provider   llm.Provider
		opts       []consult.Option
		wantText   string
		wantSource consult.Source
	}{
		{
			name:       "no provider",
			wantText:   consult.FallbackNoProvider,
			wantSource: consult.SourceFallbackProvider,
		},
		{
			name:       "disabled",
			provider:   &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "x"}},
			opts:       []consult.Option{consult.WithDisabled(true)},
			wantText:   consult.FallbackNoProvider,
			wantSource: consult.SourceDisabled,
		},
		{
			name:       "error",
			provider:   &llmmock.Provider{CompleteErr: errors.New("quota exceeded")},
			wantText:   consult.FallbackError,
			wantSource: consult.SourceFallbackError,
		},
		{
			name:       "blank text",
			provider:   &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: " \n"}},
			wantText:   consult.FallbackEmpty,
			wantSource: consult.SourceFallbackEmpty,
		},
		{
			name:       "nil response",
			provider:   &llmmock.Provider{},
			wantText:   consult.FallbackEmpty,
			wantSource: consult.SourceFallbackEmpty,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := consult.New(tt.provider, "test", tt.opts...)
			r := g.Reply(context.Background(), inquiry())
			if r.Text != tt.wantText || r.Source != tt.wantSource {
				t.Errorf("Reply = %+v, want %q from %s", r, tt.wantText, tt.wantSource)
			}
		})
	}
}

func TestReply_BreakerSkipsModelWhenOpen(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteErr: errors.New("503")}
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "llm",
		MaxFailures:  1,
		ResetTimeout: time.Hour,
	})
	g := consult.New(p, "gemini", consult.WithBreaker(cb))

	for range 3 {
		if r := g.Reply(context.Background(), inquiry()); r.Source != consult.SourceFallbackError {
			t.Fatalf("Reply source = %s, want fallback_error", r.Source)
		}
	}
	if n := len(p.Calls()); n != 1 {
		t.Errorf("model calls = %d, want 1 (breaker open after first failure)", n)
	}
}

func TestReply_Timeout(t *testing.T) {
	t.Parallel()
	slow := &blockingProvider{}
	g := consult.New(slow, "slow", consult.WithTimeout(20*time.Millisecond))

	r := g.Reply(context.Background(), inquiry())
	if r.Source != consult.SourceFallbackError {
		t.Errorf("Reply source = %s, want fallback_error", r.Source)
	}
}

func TestReply_RecordsMetrics(t *testing.T) {
	t.Parallel()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	p := &llmmock.Provider{CompleteErr: errors.New("boom")}
	consult.New(p, "openai", consult.WithMetrics(m)).Reply(context.Background(), inquiry())

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	found := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if sum, ok := met.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					found[met.Name] += dp.Value
				}
			}
		}
	}
	if found["concierge.consult.outcomes"] != 1 {
		t.Errorf("consult outcomes = %d, want 1", found["concierge.consult.outcomes"])
	}
	if found["concierge.provider.errors"] != 1 {
		t.Errorf("provider errors = %d, want 1", found["concierge.provider.errors"])
	}
}

// blockingProvider waits for the context to end.
type blockingProvider struct{}

func (blockingProvider) Complete(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingProvider) Capabilities() llm.ModelCapabilities { return llm.ModelCapabilities{} }
