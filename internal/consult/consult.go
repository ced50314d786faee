// Package consult writes the short personal reply a client sees right after
// submitting an inquiry.
//
// The reply is generated by a language model speaking as the planner. Every
// failure path degrades to a fixed courteous message, so [Generator.Reply]
// never fails.
package consult

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/MrWong99/concierge/internal/observe"
	"github.com/MrWong99/concierge/internal/resilience"
	"github.com/MrWong99/concierge/pkg/provider/llm"
	"github.com/MrWong99/concierge/pkg/types"
)

// Fallback replies.
const (
	FallbackNoProvider = "Obrigada pelo seu amável contacto. Recebemos o seu pedido e entraremos em breve em contacto para desenhar o seu evento de sonho."
	FallbackEmpty      = "Obrigada pelo teu contacto! Adorei a tua ideia e entrarei em breve em contacto para desenharmos juntas este dia especial."
	FallbackError      = "Obrigada pelo seu contacto. Recebemos o seu pedido e entraremos em breve em contacto."
)

// Source says where a reply came from.
type Source string

const (
	SourceModel            Source = "model"
	SourceDisabled         Source = "disabled"
	SourceFallbackProvider Source = "fallback_no_provider"
	SourceFallbackError    Source = "fallback_error"
	SourceFallbackEmpty    Source = "fallback_empty"
)

// Reply is the text shown to the client.
type Reply struct {
	Text   string
	Source Source
}

// DefaultTimeout bounds a single model call.
const DefaultTimeout = 20 * time.Second

// Option configures a [Generator].
type Option func(*Generator)

// WithTemperature sets the sampling temperature. Zero keeps the provider
// default.
func WithTemperature(t float64) Option {
	return func(g *Generator) { g.temperature = t }
}

// WithMaxTokens caps the reply length. Zero keeps the provider default.
func WithMaxTokens(n int) Option {
	return func(g *Generator) { g.maxTokens = n }
}

// WithTimeout bounds a single model call.
func WithTimeout(d time.Duration) Option {
	return func(g *Generator) { g.timeout = d }
}

// WithBreaker guards model calls with cb.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(g *Generator) { g.breaker = cb }
}

// WithDisabled makes every reply the no-provider fallback.
func WithDisabled(disabled bool) Option {
	return func(g *Generator) { g.disabled = disabled }
}

// WithMetrics records reply outcomes and provider latency on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Generator) { g.metrics = m }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) { g.log = l }
}

// Generator produces consultation replies. It is safe for concurrent use.
type Generator struct {
	provider     llm.Provider
	providerName string
	temperature  float64
	maxTokens    int
	timeout      time.Duration
	disabled     bool
	breaker      *resilience.CircuitBreaker
	metrics      *observe.Metrics
	log          *slog.Logger
}

// New returns a Generator backed by p. A nil p is allowed: every reply is
// then [FallbackNoProvider]. providerName labels provider metrics.
func New(p llm.Provider, providerName string, opts ...Option) *Generator {
	g := &Generator{
		provider:     p,
		providerName: providerName,
		timeout:      DefaultTimeout,
		log:          slog.Default(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Reply writes the reply for inq.
func (g *Generator) Reply(ctx context.Context, inq types.Inquiry) Reply {
	r := g.reply(ctx, inq)
	if g.metrics != nil {
		g.metrics.RecordConsult(ctx, string(r.Source))
	}
	return r
}

func (g *Generator) reply(ctx context.Context, inq types.Inquiry) Reply {
	if g.disabled {
		return Reply{Text: FallbackNoProvider, Source: SourceDisabled}
	}
	if g.provider == nil {
		g.log.Warn("consult: no language model configured, using default reply")
		return Reply{Text: FallbackNoProvider, Source: SourceFallbackProvider}
	}

	prompt, err := Prompt(inq)
	if err != nil {
		g.log.Error("consult: build prompt", "err", err)
		return Reply{Text: FallbackError, Source: SourceFallbackError}
	}

	var text string
	call := func(ctx context.Context) error {
		if g.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, g.timeout)
			defer cancel()
		}
		start := time.Now()
		resp, err := g.provider.Complete(ctx, llm.CompletionRequest{
			Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
			Temperature: g.temperature,
			MaxTokens:   g.maxTokens,
		})
		if g.metrics != nil {
			g.metrics.RecordProviderCall(ctx, g.providerName, "llm", time.Since(start), err)
		}
		if err != nil {
			return err
		}
		if resp != nil {
			text = strings.TrimSpace(resp.Content)
		}
		return nil
	}

	if g.breaker != nil {
		err = g.breaker.Execute(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		g.log.Error("consult: generating reply", "err", err, "provider", g.providerName)
		return Reply{Text: FallbackError, Source: SourceFallbackError}
	}
	if text == "" {
		return Reply{Text: FallbackEmpty, Source: SourceFallbackEmpty}
	}
	return Reply{Text: text, Source: SourceModel}
}

var promptTmpl = template.Must(template.New("consult").Parse(`Ajo como a Elsa Cruz, uma organizadora de eventos no Algarve, Portugal.
Recebi o seguinte pedido de informações através do meu site:

Nome do Cliente: {{.Name}}
Tipo de Evento: {{.EventType}}
Data Pretendida: {{.Date}}
Local: {{.Location}}
Nº Convidados: {{.GuestCount}}
Orçamento: {{.Budget}}
Estilo/Visão do Cliente: {{.StylePreferences}}
Serviços Solicitados: {{.Services}}
Notas Adicionais: {{.Details}}

Tarefa:
Escreve uma resposta curta, pessoal e calorosa (máximo 3 parágrafos curtos) dirigida diretamente ao cliente.

Objetivos da resposta:
1. Agradecer o contacto com carinho.
2. Comentar positivamente a visão do cliente ("{{.StylePreferences}}"), mostrando entusiasmo.
3. Transmitir confiança mas de forma próxima (não corporativa), terminando a dizer que ligarei em breve.

Tom de voz:
Português de Portugal (PT-PT). O tom deve ser pessoal, próximo, caloroso e empático, como se estivesse a falar com uma amiga, mas mantendo o profissionalismo e elegância. Evita o "prezado" ou linguagem corporativa excessiva.
`))

// promptData flattens an inquiry for the prompt template.
type promptData struct {
	types.Inquiry
	Services string
}

// Prompt renders the model prompt for inq. An empty budget reads
// "Não especificado".
func Prompt(inq types.Inquiry) (string, error) {
	if inq.Budget == "" {
		inq.Budget = "Não especificado"
	}
	var sb strings.Builder
	err := promptTmpl.Execute(&sb, promptData{
		Inquiry:  inq,
		Services: strings.Join(inq.ServicesNeeded, ", "),
	})
	if err != nil {
		return "", fmt.Errorf("consult: render prompt: %w", err)
	}
	return sb.String(), nil
}
