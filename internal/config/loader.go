package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr      = ":8080"
	DefaultShutdownTimeout = 10 * time.Second
	DefaultVoice           = "Kore"
	DefaultBlockSize       = 4096
	DefaultConsultTimeout  = 20 * time.Second
	DefaultToName          = "Elsa Cruz"
)

// DefaultInstructions is the persona prompt of the voice concierge.
const DefaultInstructions = `És a Elsa Cruz, uma organizadora de eventos de luxo e casamentos no Algarve, Portugal.
O teu tom é elegante, sofisticado, caloroso e acolhedor (Português de Portugal).
Responde de forma concisa mas encantadora.
O teu objetivo é ajudar potenciais clientes a tirar dúvidas sobre os serviços, agendar reuniões ou discutir ideias de eventos.
Se te perguntarem sobre preços, diz que cada evento é único e sugere agendar uma reunião para um orçamento personalizado.
Sê breve nas respostas de voz.`

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"gemini", "openai", "anthropic", "mistral", "ollama"},
	"s2s": {"gemini-live", "openai-realtime"},
}

// apiKeyEnv lists the environment variables consulted, in order, for a
// provider's API key when the YAML leaves it empty.
var apiKeyEnv = map[string][]string{
	"gemini":          {"GEMINI_API_KEY", "API_KEY"},
	"gemini-live":     {"GEMINI_API_KEY", "API_KEY"},
	"openai":          {"OPENAI_API_KEY", "API_KEY"},
	"openai-realtime": {"OPENAI_API_KEY", "API_KEY"},
	"anthropic":       {"ANTHROPIC_API_KEY", "API_KEY"},
	"mistral":         {"MISTRAL_API_KEY", "API_KEY"},
}

// LoadDotEnv loads variables from the given .env files (default ".env") into
// the process environment. Variables that are already set are not
// overwritten. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %q: %w", f, err)
		}
	}
	return nil
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills secrets from the process
// environment, applies defaults and validates the result. An empty document
// yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg, os.Getenv)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv fills empty secrets from the environment using getenv:
// provider API keys (see the provider's conventional variable, then API_KEY),
// EMAILJS_PRIVATE_KEY and DATABASE_URL.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	fillKey := func(e *ProviderEntry) {
		if e.Name == "" || e.APIKey != "" {
			return
		}
		for _, name := range apiKeyEnv[e.Name] {
			if v := getenv(name); v != "" {
				e.APIKey = v
				return
			}
		}
	}
	fillKey(&cfg.Providers.LLM)
	fillKey(&cfg.Providers.S2S)

	if ej := cfg.Notify.EmailJS; ej != nil && ej.PrivateKey == "" {
		ej.PrivateKey = getenv("EMAILJS_PRIVATE_KEY")
	}
	if cfg.Storage.PostgresDSN == "" {
		cfg.Storage.PostgresDSN = getenv("DATABASE_URL")
	}
	if cfg.Server.AdminToken == "" {
		cfg.Server.AdminToken = getenv("CONCIERGE_ADMIN_TOKEN")
	}
}

// ApplyDefaults sets every unset field that has a default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Voice.Voice == "" {
		cfg.Voice.Voice = DefaultVoice
	}
	if cfg.Voice.Instructions == "" {
		cfg.Voice.Instructions = DefaultInstructions
	}
	if cfg.Voice.BlockSize == 0 {
		cfg.Voice.BlockSize = DefaultBlockSize
	}
	if cfg.Consult.Timeout == 0 {
		cfg.Consult.Timeout = DefaultConsultTimeout
	}
	if ej := cfg.Notify.EmailJS; ej != nil && ej.ToName == "" {
		ej.ToName = DefaultToName
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %v must not be negative", cfg.Server.ShutdownTimeout))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("s2s", cfg.Providers.S2S.Name)

	if cfg.Voice.BlockSize < 0 {
		errs = append(errs, fmt.Errorf("voice.block_size %d must not be negative", cfg.Voice.BlockSize))
	}
	if cfg.Consult.Temperature < 0 || cfg.Consult.Temperature > 2 {
		errs = append(errs, fmt.Errorf("consult.temperature %.2f is out of range [0, 2]", cfg.Consult.Temperature))
	}
	if cfg.Consult.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("consult.max_tokens %d must not be negative", cfg.Consult.MaxTokens))
	}

	if ej := cfg.Notify.EmailJS; ej != nil {
		if ej.ServiceID == "" {
			errs = append(errs, errors.New("notify.emailjs.service_id is required"))
		}
		if ej.TemplateID == "" {
			errs = append(errs, errors.New("notify.emailjs.template_id is required"))
		}
		if ej.PublicKey == "" {
			errs = append(errs, errors.New("notify.emailjs.public_key is required"))
		}
		if ej.PrivateKey == "" {
			slog.Warn("notify.emailjs.private_key is empty; EmailJS rejects server-side calls without an access token")
		}
	}

	if cfg.Providers.LLM.Name == "" && !cfg.Consult.Disabled {
		slog.Warn("no LLM provider configured; inquiries will receive the standard reply")
	}
	if cfg.Storage.PostgresDSN == "" && cfg.Storage.FilePath == "" {
		slog.Warn("no storage configured; leads are kept in memory only")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
