package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/MrWong99/concierge/internal/config"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestApplyEnv_FillsEmptyKeys(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Providers: config.ProvidersConfig{
			LLM: config.ProviderEntry{Name: "gemini"},
			S2S: config.ProviderEntry{Name: "openai-realtime"},
		},
		Notify: config.NotifyConfig{EmailJS: &config.EmailJSConfig{}},
	}
	config.ApplyEnv(cfg, envMap(map[string]string{
		"API_KEY":               "generic",
		"OPENAI_API_KEY":        "sk-openai",
		"EMAILJS_PRIVATE_KEY":   "ej-priv",
		"DATABASE_URL":          "postgres://db/leads",
		"CONCIERGE_ADMIN_TOKEN": "s3cret",
	}))

	if cfg.Providers.LLM.APIKey != "generic" {
		t.Errorf("gemini key = %q, want the API_KEY fallback", cfg.Providers.LLM.APIKey)
	}
	if cfg.Providers.S2S.APIKey != "sk-openai" {
		t.Errorf("openai-realtime key = %q, want OPENAI_API_KEY", cfg.Providers.S2S.APIKey)
	}
	if cfg.Notify.EmailJS.PrivateKey != "ej-priv" {
		t.Errorf("EmailJS private key = %q", cfg.Notify.EmailJS.PrivateKey)
	}
	if cfg.Storage.PostgresDSN != "postgres://db/leads" {
		t.Errorf("PostgresDSN = %q", cfg.Storage.PostgresDSN)
	}
	if cfg.Server.AdminToken != "s3cret" {
		t.Errorf("AdminToken = %q", cfg.Server.AdminToken)
	}
}

func TestApplyEnv_PrefersProviderVariable(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Providers: config.ProvidersConfig{S2S: config.ProviderEntry{Name: "gemini-live"}}}
	config.ApplyEnv(cfg, envMap(map[string]string{"API_KEY": "generic", "GEMINI_API_KEY": "gem"}))
	if cfg.Providers.S2S.APIKey != "gem" {
		t.Errorf("key = %q, want GEMINI_API_KEY", cfg.Providers.S2S.APIKey)
	}
}

func TestApplyEnv_KeepsExplicitValues(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Providers: config.ProvidersConfig{LLM: config.ProviderEntry{Name: "gemini", APIKey: "yaml"}},
		Storage:   config.StorageConfig{PostgresDSN: "postgres://yaml"},
	}
	config.ApplyEnv(cfg, envMap(map[string]string{"GEMINI_API_KEY": "env", "DATABASE_URL": "postgres://env"}))
	if cfg.Providers.LLM.APIKey != "yaml" || cfg.Storage.PostgresDSN != "postgres://yaml" {
		t.Errorf("explicit values overwritten: %+v", cfg)
	}
}

func TestApplyEnv_UnnamedProviderUntouched(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	config.ApplyEnv(cfg, envMap(map[string]string{"API_KEY": "generic"}))
	if cfg.Providers.LLM.APIKey != "" {
		t.Error("a provider without a name must not receive a key")
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "concierge.yaml")
	if err := os.WriteFile(path, []byte("server:\n  listen_addr: \":7070\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ListenAddr != ":7070" {
		t.Errorf("ListenAddr = %q", cfg.Server.ListenAddr)
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Parallel()
	cfg, err := config.Load(filepath.Join("..", "..", "configs", "example.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.LLM.Name != "gemini" || cfg.Providers.S2S.Name != "gemini-live" {
		t.Errorf("providers = %+v", cfg.Providers)
	}
	if cfg.Notify.EmailJS == nil || cfg.Notify.EmailJS.ToName != "Elsa Cruz" {
		t.Errorf("EmailJS = %+v", cfg.Notify.EmailJS)
	}
	if cfg.Storage.FilePath != "leads.jsonl" {
		t.Errorf("FilePath = %q", cfg.Storage.FilePath)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("CONCIERGE_TEST_DOTENV=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONCIERGE_TEST_DOTENV", "")
	os.Unsetenv("CONCIERGE_TEST_DOTENV")

	if err := config.LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("CONCIERGE_TEST_DOTENV"); got != "from-file" {
		t.Errorf("CONCIERGE_TEST_DOTENV = %q, want from-file", got)
	}
}

func TestLoadDotEnv_DoesNotOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("CONCIERGE_TEST_KEEP=file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONCIERGE_TEST_KEEP", "process")

	if err := config.LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("CONCIERGE_TEST_KEEP"); got != "process" {
		t.Errorf("CONCIERGE_TEST_KEEP = %q, want process", got)
	}
}
