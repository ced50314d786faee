// Command voicechat opens a live voice conversation with the planner's
// assistant on the local microphone and speakers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/MrWong99/concierge/internal/config"
	"github.com/MrWong99/concierge/internal/observe"
	"github.com/MrWong99/concierge/pkg/audio/portaudio"
	"github.com/MrWong99/concierge/pkg/provider/s2s"
	s2sgemini "github.com/MrWong99/concierge/pkg/provider/s2s/gemini"
	s2sopenai "github.com/MrWong99/concierge/pkg/provider/s2s/openai"
	"github.com/MrWong99/concierge/pkg/relay"
)

// defaultS2S is used when the configuration names no speech provider.
const defaultS2S = "gemini-live"

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envFile := flag.String("env", ".env", "path to a .env file with secrets (optional)")
	verbose := flag.Bool("v", false, "log debug output")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "voicechat: %v\n", err)
		return 1
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voicechat: %v\n", err)
		return 1
	}
	if *verbose {
		cfg.Server.LogLevel = config.LogDebug
	}

	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	slog.Info("voicechat starting",
		"version", version,
		"provider", cfg.Providers.S2S.Name,
		"voice", cfg.Voice.Voice,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "concierge-voicechat",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider ──────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	provider, err := reg.CreateS2S(cfg.Providers.S2S)
	if err != nil {
		slog.Error("failed to create speech provider", "name", cfg.Providers.S2S.Name, "err", err)
		return 1
	}

	// ── Audio devices ─────────────────────────────────────────────────────────
	if err := portaudio.Initialize(); err != nil {
		slog.Error("failed to initialise audio", "err", err)
		return 1
	}
	defer func() {
		if err := portaudio.Terminate(); err != nil {
			slog.Warn("audio terminate error", "err", err)
		}
	}()
	mic := portaudio.NewMicrophone(
		portaudio.WithDevice(cfg.Voice.InputDevice),
		portaudio.WithLogger(slog.Default()),
	)
	speaker := portaudio.NewSpeaker(
		portaudio.WithDevice(cfg.Voice.OutputDevice),
		portaudio.WithLogger(slog.Default()),
	)

	// ── Relay ─────────────────────────────────────────────────────────────────
	done := make(chan error, 1)
	finish := func(err error) {
		select {
		case done <- err:
		default:
		}
	}

	var r *relay.Relay
	r = relay.New(provider, mic, speaker, relay.Config{
		APIKey:        cfg.Providers.S2S.APIKey,
		Voice:         cfg.Voice.Voice,
		Instructions:  cfg.Voice.Instructions,
		BlockSize:     cfg.Voice.BlockSize,
		Transcription: cfg.Voice.Transcription,
	},
		relay.WithLogger(slog.Default()),
		relay.WithMeterProvider(otel.GetMeterProvider()),
		relay.WithStateListener(func(s relay.State) {
			slog.Info("relay state", "state", s)
			switch s {
			case relay.StateConnected:
				fmt.Fprintln(os.Stderr, "Connected. Speak now, press Ctrl+C to hang up.")
			case relay.StateError:
				finish(r.LastError())
			case relay.StateIdle:
				finish(nil)
			}
		}),
		relay.WithSpeakingListener(func(speaking bool) {
			slog.Debug("assistant speaking", "speaking", speaking)
		}),
		relay.WithTranscriptListener(func(user bool, text string) {
			who := "assistant"
			if user {
				who = "you"
			}
			fmt.Printf("%s: %s\n", who, text)
		}),
	)

	if err := r.Connect(ctx); err != nil {
		slog.Error("failed to connect", "err", err)
		return 1
	}

	var sessionErr error
	select {
	case <-ctx.Done():
		slog.Info("hanging up")
	case sessionErr = <-done:
	}

	if err := r.Disconnect(); err != nil {
		slog.Warn("disconnect error", "err", err)
	}
	if sessionErr != nil {
		slog.Error("session ended with error", "err", sessionErr)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// loadConfig reads the configuration file. A missing file is not an error:
// the voice client runs on defaults and environment variables alone.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg = &config.Config{}
		config.ApplyDefaults(cfg)
	} else if err != nil {
		return nil, err
	}
	if cfg.Providers.S2S.Name == "" {
		cfg.Providers.S2S.Name = defaultS2S
	}
	// Fill the API key for the provider name chosen above.
	config.ApplyEnv(cfg, os.Getenv)
	return cfg, nil
}

// ── Provider wiring ───────────────────────────────────────────────────────────

func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterS2S("gemini-live", func(entry config.ProviderEntry) (s2s.Provider, error) {
		opts := []s2sgemini.Option{s2sgemini.WithLogger(slog.Default())}
		if entry.Model != "" {
			opts = append(opts, s2sgemini.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, s2sgemini.WithBaseURL(entry.BaseURL))
		}
		return s2sgemini.New(entry.APIKey, opts...), nil
	})
	reg.RegisterS2S("openai-realtime", func(entry config.ProviderEntry) (s2s.Provider, error) {
		opts := []s2sopenai.Option{s2sopenai.WithLogger(slog.Default())}
		if entry.Model != "" {
			opts = append(opts, s2sopenai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, s2sopenai.WithBaseURL(entry.BaseURL))
		}
		return s2sopenai.New(entry.APIKey, opts...), nil
	})
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
