// Command callyard is the main entry point for the Callyard call automation
// server. It registers a SIP account, loads a conversation script and either
// places outbound calls (one-off, per contact, or as a campaign over the
// contact database) or answers incoming ones.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/callyard/callyard/internal/config"
	"github.com/callyard/callyard/internal/conversation"
	"github.com/callyard/callyard/internal/health"
	"github.com/callyard/callyard/internal/observe"
	"github.com/callyard/callyard/internal/orchestrator"
	"github.com/callyard/callyard/internal/plugins/fibonacci"
	"github.com/callyard/callyard/internal/softphone"
	"github.com/callyard/callyard/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	conversationPath := flag.String("conversation", "conversation.yaml", "path to the conversation script")
	callNumber := flag.String("call", "", "place a one-off call to this phone number")
	contactID := flag.Int64("contact", 0, "call the contact with this id")
	campaign := flag.Bool("campaign", false, "call every contact not yet reached")
	listeners := flag.Int("listen", 0, "answer incoming calls on this many concurrent sessions")
	musicPath := flag.String("music", "music.wav", "WAV clip used by the fibonacci demo plugin")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "callyard: %v\n", err)
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("callyard starting",
		"config", *configPath,
		"conversation", *conversationPath,
		"listen_addr", cfg.Server.ListenAddr,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "callyard"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.DefaultRegistry()
	llmP, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		slog.Error("failed to create llm provider", "name", cfg.Providers.LLM.Name, "err", err)
		return 1
	}
	sttP, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		slog.Error("failed to create stt provider", "name", cfg.Providers.STT.Name, "err", err)
		return 1
	}
	ttsP, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		slog.Error("failed to create tts provider", "name", cfg.Providers.TTS.Name, "err", err)
		return 1
	}

	// ── Storage ───────────────────────────────────────────────────────────────
	var st *store.Store
	if cfg.Storage.PostgresDSN != "" {
		st, err = store.New(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			slog.Error("failed to connect to database", "err", err)
			return 1
		}
		defer st.Close()
	}

	// ── Softphone pool ────────────────────────────────────────────────────────
	creds, err := softphone.LoadCredentials(cfg.SIP.CredentialsPath)
	if err != nil {
		slog.Error("failed to load SIP credentials", "err", err)
		return 1
	}
	pool, err := softphone.NewPool(creds, cfg.Audio, ttsP, sttP, softphone.PoolOptions{
		BindHost:     cfg.SIP.BindHost,
		BindPort:     cfg.SIP.BindPort,
		ArtifactsDir: cfg.Paths.ArtifactsDir,
		CacheDir:     cfg.Paths.CacheDir,
		Logger:       logger,
	})
	if err != nil {
		slog.Error("failed to create softphone pool", "err", err)
		return 1
	}
	defer pool.Close()

	go func() {
		if err := pool.Register(ctx); err != nil {
			slog.Error("SIP registration failed", "err", err)
			stop()
		}
	}()
	go func() {
		if err := pool.Serve(ctx); err != nil && ctx.Err() == nil {
			slog.Error("SIP serve failed", "err", err)
			stop()
		}
	}()

	// ── Conversation and orchestrator ─────────────────────────────────────────
	convCfg, err := conversation.Load(*conversationPath)
	if err != nil {
		slog.Error("failed to load conversation", "err", err)
		return 1
	}

	funcs := conversation.NewRegistry()
	fibonacci.Register(funcs, *musicPath)

	var contacts orchestrator.ContactStore
	if st != nil {
		contacts = st
	}
	orch := orchestrator.New(contacts, pool, llmP,
		orchestrator.WithLogger(logger),
		orchestrator.WithRegistry(funcs),
		orchestrator.WithMetrics(metrics),
		orchestrator.WithLogsDir(cfg.Paths.LogsDir),
		orchestrator.WithProcessingChime(cfg.Paths.ProcessingChime),
		orchestrator.WithRingTimeout(cfg.Calls.RingTimeout),
	)
	if err := orch.UpdateOutgoingConfig(ctx, convCfg); err != nil {
		slog.Error("failed to install conversation", "err", err)
		return 1
	}

	// ── HTTP: health and metrics ──────────────────────────────────────────────
	startHTTPServer(ctx, cfg.Server.ListenAddr, st)

	// ── Dispatch ──────────────────────────────────────────────────────────────
	switch {
	case *callNumber != "":
		err = orch.CallNumber(ctx, *callNumber)

	case *contactID != 0:
		err = orch.CallContact(ctx, *contactID)

	case *campaign:
		err = orch.CallContacts(ctx, nil, cfg.Calls.MaxAttempts)

	case *listeners > 0:
		if err = orch.StartListening(ctx, *listeners); err == nil {
			slog.Info("answering incoming calls, press Ctrl+C to shut down", "sessions", *listeners)
			<-ctx.Done()
			orch.StopListening(context.Background())
		}

	default:
		slog.Info("no call mode selected; serving until shut down")
		<-ctx.Done()
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// startHTTPServer serves /healthz, /readyz and /metrics until ctx is done.
func startHTTPServer(ctx context.Context, addr string, st *store.Store) {
	var checkers []health.Checker
	if st != nil {
		checkers = append(checkers, health.Checker{Name: "database", Check: st.Ping})
	}

	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}
	}()
}

// ── Logger ────────────────────────────────────────────────────────────────────

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
