// Command voice-assistant is a voice-driven question answering loop: it
// listens to the microphone, routes each question to the knowledge base, the
// calendar or the web, and speaks the answer.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/stephen37/voice-assistant/internal/app"
	"github.com/stephen37/voice-assistant/internal/config"
	"github.com/stephen37/voice-assistant/internal/health"
	"github.com/stephen37/voice-assistant/internal/observe"
	"github.com/stephen37/voice-assistant/pkg/audio/portaudio"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.StringP("config", "c", "config.yaml", "path to the YAML configuration file")
	envFile := flag.StringP("env", "e", ".env", "env file loaded before the config is read")
	logLevel := flag.StringP("log-level", "l", "", "log level override (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format override (tint, text, json)")
	calendarAuth := flag.Bool("calendar-auth", false, "authorize Google Calendar access and exit")
	noKeyboard := flag.Bool("no-keyboard", false, "do not read toggle commands from stdin")
	showVersion := flag.BoolP("version", "v", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("voice-assistant", version)
		return 0
	}

	// ── Environment ───────────────────────────────────────────────────────────
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "voice-assistant: load %s: %v\n", *envFile, err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voice-assistant: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voice-assistant: %v\n", err)
		}
		return 1
	}
	overrides := func(c *config.Config) {
		if *logLevel != "" {
			c.Server.LogLevel = config.LogLevel(*logLevel)
		}
		if *logFormat != "" {
			c.Server.LogFormat = config.LogFormat(*logFormat)
		}
	}
	overrides(cfg)

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logOut := &rawSafeWriter{w: os.Stderr}
	slog.SetDefault(newLogger(logOut, cfg.Server.LogFormat, level))

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *calendarAuth {
		if err := authorizeCalendar(ctx, cfg.Providers.Calendar); err != nil {
			slog.Error("calendar authorization failed", "err", err)
			return 1
		}
		slog.Info("calendar authorized")
		return 0
	}

	slog.Info("voice-assistant starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.Setup(ctx, observe.Options{
		ServiceName:    "voice-assistant",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to init telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

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

	// ── Providers ─────────────────────────────────────────────────────────────
	b := newBuilder(ctx, cfg)
	defer b.close()
	providers, err := b.build()
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg, providers,
		app.WithMetrics(metrics),
		app.WithVersion(version),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		if new.Server.LogLevel != old.Server.LogLevel {
			level.Set(slogLevel(new.Server.LogLevel))
			slog.Info("log level changed", "level", new.Server.LogLevel)
		}
		application.ApplyConfig(old, new)
	}, config.WithOverride(overrides))
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		go func() {
			for range hup {
				if _, err := watcher.Reload(); err != nil {
					slog.Warn("config reload failed", "err", err)
				}
			}
		}()
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	checks := health.New(application.Checkers()...)
	checks.Add(b.checkers...)
	mux := http.NewServeMux()
	checks.Register(mux)
	mux.Handle("GET /metrics", telemetry.Handler())
	application.Register(mux)
	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	printStartupSummary(cfg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	g.Go(func() error {
		if err := application.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	// Reading stdin cannot be interrupted, so it is not part of the group.
	restoreTerminal := func() {}
	if !*noKeyboard {
		restoreTerminal = startKeyboard(gctx, application, logOut, stop)
	}
	defer restoreTerminal()

	slog.Info("server ready, press Ctrl+C to shut down", "addr", cfg.Server.ListenAddr)

	runErr := g.Wait()
	restoreTerminal()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil {
		slog.Error("run error", "err", runErr)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ff9f")).Padding(0, 1)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6e7681")).Width(14)
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#00ff9f")).Padding(0, 1)
)

func printStartupSummary(cfg *config.Config) {
	rows := []string{titleStyle.Render("voice-assistant " + version)}
	add := func(label, value string) {
		rows = append(rows, labelStyle.Render(label)+value)
	}
	add("STT", providerLabel(cfg.Providers.STT))
	add("TTS", providerLabel(cfg.Providers.TTS))
	add("LLM", providerLabel(cfg.Providers.LLM))
	add("Embeddings", providerLabel(cfg.Providers.Embeddings))
	add("Calendar", providerLabel(cfg.Providers.Calendar))
	add("Web search", providerLabel(cfg.Providers.WebSearch))
	if cfg.Knowledge.PostgresDSN != "" {
		add("Knowledge", cfg.Knowledge.Collection)
	} else {
		add("Knowledge", "(disabled)")
	}
	if cfg.Cache.RedisAddr != "" {
		add("Cache", cfg.Cache.RedisAddr)
	}
	if cfg.MCP.Enabled {
		add("Tools", cfg.Server.ListenAddr+cfg.MCP.Path)
	}
	add("Listen addr", cfg.Server.ListenAddr)
	fmt.Println(boxStyle.Render(strings.Join(rows, "\n")))
}

func providerLabel(e config.ProviderEntry) string {
	if e.Name == "" {
		return "(not configured)"
	}
	label := e.Name
	if e.Model != "" {
		label += " / " + e.Model
	}
	if n := len(e.Fallbacks); n > 0 {
		label += fmt.Sprintf(" (+%d fallback)", n)
	}
	return label
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(w io.Writer, format config.LogFormat, level slog.Leveler) *slog.Logger {
	if format == "" {
		format = config.LogFormatText
		if term.IsTerminal(int(os.Stderr.Fd())) {
			format = config.LogFormatTint
		}
	}
	switch format {
	case config.LogFormatJSON:
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	case config.LogFormatTint:
		return slog.New(tint.NewHandler(w, &tint.Options{Level: level, TimeFormat: time.Kitchen}))
	default:
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	}
}
