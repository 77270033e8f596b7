// Package app wires the assistant's subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the transcript worker, and Shutdown tears
// everything down in order.
//
// For testing, inject mock implementations through [Providers] and the
// functional options (WithKnowledgeBase, WithMetrics). When the knowledge
// base is not injected, New opens the PostgreSQL store named in the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/stephen37/voice-assistant/internal/answer"
	"github.com/stephen37/voice-assistant/internal/config"
	"github.com/stephen37/voice-assistant/internal/health"
	"github.com/stephen37/voice-assistant/internal/listener"
	"github.com/stephen37/voice-assistant/internal/mcp"
	"github.com/stephen37/voice-assistant/internal/observe"
	"github.com/stephen37/voice-assistant/internal/router"
	"github.com/stephen37/voice-assistant/internal/speaker"
	"github.com/stephen37/voice-assistant/internal/transcript"
	"github.com/stephen37/voice-assistant/pkg/audio"
	"github.com/stephen37/voice-assistant/pkg/memory"
	"github.com/stephen37/voice-assistant/pkg/memory/postgres"
	"github.com/stephen37/voice-assistant/pkg/provider/calendar"
	"github.com/stephen37/voice-assistant/pkg/provider/embeddings"
	"github.com/stephen37/voice-assistant/pkg/provider/llm"
	"github.com/stephen37/voice-assistant/pkg/provider/stt"
	"github.com/stephen37/voice-assistant/pkg/provider/tts"
	"github.com/stephen37/voice-assistant/pkg/provider/websearch"
	"github.com/stephen37/voice-assistant/pkg/types"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	STT        stt.Provider
	TTS        tts.Provider
	LLM        llm.Provider
	Embeddings embeddings.Provider
	Calendar   calendar.Provider
	WebSearch  websearch.Provider
	Microphone audio.Microphone
	Output     audio.Output
}

// App owns all subsystem lifetimes and runs the voice loop.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	version   string

	// Subsystems, initialised in New.
	kb       memory.KnowledgeBase
	store    *postgres.Store
	listener *listener.Listener
	router   *router.Router
	answerer *answer.Answerer
	speaker  *speaker.Speaker
	tools    *mcp.Server

	// ctx bounds every listening session; Shutdown cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	// Listening state, see listening.go.
	ctlMu     sync.Mutex
	listening atomic.Bool
	speaking  bool
	busy      atomic.Bool
	finals    chan types.Transcript

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithKnowledgeBase injects a knowledge base instead of opening the
// PostgreSQL store from config.
func WithKnowledgeBase(kb memory.KnowledgeBase) Option {
	return func(a *App) { a.kb = kb }
}

// WithMetrics sets the metrics sink shared by every subsystem.
// Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithVersion sets the version reported by the tool server.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
//
// New performs all initialisation synchronously: knowledge base connection
// and seeding, listener, router, answerer and speaker construction, and the
// optional tool server. Listening starts in Run when configured.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if err := checkProviders(providers); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		version:   "dev",
		finals:    make(chan types.Transcript, 1),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.ctx, a.cancel = context.WithCancel(context.WithoutCancel(ctx))

	// ── 1. Knowledge base ────────────────────────────────────────────────
	if err := a.initKnowledge(ctx); err != nil {
		a.cancel()
		a.close()
		return nil, fmt.Errorf("app: init knowledge: %w", err)
	}

	// ── 2. Listener ──────────────────────────────────────────────────────
	a.initListener()

	// ── 3. Router, answerer, speaker ─────────────────────────────────────
	a.initPipeline()

	// ── 4. Tool server ───────────────────────────────────────────────────
	if cfg.MCP.Enabled {
		a.tools = mcp.NewServer(mcp.Deps{
			Knowledge:  a.kb,
			Embeddings: providers.Embeddings,
			Calendar:   providers.Calendar,
			WebSearch:  providers.WebSearch,
			Asker:      a,
		}, mcp.WithMetrics(a.metrics), mcp.WithVersion(a.version))
		slog.Info("tool server enabled", "path", cfg.MCP.Path, "tools", a.tools.Tools())
	}

	return a, nil
}

// checkProviders reports the required slots that are empty.
func checkProviders(p *Providers) error {
	if p == nil {
		return errors.New("providers are required")
	}
	var errs []error
	if p.STT == nil {
		errs = append(errs, errors.New("stt provider is required"))
	}
	if p.TTS == nil {
		errs = append(errs, errors.New("tts provider is required"))
	}
	if p.LLM == nil {
		errs = append(errs, errors.New("llm provider is required"))
	}
	if p.Microphone == nil {
		errs = append(errs, errors.New("microphone is required"))
	}
	if p.Output == nil {
		errs = append(errs, errors.New("audio output is required"))
	}
	return errors.Join(errs...)
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initKnowledge opens the PostgreSQL store unless one was injected, then
// seeds it.
func (a *App) initKnowledge(ctx context.Context) error {
	if a.kb == nil && a.cfg.Knowledge.PostgresDSN != "" {
		store, err := postgres.NewStore(ctx, a.cfg.Knowledge.PostgresDSN,
			postgres.WithCollection(a.cfg.Knowledge.Collection),
			postgres.WithDimensions(a.cfg.Knowledge.Dimensions),
		)
		if err != nil {
			return err
		}
		a.store = store
		a.kb = store
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
	}
	if a.kb == nil {
		slog.Warn("no knowledge base configured, questions go to the calendar or the web")
		return nil
	}
	if a.providers.Embeddings == nil {
		return errors.New("an embeddings provider is required with a knowledge base")
	}
	if a.cfg.Knowledge.ShouldSeed() {
		n, err := Seed(ctx, a.kb, a.providers.Embeddings)
		if err != nil {
			return err
		}
		slog.Info("knowledge base seeded", "passages", n)
	}
	n, err := a.kb.Count(ctx)
	if err != nil {
		slog.Warn("failed to count knowledge base passages", "err", err)
		return nil
	}
	slog.Info("knowledge base ready", "passages", n)
	return nil
}

// initListener builds the listener with the transcript corrector.
func (a *App) initListener() {
	vocab := a.cfg.Assistant.Vocabulary
	if len(vocab) == 0 {
		vocab = transcript.DefaultVocabulary()
	}
	corrector := transcript.New(vocab)
	a.listener = listener.New(a.providers.Microphone, a.providers.STT, stt.StreamConfig{
		SampleRate: audio.SpeechFormat.SampleRate,
		Channels:   audio.SpeechFormat.Channels,
		Language:   a.cfg.Assistant.Language,
		Keywords:   corrector.Keywords(),
	},
		listener.WithCorrector(corrector),
		listener.WithMetrics(a.metrics),
	)
}

// initPipeline builds the router, answerer and speaker.
func (a *App) initPipeline() {
	p := a.providers
	a.router = router.New(a.kb, p.Embeddings, p.Calendar, p.WebSearch,
		router.WithSettings(RouterSettings(a.cfg.Router)),
		router.WithMetrics(a.metrics),
	)

	answerOpts := []answer.Option{
		answer.WithTemperature(a.cfg.Assistant.Temperature),
		answer.WithMaxTokens(a.cfg.Assistant.MaxTokens),
		answer.WithProviderName(a.cfg.Providers.LLM.Name),
		answer.WithMetrics(a.metrics),
	}
	if a.cfg.Assistant.SystemPrompt != "" {
		answerOpts = append(answerOpts, answer.WithSystemPrompt(a.cfg.Assistant.SystemPrompt))
	}
	a.answerer = answer.New(p.LLM, answerOpts...)

	speakerOpts := []speaker.Option{
		speaker.WithVoice(types.VoiceProfile{
			ID:          a.cfg.Assistant.Voice.VoiceID,
			Provider:    a.cfg.Providers.TTS.Name,
			SpeedFactor: a.cfg.Assistant.Voice.SpeedFactor,
		}),
		speaker.WithListener(a.listener, a.resume),
		speaker.WithProviderName(a.cfg.Providers.TTS.Name),
		speaker.WithMetrics(a.metrics),
	}
	if a.cfg.Assistant.ResumeDelay > 0 {
		speakerOpts = append(speakerOpts, speaker.WithResumeDelay(a.cfg.Assistant.ResumeDelay))
	}
	a.speaker = speaker.New(p.TTS, p.Output, speakerOpts...)
}

// RouterSettings converts the router config section.
func RouterSettings(rc config.RouterConfig) router.Settings {
	return router.Settings{
		KnowledgeThreshold: rc.KnowledgeThreshold,
		KnowledgeLimit:     rc.KnowledgeLimit,
		CalendarKeywords:   append([]string(nil), rc.CalendarKeywords...),
		CalendarWindow:     rc.CalendarWindow,
		WebMaxResults:      rc.WebMaxResults,
		WebContextResults:  rc.WebContextResults,
		LearnFromWeb:       rc.LearnFromWeb,
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Router returns the query router.
func (a *App) Router() *router.Router { return a.router }

// Tools returns the tool server, or nil when it is disabled.
func (a *App) Tools() *mcp.Server { return a.tools }

// Checkers returns readiness checks for the backends New connected to.
func (a *App) Checkers() []health.Checker {
	if a.store == nil {
		return nil
	}
	return []health.Checker{health.Ping("postgres", a.store)}
}

// ApplyConfig is the config watcher callback. Router settings are applied
// live; sections that need a restart are logged.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.RouterChanged {
		a.router.Update(RouterSettings(new.Router))
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the transcript worker and blocks until ctx is cancelled.
//
// When assistant.start_listening is set, listening is turned on first;
// otherwise the assistant waits for a toggle. When ctx is done, Run returns
// context.Canceled (or the underlying cause).
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(a.ctx, cancel)
	defer stop()

	if a.cfg.Assistant.StartListening {
		if err := a.SetListening(ctx, true); err != nil {
			return fmt.Errorf("app: start listening: %w", err)
		}
	}

	var wg sync.WaitGroup
	wg.Go(func() { a.work(ctx) })

	slog.Info("assistant ready", "listening", a.Listening())
	<-ctx.Done()

	wg.Wait()
	return ctx.Err()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops listening and tears down all subsystems in reverse-init
// order. It respects the context deadline: if ctx expires before all closers
// finish, remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		a.cancel()
		a.ctlMu.Lock()
		if a.listening.Swap(false) {
			a.metrics.RecordListening(ctx, false)
		}
		if err := a.listener.Stop(); err != nil {
			slog.Warn("listener stop error", "err", err)
		}
		a.ctlMu.Unlock()

		shutdownErr = a.closeCtx(ctx)
		if shutdownErr == nil {
			slog.Info("shutdown complete")
		}
	})
	return shutdownErr
}

// close runs every closer without a deadline.
func (a *App) close() { _ = a.closeCtx(context.Background()) }

func (a *App) closeCtx(ctx context.Context) error {
	for i := len(a.closers) - 1; i >= 0; i-- {
		select {
		case <-ctx.Done():
			slog.Warn("shutdown deadline exceeded", "remaining", i+1)
			return ctx.Err()
		default:
		}
		if err := a.closers[i](); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	a.closers = nil
	return nil
}
