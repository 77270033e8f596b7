package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"golang.org/x/oauth2"

	"github.com/stephen37/voice-assistant/internal/app"
	"github.com/stephen37/voice-assistant/internal/config"
	"github.com/stephen37/voice-assistant/internal/health"
	"github.com/stephen37/voice-assistant/internal/resilience"
	"github.com/stephen37/voice-assistant/pkg/audio/beep"
	"github.com/stephen37/voice-assistant/pkg/audio/portaudio"
	"github.com/stephen37/voice-assistant/pkg/provider/calendar"
	"github.com/stephen37/voice-assistant/pkg/provider/calendar/google"
	"github.com/stephen37/voice-assistant/pkg/provider/embeddings"
	"github.com/stephen37/voice-assistant/pkg/provider/embeddings/jina"
	ollamaembed "github.com/stephen37/voice-assistant/pkg/provider/embeddings/ollama"
	oaembed "github.com/stephen37/voice-assistant/pkg/provider/embeddings/openai"
	"github.com/stephen37/voice-assistant/pkg/provider/llm"
	"github.com/stephen37/voice-assistant/pkg/provider/llm/anyllm"
	oallm "github.com/stephen37/voice-assistant/pkg/provider/llm/openai"
	"github.com/stephen37/voice-assistant/pkg/provider/stt"
	"github.com/stephen37/voice-assistant/pkg/provider/stt/assemblyai"
	"github.com/stephen37/voice-assistant/pkg/provider/stt/deepgram"
	"github.com/stephen37/voice-assistant/pkg/provider/tts"
	"github.com/stephen37/voice-assistant/pkg/provider/tts/elevenlabs"
	"github.com/stephen37/voice-assistant/pkg/provider/websearch"
	"github.com/stephen37/voice-assistant/pkg/provider/websearch/duckduckgo"
	"github.com/stephen37/voice-assistant/pkg/provider/websearch/rediscache"
)

// builder instantiates providers from the config and keeps what has to be
// closed or health-checked.
type builder struct {
	ctx      context.Context
	cfg      *config.Config
	reg      *config.Registry
	closers  []func() error
	checkers []health.Checker
}

func newBuilder(ctx context.Context, cfg *config.Config) *builder {
	b := &builder{ctx: ctx, cfg: cfg, reg: config.NewRegistry()}
	b.registerBuiltinProviders()
	return b
}

// close releases everything the providers opened, newest first.
func (b *builder) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			slog.Warn("provider close error", "err", err)
		}
	}
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// hostedLLMs share the same pattern: optional APIKey + optional BaseURL.
var hostedLLMs = []string{"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"}

// registerBuiltinProviders wires all built-in provider factories into the
// registry. Each factory receives a config.ProviderEntry and constructs the
// provider from the real implementation packages.
func (b *builder) registerBuiltinProviders() {
	reg := b.reg

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("assemblyai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []assemblyai.Option
		if entry.BaseURL != "" {
			opts = append(opts, assemblyai.WithEndpoint(entry.BaseURL))
		}
		if v, ok := entry.OptionFloat("end_of_turn_confidence"); ok {
			opts = append(opts, assemblyai.WithEndOfTurnConfidence(v))
		}
		return assemblyai.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := entry.OptionString("language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := entry.OptionString("output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if voice := entry.OptionString("voice_id"); voice != "" {
			opts = append(opts, elevenlabs.WithDefaultVoice(voice))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────

	for _, providerName := range hostedLLMs {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.NewOllama(entry.Model, opts...)
	})

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if d, ok := entry.OptionDuration("timeout"); ok {
			opts = append(opts, oallm.WithTimeout(d))
		}
		if n, ok := entry.OptionFloat("max_retries"); ok {
			opts = append(opts, oallm.WithMaxRetries(int(n)))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	dims := b.cfg.Knowledge.Dimensions

	reg.RegisterEmbeddings("jina", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		opts := []jina.Option{jina.WithDimensions(dims)}
		if entry.Model != "" {
			opts = append(opts, jina.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, jina.WithBaseURL(entry.BaseURL))
		}
		return jina.New(entry.APIKey, opts...)
	})

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		opts := []oaembed.Option{oaembed.WithDimensions(dims)}
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		opts := []ollamaembed.Option{ollamaembed.WithDimensions(dims)}
		if ka := entry.OptionString("keep_alive"); ka != "" {
			opts = append(opts, ollamaembed.WithKeepAlive(ka))
		}
		return ollamaembed.New(entry.BaseURL, entry.Model, opts...)
	})

	// ── Calendar ──────────────────────────────────────────────────────────────

	reg.RegisterCalendar("google", func(entry config.ProviderEntry) (calendar.Provider, error) {
		oauthCfg, store, err := openGoogle(entry)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, store.Close)
		var opts []google.Option
		if id := entry.OptionString("calendar_id"); id != "" {
			opts = append(opts, google.WithCalendarID(id))
		}
		return google.New(b.ctx, oauthCfg, store, entry.OptionString("account"), opts...)
	})

	// ── Web search ────────────────────────────────────────────────────────────

	reg.RegisterWebSearch("duckduckgo", func(entry config.ProviderEntry) (websearch.Provider, error) {
		var opts []duckduckgo.Option
		if entry.BaseURL != "" {
			opts = append(opts, duckduckgo.WithEndpoint(entry.BaseURL))
		}
		if region := entry.OptionString("region"); region != "" {
			opts = append(opts, duckduckgo.WithRegion(region))
		}
		if proxy := entry.OptionString("socks5_proxy"); proxy != "" {
			opts = append(opts, duckduckgo.WithSOCKS5(proxy))
		}
		return duckduckgo.New(opts...)
	})
}

// ── Construction ──────────────────────────────────────────────────────────────

// build instantiates every configured provider and the local audio devices.
func (b *builder) build() (*app.Providers, error) {
	cfg := b.cfg
	ps := &app.Providers{
		Microphone: portaudio.NewMicrophone(portaudio.WithFrameDuration(cfg.Audio.FrameDuration)),
		Output:     beep.NewSpeaker(beep.WithDeviceRate(cfg.Audio.OutputRate)),
	}
	var err error

	if ps.STT, err = withFallbacks(cfg.Providers.STT, "stt", b.reg.CreateSTT,
		func(p stt.Provider, name string, fc resilience.FallbackConfig) (stt.Provider, func(string, stt.Provider)) {
			fb := resilience.NewSTTFallback(p, name, fc)
			return fb, fb.AddFallback
		}); err != nil {
		return nil, err
	}
	if ps.TTS, err = withFallbacks(cfg.Providers.TTS, "tts", b.reg.CreateTTS,
		func(p tts.Provider, name string, fc resilience.FallbackConfig) (tts.Provider, func(string, tts.Provider)) {
			fb := resilience.NewTTSFallback(p, name, fc)
			return fb, fb.AddFallback
		}); err != nil {
		return nil, err
	}
	if ps.LLM, err = withFallbacks(cfg.Providers.LLM, "llm", b.reg.CreateLLM,
		func(p llm.Provider, name string, fc resilience.FallbackConfig) (llm.Provider, func(string, llm.Provider)) {
			fb := resilience.NewLLMFallback(p, name, fc)
			return fb, fb.AddFallback
		}); err != nil {
		return nil, err
	}

	if ps.Embeddings, err = optional(cfg.Providers.Embeddings, "embeddings", b.reg.CreateEmbeddings); err != nil {
		return nil, err
	}
	if ps.Calendar, err = optional(cfg.Providers.Calendar, "calendar", b.reg.CreateCalendar); err != nil {
		// A missing token should not keep the assistant from answering.
		slog.Warn("calendar disabled", "err", err)
		ps.Calendar = nil
	}
	if ps.WebSearch, err = optional(cfg.Providers.WebSearch, "web_search", b.reg.CreateWebSearch); err != nil {
		return nil, err
	}
	if ps.WebSearch != nil && cfg.Cache.RedisAddr != "" {
		ps.WebSearch = b.cacheWebSearch(ps.WebSearch)
	}

	return ps, nil
}

// cacheWebSearch wraps next with the Redis result cache. An unreachable
// server is logged and reported as degraded by the readiness check, but
// does not stop startup.
func (b *builder) cacheWebSearch(next websearch.Provider) websearch.Provider {
	cc := b.cfg.Cache
	rdb := rediscache.NewClient(cc.RedisAddr, cc.RedisPassword, cc.RedisDB)
	b.closers = append(b.closers, rdb.Close)
	cache := rediscache.New(next, rdb, rediscache.WithTTL(cc.TTL))
	b.checkers = append(b.checkers, health.Optional(health.Ping("redis", cache)))

	if err := cache.Ping(b.ctx); err != nil {
		slog.Warn("redis unreachable, web search cache degraded", "addr", cc.RedisAddr, "err", err)
	}
	slog.Info("web search cache enabled", "addr", cc.RedisAddr, "ttl", cc.TTL)
	return cache
}

// optional creates the provider named by entry, or returns nil when the slot
// is empty.
func optional[T any](entry config.ProviderEntry, kind string, create func(config.ProviderEntry) (T, error)) (T, error) {
	var zero T
	if entry.Name == "" {
		return zero, nil
	}
	p, err := create(entry)
	if err != nil {
		return zero, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name)
	return p, nil
}

// withFallbacks creates the provider for entry and, when fallbacks are
// configured, wraps it in a circuit-breaking fallback group.
func withFallbacks[T any](
	entry config.ProviderEntry,
	kind string,
	create func(config.ProviderEntry) (T, error),
	group func(primary T, name string, fc resilience.FallbackConfig) (T, func(string, T)),
) (T, error) {
	primary, err := optional(entry, kind, create)
	if err != nil || len(entry.Fallbacks) == 0 {
		return primary, err
	}

	fc := resilience.FallbackConfig{Kind: kind}
	wrapped, add := group(primary, entry.Name, fc)
	for _, fbEntry := range entry.Fallbacks {
		fb, err := optional(fbEntry, kind+" fallback", create)
		if err != nil {
			var zero T
			return zero, err
		}
		add(fbEntry.Name, fb)
	}
	return wrapped, nil
}

// ── Calendar authorization ────────────────────────────────────────────────────

// openGoogle loads the OAuth client credentials and opens the token store
// named in entry's options.
func openGoogle(entry config.ProviderEntry) (*oauth2.Config, *google.BadgerTokenStore, error) {
	credPath := entry.OptionString("credentials_file")
	if credPath == "" {
		credPath = "credentials.json"
	}
	raw, err := os.ReadFile(credPath)
	if err != nil {
		return nil, nil, fmt.Errorf("google calendar: read credentials: %w", err)
	}
	oauthCfg, err := google.LoadConfig(raw)
	if err != nil {
		return nil, nil, err
	}

	dir := entry.OptionString("token_dir")
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, nil, fmt.Errorf("google calendar: token dir: %w", err)
		}
		dir = filepath.Join(base, "voice-assistant", "tokens")
	}
	store, err := google.OpenTokenStore(dir)
	if err != nil {
		return nil, nil, err
	}
	return oauthCfg, store, nil
}

// authorizeCalendar runs the one-time consent flow for the configured
// calendar provider.
func authorizeCalendar(ctx context.Context, entry config.ProviderEntry) error {
	if entry.Name != "google" {
		return errors.New("providers.calendar.name must be \"google\" to authorize")
	}
	oauthCfg, store, err := openGoogle(entry)
	if err != nil {
		return err
	}
	defer store.Close()
	return google.Authorize(ctx, oauthCfg, store, entry.OptionString("account"), os.Stdout)
}
