package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr = ":8080"
	DefaultCollection = "audio_assistant"
	DefaultDimensions = 1024
	DefaultMCPPath    = "/mcp"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":        {"assemblyai", "deepgram"},
	"tts":        {"elevenlabs"},
	"llm":        {"ollama", "openai", "anthropic", "gemini", "mistral", "groq", "deepseek", "llamacpp", "llamafile"},
	"embeddings": {"jina", "ollama", "openai"},
	"calendar":   {"google"},
	"web_search": {"duckduckgo"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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

// LoadFromReader decodes a YAML config from r, expands ${VAR} references from
// the environment, applies defaults and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.Expand(string(raw), lookupEnv)

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// lookupEnv resolves ${VAR} and ${VAR:-default}. Unset variables expand to
// the empty string.
func lookupEnv(key string) string {
	name, def, hasDef := strings.Cut(key, ":-")
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v
	}
	if hasDef {
		return def
	}
	return ""
}

// Default returns a configuration that runs the stock hosted stack.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills unset fields. Router fields are left alone; the router
// substitutes its own defaults for zero values.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	defaultName(&cfg.Providers.STT, "assemblyai")
	defaultName(&cfg.Providers.TTS, "elevenlabs")
	defaultName(&cfg.Providers.LLM, "ollama")
	defaultName(&cfg.Providers.Embeddings, "jina")
	defaultName(&cfg.Providers.WebSearch, "duckduckgo")
	if cfg.Providers.LLM.Name == "ollama" && cfg.Providers.LLM.Model == "" {
		cfg.Providers.LLM.Model = "llama3.2"
	}
	if cfg.Knowledge.Collection == "" {
		cfg.Knowledge.Collection = DefaultCollection
	}
	if cfg.Knowledge.Dimensions == 0 {
		cfg.Knowledge.Dimensions = DefaultDimensions
	}
	if cfg.MCP.Path == "" {
		cfg.MCP.Path = DefaultMCPPath
	}
}

func defaultName(e *ProviderEntry, name string) {
	if e.Name == "" {
		e.Name = name
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: tint, text, json", cfg.Server.LogFormat))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Provider name validation: warn for unknown provider names.
	validateProvider("stt", cfg.Providers.STT)
	validateProvider("tts", cfg.Providers.TTS)
	validateProvider("llm", cfg.Providers.LLM)
	validateProvider("embeddings", cfg.Providers.Embeddings)
	validateProvider("calendar", cfg.Providers.Calendar)
	validateProvider("web_search", cfg.Providers.WebSearch)

	for _, slot := range []struct {
		kind  string
		entry ProviderEntry
	}{
		{"stt", cfg.Providers.STT},
		{"tts", cfg.Providers.TTS},
		{"llm", cfg.Providers.LLM},
	} {
		if slot.entry.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s.name is required", slot.kind))
		}
		for i, fb := range slot.entry.Fallbacks {
			if fb.Name == "" {
				errs = append(errs, fmt.Errorf("providers.%s.fallbacks[%d].name is required", slot.kind, i))
			}
		}
	}
	for _, slot := range []struct {
		kind  string
		entry ProviderEntry
	}{
		{"embeddings", cfg.Providers.Embeddings},
		{"calendar", cfg.Providers.Calendar},
		{"web_search", cfg.Providers.WebSearch},
	} {
		if len(slot.entry.Fallbacks) > 0 {
			errs = append(errs, fmt.Errorf("providers.%s.fallbacks is not supported", slot.kind))
		}
	}

	// Knowledge
	if cfg.Knowledge.Dimensions < 0 {
		errs = append(errs, fmt.Errorf("knowledge.dimensions %d must be positive", cfg.Knowledge.Dimensions))
	}
	if cfg.Knowledge.PostgresDSN != "" && cfg.Providers.Embeddings.Name == "" {
		errs = append(errs, errors.New("knowledge.postgres_dsn requires providers.embeddings"))
	}
	if cfg.Knowledge.PostgresDSN == "" {
		slog.Warn("knowledge.postgres_dsn is empty; questions will skip the knowledge base")
	}

	// Router
	r := cfg.Router
	if r.KnowledgeThreshold < 0 || r.KnowledgeThreshold > 1 {
		errs = append(errs, fmt.Errorf("router.knowledge_threshold %.2f is out of range [0, 1]", r.KnowledgeThreshold))
	}
	if r.KnowledgeLimit < 0 {
		errs = append(errs, fmt.Errorf("router.knowledge_limit %d must not be negative", r.KnowledgeLimit))
	}
	if r.CalendarWindow < 0 {
		errs = append(errs, fmt.Errorf("router.calendar_window %s must not be negative", r.CalendarWindow))
	}
	if r.WebMaxResults < 0 || r.WebContextResults < 0 {
		errs = append(errs, errors.New("router.web_max_results and router.web_context_results must not be negative"))
	}
	if r.WebMaxResults > 0 && r.WebContextResults > r.WebMaxResults {
		errs = append(errs, fmt.Errorf("router.web_context_results %d exceeds web_max_results %d", r.WebContextResults, r.WebMaxResults))
	}
	if slices.ContainsFunc(r.CalendarKeywords, func(k string) bool { return strings.TrimSpace(k) == "" }) {
		errs = append(errs, errors.New("router.calendar_keywords must not contain blank entries"))
	}
	if r.LearnFromWeb && cfg.Knowledge.PostgresDSN == "" {
		slog.Warn("router.learn_from_web has no effect without knowledge.postgres_dsn")
	}

	// Assistant
	a := cfg.Assistant
	if a.Temperature < 0 || a.Temperature > 2 {
		errs = append(errs, fmt.Errorf("assistant.temperature %.2f is out of range [0, 2]", a.Temperature))
	}
	if a.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("assistant.max_tokens %d must not be negative", a.MaxTokens))
	}
	if a.ResumeDelay < 0 {
		errs = append(errs, fmt.Errorf("assistant.resume_delay %s must not be negative", a.ResumeDelay))
	}
	if s := a.Voice.SpeedFactor; s != 0 && (s < 0.5 || s > 2.0) {
		errs = append(errs, fmt.Errorf("assistant.voice.speed_factor %.2f is out of range [0.5, 2.0]", s))
	}

	// Audio
	if cfg.Audio.FrameDuration < 0 {
		errs = append(errs, fmt.Errorf("audio.frame_duration %s must not be negative", cfg.Audio.FrameDuration))
	}
	if cfg.Audio.OutputRate < 0 {
		errs = append(errs, fmt.Errorf("audio.output_rate %d must not be negative", cfg.Audio.OutputRate))
	}

	// Cache
	if cfg.Cache.TTL < 0 {
		errs = append(errs, fmt.Errorf("cache.ttl %s must not be negative", cfg.Cache.TTL))
	}

	// MCP
	if cfg.MCP.Enabled && !strings.HasPrefix(cfg.MCP.Path, "/") {
		errs = append(errs, fmt.Errorf("mcp.path %q must start with /", cfg.MCP.Path))
	}
	if cfg.MCP.Enabled && cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("mcp.enabled requires server.listen_addr"))
	}

	return errors.Join(errs...)
}

// validateProvider logs a warning if the entry or one of its fallbacks names
// a provider not found in [ValidProviderNames] for kind.
func validateProvider(kind string, e ProviderEntry) {
	validateProviderName(kind, e.Name)
	for _, fb := range e.Fallbacks {
		validateProviderName(kind, fb.Name)
	}
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

// ── Option accessors ─────────────────────────────────────────────────────────

// OptionString returns Options[key] as a string, or "" when absent.
func (e ProviderEntry) OptionString(key string) string {
	if v, ok := e.Options[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	}
	return ""
}

// OptionFloat returns Options[key] as a float64. ok is false when the key is
// absent or not numeric.
func (e ProviderEntry) OptionFloat(key string) (f float64, ok bool) {
	switch v := e.Options[key].(type) {
	case int:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

// OptionDuration parses Options[key] with time.ParseDuration. ok is false
// when the key is absent or malformed.
func (e ProviderEntry) OptionDuration(key string) (d time.Duration, ok bool) {
	s := e.OptionString(key)
	if s == "" {
		return 0, false
	}
	d, err := time.ParseDuration(s)
	return d, err == nil
}
