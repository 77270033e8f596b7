package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/stephen37/voice-assistant/pkg/provider/calendar"
	"github.com/stephen37/voice-assistant/pkg/provider/embeddings"
	"github.com/stephen37/voice-assistant/pkg/provider/llm"
	"github.com/stephen37/voice-assistant/pkg/provider/stt"
	"github.com/stephen37/voice-assistant/pkg/provider/tts"
	"github.com/stephen37/voice-assistant/pkg/provider/websearch"
)

// ErrProviderNotRegistered is returned when a [ProviderEntry] names a
// provider nobody registered.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its config entry.
type Factory[T any] func(ProviderEntry) (T, error)

// factories is one kind's name to Factory table.
type factories[T any] struct {
	kind string

	mu sync.RWMutex
	m  map[string]Factory[T]
}

func (f *factories[T]) add(name string, fn Factory[T]) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.m == nil {
		f.m = make(map[string]Factory[T])
	}
	f.m[name] = fn
}

func (f *factories[T]) create(entry ProviderEntry) (T, error) {
	f.mu.RLock()
	fn, ok := f.m[entry.Name]
	names := slices.Sorted(maps.Keys(f.m))
	f.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s %q (registered: %s)", ErrProviderNotRegistered, f.kind, entry.Name, strings.Join(names, ", "))
	}
	return fn(entry)
}

// Registry maps provider names in the config to constructors, one table per
// provider kind. Registering a name twice replaces the first factory. It is
// safe for concurrent use.
type Registry struct {
	stt        factories[stt.Provider]
	tts        factories[tts.Provider]
	llm        factories[llm.Provider]
	embeddings factories[embeddings.Provider]
	calendar   factories[calendar.Provider]
	webSearch  factories[websearch.Provider]
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.stt.kind, r.tts.kind, r.llm.kind = "stt", "tts", "llm"
	r.embeddings.kind, r.calendar.kind, r.webSearch.kind = "embeddings", "calendar", "web_search"
	return r
}

// RegisterSTT registers fn as the speech-to-text provider called name. The
// other Register methods do the same for their kind.
func (r *Registry) RegisterSTT(name string, fn Factory[stt.Provider]) { r.stt.add(name, fn) }
func (r *Registry) RegisterTTS(name string, fn Factory[tts.Provider]) { r.tts.add(name, fn) }
func (r *Registry) RegisterLLM(name string, fn Factory[llm.Provider]) { r.llm.add(name, fn) }
func (r *Registry) RegisterCalendar(name string, fn Factory[calendar.Provider]) {
	r.calendar.add(name, fn)
}
func (r *Registry) RegisterEmbeddings(name string, fn Factory[embeddings.Provider]) {
	r.embeddings.add(name, fn)
}
func (r *Registry) RegisterWebSearch(name string, fn Factory[websearch.Provider]) {
	r.webSearch.add(name, fn)
}

// CreateSTT builds the speech-to-text provider entry names.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) { return r.stt.create(entry) }

// CreateTTS builds the text-to-speech provider entry names.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) { return r.tts.create(entry) }

// CreateLLM builds the language model entry names.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) { return r.llm.create(entry) }

// CreateEmbeddings builds the embeddings provider entry names.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	return r.embeddings.create(entry)
}

// CreateCalendar builds the calendar provider entry names.
func (r *Registry) CreateCalendar(entry ProviderEntry) (calendar.Provider, error) {
	return r.calendar.create(entry)
}

// CreateWebSearch builds the web search provider entry names.
func (r *Registry) CreateWebSearch(entry ProviderEntry) (websearch.Provider, error) {
	return r.webSearch.create(entry)
}
