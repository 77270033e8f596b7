// Package router decides where the context for a question comes from.
//
// Branches are tried in a fixed order and the first that applies wins:
//
//  1. Knowledge: the query is embedded and searched in the knowledge base. If
//     any hit scores above the knowledge threshold, every returned hit becomes
//     context.
//  2. Calendar: the query mentions a calendar keyword. The upcoming week of
//     events becomes context, or the calendar error text when it cannot be
//     read.
//  3. Web: the top result bodies of a web search become context.
//  4. Direct: nothing applied, so the bare query goes to the language model.
//
// A failing branch is logged and the router moves on; only a cancelled
// context makes Route fail.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/stephen37/voice-assistant/internal/observe"
	"github.com/stephen37/voice-assistant/pkg/memory"
	"github.com/stephen37/voice-assistant/pkg/provider/calendar"
	"github.com/stephen37/voice-assistant/pkg/provider/embeddings"
	"github.com/stephen37/voice-assistant/pkg/provider/websearch"
	"github.com/stephen37/voice-assistant/pkg/types"
)

// ErrEmptyQuery is returned by Route for a blank query.
var ErrEmptyQuery = errors.New("router: empty query")

// ErrNoCalendar is reported in the calendar prompt when a calendar query
// arrives and no calendar is configured.
var ErrNoCalendar = errors.New("calendar is not configured")

// snippetLogLen is how much of each context snippet is logged.
const snippetLogLen = 100

// Settings are the router's tunables. They can be swapped at runtime with
// [Router.Update].
type Settings struct {
	// KnowledgeThreshold is the similarity a hit must exceed (strictly) for
	// the knowledge branch to apply.
	KnowledgeThreshold float64

	// KnowledgeLimit is how many hits are retrieved.
	KnowledgeLimit int

	// CalendarKeywords trigger the calendar branch when found, case
	// insensitively, anywhere in the query.
	CalendarKeywords []string

	// CalendarWindow is how far past today's midnight events are read.
	CalendarWindow time.Duration

	// WebMaxResults is how many results are requested from web search.
	WebMaxResults int

	// WebContextResults is how many result bodies become context.
	WebContextResults int

	// LearnFromWeb indexes web result bodies into the knowledge base so later
	// questions on the same topic take the knowledge branch.
	LearnFromWeb bool
}

// DefaultSettings returns the stock routing behaviour.
func DefaultSettings() Settings {
	return Settings{
		KnowledgeThreshold: 0.4,
		KnowledgeLimit:     3,
		CalendarKeywords:   []string{"calendar", "schedule", "events", "appointment"},
		CalendarWindow:     calendar.DefaultWindow,
		WebMaxResults:      5,
		WebContextResults:  3,
	}
}

// withDefaults fills zero counts and durations from DefaultSettings. The
// threshold and keywords are taken as given.
func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.KnowledgeLimit <= 0 {
		s.KnowledgeLimit = d.KnowledgeLimit
	}
	if s.CalendarWindow <= 0 {
		s.CalendarWindow = d.CalendarWindow
	}
	if s.WebMaxResults <= 0 {
		s.WebMaxResults = d.WebMaxResults
	}
	if s.WebContextResults <= 0 {
		s.WebContextResults = d.WebContextResults
	}
	s.CalendarKeywords = append([]string(nil), s.CalendarKeywords...)
	return s
}

// Decision is the router's verdict for one query.
type Decision struct {
	// Route is the branch that supplied the context.
	Route types.Route

	// Prompt is the text to send to the language model.
	Prompt string

	// Snippets are the individual context passages, event lines or result
	// bodies. Empty for the direct route.
	Snippets []string

	// Hits are the knowledge base results, when the knowledge branch applied.
	Hits []types.SearchHit
}

// Option configures a Router.
type Option func(*Router)

// WithSettings replaces DefaultSettings.
func WithSettings(s Settings) Option {
	return func(r *Router) {
		s = s.withDefaults()
		r.settings.Store(&s)
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// WithClock overrides time.Now for the calendar window.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// Router picks a branch for each query. It is safe for concurrent use.
//
// Any of the sources may be nil: a nil knowledge base or embedder skips the
// knowledge branch, a nil calendar answers calendar queries with
// [ErrNoCalendar] and a nil web search falls through to the direct route.
type Router struct {
	kb      memory.KnowledgeBase
	emb     embeddings.Provider
	cal     calendar.Provider
	web     websearch.Provider
	metrics *observe.Metrics
	now     func() time.Time

	settings atomic.Pointer[Settings]
}

// New returns a Router over the given sources.
func New(kb memory.KnowledgeBase, emb embeddings.Provider, cal calendar.Provider, web websearch.Provider, opts ...Option) *Router {
	r := &Router{kb: kb, emb: emb, cal: cal, web: web, now: time.Now}
	defaults := DefaultSettings()
	r.settings.Store(&defaults)
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// Settings returns a copy of the active settings.
func (r *Router) Settings() Settings {
	s := *r.settings.Load()
	s.CalendarKeywords = append([]string(nil), s.CalendarKeywords...)
	return s
}

// Update swaps the active settings. Queries already being routed finish with
// the settings they started with.
func (r *Router) Update(s Settings) {
	s = s.withDefaults()
	r.settings.Store(&s)
	slog.Info("router settings updated",
		"knowledge_threshold", s.KnowledgeThreshold,
		"calendar_keywords", s.CalendarKeywords,
		"learn_from_web", s.LearnFromWeb,
	)
}

// Route chooses a branch for query and builds its prompt.
func (r *Router) Route(ctx context.Context, query string) (Decision, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Decision{}, ErrEmptyQuery
	}
	start := time.Now()
	s := r.settings.Load()

	ctx, span := observe.StartSpan(ctx, "router.route")
	defer span.End()

	d, err := r.route(ctx, query, s)
	if err != nil {
		observe.Fail(span, err)
		return Decision{}, err
	}
	span.SetAttributes(attribute.String("route", string(d.Route)))
	r.metrics.RecordRoute(ctx, string(d.Route), time.Since(start).Seconds())
	slog.Info("query routed", "route", d.Route, "snippets", len(d.Snippets), "duration", time.Since(start))
	return d, nil
}

func (r *Router) route(ctx context.Context, query string, s *Settings) (Decision, error) {
	if d, ok := r.knowledge(ctx, query, s); ok {
		return d, nil
	}
	if err := ctx.Err(); err != nil {
		return Decision{}, fmt.Errorf("router: %w", err)
	}
	if MentionsCalendar(query, s.CalendarKeywords) {
		return r.calendar(ctx, query, s), nil
	}
	if d, ok := r.webSearch(ctx, query, s); ok {
		return d, nil
	}
	if err := ctx.Err(); err != nil {
		return Decision{}, fmt.Errorf("router: %w", err)
	}
	slog.Info("no context found, answering directly")
	return Decision{Route: types.RouteDirect, Prompt: query}, nil
}

// ── branches ─────────────────────────────────────────────────────────────────

func (r *Router) knowledge(ctx context.Context, query string, s *Settings) (Decision, bool) {
	if r.kb == nil || r.emb == nil {
		return Decision{}, false
	}
	start := time.Now()
	hits, err := memory.SearchText(ctx, r.kb, r.emb, query, s.KnowledgeLimit)
	r.metrics.RecordSearch(ctx, "knowledge", time.Since(start).Seconds())
	if err != nil {
		slog.Warn("knowledge search failed, trying other sources", "err", err)
		return Decision{}, false
	}

	relevant := false
	for _, h := range hits {
		slog.Debug("knowledge hit", "score", h.Distance, "text", truncate(h.Text, snippetLogLen))
		if h.Distance > s.KnowledgeThreshold {
			relevant = true
		}
	}
	if !relevant {
		return Decision{}, false
	}

	texts := make([]string, len(hits))
	for i, h := range hits {
		texts[i] = h.Text
	}
	logSnippets("found relevant information in knowledge base", texts)
	return Decision{
		Route:    types.RouteKnowledge,
		Prompt:   KnowledgePrompt(strings.Join(texts, "\n"), query),
		Snippets: texts,
		Hits:     hits,
	}, true
}

func (r *Router) calendar(ctx context.Context, query string, s *Settings) Decision {
	from, to := calendar.Window(r.now(), s.CalendarWindow)

	var (
		events []types.CalendarEvent
		err    = ErrNoCalendar
	)
	start := time.Now()
	if r.cal != nil {
		events, err = r.cal.UpcomingEvents(ctx, from, to)
	}
	r.metrics.RecordSearch(ctx, "calendar", time.Since(start).Seconds())

	var text string
	var snippets []string
	if err != nil {
		slog.Warn("calendar unavailable", "err", err)
		text = CalendarError(err)
	} else {
		text = FormatEvents(events)
		for _, e := range events {
			snippets = append(snippets, FormatEvent(e))
		}
		slog.Info("processing calendar query", "events", len(events), "from", from.Format(time.DateOnly), "to", to.Format(time.DateOnly))
	}
	return Decision{
		Route:    types.RouteCalendar,
		Prompt:   CalendarPrompt(text, query),
		Snippets: snippets,
	}
}

func (r *Router) webSearch(ctx context.Context, query string, s *Settings) (Decision, bool) {
	if r.web == nil {
		return Decision{}, false
	}
	start := time.Now()
	results, err := r.web.Search(ctx, query, s.WebMaxResults)
	r.metrics.RecordSearch(ctx, "web", time.Since(start).Seconds())
	if err != nil {
		slog.Warn("web search failed", "err", err)
		return Decision{}, false
	}
	bodies := websearch.Bodies(results, s.WebContextResults)
	if len(bodies) == 0 {
		slog.Info("no web results found")
		return Decision{}, false
	}
	logSnippets("found relevant web results", bodies)

	if s.LearnFromWeb {
		r.learn(ctx, websearch.Bodies(results, len(results)))
	}
	return Decision{
		Route:    types.RouteWeb,
		Prompt:   WebPrompt(strings.Join(bodies, "\n"), query),
		Snippets: bodies,
	}, true
}

// learn indexes web passages into the knowledge base. Failures only cost the
// chance to answer from the knowledge base next time, so they are logged.
func (r *Router) learn(ctx context.Context, bodies []string) {
	if r.kb == nil || r.emb == nil {
		return
	}
	n, err := memory.IndexTexts(ctx, r.kb, r.emb, "web", bodies...)
	if err != nil {
		slog.Warn("failed to learn from web results", "err", err)
		return
	}
	r.metrics.LearnedChunks.Add(ctx, int64(n))
	slog.Info("learned from web results", "chunks", n)
}

func logSnippets(msg string, snippets []string) {
	attrs := make([]any, 0, 2*len(snippets))
	for i, s := range snippets {
		attrs = append(attrs, fmt.Sprintf("snippet_%d", i+1), truncate(s, snippetLogLen))
	}
	slog.Info(msg, attrs...)
}
