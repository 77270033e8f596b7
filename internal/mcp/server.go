// Package mcp exposes the assistant's retrieval sources as Model Context
// Protocol tools so other agents can reuse them.
//
// The server is mounted on the HTTP API using the streamable HTTP transport.
// Four tools are offered:
//
//   - knowledge_search: similarity search over the knowledge base.
//   - calendar_upcoming: events from local midnight today onwards.
//   - web_search: web results for a query.
//   - ask: the full route-and-answer turn, returned as text instead of speech.
//
// A tool whose backend is not configured is not registered.
package mcp

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/stephen37/voice-assistant/internal/observe"
	"github.com/stephen37/voice-assistant/internal/router"
	"github.com/stephen37/voice-assistant/pkg/memory"
	"github.com/stephen37/voice-assistant/pkg/provider/calendar"
	"github.com/stephen37/voice-assistant/pkg/provider/embeddings"
	"github.com/stephen37/voice-assistant/pkg/provider/websearch"
	"github.com/stephen37/voice-assistant/pkg/types"
)

// Tool names.
const (
	ToolKnowledgeSearch  = "knowledge_search"
	ToolCalendarUpcoming = "calendar_upcoming"
	ToolWebSearch        = "web_search"
	ToolAsk              = "ask"
)

const (
	defaultSearchLimit = 3
	maxSearchLimit     = 20
	defaultWebResults  = 5
	maxCalendarDays    = 31
)

// Asker runs a full route-and-answer turn. It refuses while a spoken turn
// is in flight.
type Asker interface {
	Ask(ctx context.Context, question string) (types.Answer, error)
}

// Deps are the components behind the tools. Nil fields disable the tools
// that need them.
type Deps struct {
	Knowledge  memory.KnowledgeBase
	Embeddings embeddings.Provider
	Calendar   calendar.Provider
	WebSearch  websearch.Provider
	Asker      Asker
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithClock overrides time.Now for the calendar window.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithVersion sets the implementation version reported to clients.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// Server is an MCP server backed by the assistant's components.
type Server struct {
	deps    Deps
	metrics *observe.Metrics
	now     func() time.Time
	version string
	srv     *mcpsdk.Server
	tools   []string
}

// NewServer builds the MCP server and registers every tool whose
// dependencies are present.
func NewServer(deps Deps, opts ...Option) *Server {
	s := &Server{deps: deps, now: time.Now, version: "dev"}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	s.srv = mcpsdk.NewServer(&mcpsdk.Implementation{Name: "voice-assistant", Version: s.version}, nil)

	if deps.Knowledge != nil && deps.Embeddings != nil {
		addTool(s, &mcpsdk.Tool{
			Name:        ToolKnowledgeSearch,
			Description: "Search the assistant's knowledge base for passages similar to a query. Higher scores are closer matches.",
		}, s.knowledgeSearch)
	}
	if deps.Calendar != nil {
		addTool(s, &mcpsdk.Tool{
			Name:        ToolCalendarUpcoming,
			Description: "List calendar events from the start of today over the next few days.",
		}, s.calendarUpcoming)
	}
	if deps.WebSearch != nil {
		addTool(s, &mcpsdk.Tool{
			Name:        ToolWebSearch,
			Description: "Search the web and return result titles, URLs and snippets.",
		}, s.webSearch)
	}
	if deps.Asker != nil {
		addTool(s, &mcpsdk.Tool{
			Name:        ToolAsk,
			Description: "Ask the assistant a question. It consults its knowledge base, the calendar or the web, then answers in a few sentences.",
		}, s.ask)
	}
	return s
}

// MCP returns the underlying SDK server.
func (s *Server) MCP() *mcpsdk.Server { return s.srv }

// Tools returns the names of the registered tools.
func (s *Server) Tools() []string { return append([]string(nil), s.tools...) }

// Handler serves the streamable HTTP transport.
func (s *Server) Handler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return s.srv }, nil)
}

// addTool registers h under t, recording latency and outcome per call. A
// handler error is reported to the client as a tool error result.
func addTool[In, Out any](s *Server, t *mcpsdk.Tool, h func(context.Context, In) (string, Out, error)) {
	s.tools = append(s.tools, t.Name)
	mcpsdk.AddTool(s.srv, t, func(ctx context.Context, _ *mcpsdk.CallToolRequest, in In) (*mcpsdk.CallToolResult, Out, error) {
		ctx, span := observe.StartSpan(ctx, "mcp."+t.Name)
		defer span.End()

		start := time.Now()
		text, out, err := h(ctx, in)
		s.metrics.RecordToolCall(ctx, t.Name, time.Since(start).Seconds(), err)
		if err != nil {
			observe.Fail(span, err)
			observe.Logger(ctx).Warn("mcp tool failed", "tool", t.Name, "err", err)
			var zero Out
			return &mcpsdk.CallToolResult{
				IsError: true,
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}},
			}, zero, nil
		}
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
		}, out, nil
	})
}

// ── knowledge_search ─────────────────────────────────────────────────────────

// KnowledgeSearchInput are the knowledge_search arguments.
type KnowledgeSearchInput struct {
	Query string `json:"query" jsonschema:"the text to search for"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of passages, default 3"`
}

// Passage is a knowledge base hit.
type Passage struct {
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
	Source string  `json:"source,omitempty"`
}

// KnowledgeSearchOutput is the structured knowledge_search result.
type KnowledgeSearchOutput struct {
	Passages []Passage `json:"passages"`
}

func (s *Server) knowledgeSearch(ctx context.Context, in KnowledgeSearchInput) (string, KnowledgeSearchOutput, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return "", KnowledgeSearchOutput{}, fmt.Errorf("query is required")
	}
	limit := clamp(in.Limit, defaultSearchLimit, maxSearchLimit)

	start := time.Now()
	hits, err := memory.SearchText(ctx, s.deps.Knowledge, s.deps.Embeddings, query, limit)
	s.metrics.RecordSearch(ctx, "knowledge", time.Since(start).Seconds())
	if err != nil {
		return "", KnowledgeSearchOutput{}, err
	}

	out := KnowledgeSearchOutput{Passages: make([]Passage, len(hits))}
	lines := make([]string, len(hits))
	for i, h := range hits {
		out.Passages[i] = Passage{Text: h.Text, Score: h.Distance, Source: h.Source}
		lines[i] = fmt.Sprintf("[%.3f] %s", h.Distance, h.Text)
	}
	if len(lines) == 0 {
		return "No passages found.", out, nil
	}
	return strings.Join(lines, "\n"), out, nil
}

// ── calendar_upcoming ────────────────────────────────────────────────────────

// CalendarInput are the calendar_upcoming arguments.
type CalendarInput struct {
	Days int `json:"days,omitempty" jsonschema:"how many days ahead to look, default 7"`
}

// Event is a calendar entry.
type Event struct {
	Summary string    `json:"summary"`
	Start   time.Time `json:"start"`
	AllDay  bool      `json:"all_day"`
}

// CalendarOutput is the structured calendar_upcoming result.
type CalendarOutput struct {
	Events []Event `json:"events"`
}

func (s *Server) calendarUpcoming(ctx context.Context, in CalendarInput) (string, CalendarOutput, error) {
	window := calendar.DefaultWindow
	if in.Days > 0 {
		window = time.Duration(min(in.Days, maxCalendarDays)) * 24 * time.Hour
	}
	from, to := calendar.Window(s.now(), window)
	events, err := s.deps.Calendar.UpcomingEvents(ctx, from, to)
	if err != nil {
		return "", CalendarOutput{}, err
	}

	out := CalendarOutput{Events: make([]Event, len(events))}
	for i, e := range events {
		out.Events[i] = Event{Summary: e.Summary, Start: e.Start, AllDay: e.AllDay}
	}
	return router.FormatEvents(events), out, nil
}

// ── web_search ───────────────────────────────────────────────────────────────

// WebSearchInput are the web_search arguments.
type WebSearchInput struct {
	Query      string `json:"query" jsonschema:"the search query"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"maximum number of results, default 5"`
}

// WebSearchOutput is the structured web_search result.
type WebSearchOutput struct {
	Results []websearch.Result `json:"results"`
}

func (s *Server) webSearch(ctx context.Context, in WebSearchInput) (string, WebSearchOutput, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return "", WebSearchOutput{}, fmt.Errorf("query is required")
	}
	n := clamp(in.MaxResults, defaultWebResults, maxSearchLimit)

	start := time.Now()
	results, err := s.deps.WebSearch.Search(ctx, query, n)
	s.metrics.RecordSearch(ctx, "web", time.Since(start).Seconds())
	if err != nil {
		return "", WebSearchOutput{}, err
	}
	if results == nil {
		results = []websearch.Result{}
	}

	var sb strings.Builder
	for i, r := range results {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "%s\n%s\n%s", r.Title, r.URL, r.Body)
	}
	if len(results) == 0 {
		sb.WriteString("No results found.")
	}
	return sb.String(), WebSearchOutput{Results: results}, nil
}

// ── ask ──────────────────────────────────────────────────────────────────────

// AskInput are the ask arguments.
type AskInput struct {
	Question string `json:"question" jsonschema:"the question to answer"`
}

// AskOutput is the structured ask result.
type AskOutput struct {
	Answer string `json:"answer"`
	Route  string `json:"route"`
}

func (s *Server) ask(ctx context.Context, in AskInput) (string, AskOutput, error) {
	a, err := s.deps.Asker.Ask(ctx, in.Question)
	if err != nil {
		return "", AskOutput{}, err
	}
	return a.Text, AskOutput{Answer: a.Text, Route: string(a.Route)}, nil
}

func clamp(n, def, max int) int {
	if n <= 0 {
		return def
	}
	return min(n, max)
}
