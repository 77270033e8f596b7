// Package types defines the small set of values shared by the assistant's
// providers, the knowledge base and the question-answering loop.
//
// Everything here is ephemeral: a transcript, the hits it retrieves, the
// calendar events it reads and the answer it produces all live for exactly one
// turn. Packages keep their own domain types; only what crosses package
// boundaries lives here to avoid import cycles.
package types

import (
	"fmt"
	"time"
)

// Transcript is a speech-to-text result. Partial (interim) and final results
// share this type and are told apart by IsFinal.
type Transcript struct {
	// Text is the recognised speech.
	Text string

	// IsFinal reports whether the recogniser has committed to this text.
	IsFinal bool

	// Confidence is the overall confidence in [0, 1]. Zero when the provider
	// does not report one.
	Confidence float64

	// Timestamp marks when the utterance started, relative to session start.
	Timestamp time.Duration

	// Duration is the length of the utterance.
	Duration time.Duration
}

// SearchHit is one passage returned by a knowledge base similarity search.
type SearchHit struct {
	// ID is the chunk identifier in the knowledge base.
	ID string

	// Text is the stored passage.
	Text string

	// Distance is the similarity score reported for the hit. Higher is closer:
	// it is the cosine similarity (1 - cosine distance), so 1.0 is identical and
	// values near 0 are unrelated.
	Distance float64

	// Source records where the passage came from ("seed", "web", a URL, ...).
	Source string
}

// CalendarEvent is a single upcoming entry read from the user's calendar.
type CalendarEvent struct {
	// Summary is the event title.
	Summary string

	// Start is when the event begins, in the calendar's local time.
	Start time.Time

	// AllDay is true for date-only events that carry no start time of day.
	AllDay bool
}

// Route names the branch that supplied context for an answer.
type Route string

const (
	// RouteKnowledge answers from knowledge base hits.
	RouteKnowledge Route = "knowledge"

	// RouteCalendar answers from upcoming calendar events.
	RouteCalendar Route = "calendar"

	// RouteWeb answers from web search results.
	RouteWeb Route = "web"

	// RouteDirect sends the bare transcript to the language model.
	RouteDirect Route = "direct"
)

// Answer is the language model's reply to one transcript.
type Answer struct {
	// Text is the reply that will be spoken.
	Text string

	// Route is the branch that supplied the context.
	Route Route

	// Duration is how long the language model took to answer.
	Duration time.Duration
}

// Message is a single entry in a language model conversation.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string

	// Content is the text of the message.
	Content string
}

// VoiceProfile selects a text-to-speech voice.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider the voice belongs to.
	Provider string

	// SpeedFactor adjusts speaking rate (0.5–2.0, 1.0 = default).
	SpeedFactor float64

	// Metadata holds provider-specific voice attributes (gender, accent, ...).
	Metadata map[string]string
}

// ModelCapabilities describes what a language model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model may generate in one completion.
	MaxOutputTokens int

	// SupportsStreaming reports whether completions can be streamed.
	SupportsStreaming bool
}

// KeywordBoost is a vocabulary hint sent to the speech recogniser so product
// names such as "Milvus" and "Zilliz" are recognised reliably.
type KeywordBoost struct {
	// Keyword is the term to boost.
	Keyword string

	// Boost is the provider-specific intensity. Providers that only accept a
	// term list ignore it.
	Boost float64
}

// String implements fmt.Stringer for log output.
func (h SearchHit) String() string {
	return fmt.Sprintf("%.3f %s", h.Distance, h.Text)
}
