package router

import (
	"fmt"
	"strings"

	"github.com/stephen37/voice-assistant/pkg/types"
)

// NoEventsText stands in for the event list when the calendar is empty.
const NoEventsText = "No upcoming events found."

const (
	eventTimeLayout = "January 02 at 03:04 PM"
	eventDayLayout  = "January 02"
)

// KnowledgePrompt wraps a query with knowledge base passages.
func KnowledgePrompt(context, query string) string {
	return fmt.Sprintf("Context: %s\n\nUser Query: %s\n\nPlease answer the user's query based on the given context.", context, query)
}

// CalendarPrompt wraps a query with the formatted event list.
func CalendarPrompt(events, query string) string {
	return fmt.Sprintf("Calendar Events:\n%s\n\nUser Query: %s\n\nPlease answer the user's query based on their calendar events.", events, query)
}

// WebPrompt wraps a query with web result bodies.
func WebPrompt(context, query string) string {
	return fmt.Sprintf("Web search results:\n%s\n\nUser Query: %s\n\nPlease answer the user's query based on the web search results.", context, query)
}

// FormatEvent renders one event as "- Standup on March 04 at 09:30 AM".
// All-day events omit the time.
func FormatEvent(e types.CalendarEvent) string {
	layout := eventTimeLayout
	if e.AllDay {
		layout = eventDayLayout
	}
	return fmt.Sprintf("- %s on %s", e.Summary, e.Start.Format(layout))
}

// FormatEvents renders events one per line, or [NoEventsText].
func FormatEvents(events []types.CalendarEvent) string {
	if len(events) == 0 {
		return NoEventsText
	}
	lines := make([]string, len(events))
	for i, e := range events {
		lines[i] = FormatEvent(e)
	}
	return strings.Join(lines, "\n")
}

// CalendarError is the event list text used when the calendar cannot be read.
func CalendarError(err error) string {
	return "Error accessing calendar: " + err.Error()
}

// MentionsCalendar reports whether the lowercased query contains any keyword.
func MentionsCalendar(query string, keywords []string) bool {
	q := strings.ToLower(query)
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" && strings.Contains(q, k) {
			return true
		}
	}
	return false
}

// truncate shortens s to n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
