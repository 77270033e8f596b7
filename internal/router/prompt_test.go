package router

import (
	"errors"
	"testing"
	"time"

	"github.com/stephen37/voice-assistant/pkg/types"
)

func TestFormatEvents(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("CET", 3600)
	tests := []struct {
		name   string
		events []types.CalendarEvent
		want   string
	}{
		{name: "none", want: "No upcoming events found."},
		{
			name:   "timed",
			events: []types.CalendarEvent{{Summary: "Dentist", Start: time.Date(2025, time.January, 2, 15, 4, 0, 0, loc)}},
			want:   "- Dentist on January 02 at 03:04 PM",
		},
		{
			name: "mixed",
			events: []types.CalendarEvent{
				{Summary: "Release", Start: time.Date(2025, time.December, 24, 0, 0, 0, 0, loc), AllDay: true},
				{Summary: "Sync", Start: time.Date(2025, time.December, 24, 8, 0, 0, 0, loc)},
			},
			want: "- Release on December 24\n- Sync on December 24 at 08:00 AM",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := FormatEvents(tt.events); got != tt.want {
				t.Errorf("FormatEvents = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMentionsCalendar(t *testing.T) {
	t.Parallel()

	keywords := DefaultSettings().CalendarKeywords
	tests := []struct {
		query string
		want  bool
	}{
		{"What's on my Calendar?", true},
		{"any events tomorrow", true},
		{"reschedule my dentist", true},
		{"book an appointment", true},
		{"what is milvus", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := MentionsCalendar(tt.query, keywords); got != tt.want {
			t.Errorf("MentionsCalendar(%q) = %v, want %v", tt.query, got, tt.want)
		}
	}
	if MentionsCalendar("calendar", []string{"", "  "}) {
		t.Error("blank keywords must not match")
	}
}

func TestPrompts(t *testing.T) {
	t.Parallel()

	if got := CalendarError(errors.New("boom")); got != "Error accessing calendar: boom" {
		t.Errorf("CalendarError = %q", got)
	}
	if got := KnowledgePrompt("c", "q"); got != "Context: c\n\nUser Query: q\n\nPlease answer the user's query based on the given context." {
		t.Errorf("KnowledgePrompt = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	if got := truncate("short", 100); got != "short" {
		t.Errorf("truncate short = %q", got)
	}
	if got := truncate("héllo world", 5); got != "héllo..." {
		t.Errorf("truncate = %q", got)
	}
}
