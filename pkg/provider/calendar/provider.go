// Package calendar defines the Provider interface for calendar backends.
//
// The assistant only reads events. A query that mentions the calendar gets the
// events of the upcoming week, starting at local midnight today.
package calendar

import (
	"context"
	"time"

	"github.com/stephen37/voice-assistant/pkg/types"
)

// DefaultWindow is how far ahead of today the assistant looks for events.
const DefaultWindow = 7 * 24 * time.Hour

// Provider reads calendar events. Implementations must be safe for concurrent
// use.
type Provider interface {
	// UpcomingEvents returns events starting in [from, to), ordered by start.
	UpcomingEvents(ctx context.Context, from, to time.Time) ([]types.CalendarEvent, error)
}

// Window returns the range from local midnight of now's day to window later.
func Window(now time.Time, window time.Duration) (from, to time.Time) {
	y, m, d := now.Date()
	from = time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	return from, from.Add(window)
}
