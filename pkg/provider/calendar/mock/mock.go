// Package mock provides a test double for calendar.Provider.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/stephen37/voice-assistant/pkg/provider/calendar"
	"github.com/stephen37/voice-assistant/pkg/types"
)

var _ calendar.Provider = (*Provider)(nil)

// Window records the range passed to one UpcomingEvents call.
type Window struct {
	From, To time.Time
}

// Provider is a mock implementation of calendar.Provider.
type Provider struct {
	mu sync.Mutex

	// Events is returned by UpcomingEvents.
	Events []types.CalendarEvent

	// Err, if non-nil, is returned by UpcomingEvents.
	Err error

	// Calls records every requested window in order.
	Calls []Window
}

// UpcomingEvents records the window and returns Events, Err.
func (p *Provider) UpcomingEvents(_ context.Context, from, to time.Time) ([]types.CalendarEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, Window{From: from, To: to})
	if p.Err != nil {
		return nil, p.Err
	}
	return append([]types.CalendarEvent(nil), p.Events...), nil
}

// CallCount returns the number of UpcomingEvents calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
