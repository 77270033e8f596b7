// Package google provides a calendar provider backed by the Google Calendar
// v3 API with read-only access to the user's primary calendar.
//
// Authorization is a one-time installed-app flow (see Authorize). The
// resulting token is kept in a TokenStore and refreshed tokens are written
// back, so later runs start without user interaction.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/stephen37/voice-assistant/pkg/provider/calendar"
	"github.com/stephen37/voice-assistant/pkg/types"
)

const (
	// DefaultCalendarID is the authenticated user's main calendar.
	DefaultCalendarID = "primary"

	// DefaultAccount is the token store key used when none is configured.
	DefaultAccount = "default"

	defaultMaxResults = 100
	untitledEvent     = "Untitled event"
)

var _ calendar.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithCalendarID selects a calendar other than the primary one.
func WithCalendarID(id string) Option {
	return func(p *Provider) { p.calendarID = id }
}

// WithMaxResults caps the number of events per request.
func WithMaxResults(n int64) Option {
	return func(p *Provider) { p.maxResults = n }
}

// WithLocation sets the time zone events are reported in. Defaults to
// time.Local.
func WithLocation(loc *time.Location) Option {
	return func(p *Provider) { p.loc = loc }
}

// WithEndpoint overrides the API base URL. Used by tests.
func WithEndpoint(url string) Option {
	return func(p *Provider) { p.endpoint = url }
}

// Provider implements calendar.Provider for Google Calendar.
type Provider struct {
	svc        *gcal.Service
	calendarID string
	maxResults int64
	loc        *time.Location
	endpoint   string
}

// LoadConfig parses an OAuth client secret file ("credentials.json") and
// requests the read-only calendar scope.
func LoadConfig(credentialsJSON []byte) (*oauth2.Config, error) {
	cfg, err := googleoauth.ConfigFromJSON(credentialsJSON, gcal.CalendarReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("google calendar: parse credentials: %w", err)
	}
	return cfg, nil
}

// New creates a Provider authorised with the token stored for account.
// It returns ErrNoToken when Authorize has never been run for account.
func New(ctx context.Context, cfg *oauth2.Config, store TokenStore, account string, opts ...Option) (*Provider, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("google calendar: oauth config and token store are required")
	}
	if account == "" {
		account = DefaultAccount
	}
	tok, err := store.Load(ctx, account)
	if err != nil {
		return nil, err
	}
	src := &persistingSource{
		base:    cfg.TokenSource(context.Background(), tok),
		store:   store,
		account: account,
		last:    tok.AccessToken,
	}
	return NewWithClient(ctx, oauth2.NewClient(context.Background(), src), opts...)
}

// NewWithClient creates a Provider that sends requests through hc, which must
// already attach credentials.
func NewWithClient(ctx context.Context, hc *http.Client, opts ...Option) (*Provider, error) {
	p := &Provider{
		calendarID: DefaultCalendarID,
		maxResults: defaultMaxResults,
		loc:        time.Local,
	}
	for _, o := range opts {
		o(p)
	}

	svcOpts := []option.ClientOption{option.WithHTTPClient(hc)}
	if p.endpoint != "" {
		svcOpts = append(svcOpts, option.WithEndpoint(p.endpoint))
	}
	svc, err := gcal.NewService(ctx, svcOpts...)
	if err != nil {
		return nil, fmt.Errorf("google calendar: create service: %w", err)
	}
	p.svc = svc
	return p, nil
}

// UpcomingEvents lists single (expanded) events starting in [from, to),
// ordered by start time.
func (p *Provider) UpcomingEvents(ctx context.Context, from, to time.Time) ([]types.CalendarEvent, error) {
	res, err := p.svc.Events.List(p.calendarID).
		TimeMin(from.Format(time.RFC3339)).
		TimeMax(to.Format(time.RFC3339)).
		MaxResults(p.maxResults).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("google calendar: list events: %w", err)
	}

	events := make([]types.CalendarEvent, 0, len(res.Items))
	for _, item := range res.Items {
		ev, ok := toEvent(item, p.loc)
		if !ok {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func toEvent(item *gcal.Event, loc *time.Location) (types.CalendarEvent, bool) {
	if item == nil || item.Start == nil {
		return types.CalendarEvent{}, false
	}
	ev := types.CalendarEvent{Summary: item.Summary}
	if ev.Summary == "" {
		ev.Summary = untitledEvent
	}
	switch {
	case item.Start.DateTime != "":
		t, err := time.Parse(time.RFC3339, item.Start.DateTime)
		if err != nil {
			return types.CalendarEvent{}, false
		}
		ev.Start = t.In(loc)
	case item.Start.Date != "":
		t, err := time.ParseInLocation(time.DateOnly, item.Start.Date, loc)
		if err != nil {
			return types.CalendarEvent{}, false
		}
		ev.Start = t
		ev.AllDay = true
	default:
		return types.CalendarEvent{}, false
	}
	return ev, true
}

// ── token persistence ────────────────────────────────────────────────────────

// persistingSource saves refreshed tokens back to the store.
type persistingSource struct {
	base    oauth2.TokenSource
	store   TokenStore
	account string

	mu   sync.Mutex
	last string
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		if err := s.store.Save(context.Background(), s.account, tok); err != nil {
			return nil, err
		}
		s.last = tok.AccessToken
	}
	return tok, nil
}

// ── authorization ────────────────────────────────────────────────────────────

// Authorize runs the installed-app flow: it listens on a loopback port,
// prints the consent URL to out and waits for Google to redirect back with a
// code, which is exchanged and saved for account.
func Authorize(ctx context.Context, cfg *oauth2.Config, store TokenStore, account string, out io.Writer) error {
	if account == "" {
		account = DefaultAccount
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("google calendar: authorize: listen: %w", err)
	}
	defer ln.Close()

	local := *cfg
	local.RedirectURL = "http://" + ln.Addr().String() + "/"
	state := uuid.NewString()

	codes := make(chan string, 1)
	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("state") != state {
				http.Error(w, "state mismatch", http.StatusBadRequest)
				return
			}
			code := r.URL.Query().Get("code")
			if code == "" {
				http.Error(w, "missing code", http.StatusBadRequest)
				return
			}
			_, _ = io.WriteString(w, "Authorization complete. You can close this window.\n")
			select {
			case codes <- code:
			default:
			}
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() { _ = srv.Serve(ln) }()
	defer srv.Close()

	fmt.Fprintf(out, "Open this URL in a browser to grant calendar access:\n\n%s\n\n",
		local.AuthCodeURL(state, oauth2.AccessTypeOffline))

	select {
	case code := <-codes:
		tok, err := local.Exchange(ctx, code)
		if err != nil {
			return fmt.Errorf("google calendar: authorize: exchange: %w", err)
		}
		return store.Save(ctx, account, tok)
	case <-ctx.Done():
		return ctx.Err()
	}
}
