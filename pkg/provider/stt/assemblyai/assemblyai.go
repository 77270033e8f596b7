// Package assemblyai provides an STT provider backed by AssemblyAI's
// Universal-Streaming (v3) realtime WebSocket API.
//
// Audio is sent as binary frames of 16-bit little-endian PCM. The service
// answers with Turn messages; with turn formatting enabled every turn is
// reported twice at end-of-turn, first raw and then punctuated. Only the
// formatted end-of-turn message becomes a final transcript, everything
// before it is a partial.
package assemblyai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/stephen37/voice-assistant/pkg/provider/stt"
	"github.com/stephen37/voice-assistant/pkg/types"
)

const (
	// DefaultEndpoint is the v3 realtime endpoint.
	DefaultEndpoint = "wss://streaming.assemblyai.com/v3/ws"

	defaultSampleRate = 16000

	// terminateTimeout bounds how long Close waits for the Termination message.
	terminateTimeout = 3 * time.Second
)

var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider for AssemblyAI.
type Provider struct {
	apiKey      string
	endpoint    string
	sampleRate  int
	formatTurns bool

	endOfTurnConfidence float64
	minSilence          time.Duration
}

// Option is a functional option for Provider.
type Option func(*Provider)

// WithEndpoint overrides DefaultEndpoint. Used by tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// WithSampleRate sets the default sample rate used when StreamConfig leaves
// it zero.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// WithFormatTurns toggles punctuation and casing of finished turns. Enabled
// by default.
func WithFormatTurns(enabled bool) Option {
	return func(p *Provider) { p.formatTurns = enabled }
}

// WithEndOfTurnConfidence sets the end_of_turn_confidence_threshold (0–1).
func WithEndOfTurnConfidence(threshold float64) Option {
	return func(p *Provider) { p.endOfTurnConfidence = threshold }
}

// WithMinEndOfTurnSilence sets min_end_of_turn_silence_when_confident.
func WithMinEndOfTurnSilence(d time.Duration) Option {
	return func(p *Provider) { p.minSilence = d }
}

// New creates a Provider. apiKey must not be empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("assemblyai: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:      apiKey,
		endpoint:    DefaultEndpoint,
		sampleRate:  defaultSampleRate,
		formatTurns: true,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a realtime session.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("assemblyai: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return nil, fmt.Errorf("assemblyai: dial: %w", err)
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &session{
		conn:        conn,
		cancel:      cancel,
		formatTurns: p.formatTurns,
		partials:    make(chan types.Transcript, 64),
		finals:      make(chan types.Transcript, 64),
		audio:       make(chan []byte, 256),
		done:        make(chan struct{}),
		terminated:  make(chan struct{}),
		abandon:     make(chan struct{}),
	}

	s.wg.Add(1)
	go s.writeLoop(sctx)
	go s.readLoop(sctx)

	return s, nil
}

func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	sr := cfg.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}

	q := u.Query()
	q.Set("sample_rate", strconv.Itoa(sr))
	q.Set("encoding", "pcm_s16le")
	q.Set("format_turns", strconv.FormatBool(p.formatTurns))
	if p.endOfTurnConfidence > 0 {
		q.Set("end_of_turn_confidence_threshold", strconv.FormatFloat(p.endOfTurnConfidence, 'f', -1, 64))
	}
	if p.minSilence > 0 {
		q.Set("min_end_of_turn_silence_when_confident", strconv.FormatInt(p.minSilence.Milliseconds(), 10))
	}
	if len(cfg.Keywords) > 0 {
		terms := make([]string, 0, len(cfg.Keywords))
		for _, kw := range cfg.Keywords {
			terms = append(terms, kw.Keyword)
		}
		raw, err := json.Marshal(terms)
		if err != nil {
			return "", err
		}
		q.Set("keyterms_prompt", string(raw))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ── session ──────────────────────────────────────────────────────────────────

// message is the union of the server messages the session understands.
type message struct {
	Type string `json:"type"`

	// Begin
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`

	// Turn
	TurnOrder           int     `json:"turn_order"`
	Transcript          string  `json:"transcript"`
	EndOfTurn           bool    `json:"end_of_turn"`
	TurnIsFormatted     bool    `json:"turn_is_formatted"`
	EndOfTurnConfidence float64 `json:"end_of_turn_confidence"`
	Words               []struct {
		Start      int64   `json:"start"`
		End        int64   `json:"end"`
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	} `json:"words"`

	// Termination
	AudioDurationSeconds float64 `json:"audio_duration_seconds"`

	// Error
	Error string `json:"error"`
}

type session struct {
	conn        *websocket.Conn
	cancel      context.CancelFunc
	formatTurns bool

	partials chan types.Transcript
	finals   chan types.Transcript
	audio    chan []byte

	done       chan struct{} // closed by Close: no more audio accepted
	terminated chan struct{} // closed when the read loop exits
	abandon    chan struct{} // closed when Close stops waiting for the server
	once       sync.Once
	wg         sync.WaitGroup
}

func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return stt.ErrSessionClosed
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return stt.ErrSessionClosed
	}
}

func (s *session) Partials() <-chan types.Transcript { return s.partials }

func (s *session) Finals() <-chan types.Transcript { return s.finals }

// Close stops accepting audio, flushes what is queued, asks the server to
// terminate and waits briefly for the trailing turn and Termination message.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), terminateTimeout)
		defer cancel()
		if err := s.conn.Write(ctx, websocket.MessageText, []byte(`{"type":"Terminate"}`)); err == nil {
			select {
			case <-s.terminated:
			case <-ctx.Done():
			}
		}
		close(s.abandon)
		s.cancel()
		_ = s.conn.Close(websocket.StatusNormalClosure, "session closed")
		<-s.terminated
	})
	return nil
}

func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.done:
			for {
				select {
				case chunk := <-s.audio:
					if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
						return
					}
				default:
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *session) readLoop(ctx context.Context) {
	defer close(s.terminated)
	defer close(s.partials)
	defer close(s.finals)

	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("assemblyai: undecodable message", "err", err)
			continue
		}

		switch msg.Type {
		case "Begin":
			slog.Debug("assemblyai: session began", "id", msg.ID)
		case "Turn":
			t, final := s.toTranscript(msg)
			if t.Text == "" {
				continue
			}
			ch := s.partials
			if final {
				ch = s.finals
			}
			select {
			case ch <- t:
			case <-s.abandon:
				return
			}
		case "Termination":
			slog.Debug("assemblyai: session terminated", "audio_seconds", msg.AudioDurationSeconds)
			return
		case "Error":
			slog.Warn("assemblyai: server error", "err", msg.Error)
		}
	}
}

// toTranscript converts a Turn message and reports whether it is final.
func (s *session) toTranscript(msg message) (types.Transcript, bool) {
	final := msg.EndOfTurn && (msg.TurnIsFormatted || !s.formatTurns)

	t := types.Transcript{
		Text:    msg.Transcript,
		IsFinal: final,
	}
	if n := len(msg.Words); n > 0 {
		var sum float64
		for _, w := range msg.Words {
			sum += w.Confidence
		}
		t.Confidence = sum / float64(n)
		t.Timestamp = time.Duration(msg.Words[0].Start) * time.Millisecond
		t.Duration = time.Duration(msg.Words[n-1].End-msg.Words[0].Start) * time.Millisecond
	}
	return t, final
}
