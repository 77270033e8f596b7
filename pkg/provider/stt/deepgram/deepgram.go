// Package deepgram provides an STT provider backed by Deepgram's live
// streaming WebSocket API.
//
// Deepgram reports is_final per audio segment and speech_final when its
// endpointer decides the speaker stopped. A question often spans several
// segments, so the session buffers is_final segments and emits one final
// transcript per speech_final; everything else is a partial.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/stephen37/voice-assistant/pkg/provider/stt"
	"github.com/stephen37/voice-assistant/pkg/types"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000
	defaultEndpointMs = 300
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model (e.g. "nova-3", "nova-2").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default recognition language.
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithSampleRate sets the default sample rate.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// WithEndpointing sets how much trailing silence ends an utterance.
func WithEndpointing(d time.Duration) Option {
	return func(p *Provider) { p.endpointing = d }
}

// WithEndpoint overrides the streaming URL. Used by tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// Provider implements stt.Provider for Deepgram.
type Provider struct {
	apiKey      string
	endpoint    string
	model       string
	language    string
	sampleRate  int
	endpointing time.Duration
}

// New creates a Provider. apiKey must not be empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:      apiKey,
		endpoint:    deepgramEndpoint,
		model:       defaultModel,
		language:    defaultLanguage,
		sampleRate:  defaultSampleRate,
		endpointing: defaultEndpointMs * time.Millisecond,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a live transcription session.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &session{
		conn:     conn,
		cancel:   cancel,
		partials: make(chan types.Transcript, 64),
		finals:   make(chan types.Transcript, 64),
		audio:    make(chan []byte, 256),
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
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

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("encoding", "linear16")
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("interim_results", "true")
	q.Set("endpointing", strconv.FormatInt(p.endpointing.Milliseconds(), 10))
	q.Set("sample_rate", strconv.Itoa(sr))
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}

	// nova-3 replaced weighted keywords with plain key terms.
	nova3 := strings.HasPrefix(p.model, "nova-3")
	for _, kw := range cfg.Keywords {
		if nova3 {
			q.Add("keyterm", kw.Keyword)
			continue
		}
		boost := kw.Boost
		if boost == 0 {
			boost = 2
		}
		q.Add("keywords", fmt.Sprintf("%s:%g", kw.Keyword, boost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ── session ──────────────────────────────────────────────────────────────────

type result struct {
	Type        string  `json:"type"`
	IsFinal     bool    `json:"is_final"`
	SpeechFinal bool    `json:"speech_final"`
	Start       float64 `json:"start"`
	Duration    float64 `json:"duration"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type session struct {
	conn   *websocket.Conn
	cancel context.CancelFunc

	partials chan types.Transcript
	finals   chan types.Transcript
	audio    chan []byte

	done   chan struct{}
	exited chan struct{}
	once   sync.Once
	wg     sync.WaitGroup

	// utterance assembly, owned by readLoop
	segments []string
	confSum  float64
	start    float64
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

func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err == nil {
			select {
			case <-s.exited:
			case <-ctx.Done():
			}
		}
		s.cancel()
		_ = s.conn.Close(websocket.StatusNormalClosure, "session closed")
		<-s.exited
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
					_ = s.conn.Write(ctx, websocket.MessageBinary, chunk)
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
	defer close(s.exited)
	defer close(s.partials)
	defer close(s.finals)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			return
		}
		var r result
		if err := json.Unmarshal(msg, &r); err != nil || r.Type != "Results" || len(r.Channel.Alternatives) == 0 {
			continue
		}
		t, ok := s.assemble(r)
		if !ok {
			continue
		}
		ch := s.partials
		if t.IsFinal {
			ch = s.finals
		}
		select {
		case ch <- t:
		case <-ctx.Done():
			return
		}
	}
}

// assemble folds a Results message into the current utterance. It returns a
// final transcript on speech_final and a partial (the utterance so far plus
// the interim text) otherwise.
func (s *session) assemble(r result) (types.Transcript, bool) {
	alt := r.Channel.Alternatives[0]
	text := strings.TrimSpace(alt.Transcript)

	if len(s.segments) == 0 {
		s.start = r.Start
	}
	if r.IsFinal && text != "" {
		s.segments = append(s.segments, text)
		s.confSum += alt.Confidence
	}

	if r.SpeechFinal {
		if len(s.segments) == 0 {
			return types.Transcript{}, false
		}
		t := types.Transcript{
			Text:       strings.Join(s.segments, " "),
			IsFinal:    true,
			Confidence: s.confSum / float64(len(s.segments)),
			Timestamp:  seconds(s.start),
			Duration:   seconds(r.Start + r.Duration - s.start),
		}
		s.segments, s.confSum = nil, 0
		return t, true
	}

	partial := strings.Join(s.segments, " ")
	if !r.IsFinal && text != "" {
		partial = strings.TrimSpace(partial + " " + text)
	}
	if partial == "" {
		return types.Transcript{}, false
	}
	return types.Transcript{Text: partial, Confidence: alt.Confidence, Timestamp: seconds(s.start)}, true
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
