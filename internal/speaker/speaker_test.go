package speaker_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stephen37/voice-assistant/internal/speaker"
	"github.com/stephen37/voice-assistant/pkg/audio"
	audiomock "github.com/stephen37/voice-assistant/pkg/audio/mock"
	ttsmock "github.com/stephen37/voice-assistant/pkg/provider/tts/mock"
	"github.com/stephen37/voice-assistant/pkg/types"
)

// journal records the order of listener and playback events.
type journal struct {
	mu     sync.Mutex
	events []string
}

func (j *journal) add(e string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, e)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Clone(j.events)
}

type fakeListener struct{ j *journal }

func (l fakeListener) Stop() error {
	l.j.add("stop")
	return nil
}

func restartInto(j *journal) speaker.RestartFunc {
	return func(context.Context) error {
		j.add("restart")
		return nil
	}
}

func TestSay_Ordering(t *testing.T) {
	t.Parallel()

	j := &journal{}
	synth := &ttsmock.Provider{SynthesizeChunks: [][]byte{{1, 0}, {2, 0}}}
	out := &audiomock.Output{OnPlay: func() { j.add("play") }}
	s := speaker.New(synth, out,
		speaker.WithListener(fakeListener{j}, restartInto(j)),
		speaker.WithResumeDelay(time.Millisecond),
		speaker.WithVoice(types.VoiceProfile{ID: "voice-1"}),
	)

	if err := s.Say(context.Background(), "Milvus is a vector database. It was built by Zilliz!"); err != nil {
		t.Fatalf("Say: %v", err)
	}
	if got, want := j.list(), []string{"stop", "play", "restart"}; !slices.Equal(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	if got := out.Played(); len(got) != 1 || !slices.Equal(got[0], []byte{1, 0, 2, 0}) {
		t.Errorf("played = %v", got)
	}
	if out.Formats[0] != audio.SpeechFormat {
		t.Errorf("format = %v", out.Formats[0])
	}
	frags := synth.Fragments()
	if len(frags) != 1 || !slices.Equal(frags[0], []string{"Milvus is a vector database.", "It was built by Zilliz!"}) {
		t.Errorf("fragments = %q", frags)
	}
	if synth.Voices[0].ID != "voice-1" {
		t.Errorf("voice = %+v", synth.Voices[0])
	}
}

func TestSay_RestartsAfterFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("quota exceeded")
	tests := []struct {
		name  string
		synth *ttsmock.Provider
		out   *audiomock.Output
	}{
		{name: "synthesis", synth: &ttsmock.Provider{SynthesizeErr: boom}, out: &audiomock.Output{}},
		{name: "playback", synth: &ttsmock.Provider{SynthesizeChunks: [][]byte{{1, 0}}}, out: &audiomock.Output{PlayErr: boom}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			j := &journal{}
			s := speaker.New(tt.synth, tt.out,
				speaker.WithListener(fakeListener{j}, restartInto(j)),
				speaker.WithResumeDelay(time.Millisecond),
			)
			if err := s.Say(context.Background(), "Hello."); !errors.Is(err, boom) {
				t.Errorf("err = %v, want %v", err, boom)
			}
			if got := j.list(); !slices.Equal(got, []string{"stop", "restart"}) {
				t.Errorf("events = %v", got)
			}
		})
	}
}

func TestSay_CancelSkipsRestart(t *testing.T) {
	t.Parallel()

	j := &journal{}
	ctx, cancel := context.WithCancel(context.Background())
	out := &audiomock.Output{OnPlay: cancel}
	s := speaker.New(&ttsmock.Provider{SynthesizeChunks: [][]byte{{1, 0}}}, out,
		speaker.WithListener(fakeListener{j}, restartInto(j)),
		speaker.WithResumeDelay(time.Hour),
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Say(ctx, "Hello there.")
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Say did not return after cancel")
	}
	if got := j.list(); !slices.Equal(got, []string{"stop"}) {
		t.Errorf("events = %v, want only stop", got)
	}
}

func TestSay_RestartError(t *testing.T) {
	t.Parallel()

	boom := errors.New("mic busy")
	s := speaker.New(&ttsmock.Provider{}, &audiomock.Output{},
		speaker.WithListener(fakeListener{&journal{}}, func(context.Context) error { return boom }),
		speaker.WithResumeDelay(0),
	)
	if err := s.Say(context.Background(), "Hi."); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestSay_EmptyText(t *testing.T) {
	t.Parallel()

	synth := &ttsmock.Provider{}
	s := speaker.New(synth, &audiomock.Output{})
	if err := s.Say(context.Background(), "   "); err != nil {
		t.Fatalf("Say: %v", err)
	}
	if len(synth.Voices) != 0 {
		t.Error("empty text should not be synthesised")
	}
}

func TestSplitSentences(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want []string
	}{
		{"One. Two! Three?", []string{"One.", "Two!", "Three?"}},
		{"Version 2.5 is out.  Really?!  Yes", []string{"Version 2.5 is out.", "Really?!", "Yes"}},
		{"No punctuation", []string{"No punctuation"}},
		{"  ", nil},
	}
	for _, tt := range tests {
		if got := speaker.SplitSentences(tt.in); !slices.Equal(got, tt.want) {
			t.Errorf("SplitSentences(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
