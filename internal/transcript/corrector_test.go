package transcript_test

import (
	"testing"
	"time"

	"github.com/stephen37/voice-assistant/internal/transcript"
	"github.com/stephen37/voice-assistant/internal/transcript/phonetic"
	"github.com/stephen37/voice-assistant/pkg/types"
)

func final(text string) types.Transcript {
	return types.Transcript{Text: text, IsFinal: true, Confidence: 0.9, Timestamp: time.Second}
}

func TestCorrector_Correct(t *testing.T) {
	t.Parallel()

	c := transcript.New(transcript.DefaultVocabulary())

	tests := []struct {
		name            string
		in              string
		want            string
		wantCorrections int
	}{
		{name: "split word", in: "what is mil vus?", want: "what is Milvus?", wantCorrections: 1},
		{name: "two terms", in: "tell me about melvis and zillis.", want: "tell me about Milvus and Zilliz.", wantCorrections: 2},
		{name: "already correct", in: "Is Milvus open source", want: "Is Milvus open source", wantCorrections: 0},
		{name: "lowercase term", in: "who maintains milvus", want: "who maintains Milvus", wantCorrections: 1},
		{name: "unrelated", in: "what's on my calendar this week", want: "what's on my calendar this week", wantCorrections: 0},
		{name: "empty", in: "", want: "", wantCorrections: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res := c.Correct(final(tt.in))
			if res.Transcript.Text != tt.want {
				t.Errorf("Correct(%q) = %q, want %q", tt.in, res.Transcript.Text, tt.want)
			}
			if res.Original != tt.in {
				t.Errorf("Original = %q, want %q", res.Original, tt.in)
			}
			if len(res.Corrections) != tt.wantCorrections {
				t.Errorf("corrections = %+v, want %d", res.Corrections, tt.wantCorrections)
			}
			if res.Changed() != (tt.wantCorrections > 0) {
				t.Errorf("Changed = %v", res.Changed())
			}
		})
	}
}

func TestCorrector_PreservesTranscriptFields(t *testing.T) {
	t.Parallel()

	c := transcript.New(transcript.DefaultVocabulary())
	in := final("mil vus")
	res := c.Correct(in)
	if res.Transcript.Timestamp != in.Timestamp || !res.Transcript.IsFinal || res.Transcript.Confidence != in.Confidence {
		t.Errorf("transcript fields changed: %+v", res.Transcript)
	}
	if got := res.Corrections[0]; got.Original != "mil vus" || got.Corrected != "Milvus" || got.Confidence < 0.99 {
		t.Errorf("correction = %+v", got)
	}
}

func TestCorrector_EmptyVocabulary(t *testing.T) {
	t.Parallel()

	c := transcript.New(nil)
	if res := c.Correct(final("mil vus")); res.Changed() || res.Transcript.Text != "mil vus" {
		t.Errorf("empty vocabulary changed text: %+v", res)
	}
	if len(c.Keywords()) != 0 {
		t.Errorf("Keywords = %v, want none", c.Keywords())
	}
}

func TestCorrector_CustomMatcher(t *testing.T) {
	t.Parallel()

	c := transcript.New([]string{"Milvus"}, transcript.WithMatcher(phonetic.New(phonetic.WithPhoneticThreshold(0.99))))
	if res := c.Correct(final("melvis")); res.Changed() {
		t.Errorf("strict matcher corrected %q", res.Transcript.Text)
	}
}

func TestCorrector_Keywords(t *testing.T) {
	t.Parallel()

	c := transcript.New(transcript.DefaultVocabulary())
	kw := c.Keywords()
	if len(kw) != 2 || kw[0].Keyword != "Milvus" || kw[1].Keyword != "Zilliz" || kw[0].Boost <= 0 {
		t.Errorf("Keywords = %+v", kw)
	}
	if v := c.Vocabulary(); len(v) != 2 {
		t.Errorf("Vocabulary = %v", v)
	}
}
