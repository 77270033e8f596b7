package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/stephen37/voice-assistant/pkg/provider/tts"
	"github.com/stephen37/voice-assistant/pkg/types"
)

func TestNew(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != DefaultModel || p.outputFormat != DefaultOutputFormat || p.defaultVoice != DefaultVoiceID {
		t.Errorf("unexpected defaults: model=%q format=%q voice=%q", p.model, p.outputFormat, p.defaultVoice)
	}
}

func TestStreamURL(t *testing.T) {
	t.Parallel()
	p, _ := New("key", WithModel("eleven_multilingual_v2"), WithOutputFormat("pcm_24000"))
	u, err := url.Parse(p.streamURL("voice-abc"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Scheme != "wss" || u.Path != "/v1/text-to-speech/voice-abc/stream-input" {
		t.Errorf("unexpected URL %s", u)
	}
	if got := u.Query().Get("model_id"); got != "eleven_multilingual_v2" {
		t.Errorf("model_id = %q", got)
	}
	if got := u.Query().Get("output_format"); got != "pcm_24000" {
		t.Errorf("output_format = %q", got)
	}
}

func TestBuildWSMessage_FlushHasOnlyText(t *testing.T) {
	t.Parallel()
	data, err := buildWSMessage("", nil, "")
	if err != nil {
		t.Fatalf("buildWSMessage: %v", err)
	}
	if string(data) != `{"text":""}` {
		t.Errorf("flush = %s", data)
	}
}

func TestDecodeAudio(t *testing.T) {
	t.Parallel()
	pcm := []byte{1, 2, 3, 4}
	tests := []struct {
		name      string
		msg       string
		wantLen   int
		wantFinal bool
		wantErr   bool
	}{
		{"audio", `{"audio":"` + base64.StdEncoding.EncodeToString(pcm) + `"}`, 4, false, false},
		{"final", `{"audio":null,"isFinal":true}`, 0, true, false},
		{"error", `{"error":"quota_exceeded","message":"out of credits"}`, 0, true, true},
		{"garbage", `{not json`, 0, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, final, err := decodeAudio([]byte(tt.msg))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != tt.wantLen || final != tt.wantFinal {
				t.Errorf("got (%d bytes, final=%v), want (%d, %v)", len(got), final, tt.wantLen, tt.wantFinal)
			}
		})
	}
}

func TestListVoices(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/voices" || r.Header.Get("xi-api-key") != "key" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"voices":[
			{"voice_id":"abc","name":"Rachel","category":"premade","labels":{"accent":"american"}},
			{"voice_id":"def","name":"Ghost","category":"","labels":null}
		]}`))
	}))
	defer srv.Close()

	p, _ := New("key", WithBaseURLs("ws://unused", srv.URL))
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 2 {
		t.Fatalf("got %d voices, want 2", len(voices))
	}
	if voices[0].ID != "abc" || voices[0].Provider != "elevenlabs" || voices[0].Metadata["category"] != "premade" {
		t.Errorf("voices[0] = %+v", voices[0])
	}
	if _, ok := voices[1].Metadata["category"]; ok {
		t.Error("empty category should not be copied into metadata")
	}
}

func TestListVoices_HTTPError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, _ := New("key", WithBaseURLs("ws://unused", srv.URL))
	if _, err := p.ListVoices(context.Background()); err == nil {
		t.Fatal("expected error for 401")
	}
}

func TestSynthesizeStream_RoundTrip(t *testing.T) {
	t.Parallel()

	type received struct {
		path  string
		texts []string
		key   string
	}
	got := make(chan received, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()

		rec := received{path: r.URL.Path, key: r.Header.Get("xi-api-key")}
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var m textMessage
			_ = json.Unmarshal(data, &m)
			rec.texts = append(rec.texts, m.Text)
			if m.Text != "" {
				continue
			}
			for _, chunk := range [][]byte{{1, 2}, {3, 4}} {
				b, _ := json.Marshal(map[string]any{"audio": base64.StdEncoding.EncodeToString(chunk)})
				_ = conn.Write(ctx, websocket.MessageText, b)
			}
			_ = conn.Write(ctx, websocket.MessageText, []byte(`{"audio":null,"isFinal":true}`))
			got <- rec
			return
		}
	}))
	defer srv.Close()

	p, _ := New("secret", WithBaseURLs("ws"+strings.TrimPrefix(srv.URL, "http"), srv.URL))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	audio, err := tts.SynthesizeText(ctx, p, "Hello there.", types.VoiceProfile{})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}

	var pcm []byte
	for chunk := range audio {
		pcm = append(pcm, chunk...)
	}
	if string(pcm) != string([]byte{1, 2, 3, 4}) {
		t.Errorf("pcm = %v", pcm)
	}

	rec := <-got
	if rec.path != "/v1/text-to-speech/"+DefaultVoiceID+"/stream-input" {
		t.Errorf("path = %q", rec.path)
	}
	if rec.key != "secret" {
		t.Errorf("xi-api-key = %q", rec.key)
	}
	want := []string{" ", "Hello there. ", ""}
	if strings.Join(rec.texts, "|") != strings.Join(want, "|") {
		t.Errorf("texts = %q, want %q", rec.texts, want)
	}
}
