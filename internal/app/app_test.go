package app_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/stephen37/voice-assistant/internal/app"
	"github.com/stephen37/voice-assistant/internal/config"
	"github.com/stephen37/voice-assistant/internal/mcp"
	audiomock "github.com/stephen37/voice-assistant/pkg/audio/mock"
	memorymock "github.com/stephen37/voice-assistant/pkg/memory/mock"
	calmock "github.com/stephen37/voice-assistant/pkg/provider/calendar/mock"
	embmock "github.com/stephen37/voice-assistant/pkg/provider/embeddings/mock"
	llmmock "github.com/stephen37/voice-assistant/pkg/provider/llm/mock"
	sttmock "github.com/stephen37/voice-assistant/pkg/provider/stt/mock"
	ttsmock "github.com/stephen37/voice-assistant/pkg/provider/tts/mock"
	"github.com/stephen37/voice-assistant/pkg/provider/websearch"
	webmock "github.com/stephen37/voice-assistant/pkg/provider/websearch/mock"
	"github.com/stephen37/voice-assistant/pkg/types"
)

// fixture bundles mock providers for an App.
type fixture struct {
	cfg *config.Config
	stt *sttmock.Provider
	tts *ttsmock.Provider
	llm *llmmock.Provider
	emb *embmock.Provider
	cal *calmock.Provider
	web *webmock.Provider
	mic *audiomock.Microphone
	out *audiomock.Output
}

func newFixture() *fixture {
	cfg := config.Default()
	cfg.Assistant.ResumeDelay = time.Millisecond
	return &fixture{
		cfg: cfg,
		stt: &sttmock.Provider{},
		tts: &ttsmock.Provider{SynthesizeChunks: [][]byte{{1, 2}, {3, 4}}},
		llm: &llmmock.Provider{StreamChunks: llmmock.TextChunks("You have ", "a standup.")},
		emb: &embmock.Provider{},
		cal: &calmock.Provider{},
		web: &webmock.Provider{},
		mic: &audiomock.Microphone{},
		out: &audiomock.Output{},
	}
}

func (f *fixture) providers() *app.Providers {
	return &app.Providers{
		STT:        f.stt,
		TTS:        f.tts,
		LLM:        f.llm,
		Embeddings: f.emb,
		Calendar:   f.cal,
		WebSearch:  f.web,
		Microphone: f.mic,
		Output:     f.out,
	}
}

func (f *fixture) newApp(t *testing.T, opts ...app.Option) *app.App {
	t.Helper()
	a, err := app.New(context.Background(), f.cfg, f.providers(), opts...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

// waitFor blocks until ch yields or the test times out.
func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestNew_RequiresProviders(t *testing.T) {
	t.Parallel()

	_, err := app.New(context.Background(), config.Default(), &app.Providers{})
	if err == nil {
		t.Fatal("expected error for empty providers")
	}
	for _, want := range []string{"stt", "tts", "llm", "microphone", "audio output"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %s", err, want)
		}
	}
}

func TestNew_SeedsKnowledgeBase(t *testing.T) {
	t.Parallel()

	f := newFixture()
	kb := &memorymock.KnowledgeBase{}
	f.newApp(t, app.WithKnowledgeBase(kb))

	if got := kb.CallCount("Reset"); got != 1 {
		t.Errorf("Reset calls = %d, want 1", got)
	}
	if got := kb.CallCount("Count"); got != 1 {
		t.Errorf("Count calls = %d, want 1 after seeding", got)
	}
	n, err := kb.Count(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != len(app.SamplePassages) {
		t.Errorf("indexed %d passages, want %d", n, len(app.SamplePassages))
	}
	if len(f.emb.PassageTexts) != len(app.SamplePassages) {
		t.Errorf("embedded %d passages, want %d", len(f.emb.PassageTexts), len(app.SamplePassages))
	}
}

func TestNew_SeedDisabled(t *testing.T) {
	t.Parallel()

	f := newFixture()
	seed := false
	f.cfg.Knowledge.Seed = &seed
	kb := &memorymock.KnowledgeBase{}
	f.newApp(t, app.WithKnowledgeBase(kb))

	if got := kb.CallCount("Reset") + kb.CallCount("IndexChunks"); got != 0 {
		t.Errorf("knowledge base written %d times, want 0", got)
	}
	if got := kb.CallCount("Count"); got != 1 {
		t.Errorf("Count calls = %d, want 1 to report the existing size", got)
	}
}

func TestNew_CountErrorIsNotFatal(t *testing.T) {
	t.Parallel()

	f := newFixture()
	kb := &memorymock.KnowledgeBase{CountErr: errors.New("count timed out")}
	a, err := app.New(context.Background(), f.cfg, f.providers(), app.WithKnowledgeBase(kb))
	if err != nil {
		t.Fatalf("New() = %v, want nil when only the size report fails", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	if got := kb.CallCount("Count"); got != 1 {
		t.Errorf("Count calls = %d, want 1", got)
	}
}

func TestNew_KnowledgeBaseNeedsEmbeddings(t *testing.T) {
	t.Parallel()

	f := newFixture()
	p := f.providers()
	p.Embeddings = nil
	_, err := app.New(context.Background(), f.cfg, p, app.WithKnowledgeBase(&memorymock.KnowledgeBase{}))
	if err == nil || !strings.Contains(err.Error(), "embeddings") {
		t.Errorf("err = %v, want embeddings error", err)
	}
}

func TestNew_SeedError(t *testing.T) {
	t.Parallel()

	f := newFixture()
	kb := &memorymock.KnowledgeBase{ResetErr: errors.New("collection locked")}
	_, err := app.New(context.Background(), f.cfg, f.providers(), app.WithKnowledgeBase(kb))
	if err == nil || !strings.Contains(err.Error(), "collection locked") {
		t.Errorf("err = %v, want seed error", err)
	}
}

func TestNew_ToolServer(t *testing.T) {
	t.Parallel()

	f := newFixture()
	if a := f.newApp(t); a.Tools() != nil {
		t.Error("tool server should be off by default")
	}

	f = newFixture()
	f.cfg.MCP.Enabled = true
	a := f.newApp(t)
	if a.Tools() == nil {
		t.Fatal("tool server should be enabled")
	}
	// No knowledge base: the three other tools are available.
	if got := len(a.Tools().Tools()); got != 3 {
		t.Errorf("tools = %v, want 3", a.Tools().Tools())
	}
}

func TestToggle(t *testing.T) {
	t.Parallel()

	f := newFixture()
	a := f.newApp(t)
	ctx := context.Background()

	if a.Listening() {
		t.Fatal("should not listen before a toggle")
	}
	on, err := a.Toggle(ctx)
	if err != nil || !on {
		t.Fatalf("Toggle() = %v, %v; want true, nil", on, err)
	}
	if !a.Listening() || len(f.stt.Sessions()) != 1 {
		t.Fatalf("listening=%v sessions=%d, want true and 1", a.Listening(), len(f.stt.Sessions()))
	}
	if cfg := f.stt.Configs[0]; cfg.SampleRate != 16000 || cfg.Channels != 1 || len(cfg.Keywords) == 0 {
		t.Errorf("stream config = %+v, want 16 kHz mono with keywords", cfg)
	}

	on, err = a.Toggle(ctx)
	if err != nil || on {
		t.Fatalf("Toggle() = %v, %v; want false, nil", on, err)
	}
	if a.Listening() {
		t.Error("should not be listening")
	}
	if !f.stt.Last().Closed() {
		t.Error("recogniser session should be closed")
	}
}

func TestSetListening_Idempotent(t *testing.T) {
	t.Parallel()

	f := newFixture()
	a := f.newApp(t)
	ctx := context.Background()

	for range 2 {
		if err := a.SetListening(ctx, true); err != nil {
			t.Fatal(err)
		}
	}
	if got := len(f.stt.Sessions()); got != 1 {
		t.Errorf("sessions = %d, want 1", got)
	}
}

func TestToggle_StartFailureLeavesListeningOff(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.stt.StartStreamErr = errors.New("quota exceeded")
	a := f.newApp(t)

	if _, err := a.Toggle(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if a.Listening() {
		t.Error("listening should stay off after a failed start")
	}
}

func TestRun_AnswersAndResumesListening(t *testing.T) {
	t.Parallel()

	f := newFixture()
	loc := time.Local
	f.cal.Events = []types.CalendarEvent{
		{Summary: "Standup", Start: time.Date(2024, 5, 15, 9, 0, 0, 0, loc)},
	}
	a := f.newApp(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	started := f.stt.Started()
	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(ctx) }()

	if err := a.SetListening(ctx, true); err != nil {
		t.Fatal(err)
	}
	waitFor(t, started, "first session")
	first := f.stt.Last()
	first.EmitFinal("What is on my calendar?")

	waitFor(t, started, "listening to resume")

	if !first.Closed() {
		t.Error("listener should be stopped while speaking")
	}
	played := f.out.Played()
	if len(played) != 1 || len(played[0]) != 4 {
		t.Fatalf("played = %v, want one 4-byte utterance", played)
	}
	if got := f.tts.Texts(); len(got) != 1 || got[0] != "You have a standup." {
		t.Errorf("spoken = %q", got)
	}
	reqs := f.llm.Requests()
	if len(reqs) != 1 {
		t.Fatalf("llm requests = %d, want 1", len(reqs))
	}
	prompt := reqs[0].Messages[len(reqs[0].Messages)-1].Content
	if !strings.HasPrefix(prompt, "Calendar Events:\n- Standup on") {
		t.Errorf("prompt = %q, want calendar context", prompt)
	}

	cancel()
	if err := <-runErr; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}
}

func TestRun_StartListeningFromConfig(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.cfg.Assistant.StartListening = true
	a := f.newApp(t)

	ctx, cancel := context.WithCancel(context.Background())
	started := f.stt.Started()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = a.Run(ctx)
	}()
	waitFor(t, started, "session")
	if !a.Listening() {
		t.Error("expected listening after Run")
	}
	cancel()
	<-done
}

func TestAsk_BusyWhileSpeaking(t *testing.T) {
	t.Parallel()

	f := newFixture()
	playing := make(chan struct{})
	release := make(chan struct{})
	f.out.OnPlay = func() {
		close(playing)
		<-release
	}
	a := f.newApp(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = a.Run(ctx) }()

	started := f.stt.Started()
	if err := a.SetListening(ctx, true); err != nil {
		t.Fatal(err)
	}
	waitFor(t, started, "session")
	f.stt.Last().EmitFinal("tell me a joke")
	waitFor(t, playing, "playback")

	if _, err := a.Ask(ctx, "another question"); !errors.Is(err, app.ErrBusy) {
		t.Errorf("Ask() err = %v, want ErrBusy", err)
	}
	close(release)
	waitFor(t, started, "listening to resume")
}

// speakingFixture runs an App with listening on and holds the first answer in
// playback until the returned release func is called.
func speakingFixture(t *testing.T, f *fixture, opts ...app.Option) (a *app.App, started <-chan struct{}, release func()) {
	t.Helper()
	playing := make(chan struct{})
	hold := make(chan struct{})
	f.out.OnPlay = func() {
		close(playing)
		<-hold
	}
	a = f.newApp(t, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = a.Run(ctx) }()

	started = f.stt.Started()
	if err := a.SetListening(ctx, true); err != nil {
		t.Fatal(err)
	}
	waitFor(t, started, "session")
	f.stt.Last().EmitFinal("tell me a joke")
	waitFor(t, playing, "playback")

	return a, started, sync.OnceFunc(func() { close(hold) })
}

// waitIdle blocks until the in-flight spoken turn has finished.
func waitIdle(t *testing.T, a *app.App) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		_, err := a.Ask(context.Background(), "ping")
		if !errors.Is(err, app.ErrBusy) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the turn to finish")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSetListening_OffWhileSpeakingStaysOff(t *testing.T) {
	t.Parallel()

	f := newFixture()
	a, _, release := speakingFixture(t, f)
	defer release()

	if err := a.SetListening(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	release()
	waitIdle(t, a)

	if got := len(f.stt.Sessions()); got != 1 {
		t.Errorf("sessions = %d, want 1 (no restart after playback)", got)
	}
	if a.Listening() {
		t.Error("listening should stay off")
	}
}

func TestSetListening_OnWhileSpeakingResumesOnce(t *testing.T) {
	t.Parallel()

	f := newFixture()
	a, started, release := speakingFixture(t, f)
	defer release()

	ctx := context.Background()
	if err := a.SetListening(ctx, false); err != nil {
		t.Fatal(err)
	}
	if err := a.SetListening(ctx, true); err != nil {
		t.Fatal(err)
	}
	if got := len(f.stt.Sessions()); got != 1 {
		t.Fatalf("sessions = %d, want 1 while speaking", got)
	}
	release()
	waitFor(t, started, "listening to resume")
	waitIdle(t, a)

	if got := len(f.stt.Sessions()); got != 2 {
		t.Errorf("sessions = %d, want 2 (resumed exactly once)", got)
	}
	if !a.Listening() {
		t.Error("listening should be on")
	}
}

func TestToolAsk_BusyWhileSpeaking(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.cfg.MCP.Enabled = true
	a, started, release := speakingFixture(t, f)
	defer release()

	ctx := context.Background()
	st, ct := mcpsdk.NewInMemoryTransports()
	if _, err := a.Tools().MCP().Connect(ctx, st, nil); err != nil {
		t.Fatalf("server connect: %v", err)
	}
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	defer cs.Close()

	res, err := cs.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      mcp.ToolAsk,
		Arguments: map[string]any{"question": "another question"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !res.IsError {
		t.Fatal("ask should fail while a spoken turn is in flight")
	}
	var text string
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			text += tc.Text
		}
	}
	if !strings.Contains(text, app.ErrBusy.Error()) {
		t.Errorf("text = %q, want busy error", text)
	}
	if got := len(f.llm.Requests()); got != 1 {
		t.Errorf("llm requests = %d, want only the spoken turn", got)
	}

	release()
	waitFor(t, started, "listening to resume")
}

func TestAsk_ReturnsRouteAndText(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.web.Results = []websearch.Result{{Title: "t", URL: "u", Body: "The sky is blue."}}
	f.llm.StreamChunks = llmmock.TextChunks("Blue.")
	a := f.newApp(t)

	ans, err := a.Ask(context.Background(), "what colour is the sky")
	if err != nil {
		t.Fatal(err)
	}
	if ans.Text != "Blue." || ans.Route != types.RouteWeb {
		t.Errorf("answer = %+v, want Blue. via web", ans)
	}
	if len(f.out.Played()) != 0 {
		t.Error("Ask should not speak")
	}
}

func TestApplyConfig_UpdatesRouter(t *testing.T) {
	t.Parallel()

	f := newFixture()
	a := f.newApp(t)

	next := config.Default()
	next.Router.KnowledgeThreshold = 0.75
	next.Router.CalendarKeywords = []string{"agenda"}
	a.ApplyConfig(f.cfg, next)

	s := a.Router().Settings()
	if s.KnowledgeThreshold != 0.75 {
		t.Errorf("threshold = %v, want 0.75", s.KnowledgeThreshold)
	}
	if len(s.CalendarKeywords) != 1 || s.CalendarKeywords[0] != "agenda" {
		t.Errorf("keywords = %v", s.CalendarKeywords)
	}
}

func TestApp_Shutdown(t *testing.T) {
	t.Parallel()

	f := newFixture()
	a := f.newApp(t)
	ctx := context.Background()
	if err := a.SetListening(ctx, true); err != nil {
		t.Fatal(err)
	}

	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() returned error: %v", err)
	}
	if a.Listening() {
		t.Error("should not be listening after shutdown")
	}
	if !f.stt.Last().Closed() {
		t.Error("recogniser session should be closed")
	}
	// Second call is a no-op.
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown() returned error: %v", err)
	}
	if err := a.SetListening(ctx, true); err == nil {
		t.Error("listening should not restart after shutdown")
	}
}

func TestSeed(t *testing.T) {
	t.Parallel()

	kb := &memorymock.KnowledgeBase{}
	n, err := app.Seed(context.Background(), kb, &embmock.Provider{})
	if err != nil {
		t.Fatal(err)
	}
	if n != 7 {
		t.Errorf("seeded %d passages, want 7", n)
	}
	milvus := 0
	for _, p := range app.SamplePassages {
		if strings.Contains(p, "Milvus") {
			milvus++
		}
	}
	if milvus != 3 {
		t.Errorf("Milvus passages = %d, want 3", milvus)
	}
}
