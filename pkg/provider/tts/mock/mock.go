// Package mock provides a test double for the tts.Provider interface.
//
// The mock drains the text channel it is given, records every fragment, and
// then emits SynthesizeChunks. Fragments are recorded before the audio channel
// is closed, so a consumer that has drained the audio can inspect Texts.
//
//	p := &mock.Provider{SynthesizeChunks: [][]byte{{0, 1}, {2, 3}}}
//	ch, _ := tts.SynthesizeText(ctx, p, "hello", types.VoiceProfile{})
package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/stephen37/voice-assistant/pkg/provider/tts"
	"github.com/stephen37/voice-assistant/pkg/types"
)

var _ tts.Provider = (*Provider)(nil)

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// SynthesizeChunks is emitted on every returned audio channel.
	SynthesizeChunks [][]byte

	// SynthesizeErr, if non-nil, is returned from SynthesizeStream.
	SynthesizeErr error

	// ListVoicesResult and ListVoicesErr are returned by ListVoices.
	ListVoicesResult []types.VoiceProfile
	ListVoicesErr    error

	// Voices records the profile passed to each SynthesizeStream call.
	Voices []types.VoiceProfile

	fragments [][]string
}

// SynthesizeStream records the call, collects all text fragments and then
// emits SynthesizeChunks.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	p.mu.Lock()
	p.Voices = append(p.Voices, voice)
	if p.SynthesizeErr != nil {
		err := p.SynthesizeErr
		p.mu.Unlock()
		return nil, err
	}
	chunks := make([][]byte, len(p.SynthesizeChunks))
	copy(chunks, p.SynthesizeChunks)
	p.mu.Unlock()

	ch := make(chan []byte, len(chunks))
	go func() {
		defer close(ch)
		var parts []string
	collect:
		for {
			select {
			case s, ok := <-text:
				if !ok {
					break collect
				}
				parts = append(parts, s)
			case <-ctx.Done():
				return
			}
		}
		p.mu.Lock()
		p.fragments = append(p.fragments, parts)
		p.mu.Unlock()

		for _, audio := range chunks {
			select {
			case ch <- audio:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// ListVoices returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(context.Context) ([]types.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ListVoicesResult, p.ListVoicesErr
}

// Texts returns the joined text of every completed synthesis, in order.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.fragments))
	for i, f := range p.fragments {
		out[i] = strings.Join(f, "")
	}
	return out
}

// Fragments returns the fragments of every completed synthesis, in order.
func (p *Provider) Fragments() [][]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]string, len(p.fragments))
	for i, f := range p.fragments {
		out[i] = append([]string(nil), f...)
	}
	return out
}
