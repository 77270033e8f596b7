package beep

import (
	"testing"

	"github.com/stephen37/voice-assistant/pkg/audio"
)

func TestQueue_MonoIsDuplicated(t *testing.T) {
	t.Parallel()
	q := newQueue(1)
	q.push(audio.EncodePCM16([]int16{16384, -16384}))
	q.finish()

	buf := make([][2]float64, 4)
	n, ok := q.stream(buf)
	if n != 2 || !ok {
		t.Fatalf("stream = (%d, %v), want (2, true)", n, ok)
	}
	if buf[0] != [2]float64{0.5, 0.5} || buf[1] != [2]float64{-0.5, -0.5} {
		t.Errorf("frames = %v", buf[:2])
	}
	if n, ok := q.stream(buf); n != 0 || ok {
		t.Errorf("drained finished queue = (%d, %v), want (0, false)", n, ok)
	}
}

func TestQueue_StereoPairs(t *testing.T) {
	t.Parallel()
	q := newQueue(2)
	q.push(audio.EncodePCM16([]int16{16384, 0, 0, -16384}))
	q.finish()

	buf := make([][2]float64, 2)
	if n, _ := q.stream(buf); n != 2 {
		t.Fatalf("n = %d, want 2", n)
	}
	if buf[0] != [2]float64{0.5, 0} || buf[1] != [2]float64{0, -0.5} {
		t.Errorf("frames = %v", buf)
	}
}

func TestQueue_SilenceWhileWaiting(t *testing.T) {
	t.Parallel()
	q := newQueue(1)
	q.push(audio.EncodePCM16([]int16{32767}))

	buf := make([][2]float64, 3)
	n, ok := q.stream(buf)
	if n != 3 || !ok {
		t.Fatalf("stream = (%d, %v), want (3, true)", n, ok)
	}
	if buf[1] != [2]float64{} || buf[2] != [2]float64{} {
		t.Errorf("expected silence padding, got %v", buf)
	}
}

func TestQueue_Stop(t *testing.T) {
	t.Parallel()
	q := newQueue(1)
	q.push(audio.EncodePCM16([]int16{1, 2, 3}))
	q.stop()
	if n, ok := q.stream(make([][2]float64, 3)); n != 0 || ok {
		t.Errorf("stopped queue = (%d, %v), want (0, false)", n, ok)
	}
}
