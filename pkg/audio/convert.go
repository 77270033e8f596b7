package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// Format describes the sample rate and channel count of a 16-bit PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}

// ── sample codecs ────────────────────────────────────────────────────────────

// DecodePCM16 reads little-endian int16 samples. A trailing odd byte is ignored.
func DecodePCM16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return out
}

// EncodePCM16 writes samples as little-endian int16.
func EncodePCM16(samples []int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

// Float32ToPCM16 converts [-1, 1] float samples (as delivered by PortAudio)
// to little-endian int16, clipping out-of-range values.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = clip16(float64(s) * math.MaxInt16)
	}
	return EncodePCM16(out)
}

// PCM16ToFloat64 converts int16 samples to [-1, 1] floats.
func PCM16ToFloat64(samples []int16) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = float64(s) / (math.MaxInt16 + 1)
	}
	return out
}

func clip16(v float64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

// ── channel and rate conversion ──────────────────────────────────────────────

// MonoToStereo duplicates every mono sample into an L/R pair.
func MonoToStereo(pcm []byte) []byte {
	in := DecodePCM16(pcm)
	out := make([]int16, 2*len(in))
	for i, s := range in {
		out[2*i], out[2*i+1] = s, s
	}
	return EncodePCM16(out)
}

// StereoToMono averages each L/R pair.
func StereoToMono(pcm []byte) []byte {
	in := DecodePCM16(pcm)
	out := make([]int16, len(in)/2)
	for i := range out {
		out[i] = int16((int32(in[2*i]) + int32(in[2*i+1])) / 2)
	}
	return EncodePCM16(out)
}

// Resample16 resamples interleaved int16 PCM with the given channel count
// from srcRate to dstRate using linear interpolation. Invalid rates return the
// input unchanged.
func Resample16(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 || srcRate == dstRate {
		return pcm
	}
	in := DecodePCM16(pcm)
	srcFrames := len(in) / channels
	if srcFrames == 0 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]int16, dstFrames*channels)
	step := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * step
		j := int(pos)
		frac := pos - float64(j)
		next := min(j+1, srcFrames-1)
		for c := range channels {
			a := float64(in[j*channels+c])
			b := float64(in[next*channels+c])
			out[i*channels+c] = clip16(a + (b-a)*frac)
		}
	}
	return EncodePCM16(out)
}

// ── frame conversion ─────────────────────────────────────────────────────────

// Converter conforms frames to a target format. It warns once on the first
// mismatch and once on the first corrupt (odd-length) frame. Use one per
// stream.
type Converter struct {
	Target Format

	warnMismatch sync.Once
	warnCorrupt  sync.Once
}

// Convert returns frame in the target format. Matching frames are returned
// as is. Corrupt frames come back with nil Data.
func (c *Converter) Convert(frame AudioFrame) AudioFrame {
	src := Format{SampleRate: frame.SampleRate, Channels: frame.Channels}
	if len(frame.Data)%2 != 0 {
		c.warnCorrupt.Do(func() {
			slog.Warn("audio converter: odd byte count, dropping frame", "bytes", len(frame.Data), "format", src)
		})
		return AudioFrame{SampleRate: c.Target.SampleRate, Channels: c.Target.Channels, Timestamp: frame.Timestamp}
	}
	if src == c.Target {
		return frame
	}
	c.warnMismatch.Do(func() {
		slog.Warn("audio format mismatch, converting", "from", src, "to", c.Target)
	})

	pcm := frame.Data
	// Downmix before resampling so stereo input is resampled once.
	if src.Channels == 2 && c.Target.Channels == 1 {
		pcm = StereoToMono(pcm)
		src.Channels = 1
	}
	pcm = Resample16(pcm, src.Channels, src.SampleRate, c.Target.SampleRate)
	if src.Channels == 1 && c.Target.Channels == 2 {
		pcm = MonoToStereo(pcm)
	}
	return AudioFrame{
		Data:       pcm,
		SampleRate: c.Target.SampleRate,
		Channels:   c.Target.Channels,
		Timestamp:  frame.Timestamp,
	}
}

// ConvertStream converts every frame from in to target on a new goroutine.
// The returned channel closes when in closes; corrupt frames are dropped.
func ConvertStream(in <-chan AudioFrame, target Format) <-chan AudioFrame {
	out := make(chan AudioFrame, cap(in))
	go func() {
		defer close(out)
		conv := Converter{Target: target}
		for frame := range in {
			if f := conv.Convert(frame); len(f.Data) > 0 {
				out <- f
			}
		}
	}()
	return out
}
