package audio

// Drain reads from ch until it is closed, discarding all values. Use it to
// release a producer whose output is no longer wanted, e.g. synthesised audio
// after playback failed.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
