package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to let a producer goroutine exit when nobody consumes its stream
// any more (e.g. capture frames after a session has stopped).
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
