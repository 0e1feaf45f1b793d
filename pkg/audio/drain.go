package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to keep a producer from blocking after the consumer has stopped
// caring about its output (e.g., the event stream of a closing channel).
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
