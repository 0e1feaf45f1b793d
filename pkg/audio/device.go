// Package audio defines the PCM codec, buffer types and device interfaces used
// by the realtime voice pipeline.
//
// The device layer has two sides:
//
//   - [Microphone]: a live capture stream delivering fixed-size [AudioFrame]s.
//   - [Speaker]: an output device with its own monotonically advancing clock
//     on which [PlaybackBuffer]s are scheduled at sample-accurate start times.
//
// Both are obtained from a [Devices] factory so that a session can acquire
// them on start and release them on every exit path. Implementations live in
// adapter packages (audio/portaudio for real hardware, audio/mock for tests).
package audio

import (
	"context"
	"errors"
)

// ErrDeviceClosed is returned by [Speaker.Schedule] after the speaker was closed.
var ErrDeviceClosed = errors.New("audio: device closed")

// Microphone is an open capture stream.
//
// Implementations must be safe for concurrent use.
type Microphone interface {
	// Frames returns the channel on which captured frames arrive. The channel
	// is closed when the microphone is closed or the capture stream fails.
	// Slow consumers cause frames to be dropped, never capture to stall.
	Frames() <-chan AudioFrame

	// Close stops capture and releases the device. Calling Close more than
	// once is safe and returns nil.
	Close() error
}

// Source is a buffer playing or queued on a [Speaker].
type Source interface {
	// Stop halts the source immediately. Stopping a source that has already
	// finished is a no-op. A stopped source never reports completion.
	Stop()
}

// Speaker is an open output device with a running playback clock.
//
// Implementations must be safe for concurrent use.
type Speaker interface {
	// CurrentTime returns the device timeline position in seconds. It starts at
	// zero when the speaker opens and advances monotonically while open.
	CurrentTime() float64

	// Schedule queues buf to start playing at exactly startAt seconds on the
	// device timeline. A startAt in the past starts the buffer immediately.
	// onComplete (may be nil) is invoked once, on a goroutine owned by the
	// speaker, when the buffer finishes naturally. It is never invoked from
	// inside Schedule or Stop.
	Schedule(buf PlaybackBuffer, startAt float64, onComplete func()) (Source, error)

	// Close stops all sources and releases the device. Calling Close more than
	// once is safe and returns nil.
	Close() error
}

// Devices opens microphone and speaker streams.
//
// Implementations must be safe for concurrent use.
type Devices interface {
	// OpenMicrophone starts capturing frames of frameSize samples in format f.
	// ctx governs only the open attempt.
	OpenMicrophone(ctx context.Context, f Format, frameSize int) (Microphone, error)

	// OpenSpeaker opens an output device that accepts buffers in format f.
	OpenSpeaker(ctx context.Context, f Format) (Speaker, error)
}
