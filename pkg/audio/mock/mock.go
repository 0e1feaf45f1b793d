// Package mock provides in-memory mock implementations of the [audio.Devices],
// [audio.Microphone] and [audio.Speaker] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// The [Speaker] has a manual clock: nothing plays until the test moves time
// forward with [Speaker.Advance] or completes a source explicitly.
//
// Typical usage:
//
//	mic := mock.NewMicrophone(16)
//	spk := mock.NewSpeaker()
//	devs := &mock.Devices{Mic: mic, Spk: spk}
//	mic.Emit(audio.AudioFrame{Samples: make([]float32, 4096), SampleRate: 16000, Channels: 1})
//	spk.Advance(10.0)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/livevoice/pkg/audio"
)

// ─── Microphone ───────────────────────────────────────────────────────────────

// Microphone is a mock implementation of [audio.Microphone]. Frames are
// injected with [Microphone.Emit].
type Microphone struct {
	mu     sync.Mutex
	frames chan audio.AudioFrame
	closed bool

	// CloseError is returned by [Microphone.Close].
	CloseError error

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewMicrophone returns a Microphone whose frame channel has the given buffer
// capacity.
func NewMicrophone(buffer int) *Microphone {
	return &Microphone{frames: make(chan audio.AudioFrame, buffer)}
}

// Frames implements [audio.Microphone].
func (m *Microphone) Frames() <-chan audio.AudioFrame { return m.frames }

// Emit delivers frame to the Frames channel without blocking. It reports
// false when the microphone is closed or the buffer is full.
func (m *Microphone) Emit(frame audio.AudioFrame) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	select {
	case m.frames <- frame:
		return true
	default:
		return false
	}
}

// Close implements [audio.Microphone]. The first call closes the Frames channel.
func (m *Microphone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCountClose++
	if !m.closed {
		m.closed = true
		close(m.frames)
	}
	return m.CloseError
}

// Closed reports whether Close has been called.
func (m *Microphone) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// ─── Speaker ──────────────────────────────────────────────────────────────────

// Source is the mock [audio.Source] returned by [Speaker.Schedule].
type Source struct {
	// Buffer is the buffer passed to Schedule.
	Buffer audio.PlaybackBuffer

	// StartAt is the device time the source was scheduled at.
	StartAt float64

	spk        *Speaker
	onComplete func()
	stopped    bool
	completed  bool
}

// End returns the device time at which the source finishes naturally.
func (s *Source) End() float64 { return s.StartAt + s.Buffer.Duration() }

// Stop implements [audio.Source].
func (s *Source) Stop() {
	s.spk.mu.Lock()
	defer s.spk.mu.Unlock()
	if !s.completed {
		s.stopped = true
	}
}

// Stopped reports whether Stop was called before the source completed.
func (s *Source) Stopped() bool {
	s.spk.mu.Lock()
	defer s.spk.mu.Unlock()
	return s.stopped
}

// Completed reports whether the source finished naturally.
func (s *Source) Completed() bool {
	s.spk.mu.Lock()
	defer s.spk.mu.Unlock()
	return s.completed
}

// Speaker is a mock implementation of [audio.Speaker] with a manual clock.
type Speaker struct {
	mu     sync.Mutex
	now    float64
	closed bool

	// ScheduleError, if non-nil, is returned by every Schedule call.
	ScheduleError error

	// CloseError is returned by [Speaker.Close].
	CloseError error

	// Scheduled records every source in scheduling order.
	Scheduled []*Source

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewSpeaker returns a Speaker whose clock reads zero.
func NewSpeaker() *Speaker { return &Speaker{} }

// CurrentTime implements [audio.Speaker].
func (s *Speaker) CurrentTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// SetTime moves the clock to t without completing any source.
func (s *Speaker) SetTime(t float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = t
}

// Schedule implements [audio.Speaker]. The source is recorded and completes
// only when the test advances the clock past its end or calls [Speaker.Complete].
func (s *Speaker) Schedule(buf audio.PlaybackBuffer, startAt float64, onComplete func()) (audio.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ScheduleError != nil {
		return nil, s.ScheduleError
	}
	if s.closed {
		return nil, audio.ErrDeviceClosed
	}
	src := &Source{Buffer: buf, StartAt: startAt, spk: s, onComplete: onComplete}
	s.Scheduled = append(s.Scheduled, src)
	return src, nil
}

// Sources returns a snapshot of all scheduled sources in order.
func (s *Speaker) Sources() []*Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Source, len(s.Scheduled))
	copy(out, s.Scheduled)
	return out
}

// Complete finishes src naturally and invokes its completion callback on the
// calling goroutine. Stopped or already completed sources are ignored.
func (s *Speaker) Complete(src *Source) {
	s.mu.Lock()
	if src.stopped || src.completed || s.closed {
		s.mu.Unlock()
		return
	}
	src.completed = true
	cb := src.onComplete
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// Advance moves the clock to t and completes, in scheduling order, every
// source that ends at or before t.
func (s *Speaker) Advance(t float64) {
	s.SetTime(t)
	for _, src := range s.Sources() {
		if src.End() <= t {
			s.Complete(src)
		}
	}
}

// Close implements [audio.Speaker]. All pending sources are stopped.
func (s *Speaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if !s.closed {
		s.closed = true
		for _, src := range s.Scheduled {
			if !src.completed {
				src.stopped = true
			}
		}
	}
	return s.CloseError
}

// Closed reports whether Close has been called.
func (s *Speaker) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ─── Devices ──────────────────────────────────────────────────────────────────

// OpenMicrophoneCall records the arguments of a single OpenMicrophone call.
type OpenMicrophoneCall struct {
	Format    audio.Format
	FrameSize int
}

// Devices is a mock implementation of [audio.Devices].
type Devices struct {
	mu sync.Mutex

	// Mic is returned by OpenMicrophone. If nil, a new Microphone is created.
	Mic audio.Microphone

	// Spk is returned by OpenSpeaker. If nil, a new Speaker is created.
	Spk audio.Speaker

	// MicError, if non-nil, is returned by OpenMicrophone.
	MicError error

	// SpeakerError, if non-nil, is returned by OpenSpeaker.
	SpeakerError error

	// MicCalls records all OpenMicrophone invocations.
	MicCalls []OpenMicrophoneCall

	// SpeakerCalls records the format of every OpenSpeaker invocation.
	SpeakerCalls []audio.Format
}

// OpenMicrophone implements [audio.Devices].
func (d *Devices) OpenMicrophone(_ context.Context, f audio.Format, frameSize int) (audio.Microphone, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.MicCalls = append(d.MicCalls, OpenMicrophoneCall{Format: f, FrameSize: frameSize})
	if d.MicError != nil {
		return nil, d.MicError
	}
	if d.Mic == nil {
		d.Mic = NewMicrophone(16)
	}
	return d.Mic, nil
}

// OpenSpeaker implements [audio.Devices].
func (d *Devices) OpenSpeaker(_ context.Context, f audio.Format) (audio.Speaker, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.SpeakerCalls = append(d.SpeakerCalls, f)
	if d.SpeakerError != nil {
		return nil, d.SpeakerError
	}
	if d.Spk == nil {
		d.Spk = NewSpeaker()
	}
	return d.Spk, nil
}

// Compile-time interface assertions.
var (
	_ audio.Devices    = (*Devices)(nil)
	_ audio.Microphone = (*Microphone)(nil)
	_ audio.Speaker    = (*Speaker)(nil)
	_ audio.Source     = (*Source)(nil)
)
