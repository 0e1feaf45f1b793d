// Package mock provides test doubles for the s2s package interfaces.
//
// Use Provider to verify Connect calls and hand out controlled sessions.
// Use Session to push inbound events and inspect which audio was sent.
//
// Example:
//
//	sess := mock.NewSession(16)
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.Emit(s2s.Event{Kind: s2s.EventInterrupted})
//	sess.Finish(nil) // clean remote close
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/livevoice/pkg/audio"
	"github.com/MrWong99/livevoice/pkg/provider/s2s"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg s2s.SessionConfig
}

// Provider is a mock implementation of s2s.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by Connect. If nil, Connect returns
	// a new Session with a 64-event buffer.
	Session s2s.SessionHandle

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// Gate, if non-nil, makes Connect wait until the channel is closed (or
	// receives a value) before returning. Returns ctx.Err() if the context
	// ends first.
	Gate chan struct{}

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities s2s.S2SCapabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall

	// CapabilitiesCallCount is the number of times Capabilities was called.
	CapabilitiesCallCount int
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	gate := p.Gate
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(64), nil
}

// Capabilities records the call and returns ProviderCapabilities.
func (p *Provider) Capabilities() s2s.S2SCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CapabilitiesCallCount++
	return p.ProviderCapabilities
}

// Calls returns a copy of the recorded Connect calls. Thread-safe.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ConnectCall, len(p.ConnectCalls))
	copy(out, p.ConnectCalls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = nil
	p.CapabilitiesCallCount = 0
}

// Ensure Provider implements s2s.Provider at compile time.
var _ s2s.Provider = (*Provider)(nil)

// Session is a mock implementation of s2s.SessionHandle. It honours the
// handle contract: exactly one terminal event, then the events channel closes.
type Session struct {
	mu sync.Mutex

	events     chan s2s.Event
	terminated bool

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// SendAudioCalls records every chunk accepted by SendAudio, in order.
	SendAudioCalls []audio.EncodedChunk

	// CallCountClose is the number of times Close was called.
	CallCountClose int
}

// NewSession returns a Session whose events channel holds up to buffer events.
func NewSession(buffer int) *Session {
	return &Session{events: make(chan s2s.Event, buffer)}
}

// Emit pushes a non-terminal event. It never blocks and reports false when the
// session has terminated or the buffer is full.
func (s *Session) Emit(ev s2s.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminated {
		return false
	}
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

// Finish ends the event stream with EventClosed when err is nil and with
// EventError otherwise. Later calls are no-ops.
func (s *Session) Finish(err error) {
	ev := s2s.Event{Kind: s2s.EventClosed}
	if err != nil {
		ev = s2s.Event{Kind: s2s.EventError, Err: err}
	}
	s.finish(ev)
}

func (s *Session) finish(ev s2s.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminated {
		return
	}
	s.terminated = true
	select {
	case s.events <- ev:
	default:
	}
	close(s.events)
}

// SendAudio records the chunk and returns SendAudioErr.
func (s *Session) SendAudio(chunk audio.EncodedChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminated {
		return s2s.ErrSessionClosed
	}
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	data := make([]byte, len(chunk.Data))
	copy(data, chunk.Data)
	chunk.Data = data
	s.SendAudioCalls = append(s.SendAudioCalls, chunk)
	return nil
}

// Sent returns a copy of the chunks accepted by SendAudio. Thread-safe.
func (s *Session) Sent() []audio.EncodedChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.EncodedChunk, len(s.SendAudioCalls))
	copy(out, s.SendAudioCalls)
	return out
}

// Events returns the inbound event channel.
func (s *Session) Events() <-chan s2s.Event { return s.events }

// Close records the call and ends the stream with EventClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CallCountClose++
	err := s.CloseErr
	s.mu.Unlock()
	s.finish(s2s.Event{Kind: s2s.EventClosed})
	return err
}

// Closed reports whether the event stream has terminated.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminated
}

// CloseCalls returns the number of times Close was called. Thread-safe.
func (s *Session) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountClose
}

// Ensure Session implements s2s.SessionHandle at compile time.
var _ s2s.SessionHandle = (*Session)(nil)
