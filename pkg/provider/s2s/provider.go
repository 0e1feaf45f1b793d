// Package s2s defines the Provider interface for Speech-to-Speech (S2S) backends.
//
// An S2S provider wraps a real-time voice AI service that accepts raw audio input
// and returns synthesised audio output in a single, stateful session. Examples
// include the Gemini Live API.
//
// The central abstraction is SessionHandle: a bidirectional channel that carries
// microphone audio out and an ordered stream of events (audio chunks,
// transcripts, interruptions, termination) back in. Sessions are long-lived
// (seconds to minutes).
//
// All implementations must be safe for concurrent use.
package s2s

import (
	"context"
	"errors"

	"github.com/MrWong99/livevoice/pkg/audio"
)

var (
	// ErrSessionClosed is returned by SendAudio after the session has closed.
	ErrSessionClosed = errors.New("s2s: session closed")

	// ErrSendQueueFull is returned by SendAudio when the outbound queue cannot
	// take another chunk without blocking the caller.
	ErrSendQueueFull = errors.New("s2s: send queue full")
)

// SessionConfig is the initial configuration for a new S2S session.
type SessionConfig struct {
	// Voice is the provider-specific name of the prebuilt output voice
	// (e.g., "Puck"). Empty selects the provider default.
	Voice string

	// Instructions is the system instruction that frames the conversation.
	Instructions string

	// OutputTranscription asks the provider to stream a text transcript of the
	// synthesised speech as [EventTranscript] events.
	OutputTranscription bool

	// InputTranscription asks the provider to stream recognised user speech.
	InputTranscription bool
}

// S2SCapabilities describes static properties of the S2S provider.
// The values are assumed constant for the lifetime of the Provider instance.
type S2SCapabilities struct {
	// InputFormat is the PCM format SendAudio expects.
	InputFormat audio.Format

	// OutputFormat is the PCM format of inbound audio chunks.
	OutputFormat audio.Format

	// MaxSessionDurationMs is the hard upper bound on session lifetime in
	// milliseconds, as imposed by the provider. Zero means no documented limit.
	MaxSessionDurationMs int

	// Voices lists the prebuilt voice names available for this provider.
	Voices []string
}

// EventKind classifies an inbound [Event].
type EventKind int

const (
	// EventAudio carries one chunk of synthesised speech.
	EventAudio EventKind = iota

	// EventTranscript carries an incremental piece of transcript text.
	EventTranscript

	// EventInterrupted signals that the remote side detected the user speaking
	// over the synthesised output (barge-in). Local playback must stop.
	EventInterrupted

	// EventClosed is the clean terminal event.
	EventClosed

	// EventError is the faulty terminal event. Event.Err holds the cause.
	EventError
)

// String returns the human-readable name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventAudio:
		return "AUDIO"
	case EventTranscript:
		return "TRANSCRIPT"
	case EventInterrupted:
		return "INTERRUPTED"
	case EventClosed:
		return "CLOSED"
	case EventError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Role identifies who spoke a transcript fragment.
type Role string

const (
	RoleModel Role = "model"
	RoleUser  Role = "user"
)

// Event is one inbound item from a session.
type Event struct {
	Kind EventKind

	// Audio is set for [EventAudio].
	Audio audio.EncodedChunk

	// Text and Role are set for [EventTranscript].
	Text string
	Role Role

	// Err is set for [EventError]. It may also be set on an [EventAudio] whose
	// payload could not be decoded; such an event carries no usable audio and
	// does not end the stream.
	Err error
}

// SessionHandle represents an open S2S session. It is an interface so that test
// code can supply mock implementations without a live provider connection.
//
// All methods must be safe for concurrent use. Callers must call Close when
// the session is no longer needed.
type SessionHandle interface {
	// SendAudio submits a PCM chunk in the provider's input format. It never
	// waits for the network: chunks are queued and written in submission order.
	// Returns ErrSessionClosed after close and ErrSendQueueFull when the queue
	// is saturated. Write failures surface later as an [EventError].
	SendAudio(chunk audio.EncodedChunk) error

	// Events returns the ordered inbound stream: zero or more transcript and
	// audio events, interruption events, and exactly one terminal
	// [EventClosed] or [EventError], after which the channel is closed.
	// Consumers must drain this channel promptly.
	Events() <-chan Event

	// Close terminates the session and releases all resources. Calling Close
	// more than once, or after a terminal event, is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any S2S backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Connect establishes a new S2S session with the given configuration. It
	// returns only once the remote endpoint has accepted the session, so the
	// returned handle is immediately ready to accept audio.
	//
	// Returns an error if the session cannot be established (e.g., invalid
	// credentials, unknown voice, network failure, or ctx cancelled). No retry
	// is attempted. The caller owns the SessionHandle and must call Close.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about this provider's underlying model.
	Capabilities() S2SCapabilities
}
