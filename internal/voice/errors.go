package voice

import "errors"

var (
	// ErrChannelOpen is returned when the remote endpoint could not be reached
	// or rejected the session setup.
	ErrChannelOpen = errors.New("voice: channel open failed")

	// ErrTransport marks a fault of an established channel, including a
	// rejected outbound send.
	ErrTransport = errors.New("voice: transport failure")

	// ErrDeviceUnavailable is returned when the microphone or the speaker
	// could not be opened.
	ErrDeviceUnavailable = errors.New("voice: audio device unavailable")

	// ErrAlreadyStarted is returned by Start on a session that was started
	// before. Sessions are single-use.
	ErrAlreadyStarted = errors.New("voice: session already started")
)
