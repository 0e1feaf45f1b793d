// Package genailive implements the s2s.Provider interface on top of the official
// Google Gen AI SDK (google.golang.org/genai) Live client.
//
// It is an alternative to the hand-rolled gemini package: the SDK owns the
// WebSocket and the BidiGenerateContent framing, this package adapts its
// blocking Receive call to the s2s event stream.
package genailive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/MrWong99/livevoice/pkg/audio"
	"github.com/MrWong99/livevoice/pkg/provider/s2s"
)

var _ s2s.Provider = (*Provider)(nil)
var _ s2s.SessionHandle = (*session)(nil)

const (
	defaultModel     = "gemini-2.5-flash-native-audio-preview-09-2025"
	defaultVoice     = "Puck"
	defaultSendQueue = 64
	eventBuffer      = 64

	// maxDecodeErrors ends the stream after this many undecodable frames in
	// a row; a read error the SDK reports in an unknown form would repeat
	// forever otherwise.
	maxDecodeErrors = 8
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Live model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the API endpoint of the SDK client.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithSendQueue sets how many outbound audio chunks may wait for the socket.
func WithSendQueue(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.sendQueue = n
		}
	}
}

// Provider implements s2s.Provider using the Gen AI SDK Live client.
type Provider struct {
	apiKey    string
	model     string
	baseURL   string
	sendQueue int
}

// New creates a Provider. The SDK client is created per session so that a
// cancelled Connect never leaves a shared client behind.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:    apiKey,
		model:     defaultModel,
		sendQueue: defaultSendQueue,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Capabilities returns static metadata about the Live API.
func (p *Provider) Capabilities() s2s.S2SCapabilities {
	return s2s.S2SCapabilities{
		InputFormat:          audio.Format{SampleRate: audio.InputSampleRate, Channels: 1},
		OutputFormat:         audio.Format{SampleRate: audio.OutputSampleRate, Channels: 1},
		MaxSessionDurationMs: 15 * 60 * 1000,
		Voices:               []string{"Aoede", "Charon", "Fenrir", "Kore", "Puck"},
	}
}

// Connect opens a Live session and waits for the setupComplete message.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	cc := &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if p.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: p.baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("genai: new client: %w", err)
	}

	live, err := client.Live.Connect(ctx, p.model, liveConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("genai: connect: %w", err)
	}

	// Receive has no context parameter; closing the session unblocks it.
	setup := make(chan error, 1)
	go func() {
		for {
			msg, err := live.Receive()
			if err != nil {
				setup <- err
				return
			}
			if msg.SetupComplete != nil {
				setup <- nil
				return
			}
		}
	}()
	select {
	case err := <-setup:
		if err != nil {
			live.Close()
			return nil, fmt.Errorf("genai: await setupComplete: %w", err)
		}
	case <-ctx.Done():
		live.Close()
		return nil, fmt.Errorf("genai: await setupComplete: %w", ctx.Err())
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	s := &session{
		live:   live,
		queue:  make(chan audio.EncodedChunk, p.sendQueue),
		events: make(chan s2s.Event, eventBuffer),
		done:   make(chan struct{}),
		ctx:    sessCtx,
		cancel: cancel,
	}
	go s.receiveLoop()
	go s.writeLoop()
	return s, nil
}

// liveConfig maps a SessionConfig to the SDK connect configuration.
func liveConfig(cfg s2s.SessionConfig) *genai.LiveConnectConfig {
	voice := cfg.Voice
	if voice == "" {
		voice = defaultVoice
	}
	lc := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		},
	}
	if cfg.Instructions != "" {
		lc.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: cfg.Instructions}}}
	}
	if cfg.OutputTranscription {
		lc.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if cfg.InputTranscription {
		lc.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	return lc
}

// translate converts one server message into zero or more events.
func translate(msg *genai.LiveServerMessage) []s2s.Event {
	sc := msg.ServerContent
	if sc == nil {
		return nil
	}
	var out []s2s.Event
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p == nil {
				continue
			}
			if p.InlineData != nil && len(p.InlineData.Data) > 0 {
				out = append(out, audioEvent(p.InlineData))
			}
			if p.Text != "" {
				out = append(out, s2s.Event{Kind: s2s.EventTranscript, Role: s2s.RoleModel, Text: p.Text})
			}
		}
	}
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		out = append(out, s2s.Event{Kind: s2s.EventTranscript, Role: s2s.RoleUser, Text: sc.InputTranscription.Text})
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		out = append(out, s2s.Event{Kind: s2s.EventTranscript, Role: s2s.RoleModel, Text: sc.OutputTranscription.Text})
	}
	if sc.Interrupted {
		out = append(out, s2s.Event{Kind: s2s.EventInterrupted})
	}
	return out
}

// audioEvent wraps an inline blob. The SDK has already base64-decoded it;
// an odd byte count is still malformed 16-bit PCM.
func audioEvent(b *genai.Blob) s2s.Event {
	if len(b.Data)%2 != 0 {
		return s2s.Event{Kind: s2s.EventAudio, Err: fmt.Errorf("%w: odd byte count %d", audio.ErrMalformedAudio, len(b.Data))}
	}
	return s2s.Event{Kind: s2s.EventAudio, Audio: audio.EncodedChunk{
		Data:       b.Data,
		SampleRate: audio.RateFromMIME(b.MIMEType, audio.OutputSampleRate),
		Channels:   1,
	}}
}

type session struct {
	live   *genai.Session
	queue  chan audio.EncodedChunk
	events chan s2s.Event

	mu     sync.Mutex
	errVal error
	closed bool
	done   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

func (s *session) writeLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case chunk := <-s.queue:
			err := s.live.SendRealtimeInput(genai.LiveRealtimeInput{
				Audio: &genai.Blob{Data: chunk.Data, MIMEType: chunk.MIMEType()},
			})
			if err != nil {
				s.fail(fmt.Errorf("genai: send audio: %w", err))
				return
			}
		}
	}
}

// receiveLoop owns the events channel. Frames the SDK cannot decode are
// reported as malformed audio and skipped; only connection failures end the
// stream.
func (s *session) receiveLoop() {
	defer close(s.events)
	decodeErrors := 0
	for {
		msg, err := s.live.Receive()
		if err != nil {
			if isConnError(err) || isServerError(err) || s.ended() {
				s.finish(s.terminalEvent(err))
				return
			}
			decodeErrors++
			if decodeErrors >= maxDecodeErrors {
				s.finish(s2s.Event{Kind: s2s.EventError, Err: fmt.Errorf("genai: %d undecodable messages in a row: %w", decodeErrors, err)})
				return
			}
			s.emit(s2s.Event{Kind: s2s.EventAudio, Err: fmt.Errorf("%w: %w", audio.ErrMalformedAudio, err)})
			continue
		}
		decodeErrors = 0
		if msg.GoAway != nil {
			slog.Info("genai: server is going away", "time_left", msg.GoAway.TimeLeft)
		}
		for _, ev := range translate(msg) {
			s.emit(ev)
		}
	}
}

func (s *session) emit(ev s2s.Event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

// ended reports whether the session was closed locally or failed.
func (s *session) ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed || s.errVal != nil
}

// isConnError reports whether err came from reading the socket rather than
// from decoding a frame. The SDK returns read errors unwrapped.
func isConnError(err error) bool {
	var ce *websocket.CloseError
	var ne net.Error
	switch {
	case errors.As(err, &ce), errors.As(err, &ne):
		return true
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed):
		return true
	case errors.Is(err, websocket.ErrCloseSent), errors.Is(err, websocket.ErrReadLimit):
		return true
	}
	// Protocol violations detected by the websocket reader.
	return strings.HasPrefix(err.Error(), "websocket: ")
}

// isServerError reports whether the server sent an error message, which the
// SDK surfaces only as text.
func isServerError(err error) bool {
	return strings.HasPrefix(err.Error(), "received error in response")
}

// terminalEvent decides how the stream ends after Receive returned readErr.
func (s *session) terminalEvent(readErr error) s2s.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.errVal != nil:
		return s2s.Event{Kind: s2s.EventError, Err: s.errVal}
	case s.closed:
		return s2s.Event{Kind: s2s.EventClosed}
	case websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		return s2s.Event{Kind: s2s.EventClosed}
	default:
		return s2s.Event{Kind: s2s.EventError, Err: fmt.Errorf("genai: receive: %w", readErr)}
	}
}

func (s *session) finish(ev s2s.Event) {
	select {
	case s.events <- ev:
	case <-s.done:
		select {
		case s.events <- ev:
		default:
		}
	}
}

// fail records the first fatal error and closes the SDK session, which makes
// the pending Receive return.
func (s *session) fail(err error) {
	s.mu.Lock()
	if s.errVal != nil || s.closed {
		s.mu.Unlock()
		return
	}
	s.errVal = err
	s.mu.Unlock()
	s.cancel()
	s.live.Close()
}

func (s *session) SendAudio(chunk audio.EncodedChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.ctx.Err() != nil {
		return s2s.ErrSessionClosed
	}
	select {
	case s.queue <- chunk:
		return nil
	default:
		return s2s.ErrSendQueueFull
	}
}

func (s *session) Events() <-chan s2s.Event { return s.events }

func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	close(s.done)
	if err := s.live.Close(); err != nil {
		slog.Debug("genai: close", "err", err)
	}
	return nil
}
