// Package gemini implements the s2s.Provider interface for Google's Gemini Live API.
//
// It establishes a bidirectional WebSocket connection to the Gemini Live endpoint
// and exchanges JSON messages according to the BidiGenerateContent protocol.
// Audio is transmitted as base64-encoded PCM chunks in both directions.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/livevoice/pkg/audio"
	"github.com/MrWong99/livevoice/pkg/provider/s2s"
)

// Compile-time assertions that Provider and session satisfy the s2s interfaces.
var _ s2s.Provider = (*Provider)(nil)
var _ s2s.SessionHandle = (*session)(nil)

const (
	defaultModel   = "gemini-2.5-flash-native-audio-preview-09-2025"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"
	defaultVoice   = "Puck"

	defaultKeepalive  = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second
	defaultSendQueue  = 64
	eventBuffer       = 64
	readLimitBytes    = 16 << 20
	setupResponseWait = 30 * time.Second
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Gemini model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithSendQueue sets how many outbound audio chunks may wait for the socket
// before SendAudio reports [s2s.ErrSendQueueFull].
func WithSendQueue(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.sendQueue = n
		}
	}
}

// WithKeepalive sets the WebSocket ping interval. Zero disables pings.
func WithKeepalive(d time.Duration) Option {
	return func(p *Provider) { p.keepalive = d }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements s2s.Provider for Google's Gemini Live API.
type Provider struct {
	apiKey    string
	model     string
	baseURL   string
	sendQueue int
	keepalive time.Duration
}

// New creates a new Gemini Live Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:    apiKey,
		model:     defaultModel,
		baseURL:   defaultBaseURL,
		sendQueue: defaultSendQueue,
		keepalive: defaultKeepalive,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Capabilities returns static metadata about the Gemini Live provider.
func (p *Provider) Capabilities() s2s.S2SCapabilities {
	return s2s.S2SCapabilities{
		InputFormat:          audio.Format{SampleRate: audio.InputSampleRate, Channels: 1},
		OutputFormat:         audio.Format{SampleRate: audio.OutputSampleRate, Channels: 1},
		MaxSessionDurationMs: 15 * 60 * 1000,
		Voices:               []string{"Aoede", "Charon", "Fenrir", "Kore", "Puck"},
	}
}

// Connect dials the Gemini Live endpoint, sends the setup message and waits
// for the server's setupComplete acknowledgement. The returned SessionHandle
// is ready to accept audio.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		p.baseURL, url.QueryEscape(p.apiKey),
	)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: dial: %w", err)
	}
	conn.SetReadLimit(readLimitBytes)

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:   conn,
		queue:  make(chan audio.EncodedChunk, p.sendQueue),
		events: make(chan s2s.Event, eventBuffer),
		done:   make(chan struct{}),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	if err := sess.sendSetup(ctx, p.model, cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}
	if err := sess.awaitSetupComplete(ctx); err != nil {
		sessCancel()
		conn.Close(websocket.StatusPolicyViolation, "setup rejected")
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}

	go sess.receiveLoop()
	go sess.writeLoop()
	if p.keepalive > 0 {
		go sess.keepaliveLoop(p.keepalive)
	}

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                    string             `json:"model"`
	GenerationConfig         generationConfig   `json:"generationConfig"`
	SystemInstruction        *systemInstruction `json:"systemInstruction,omitempty"`
	OutputAudioTranscription *struct{}          `json:"outputAudioTranscription,omitempty"`
	InputAudioTranscription  *struct{}          `json:"inputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string     `json:"responseModalities"`
	SpeechConfig       speechConfig `json:"speechConfig"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type systemInstruction struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []inlineData `json:"mediaChunks"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	GoAway        *goAway          `json:"goAway,omitempty"`
	Error         *geminiError     `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

func (e *geminiError) err() error {
	msg := "unknown error"
	if e.Message != "" {
		msg = e.Message
	}
	if e.Code != 0 {
		return fmt.Errorf("gemini: server error %d: %s", e.Code, msg)
	}
	return fmt.Errorf("gemini: server error: %s", msg)
}

type goAway struct {
	TimeLeft string `json:"timeLeft"`
}

type serverContent struct {
	ModelTurn           *modelTurn     `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type modelTurn struct {
	Parts []part `json:"parts"`
}

type transcription struct {
	Text string `json:"text"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn   *websocket.Conn
	queue  chan audio.EncodedChunk
	events chan s2s.Event

	mu     sync.Mutex
	errVal error
	closed bool
	done   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// sendSetup sends the initial BidiGenerateContent setup message.
func (s *session) sendSetup(ctx context.Context, model string, cfg s2s.SessionConfig) error {
	voice := cfg.Voice
	if voice == "" {
		voice = defaultVoice
	}
	msg := setupMessage{
		Setup: setupConfig{
			Model: fmt.Sprintf("models/%s", model),
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"AUDIO"},
				SpeechConfig: speechConfig{
					VoiceConfig: voiceConfig{
						PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: voice},
					},
				},
			},
		},
	}
	if cfg.Instructions != "" {
		msg.Setup.SystemInstruction = &systemInstruction{
			Parts: []part{{Text: cfg.Instructions}},
		}
	}
	if cfg.OutputTranscription {
		msg.Setup.OutputAudioTranscription = &struct{}{}
	}
	if cfg.InputTranscription {
		msg.Setup.InputAudioTranscription = &struct{}{}
	}
	return s.writeJSON(ctx, msg)
}

// awaitSetupComplete reads frames until the server acknowledges the setup.
func (s *session) awaitSetupComplete(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, setupResponseWait)
	defer cancel()
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("await setupComplete: %w", err)
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("gemini: skipping malformed frame during setup", "err", err)
			continue
		}
		if msg.Error != nil {
			return msg.Error.err()
		}
		if msg.SetupComplete != nil {
			return nil
		}
	}
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// writeLoop is the only writer of audio frames, which keeps them in
// submission order.
func (s *session) writeLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case chunk := <-s.queue:
			msg := realtimeInputMessage{
				RealtimeInput: realtimeInput{
					MediaChunks: []inlineData{{MIMEType: chunk.MIMEType(), Data: chunk.Text()}},
				},
			}
			if err := s.writeJSON(s.ctx, msg); err != nil {
				if s.ctx.Err() == nil {
					s.fail(fmt.Errorf("gemini: send audio: %w", err))
				}
				return
			}
		}
	}
}

// receiveLoop reads messages from the WebSocket and converts them to events.
// It owns the events channel: it emits exactly one terminal event and then
// closes the channel.
func (s *session) receiveLoop() {
	defer close(s.events)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			s.finish(s.terminalEvent(err))
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("gemini: skipping malformed frame", "err", err)
			continue
		}

		if msg.Error != nil {
			s.fail(msg.Error.err())
			continue // the next Read fails with the cancelled context
		}
		if msg.GoAway != nil {
			slog.Info("gemini: server is going away", "time_left", msg.GoAway.TimeLeft)
		}
		if msg.ServerContent != nil {
			s.handleServerContent(msg.ServerContent)
		}
	}
}

// terminalEvent decides how the stream ends after Read returned readErr.
func (s *session) terminalEvent(readErr error) s2s.Event {
	s.mu.Lock()
	errVal, closed := s.errVal, s.closed
	s.mu.Unlock()

	switch {
	case errVal != nil:
		return s2s.Event{Kind: s2s.EventError, Err: errVal}
	case closed:
		return s2s.Event{Kind: s2s.EventClosed}
	case websocket.CloseStatus(readErr) == websocket.StatusNormalClosure,
		websocket.CloseStatus(readErr) == websocket.StatusGoingAway:
		return s2s.Event{Kind: s2s.EventClosed}
	default:
		return s2s.Event{Kind: s2s.EventError, Err: fmt.Errorf("gemini: read: %w", readErr)}
	}
}

func (s *session) handleServerContent(sc *serverContent) {
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData != nil && p.InlineData.Data != "" {
				s.emitAudio(p.InlineData)
			}
			if p.Text != "" {
				s.emit(s2s.Event{Kind: s2s.EventTranscript, Role: s2s.RoleModel, Text: p.Text})
			}
		}
	}
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		s.emit(s2s.Event{Kind: s2s.EventTranscript, Role: s2s.RoleUser, Text: sc.InputTranscription.Text})
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		s.emit(s2s.Event{Kind: s2s.EventTranscript, Role: s2s.RoleModel, Text: sc.OutputTranscription.Text})
	}
	if sc.Interrupted {
		s.emit(s2s.Event{Kind: s2s.EventInterrupted})
	}
}

// emitAudio decodes one inline audio part. Payloads that fail to decode are
// forwarded as an audio event carrying the error so the consumer can skip
// them without ending the session.
func (s *session) emitAudio(d *inlineData) {
	data, err := audio.TextToBytes(d.Data)
	if err != nil {
		s.emit(s2s.Event{Kind: s2s.EventAudio, Err: err})
		return
	}
	s.emit(s2s.Event{Kind: s2s.EventAudio, Audio: audio.EncodedChunk{
		Data:       data,
		SampleRate: audio.RateFromMIME(d.MIMEType, audio.OutputSampleRate),
		Channels:   1,
	}})
}

func (s *session) emit(ev s2s.Event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

// finish delivers the terminal event. After a local Close nobody may be
// reading, so delivery is best effort.
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

// keepaliveLoop sends WebSocket pings to keep the Gemini Live connection alive.
func (s *session) keepaliveLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			err := s.conn.Ping(pingCtx)
			cancel()
			if err != nil && s.ctx.Err() == nil {
				slog.Debug("gemini: keepalive ping failed", "err", err)
			}
		}
	}
}

// fail records the first fatal error and tears the connection down.
func (s *session) fail(err error) {
	s.mu.Lock()
	if s.errVal == nil && !s.closed {
		s.errVal = err
	}
	s.mu.Unlock()
	s.cancel()
}

// ── SessionHandle methods ──────────────────────────────────────────────────────

// SendAudio queues a PCM chunk for delivery. It never blocks.
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

// Events returns the ordered inbound event stream.
func (s *session) Events() <-chan s2s.Event { return s.events }

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()    // unblocks receiveLoop, writeLoop and keepaliveLoop
	close(s.done) // releases a pending terminal event
	err := s.conn.Close(websocket.StatusNormalClosure, "session closed")
	if err != nil {
		slog.Debug("gemini: close handshake", "err", err)
	}
	return nil
}
