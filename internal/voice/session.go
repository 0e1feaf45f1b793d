// Package voice implements the realtime voice session: microphone capture
// streamed to a remote conversational model, gapless playback of the
// synthesised reply and barge-in handling.
//
// A [Session] owns every resource it uses. Devices and the channel handle are
// acquired by [Session.Start] and released on every exit path: an explicit
// [Session.Stop], a remote close, or a fault.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/livevoice/internal/observe"
	"github.com/MrWong99/livevoice/pkg/audio"
	"github.com/MrWong99/livevoice/pkg/provider/s2s"
)

// Config holds the per-session settings.
type Config struct {
	// Voice is the prebuilt output voice name.
	Voice string

	// Instructions is the system instruction sent at setup.
	Instructions string

	// OutputTranscription requests a transcript of the synthesised speech.
	OutputTranscription bool

	// InputTranscription requests a transcript of the user's speech.
	InputTranscription bool

	// InputFormat is the microphone format. Zero uses the provider's input format.
	InputFormat audio.Format

	// OutputFormat is the speaker format. Zero uses the provider's output format.
	OutputFormat audio.Format

	// FrameSize is the number of samples per captured frame. Zero uses
	// [audio.DefaultFrameSize].
	FrameSize int

	// SendQueue bounds the outbound frame queue. Zero uses a default.
	SendQueue int
}

// Option is a functional option for configuring a [Session].
type Option func(*Session)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithLogger sets the base logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithID sets the session identifier used in logs.
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// Session is one continuous voice exchange, from channel open to close.
// Sessions are single-use: create a new one to reconnect.
type Session struct {
	id       string
	cfg      Config
	provider s2s.Provider
	devices  audio.Devices
	metrics  *observe.Metrics
	log      *slog.Logger
	status   *StatusMachine

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	capture *Capture
	speaker audio.Speaker
	sched   *Scheduler
	handle  s2s.SessionHandle
	counted bool

	stopping atomic.Bool
	loops    sync.WaitGroup

	played        atomic.Int64
	dropped       atomic.Int64
	interruptions atomic.Int64
	startedAt     atomic.Pointer[time.Time]

	teardownOnce sync.Once
	teardownErr  error
	done         chan struct{}
}

// New returns a session that will stream through p using d.
func New(p s2s.Provider, d audio.Devices, cfg Config, opts ...Option) *Session {
	s := &Session{
		cfg:      cfg,
		provider: p,
		devices:  d,
		status:   NewStatusMachine(),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.id != "" {
		s.log = s.log.With("session_id", s.id)
	}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Status returns the current status.
func (s *Session) Status() Status { return s.status.Status() }

// Current returns the latest status and transcript snapshot.
func (s *Session) Current() Update { return s.status.Current() }

// Err returns the fault that moved the session to StatusError, or nil.
func (s *Session) Err() error { return s.status.Err() }

// Subscribe streams status and transcript updates. See [StatusMachine.Subscribe].
func (s *Session) Subscribe() (<-chan Update, func()) { return s.status.Subscribe() }

// Done is closed once all session resources have been released.
func (s *Session) Done() <-chan struct{} { return s.done }

// Stats counts what happened to inbound audio during the session.
type Stats struct {
	StartedAt     time.Time
	ChunksPlayed  int64
	ChunksDropped int64
	Interruptions int64
}

// Stats returns the counters so far. StartedAt is zero until the channel
// is open.
func (s *Session) Stats() Stats {
	st := Stats{
		ChunksPlayed:  s.played.Load(),
		ChunksDropped: s.dropped.Load(),
		Interruptions: s.interruptions.Load(),
	}
	if t := s.startedAt.Load(); t != nil {
		st.StartedAt = *t
	}
	return st
}

// Start opens the audio devices, begins capturing and connects the channel.
// Frames captured before the channel is open are dropped. Start returns once
// the session is Listening, or with an error wrapping [ErrDeviceUnavailable]
// or [ErrChannelOpen], in which case everything acquired so far has been
// released and the status is StatusError.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	caps := s.provider.Capabilities()
	inFmt := pickFormat(s.cfg.InputFormat, caps.InputFormat, audio.InputSampleRate)
	outFmt := pickFormat(s.cfg.OutputFormat, caps.OutputFormat, audio.OutputSampleRate)
	frameSize := s.cfg.FrameSize
	if frameSize <= 0 {
		frameSize = audio.DefaultFrameSize
	}

	mic, err := s.devices.OpenMicrophone(ctx, inFmt, frameSize)
	if err != nil {
		return s.abortStart("device", fmt.Errorf("%w: open microphone: %w", ErrDeviceUnavailable, err))
	}
	capture := NewCapture(mic, s.cfg.SendQueue, s.fault, s.metrics)
	if !s.adopt(func() { s.capture = capture }) {
		mic.Close()
		return fmt.Errorf("%w: session stopped during start", ErrChannelOpen)
	}
	capture.Run()

	spk, err := s.devices.OpenSpeaker(ctx, outFmt)
	if err != nil {
		return s.abortStart("device", fmt.Errorf("%w: open speaker: %w", ErrDeviceUnavailable, err))
	}
	sched := NewScheduler(spk, s.status.SetPlaying, s.metrics)
	if !s.adopt(func() { s.speaker, s.sched = spk, sched }) {
		spk.Close()
		return fmt.Errorf("%w: session stopped during start", ErrChannelOpen)
	}

	handle, err := s.connect(ctx)
	if err != nil {
		return s.abortStart("channel_open", err)
	}
	// Going live is one step under mu: a concurrent release either sees the
	// session counted with its receive loop registered, or nothing at all.
	live := s.adopt(func() {
		s.handle = handle
		s.counted = true
		s.loops.Add(1)
		s.metrics.ActiveSessions.Add(context.Background(), 1)
		now := time.Now()
		s.startedAt.Store(&now)
		s.status.Open()
		capture.Open(handle)
	})
	if !live {
		handle.Close()
		return fmt.Errorf("%w: session stopped during start", ErrChannelOpen)
	}
	go s.receiveLoop(handle, sched)

	s.log.Info("voice session open",
		"voice", s.cfg.Voice,
		"input_rate", inFmt.SampleRate,
		"output_rate", outFmt.SampleRate,
	)
	return nil
}

// connect opens the channel inside a span and records the open latency.
func (s *Session) connect(ctx context.Context) (s2s.SessionHandle, error) {
	ctx, span := observe.StartSpan(ctx, "voice.channel.open")
	defer span.End()
	span.SetAttributes(attribute.String("voice", s.cfg.Voice))

	start := time.Now()
	handle, err := s.provider.Connect(ctx, s2s.SessionConfig{
		Voice:               s.cfg.Voice,
		Instructions:        s.cfg.Instructions,
		OutputTranscription: s.cfg.OutputTranscription,
		InputTranscription:  s.cfg.InputTranscription,
	})
	if err != nil {
		observe.Fail(span, err, "channel open failed")
		return nil, fmt.Errorf("%w: %w", ErrChannelOpen, err)
	}
	s.metrics.ChannelOpenDuration.Record(ctx, time.Since(start).Seconds())
	return handle, nil
}

// adopt stores a freshly acquired resource unless teardown already began.
func (s *Session) adopt(store func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping.Load() {
		return false
	}
	store()
	return true
}

// abortStart records err, releases everything acquired so far and returns err.
func (s *Session) abortStart(kind string, err error) error {
	if s.stopping.Load() {
		s.teardown()
		return err
	}
	s.status.Fail(err)
	s.metrics.RecordSessionError(context.Background(), kind)
	s.log.Error("voice session failed to start", "err", err)
	if terr := s.teardown(); terr != nil {
		s.log.Warn("voice session teardown after failed start", "err", terr)
	}
	return err
}

// receiveLoop consumes inbound events strictly in arrival order.
func (s *Session) receiveLoop(h s2s.SessionHandle, sched *Scheduler) {
	defer s.loops.Done()
	ctx := context.Background()

	for ev := range h.Events() {
		switch ev.Kind {
		case s2s.EventAudio:
			if ev.Err != nil {
				s.dropMalformed(ctx, ev.Err)
				continue
			}
			s.metrics.ChunksReceived.Add(ctx, 1)
			if _, err := sched.Enqueue(ev.Audio); err != nil {
				if errors.Is(err, audio.ErrMalformedAudio) {
					s.dropMalformed(ctx, err)
					continue
				}
				if !s.stopping.Load() {
					s.fault(fmt.Errorf("%w: %w", ErrDeviceUnavailable, err))
				}
				// The reader must still reach its terminal event.
				audio.Drain(h.Events())
				return
			}
			s.played.Add(1)

		case s2s.EventTranscript:
			s.status.AppendTranscript(ev.Role, ev.Text)

		case s2s.EventInterrupted:
			n := sched.Interrupt()
			s.interruptions.Add(1)
			s.metrics.Interruptions.Add(ctx, 1)
			s.log.Debug("playback interrupted", "stopped_sources", n)

		case s2s.EventClosed:
			if !s.stopping.Load() {
				s.log.Info("voice channel closed by remote")
				go func() {
					s.teardown()
					s.status.Finish()
				}()
			}
			return

		case s2s.EventError:
			if !s.stopping.Load() {
				s.fault(fmt.Errorf("%w: %w", ErrTransport, ev.Err))
			}
			return
		}
	}
}

func (s *Session) dropMalformed(ctx context.Context, err error) {
	s.dropped.Add(1)
	s.metrics.MalformedChunks.Add(ctx, 1)
	s.log.Warn("dropping malformed audio chunk", "err", err)
}

// fault moves the session to StatusError and releases its resources in the
// background. It is safe to call from any session goroutine.
func (s *Session) fault(err error) {
	if s.stopping.Load() {
		return
	}
	s.status.Fail(err)
	kind := "transport"
	if errors.Is(err, ErrDeviceUnavailable) {
		kind = "device"
	}
	s.metrics.RecordSessionError(context.Background(), kind)
	s.log.Error("voice session failed", "err", err)
	go s.teardown()
}

// Stop ends the session: it releases the microphone, playback and channel
// concurrently and waits for all session goroutines to exit. The status
// becomes StatusClosed; an earlier fault remains available through Err.
// Release errors are joined. If ctx ends first, Stop returns ctx.Err() and
// teardown completes in the background.
func (s *Session) Stop(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		err := s.teardown()
		s.status.Close()
		errc <- err
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// teardown runs the release steps exactly once; concurrent callers wait for
// the first one to finish.
func (s *Session) teardown() error {
	s.teardownOnce.Do(func() {
		s.teardownErr = s.release()
		close(s.done)
	})
	return s.teardownErr
}

func (s *Session) release() error {
	s.mu.Lock()
	s.stopping.Store(true)
	if s.cancel != nil {
		s.cancel()
	}
	capture, spk, sched, handle, counted := s.capture, s.speaker, s.sched, s.handle, s.counted
	s.mu.Unlock()

	var (
		g                      errgroup.Group
		micErr, spkErr, chnErr error
	)
	if capture != nil {
		g.Go(func() error {
			micErr = capture.Close()
			return micErr
		})
	}
	if spk != nil {
		g.Go(func() error {
			if sched != nil {
				sched.Reset()
			}
			if err := spk.Close(); err != nil {
				spkErr = fmt.Errorf("voice: close speaker: %w", err)
			}
			return spkErr
		})
	}
	if handle != nil {
		g.Go(func() error {
			if err := handle.Close(); err != nil {
				chnErr = fmt.Errorf("voice: close channel: %w", err)
			}
			return chnErr
		})
	}
	_ = g.Wait() // each step records its own error; all are reported below
	s.loops.Wait()

	if counted {
		s.metrics.ActiveSessions.Add(context.Background(), -1)
	}
	err := errors.Join(micErr, spkErr, chnErr)
	if err != nil {
		s.log.Warn("voice session released with errors", "err", err)
	} else {
		s.log.Info("voice session released")
	}
	return err
}

// pickFormat returns want, falling back to the provider format and then to
// mono at rate.
func pickFormat(want, provider audio.Format, rate int) audio.Format {
	f := want
	if f.SampleRate <= 0 {
		f.SampleRate = provider.SampleRate
	}
	if f.SampleRate <= 0 {
		f.SampleRate = rate
	}
	if f.Channels <= 0 {
		f.Channels = provider.Channels
	}
	if f.Channels <= 0 {
		f.Channels = 1
	}
	return f
}
