package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/livevoice/internal/config"
	"github.com/MrWong99/livevoice/internal/observe"
	"github.com/MrWong99/livevoice/internal/voice"
	"github.com/MrWong99/livevoice/pkg/archive"
	"github.com/MrWong99/livevoice/pkg/audio"
	"github.com/MrWong99/livevoice/pkg/provider/s2s"
)

// archiveTimeout bounds writing one finished session to the archive.
const archiveTimeout = 5 * time.Second

var (
	// ErrSessionActive is returned by [SessionManager.Start] while a session
	// has not ended yet.
	ErrSessionActive = errors.New("app: a session is already active")

	// ErrNoSession is returned when no session has been started.
	ErrNoSession = errors.New("app: no session")
)

// SessionInfo is the JSON view of a voice session.
type SessionInfo struct {
	ID             string       `json:"id"`
	Voice          string       `json:"voice"`
	Status         voice.Status `json:"status"`
	Transcript     string       `json:"transcript"`
	UserTranscript string       `json:"user_transcript,omitempty"`
	Error          string       `json:"error,omitempty"`
	StartedAt      time.Time    `json:"started_at,omitzero"`
	ChunksPlayed   int64        `json:"chunks_played"`
	ChunksDropped  int64        `json:"chunks_dropped"`
	Interruptions  int64        `json:"interruptions"`
}

// managed is one session owned by the manager.
type managed struct {
	sess     *voice.Session
	voice    string
	archived chan struct{}
}

func (m *managed) ended() bool {
	select {
	case <-m.sess.Done():
		return true
	default:
		return false
	}
}

func (m *managed) info(u voice.Update) SessionInfo {
	st := m.sess.Stats()
	info := SessionInfo{
		ID:             m.sess.ID(),
		Voice:          m.voice,
		Status:         u.Status,
		Transcript:     u.Transcript,
		UserTranscript: u.UserTranscript,
		StartedAt:      st.StartedAt,
		ChunksPlayed:   st.ChunksPlayed,
		ChunksDropped:  st.ChunksDropped,
		Interruptions:  st.Interruptions,
	}
	if u.Err != nil {
		info.Error = u.Err.Error()
	}
	return info
}

// SessionManager owns the lifecycle of voice sessions. At most one session
// is live at a time; the last one stays visible until the next Start.
// All exported methods are safe for concurrent use.
type SessionManager struct {
	mu      sync.Mutex
	cur     *managed
	session config.SessionConfig
	audio   config.AudioConfig

	// Dependencies injected at construction.
	provider s2s.Provider
	devices  audio.Devices
	archive  archive.Store
	metrics  *observe.Metrics
	newID    func() string

	watchers sync.WaitGroup
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Provider s2s.Provider
	Devices  audio.Devices
	Archive  archive.Store
	Metrics  *observe.Metrics
	Session  config.SessionConfig
	Audio    config.AudioConfig

	// NewID generates session IDs. Defaults to random UUIDs.
	NewID func() string
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	sm := &SessionManager{
		provider: cfg.Provider,
		devices:  cfg.Devices,
		archive:  cfg.Archive,
		metrics:  cfg.Metrics,
		session:  cfg.Session,
		audio:    cfg.Audio,
		newID:    cfg.NewID,
	}
	if sm.newID == nil {
		sm.newID = uuid.NewString
	}
	if sm.metrics == nil {
		sm.metrics = observe.DefaultMetrics()
	}
	return sm
}

// SetSessionConfig replaces the settings used by the next Start. A running
// session keeps the settings it was started with.
func (sm *SessionManager) SetSessionConfig(cfg config.SessionConfig) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.session = cfg
}

// Start creates a new session and blocks until it is listening or has
// failed. A failed session stays visible through Info with its error.
//
// Returns [ErrSessionActive] if the previous session has not ended.
func (sm *SessionManager) Start(ctx context.Context) (SessionInfo, error) {
	sm.mu.Lock()
	if sm.cur != nil && !sm.cur.ended() {
		id := sm.cur.sess.ID()
		sm.mu.Unlock()
		return SessionInfo{}, fmt.Errorf("%w (id=%s)", ErrSessionActive, id)
	}

	id := sm.newID()
	cfg := sm.voiceConfig()
	sess := voice.New(sm.provider, sm.devices, cfg,
		voice.WithID(id),
		voice.WithMetrics(sm.metrics),
		voice.WithLogger(observe.Logger(ctx)),
	)
	m := &managed{sess: sess, voice: cfg.Voice, archived: make(chan struct{})}
	updates, cancel := sess.Subscribe()
	sm.cur = m
	sm.watchers.Add(1)
	go sm.watch(m, updates, cancel)
	sm.mu.Unlock()

	observe.Logger(ctx).Info("session starting", "session_id", id, "voice", cfg.Voice)
	if err := sess.Start(ctx); err != nil {
		return m.info(sess.Current()), err
	}
	slog.Info("session started", "session_id", id)
	return m.info(sess.Current()), nil
}

// voiceConfig builds the per-session settings. sm.mu must be held.
func (sm *SessionManager) voiceConfig() voice.Config {
	return voice.Config{
		Voice:               sm.session.SelectedVoice(),
		Instructions:        sm.session.Instructions,
		OutputTranscription: sm.session.Transcription.OutputEnabled(),
		InputTranscription:  sm.session.Transcription.Input,
		InputFormat:         audio.Format{SampleRate: sm.audio.InputSampleRate},
		OutputFormat:        audio.Format{SampleRate: sm.audio.OutputSampleRate},
		FrameSize:           sm.audio.FrameSize,
		SendQueue:           sm.audio.SendQueue,
	}
}

// Stop ends the current session and waits until it has been archived or
// ctx is done. Stopping an ended session is a no-op that returns its info.
//
// Returns [ErrNoSession] if no session was ever started.
func (sm *SessionManager) Stop(ctx context.Context) (SessionInfo, error) {
	sm.mu.Lock()
	m := sm.cur
	sm.mu.Unlock()
	if m == nil {
		return SessionInfo{}, ErrNoSession
	}

	err := m.sess.Stop(ctx)
	if err == nil {
		select {
		case <-m.archived:
		case <-ctx.Done():
			err = ctx.Err()
		}
	}
	if err != nil {
		slog.Warn("session stop error", "session_id", m.sess.ID(), "err", err)
	}
	return m.info(m.sess.Current()), err
}

// Info returns a snapshot of the current or most recent session.
func (sm *SessionManager) Info() (SessionInfo, error) {
	sm.mu.Lock()
	m := sm.cur
	sm.mu.Unlock()
	if m == nil {
		return SessionInfo{}, ErrNoSession
	}
	return m.info(m.sess.Current()), nil
}

// Status returns the current session status, or "" when none was started.
func (sm *SessionManager) Status() string {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.cur == nil {
		return ""
	}
	return sm.cur.sess.Status().String()
}

// Subscribe streams updates of the current session as [SessionInfo]
// snapshots. The channel closes once the session is closed or cancel is
// called.
func (sm *SessionManager) Subscribe() (<-chan SessionInfo, func(), error) {
	sm.mu.Lock()
	m := sm.cur
	sm.mu.Unlock()
	if m == nil {
		return nil, nil, ErrNoSession
	}

	updates, cancel := m.sess.Subscribe()
	out := make(chan SessionInfo, 1)
	go func() {
		defer close(out)
		for u := range updates {
			info := m.info(u)
			// Keep only the newest snapshot for a slow reader.
			select {
			case out <- info:
			default:
				select {
				case <-out:
				default:
				}
				out <- info
			}
		}
	}()
	return out, cancel, nil
}

// Close stops the current session and waits for pending archive writes.
func (sm *SessionManager) Close(ctx context.Context) error {
	sm.mu.Lock()
	m := sm.cur
	sm.mu.Unlock()

	var err error
	if m != nil {
		err = m.sess.Stop(ctx)
	}

	done := make(chan struct{})
	go func() {
		sm.watchers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	return err
}

// watch archives m once its resources are released and its status is final.
func (sm *SessionManager) watch(m *managed, updates <-chan voice.Update, cancel func()) {
	defer sm.watchers.Done()
	defer close(m.archived)
	defer cancel()

	<-m.sess.Done()
	var last voice.Update
	for u := range updates {
		last = u
		if u.Status.Terminal() {
			break
		}
	}
	slog.Info("session ended", "session_id", m.sess.ID(), "status", last.Status)
	sm.save(m, last)
}

// save writes the final state of m to the archive. Sessions that never
// reached an open channel are not archived.
func (sm *SessionManager) save(m *managed, last voice.Update) {
	if sm.archive == nil {
		return
	}
	st := m.sess.Stats()
	if st.StartedAt.IsZero() {
		return
	}
	info := m.info(last)
	rec := archive.Record{
		ID:             info.ID,
		Voice:          info.Voice,
		Status:         info.Status.String(),
		Error:          info.Error,
		Transcript:     info.Transcript,
		UserTranscript: info.UserTranscript,
		StartedAt:      st.StartedAt,
		EndedAt:        time.Now().UTC(),
		ChunksPlayed:   st.ChunksPlayed,
		ChunksDropped:  st.ChunksDropped,
		Interruptions:  st.Interruptions,
	}

	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if err := sm.archive.Save(ctx, rec); err != nil {
		slog.Warn("session archive failed", "session_id", rec.ID, "err", err)
		return
	}
	slog.Debug("session archived", "session_id", rec.ID, "duration", rec.Duration())
}
