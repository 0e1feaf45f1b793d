package voice

import (
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/livevoice/pkg/provider/s2s"
)

// Status is the externally observable state of a voice session.
type Status int

const (
	// StatusConnecting is the initial state until the channel is open.
	StatusConnecting Status = iota

	// StatusListening means the channel is open and nothing is playing.
	StatusListening

	// StatusSpeaking means at least one synthesised chunk is scheduled or
	// playing.
	StatusSpeaking

	// StatusError means the session hit a fault. Only an explicit stop leaves it.
	StatusError

	// StatusClosed is the final state after teardown.
	StatusClosed
)

// String returns the lower-case name of the status.
func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusListening:
		return "listening"
	case StatusSpeaking:
		return "speaking"
	case StatusError:
		return "error"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalText implements [encoding.TextMarshaler] so that JSON encodes the name.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Terminal reports whether automatic transitions out of s are ignored.
func (s Status) Terminal() bool { return s == StatusError || s == StatusClosed }

// Update is a snapshot delivered to subscribers after every change.
type Update struct {
	Status Status `json:"status"`

	// Transcript is the concatenated model transcript so far.
	Transcript string `json:"transcript"`

	// UserTranscript is the concatenated recognised user speech so far.
	UserTranscript string `json:"user_transcript,omitempty"`

	// Err is the fault that moved the session to StatusError. It stays set
	// after an explicit stop moves the session on to StatusClosed.
	Err error `json:"-"`

	At time.Time `json:"at"`
}

// StatusMachine tracks the session status and fans updates out to
// subscribers. It is safe for concurrent use.
//
// Transitions: Connecting → Listening ⇄ Speaking; any → Error; any → Closed.
// Error and Closed ignore the automatic Listening/Speaking notifications.
type StatusMachine struct {
	mu         sync.Mutex
	cur        Update
	transcript strings.Builder
	user       strings.Builder
	subs       map[chan Update]struct{}
	done       bool
	now        func() time.Time
}

// NewStatusMachine returns a machine in StatusConnecting.
func NewStatusMachine() *StatusMachine {
	m := &StatusMachine{
		subs: make(map[chan Update]struct{}),
		now:  time.Now,
	}
	m.cur = Update{Status: StatusConnecting, At: m.now()}
	return m
}

// Current returns the latest snapshot.
func (m *StatusMachine) Current() Update {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur
}

// Status returns the current status.
func (m *StatusMachine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur.Status
}

// Subscribe returns a channel that receives every later update, and a cancel
// function. The channel holds one element: a slow reader skips intermediate
// updates but always sees the latest one. The channel is closed after
// StatusClosed has been delivered or when cancel is called.
//
// The current snapshot is delivered immediately.
func (m *StatusMachine) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, 1)
	m.mu.Lock()
	defer m.mu.Unlock()

	ch <- m.cur
	if m.done {
		close(ch)
		return ch, func() {}
	}
	m.subs[ch] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if _, ok := m.subs[ch]; ok {
				delete(m.subs, ch)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Open marks the channel as established: Connecting → Listening.
func (m *StatusMachine) Open() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur.Status != StatusConnecting {
		return
	}
	m.set(StatusListening)
}

// SetPlaying is the scheduler notification: Speaking when sources are active,
// Listening otherwise. Ignored unless the session is Listening or Speaking.
func (m *StatusMachine) SetPlaying(active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur.Status != StatusListening && m.cur.Status != StatusSpeaking {
		return
	}
	want := StatusListening
	if active {
		want = StatusSpeaking
	}
	if m.cur.Status != want {
		m.set(want)
	}
}

// Fail moves the session to StatusError. The first fault wins; a closed
// session ignores later faults.
func (m *StatusMachine) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur.Status.Terminal() {
		return
	}
	m.cur.Err = err
	m.set(StatusError)
}

// Close moves the session to StatusClosed, delivers the final update and
// closes all subscriber channels. Calling Close more than once is safe.
func (m *StatusMachine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done {
		return
	}
	m.closeLocked()
}

// Finish closes the session after a clean remote end. A session in
// StatusError keeps its status until an explicit [StatusMachine.Close].
// Reports whether the machine moved to StatusClosed.
func (m *StatusMachine) Finish() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done || m.cur.Status == StatusError {
		return false
	}
	m.closeLocked()
	return true
}

// AppendTranscript adds a transcript fragment and notifies subscribers.
func (m *StatusMachine) AppendTranscript(role s2s.Role, text string) {
	if text == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done {
		return
	}
	if role == s2s.RoleUser {
		m.user.WriteString(text)
		m.cur.UserTranscript = m.user.String()
	} else {
		m.transcript.WriteString(text)
		m.cur.Transcript = m.transcript.String()
	}
	m.cur.At = m.now()
	m.publish()
}

// Err returns the recorded fault, if any.
func (m *StatusMachine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur.Err
}

// closeLocked must be called with m.mu held.
func (m *StatusMachine) closeLocked() {
	m.set(StatusClosed)
	m.done = true
	for ch := range m.subs {
		close(ch)
		delete(m.subs, ch)
	}
}

// set must be called with m.mu held.
func (m *StatusMachine) set(s Status) {
	m.cur.Status = s
	m.cur.At = m.now()
	m.publish()
}

// publish must be called with m.mu held. It replaces a stale pending
// update instead of blocking.
func (m *StatusMachine) publish() {
	u := m.cur
	for ch := range m.subs {
		select {
		case ch <- u:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- u:
		default:
		}
	}
}
