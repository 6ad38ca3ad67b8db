package deck

import (
	"sync"
	"time"
)

// Mock is a test double for a Deck. Fire* methods simulate device signals
// the way the real deck emits them, including the cleared-source error
// suppression.
type Mock struct {
	mu sync.Mutex

	source   string
	paused   bool
	position time.Duration
	duration time.Duration
	buffered time.Duration
	volume   float64
	handlers Handlers

	loadErr error
	closed  bool

	loadCalls  []string
	seekCalls  []time.Duration
	clearCalls int
	playCalls  int
	pauseCalls int
}

// NewMock creates a new mock deck.
func NewMock() *Mock {
	return &Mock{paused: true, volume: 1}
}

func (m *Mock) Load(location string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadCalls = append(m.loadCalls, location)
	if m.loadErr != nil {
		return m.loadErr
	}
	m.source = location
	m.position = 0
	m.paused = true
	return nil
}

func (m *Mock) Play() {
	m.mu.Lock()
	m.playCalls++
	m.paused = false
	h := m.handlers
	m.mu.Unlock()
	if h.OnStarted != nil {
		h.OnStarted()
	}
}

func (m *Mock) Pause() {
	m.mu.Lock()
	m.pauseCalls++
	m.paused = true
	h := m.handlers
	m.mu.Unlock()
	if h.OnStopped != nil {
		h.OnStopped()
	}
}

func (m *Mock) SeekTo(position time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seekCalls = append(m.seekCalls, position)
	m.position = position
}

func (m *Mock) SetVolume(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.volume = v
}

func (m *Mock) ClearSource() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearCalls++
	m.source = ""
	m.position = 0
	m.duration = 0
	m.buffered = 0
	m.paused = true
}

func (m *Mock) Source() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.source
}

func (m *Mock) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

func (m *Mock) Position() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.position
}

func (m *Mock) Duration() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.duration
}

func (m *Mock) Buffered() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buffered
}

func (m *Mock) SetHandlers(h Handlers) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = h
}

func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Test helpers

func (m *Mock) SetLoadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadErr = err
}

func (m *Mock) SetPosition(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.position = d
}

func (m *Mock) SetDuration(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.duration = d
}

func (m *Mock) SetBuffered(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buffered = d
}

func (m *Mock) LoadCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.loadCalls...)
}

func (m *Mock) SeekCalls() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Duration(nil), m.seekCalls...)
}

func (m *Mock) ClearCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clearCalls
}

func (m *Mock) PlayCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playCalls
}

func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// FireError simulates a device error. Like the real deck, the signal is
// suppressed when no source is bound.
func (m *Mock) FireError(code ErrorCode) {
	m.mu.Lock()
	h := m.handlers
	suppressed := m.source == ""
	m.mu.Unlock()
	if suppressed || h.OnError == nil {
		return
	}
	h.OnError(code)
}

// FireProgress simulates a progress tick, updating the reported position.
func (m *Mock) FireProgress(position, duration time.Duration) {
	m.mu.Lock()
	m.position = position
	m.duration = duration
	h := m.handlers
	m.mu.Unlock()
	if h.OnProgress != nil {
		h.OnProgress(position, duration)
	}
}

// FireDuration simulates the duration becoming known.
func (m *Mock) FireDuration(duration time.Duration) {
	m.mu.Lock()
	m.duration = duration
	h := m.handlers
	m.mu.Unlock()
	if h.OnDuration != nil {
		h.OnDuration(duration)
	}
}

// FireBuffered simulates a buffered-extent report.
func (m *Mock) FireBuffered(end time.Duration) {
	m.mu.Lock()
	m.buffered = end
	h := m.handlers
	m.mu.Unlock()
	if h.OnBuffered != nil {
		h.OnBuffered(end)
	}
}

// FireEnded simulates the source playing to completion.
func (m *Mock) FireEnded() {
	m.mu.Lock()
	m.paused = true
	h := m.handlers
	m.mu.Unlock()
	if h.OnEnded != nil {
		h.OnEnded()
	}
}

// Verify Mock implements Deck at compile time.
var _ Deck = (*Mock)(nil)
