package playback

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clerval/twindeck/internal/deck"
)

// fakeItem is a playable item with a swappable resolver.
type fakeItem struct {
	id string

	mu           sync.Mutex
	resolveFn    func(ctx context.Context) ([]Candidate, error)
	resolveCalls int
	playedCalls  int
	playedErr    error
}

func newFakeItem(id string) *fakeItem {
	f := &fakeItem{id: id}
	f.resolveFn = func(ctx context.Context) ([]Candidate, error) {
		return []Candidate{{Origin: OriginFile, Location: "http://media/" + id}}, nil
	}
	return f
}

func (f *fakeItem) ID() string        { return f.id }
func (f *fakeItem) LibraryID() string { return "lib" }
func (f *fakeItem) Title() string     { return f.id }

func (f *fakeItem) ResolveMedia(ctx context.Context) ([]Candidate, error) {
	f.mu.Lock()
	f.resolveCalls++
	fn := f.resolveFn
	f.mu.Unlock()
	return fn(ctx)
}

func (f *fakeItem) RecordPlayed(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playedCalls++
	return f.playedErr
}

func (f *fakeItem) setResolve(fn func(ctx context.Context) ([]Candidate, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolveFn = fn
}

func (f *fakeItem) resolved() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resolveCalls
}

func (f *fakeItem) played() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playedCalls
}

// recorder collects published events for later inspection.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) listen(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) songChanges() []Item {
	var items []Item
	for _, ev := range r.all() {
		if sc, ok := ev.(SongChangeEvent); ok {
			items = append(items, sc.Item)
		}
	}
	return items
}

func (r *recorder) count(pred func(Event) bool) int {
	n := 0
	for _, ev := range r.all() {
		if pred(ev) {
			n++
		}
	}
	return n
}

func isQueueChange(ev Event) bool { _, ok := ev.(QueueChangeEvent); return ok }
func isError(ev Event) bool       { _, ok := ev.(ErrorEvent); return ok }
func isBuffering(ev Event) bool   { _, ok := ev.(BufferingEvent); return ok }

func newTestEngine(t *testing.T) (*Engine, *deck.Mock, *deck.Mock, *recorder) {
	t.Helper()
	primary := deck.NewMock()
	standby := deck.NewMock()
	e := New(primary, standby, Options{
		Logger: slog.New(slog.DiscardHandler),
		// The tick loop never fires in tests; tick() is driven directly.
		TickInterval: time.Hour,
	})
	t.Cleanup(func() { _ = e.Close() })

	rec := &recorder{}
	e.Subscribe(rec.listen)
	return e, primary, standby, rec
}

func waitCurrent(t *testing.T, e *Engine, item Item) {
	t.Helper()
	require.Eventually(t, func() bool {
		return e.CurrentItem() == item
	}, time.Second, 5*time.Millisecond)
}

func TestSetQueuePublishesSnapshot(t *testing.T) {
	e, _, _, rec := newTestEngine(t)
	a, b := newFakeItem("a"), newFakeItem("b")

	e.SetQueue([]Item{a, b})

	events := rec.all()
	require.Len(t, events, 1)
	qc, ok := events[0].(QueueChangeEvent)
	require.True(t, ok)
	require.Len(t, qc.Entries, 2)
	assert.Equal(t, a, qc.Entries[0].Item)
	assert.Equal(t, b, qc.Entries[1].Item)
	assert.NotEqual(t, qc.Entries[0].SlotID, qc.Entries[1].SlotID)
}

func TestEnqueueOrdering(t *testing.T) {
	e, _, _, rec := newTestEngine(t)
	a, b, c, d := newFakeItem("a"), newFakeItem("b"), newFakeItem("c"), newFakeItem("d")

	e.Enqueue(a)
	e.EnqueueNext(b)
	e.EnqueueAll([]Item{c, d})

	entries := e.QueueEntries()
	require.Len(t, entries, 4)
	assert.Equal(t, b, entries[0].Item)
	assert.Equal(t, a, entries[1].Item)
	assert.Equal(t, c, entries[2].Item)
	assert.Equal(t, d, entries[3].Item)

	// One snapshot per mutation.
	assert.Equal(t, 3, rec.count(isQueueChange))
}

func TestChangeSongPlaysImmediately(t *testing.T) {
	e, primary, _, rec := newTestEngine(t)
	x, y, z := newFakeItem("x"), newFakeItem("y"), newFakeItem("z")
	e.Enqueue(z)

	e.ChangeSong(x)
	waitCurrent(t, e, x)

	e.ChangeSong(y)
	waitCurrent(t, e, y)

	// X moved to history; the queued Z was not consumed.
	assert.Equal(t, 1, e.HistoryLen())
	entries := e.QueueEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, z, entries[0].Item)

	songs := rec.songChanges()
	require.Len(t, songs, 2)
	assert.Equal(t, x, songs[0])
	assert.Equal(t, y, songs[1])

	assert.Equal(t, []string{"http://media/x", "http://media/y"}, primary.LoadCalls())
	assert.False(t, primary.Paused())
}

func TestQueueEventPrecedesSongEvent(t *testing.T) {
	e, _, _, rec := newTestEngine(t)
	a := newFakeItem("a")

	e.ChangeSong(a)
	waitCurrent(t, e, a)

	queueIdx, songIdx := -1, -1
	for i, ev := range rec.all() {
		switch ev.(type) {
		case QueueChangeEvent:
			if queueIdx == -1 {
				queueIdx = i
			}
		case SongChangeEvent:
			songIdx = i
		}
	}
	require.NotEqual(t, -1, queueIdx)
	require.NotEqual(t, -1, songIdx)
	assert.Less(t, queueIdx, songIdx)
}

func TestAdvanceSkipsUnresolvable(t *testing.T) {
	e, primary, _, rec := newTestEngine(t)
	a, b := newFakeItem("a"), newFakeItem("b")
	a.setResolve(func(ctx context.Context) ([]Candidate, error) {
		return nil, nil // no media attached
	})

	e.SetQueue([]Item{a, b})
	e.Next()
	waitCurrent(t, e, b)

	// A never bound, so it produced no song-change event.
	songs := rec.songChanges()
	require.Len(t, songs, 1)
	assert.Equal(t, b, songs[0])
	assert.Equal(t, []string{"http://media/b"}, primary.LoadCalls())
	assert.Equal(t, 1, a.resolved())
}

func TestAdvanceSkipsResolveError(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	a, b := newFakeItem("a"), newFakeItem("b")
	a.setResolve(func(ctx context.Context) ([]Candidate, error) {
		return nil, errors.New("boom")
	})

	e.SetQueue([]Item{a, b})
	e.Next()
	waitCurrent(t, e, b)
}

func TestNextOnEmptyQueueStops(t *testing.T) {
	e, _, _, rec := newTestEngine(t)

	e.Next()

	events := rec.all()
	var sawNilSong, sawStopped bool
	for _, ev := range events {
		if sc, ok := ev.(SongChangeEvent); ok && sc.Item == nil {
			sawNilSong = true
		}
		if st, ok := ev.(StatusEvent); ok && !st.Playing {
			sawStopped = true
		}
	}
	assert.True(t, sawNilSong)
	assert.True(t, sawStopped)
	assert.Nil(t, e.CurrentItem())
}

func TestStaleTransitionDiscarded(t *testing.T) {
	e, primary, _, rec := newTestEngine(t)
	a, b := newFakeItem("a"), newFakeItem("b")

	release := make(chan struct{})
	a.setResolve(func(ctx context.Context) ([]Candidate, error) {
		<-release
		return []Candidate{{Origin: OriginFile, Location: "http://media/a"}}, nil
	})

	e.ChangeSong(a) // resolution blocks
	e.ChangeSong(b) // supersedes it
	waitCurrent(t, e, b)

	close(release)
	time.Sleep(50 * time.Millisecond)

	// The late result for A must not bind or publish.
	assert.Equal(t, b, e.CurrentItem())
	assert.Equal(t, []string{"http://media/b"}, primary.LoadCalls())
	songs := rec.songChanges()
	require.Len(t, songs, 1)
	assert.Equal(t, b, songs[0])
}

func TestPlayCountRecordedOnce(t *testing.T) {
	e, primary, _, _ := newTestEngine(t)
	a := newFakeItem("a")

	e.ChangeSong(a)
	waitCurrent(t, e, a)

	primary.FireProgress(71*time.Second, 100*time.Second)
	primary.FireProgress(75*time.Second, 100*time.Second)
	primary.FireProgress(95*time.Second, 100*time.Second)

	require.Eventually(t, func() bool {
		return a.played() == 1
	}, time.Second, 5*time.Millisecond)

	primary.FireProgress(99*time.Second, 100*time.Second)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, a.played())
}

func TestPlayCountNotRecordedBelowThreshold(t *testing.T) {
	e, primary, _, _ := newTestEngine(t)
	a := newFakeItem("a")

	e.ChangeSong(a)
	waitCurrent(t, e, a)

	primary.FireProgress(69*time.Second, 100*time.Second)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, a.played())
}

func TestPlayCountResetsPerSong(t *testing.T) {
	e, primary, _, _ := newTestEngine(t)
	a, b := newFakeItem("a"), newFakeItem("b")

	e.ChangeSong(a)
	waitCurrent(t, e, a)
	primary.FireProgress(80*time.Second, 100*time.Second)
	require.Eventually(t, func() bool { return a.played() == 1 }, time.Second, 5*time.Millisecond)

	e.ChangeSong(b)
	waitCurrent(t, e, b)
	primary.FireProgress(80*time.Second, 100*time.Second)
	require.Eventually(t, func() bool { return b.played() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, a.played())
}

func TestNetworkFailureHealsInPlace(t *testing.T) {
	e, primary, _, rec := newTestEngine(t)
	a := newFakeItem("a")
	b := newFakeItem("b")
	e.Enqueue(b)

	e.ChangeSong(a)
	waitCurrent(t, e, a)
	queueEvents := rec.count(isQueueChange)

	primary.SetPosition(42 * time.Second)
	primary.FireError(deck.ErrNetwork)

	require.Eventually(t, func() bool {
		return len(primary.LoadCalls()) == 2
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return len(primary.SeekCalls()) == 1
	}, time.Second, 5*time.Millisecond)

	// Same item re-resolved and rebound at the recorded offset; the queue
	// did not advance and nothing terminal was published.
	assert.Equal(t, 2, a.resolved())
	assert.Equal(t, []time.Duration{42 * time.Second}, primary.SeekCalls())
	assert.Equal(t, a, e.CurrentItem())
	assert.Equal(t, queueEvents, rec.count(isQueueChange))
	assert.Equal(t, 0, rec.count(isError))
	require.Len(t, e.QueueEntries(), 1)
	assert.Equal(t, b, e.QueueEntries()[0].Item)
	songs := rec.songChanges()
	require.Len(t, songs, 1)
}

func TestSkipDoesNotDuplicateHistory(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	x, a, b := newFakeItem("x"), newFakeItem("a"), newFakeItem("b")
	a.setResolve(func(ctx context.Context) ([]Candidate, error) {
		return nil, nil
	})

	e.ChangeSong(x)
	waitCurrent(t, e, x)
	e.SetQueue([]Item{a, b})
	e.Next()
	waitCurrent(t, e, b)

	// The playing item lands in history once even though the advance
	// recursed past an unresolvable entry.
	require.Equal(t, 1, e.HistoryLen())
	require.NoError(t, e.Previous())
	waitCurrent(t, e, x)
	require.ErrorIs(t, e.Previous(), ErrNoHistory)
}

func TestNetworkFailureReresolveErrorIsTerminal(t *testing.T) {
	e, primary, _, rec := newTestEngine(t)
	a := newFakeItem("a")

	e.ChangeSong(a)
	waitCurrent(t, e, a)

	a.setResolve(func(ctx context.Context) ([]Candidate, error) {
		return nil, errors.New("server unreachable")
	})
	primary.FireError(deck.ErrNetwork)

	require.Eventually(t, func() bool {
		return rec.count(isError) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, a, e.CurrentItem())
	assert.Len(t, primary.LoadCalls(), 1)
}

func TestNetworkRecoveryWithoutMediaIsTerminal(t *testing.T) {
	e, primary, _, rec := newTestEngine(t)
	a := newFakeItem("a")

	e.ChangeSong(a)
	waitCurrent(t, e, a)

	a.setResolve(func(ctx context.Context) ([]Candidate, error) {
		return nil, nil
	})
	primary.FireError(deck.ErrNetwork)

	require.Eventually(t, func() bool {
		return rec.count(isError) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, a, e.CurrentItem())
	assert.Len(t, primary.LoadCalls(), 1)
}

func TestTerminalErrorDoesNotAdvance(t *testing.T) {
	e, primary, _, rec := newTestEngine(t)
	a, b := newFakeItem("a"), newFakeItem("b")
	e.Enqueue(b)

	e.ChangeSong(a)
	waitCurrent(t, e, a)

	primary.FireError(deck.ErrDecode)

	require.Eventually(t, func() bool {
		return rec.count(isError) == 1
	}, time.Second, 5*time.Millisecond)
	for _, ev := range rec.all() {
		if errEv, ok := ev.(ErrorEvent); ok {
			assert.Equal(t, deck.ErrDecode.Message(), errEv.Message)
		}
	}
	assert.Equal(t, a, e.CurrentItem())
	assert.Len(t, e.QueueEntries(), 1)
	assert.Equal(t, 1, a.resolved())
}

func TestPreviousEmptyHistory(t *testing.T) {
	e, primary, _, rec := newTestEngine(t)

	err := e.Previous()
	require.ErrorIs(t, err, ErrNoHistory)
	assert.Nil(t, e.CurrentItem())
	assert.Empty(t, rec.all())
	assert.Empty(t, primary.LoadCalls())
}

func TestPreviousReplaysLastPlayed(t *testing.T) {
	e, _, _, rec := newTestEngine(t)
	a, b := newFakeItem("a"), newFakeItem("b")

	e.ChangeSong(a)
	waitCurrent(t, e, a)
	e.Enqueue(b)
	e.Next()
	waitCurrent(t, e, b)
	require.Equal(t, 1, e.HistoryLen())

	require.NoError(t, e.Previous())
	waitCurrent(t, e, a)

	assert.Equal(t, 0, e.HistoryLen())
	songs := rec.songChanges()
	require.Len(t, songs, 3)
	assert.Equal(t, []Item{a, b, a}, songs)
}

func TestNaturalEndAdvances(t *testing.T) {
	e, primary, _, _ := newTestEngine(t)
	a, b := newFakeItem("a"), newFakeItem("b")

	e.SetQueue([]Item{a, b})
	e.Next()
	waitCurrent(t, e, a)

	primary.FireEnded()
	waitCurrent(t, e, b)

	assert.Equal(t, 1, e.HistoryLen())
	assert.Empty(t, e.QueueEntries())
}

func TestNaturalEndOnEmptyQueueGoesIdle(t *testing.T) {
	e, primary, _, rec := newTestEngine(t)
	a := newFakeItem("a")

	e.ChangeSong(a)
	waitCurrent(t, e, a)

	primary.FireEnded()
	require.Eventually(t, func() bool {
		return e.CurrentItem() == nil
	}, time.Second, 5*time.Millisecond)

	songs := rec.songChanges()
	require.Len(t, songs, 2)
	assert.Equal(t, a, songs[0])
	assert.Nil(t, songs[1])
	assert.Equal(t, 1, e.HistoryLen())
}

func TestPrebufferLoadsStandby(t *testing.T) {
	e, primary, standby, _ := newTestEngine(t)
	a, b := newFakeItem("a"), newFakeItem("b")

	e.ChangeSong(a)
	waitCurrent(t, e, a)
	e.Enqueue(b)

	primary.SetDuration(100 * time.Second)
	primary.SetPosition(95 * time.Second)

	e.tick()
	require.Eventually(t, func() bool {
		return len(standby.LoadCalls()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"http://media/b"}, standby.LoadCalls())

	// Further ticks do not re-resolve the same head.
	e.tick()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, b.resolved())
}

func TestPrebufferNotTriggeredEarly(t *testing.T) {
	e, primary, standby, _ := newTestEngine(t)
	a, b := newFakeItem("a"), newFakeItem("b")

	e.ChangeSong(a)
	waitCurrent(t, e, a)
	e.Enqueue(b)

	primary.SetDuration(100 * time.Second)
	primary.SetPosition(80 * time.Second)

	e.tick()
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, standby.LoadCalls())
	assert.Equal(t, 0, b.resolved())
}

func TestPrebufferStaleResultDiscarded(t *testing.T) {
	e, primary, standby, _ := newTestEngine(t)
	a, b, c := newFakeItem("a"), newFakeItem("b"), newFakeItem("c")

	release := make(chan struct{})
	b.setResolve(func(ctx context.Context) ([]Candidate, error) {
		<-release
		return []Candidate{{Origin: OriginFile, Location: "http://media/b"}}, nil
	})

	e.ChangeSong(a)
	waitCurrent(t, e, a)
	e.Enqueue(b)

	primary.SetDuration(100 * time.Second)
	primary.SetPosition(95 * time.Second)
	e.tick() // prebuffer resolution for B is now in flight

	// The head changes while B is still resolving.
	e.ClearQueue()
	e.Enqueue(c)
	close(release)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, standby.LoadCalls())

	// The next tick warms the new head.
	e.tick()
	require.Eventually(t, func() bool {
		return len(standby.LoadCalls()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"http://media/c"}, standby.LoadCalls())
}

func TestBufferingProgressDeduped(t *testing.T) {
	e, primary, _, rec := newTestEngine(t)
	a := newFakeItem("a")

	e.ChangeSong(a)
	waitCurrent(t, e, a)
	primary.SetDuration(100 * time.Second)

	primary.SetBuffered(50 * time.Second)
	e.tick()
	assert.Equal(t, 1, rec.count(isBuffering))

	// Within epsilon of the last publish: suppressed.
	primary.SetBuffered(50*time.Second + 500*time.Millisecond)
	e.tick()
	assert.Equal(t, 1, rec.count(isBuffering))

	primary.SetBuffered(60 * time.Second)
	e.tick()
	assert.Equal(t, 2, rec.count(isBuffering))
}

// slowLoadDeck parks every Load until released, standing in for a media
// server that accepts the connection and then stalls.
type slowLoadDeck struct {
	*deck.Mock

	mu       sync.Mutex
	attempts int
	release  chan struct{}
}

func newSlowLoadDeck() *slowLoadDeck {
	return &slowLoadDeck{Mock: deck.NewMock(), release: make(chan struct{})}
}

func (d *slowLoadDeck) Load(location string) error {
	d.mu.Lock()
	d.attempts++
	d.mu.Unlock()
	<-d.release
	return d.Mock.Load(location)
}

func (d *slowLoadDeck) loadAttempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts
}

func TestEngineUsableWhileLoadBlocked(t *testing.T) {
	primary := newSlowLoadDeck()
	standby := deck.NewMock()
	e := New(primary, standby, Options{
		Logger:       slog.New(slog.DiscardHandler),
		TickInterval: time.Hour,
	})
	t.Cleanup(func() { _ = e.Close() })
	rec := &recorder{}
	e.Subscribe(rec.listen)

	a, b, c := newFakeItem("a"), newFakeItem("b"), newFakeItem("c")

	e.ChangeSong(a)
	require.Eventually(t, func() bool {
		return primary.loadAttempts() == 1
	}, time.Second, 5*time.Millisecond)

	// Queue operations proceed while the bind is stuck on the network.
	e.Enqueue(b)
	require.Len(t, e.QueueEntries(), 1)

	// A newer transition supersedes the stuck one; once the stall
	// clears, only the newer item binds and publishes.
	e.ChangeSong(c)
	close(primary.release)
	waitCurrent(t, e, c)

	songs := rec.songChanges()
	require.Len(t, songs, 1)
	assert.Equal(t, c, songs[0])
}

func TestCloseIsIdempotentAndDetaches(t *testing.T) {
	e, primary, standby, rec := newTestEngine(t)
	a := newFakeItem("a")

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
	assert.True(t, primary.Closed())
	assert.True(t, standby.Closed())

	// A closed engine ignores mutations and publishes nothing.
	e.SetQueue([]Item{a})
	e.Next()
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rec.all())
	assert.Nil(t, e.CurrentItem())
}
