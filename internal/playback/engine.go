package playback

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/clerval/twindeck/internal/deck"
	"github.com/clerval/twindeck/internal/queue"
)

// ErrNoHistory is returned by Previous when the session has no playback
// history. Informational, not a failure.
var ErrNoHistory = errors.New("no songs in the current session's playback history")

const (
	// prebufferThreshold is the playback fraction past which the next
	// queued item is resolved and loaded into the standby deck.
	prebufferThreshold = 0.9
	// playCountThreshold is the playback fraction past which a play is
	// recorded, once per play-through.
	playCountThreshold = 0.7
	// bufferingEpsilon bounds buffering-progress event volume: a new
	// fraction must differ from the last published one by more than this.
	bufferingEpsilon = 0.01

	defaultTickInterval = 500 * time.Millisecond
)

// Options configures an Engine.
type Options struct {
	// Logger for skips, recoveries, and swallowed failures.
	// Nil means slog.Default.
	Logger *slog.Logger
	// TickInterval is the period of the prebuffer/buffering check.
	// Zero means 500ms.
	TickInterval time.Duration
}

// Engine is the playback controller. It owns both decks and the pending
// queue, and is the sole source of truth for what is currently playing.
// All state is serialized under one mutex; events are published
// synchronously once the owning mutation completes.
type Engine struct {
	mu sync.Mutex

	// loadMu serializes primary-deck loads. It is never held together
	// with mu, so a bind stuck on a slow media server stalls only its
	// own transition.
	loadMu sync.Mutex

	log     *slog.Logger
	primary deck.Deck
	standby deck.Deck

	pending *queue.Queue[Item]
	history *queue.History[Item]
	bus     *bus

	current           Item
	playCountRecorded bool
	prebuffering      bool
	lastBuffering     float64

	// gen invalidates in-flight resolutions when a newer transition runs.
	// Continuations re-check it before committing (stale-result
	// suppression, not true cancellation).
	gen uint64

	tickStop chan struct{}
	closed   bool
}

// New creates an engine around a primary and a standby deck. The standby
// deck is muted and used only for prebuffering. Close releases both.
func New(primary, standby deck.Deck, opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	interval := opts.TickInterval
	if interval <= 0 {
		interval = defaultTickInterval
	}

	e := &Engine{
		log:           log,
		primary:       primary,
		standby:       standby,
		pending:       queue.New[Item](),
		history:       queue.NewHistory[Item](),
		bus:           newBus(log),
		lastBuffering: -1,
		tickStop:      make(chan struct{}),
	}

	e.standby.SetVolume(0)
	e.primary.SetHandlers(deck.Handlers{
		OnError:    e.onPrimaryError,
		OnProgress: e.onProgress,
		OnDuration: e.onDurationKnown,
		OnStarted:  e.onStarted,
		OnStopped:  e.onStopped,
		OnEnded:    e.onEnded,
	})
	e.standby.SetHandlers(deck.Handlers{
		OnError: func(code deck.ErrorCode) {
			e.log.Debug("standby deck error", "code", code.String())
		},
	})

	go e.tickLoop(interval)

	return e
}

// Subscribe registers a listener for engine events. The listener runs
// synchronously on the engine's goroutine and must not call back into
// the Engine.
func (e *Engine) Subscribe(fn Listener) *Subscription {
	return e.bus.subscribe(fn)
}

// Unsubscribe removes a subscription. Safe to call twice.
func (e *Engine) Unsubscribe(sub *Subscription) {
	e.bus.unsubscribe(sub)
}

// Play resumes the primary deck.
func (e *Engine) Play() {
	e.primary.Play()
}

// Pause pauses the primary deck.
func (e *Engine) Pause() {
	e.primary.Pause()
}

// Seek moves the primary deck to the given position.
func (e *Engine) Seek(position time.Duration) {
	e.primary.SeekTo(position)
}

// ChangeVolume sets the audible volume in [0, 1]. The standby deck stays
// muted.
func (e *Engine) ChangeVolume(v float64) {
	e.primary.SetVolume(v)
}

// ChangeSong plays the given item now, without discarding pending
// entries: the item is prepended to the queue and the engine advances
// into it.
func (e *Engine) ChangeSong(item Item) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.pending.EnqueueNext(item)
	e.advanceLocked()
}

// Next advances to the next queued item. The current item, if any, is
// pushed onto the playback history.
func (e *Engine) Next() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.advanceLocked()
}

// Previous plays the most recently played item again. Returns
// ErrNoHistory if the session has no history; the queue and the current
// item are left untouched in that case.
func (e *Engine) Previous() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}

	item, ok := e.history.Pop()
	if !ok {
		e.log.Info("no songs in the current session's playback history")
		return ErrNoHistory
	}

	e.gen++
	e.startTransitionLocked(item, false)
	return nil
}

// SetQueue atomically replaces the pending queue.
func (e *Engine) SetQueue(items []Item) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.pending.Replace(items...)
	e.publishQueueLocked()
}

// Enqueue appends an item to the pending queue.
func (e *Engine) Enqueue(item Item) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.pending.Enqueue(item)
	e.publishQueueLocked()
}

// EnqueueNext prepends an item so it plays next.
func (e *Engine) EnqueueNext(item Item) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.pending.EnqueueNext(item)
	e.publishQueueLocked()
}

// EnqueueAll appends items to the pending queue, preserving order.
func (e *Engine) EnqueueAll(items []Item) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.pending.EnqueueAll(items...)
	e.publishQueueLocked()
}

// ClearQueue removes all pending entries. Playback of the current item
// continues.
func (e *Engine) ClearQueue() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.pending.Clear()
	e.publishQueueLocked()
}

// CurrentItem returns the item bound to the primary deck, or nil.
func (e *Engine) CurrentItem() Item {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// QueueEntries returns a snapshot of the pending queue.
func (e *Engine) QueueEntries() []queue.Entry[Item] {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending.Entries()
}

// HistoryLen returns the number of items in the playback history.
func (e *Engine) HistoryLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.Len()
}

// IsPlaying returns true if the primary deck is not paused.
func (e *Engine) IsPlaying() bool {
	return !e.primary.Paused()
}

// Close shuts the engine down: the tick loop stops, both decks are
// released, and all subscriptions are dropped. Idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.gen++
	close(e.tickStop)
	e.mu.Unlock()

	err := errors.Join(e.primary.Close(), e.standby.Close())
	e.bus.clear()
	return err
}

// advanceLocked moves playback to the next queued entry. Invoked by
// ChangeSong, Next, the natural end-of-item signal, and recursively when
// a resolution yields nothing playable. Returns false when the queue is
// exhausted.
func (e *Engine) advanceLocked() bool {
	if e.current != nil {
		e.history.Push(e.current)
		// Unbind now so a skip recursion cannot push it a second time.
		e.current = nil
	}

	entry, ok := e.pending.DequeueFront()
	e.publishQueueLocked()

	// Reset prebuffer state before anything else so an in-flight
	// prebuffer resolution finds the flag down and discards its result.
	e.prebuffering = false
	e.standby.ClearSource()
	e.primary.ClearSource()

	e.gen++

	if !ok {
		e.current = nil
		e.bus.publish(SongChangeEvent{})
		e.bus.publish(StatusEvent{Playing: false})
		return false
	}

	e.startTransitionLocked(entry.Item, true)
	return true
}

// startTransitionLocked resolves the item's media off the engine
// goroutine and binds the chosen location to the primary deck. The
// continuation re-validates the transition generation before committing;
// a newer transition wins and the stale result is discarded.
// skipOnFailure controls whether a failed resolution advances to the
// next queued entry (forward transitions) or is only logged (previous).
func (e *Engine) startTransitionLocked(item Item, skipOnFailure bool) {
	gen := e.gen

	go func() {
		candidates, err := item.ResolveMedia(context.Background())

		e.mu.Lock()
		if e.closed || gen != e.gen {
			e.mu.Unlock()
			return
		}

		if err != nil {
			e.log.Error("resolve media locations", "song", item.ID(), "error", err)
			if skipOnFailure {
				e.advanceLocked()
			}
			e.mu.Unlock()
			return
		}

		location, ok := pickLocation(candidates)
		if !ok {
			e.log.Warn("cannot get a media location for song", "song", item.ID())
			if skipOnFailure {
				e.advanceLocked()
			}
			e.mu.Unlock()
			return
		}
		e.mu.Unlock()

		loadErr := e.bindPrimary(gen, location)

		e.mu.Lock()
		defer e.mu.Unlock()
		if e.closed || gen != e.gen {
			return
		}
		if loadErr != nil {
			e.log.Error("load media", "song", item.ID(), "error", loadErr)
			if skipOnFailure {
				e.advanceLocked()
			}
			return
		}

		e.current = item
		e.playCountRecorded = false
		e.bus.publish(SongChangeEvent{Item: item})
		e.primary.Play()
	}()
}

// bindPrimary loads a location into the primary deck. Loads are
// serialized on their own mutex with the state mutex free, so queue
// operations never wait on a slow media server. The generation is
// re-checked once the load slot is acquired; a transition that was
// superseded while waiting never touches the deck.
func (e *Engine) bindPrimary(gen uint64, location string) error {
	e.loadMu.Lock()
	defer e.loadMu.Unlock()

	e.mu.Lock()
	stale := e.closed || gen != e.gen
	e.mu.Unlock()
	if stale {
		return errors.New("transition superseded")
	}
	return e.primary.Load(location)
}

func (e *Engine) publishQueueLocked() {
	e.bus.publish(QueueChangeEvent{Entries: e.pending.Entries()})
}

// onPrimaryError implements the failure protocol: a network failure with
// an item bound is healed in place by re-resolving the same item and
// restoring the playback offset; anything else is terminal for the item.
func (e *Engine) onPrimaryError(code deck.ErrorCode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	if code == deck.ErrNetwork && e.current != nil && e.primary.Source() != "" {
		offset := e.primary.Position()
		item := e.current
		gen := e.gen
		e.log.Warn("network failure, re-resolving current song",
			"song", item.ID(), "offset", offset)

		go func() {
			candidates, err := item.ResolveMedia(context.Background())

			e.mu.Lock()
			if e.closed || gen != e.gen || e.current != item {
				e.mu.Unlock()
				return
			}

			if err != nil {
				e.log.Error("re-resolve media locations", "song", item.ID(), "error", err)
				e.bus.publish(ErrorEvent{Message: err.Error()})
				e.mu.Unlock()
				return
			}

			location, ok := pickLocation(candidates)
			if !ok {
				// The item was playable moments ago but has no media
				// now; it cannot recover, so the error is terminal.
				e.log.Warn("cannot get a media location for song", "song", item.ID())
				e.bus.publish(ErrorEvent{Message: deck.ErrNetwork.Message()})
				e.mu.Unlock()
				return
			}
			e.mu.Unlock()

			loadErr := e.bindPrimary(gen, location)

			e.mu.Lock()
			defer e.mu.Unlock()
			if e.closed || gen != e.gen || e.current != item {
				return
			}
			if loadErr != nil {
				e.log.Error("rebind media", "song", item.ID(), "error", loadErr)
				e.bus.publish(ErrorEvent{Message: loadErr.Error()})
				return
			}
			e.primary.SeekTo(offset)
			e.primary.Play()
		}()
		return
	}

	if e.primary.Source() != "" {
		e.bus.publish(ErrorEvent{Message: code.Message()})
	}
}

func (e *Engine) onProgress(position, duration time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	fraction := -1.0
	if duration > 0 {
		fraction = float64(position) / float64(duration)
	}
	e.bus.publish(ProgressEvent{Fraction: fraction})

	if !e.playCountRecorded && fraction >= playCountThreshold && e.current != nil {
		e.playCountRecorded = true
		item := e.current
		go func() {
			if err := item.RecordPlayed(context.Background()); err != nil {
				e.log.Error("record play count", "song", item.ID(), "error", err)
			}
		}()
	}
}

func (e *Engine) onDurationKnown(duration time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	e.bus.publish(DurationEvent{Duration: duration})

	fraction := -1.0
	if duration > 0 {
		fraction = float64(e.primary.Position()) / float64(duration)
	}
	e.bus.publish(ProgressEvent{Fraction: fraction})
}

func (e *Engine) onStarted() {
	e.bus.publish(StatusEvent{Playing: true})
}

func (e *Engine) onStopped() {
	e.bus.publish(StatusEvent{Playing: false})
}

func (e *Engine) onEnded() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	e.advanceLocked()
	e.bus.publish(DurationEvent{})
	e.bus.publish(ProgressEvent{})
}

func (e *Engine) tickLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.tickStop:
			return
		case <-ticker.C:
			e.tick()
		}
	}
}

// tick runs the periodic checks: advisory prebuffering of the queue head
// and deduplicated buffering-progress publishing.
func (e *Engine) tick() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.checkPrebufferLocked()
	e.publishBufferingLocked()
}

// checkPrebufferLocked warms the standby deck with the queue head's
// media once the current item is nearly done. Advisory only: the natural
// end-of-item transition re-resolves from scratch regardless.
func (e *Engine) checkPrebufferLocked() {
	if e.primary.Paused() || e.prebuffering {
		return
	}
	duration := e.primary.Duration()
	if duration <= 0 {
		return
	}
	fraction := float64(e.primary.Position()) / float64(duration)
	if fraction < prebufferThreshold {
		return
	}
	head, ok := e.pending.Front()
	if !ok {
		return
	}

	e.prebuffering = true
	slot := head.SlotID
	item := head.Item
	e.log.Debug("start buffering next song", "song", item.ID())

	go func() {
		candidates, err := item.ResolveMedia(context.Background())

		e.mu.Lock()
		if e.closed || !e.prebuffering {
			e.mu.Unlock()
			return
		}
		// The queue head may have changed while resolving; the result
		// only applies to the exact slot it was issued for.
		cur, ok := e.pending.Front()
		if !ok || cur.SlotID != slot {
			e.log.Debug("discarding stale prebuffer resolution", "song", item.ID())
			e.prebuffering = false
			e.mu.Unlock()
			return
		}

		if err != nil {
			e.log.Error("prebuffer resolve media locations", "song", item.ID(), "error", err)
			e.mu.Unlock()
			return
		}
		location, ok2 := pickLocation(candidates)
		if !ok2 {
			e.log.Warn("cannot get a media location for song", "song", item.ID())
			e.mu.Unlock()
			return
		}
		e.mu.Unlock()

		// Warm the standby deck off the state mutex; the deck's own
		// staleness check covers a concurrent advance.
		if err := e.standby.Load(location); err != nil {
			e.log.Warn("prebuffer load failed", "song", item.ID(), "error", err)
		}
	}()
}

// publishBufferingLocked publishes the buffered fraction when it moved
// by more than the dedup epsilon since the last publish.
func (e *Engine) publishBufferingLocked() {
	duration := e.primary.Duration()
	if duration <= 0 {
		return
	}
	buffered := e.primary.Buffered()
	if buffered <= 0 {
		return
	}

	fraction := float64(buffered) / float64(duration)
	if math.Abs(fraction-e.lastBuffering) > bufferingEpsilon {
		e.lastBuffering = fraction
		e.bus.publish(BufferingEvent{Fraction: fraction})
	}
}
