package playback

import (
	"time"

	"github.com/clerval/twindeck/internal/queue"
)

// Event is a state-change notification published on the engine's bus.
// The concrete types below form a closed set.
type Event interface {
	playbackEvent()
}

// StatusEvent reports whether the primary deck is playing.
type StatusEvent struct {
	Playing bool
}

// ProgressEvent reports the playback fraction of the current item.
// Fraction is -1 while the duration is unknown.
type ProgressEvent struct {
	Fraction float64
}

// SongChangeEvent is published exactly once per successful bind of an
// item to the primary deck. A nil Item means nothing is bound.
type SongChangeEvent struct {
	Item Item
}

// DurationEvent reports the duration of the current item once known.
type DurationEvent struct {
	Duration time.Duration
}

// BufferingEvent reports the buffered fraction of the current item.
// Publishes are deduplicated: consecutive events differ by more than a
// small epsilon.
type BufferingEvent struct {
	Fraction float64
}

// ErrorEvent reports a terminal playback error. The engine does not
// advance past a terminal error on its own.
type ErrorEvent struct {
	Message string
}

// QueueChangeEvent carries a snapshot of the pending queue. It is
// published synchronously after every queue mutation, strictly before
// any resolution the mutation triggers.
type QueueChangeEvent struct {
	Entries []queue.Entry[Item]
}

func (StatusEvent) playbackEvent()      {}
func (ProgressEvent) playbackEvent()    {}
func (SongChangeEvent) playbackEvent()  {}
func (DurationEvent) playbackEvent()    {}
func (BufferingEvent) playbackEvent()   {}
func (ErrorEvent) playbackEvent()       {}
func (QueueChangeEvent) playbackEvent() {}
