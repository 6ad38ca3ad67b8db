// Package deck wraps a single audio output sink behind a role-agnostic
// interface. The engine owns two decks: the primary (audible) deck and a
// muted standby deck used for prebuffering the next item.
package deck

import "time"

// Role identifies which of the two decks an instance is.
type Role int

const (
	RolePrimary Role = iota
	RoleStandby
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RolePrimary:
		return "primary"
	case RoleStandby:
		return "standby"
	default:
		return "unknown"
	}
}

// Handlers receives low-level device signals. All fields are optional;
// nil callbacks are skipped. Callbacks may fire from internal goroutines
// and must serialize their own state.
type Handlers struct {
	// OnError reports a device error. Errors caused by an intentional
	// ClearSource are suppressed and never reach this callback.
	OnError func(code ErrorCode)
	// OnProgress reports playback position while playing.
	OnProgress func(position, duration time.Duration)
	// OnBuffered reports how far ahead of the playhead data is available.
	OnBuffered func(end time.Duration)
	// OnDuration fires once the total duration of the loaded source is known.
	OnDuration func(duration time.Duration)
	// OnStarted fires when playback starts or resumes.
	OnStarted func()
	// OnStopped fires when playback pauses.
	OnStopped func()
	// OnEnded fires when the loaded source plays to completion.
	OnEnded func()
}

// Deck is one playback device.
type Deck interface {
	// Load binds a media location to the deck without starting playback.
	Load(location string) error
	Play()
	Pause()
	SeekTo(position time.Duration)
	// SetVolume sets the output volume in [0, 1]. 0 mutes the deck.
	SetVolume(v float64)
	// ClearSource unbinds the current media. Errors from the outgoing
	// source fired after the clear are suppressed.
	ClearSource()

	Source() string
	Paused() bool
	Position() time.Duration
	Duration() time.Duration
	Buffered() time.Duration

	SetHandlers(h Handlers)

	// Close releases the device. Safe to call more than once.
	Close() error
}
