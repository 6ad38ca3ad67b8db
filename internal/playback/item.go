// Package playback implements the dual-deck playback engine: queue
// sequencing, failover, prebuffering, play-count accounting, and the
// event bus UI bindings subscribe to.
package playback

import "context"

// Item is a playable media item. Implementations carry the two
// capabilities the engine needs: resolving candidate media locations and
// recording a completed play. Items are immutable for the lifetime of a
// playback session.
type Item interface {
	// ID returns the item's stable identifier.
	ID() string
	// LibraryID identifies the library or share the item belongs to.
	LibraryID() string
	// Title returns a human-readable name, used for logging and display.
	Title() string

	// ResolveMedia returns candidate media locations in priority order.
	// An empty list means no media is attached; it is not an error.
	ResolveMedia(ctx context.Context) ([]Candidate, error)

	// RecordPlayed records a play-through. Fire-and-forget from the
	// engine's perspective: failures are logged, never retried.
	RecordPlayed(ctx context.Context) error
}

// OriginKind classifies where a media candidate is served from.
type OriginKind int

const (
	// OriginFile is a directly hosted file, the only kind the engine plays.
	OriginFile OriginKind = iota
	// OriginExternal is an externally hosted or streamed alternative.
	OriginExternal
)

// Candidate is one resolved media location.
type Candidate struct {
	Origin   OriginKind
	Location string
}

// pickLocation selects the first directly hosted file from a candidate
// list. Externally hosted candidates are never played.
func pickLocation(candidates []Candidate) (string, bool) {
	for _, c := range candidates {
		if c.Origin == OriginFile {
			return c.Location, true
		}
	}
	return "", false
}
