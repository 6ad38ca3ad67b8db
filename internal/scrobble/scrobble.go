// Package scrobble forwards playback events to Last.fm: a now-playing
// update on every song change and a scrobble once a play-through counts.
// Failures are logged and never interrupt playback.
package scrobble

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shkh/lastfm-go/lastfm"

	"github.com/clerval/twindeck/internal/playback"
)

// scrobbleThreshold mirrors the engine's play-count threshold so the
// Last.fm play count stays in step with the server's.
const scrobbleThreshold = 0.7

// updater is the slice of the Last.fm API the scrobbler needs.
type updater interface {
	UpdateNowPlaying(artist, track string) error
	Scrobble(artist, track string, startedAt time.Time) error
}

type lastfmUpdater struct {
	api *lastfm.Api
}

func (u *lastfmUpdater) UpdateNowPlaying(artist, track string) error {
	_, err := u.api.Track.UpdateNowPlaying(lastfm.P{
		"artist": artist,
		"track":  track,
	})
	if err != nil {
		return fmt.Errorf("update now playing: %w", err)
	}
	return nil
}

func (u *lastfmUpdater) Scrobble(artist, track string, startedAt time.Time) error {
	_, err := u.api.Track.Scrobble(lastfm.P{
		"artist":    artist,
		"track":     track,
		"timestamp": startedAt.Unix(),
	})
	if err != nil {
		return fmt.Errorf("scrobble: %w", err)
	}
	return nil
}

// Scrobbler is an event-bus subscriber that mirrors plays to Last.fm.
type Scrobbler struct {
	mu sync.Mutex

	updater updater
	log     *slog.Logger

	artist    string
	track     string
	startedAt time.Time
	scrobbled bool
}

// New creates a scrobbler authenticated with the given session key.
// A nil logger falls back to slog.Default.
func New(apiKey, apiSecret, sessionKey string, log *slog.Logger) *Scrobbler {
	api := lastfm.New(apiKey, apiSecret)
	api.SetSession(sessionKey)
	return newWithUpdater(&lastfmUpdater{api: api}, log)
}

func newWithUpdater(u updater, log *slog.Logger) *Scrobbler {
	if log == nil {
		log = slog.Default()
	}
	return &Scrobbler{updater: u, log: log}
}

// Attach subscribes the scrobbler to the engine's events and returns the
// subscription handle.
func (s *Scrobbler) Attach(e *playback.Engine) *playback.Subscription {
	return e.Subscribe(s.handle)
}

func (s *Scrobbler) handle(ev playback.Event) {
	switch ev := ev.(type) {
	case playback.SongChangeEvent:
		s.onSongChange(ev.Item)
	case playback.ProgressEvent:
		s.onProgress(ev.Fraction)
	}
}

func (s *Scrobbler) onSongChange(item playback.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item == nil {
		s.artist = ""
		s.track = ""
		return
	}

	s.artist = artistOf(item)
	s.track = item.Title()
	s.startedAt = time.Now()
	s.scrobbled = false

	artist, track := s.artist, s.track
	go func() {
		if err := s.updater.UpdateNowPlaying(artist, track); err != nil {
			s.log.Warn("lastfm now playing update failed", "track", track, "error", err)
		}
	}()
}

func (s *Scrobbler) onProgress(fraction float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scrobbled || s.track == "" || fraction < scrobbleThreshold {
		return
	}
	s.scrobbled = true

	artist, track, startedAt := s.artist, s.track, s.startedAt
	go func() {
		if err := s.updater.Scrobble(artist, track, startedAt); err != nil {
			s.log.Warn("lastfm scrobble failed", "track", track, "error", err)
		}
	}()
}

// artistOf pulls the artist credit from items that expose one.
func artistOf(item playback.Item) string {
	if a, ok := item.(interface{ Artist() string }); ok {
		return a.Artist()
	}
	return ""
}
