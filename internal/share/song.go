package share

import (
	"context"
	"strings"
	"time"

	"github.com/clerval/twindeck/internal/playback"
)

// Song adapts a share-server song to the engine's playable-item
// capability: media resolution and play-count recording go through the
// owning client.
type Song struct {
	id       string
	shareID  string
	title    string
	artists  []string
	duration time.Duration
	client   *Client
}

// NewSong creates a song handle for the given share and song IDs.
// Used by callers that already know the IDs; Client.Songs builds fully
// populated handles.
func NewSong(client *Client, shareID, songID, title string) *Song {
	return &Song{
		id:      songID,
		shareID: shareID,
		title:   title,
		client:  client,
	}
}

// ID returns the song's stable identifier.
func (s *Song) ID() string { return s.id }

// LibraryID returns the share the song belongs to.
func (s *Song) LibraryID() string { return s.shareID }

// Title returns the song title.
func (s *Song) Title() string { return s.title }

// Artist returns the joined artist credit.
func (s *Song) Artist() string { return strings.Join(s.artists, ", ") }

// Duration returns the song length as reported by the server.
func (s *Song) Duration() time.Duration { return s.duration }

// ResolveMedia resolves candidate media locations via the share API.
func (s *Song) ResolveMedia(ctx context.Context) ([]playback.Candidate, error) {
	return s.client.MediaLocations(ctx, s.shareID, s.id)
}

// RecordPlayed records one play of the song via the share API.
func (s *Song) RecordPlayed(ctx context.Context) error {
	return s.client.IncreasePlayCount(ctx, s.shareID, s.id)
}

// Verify Song implements the playable-item capability at compile time.
var _ playback.Item = (*Song)(nil)
