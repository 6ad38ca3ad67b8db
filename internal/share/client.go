// Package share provides a client for the share server's GraphQL API:
// media-location resolution, play-count recording, and song listing.
package share

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/clerval/twindeck/internal/playback"
)

const requestTimeout = 10 * time.Second

// Client is a share-server API client.
type Client struct {
	httpClient *http.Client
	baseURL    string
	authToken  string
}

// NewClient creates a client for the server at baseURL. The auth token
// is sent with every request.
func NewClient(baseURL, authToken string) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		baseURL:   baseURL,
		authToken: authToken,
	}
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

// do posts a GraphQL operation and decodes the data payload into out.
func (c *Client) do(ctx context.Context, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/graphql", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}

	var envelope graphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("graphql: %s", envelope.Errors[0].Message)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}
	return nil
}

const mediaLocationsQuery = `
query songMediaURLs($shareID: String!, $songID: String!) {
  share(shareID: $shareID) {
    song(id: $songID) {
      sources {
        __typename
        accessUrl
      }
    }
  }
}`

// MediaLocations resolves the candidate media locations for a song.
// An empty result means no media is attached; it is not an error.
func (c *Client) MediaLocations(ctx context.Context, shareID, songID string) ([]playback.Candidate, error) {
	var data struct {
		Share struct {
			Song struct {
				Sources []struct {
					Typename  string `json:"__typename"`
					AccessURL string `json:"accessUrl"`
				} `json:"sources"`
			} `json:"song"`
		} `json:"share"`
	}

	err := c.do(ctx, mediaLocationsQuery, map[string]any{
		"shareID": shareID,
		"songID":  songID,
	}, &data)
	if err != nil {
		return nil, fmt.Errorf("resolve media locations: %w", err)
	}

	candidates := make([]playback.Candidate, 0, len(data.Share.Song.Sources))
	for _, source := range data.Share.Song.Sources {
		origin := playback.OriginExternal
		if source.Typename == "FileUpload" {
			origin = playback.OriginFile
		}
		candidates = append(candidates, playback.Candidate{
			Origin:   origin,
			Location: source.AccessURL,
		})
	}
	return candidates, nil
}

const increasePlayCountMutation = `
mutation increaseSongPlayCount($input: IncreaseSongPlayCountInput!) {
  increaseSongPlayCount(input: $input) {
    dateAdded
  }
}`

// IncreasePlayCount records one play of a song.
func (c *Client) IncreasePlayCount(ctx context.Context, shareID, songID string) error {
	err := c.do(ctx, increasePlayCountMutation, map[string]any{
		"input": map[string]any{
			"shareID": shareID,
			"songID":  songID,
		},
	}, nil)
	if err != nil {
		return fmt.Errorf("increase play count: %w", err)
	}
	return nil
}

const shareSongsQuery = `
query shareSongs($shareID: String!) {
  share(shareID: $shareID) {
    songs {
      id
      title
      artists
      duration
    }
  }
}`

// Songs lists all songs of a share in library order.
func (c *Client) Songs(ctx context.Context, shareID string) ([]*Song, error) {
	var data struct {
		Share struct {
			Songs []struct {
				ID       string   `json:"id"`
				Title    string   `json:"title"`
				Artists  []string `json:"artists"`
				Duration int      `json:"duration"`
			} `json:"songs"`
		} `json:"share"`
	}

	if err := c.do(ctx, shareSongsQuery, map[string]any{"shareID": shareID}, &data); err != nil {
		return nil, fmt.Errorf("list songs: %w", err)
	}

	songs := make([]*Song, 0, len(data.Share.Songs))
	for _, s := range data.Share.Songs {
		songs = append(songs, &Song{
			id:       s.ID,
			shareID:  shareID,
			title:    s.Title,
			artists:  s.Artists,
			duration: time.Duration(s.Duration) * time.Second,
			client:   c,
		})
	}
	return songs, nil
}
