// Package lyrics talks to the external lyric provider.
package lyrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"safetunes/internal/fuzzy"
)

const defaultBaseURL = "https://api.musixmatch.com/ws/1.1"

// Client wraps the lyric provider HTTP API
type Client struct {
	baseURL    string
	apiKey     string
	pageSize   int
	httpClient *http.Client
	logger     *zap.Logger
}

// Config for the lyric provider client
type Config struct {
	BaseURL  string
	APIKey   string
	PageSize int // Default: 5
	Timeout  time.Duration
}

type envelope struct {
	Message struct {
		Header struct {
			StatusCode int `json:"status_code"`
		} `json:"header"`
		Body json.RawMessage `json:"body"`
	} `json:"message"`
}

type searchBody struct {
	TrackList []struct {
		Track struct {
			TrackID    int64  `json:"track_id"`
			TrackName  string `json:"track_name"`
			ArtistName string `json:"artist_name"`
			HasLyrics  int    `json:"has_lyrics"`
		} `json:"track"`
	} `json:"track_list"`
}

type lyricsBody struct {
	Lyrics struct {
		LyricsBody string `json:"lyrics_body"`
	} `json:"lyrics"`
}

// NewClient creates a new lyric provider client
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("lyrics API key is required")
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}

	if cfg.PageSize == 0 {
		cfg.PageSize = 5
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		pageSize:   cfg.PageSize,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}, nil
}

// Search looks up tracks by title and artist. Only tracks with lyrics are returned.
func (c *Client) Search(ctx context.Context, track, artist string) ([]fuzzy.Result, error) {
	params := url.Values{}
	params.Set("q_track", track)
	params.Set("q_artist", artist)
	return c.search(ctx, params)
}

// SearchQuery runs a single free-text search.
func (c *Client) SearchQuery(ctx context.Context, query string) ([]fuzzy.Result, error) {
	params := url.Values{}
	params.Set("q", query)
	return c.search(ctx, params)
}

func (c *Client) search(ctx context.Context, params url.Values) ([]fuzzy.Result, error) {
	params.Set("page_size", strconv.Itoa(c.pageSize))
	params.Set("s_track_rating", "desc")

	var body searchBody
	if err := c.get(ctx, "track.search", params, &body); err != nil {
		return nil, err
	}

	results := make([]fuzzy.Result, 0, len(body.TrackList))
	for _, item := range body.TrackList {
		if item.Track.HasLyrics == 0 {
			continue
		}
		results = append(results, fuzzy.Result{
			ID:     strconv.FormatInt(item.Track.TrackID, 10),
			Track:  item.Track.TrackName,
			Artist: item.Track.ArtistName,
		})
	}
	return results, nil
}

// Lyrics fetches the lyric text of a track with provider boilerplate removed.
func (c *Client) Lyrics(ctx context.Context, trackID string) (string, error) {
	params := url.Values{}
	params.Set("track_id", trackID)

	var body lyricsBody
	if err := c.get(ctx, "track.lyrics.get", params, &body); err != nil {
		return "", err
	}
	return Clean(body.Lyrics.LyricsBody), nil
}

func (c *Client) get(ctx context.Context, method string, params url.Values, out interface{}) error {
	params.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+method+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Lyrics API error", zap.String("method", method), zap.Error(err))
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("Lyrics API error", zap.String("method", method), zap.Int("status", resp.StatusCode))
		return fmt.Errorf("lyrics API returned status %d", resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	// The provider reports errors in the envelope with HTTP 200.
	if code := env.Message.Header.StatusCode; code != http.StatusOK {
		return fmt.Errorf("lyrics API %s returned status %d", method, code)
	}

	if err := json.Unmarshal(env.Message.Body, out); err != nil {
		return fmt.Errorf("failed to decode %s body: %w", method, err)
	}
	return nil
}
