package music

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

var ErrSpotifyResolveFailed = errors.New("failed to resolve spotify track")

const (
	spotifyAPIBase      = "https://api.spotify.com/v1"
	spotifyAccountsBase = "https://accounts.spotify.com"
)

// SpotifyClient reads track metadata from the Spotify Web API. Calls go
// through a retrying HTTP client behind a circuit breaker so a Spotify outage
// fails fast instead of stalling playback transitions.
type SpotifyClient struct {
	ClientID     string
	ClientSecret string
	APIBase      string
	AccountsBase string

	http    *retryablehttp.Client
	breaker *gobreaker.CircuitBreaker

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

func NewSpotifyClient(clientID, clientSecret string) *SpotifyClient {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = 10 * time.Second
	client.Logger = nil

	settings := gobreaker.Settings{
		Name:        "spotify-api",
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	}

	return &SpotifyClient{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		APIBase:      spotifyAPIBase,
		AccountsBase: spotifyAccountsBase,
		http:         client,
		breaker:      gobreaker.NewCircuitBreaker(settings),
	}
}

// ResolveTrack reads the metadata of a Spotify track link or URI. The result
// is not playable by itself; Service pairs it with a search hit.
func (c *SpotifyClient) ResolveTrack(ctx context.Context, input string) (Track, error) {
	trackID := extractSpotifyTrackID(input)
	if trackID == "" {
		return Track{}, fmt.Errorf("%w: unsupported spotify input", ErrSpotifyResolveFailed)
	}

	var payload spotifyTrackResponse
	if err := c.getJSON(ctx, "/tracks/"+url.PathEscape(trackID), nil, &payload); err != nil {
		return Track{}, err
	}
	return payload.toTrack(), nil
}

func (c *SpotifyClient) SearchTracks(ctx context.Context, query string, limit int) ([]Track, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", ErrSpotifyResolveFailed)
	}

	if limit <= 0 {
		limit = 1
	}
	limit = min(limit, maxSearchLimit)

	params := url.Values{}
	params.Set("type", "track")
	params.Set("limit", strconv.Itoa(limit))
	params.Set("q", query)

	var payload spotifySearchResponse
	if err := c.getJSON(ctx, "/search", params, &payload); err != nil {
		return nil, err
	}

	tracks := make([]Track, 0, len(payload.Tracks.Items))
	for _, item := range payload.Tracks.Items {
		tracks = append(tracks, item.toTrack())
	}
	return tracks, nil
}

func (c *SpotifyClient) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	endpoint := strings.TrimRight(c.APIBase, "/") + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		token, err := c.getAccessToken(ctx)
		if err != nil {
			return nil, err
		}

		req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil, fmt.Errorf("%w: spotify api status %d", ErrSpotifyResolveFailed, resp.StatusCode)
		}
		return nil, json.NewDecoder(resp.Body).Decode(out)
	})
	return err
}

func (c *SpotifyClient) getAccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.expiresAt) {
		return c.accessToken, nil
	}

	if c.ClientID == "" || c.ClientSecret == "" {
		return "", fmt.Errorf("%w: missing spotify client credentials", ErrSpotifyResolveFailed)
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.AccountsBase, "/")+"/api/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Basic "+basicAuth(c.ClientID, c.ClientSecret))

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: token status %d", ErrSpotifyResolveFailed, resp.StatusCode)
	}

	var payload spotifyTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}

	if payload.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrSpotifyResolveFailed)
	}

	c.accessToken = payload.AccessToken
	c.expiresAt = time.Now().Add(time.Duration(payload.ExpiresIn-30) * time.Second)

	return c.accessToken, nil
}

// Recommender suggests tracks similar to a seed. Implementations may return
// an empty slice; callers treat errors as "no suggestion".
type Recommender interface {
	Recommend(ctx context.Context, title, author string, hints []string) ([]Track, error)
}

// SpotifyRecommender asks Spotify for tracks sharing the seed's genre hints
// and makes each one playable through a Searcher.
type SpotifyRecommender struct {
	client   *SpotifyClient
	searcher Searcher
	limit    int
	logger   *zap.Logger
}

func NewSpotifyRecommender(client *SpotifyClient, searcher Searcher, logger *zap.Logger) *SpotifyRecommender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SpotifyRecommender{
		client:   client,
		searcher: searcher,
		limit:    3,
		logger:   logger.Named("spotify"),
	}
}

func (r *SpotifyRecommender) Recommend(ctx context.Context, title, author string, hints []string) ([]Track, error) {
	queries := recommendationQueries(author, hints)
	if len(queries) == 0 {
		return nil, nil
	}

	seen := map[string]bool{strings.ToLower(title): true}
	var found []Track
	for _, q := range queries {
		candidates, err := r.client.SearchTracks(ctx, q, maxSearchLimit)
		if err != nil {
			return found, err
		}
		for _, candidate := range candidates {
			key := strings.ToLower(candidate.Info.Title)
			if seen[key] || strings.EqualFold(candidate.Info.Author, author) {
				continue
			}
			seen[key] = true

			playable, ok := r.playable(ctx, candidate)
			if !ok {
				continue
			}
			found = append(found, playable)
			if len(found) >= r.limit {
				return found, nil
			}
		}
	}
	return found, nil
}

func (r *SpotifyRecommender) playable(ctx context.Context, meta Track) (Track, bool) {
	query := strings.TrimSpace(meta.Info.Title + " " + meta.Info.Author)
	results, err := r.searcher.Search(ctx, query)
	if err != nil || len(results) == 0 {
		r.logger.Debug("spotify suggestion not playable", zap.String("query", query), zap.Error(err))
		return Track{}, false
	}

	playable := results[0]
	playable.Info.Title = meta.Info.Title
	playable.Info.Author = meta.Info.Author
	if meta.Info.ArtworkURL != "" {
		playable.Info.ArtworkURL = meta.Info.ArtworkURL
	}
	if playable.Info.Duration == 0 {
		playable.Info.Duration = meta.Info.Duration
	}
	return playable, true
}

// recommendationQueries builds Spotify search expressions: one per genre
// hint, then the seed artist's name as a loose keyword.
func recommendationQueries(author string, hints []string) []string {
	queries := make([]string, 0, len(hints)+1)
	for _, hint := range hints {
		hint = strings.TrimSpace(hint)
		if hint == "" {
			continue
		}
		queries = append(queries, fmt.Sprintf("genre:%q", hint))
		if len(queries) == 2 {
			break
		}
	}
	if author = strings.TrimSpace(author); author != "" {
		queries = append(queries, author)
	}
	return queries
}

func extractSpotifyTrackID(input string) string {
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}

	if trackID, ok := strings.CutPrefix(input, "spotify:track:"); ok {
		return trackID
	}

	u, err := url.Parse(input)
	if err != nil {
		return ""
	}
	if !strings.Contains(strings.ToLower(u.Host), "spotify.com") {
		return ""
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := range len(parts) {
		if parts[i] == "track" && i+1 < len(parts) {
			return parts[i+1]
		}
	}

	return ""
}

func isSpotifyInput(input string) bool {
	lower := strings.ToLower(input)
	return strings.Contains(lower, "spotify.com") || strings.HasPrefix(lower, "spotify:track:")
}

func basicAuth(clientID, clientSecret string) string {
	raw := clientID + ":" + clientSecret
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

type spotifyTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

type spotifySearchResponse struct {
	Tracks struct {
		Items []spotifyTrackResponse `json:"items"`
	} `json:"tracks"`
}

type spotifyTrackResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	DurationMS int64  `json:"duration_ms"`
	Artists    []struct {
		Name string `json:"name"`
	} `json:"artists"`
	Album struct {
		Images []struct {
			URL string `json:"url"`
		} `json:"images"`
	} `json:"album"`
}

func (t spotifyTrackResponse) toTrack() Track {
	title := strings.TrimSpace(t.Name)
	if title == "" {
		title = "Unknown Title"
	}
	return Track{
		Info: TrackInfo{
			Title:      title,
			Author:     t.artistNames(),
			Duration:   time.Duration(t.DurationMS) * time.Millisecond,
			URI:        "https://open.spotify.com/track/" + t.ID,
			ArtworkURL: t.albumImageURL(),
			Source:     TrackSourceSpotify,
		},
	}
}

func (t spotifyTrackResponse) artistNames() string {
	if len(t.Artists) == 0 {
		return ""
	}
	names := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		if a.Name != "" {
			names = append(names, a.Name)
		}
	}
	return strings.Join(names, ", ")
}

func (t spotifyTrackResponse) albumImageURL() string {
	if len(t.Album.Images) == 0 {
		return ""
	}
	return t.Album.Images[0].URL
}
