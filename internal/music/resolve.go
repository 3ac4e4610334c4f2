package music

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"
)

var ErrResolveFailed = errors.New("failed to resolve track metadata")

const (
	defaultSearchLimit = 6
	maxSearchLimit     = 10

	ytdlpSearchFormat  = "%(url)s\t%(title)s\t%(uploader)s\t%(duration)s\t%(live_status)s\t%(thumbnail)s"
	ytdlpResolveFormat = "%(webpage_url)s\t%(title)s\t%(uploader)s\t%(duration)s\t%(live_status)s\t%(thumbnail)s"
)

// YTDLPResolver turns URLs and free-text queries into tracks and resolves
// direct audio stream URLs for the voice player. The Encoded payload of the
// tracks it builds is the page URL.
type YTDLPResolver struct {
	Proxy string
	Limit int
}

func NewYTDLPResolver(proxy string) *YTDLPResolver {
	return &YTDLPResolver{Proxy: proxy, Limit: defaultSearchLimit}
}

func (r *YTDLPResolver) command() *ytdlp.Command {
	cmd := ytdlp.New().
		Quiet().
		NoWarnings().
		IgnoreConfig()
	if r.Proxy != "" {
		cmd.Proxy(r.Proxy)
	}
	return cmd
}

func (r *YTDLPResolver) Search(ctx context.Context, query string) ([]Track, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty input", ErrResolveFailed)
	}
	if looksLikeURL(query) {
		track, err := r.Resolve(ctx, query)
		if err != nil {
			return nil, err
		}
		return []Track{track}, nil
	}

	limit := r.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	limit = min(limit, maxSearchLimit)

	res, err := r.command().
		FlatPlaylist().
		Print(ytdlpSearchFormat).
		PlaylistItems(fmt.Sprintf("1-%d", limit)).
		Run(ctx, fmt.Sprintf("ytsearch%d:%s", limit, query))
	if err != nil {
		return nil, fmt.Errorf("%w: yt-dlp search: %v", ErrResolveFailed, err)
	}

	results := parseYTDLPLines(res.Stdout, TrackSourceYouTube)
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: no usable entries", ErrResolveFailed)
	}
	return results, nil
}

// Resolve fetches metadata for a single URL, or for the first search hit of a
// free-text query.
func (r *YTDLPResolver) Resolve(ctx context.Context, input string) (Track, error) {
	target := strings.TrimSpace(input)
	if target == "" {
		return Track{}, fmt.Errorf("%w: empty input", ErrResolveFailed)
	}
	if !looksLikeURL(target) {
		target = "ytsearch1:" + target
	}

	res, err := r.command().
		NoPlaylist().
		Print(ytdlpResolveFormat).
		Run(ctx, "--skip-download", target)
	if err != nil {
		return Track{}, fmt.Errorf("%w: yt-dlp: %v", ErrResolveFailed, err)
	}

	tracks := parseYTDLPLines(res.Stdout, TrackSourceUnknown)
	if len(tracks) == 0 {
		return Track{}, fmt.Errorf("%w: no usable entries", ErrResolveFailed)
	}
	return tracks[0], nil
}

func (r *YTDLPResolver) ResolveStreamURL(ctx context.Context, pageURL string) (string, error) {
	target := strings.TrimSpace(pageURL)
	if target == "" {
		return "", fmt.Errorf("%w: empty input", ErrResolveFailed)
	}

	res, err := r.command().
		NoPlaylist().
		Format("bestaudio/best").
		Print("%(url)s").
		Run(ctx, "--skip-download", target)
	if err != nil {
		return "", fmt.Errorf("%w: yt-dlp: %v", ErrResolveFailed, err)
	}

	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line, nil
		}
	}
	return "", fmt.Errorf("%w: empty stream url", ErrResolveFailed)
}

// parseYTDLPLines reads the tab separated output produced by the Print
// templates above. Entries without a URL are skipped.
func parseYTDLPLines(stdout string, source TrackSource) []Track {
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	tracks := make([]Track, 0, len(lines))
	for _, line := range lines {
		parts := strings.Split(line, "\t")
		if len(parts) < 4 {
			continue
		}

		link := naToEmpty(parts[0])
		if link == "" {
			continue
		}

		title := naToEmpty(parts[1])
		if title == "" {
			title = "Unknown Title"
		}

		duration, err := time.ParseDuration(parts[3] + "s")
		if err != nil || duration < 0 {
			duration = 0
		}

		info := TrackInfo{
			Title:    title,
			Author:   naToEmpty(parts[2]),
			Duration: duration,
			URI:      link,
			Source:   source,
		}
		if len(parts) > 4 {
			status := naToEmpty(parts[4])
			info.IsStream = status == "is_live" || status == "is_upcoming"
		}
		if len(parts) > 5 {
			info.ArtworkURL = naToEmpty(parts[5])
		}
		if info.Source == TrackSourceUnknown || info.Source == "" {
			info.Source = detectSourceFromURL(link)
		}

		tracks = append(tracks, Track{Encoded: link, Info: info})
	}
	return tracks
}

func naToEmpty(v string) string {
	v = strings.TrimSpace(v)
	if v == "NA" || v == "None" {
		return ""
	}
	return v
}

func looksLikeURL(value string) bool {
	if strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") {
		return true
	}

	u, err := url.Parse(value)
	return err == nil && u.Scheme != "" && u.Host != ""
}

func detectSourceFromURL(raw string) TrackSource {
	u, err := url.Parse(raw)
	if err != nil {
		return TrackSourceUnknown
	}

	host := strings.ToLower(u.Host)
	switch {
	case strings.Contains(host, "music.youtube.com"):
		return TrackSourceYouTubeMusic
	case strings.Contains(host, "youtube.com"), strings.Contains(host, "youtu.be"):
		return TrackSourceYouTube
	case strings.Contains(host, "soundcloud.com"):
		return TrackSourceSoundCloud
	case strings.Contains(host, "spotify.com"):
		return TrackSourceSpotify
	default:
		return TrackSourceUnknown
	}
}
