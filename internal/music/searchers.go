package music

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ppalone/ytsearch"
	"github.com/raitonoberu/ytmusic"
	"go.uber.org/zap"
)

// Searcher turns a free-text query into playable tracks, best match first.
type Searcher interface {
	Search(ctx context.Context, query string) ([]Track, error)
}

type SearcherFunc func(ctx context.Context, query string) ([]Track, error)

func (f SearcherFunc) Search(ctx context.Context, query string) ([]Track, error) {
	return f(ctx, query)
}

// YTMusicSearcher queries the YouTube Music catalog. It returns music tracks
// only, which keeps autoplay away from reaction videos and covers.
type YTMusicSearcher struct {
	Limit int
}

func (s YTMusicSearcher) Search(ctx context.Context, query string) ([]Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := ytmusic.TrackSearch(query).Next()
	if err != nil {
		return nil, fmt.Errorf("ytmusic search: %w", err)
	}
	if result == nil {
		return nil, nil
	}

	limit := s.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	tracks := make([]Track, 0, limit)
	for _, item := range result.Tracks {
		if item.VideoID == "" {
			continue
		}
		author := ""
		if len(item.Artists) > 0 {
			author = item.Artists[0].Name
		}
		link := "https://music.youtube.com/watch?v=" + item.VideoID
		tracks = append(tracks, Track{
			Encoded: link,
			Info: TrackInfo{
				Title:  item.Title,
				Author: author,
				URI:    link,
				Source: TrackSourceYouTubeMusic,
			},
		})
		if len(tracks) >= limit {
			break
		}
	}
	return tracks, nil
}

// YTSearchSearcher scrapes the regular YouTube results page without running
// yt-dlp.
type YTSearchSearcher struct {
	Client *ytsearch.Client
	Limit  int
}

func NewYTSearchSearcher(limit int) *YTSearchSearcher {
	return &YTSearchSearcher{Client: ytsearch.NewClient(nil), Limit: limit}
}

func (s *YTSearchSearcher) Search(ctx context.Context, query string) ([]Track, error) {
	res, err := s.Client.Search(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ytsearch: %w", err)
	}

	limit := s.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	tracks := make([]Track, 0, limit)
	for _, v := range res.Results {
		if v.VideoID == "" {
			continue
		}
		link := "https://www.youtube.com/watch?v=" + v.VideoID
		tracks = append(tracks, Track{
			Encoded: link,
			Info: TrackInfo{
				Title:    v.Title,
				Author:   v.Channel,
				Duration: parseClockDuration(v.Duration),
				URI:      link,
				Source:   TrackSourceYouTube,
			},
		})
		if len(tracks) >= limit {
			break
		}
	}
	return tracks, nil
}

// parseClockDuration reads "h:mm:ss" or "m:ss". Anything else, including the
// empty string YouTube shows for live streams, yields zero.
func parseClockDuration(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	var total time.Duration
	for _, part := range strings.Split(v, ":") {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return 0
		}
		total = total*60 + time.Duration(n)
	}
	return total * time.Second
}

// FallbackSearcher asks each backend in order and returns the first
// non-empty answer.
type FallbackSearcher struct {
	backends []namedSearcher
	logger   *zap.Logger
}

type namedSearcher struct {
	name string
	s    Searcher
}

func NewFallbackSearcher(logger *zap.Logger) *FallbackSearcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackSearcher{logger: logger.Named("search")}
}

func (f *FallbackSearcher) Add(name string, s Searcher) *FallbackSearcher {
	if s != nil {
		f.backends = append(f.backends, namedSearcher{name: name, s: s})
	}
	return f
}

func (f *FallbackSearcher) Search(ctx context.Context, query string) ([]Track, error) {
	var errs []error
	for _, b := range f.backends {
		tracks, err := b.s.Search(ctx, query)
		if err != nil {
			f.logger.Debug("search backend failed", zap.String("backend", b.name), zap.String("query", query), zap.Error(err))
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if len(tracks) > 0 {
			return tracks, nil
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return nil, nil
}
