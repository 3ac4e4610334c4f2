package music

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingInput     = errors.New("input is required")
	ErrSpotifyClientNil = errors.New("spotify client is not configured")
	ErrResolverNil      = errors.New("resolver is not configured")
)

// URLResolver resolves a single page URL to a track.
type URLResolver interface {
	Resolve(ctx context.Context, input string) (Track, error)
}

// Service turns user input (a URL, a Spotify link or a free-text query) into
// a playable track.
type Service struct {
	searcher Searcher
	resolver URLResolver
	spotify  *SpotifyClient
}

func NewService(searcher Searcher, resolver URLResolver) *Service {
	return &Service{
		searcher: searcher,
		resolver: resolver,
	}
}

func (s *Service) WithSpotify(client *SpotifyClient) *Service {
	s.spotify = client
	return s
}

func (s *Service) Searcher() Searcher {
	return s.searcher
}

func (s *Service) ResolveInput(ctx context.Context, input string, requestedBy string) (Track, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Track{}, ErrMissingInput
	}

	var (
		track Track
		err   error
	)
	switch {
	case isSpotifyInput(input):
		track, err = s.resolveSpotify(ctx, input)
	case looksLikeURL(input):
		if s.resolver == nil {
			return Track{}, ErrResolverNil
		}
		track, err = s.resolver.Resolve(ctx, input)
	default:
		track, err = s.firstHit(ctx, input)
	}
	if err != nil {
		return Track{}, err
	}

	track.RequestedBy = requestedBy
	return track, nil
}

// Search returns up to limit playable results for a query.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]Track, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrMissingInput
	}
	if s.searcher == nil {
		return nil, ErrResolverNil
	}
	results, err := s.searcher.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *Service) firstHit(ctx context.Context, query string) (Track, error) {
	results, err := s.Search(ctx, query, 1)
	if err != nil {
		return Track{}, err
	}
	if len(results) == 0 {
		return Track{}, fmt.Errorf("%w: no search results", ErrResolveFailed)
	}
	return results[0], nil
}

func (s *Service) resolveSpotify(ctx context.Context, input string) (Track, error) {
	if s.spotify == nil {
		return Track{}, ErrSpotifyClientNil
	}

	meta, err := s.spotify.ResolveTrack(ctx, input)
	if err != nil {
		return Track{}, err
	}

	playable, err := s.firstHit(ctx, strings.TrimSpace(meta.Info.Title+" "+meta.Info.Author))
	if err != nil {
		return Track{}, err
	}

	playable.Info.Title = meta.Info.Title
	playable.Info.Author = meta.Info.Author
	if meta.Info.ArtworkURL != "" {
		playable.Info.ArtworkURL = meta.Info.ArtworkURL
	}
	return playable, nil
}
