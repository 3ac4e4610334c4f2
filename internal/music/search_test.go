package music

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseYTDLPLines(t *testing.T) {
	out := "https://www.youtube.com/watch?v=a\tSong A\tArtist A\t213.0\tnot_live\thttps://img/a.jpg\n" +
		"NA\tbroken\tnobody\t10\tNA\tNA\n" +
		"https://www.youtube.com/watch?v=b\tNA\tArtist B\tNA\tis_live\tNA\n" +
		"short line\n"

	tracks := parseYTDLPLines(out, TrackSourceUnknown)
	require.Len(t, tracks, 2)

	a := tracks[0]
	assert.Equal(t, "https://www.youtube.com/watch?v=a", a.Encoded)
	assert.Equal(t, "Song A", a.Info.Title)
	assert.Equal(t, "Artist A", a.Info.Author)
	assert.Equal(t, 213*time.Second, a.Info.Duration)
	assert.Equal(t, TrackSourceYouTube, a.Info.Source)
	assert.Equal(t, "https://img/a.jpg", a.Info.ArtworkURL)
	assert.False(t, a.Info.IsStream)

	b := tracks[1]
	assert.Equal(t, "Unknown Title", b.Info.Title)
	assert.Zero(t, b.Info.Duration)
	assert.True(t, b.Info.IsStream)
}

func TestParseClockDuration(t *testing.T) {
	assert.Equal(t, 3*time.Minute+20*time.Second, parseClockDuration("3:20"))
	assert.Equal(t, time.Hour+2*time.Minute+3*time.Second, parseClockDuration("1:02:03"))
	assert.Zero(t, parseClockDuration(""))
	assert.Zero(t, parseClockDuration("LIVE"))
}

func TestDetectSourceFromURL(t *testing.T) {
	assert.Equal(t, TrackSourceYouTubeMusic, detectSourceFromURL("https://music.youtube.com/watch?v=x"))
	assert.Equal(t, TrackSourceYouTube, detectSourceFromURL("https://youtu.be/x"))
	assert.Equal(t, TrackSourceSoundCloud, detectSourceFromURL("https://soundcloud.com/a/b"))
	assert.Equal(t, TrackSourceUnknown, detectSourceFromURL("https://example.com"))
}

func TestCachedSearcherSharesConcurrentCalls(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	backend := SearcherFunc(func(ctx context.Context, query string) ([]Track, error) {
		calls.Add(1)
		<-release
		return []Track{track(query)}, nil
	})
	cache := NewCachedSearcher(backend, nil, time.Minute, nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := cache.Search(context.Background(), "Lo-Fi  Beats")
			assert.NoError(t, err)
			assert.Len(t, res, 1)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	_, err := cache.Search(context.Background(), "lo-fi beats")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCachedSearcherExpires(t *testing.T) {
	var calls atomic.Int32
	backend := SearcherFunc(func(ctx context.Context, query string) ([]Track, error) {
		calls.Add(1)
		return []Track{track(query)}, nil
	})
	cache := NewCachedSearcher(backend, nil, time.Minute, nil)
	now := time.Now()
	cache.now = func() time.Time { return now }

	_, _ = cache.Search(context.Background(), "q")
	_, _ = cache.Search(context.Background(), "q")
	assert.Equal(t, int32(1), calls.Load())

	now = now.Add(2 * time.Minute)
	_, _ = cache.Search(context.Background(), "q")
	assert.Equal(t, int32(2), calls.Load())
}

func TestCachedSearcherDoesNotCacheErrors(t *testing.T) {
	var calls atomic.Int32
	backend := SearcherFunc(func(ctx context.Context, query string) ([]Track, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("down")
		}
		return []Track{track(query)}, nil
	})
	cache := NewCachedSearcher(backend, nil, time.Minute, nil)

	_, err := cache.Search(context.Background(), "q")
	require.Error(t, err)
	res, err := cache.Search(context.Background(), "q")
	require.NoError(t, err)
	assert.Len(t, res, 1)

	_, err = cache.Search(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrMissingInput)
}

func TestFallbackSearcherOrder(t *testing.T) {
	failing := SearcherFunc(func(context.Context, string) ([]Track, error) { return nil, errors.New("boom") })
	empty := SearcherFunc(func(context.Context, string) ([]Track, error) { return nil, nil })
	good := SearcherFunc(func(_ context.Context, q string) ([]Track, error) { return []Track{track(q)}, nil })

	f := NewFallbackSearcher(nil).Add("failing", failing).Add("empty", empty).Add("good", good)
	res, err := f.Search(context.Background(), "x")
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "x", res[0].Info.Title)

	f = NewFallbackSearcher(nil).Add("failing", failing).Add("empty", empty)
	_, err = f.Search(context.Background(), "x")
	assert.Error(t, err)
}

func TestServiceResolveInputQuery(t *testing.T) {
	searcher := SearcherFunc(func(_ context.Context, q string) ([]Track, error) {
		return []Track{track(q), track("other")}, nil
	})
	svc := NewService(searcher, nil)

	got, err := svc.ResolveInput(context.Background(), " daft punk ", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "daft punk", got.Info.Title)
	assert.Equal(t, "user-1", got.RequestedBy)

	_, err = svc.ResolveInput(context.Background(), "", "user-1")
	assert.ErrorIs(t, err, ErrMissingInput)

	_, err = svc.ResolveInput(context.Background(), "https://youtu.be/x", "user-1")
	assert.ErrorIs(t, err, ErrResolverNil)

	_, err = svc.ResolveInput(context.Background(), "https://open.spotify.com/track/abc", "user-1")
	assert.ErrorIs(t, err, ErrSpotifyClientNil)
}
