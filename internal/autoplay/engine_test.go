package autoplay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hxnx/encore/internal/music"
)

type fixedRand struct {
	f float64
}

func (r fixedRand) Float64() float64 { return r.f }
func (r fixedRand) IntN(int) int     { return 0 }

type countingSearcher struct {
	mu      sync.Mutex
	queries []string
	respond func(query string) ([]music.Track, error)
}

func (s *countingSearcher) Search(_ context.Context, query string) ([]music.Track, error) {
	s.mu.Lock()
	s.queries = append(s.queries, query)
	s.mu.Unlock()
	if s.respond == nil {
		return nil, nil
	}
	return s.respond(query)
}

func (s *countingSearcher) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queries)
}

type recommenderFunc func(ctx context.Context, title, author string, hints []string) ([]music.Track, error)

func (f recommenderFunc) Recommend(ctx context.Context, title, author string, hints []string) ([]music.Track, error) {
	return f(ctx, title, author, hints)
}

func mk(title, author string) music.Track {
	return music.Track{
		Encoded: "https://www.youtube.com/watch?v=" + strings.ReplaceAll(strings.ToLower(title), " ", "-"),
		Info: music.TrackInfo{
			Title:    title,
			Author:   author,
			URI:      "https://www.youtube.com/watch?v=" + strings.ReplaceAll(strings.ToLower(title), " ", "-"),
			Duration: 3 * time.Minute,
		},
	}
}

func newTestEngine(t *testing.T, s music.Searcher, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{withRand(fixedRand{f: 0})}, opts...)
	return NewEngine(s, opts...)
}

func TestDiversityAvoidsRepeatedArtist(t *testing.T) {
	searcher := &countingSearcher{respond: func(string) ([]music.Track, error) {
		return []music.Track{mk("Alpha Anthem", "Alpha"), mk("Beta Ballad", "Beta")}, nil
	}}
	engine := newTestEngine(t, searcher)

	q := music.NewGuildQueue("g", music.QueueDefaults{})
	for i := 0; i < 3; i++ {
		q.RecordRecentArtist("alpha")
	}

	got, ok := engine.FindSimilarTrack(context.Background(), "g", q, mk("Gamma Groove", "Gamma"))
	require.True(t, ok)
	assert.Equal(t, "Beta Ballad", got.Info.Title)
	assert.Equal(t, "beta", q.RecentArtists()[0])
}

func TestSameArtistAsCurrentLosesToAlternative(t *testing.T) {
	searcher := &countingSearcher{respond: func(string) ([]music.Track, error) {
		return []music.Track{mk("Another Alpha Song", "Alpha"), mk("Delta Dream", "Delta")}, nil
	}}
	engine := newTestEngine(t, searcher)
	q := music.NewGuildQueue("g", music.QueueDefaults{})

	got, ok := engine.FindSimilarTrack(context.Background(), "g", q, mk("First Alpha Song", "Alpha"))
	require.True(t, ok)
	assert.Equal(t, "Delta Dream", got.Info.Title)
}

func TestOnlySameArtistStillPlays(t *testing.T) {
	searcher := &countingSearcher{respond: func(string) ([]music.Track, error) {
		return []music.Track{mk("Another Alpha Song", "Alpha")}, nil
	}}
	engine := newTestEngine(t, searcher)
	q := music.NewGuildQueue("g", music.QueueDefaults{})

	got, ok := engine.FindSimilarTrack(context.Background(), "g", q, mk("First Alpha Song", "Alpha"))
	require.True(t, ok)
	assert.Equal(t, "Another Alpha Song", got.Info.Title)
}

func TestDuplicateSuppression(t *testing.T) {
	searcher := &countingSearcher{respond: func(string) ([]music.Track, error) {
		return []music.Track{
			mk("song a (Official Video)", "Other"),
			mk("SONG B", "Other"),
			mk("Song C", "Someone"),
		}, nil
	}}
	engine := newTestEngine(t, searcher)

	q := music.NewGuildQueue("g", music.QueueDefaults{})
	q.SetCurrent(mk("Song A", "X"), false)
	q.SetCurrent(mk("Song B", "X"), false)

	got, ok := engine.FindSimilarTrack(context.Background(), "g", q, mk("Song B", "X"))
	require.True(t, ok)
	assert.Equal(t, "Song C", got.Info.Title)
}

func TestRateLimitSkipsSearch(t *testing.T) {
	searcher := &countingSearcher{respond: func(string) ([]music.Track, error) {
		return []music.Track{mk("Beta Ballad", "Beta")}, nil
	}}
	now := time.Now()
	engine := newTestEngine(t, searcher, withClock(func() time.Time { return now }))
	q := music.NewGuildQueue("g", music.QueueDefaults{AutoplayInterval: 3 * time.Second})

	_, ok := engine.FindSimilarTrack(context.Background(), "g", q, mk("Seed", "Alpha"))
	require.True(t, ok)
	calls := searcher.calls()
	require.Positive(t, calls)

	now = now.Add(time.Second)
	_, ok = engine.FindSimilarTrack(context.Background(), "g", q, mk("Seed", "Alpha"))
	assert.False(t, ok)
	assert.Equal(t, calls, searcher.calls())
}

func TestFallbackChainUsedWhenStrategiesEmpty(t *testing.T) {
	tuning := DefaultTuning()
	tuning.TrendingQueries = []string{"only trending"}
	source, err := StaticTuning(tuning)
	require.NoError(t, err)

	searcher := &countingSearcher{respond: func(q string) ([]music.Track, error) {
		if q == "only trending" {
			return []music.Track{mk("Chart Topper", "Famous")}, nil
		}
		return nil, errors.New("nothing")
	}}
	engine := newTestEngine(t, searcher, WithTuning(source))
	q := music.NewGuildQueue("g", music.QueueDefaults{})

	got, ok := engine.FindSimilarTrack(context.Background(), "g", q, mk("Obscure Thing", "Nobody"))
	require.True(t, ok)
	assert.Equal(t, "Chart Topper", got.Info.Title)
}

func TestNothingFoundReturnsFalse(t *testing.T) {
	engine := newTestEngine(t, &countingSearcher{})
	q := music.NewGuildQueue("g", music.QueueDefaults{})

	_, ok := engine.FindSimilarTrack(context.Background(), "g", q, mk("Obscure Thing", "Nobody"))
	assert.False(t, ok)
	assert.Empty(t, q.RecentArtists())
}

func TestRecommenderCandidatesArePreferred(t *testing.T) {
	searcher := &countingSearcher{respond: func(string) ([]music.Track, error) {
		return []music.Track{mk("Plain Result", "Searchy")}, nil
	}}
	rec := recommenderFunc(func(_ context.Context, title, author string, _ []string) ([]music.Track, error) {
		assert.Equal(t, "Midnight City", title)
		assert.Equal(t, "M83", author)
		return []music.Track{mk("Kids", "MGMT")}, nil
	})
	engine := newTestEngine(t, searcher, WithRecommender(rec))
	q := music.NewGuildQueue("g", music.QueueDefaults{})

	got, ok := engine.FindSimilarTrack(context.Background(), "g", q, mk("M83 - Midnight City (Official Video)", "M83VEVO"))
	require.True(t, ok)
	assert.Equal(t, "Kids", got.Info.Title)
}

func TestRecommenderErrorIsNotFatal(t *testing.T) {
	searcher := &countingSearcher{respond: func(string) ([]music.Track, error) {
		return []music.Track{mk("Plain Result", "Searchy")}, nil
	}}
	rec := recommenderFunc(func(context.Context, string, string, []string) ([]music.Track, error) {
		return nil, errors.New("circuit open")
	})
	engine := newTestEngine(t, searcher, WithRecommender(rec))
	q := music.NewGuildQueue("g", music.QueueDefaults{})

	got, ok := engine.FindSimilarTrack(context.Background(), "g", q, mk("Seed", "Alpha"))
	require.True(t, ok)
	assert.Equal(t, "Plain Result", got.Info.Title)
}

func TestFilterRejectsStreamsAndLongTracks(t *testing.T) {
	source, err := StaticTuning(DefaultTuning())
	require.NoError(t, err)
	f := newCandidateFilter(source.tables(), mk("Current", "A"), []string{"Recent Hit"})

	live := mk("Live Radio", "B")
	live.Info.IsStream = true
	long := mk("Ten Hour Loop", "B")
	long.Info.Duration = 31 * time.Minute
	noPayload := mk("Empty", "B")
	noPayload.Encoded = ""

	assert.False(t, f.allow(live))
	assert.False(t, f.allow(long))
	assert.False(t, f.allow(noPayload))
	assert.False(t, f.allow(mk("current", "B")))
	assert.False(t, f.allow(mk("Recent Hit (Lyrics)", "B")))
	assert.True(t, f.allow(mk("Fresh Song", "B")))
}
