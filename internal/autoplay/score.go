package autoplay

import (
	"math/rand/v2"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/hxnx/encore/internal/music"
)

type randSource interface {
	Float64() float64
	IntN(n int) int
}

type lockedRand struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newLockedRand(seed uint64) *lockedRand {
	return &lockedRand{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (r *lockedRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64()
}

func (r *lockedRand) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.IntN(n)
}

type candidate struct {
	track     music.Track
	category  Category
	artistKey string
	score     float64
}

// candidateFilter rejects tracks that should never be auto-played next.
type candidateFilter struct {
	currentKey  string
	recentKeys  []string
	maxDuration int64
	prefix      int
}

func newCandidateFilter(t *tables, current music.Track, recentTitles []string) candidateFilter {
	f := candidateFilter{
		currentKey:  fuzzyKey(current.Info.Title, t.DuplicatePrefix),
		maxDuration: int64(t.MaxDuration),
		prefix:      t.DuplicatePrefix,
	}
	window := recentTitles
	if len(window) > t.DuplicateWindow {
		window = window[:t.DuplicateWindow]
	}
	for _, title := range window {
		if key := fuzzyKey(title, t.DuplicatePrefix); key != "" {
			f.recentKeys = append(f.recentKeys, key)
		}
	}
	return f
}

func (f candidateFilter) allow(tr music.Track) bool {
	if !tr.Playable() || tr.Info.IsStream {
		return false
	}
	if f.maxDuration > 0 && int64(tr.Info.Duration) > f.maxDuration {
		return false
	}

	key := fuzzyKey(tr.Info.Title, f.prefix)
	if key == "" || similarTitles(key, f.currentKey) {
		return false
	}
	for _, recent := range f.recentKeys {
		if similarTitles(key, recent) {
			return false
		}
	}
	return true
}

func candidateArtist(tr music.Track) string {
	if tr.Info.Source == music.TrackSourceYouTubeMusic || tr.Info.Source == music.TrackSourceSpotify ||
		strings.HasSuffix(strings.ToLower(strings.TrimSpace(tr.Info.Author)), "- topic") {
		return normalizeArtist(tr.Info.Author)
	}
	_, artist := splitUpload(tr.Info.Title, tr.Info.Author)
	return normalizeArtist(artist)
}

func scoreCandidate(t *tables, c candidate, seed seedTrack, p Profile, recentArtists []string, rng randSource) float64 {
	w := t.Weights
	score := 100.0

	if c.artistKey != "" && c.artistKey == seed.ArtistKey {
		score -= w.SameArtistPenalty
	}
	if idx := slices.Index(recentArtists, c.artistKey); c.artistKey != "" && idx >= 0 {
		// Newer entries weigh more.
		score -= w.RecentArtistPenalty * (1 - float64(idx)/float64(len(recentArtists)+1))
	}
	if slices.Contains(t.similarTo(seed.ArtistKey), c.artistKey) {
		score += w.SimilarArtistBonus
	}

	text := c.track.Info.Title + " " + c.track.Info.Author
	for _, pattern := range t.patterns {
		if !pattern.re.MatchString(text) {
			continue
		}
		if slices.Contains(p.Top, pattern.genre) {
			score += w.GenreBonus
		} else if slices.Contains(p.Related, pattern.genre) {
			score += w.GenreBonus / 2
		}
	}
	if p.Language != "" && detectLanguage(text) == p.Language {
		score += w.LanguageBonus
	}
	if t.compilation.MatchString(c.track.Info.Title) {
		score -= w.CompilationPenalty
	}
	if c.category == CategorySmart {
		score += w.SmartBonus
	}
	if t.jitter > 0 {
		score += rng.Float64() * t.jitter
	}
	return score
}

// selectCandidate ranks candidates and picks one. Artists that must be
// avoided (the seed artist and the most recent auto-picks) never win while
// any alternative exists; otherwise the pick is weighted-random among the
// top few.
func selectCandidate(t *tables, candidates []candidate, seed seedTrack, p Profile, recentArtists []string, rng randSource) candidate {
	for i := range candidates {
		candidates[i].score = scoreCandidate(t, candidates[i], seed, p, recentArtists, rng)
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	span := recentArtists
	if len(span) > t.RecentArtistSpan {
		span = span[:t.RecentArtistSpan]
	}
	avoided := func(c candidate) bool {
		if c.artistKey == "" {
			return false
		}
		return c.artistKey == seed.ArtistKey || slices.Contains(span, c.artistKey)
	}

	pool := make([]candidate, 0, len(candidates))
	for _, c := range candidates {
		if !avoided(c) {
			pool = append(pool, c)
		}
	}
	if len(pool) == 0 {
		pool = candidates
	}
	if len(pool) > t.TopPicks {
		pool = pool[:t.TopPicks]
	}
	if len(pool) == 1 {
		return pool[0]
	}

	lowest := pool[len(pool)-1].score
	total := 0.0
	weights := make([]float64, len(pool))
	for i, c := range pool {
		weights[i] = c.score - lowest + 1
		total += weights[i]
	}
	roll := rng.Float64() * total
	for i, c := range pool {
		roll -= weights[i]
		if roll < 0 {
			return c
		}
	}
	return pool[0]
}
