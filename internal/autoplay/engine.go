// Package autoplay picks the next track for a guild whose queue ran dry.
//
// A pick is built from a listening profile (genres, mood and language of the
// current track and recent history), a set of weighted search strategies
// and a scoring pass that keeps the session moving between artists. The
// heuristic tables live in Tuning and can be reloaded from disk at runtime.
package autoplay

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hxnx/encore/internal/music"
)

// History is the per-guild state the engine reads and updates.
// *music.GuildQueue implements it.
type History interface {
	AllowAutoplaySearch(now time.Time) bool
	RecentlyPlayed(n int) []string
	RecentArtists() []string
	RecordRecentArtist(artist string)
}

// PreferenceProvider returns titles a user played recently, newest first.
type PreferenceProvider interface {
	RecentTitles(ctx context.Context, userID string, limit int) ([]string, error)
}

const preferenceLimit = 10

type Engine struct {
	searcher    music.Searcher
	recommender music.Recommender
	prefs       PreferenceProvider
	tuning      *TuningSource
	logger      *zap.Logger
	rng         randSource
	now         func() time.Time
}

type Option func(*Engine)

func WithRecommender(r music.Recommender) Option {
	return func(e *Engine) { e.recommender = r }
}

func WithPreferences(p PreferenceProvider) Option {
	return func(e *Engine) { e.prefs = p }
}

func WithTuning(t *TuningSource) Option {
	return func(e *Engine) { e.tuning = t }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func withRand(r randSource) Option {
	return func(e *Engine) { e.rng = r }
}

func withClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(searcher music.Searcher, opts ...Option) *Engine {
	e := &Engine{
		searcher: searcher,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.tuning == nil {
		e.tuning, _ = StaticTuning(DefaultTuning())
	}
	if e.rng == nil {
		e.rng = newLockedRand(uint64(time.Now().UnixNano()))
	}
	e.logger = e.logger.Named("autoplay")
	return e
}

// FindSimilarTrack returns a track to play after current, or false when the
// guild is rate limited or nothing suitable was found. It never fails: search
// and recommendation errors only shrink the candidate pool.
func (e *Engine) FindSimilarTrack(ctx context.Context, guildID string, h History, current music.Track) (music.Track, bool) {
	log := e.logger.With(zap.String("guild_id", guildID))

	if !h.AllowAutoplaySearch(e.now()) {
		log.Debug("autoplay rate limited")
		return music.Track{}, false
	}

	t := e.tuning.tables()
	songTitle, songArtist := splitUpload(current.Info.Title, current.Info.Author)
	seed := seedTrack{
		Title:     songTitle,
		Author:    songArtist,
		ArtistKey: candidateArtist(current),
	}

	recentTitles := h.RecentlyPlayed(t.DuplicateWindow)
	recentArtists := h.RecentArtists()

	history := append([]string(nil), recentTitles...)
	if e.prefs != nil && current.RequestedBy != "" {
		titles, err := e.prefs.RecentTitles(ctx, current.RequestedBy, preferenceLimit)
		if err != nil {
			log.Debug("preference lookup failed", zap.Error(err))
		}
		history = append(history, titles...)
	}
	profile := buildProfile(t, seed, history)
	filter := newCandidateFilter(t, current, recentTitles)

	pool := newCandidatePool(filter)

	if e.recommender != nil {
		recs, err := e.recommender.Recommend(ctx, seed.Title, seed.Author, profile.Hints())
		if err != nil {
			log.Debug("recommender failed", zap.Error(err))
		}
		pool.add(recs, CategorySmart)
	}

	strategies := planStrategies(t, seed, profile, recentArtists, e.rng)
	for _, s := range strategies {
		if pool.len() >= t.MinCandidates || ctx.Err() != nil {
			break
		}
		e.run(ctx, log, s, pool)
	}

	if pool.len() == 0 {
		for _, s := range fallbackStrategies(t, seed, profile, e.rng) {
			if ctx.Err() != nil {
				break
			}
			if e.run(ctx, log, s, pool) > 0 {
				break
			}
		}
	}

	if pool.len() == 0 {
		log.Debug("autoplay found nothing", zap.String("seed", current.Info.Title))
		return music.Track{}, false
	}

	pick := selectCandidate(t, pool.items, seed, profile, recentArtists, e.rng)
	h.RecordRecentArtist(pick.artistKey)

	log.Debug("autoplay picked",
		zap.String("title", pick.track.Info.Title),
		zap.String("artist", pick.artistKey),
		zap.String("category", string(pick.category)),
		zap.Float64("score", pick.score),
		zap.Int("candidates", pool.len()))
	return pick.track, true
}

func (e *Engine) run(ctx context.Context, log *zap.Logger, s Strategy, pool *candidatePool) int {
	results, err := e.searcher.Search(ctx, s.Query)
	if err != nil {
		log.Debug("autoplay search failed", zap.String("query", s.Query), zap.Error(err))
		return 0
	}
	return pool.add(results, s.Category)
}

type candidatePool struct {
	filter candidateFilter
	seen   map[string]bool
	items  []candidate
}

func newCandidatePool(f candidateFilter) *candidatePool {
	return &candidatePool{filter: f, seen: make(map[string]bool)}
}

func (p *candidatePool) add(tracks []music.Track, category Category) int {
	added := 0
	for _, tr := range tracks {
		if !p.filter.allow(tr) {
			continue
		}
		key := tr.Key()
		titleKey := fuzzyKey(tr.Info.Title, p.filter.prefix)
		if p.seen[key] || p.seen["title:"+titleKey] {
			continue
		}
		p.seen[key] = true
		p.seen["title:"+titleKey] = true
		p.items = append(p.items, candidate{
			track:     tr,
			category:  category,
			artistKey: candidateArtist(tr),
		})
		added++
	}
	return added
}

func (p *candidatePool) len() int {
	return len(p.items)
}
