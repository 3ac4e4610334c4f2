package autoplay

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

type Category string

const (
	CategoryArtist    Category = "artist"
	CategoryGenre     Category = "genre"
	CategoryMood      Category = "mood"
	CategoryDiscovery Category = "discovery"
	CategoryRelated   Category = "related"
	CategoryContext   Category = "context"
	CategorySmart     Category = "smart"
	CategoryFallback  Category = "fallback"

	CategorySerendipity Category = "serendipity"
)

// Strategy is one search query the engine may run, weighted by how well it
// is expected to match the listening profile.
type Strategy struct {
	Category Category
	Query    string
	Weight   float64
}

const maxSimilarArtists = 2

type seedTrack struct {
	Title     string
	Author    string
	ArtistKey string
}

// buildStrategies lists every candidate query for the seed. When the seed's
// artist was auto-picked recently, artist queries are damped and related
// ones boosted so the session drifts to new artists.
func buildStrategies(t *tables, seed seedTrack, p Profile, recentArtists []string) []Strategy {
	recentSpan := recentArtists
	if len(recentSpan) > t.RecentArtistSpan {
		recentSpan = recentSpan[:t.RecentArtistSpan]
	}
	artistRepeat := seed.ArtistKey != "" && slices.Contains(recentSpan, seed.ArtistKey)

	artistWeight, relatedBoost := 1.0, 1.0
	if artistRepeat {
		artistWeight, relatedBoost = 0.3, 1.3
	}

	var out []Strategy
	add := func(c Category, w float64, format string, args ...any) {
		q := strings.TrimSpace(spaces.ReplaceAllString(fmt.Sprintf(format, args...), " "))
		if q != "" {
			out = append(out, Strategy{Category: c, Query: q, Weight: w})
		}
	}

	if seed.Author != "" {
		add(CategoryArtist, 0.9*artistWeight, "%s popular songs", seed.Author)
		if seed.Title != "" {
			add(CategoryArtist, 0.75*artistWeight, "%s songs like %s", seed.Author, seed.Title)
		}
		add(CategoryRelated, 0.7*relatedBoost, "artists similar to %s", seed.Author)
	}
	for i, similar := range t.similarTo(seed.ArtistKey) {
		if i >= maxSimilarArtists {
			break
		}
		if slices.Contains(recentSpan, similar) {
			continue
		}
		add(CategoryRelated, (0.85-0.05*float64(i))*relatedBoost, "%s", similar)
	}

	for i, genre := range p.Top {
		share := 1.0 - 0.15*float64(i)
		add(CategoryGenre, 0.8*share, "%s songs", genre)
	}
	if len(p.Related) > 0 {
		add(CategoryGenre, 0.55, "%s music", p.Related[0])
	}

	if p.Mood != "" && p.Mood != MoodMixed {
		add(CategoryMood, 0.6, "%s %s music", p.Mood, p.TopGenre())
	}

	if p.Language != "" {
		add(CategoryContext, 0.65, "%s %s songs", p.Language, p.TopGenre())
	}
	if seed.Title != "" {
		add(CategoryContext, 0.5, "songs similar to %s", seed.Title)
	}

	if genre := p.TopGenre(); genre != "" {
		add(CategoryDiscovery, 0.4, "new %s artists", genre)
	}
	return out
}

// planStrategies orders the strategies the engine runs. The serendipity
// pick, when the roll allows one, goes last with the lowest weight so it only
// runs while candidates are still short.
func planStrategies(t *tables, seed seedTrack, p Profile, recentArtists []string, rng randSource) []Strategy {
	out := diversify(buildStrategies(t, seed, p, recentArtists), t.MaxStrategies, t.MaxPerCategory)
	if s, ok := serendipityStrategy(t, p, rng); ok {
		out = append(out, s)
	}
	return out
}

// serendipityStrategy draws a query about a genre outside the profile.
func serendipityStrategy(t *tables, p Profile, rng randSource) (Strategy, bool) {
	if len(t.SerendipityQueries) == 0 || rng.Float64() >= t.serendipity {
		return Strategy{}, false
	}

	var pool []string
	seen := make(map[string]bool)
	for _, pattern := range t.patterns {
		g := pattern.genre
		if seen[g] || slices.Contains(p.Top, g) || slices.Contains(p.Related, g) {
			continue
		}
		seen[g] = true
		pool = append(pool, g)
	}
	subject := "music"
	if len(pool) > 0 {
		subject = pool[rng.IntN(len(pool))]
	}

	query := t.SerendipityQueries[rng.IntN(len(t.SerendipityQueries))]
	if strings.Contains(query, "%s") {
		query = fmt.Sprintf(query, subject)
	}
	query = strings.TrimSpace(spaces.ReplaceAllString(query, " "))
	if query == "" {
		return Strategy{}, false
	}
	return Strategy{Category: CategorySerendipity, Query: query, Weight: t.SerendipityWeight}, true
}

// diversify keeps the heaviest strategies, at most limit overall and at most
// perCategory of any one category.
func diversify(strategies []Strategy, limit, perCategory int) []Strategy {
	sorted := append([]Strategy(nil), strategies...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Weight > sorted[j].Weight })

	counts := make(map[Category]int)
	out := make([]Strategy, 0, limit)
	for _, s := range sorted {
		if len(out) >= limit {
			break
		}
		if counts[s.Category] >= perCategory {
			continue
		}
		counts[s.Category]++
		out = append(out, s)
	}
	return out
}

// fallbackStrategies is tried in order once every regular strategy came back
// empty.
func fallbackStrategies(t *tables, seed seedTrack, p Profile, rng randSource) []Strategy {
	var out []Strategy
	add := func(q string) {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, Strategy{Category: CategoryFallback, Query: q, Weight: 0})
		}
	}

	if genre := p.TopGenre(); genre != "" {
		if playlist, ok := t.GenrePlaylists[genre]; ok {
			add(playlist)
		} else {
			add(genre + " playlist")
		}
	}
	if len(p.Related) > 0 {
		add(p.Related[0] + " music")
	}
	if similar := t.similarTo(seed.ArtistKey); len(similar) > 0 {
		add(similar[rng.IntN(len(similar))])
	}
	if p.Language != "" {
		if q, ok := t.LanguageQueries[p.Language]; ok {
			add(q)
		} else {
			add(p.Language + " hit songs")
		}
	}
	if len(t.TrendingQueries) > 0 {
		add(t.TrendingQueries[rng.IntN(len(t.TrendingQueries))])
	}
	return out
}
