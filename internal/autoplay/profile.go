package autoplay

import (
	"sort"
	"strings"
	"unicode"
)

const (
	MoodChill     = "chill"
	MoodEnergetic = "energetic"
	MoodEmotional = "emotional"
	MoodMixed     = "mixed"
)

// Profile summarizes what the guild has been listening to.
type Profile struct {
	Genres   map[string]int
	Top      []string
	Related  []string
	Mood     string
	Language string
}

func (p Profile) TopGenre() string {
	if len(p.Top) == 0 {
		return ""
	}
	return p.Top[0]
}

// Hints are the genre and mood words handed to a Recommender.
func (p Profile) Hints() []string {
	hints := append([]string(nil), p.Top...)
	if p.Mood != "" && p.Mood != MoodMixed {
		hints = append(hints, p.Mood)
	}
	return hints
}

// buildProfile weighs the seed twice as much as history entries.
func buildProfile(t *tables, seed seedTrack, history []string) Profile {
	texts := make([]string, 0, len(history)+2)
	seedText := seed.Title + " " + seed.Author
	texts = append(texts, seedText, seedText)
	texts = append(texts, history...)

	p := Profile{Genres: make(map[string]int)}
	related := make(map[string]bool)
	for _, text := range texts {
		for _, pattern := range t.patterns {
			if pattern.re.MatchString(text) {
				p.Genres[pattern.genre]++
			}
		}
	}

	p.Top = topGenres(p.Genres, 2)
	for _, genre := range p.Top {
		for _, pattern := range t.patterns {
			if pattern.genre != genre {
				continue
			}
			for _, r := range pattern.related {
				if !related[r] && p.Genres[r] == 0 {
					related[r] = true
					p.Related = append(p.Related, r)
				}
			}
		}
	}

	p.Mood = detectMood(t, p.Genres, texts)
	p.Language = dominantLanguage(texts)
	return p
}

func topGenres(counts map[string]int, n int) []string {
	genres := make([]string, 0, len(counts))
	for g := range counts {
		genres = append(genres, g)
	}
	sort.Slice(genres, func(i, j int) bool {
		if counts[genres[i]] != counts[genres[j]] {
			return counts[genres[i]] > counts[genres[j]]
		}
		return genres[i] < genres[j]
	})
	if len(genres) > n {
		genres = genres[:n]
	}
	return genres
}

// detectMood buckets the genre scores by mood and adds one point per mood
// keyword found in the texts. No score or a tie at the top is "mixed".
func detectMood(t *tables, genres map[string]int, texts []string) string {
	scores := make(map[string]int)
	for genre, n := range genres {
		if mood, ok := t.GenreMoods[genre]; ok {
			scores[mood] += n
		}
	}
	for _, text := range texts {
		lower := strings.ToLower(text)
		for mood, words := range t.MoodKeywords {
			for _, w := range lowerAll(words) {
				if strings.Contains(lower, w) {
					scores[mood]++
				}
			}
		}
	}

	best, bestScore, tie := MoodMixed, 0, false
	for mood, score := range scores {
		switch {
		case score > bestScore:
			best, bestScore, tie = mood, score, false
		case score == bestScore && score > 0:
			tie = true
		}
	}
	if bestScore == 0 || tie {
		return MoodMixed
	}
	return best
}

// detectLanguage guesses the language of one string from its script, and for
// Latin text from language-specific diacritics. Plain ASCII yields "".
func detectLanguage(text string) string {
	counts := map[string]int{}
	hasKana := false
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Hangul, r):
			counts["korean"]++
		case unicode.Is(unicode.Hiragana, r), unicode.Is(unicode.Katakana, r):
			counts["japanese"]++
			hasKana = true
		case unicode.Is(unicode.Han, r):
			counts["han"]++
		case unicode.Is(unicode.Cyrillic, r):
			counts["russian"]++
		case unicode.Is(unicode.Arabic, r):
			counts["arabic"]++
		case unicode.Is(unicode.Devanagari, r):
			counts["hindi"]++
		case unicode.Is(unicode.Thai, r):
			counts["thai"]++
		case strings.ContainsRune("ñ¿¡", unicode.ToLower(r)):
			counts["spanish"] += 2
		case strings.ContainsRune("ãõ", unicode.ToLower(r)):
			counts["portuguese"] += 2
		case strings.ContainsRune("çéèêàâœ", unicode.ToLower(r)):
			counts["french"]++
		case strings.ContainsRune("äöüß", unicode.ToLower(r)):
			counts["german"]++
		}
	}

	if n := counts["han"]; n > 0 {
		delete(counts, "han")
		if hasKana {
			counts["japanese"] += n
		} else {
			counts["chinese"] += n
		}
	}

	best, bestCount := "", 0
	for lang, n := range counts {
		if n > bestCount || (n == bestCount && lang < best) {
			best, bestCount = lang, n
		}
	}
	return best
}

func dominantLanguage(texts []string) string {
	votes := map[string]int{}
	for _, text := range texts {
		if lang := detectLanguage(text); lang != "" {
			votes[lang]++
		}
	}
	best, bestVotes := "", 0
	for lang, n := range votes {
		if n > bestVotes || (n == bestVotes && lang < best) {
			best, bestVotes = lang, n
		}
	}
	return best
}
