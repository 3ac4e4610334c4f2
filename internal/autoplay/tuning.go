package autoplay

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type GenrePattern struct {
	Pattern string   `mapstructure:"pattern"`
	Genre   string   `mapstructure:"genre"`
	Related []string `mapstructure:"related"`
}

type Weights struct {
	SameArtistPenalty   float64 `mapstructure:"same_artist_penalty"`
	RecentArtistPenalty float64 `mapstructure:"recent_artist_penalty"`
	SimilarArtistBonus  float64 `mapstructure:"similar_artist_bonus"`
	GenreBonus          float64 `mapstructure:"genre_bonus"`
	LanguageBonus       float64 `mapstructure:"language_bonus"`
	CompilationPenalty  float64 `mapstructure:"compilation_penalty"`
	SmartBonus          float64 `mapstructure:"smart_bonus"`

	// Jitter is nil when unset; an explicit 0 disables the random nudge.
	Jitter *float64 `mapstructure:"jitter"`
}

// Tuning holds the heuristic tables of the engine. Zero fields of a loaded
// file fall back to DefaultTuning, except the pointer fields, where only an
// absent key does.
type Tuning struct {
	GenrePatterns      []GenrePattern      `mapstructure:"genre_patterns"`
	SimilarArtists     map[string][]string `mapstructure:"similar_artists"`
	GenrePlaylists     map[string]string   `mapstructure:"genre_playlists"`
	LanguageQueries    map[string]string   `mapstructure:"language_queries"`
	MoodKeywords       map[string][]string `mapstructure:"mood_keywords"`
	GenreMoods         map[string]string   `mapstructure:"genre_moods"`
	CompilationPattern string              `mapstructure:"compilation_pattern"`
	TrendingQueries    []string            `mapstructure:"trending_queries"`
	SerendipityQueries []string            `mapstructure:"serendipity_queries"`

	SerendipityChance *float64      `mapstructure:"serendipity_chance"`
	SerendipityWeight float64       `mapstructure:"serendipity_weight"`
	MaxStrategies     int           `mapstructure:"max_strategies"`
	MaxPerCategory    int           `mapstructure:"max_per_category"`
	MinCandidates     int           `mapstructure:"min_candidates"`
	DuplicateWindow   int           `mapstructure:"duplicate_window"`
	DuplicatePrefix   int           `mapstructure:"duplicate_prefix"`
	RecentArtistSpan  int           `mapstructure:"recent_artist_span"`
	TopPicks          int           `mapstructure:"top_picks"`
	MaxDuration       time.Duration `mapstructure:"max_duration"`

	Weights Weights `mapstructure:"weights"`
}

func DefaultTuning() Tuning {
	return Tuning{
		GenrePatterns: []GenrePattern{
			{Pattern: `lo-?fi|chillhop|study beats`, Genre: "lofi", Related: []string{"chillhop", "jazz hop"}},
			{Pattern: `k-?pop|\bbts\b|blackpink|twice|stray kids|newjeans|aespa|seventeen|le sserafim|\bive\b`, Genre: "kpop", Related: []string{"jpop", "dance pop"}},
			{Pattern: `j-?pop|anime|yoasobi|kenshi yonezu|\bado\b|opening|ending theme`, Genre: "jpop", Related: []string{"anime", "city pop"}},
			{Pattern: `hip ?hop|\brap\b|drill|\btrap\b|freestyle`, Genre: "hip hop", Related: []string{"rnb", "trap"}},
			{Pattern: `r&b|\brnb\b|\bsoul\b|neo soul`, Genre: "rnb", Related: []string{"soul", "hip hop"}},
			{Pattern: `\brock\b|grunge|punk|alt rock`, Genre: "rock", Related: []string{"alternative", "indie rock"}},
			{Pattern: `metal|metalcore|djent|thrash`, Genre: "metal", Related: []string{"hard rock", "metalcore"}},
			{Pattern: `\bedm\b|house|techno|trance|dubstep|drum and bass|\bdnb\b`, Genre: "edm", Related: []string{"electronic", "dance"}},
			{Pattern: `classical|symphony|concerto|sonata|chopin|mozart|beethoven|bach\b`, Genre: "classical", Related: []string{"piano", "orchestral"}},
			{Pattern: `jazz|swing|bebop|bossa`, Genre: "jazz", Related: []string{"lofi", "soul"}},
			{Pattern: `country|bluegrass|honky`, Genre: "country", Related: []string{"folk", "americana"}},
			{Pattern: `\bfolk\b|acoustic|singer-songwriter`, Genre: "folk", Related: []string{"indie folk", "acoustic"}},
			{Pattern: `indie|bedroom pop|dream pop|shoegaze`, Genre: "indie", Related: []string{"indie pop", "alternative"}},
			{Pattern: `reggaeton|latin|bachata|salsa|cumbia|corrido`, Genre: "latin", Related: []string{"latin pop", "reggaeton"}},
			{Pattern: `synthwave|retrowave|outrun|city pop`, Genre: "synthwave", Related: []string{"city pop", "electronic"}},
			{Pattern: `\bost\b|soundtrack|\btheme\b|score`, Genre: "soundtrack", Related: []string{"orchestral", "epic music"}},
			{Pattern: `\bpop\b`, Genre: "pop", Related: []string{"dance pop", "indie pop"}},
		},
		SimilarArtists: map[string][]string{
			"taylor swift":    {"olivia rodrigo", "sabrina carpenter", "gracie abrams"},
			"drake":           {"the weeknd", "travis scott", "21 savage"},
			"the weeknd":      {"dua lipa", "doja cat", "drake"},
			"billie eilish":   {"lorde", "lana del rey", "finneas"},
			"bts":             {"stray kids", "seventeen", "txt"},
			"blackpink":       {"twice", "aespa", "itzy"},
			"newjeans":        {"le sserafim", "ive", "illit"},
			"yoasobi":         {"kenshi yonezu", "ado", "aimer"},
			"arctic monkeys":  {"the strokes", "the 1975", "tame impala"},
			"m83":             {"mgmt", "phoenix", "cut copy"},
			"daft punk":       {"justice", "kavinsky", "chromeo"},
			"kendrick lamar":  {"j. cole", "schoolboy q", "baby keem"},
			"linkin park":     {"breaking benjamin", "three days grace", "papa roach"},
			"bad bunny":       {"rauw alejandro", "feid", "j balvin"},
			"lana del rey":    {"mazzy star", "weyes blood", "lorde"},
			"radiohead":       {"portishead", "thom yorke", "muse"},
			"ed sheeran":      {"lewis capaldi", "shawn mendes", "james arthur"},
			"ariana grande":   {"tate mcrae", "dua lipa", "sabrina carpenter"},
			"nujabes":         {"j dilla", "fat jon", "uyama hiroto"},
			"imagine dragons": {"onerepublic", "bastille", "x ambassadors"},
		},
		GenrePlaylists: map[string]string{
			"lofi":      "lofi hip hop mix",
			"kpop":      "kpop hits playlist",
			"jpop":      "jpop hits playlist",
			"hip hop":   "hip hop hits playlist",
			"rock":      "rock classics playlist",
			"edm":       "edm hits playlist",
			"classical": "classical music essentials",
			"jazz":      "jazz classics playlist",
		},
		LanguageQueries: map[string]string{
			"korean":     "korean hit songs",
			"japanese":   "japanese hit songs",
			"chinese":    "mandarin pop hits",
			"russian":    "russian hit songs",
			"arabic":     "arabic hit songs",
			"hindi":      "bollywood hit songs",
			"thai":       "thai pop hits",
			"spanish":    "exitos en español",
			"portuguese": "sucessos brasileiros",
			"french":     "chansons françaises populaires",
			"german":     "deutsche hits",
		},
		MoodKeywords: map[string][]string{
			MoodChill:     {"lofi", "lo-fi", "chill", "acoustic", "ambient", "relax", "sleep", "piano", "calm", "study"},
			MoodEnergetic: {"remix", "edm", "dance", "rock", "metal", "workout", "hype", "bass", "drill", "trap", "party"},
			MoodEmotional: {"sad", "love", "ballad", "heartbreak", "cry", "tears", "alone", "miss you", "broken"},
		},
		GenreMoods: map[string]string{
			"lofi":      MoodChill,
			"jazz":      MoodChill,
			"classical": MoodChill,
			"edm":       MoodEnergetic,
			"metal":     MoodEnergetic,
			"rock":      MoodEnergetic,
			"hip hop":   MoodEnergetic,
			"rnb":       MoodEmotional,
			"folk":      MoodEmotional,
			"country":   MoodEmotional,
		},
		CompilationPattern: `\btop \d+\b|best of|compilation|full album|playlist|\bmix\b|nonstop|\d+ hours?|hour loop`,
		TrendingQueries:    []string{"trending music this week", "top hits today", "popular songs right now"},
		SerendipityQueries: []string{"hidden gems %s", "underrated %s songs", "%s deep cuts"},

		SerendipityChance: float(0.15),
		SerendipityWeight: 0.2,
		MaxStrategies:     6,
		MaxPerCategory:    2,
		MinCandidates:     10,
		DuplicateWindow:   15,
		DuplicatePrefix:   20,
		RecentArtistSpan:  3,
		TopPicks:          3,
		MaxDuration:       30 * time.Minute,

		Weights: Weights{
			SameArtistPenalty:   60,
			RecentArtistPenalty: 25,
			SimilarArtistBonus:  20,
			GenreBonus:          10,
			LanguageBonus:       8,
			CompilationPenalty:  30,
			SmartBonus:          15,
			Jitter:              float(5),
		},
	}
}

func (t *Tuning) fillDefaults(d Tuning) {
	if len(t.GenrePatterns) == 0 {
		t.GenrePatterns = d.GenrePatterns
	}
	if len(t.SimilarArtists) == 0 {
		t.SimilarArtists = d.SimilarArtists
	}
	if len(t.GenrePlaylists) == 0 {
		t.GenrePlaylists = d.GenrePlaylists
	}
	if len(t.LanguageQueries) == 0 {
		t.LanguageQueries = d.LanguageQueries
	}
	if len(t.MoodKeywords) == 0 {
		t.MoodKeywords = d.MoodKeywords
	}
	if len(t.GenreMoods) == 0 {
		t.GenreMoods = d.GenreMoods
	}
	if t.CompilationPattern == "" {
		t.CompilationPattern = d.CompilationPattern
	}
	if len(t.TrendingQueries) == 0 {
		t.TrendingQueries = d.TrendingQueries
	}
	if len(t.SerendipityQueries) == 0 {
		t.SerendipityQueries = d.SerendipityQueries
	}
	if t.SerendipityChance == nil {
		t.SerendipityChance = d.SerendipityChance
	}
	if t.SerendipityWeight <= 0 {
		t.SerendipityWeight = d.SerendipityWeight
	}
	if t.MaxStrategies <= 0 {
		t.MaxStrategies = d.MaxStrategies
	}
	if t.MaxPerCategory <= 0 {
		t.MaxPerCategory = d.MaxPerCategory
	}
	if t.MinCandidates <= 0 {
		t.MinCandidates = d.MinCandidates
	}
	if t.DuplicateWindow <= 0 {
		t.DuplicateWindow = d.DuplicateWindow
	}
	if t.DuplicatePrefix <= 0 {
		t.DuplicatePrefix = d.DuplicatePrefix
	}
	if t.RecentArtistSpan <= 0 {
		t.RecentArtistSpan = d.RecentArtistSpan
	}
	if t.TopPicks <= 0 {
		t.TopPicks = d.TopPicks
	}
	if t.MaxDuration <= 0 {
		t.MaxDuration = d.MaxDuration
	}

	w, dw := &t.Weights, d.Weights
	fill := func(v *float64, def float64) {
		if *v == 0 {
			*v = def
		}
	}
	fill(&w.SameArtistPenalty, dw.SameArtistPenalty)
	fill(&w.RecentArtistPenalty, dw.RecentArtistPenalty)
	fill(&w.SimilarArtistBonus, dw.SimilarArtistBonus)
	fill(&w.GenreBonus, dw.GenreBonus)
	fill(&w.LanguageBonus, dw.LanguageBonus)
	fill(&w.CompilationPenalty, dw.CompilationPenalty)
	fill(&w.SmartBonus, dw.SmartBonus)
	if w.Jitter == nil {
		w.Jitter = dw.Jitter
	}
}

func float(v float64) *float64 { return &v }

type compiledPattern struct {
	re      *regexp.Regexp
	genre   string
	related []string
}

// tables is a validated, ready-to-use Tuning.
type tables struct {
	Tuning
	patterns    []compiledPattern
	compilation *regexp.Regexp
	similar     map[string][]string
	serendipity float64
	jitter      float64
}

func compile(t Tuning) (*tables, error) {
	out := &tables{Tuning: t, similar: make(map[string][]string, len(t.SimilarArtists))}
	for _, p := range t.GenrePatterns {
		if p.Genre == "" {
			return nil, fmt.Errorf("genre pattern %q has no genre", p.Pattern)
		}
		re, err := regexp.Compile("(?i)" + p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("genre pattern %q: %w", p.Pattern, err)
		}
		out.patterns = append(out.patterns, compiledPattern{re: re, genre: p.Genre, related: p.Related})
	}

	re, err := regexp.Compile("(?i)" + t.CompilationPattern)
	if err != nil {
		return nil, fmt.Errorf("compilation pattern: %w", err)
	}
	out.compilation = re

	if t.SerendipityChance != nil {
		out.serendipity = *t.SerendipityChance
	}
	if out.serendipity < 0 || out.serendipity > 1 {
		return nil, fmt.Errorf("serendipity_chance %v is outside [0, 1]", out.serendipity)
	}
	if t.Weights.Jitter != nil {
		out.jitter = *t.Weights.Jitter
	}
	if out.jitter < 0 {
		return nil, fmt.Errorf("weights.jitter %v is negative", out.jitter)
	}

	for artist, similar := range t.SimilarArtists {
		key := normalizeArtist(artist)
		for _, s := range similar {
			out.similar[key] = append(out.similar[key], normalizeArtist(s))
		}
	}
	return out, nil
}

func (t *tables) similarTo(artistKey string) []string {
	return t.similar[artistKey]
}

// LoadTuning reads a YAML, JSON or TOML file and compiles it.
func LoadTuning(path string) (Tuning, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Tuning{}, fmt.Errorf("read tuning: %w", err)
	}

	var t Tuning
	if err := v.Unmarshal(&t); err != nil {
		return Tuning{}, fmt.Errorf("decode tuning: %w", err)
	}
	t.fillDefaults(DefaultTuning())

	if _, err := compile(t); err != nil {
		return Tuning{}, err
	}
	return t, nil
}

// TuningSource serves the current tables and swaps them when the backing
// file changes. A reload that fails keeps the previous tables.
type TuningSource struct {
	path    string
	current atomic.Pointer[tables]
	logger  *zap.Logger
}

func NewTuningSource(path string, logger *zap.Logger) (*TuningSource, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &TuningSource{logger: logger.Named("tuning")}
	if path != "" {
		s.path = filepath.Clean(path)
	}

	if s.path == "" {
		if err := s.Set(DefaultTuning()); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// StaticTuning wraps fixed tables.
func StaticTuning(t Tuning) (*TuningSource, error) {
	s := &TuningSource{logger: zap.NewNop()}
	if err := s.Set(t); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *TuningSource) Set(t Tuning) error {
	t.fillDefaults(DefaultTuning())
	compiled, err := compile(t)
	if err != nil {
		return err
	}
	s.current.Store(compiled)
	return nil
}

func (s *TuningSource) Reload() error {
	t, err := LoadTuning(s.path)
	if err != nil {
		return err
	}
	return s.Set(t)
}

func (s *TuningSource) tables() *tables {
	return s.current.Load()
}

func (s *TuningSource) Current() Tuning {
	return s.current.Load().Tuning
}

// Watch reloads the tables on every change of the file until ctx is done.
// The parent directory is watched so editors that replace the file by
// rename are picked up.
func (s *TuningSource) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(s.path), err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != s.path {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					continue
				}
				if err := s.Reload(); err != nil {
					s.logger.Warn("tuning reload failed, keeping previous tables", zap.String("path", s.path), zap.Error(err))
					continue
				}
				s.logger.Info("tuning reloaded", zap.String("path", s.path))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("tuning watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.ToLower(v)
	}
	return out
}
