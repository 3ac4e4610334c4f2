package music

import (
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var (
	ErrQueueFull    = errors.New("queue is full")
	ErrInvalidTrack = errors.New("track has no playable payload")
	ErrAlreadyVoted = errors.New("already voted to skip")
)

const (
	MinVolume = 0
	MaxVolume = 1000

	LastPlayedCapacity    = 30
	RecentArtistsCapacity = 8

	DefaultAutoplayInterval = 3 * time.Second
)

type QueueDefaults struct {
	Volume           int
	MaxSize          int
	AutoplayInterval time.Duration
}

type SkipVote struct {
	Initiator string
	Required  int
	StartedAt time.Time
	voters    map[string]struct{}
}

func (v *SkipVote) Count() int {
	return len(v.voters)
}

// GuildQueue holds the mutable playback state of one guild. Every method
// takes the queue's own lock; callers never need external locking to read or
// mutate it.
type GuildQueue struct {
	mu sync.Mutex

	guildID  string
	maxSize  int
	tracks   []Track
	current  *Track
	loopMode LoopMode
	shuffled bool
	volume   int
	autoplay bool

	currentAutoplayed bool
	loopCount         int
	skipVote          *SkipVote
	eventsBound       bool
	replacing         bool

	textChannelID       string
	nowPlayingMessageID string

	lastPlayed    *RingBuffer[string]
	recentArtists *RingBuffer[string]

	lastAutoplaySearch time.Time
	autoplayLimiter    *rate.Limiter
}

func NewGuildQueue(guildID string, defaults QueueDefaults) *GuildQueue {
	interval := defaults.AutoplayInterval
	if interval <= 0 {
		interval = DefaultAutoplayInterval
	}
	return &GuildQueue{
		guildID:         guildID,
		maxSize:         defaults.MaxSize,
		loopMode:        LoopModeOff,
		volume:          clampVolume(defaults.Volume),
		lastPlayed:      NewRingBuffer[string](LastPlayedCapacity),
		recentArtists:   NewRingBuffer[string](RecentArtistsCapacity),
		autoplayLimiter: rate.NewLimiter(rate.Every(interval), 1),
	}
}

func (q *GuildQueue) GuildID() string {
	return q.guildID
}

func (q *GuildQueue) fits(n int) bool {
	return q.maxSize <= 0 || len(q.tracks)+n <= q.maxSize
}

// AddTrack appends t and returns the new queue length.
func (q *GuildQueue) AddTrack(t Track) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.fits(1) {
		return len(q.tracks), ErrQueueFull
	}
	q.tracks = append(q.tracks, t)
	return len(q.tracks), nil
}

func (q *GuildQueue) AddTrackToFront(t Track) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.fits(1) {
		return len(q.tracks), ErrQueueFull
	}
	q.tracks = append([]Track{t}, q.tracks...)
	return len(q.tracks), nil
}

// AddTracks appends ts in order. A batch that does not fit is rejected whole.
func (q *GuildQueue) AddTracks(ts []Track) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.fits(len(ts)) {
		return len(q.tracks), ErrQueueFull
	}
	q.tracks = append(q.tracks, ts...)
	return len(q.tracks), nil
}

func (q *GuildQueue) RemoveTrack(index int) (Track, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if index < 0 || index >= len(q.tracks) {
		return Track{}, false
	}
	removed := q.tracks[index]
	q.tracks = append(q.tracks[:index], q.tracks[index+1:]...)
	return removed, true
}

func (q *GuildQueue) MoveTrack(from, to int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.tracks)
	if from < 0 || from >= n || to < 0 || to >= n {
		return false
	}
	if from == to {
		return true
	}
	t := q.tracks[from]
	q.tracks = append(q.tracks[:from], q.tracks[from+1:]...)
	q.tracks = append(q.tracks[:to], append([]Track{t}, q.tracks[to:]...)...)
	return true
}

// NextTrack removes and returns the next track: a random one when shuffled,
// the head otherwise.
func (q *GuildQueue) NextTrack() (Track, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tracks) == 0 {
		return Track{}, false
	}
	idx := 0
	if q.shuffled && len(q.tracks) > 1 {
		idx = rand.IntN(len(q.tracks))
	}
	t := q.tracks[idx]
	q.tracks = append(q.tracks[:idx], q.tracks[idx+1:]...)
	return t, true
}

func (q *GuildQueue) Tracks() []Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Track, len(q.tracks))
	copy(out, q.tracks)
	return out
}

func (q *GuildQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tracks)
}

// Clear drops the pending tracks and keeps the current one.
func (q *GuildQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.tracks)
	q.tracks = nil
	return n
}

func (q *GuildQueue) Current() (Track, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current == nil {
		return Track{}, false
	}
	return *q.current, true
}

func (q *GuildQueue) CurrentAutoplayed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current != nil && q.currentAutoplayed
}

// SetCurrent records t as the playing track, remembers its title in the
// play history and closes any open skip vote.
func (q *GuildQueue) SetCurrent(t Track, autoplayed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.current = &t
	q.currentAutoplayed = autoplayed
	q.skipVote = nil
	if t.Info.Title != "" {
		q.lastPlayed.Push(t.Info.Title)
	}
}

func (q *GuildQueue) ClearCurrent() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.current = nil
	q.currentAutoplayed = false
	q.skipVote = nil
}

func (q *GuildQueue) LoopMode() LoopMode {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.loopMode
}

func (q *GuildQueue) SetLoopMode(mode LoopMode) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.loopMode = mode
	if mode != LoopModeOff {
		q.autoplay = false
	}
}

// CycleLoopMode advances off -> track -> queue -> off. Turning looping on
// disables autoplay.
func (q *GuildQueue) CycleLoopMode() LoopMode {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch q.loopMode {
	case LoopModeOff:
		q.loopMode = LoopModeTrack
	case LoopModeTrack:
		q.loopMode = LoopModeQueue
	default:
		q.loopMode = LoopModeOff
	}
	if q.loopMode != LoopModeOff {
		q.autoplay = false
	}
	return q.loopMode
}

func (q *GuildQueue) Shuffled() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.shuffled
}

func (q *GuildQueue) SetShuffle(on bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.shuffled = on
}

func (q *GuildQueue) Volume() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.volume
}

// SetVolume stores v clamped to [MinVolume, MaxVolume] and returns the
// stored value.
func (q *GuildQueue) SetVolume(v int) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.volume = clampVolume(v)
	return q.volume
}

func clampVolume(v int) int {
	return min(max(v, MinVolume), MaxVolume)
}

func (q *GuildQueue) Autoplay() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.autoplay
}

// SetAutoplay toggles autoplay. Enabling it forces the loop mode off.
func (q *GuildQueue) SetAutoplay(on bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.autoplay = on
	if on {
		q.loopMode = LoopModeOff
	}
}

func (q *GuildQueue) Settings() QueueSettings {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueSettings{
		LoopMode: q.loopMode,
		Shuffle:  q.shuffled,
		Volume:   q.volume,
		Autoplay: q.autoplay,
	}
}

func (q *GuildQueue) ApplySettings(s QueueSettings) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.loopMode = ParseLoopMode(string(s.LoopMode))
	q.shuffled = s.Shuffle
	q.volume = clampVolume(s.Volume)
	q.autoplay = s.Autoplay
	if q.autoplay {
		q.loopMode = LoopModeOff
	}
}

func (q *GuildQueue) LastPlayed() []string {
	return q.lastPlayed.Snapshot()
}

// RecentlyPlayed returns up to n titles, newest first.
func (q *GuildQueue) RecentlyPlayed(n int) []string {
	return q.lastPlayed.Recent(n)
}

func (q *GuildQueue) RecordRecentArtist(artist string) {
	if artist == "" {
		return
	}
	q.recentArtists.Push(artist)
}

// RecentArtists returns the normalized artists of recent autoplay picks,
// newest first.
func (q *GuildQueue) RecentArtists() []string {
	return q.recentArtists.Recent(0)
}

// AllowAutoplaySearch reports whether an autoplay search may run at now and,
// if so, records it.
func (q *GuildQueue) AllowAutoplaySearch(now time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.autoplayLimiter.AllowN(now, 1) {
		return false
	}
	q.lastAutoplaySearch = now
	return true
}

func (q *GuildQueue) LastAutoplaySearch() time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastAutoplaySearch
}

// MarkEventsBound sets the binding guard and reports whether it was unset.
func (q *GuildQueue) MarkEventsBound() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.eventsBound {
		return false
	}
	q.eventsBound = true
	return true
}

func (q *GuildQueue) ClearEventsBound() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.eventsBound = false
}

func (q *GuildQueue) EventsBound() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.eventsBound
}

func (q *GuildQueue) SetReplacing(on bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.replacing = on
}

func (q *GuildQueue) Replacing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.replacing
}

func (q *GuildQueue) IncrementLoopCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.loopCount++
	return q.loopCount
}

func (q *GuildQueue) ResetLoopCount() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.loopCount = 0
}

func (q *GuildQueue) LoopCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.loopCount
}

func (q *GuildQueue) TextChannel() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.textChannelID
}

func (q *GuildQueue) SetTextChannel(channelID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.textChannelID = channelID
}

func (q *GuildQueue) NowPlayingMessage() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.nowPlayingMessageID
}

// SwapNowPlayingMessage stores id and returns the previous message id.
func (q *GuildQueue) SwapNowPlayingMessage(id string) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	prev := q.nowPlayingMessageID
	q.nowPlayingMessageID = id
	return prev
}

// RequiredSkipVotes is ceil(listeners/2), at least one.
func RequiredSkipVotes(listeners int) int {
	return max(1, int(math.Ceil(float64(listeners)/2)))
}

// VoteSkip registers userID's vote, opening a session when none exists. It
// returns the current tally and whether the threshold has been reached; a
// reached vote is closed.
func (q *GuildQueue) VoteSkip(userID string, listeners int, now time.Time) (votes, required int, passed bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.skipVote == nil {
		q.skipVote = &SkipVote{
			Initiator: userID,
			Required:  RequiredSkipVotes(listeners),
			StartedAt: now,
			voters:    make(map[string]struct{}),
		}
	}
	vote := q.skipVote
	if _, ok := vote.voters[userID]; ok {
		return vote.Count(), vote.Required, false, ErrAlreadyVoted
	}
	vote.voters[userID] = struct{}{}

	if vote.Count() >= vote.Required {
		q.skipVote = nil
		return vote.Count(), vote.Required, true, nil
	}
	return vote.Count(), vote.Required, false, nil
}

func (q *GuildQueue) ResetSkipVote() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.skipVote = nil
}

func (q *GuildQueue) Snapshot() QueueSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	snap := QueueSnapshot{
		GuildID:            q.guildID,
		Tracks:             append([]Track(nil), q.tracks...),
		CurrentAutoplayed:  q.currentAutoplayed,
		LoopCount:          q.loopCount,
		LastAutoplaySearch: q.lastAutoplaySearch,
		Settings: QueueSettings{
			LoopMode: q.loopMode,
			Shuffle:  q.shuffled,
			Volume:   q.volume,
			Autoplay: q.autoplay,
		},
	}
	if q.current != nil {
		cur := *q.current
		snap.Current = &cur
	}
	if q.skipVote != nil {
		snap.SkipVotes = q.skipVote.Count()
		snap.SkipVotesRequired = q.skipVote.Required
	}
	snap.LastPlayed = q.lastPlayed.Snapshot()
	snap.RecentArtists = q.recentArtists.Recent(0)
	return snap
}

// QueueStore owns one GuildQueue per guild.
type QueueStore struct {
	mu       sync.RWMutex
	queues   map[string]*GuildQueue
	defaults QueueDefaults
}

func NewQueueStore(defaults QueueDefaults) *QueueStore {
	return &QueueStore{
		queues:   make(map[string]*GuildQueue),
		defaults: defaults,
	}
}

// GetOrCreate returns the guild's queue, creating it with the store defaults
// when missing. created reports whether a new queue was made.
func (s *QueueStore) GetOrCreate(guildID string) (q *GuildQueue, created bool) {
	s.mu.RLock()
	q, ok := s.queues[guildID]
	s.mu.RUnlock()
	if ok {
		return q, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.queues[guildID]; ok {
		return q, false
	}
	q = NewGuildQueue(guildID, s.defaults)
	s.queues[guildID] = q
	return q, true
}

func (s *QueueStore) Get(guildID string) (*GuildQueue, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.queues[guildID]
	return q, ok
}

func (s *QueueStore) Delete(guildID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queues[guildID]; !ok {
		return false
	}
	delete(s.queues, guildID)
	return true
}

func (s *QueueStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.queues)
}

func (s *QueueStore) GuildIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.queues))
	for id := range s.queues {
		ids = append(ids, id)
	}
	return ids
}
