// Package playback runs guild playback sessions: queue transitions driven by
// player events, voice connection watchdogs and the Orchestrator facade that
// command handlers call.
package playback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hxnx/encore/internal/events"
	"github.com/hxnx/encore/internal/music"
)

const (
	defaultReplaceWindow = 2 * time.Second
	backgroundTimeout    = 10 * time.Second
	expireTimeout        = 15 * time.Second
)

type Config struct {
	LockTimeout  time.Duration
	SettleDelay  time.Duration
	IdleTimeout  time.Duration
	PollInterval time.Duration
}

// Orchestrator is the single entry point for guild playback. It owns the
// queue store, the voice sessions and the transition locks of every guild.
type Orchestrator struct {
	queues *music.QueueStore
	voice  *ConnectionManager
	locks  *TransitionLocks
	coord  *Coordinator
	bus    *events.Bus

	engine    AutoplayEngine
	notifier  Notifier
	listeners ListenerCounter
	settings  *music.SettingsStore
	history   HistoryRecorder
	pool      Submitter
	logger    *zap.Logger

	cleanMu  sync.Mutex
	cleaning map[string]bool

	replaceWindow time.Duration
	now           func() time.Time
}

type Option func(*Orchestrator)

func WithBus(bus *events.Bus) Option {
	return func(o *Orchestrator) { o.bus = bus }
}

func WithAutoplay(engine AutoplayEngine) Option {
	return func(o *Orchestrator) { o.engine = engine }
}

func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

func WithListenerCounter(c ListenerCounter) Option {
	return func(o *Orchestrator) { o.listeners = c }
}

func WithSettings(s *music.SettingsStore) Option {
	return func(o *Orchestrator) { o.settings = s }
}

func WithHistory(h HistoryRecorder) Option {
	return func(o *Orchestrator) { o.history = h }
}

func WithPool(p Submitter) Option {
	return func(o *Orchestrator) { o.pool = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func NewOrchestrator(queues *music.QueueStore, connector Connector, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		queues:        queues,
		logger:        zap.NewNop(),
		cleaning:      make(map[string]bool),
		replaceWindow: defaultReplaceWindow,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.bus == nil {
		o.bus = events.NewBus(o.logger)
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}

	o.locks = NewTransitionLocks(cfg.LockTimeout)
	o.voice = NewConnectionManager(connector, o.listeners, cfg.IdleTimeout, cfg.PollInterval, o.logger)
	o.coord = NewCoordinator(queues, o.locks, o, o.voice, o.bus, cfg.SettleDelay, o.logger)
	o.logger = o.logger.Named("playback")

	o.voice.OnExpire(func(guildID string, reason CleanupReason) {
		ctx, cancel := context.WithTimeout(context.Background(), expireTimeout)
		defer cancel()
		o.Cleanup(ctx, guildID, reason)
	})
	return o
}

func (o *Orchestrator) Bus() *events.Bus {
	return o.bus
}

func (o *Orchestrator) Voice() *ConnectionManager {
	return o.voice
}

// Sessions is the number of guilds with live queue state.
func (o *Orchestrator) Sessions() int {
	return o.queues.Len()
}

// QueuedTracks counts pending tracks across every session.
func (o *Orchestrator) QueuedTracks() int {
	total := 0
	for _, id := range o.queues.GuildIDs() {
		if q, ok := o.queues.Get(id); ok {
			total += q.Len()
		}
	}
	return total
}

// Signal feeds a lifecycle event that did not come from a player, such as a
// forced voice disconnect.
func (o *Orchestrator) Signal(ev PlayerEvent) {
	o.coord.Dispatch(ev)
}

func (o *Orchestrator) getOrCreate(ctx context.Context, guildID string) *music.GuildQueue {
	q, created := o.queues.GetOrCreate(guildID)
	if !created {
		return q
	}
	o.bindGuildListeners(guildID)
	if !o.settings.Enabled() {
		return q
	}
	saved, found, err := o.settings.Get(ctx, guildID)
	if err != nil {
		o.logger.Warn("failed to load guild settings", zap.String("guild_id", guildID), zap.Error(err))
		return q
	}
	if found {
		q.ApplySettings(saved)
	}
	return q
}

func (o *Orchestrator) session(guildID string) (*music.GuildQueue, Player, error) {
	q, ok := o.queues.Get(guildID)
	if !ok {
		return nil, nil, ErrNoPlayer
	}
	player, ok := o.voice.Player(guildID)
	if !ok {
		return q, nil, ErrNoPlayer
	}
	return q, player, nil
}

func (o *Orchestrator) queue(guildID string) (*music.GuildQueue, error) {
	q, ok := o.queues.Get(guildID)
	if !ok {
		return nil, ErrNoPlayer
	}
	return q, nil
}

// Connect joins the voice channel, binds the player's events once and
// starts the listener monitor. Calling it again for a connected guild only
// updates the text channel.
func (o *Orchestrator) Connect(ctx context.Context, guildID, voiceChannelID, textChannelID string) error {
	q := o.getOrCreate(ctx, guildID)
	if textChannelID != "" {
		q.SetTextChannel(textChannelID)
	}

	player, err := o.voice.Connect(ctx, guildID, voiceChannelID)
	if err != nil {
		return err
	}

	if q.MarkEventsBound() {
		if !o.voice.Bind(guildID, o.coord.Dispatch) {
			q.ClearEventsBound()
		}
	}
	if err := player.SetVolume(ctx, q.Volume()); err != nil {
		o.logger.Debug("failed to apply volume", zap.String("guild_id", guildID), zap.Error(err))
	}
	o.voice.StartMonitor(guildID)
	return nil
}

type Enqueued struct {
	Position int
	Started  bool
}

func (o *Orchestrator) Enqueue(ctx context.Context, guildID string, track music.Track) (Enqueued, error) {
	return o.enqueue(ctx, guildID, []music.Track{track}, false)
}

func (o *Orchestrator) EnqueueFront(ctx context.Context, guildID string, track music.Track) (Enqueued, error) {
	return o.enqueue(ctx, guildID, []music.Track{track}, true)
}

// EnqueueMany appends tracks as one batch; a batch that does not fit is
// rejected whole.
func (o *Orchestrator) EnqueueMany(ctx context.Context, guildID string, tracks []music.Track) (Enqueued, error) {
	return o.enqueue(ctx, guildID, tracks, false)
}

func (o *Orchestrator) enqueue(ctx context.Context, guildID string, tracks []music.Track, front bool) (Enqueued, error) {
	for _, t := range tracks {
		if !t.Playable() {
			return Enqueued{}, fmt.Errorf("%w: %s", music.ErrInvalidTrack, t.Info.Title)
		}
	}
	q, _, err := o.session(guildID)
	if err != nil {
		return Enqueued{}, err
	}

	var n int
	switch {
	case front && len(tracks) == 1:
		n, err = q.AddTrackToFront(tracks[0])
	default:
		n, err = q.AddTracks(tracks)
	}
	if err != nil {
		return Enqueued{}, err
	}
	o.publishQueueUpdated(guildID, n)

	pos := n
	if front {
		pos = 1
	}
	return Enqueued{Position: pos, Started: o.startIfIdle(ctx, guildID)}, nil
}

// startIfIdle begins playback when nothing is current. It backs off when a
// transition is already running, since that transition will pick the new
// tracks up.
func (o *Orchestrator) startIfIdle(ctx context.Context, guildID string) bool {
	release, err := o.locks.TryAcquire(guildID)
	if err != nil {
		return false
	}
	defer release()

	q, ok := o.queues.Get(guildID)
	if !ok {
		return false
	}
	if _, playing := q.Current(); playing {
		return false
	}
	res, err := o.advance(ctx, guildID, false)
	if err != nil {
		o.logger.Warn("failed to start playback", zap.String("guild_id", guildID), zap.Error(err))
		return false
	}
	return !res.Finished
}

// PlayNext advances the queue as if the current track had finished.
func (o *Orchestrator) PlayNext(ctx context.Context, guildID string) (Advance, error) {
	gen := o.locks.Generation(guildID)
	release, err := o.locks.Acquire(ctx, guildID)
	if err != nil {
		return Advance{}, err
	}
	defer release()
	if o.locks.Generation(guildID) != gen {
		return o.current(guildID), nil
	}
	return o.advance(ctx, guildID, false)
}

// Skip moves past the current track, ignoring track loop. A skip that
// waited behind another transition reports that transition's track instead
// of skipping it too.
func (o *Orchestrator) Skip(ctx context.Context, guildID string) (Advance, error) {
	gen := o.locks.Generation(guildID)
	release, err := o.locks.Acquire(ctx, guildID)
	if err != nil {
		return Advance{}, err
	}
	defer release()
	if o.locks.Generation(guildID) != gen {
		return o.current(guildID), nil
	}

	q, _, err := o.session(guildID)
	if err != nil {
		return Advance{}, err
	}
	if _, ok := q.Current(); !ok {
		return Advance{}, ErrNothingPlaying
	}
	q.ResetSkipVote()
	return o.advance(ctx, guildID, true)
}

// Advance implements Driver for the coordinator, which already holds the
// guild's transition lock.
func (o *Orchestrator) Advance(ctx context.Context, guildID string, skip bool) (Advance, error) {
	return o.advance(ctx, guildID, skip)
}

func (o *Orchestrator) current(guildID string) Advance {
	q, ok := o.queues.Get(guildID)
	if !ok {
		return Advance{Finished: true}
	}
	cur, playing := q.Current()
	if !playing {
		return Advance{Finished: true}
	}
	return Advance{Track: cur, Autoplayed: q.CurrentAutoplayed()}
}

// advance must run under the guild's transition lock. Every outcome that
// changes the playing track is recorded with Advanced.
func (o *Orchestrator) advance(ctx context.Context, guildID string, skip bool) (Advance, error) {
	q, player, err := o.session(guildID)
	if err != nil {
		return Advance{}, err
	}
	log := o.logger.With(zap.String("guild_id", guildID))

	cur, hasCur := q.Current()
	mode := q.LoopMode()

	if hasCur && !skip && mode == music.LoopModeTrack {
		if err := player.Play(ctx, cur); err != nil {
			return Advance{}, fmt.Errorf("replay track: %w", err)
		}
		o.locks.Advanced(guildID)
		return Advance{Track: cur, Looped: true}, nil
	}

	if hasCur && mode == music.LoopModeQueue && !q.CurrentAutoplayed() {
		if _, err := q.AddTrack(cur); err != nil {
			log.Debug("queue loop re-append skipped", zap.Error(err))
		}
	}

	next, ok := q.NextTrack()
	autoplayed := false
	if !ok && hasCur && q.Autoplay() && o.engine != nil {
		next, ok = o.engine.FindSimilarTrack(ctx, guildID, q, cur)
		autoplayed = ok
	}

	if !ok {
		o.finish(ctx, guildID, q, player, cur, skip)
		o.locks.Advanced(guildID)
		return Advance{Finished: true}, nil
	}

	if !next.Playable() {
		log.Warn("dropping unplayable track", zap.String("title", next.Info.Title))
		o.bus.Publish(events.Event{
			Type:    events.PlaybackError,
			GuildID: guildID,
			Payload: events.Payload{"track": next, "error": music.ErrInvalidTrack.Error()},
		})
		return Advance{}, fmt.Errorf("%w: %s", music.ErrInvalidTrack, next.Info.Title)
	}

	q.SetCurrent(next, autoplayed)
	q.ResetLoopCount()
	if err := player.Play(ctx, next); err != nil {
		q.ClearCurrent()
		o.bus.Publish(events.Event{
			Type:    events.PlaybackError,
			GuildID: guildID,
			Payload: events.Payload{"track": next, "error": err.Error()},
		})
		return Advance{}, fmt.Errorf("play track: %w", err)
	}
	o.locks.Advanced(guildID)

	if autoplayed {
		log.Info("autoplay queued track", zap.String("title", next.Info.Title), zap.String("author", next.Info.Author))
		o.bus.Publish(events.Event{
			Type:    events.AutoplayPicked,
			GuildID: guildID,
			Payload: events.Payload{"track": next, "seed": cur},
		})
	}
	o.publishQueueUpdated(guildID, q.Len())
	return Advance{Track: next, Autoplayed: autoplayed}, nil
}

// finish ends the session's playback: nothing is current, the idle timer
// runs and listeners learn that the queue is done.
func (o *Orchestrator) finish(ctx context.Context, guildID string, q *music.GuildQueue, player Player, last music.Track, stop bool) {
	q.ClearCurrent()
	q.ResetLoopCount()
	if stop {
		if err := player.Stop(ctx); err != nil {
			o.logger.Debug("failed to stop player", zap.String("guild_id", guildID), zap.Error(err))
		}
	}
	o.voice.StartIdleTimer(guildID)

	o.bus.Publish(events.Event{
		Type:    events.QueueFinished,
		GuildID: guildID,
		Payload: events.Payload{"last": last},
	})
	o.notify(ctx, q, Notice{Kind: NoticeQueueFinished, Track: last})
}

// TrackStarted implements Driver: it publishes the start and announces the
// track. Guild listeners record it in the requester's history.
func (o *Orchestrator) TrackStarted(ctx context.Context, guildID string, track music.Track) {
	q, ok := o.queues.Get(guildID)
	if !ok {
		return
	}
	autoplayed := q.CurrentAutoplayed()

	o.bus.Publish(events.Event{
		Type:    events.TrackStarted,
		GuildID: guildID,
		Payload: events.Payload{"track": track, "autoplayed": autoplayed},
	})

	if id := o.notify(ctx, q, Notice{
		Kind:       NoticeNowPlaying,
		Track:      track,
		Autoplayed: autoplayed,
		LoopCount:  q.LoopCount(),
		QueueLen:   q.Len(),
	}); id != "" {
		if prev := q.SwapNowPlayingMessage(id); prev != "" && prev != id {
			if err := o.notifier.Delete(ctx, q.TextChannel(), prev); err != nil {
				o.logger.Debug("failed to delete previous now playing message", zap.String("guild_id", guildID), zap.Error(err))
			}
		}
	}

}

// bindGuildListeners subscribes the session's own listeners. Cleanup drops
// them with the rest of the guild's subscriptions.
func (o *Orchestrator) bindGuildListeners(guildID string) {
	if o.history == nil {
		return
	}
	o.bus.SubscribeGuild(guildID, events.TrackStarted, func(ev events.Event) {
		track, ok := ev.Payload["track"].(music.Track)
		if !ok || track.RequestedBy == "" {
			return
		}
		o.background(func(ctx context.Context) {
			if err := o.history.RecordPlay(ctx, guildID, track.RequestedBy, track); err != nil {
				o.logger.Warn("failed to record play", zap.String("guild_id", guildID), zap.Error(err))
			}
		})
	})
}

func (o *Orchestrator) notify(ctx context.Context, q *music.GuildQueue, n Notice) string {
	channelID := q.TextChannel()
	if o.notifier == nil || channelID == "" {
		return ""
	}
	id, err := o.notifier.Send(ctx, channelID, n)
	if err != nil {
		o.logger.Warn("failed to send notice",
			zap.String("guild_id", q.GuildID()),
			zap.String("kind", string(n.Kind)),
			zap.Error(err))
		return ""
	}
	return id
}

type VoteResult struct {
	Votes    int
	Required int
	Passed   bool
}

// VoteSkip counts userID's vote; once half the listeners agreed the track
// is skipped.
func (o *Orchestrator) VoteSkip(ctx context.Context, guildID, userID string) (VoteResult, error) {
	q, _, err := o.session(guildID)
	if err != nil {
		return VoteResult{}, err
	}
	if _, ok := q.Current(); !ok {
		return VoteResult{}, ErrNothingPlaying
	}

	listeners := 1
	if o.listeners != nil {
		if n, err := o.listeners.CountListeners(guildID); err == nil && n > 0 {
			listeners = n
		}
	}

	votes, required, passed, err := q.VoteSkip(userID, listeners, o.now())
	res := VoteResult{Votes: votes, Required: required, Passed: passed}
	if err != nil || !passed {
		return res, err
	}
	if _, err := o.Skip(ctx, guildID); err != nil {
		return res, err
	}
	return res, nil
}

// Stop clears the queue and the current track and starts the idle timer.
func (o *Orchestrator) Stop(ctx context.Context, guildID string) error {
	release, err := o.locks.Acquire(ctx, guildID)
	if err != nil {
		return err
	}
	defer release()

	q, player, err := o.session(guildID)
	if err != nil {
		return err
	}
	q.Clear()
	q.ClearCurrent()
	q.ResetLoopCount()
	o.locks.Advanced(guildID)
	if err := player.Stop(ctx); err != nil {
		return fmt.Errorf("stop player: %w", err)
	}
	o.voice.StartIdleTimer(guildID)
	o.publishQueueUpdated(guildID, 0)
	return nil
}

func (o *Orchestrator) Pause(ctx context.Context, guildID string) error {
	return o.setPaused(ctx, guildID, true)
}

func (o *Orchestrator) Resume(ctx context.Context, guildID string) error {
	return o.setPaused(ctx, guildID, false)
}

func (o *Orchestrator) setPaused(ctx context.Context, guildID string, paused bool) error {
	q, player, err := o.session(guildID)
	if err != nil {
		return err
	}
	if _, ok := q.Current(); !ok {
		return ErrNothingPlaying
	}
	return player.SetPaused(ctx, paused)
}

func (o *Orchestrator) Seek(ctx context.Context, guildID string, position time.Duration) error {
	q, player, err := o.session(guildID)
	if err != nil {
		return err
	}
	cur, ok := q.Current()
	if !ok {
		return ErrNothingPlaying
	}
	if cur.Info.IsStream {
		return ErrNotSeekable
	}
	if position < 0 {
		position = 0
	}
	if cur.Info.Duration > 0 && position >= cur.Info.Duration {
		return fmt.Errorf("%w: position %s beyond length %s", ErrNotSeekable, position, cur.Info.Duration)
	}
	return player.Seek(ctx, position)
}

// SetVolume clamps v, applies it to the player when one is connected and
// returns the value actually set.
func (o *Orchestrator) SetVolume(ctx context.Context, guildID string, v int) (int, error) {
	q, err := o.queue(guildID)
	if err != nil {
		return 0, err
	}
	applied := q.SetVolume(v)
	if player, ok := o.voice.Player(guildID); ok {
		if err := player.SetVolume(ctx, applied); err != nil {
			return applied, fmt.Errorf("apply volume: %w", err)
		}
	}
	o.persistSettings(q)
	return applied, nil
}

func (o *Orchestrator) CycleLoop(_ context.Context, guildID string) (music.LoopMode, error) {
	q, err := o.queue(guildID)
	if err != nil {
		return music.LoopModeOff, err
	}
	mode := q.CycleLoopMode()
	o.persistSettings(q)
	return mode, nil
}

func (o *Orchestrator) SetShuffle(_ context.Context, guildID string, on bool) error {
	q, err := o.queue(guildID)
	if err != nil {
		return err
	}
	q.SetShuffle(on)
	o.persistSettings(q)
	return nil
}

// SetAutoplay toggles autoplay; turning it on switches loop off.
func (o *Orchestrator) SetAutoplay(_ context.Context, guildID string, on bool) error {
	q, err := o.queue(guildID)
	if err != nil {
		return err
	}
	q.SetAutoplay(on)
	o.persistSettings(q)
	return nil
}

func (o *Orchestrator) Remove(_ context.Context, guildID string, index int) (music.Track, error) {
	q, err := o.queue(guildID)
	if err != nil {
		return music.Track{}, err
	}
	t, ok := q.RemoveTrack(index)
	if !ok {
		return music.Track{}, ErrIndexRange
	}
	o.publishQueueUpdated(guildID, q.Len())
	return t, nil
}

func (o *Orchestrator) Move(_ context.Context, guildID string, from, to int) error {
	q, err := o.queue(guildID)
	if err != nil {
		return err
	}
	if !q.MoveTrack(from, to) {
		return ErrIndexRange
	}
	o.publishQueueUpdated(guildID, q.Len())
	return nil
}

func (o *Orchestrator) ClearQueue(_ context.Context, guildID string) (int, error) {
	q, err := o.queue(guildID)
	if err != nil {
		return 0, err
	}
	n := q.Clear()
	o.publishQueueUpdated(guildID, 0)
	return n, nil
}

// Replace swaps the current track for track without touching the queue.
// Exceptions reported while the old track is torn down are suppressed for a
// short window.
func (o *Orchestrator) Replace(ctx context.Context, guildID string, track music.Track) error {
	if !track.Playable() {
		return fmt.Errorf("%w: %s", music.ErrInvalidTrack, track.Info.Title)
	}
	release, err := o.locks.Acquire(ctx, guildID)
	if err != nil {
		return err
	}
	defer release()

	q, player, err := o.session(guildID)
	if err != nil {
		return err
	}

	q.SetReplacing(true)
	time.AfterFunc(o.replaceWindow, func() { q.SetReplacing(false) })

	q.SetCurrent(track, false)
	if err := player.Play(ctx, track); err != nil {
		q.ClearCurrent()
		return fmt.Errorf("replace track: %w", err)
	}
	o.locks.Advanced(guildID)
	return nil
}

type NowPlaying struct {
	Track      music.Track
	Position   time.Duration
	Autoplayed bool
	LoopCount  int
}

func (o *Orchestrator) NowPlaying(guildID string) (NowPlaying, bool) {
	q, player, err := o.session(guildID)
	if err != nil {
		return NowPlaying{}, false
	}
	cur, ok := q.Current()
	if !ok {
		return NowPlaying{}, false
	}
	return NowPlaying{
		Track:      cur,
		Position:   player.Position(),
		Autoplayed: q.CurrentAutoplayed(),
		LoopCount:  q.LoopCount(),
	}, true
}

func (o *Orchestrator) Snapshot(guildID string) (music.QueueSnapshot, bool) {
	q, ok := o.queues.Get(guildID)
	if !ok {
		return music.QueueSnapshot{}, false
	}
	return q.Snapshot(), true
}

func (o *Orchestrator) publishQueueUpdated(guildID string, length int) {
	o.bus.Publish(events.Event{
		Type:    events.QueueUpdated,
		GuildID: guildID,
		Payload: events.Payload{"length": length},
	})
}

func (o *Orchestrator) persistSettings(q *music.GuildQueue) {
	if !o.settings.Enabled() {
		return
	}
	guildID, settings := q.GuildID(), q.Settings()
	o.background(func(ctx context.Context) {
		if err := o.settings.Set(ctx, guildID, settings); err != nil {
			o.logger.Warn("failed to save guild settings", zap.String("guild_id", guildID), zap.Error(err))
		}
	})
}

func (o *Orchestrator) background(task func(ctx context.Context)) {
	if o.pool != nil {
		if err := o.pool.Submit(task); err != nil {
			o.logger.Debug("background task dropped", zap.Error(err))
		}
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()
		task(ctx)
	}()
}
