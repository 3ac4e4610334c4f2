package playback

import (
	"context"
	"errors"
	"time"

	"github.com/hxnx/encore/internal/autoplay"
	"github.com/hxnx/encore/internal/music"
)

var (
	ErrNoPlayer       = errors.New("no active player for guild")
	ErrNotConnected   = errors.New("not connected to a voice channel")
	ErrNothingPlaying = errors.New("nothing is playing")
	ErrNotSeekable    = errors.New("track cannot be seeked")
	ErrIndexRange     = errors.New("queue index out of range")
)

type EventKind string

const (
	EventStart     EventKind = "start"
	EventEnd       EventKind = "end"
	EventException EventKind = "exception"
	EventStuck     EventKind = "stuck"
	EventClosed    EventKind = "closed"
)

type EndReason string

const (
	EndFinished   EndReason = "finished"
	EndLoadFailed EndReason = "load_failed"
	EndStopped    EndReason = "stopped"
	EndReplaced   EndReason = "replaced"
	EndCleanup    EndReason = "cleanup"
)

// MayStartNext mirrors the audio node convention: only natural ends and
// load failures should advance the queue.
func (r EndReason) MayStartNext() bool {
	return r == EndFinished || r == EndLoadFailed
}

// PlayerEvent is a lifecycle signal emitted by a Player.
type PlayerEvent struct {
	Kind    EventKind
	GuildID string
	Track   music.Track
	Reason  EndReason
	Err     error
	// Threshold is how long the player waited before reporting stuck.
	Threshold time.Duration
}

// Player drives audio for one guild. Implementations emit PlayerEvents to
// the handler registered with Events; Play on a busy player replaces the
// current track and reports its end with EndReplaced.
type Player interface {
	Play(ctx context.Context, track music.Track) error
	Stop(ctx context.Context) error
	SetPaused(ctx context.Context, paused bool) error
	SetVolume(ctx context.Context, volume int) error
	Seek(ctx context.Context, position time.Duration) error
	Position() time.Duration
	Events(handler func(PlayerEvent)) (unbind func())
	Disconnect(ctx context.Context) error
}

// Connector joins a voice channel and hands back its player.
type Connector interface {
	Join(ctx context.Context, guildID, channelID string) (Player, error)
}

// ListenerCounter counts the human, non-deafened members in the bot's voice
// channel for a guild.
type ListenerCounter interface {
	CountListeners(guildID string) (int, error)
}

type NoticeKind string

const (
	NoticeNowPlaying    NoticeKind = "now_playing"
	NoticeQueueFinished NoticeKind = "queue_finished"
)

type Notice struct {
	Kind       NoticeKind
	Track      music.Track
	Autoplayed bool
	LoopCount  int
	QueueLen   int
}

// Notifier posts notices to a guild's text channel. Failures are logged by
// the caller and never interrupt playback.
type Notifier interface {
	Send(ctx context.Context, channelID string, n Notice) (messageID string, err error)
	Delete(ctx context.Context, channelID, messageID string) error
}

// AutoplayEngine picks a follow-up track when the queue runs dry.
type AutoplayEngine interface {
	FindSimilarTrack(ctx context.Context, guildID string, h autoplay.History, current music.Track) (music.Track, bool)
}

// HistoryRecorder stores started tracks for later preference lookups.
type HistoryRecorder interface {
	RecordPlay(ctx context.Context, guildID, userID string, track music.Track) error
}

// Submitter runs best-effort background work.
type Submitter interface {
	Submit(task func(ctx context.Context)) error
}
