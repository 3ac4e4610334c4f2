package commands

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/hxnx/encore/internal/database"
	"github.com/hxnx/encore/internal/discord"
	"github.com/hxnx/encore/internal/music"
	"github.com/hxnx/encore/internal/playback"
)

// Subcommand names of the 노래 command group.
const (
	SubPlay       = "재생"
	SubPlayNext   = "다음재생"
	SubSkip       = "스킵"
	SubStop       = "정지"
	SubPause      = "일시정지"
	SubResume     = "재개"
	SubSeek       = "탐색"
	SubVolume     = "볼륨"
	SubLoop       = "반복"
	SubShuffle    = "셔플"
	SubAutoplay   = "자동재생"
	SubQueue      = "대기열"
	SubRemove     = "삭제"
	SubMove       = "이동"
	SubClear      = "비우기"
	SubNowPlaying = "현재곡"
	SubFavorite   = "즐겨찾기"
	SubLeave      = "나가기"
)

// Option names shared by the subcommands.
const (
	OptQuery    = "검색어"
	OptPosition = "위치"
	OptValue    = "값"
	OptEnabled  = "켜기"
	OptPage     = "페이지"
	OptIndex    = "번호"
	OptFrom     = "from"
	OptTo       = "to"
	OptAction   = "동작"
)

// Playback is the part of the orchestrator the commands drive.
type Playback interface {
	Connect(ctx context.Context, guildID, voiceChannelID, textChannelID string) error
	Enqueue(ctx context.Context, guildID string, track music.Track) (playback.Enqueued, error)
	EnqueueFront(ctx context.Context, guildID string, track music.Track) (playback.Enqueued, error)
	EnqueueMany(ctx context.Context, guildID string, tracks []music.Track) (playback.Enqueued, error)
	VoteSkip(ctx context.Context, guildID, userID string) (playback.VoteResult, error)
	Stop(ctx context.Context, guildID string) error
	Pause(ctx context.Context, guildID string) error
	Resume(ctx context.Context, guildID string) error
	Seek(ctx context.Context, guildID string, position time.Duration) error
	SetVolume(ctx context.Context, guildID string, v int) (int, error)
	CycleLoop(ctx context.Context, guildID string) (music.LoopMode, error)
	SetShuffle(ctx context.Context, guildID string, on bool) error
	SetAutoplay(ctx context.Context, guildID string, on bool) error
	Remove(ctx context.Context, guildID string, index int) (music.Track, error)
	Move(ctx context.Context, guildID string, from, to int) error
	ClearQueue(ctx context.Context, guildID string) (int, error)
	NowPlaying(guildID string) (playback.NowPlaying, bool)
	Snapshot(guildID string) (music.QueueSnapshot, bool)
	Cleanup(ctx context.Context, guildID string, reason playback.CleanupReason) bool
}

type Resolver interface {
	ResolveInput(ctx context.Context, input string, requestedBy string) (music.Track, error)
}

type Favorites interface {
	AddFavorite(ctx context.Context, userID string, track music.Track) error
	RemoveFavorite(ctx context.Context, userID, uri string) (bool, error)
	Favorites(ctx context.Context, userID string) ([]database.Favorite, error)
}

// VoiceLocator finds the voice channel a user currently sits in.
type VoiceLocator func(guildID, userID string) (string, error)

type Request struct {
	GuildID   string
	ChannelID string
	UserID    string
	Options   []*discordgo.ApplicationCommandInteractionDataOption
}

// Reply is rendered as a notice when Components is empty.
type Reply struct {
	Content    string
	Components []discordgo.MessageComponent
}

func text(format string) Reply {
	return Reply{Content: format}
}

type Commands struct {
	playback  Playback
	resolver  Resolver
	favorites Favorites
	locate    VoiceLocator
	logger    *zap.Logger
}

// New wires the commands. favorites may be nil when no database is
// configured.
func New(pb Playback, resolver Resolver, favorites Favorites, locate VoiceLocator, logger *zap.Logger) *Commands {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Commands{
		playback:  pb,
		resolver:  resolver,
		favorites: favorites,
		locate:    locate,
		logger:    logger,
	}
}

// Handle runs one subcommand of the 노래 group.
func (c *Commands) Handle(ctx context.Context, sub string, req Request) Reply {
	if req.GuildID == "" {
		return text("이 명령어는 서버에서만 사용할 수 있습니다.")
	}
	if req.UserID == "" {
		return text("사용자 정보를 확인할 수 없습니다.")
	}

	switch sub {
	case SubPlay:
		return c.play(ctx, req, false)
	case SubPlayNext:
		return c.play(ctx, req, true)
	case SubSkip:
		return c.skip(ctx, req)
	case SubStop:
		return c.stop(ctx, req)
	case SubPause:
		return c.pause(ctx, req, true)
	case SubResume:
		return c.pause(ctx, req, false)
	case SubSeek:
		return c.seek(ctx, req)
	case SubVolume:
		return c.volume(ctx, req)
	case SubLoop:
		return c.loop(ctx, req)
	case SubShuffle:
		return c.shuffle(ctx, req)
	case SubAutoplay:
		return c.autoplay(ctx, req)
	case SubQueue:
		return c.queue(req)
	case SubRemove:
		return c.remove(ctx, req)
	case SubMove:
		return c.move(ctx, req)
	case SubClear:
		return c.clear(ctx, req)
	case SubNowPlaying:
		return c.nowPlaying(req)
	case SubFavorite:
		return c.favorite(ctx, req)
	case SubLeave:
		return c.leave(ctx, req)
	default:
		return text("지원하지 않는 노래 명령입니다.")
	}
}

var errorMessages = []struct {
	err error
	msg string
}{
	{discord.ErrNoVoiceChannel, "먼저 음성 채널에 들어가 주세요."},
	{playback.ErrNothingPlaying, "재생 중인 곡이 없습니다."},
	{playback.ErrNoPlayer, "봇이 음성 채널에 연결되어 있지 않습니다."},
	{playback.ErrNotConnected, "봇이 음성 채널에 연결되어 있지 않습니다."},
	{playback.ErrNotSeekable, "이 곡은 해당 위치로 이동할 수 없습니다."},
	{playback.ErrIndexRange, "대기열 번호가 올바르지 않습니다."},
	{playback.ErrLockBusy, "곡을 전환하는 중입니다. 잠시 후 다시 시도해 주세요."},
	{music.ErrQueueFull, "대기열이 가득 찼습니다."},
	{music.ErrInvalidTrack, "재생할 수 없는 곡입니다."},
	{music.ErrAlreadyVoted, "이미 스킵에 투표했습니다."},
	{music.ErrMissingInput, "검색어를 입력해 주세요."},
	{music.ErrSpotifyClientNil, "Spotify 링크를 사용하려면 SPOTIFY_CLIENT_ID/SECRET 설정이 필요합니다."},
	{music.ErrSpotifyResolveFailed, "Spotify 곡 정보를 가져오지 못했습니다."},
	{music.ErrResolveFailed, "곡 정보를 가져오지 못했습니다."},
	{context.DeadlineExceeded, "요청 시간이 초과되었습니다."},
}

func (c *Commands) fail(op string, err error) Reply {
	for _, m := range errorMessages {
		if errors.Is(err, m.err) {
			return text(m.msg)
		}
	}
	c.logger.Warn("music command failed", zap.String("command", op), zap.Error(err))
	return text("요청을 처리하지 못했습니다.")
}
