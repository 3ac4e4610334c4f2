package features

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/hxnx/encore/internal/features/botinfo"
	musiccmd "github.com/hxnx/encore/internal/features/music/commands"
	musiclisteners "github.com/hxnx/encore/internal/features/music/listeners"
	shared "github.com/hxnx/encore/internal/features/shared"
)

const (
	musicCommandName = "노래"
	infoCommandName  = "정보"

	commandTimeout = 2 * time.Minute
)

var (
	minZero = 0.0
	minOne  = 1.0

	enabledOpt = &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionBoolean,
		Name:        musiccmd.OptEnabled,
		Description: "비워 두면 현재 상태를 반대로 바꿉니다",
	}
	queryOpt = &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        musiccmd.OptQuery,
		Description: "노래 제목 또는 YouTube/Spotify URL",
		Required:    true,
	}
)

func subcommand(name, description string, options ...*discordgo.ApplicationCommandOption) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionSubCommand,
		Name:        name,
		Description: description,
		Options:     options,
	}
}

func positionOpt(name, description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionInteger,
		Name:        name,
		Description: description,
		Required:    true,
		MinValue:    &minOne,
	}
}

var CommandList = []*discordgo.ApplicationCommand{
	{
		Name:        infoCommandName,
		Description: "봇 상태를 확인합니다",
	},
	{
		Name:        musicCommandName,
		Description: "노래 재생/관리 명령어",
		Options: []*discordgo.ApplicationCommandOption{
			subcommand(musiccmd.SubPlay, "노래를 검색해 대기열에 추가합니다", queryOpt),
			subcommand(musiccmd.SubPlayNext, "노래를 대기열 맨 앞에 추가합니다", queryOpt),
			subcommand(musiccmd.SubSkip, "현재 곡 스킵에 투표합니다"),
			subcommand(musiccmd.SubStop, "재생을 중지하고 대기열을 비웁니다"),
			subcommand(musiccmd.SubPause, "재생을 일시정지합니다"),
			subcommand(musiccmd.SubResume, "일시정지한 곡을 다시 재생합니다"),
			subcommand(musiccmd.SubSeek, "재생 위치를 이동합니다", &discordgo.ApplicationCommandOption{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        musiccmd.OptPosition,
				Description: "예: 90, 1:30, 1:02:03",
				Required:    true,
			}),
			subcommand(musiccmd.SubVolume, "볼륨을 설정합니다", &discordgo.ApplicationCommandOption{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        musiccmd.OptValue,
				Description: "0~1000 (기본 100)",
				Required:    true,
				MinValue:    &minZero,
				MaxValue:    1000,
			}),
			subcommand(musiccmd.SubLoop, "반복 모드를 꺼짐 → 곡 → 대기열 순서로 바꿉니다"),
			subcommand(musiccmd.SubShuffle, "셔플을 켜거나 끕니다", enabledOpt),
			subcommand(musiccmd.SubAutoplay, "대기열이 끝나면 비슷한 곡을 이어서 재생합니다", enabledOpt),
			subcommand(musiccmd.SubQueue, "현재 대기열을 표시합니다", &discordgo.ApplicationCommandOption{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        musiccmd.OptPage,
				Description: "페이지 번호",
				MinValue:    &minOne,
			}),
			subcommand(musiccmd.SubRemove, "대기열에서 곡을 삭제합니다", positionOpt(musiccmd.OptIndex, "대기열 번호")),
			subcommand(musiccmd.SubMove, "대기열에서 곡의 순서를 바꿉니다",
				positionOpt(musiccmd.OptFrom, "옮길 곡 번호"),
				positionOpt(musiccmd.OptTo, "새 위치"),
			),
			subcommand(musiccmd.SubClear, "현재 곡을 제외한 대기열을 비웁니다"),
			subcommand(musiccmd.SubNowPlaying, "현재 재생 중인 곡을 표시합니다"),
			subcommand(musiccmd.SubFavorite, "즐겨찾기를 관리합니다",
				&discordgo.ApplicationCommandOption{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        musiccmd.OptAction,
					Description: "추가/삭제/목록/재생",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "현재 곡 추가", Value: musiccmd.FavoriteAdd},
						{Name: "삭제", Value: musiccmd.FavoriteRemove},
						{Name: "목록", Value: musiccmd.FavoriteList},
						{Name: "모두 재생", Value: musiccmd.FavoritePlay},
					},
				},
				&discordgo.ApplicationCommandOption{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        musiccmd.OptIndex,
					Description: "삭제할 즐겨찾기 번호",
					MinValue:    &minOne,
				},
			),
			subcommand(musiccmd.SubLeave, "음성 채널에서 나갑니다"),
		},
	},
}

// Stats reports live playback figures for the info command.
type Stats func() botinfo.Stats

type Router struct {
	music  *musiccmd.Commands
	stats  Stats
	logger *zap.Logger
}

func NewRouter(music *musiccmd.Commands, stats Stats, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if stats == nil {
		stats = func() botinfo.Stats { return botinfo.Stats{} }
	}
	return &Router{music: music, stats: stats, logger: logger}
}

func RegisterCommands(s *discordgo.Session, appID string, guildID string, logger *zap.Logger) ([]*discordgo.ApplicationCommand, error) {
	scope := "global"
	if guildID != "" {
		scope = fmt.Sprintf("guild:%s", guildID)
	}

	logger.Info("registering commands", zap.Int("count", len(CommandList)), zap.String("scope", scope))

	cmds, err := s.ApplicationCommandBulkOverwrite(appID, guildID, CommandList)
	if err != nil {
		return nil, fmt.Errorf("cannot bulk overwrite commands: %w", err)
	}
	return cmds, nil
}

func (r *Router) AddHandlers(s *discordgo.Session) {
	s.AddHandler(r.handleInteraction)
}

func (r *Router) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		switch i.ApplicationCommandData().Name {
		case infoCommandName:
			botinfo.RespondBotInfo(s, i, r.stats())
		case musicCommandName:
			r.handleMusicGroupCommand(s, i)
		}
	case discordgo.InteractionMessageComponent:
		musiclisteners.RouteMusicComponent(s, i, r.music)
	}
}

func (r *Router) handleMusicGroupCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	sub := shared.GetSubcommandOption(i.ApplicationCommandData())
	if sub == nil {
		shared.RespondEphemeral(s, i, "사용할 명령을 선택해 주세요.")
		return
	}

	if err := shared.DeferEphemeral(s, i); err != nil {
		r.logger.Warn("failed to defer interaction", zap.String("command", sub.Name), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	reply := r.music.Handle(ctx, sub.Name, musiccmd.Request{
		GuildID:   i.GuildID,
		ChannelID: i.ChannelID,
		UserID:    shared.GetInteractionUserID(i),
		Options:   sub.Options,
	})

	components := reply.Components
	if len(components) == 0 {
		components = shared.NoticeComponents(reply.Content)
	}
	shared.Followup(s, i, components)
}
