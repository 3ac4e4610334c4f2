package botinfo

import (
	"fmt"
	"runtime"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

var botStartedAt = time.Now()

// Stats carries the playback figures shown next to the gateway numbers.
type Stats struct {
	ActiveSessions int
	QueuedTracks   int
}

func BuildBotInfoComponents(s *discordgo.Session, stats Stats) []discordgo.MessageComponent {
	latency := s.HeartbeatLatency().Round(time.Millisecond)

	guilds := 0
	if s.State != nil {
		guilds = len(s.State.Guilds)
	}

	shards := s.ShardCount
	if shards == 0 {
		shards = 1
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	uptime := time.Since(botStartedAt).Round(time.Second)

	colorLilac := 0xC8A2C8
	divider := true
	spacing := discordgo.SeparatorSpacingSizeSmall

	return []discordgo.MessageComponent{
		discordgo.Container{
			AccentColor: &colorLilac,
			Components: []discordgo.MessageComponent{
				discordgo.TextDisplay{Content: "**Encore 정보**"},
				discordgo.Separator{Divider: &divider, Spacing: &spacing},
				discordgo.TextDisplay{Content: fmt.Sprintf("**게이트웨이 지연:** %s", latency)},
				discordgo.TextDisplay{Content: fmt.Sprintf("**서버 수:** %d • **샤드:** #%d / %d", guilds, s.ShardID+1, shards)},
				discordgo.TextDisplay{Content: fmt.Sprintf("**재생 중인 서버:** %d곳 • **대기 중인 곡:** %d곡", stats.ActiveSessions, stats.QueuedTracks)},
				discordgo.TextDisplay{Content: fmt.Sprintf("**업타임:** %s", uptime)},
				discordgo.TextDisplay{Content: fmt.Sprintf("**메모리 사용량:** %.2f MB", float64(mem.Alloc)/1024.0/1024.0)},
				discordgo.TextDisplay{Content: fmt.Sprintf("갱신됨 <t:%d:R>", time.Now().Unix())},
			},
		},
	}
}

func RespondBotInfo(s *discordgo.Session, i *discordgo.InteractionCreate, stats Stats) {
	if s == nil || i == nil {
		return
	}

	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Components: BuildBotInfoComponents(s, stats),
			Flags:      discordgo.MessageFlagsIsComponentsV2 | discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		zap.L().Warn("failed to respond to bot info", zap.Error(err))
	}
}
