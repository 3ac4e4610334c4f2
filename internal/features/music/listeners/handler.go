package listeners

import (
	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/hxnx/encore/internal/features/music/queueview"
	shared "github.com/hxnx/encore/internal/features/shared"
)

// QueuePager renders a page of a guild's queue.
type QueuePager interface {
	QueuePage(guildID string, page, perPage int) ([]discordgo.MessageComponent, bool)
}

func handleQueuePagination(s *discordgo.Session, i *discordgo.InteractionCreate, pager QueuePager, customID string) {
	if s == nil || i == nil {
		return
	}

	page, perPage, ok := queueview.ParseQueuePageCustomID(customID)
	if !ok {
		shared.RespondEphemeral(s, i, "유효하지 않은 페이지 요청입니다.")
		return
	}
	if i.GuildID == "" {
		shared.RespondEphemeral(s, i, "이 명령어는 서버에서만 사용할 수 있습니다.")
		return
	}

	components, ok := pager.QueuePage(i.GuildID, page, perPage)
	if !ok {
		shared.RespondEphemeral(s, i, "재생 중인 세션이 없습니다.")
		return
	}

	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Components: components,
			Flags:      discordgo.MessageFlagsIsComponentsV2,
		},
	}); err != nil {
		zap.L().Warn("queue page respond failed", zap.String("guild_id", i.GuildID), zap.Error(err))
	}
}
