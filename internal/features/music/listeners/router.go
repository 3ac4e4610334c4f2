package listeners

import (
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/hxnx/encore/internal/features/music/queueview"
)

// RouteMusicComponent handles music button presses and reports whether the
// interaction was one of them.
func RouteMusicComponent(s *discordgo.Session, i *discordgo.InteractionCreate, pager QueuePager) bool {
	if i.Type != discordgo.InteractionMessageComponent {
		return false
	}

	customID := i.MessageComponentData().CustomID
	if !strings.HasPrefix(customID, queueview.CustomIDPrefix+":") {
		return false
	}

	handleQueuePagination(s, i, pager, customID)
	return true
}
