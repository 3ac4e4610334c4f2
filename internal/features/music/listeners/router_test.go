package listeners

import (
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
)

type nopPager struct{}

func (nopPager) QueuePage(string, int, int) ([]discordgo.MessageComponent, bool) { return nil, false }

func TestRouteMusicComponentIgnoresOtherInteractions(t *testing.T) {
	cmd := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{Type: discordgo.InteractionApplicationCommand}}
	assert.False(t, RouteMusicComponent(nil, cmd, nopPager{}))

	other := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type: discordgo.InteractionMessageComponent,
		Data: discordgo.MessageComponentInteractionData{CustomID: "dashboard_pause"},
	}}
	assert.False(t, RouteMusicComponent(nil, other, nopPager{}))
}

func TestRouteMusicComponentClaimsQueuePages(t *testing.T) {
	page := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type: discordgo.InteractionMessageComponent,
		Data: discordgo.MessageComponentInteractionData{CustomID: "music_queue_page:2:10"},
	}}
	assert.True(t, RouteMusicComponent(nil, page, nopPager{}))
}
