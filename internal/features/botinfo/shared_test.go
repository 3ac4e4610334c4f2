package botinfo

import (
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
)

func TestBuildBotInfoComponents(t *testing.T) {
	s := &discordgo.Session{State: discordgo.NewState(), ShardID: 1, ShardCount: 4}

	components := BuildBotInfoComponents(s, Stats{ActiveSessions: 3, QueuedTracks: 12})
	container := components[0].(discordgo.Container)

	var lines []string
	for _, c := range container.Components {
		if td, ok := c.(discordgo.TextDisplay); ok {
			lines = append(lines, td.Content)
		}
	}
	assert.Contains(t, lines, "**서버 수:** 0 • **샤드:** #2 / 4")
	assert.Contains(t, lines, "**재생 중인 서버:** 3곳 • **대기 중인 곡:** 12곡")
}
