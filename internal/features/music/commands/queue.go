package commands

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/hxnx/encore/internal/discord"
	"github.com/hxnx/encore/internal/features/music/queueview"
	shared "github.com/hxnx/encore/internal/features/shared"
)

func (c *Commands) queue(req Request) Reply {
	page := shared.GetOptionInt(req.Options, OptPage)
	components, ok := c.QueuePage(req.GuildID, page, queueview.DefaultPerPage)
	if !ok {
		return text("재생 중인 세션이 없습니다.")
	}
	return Reply{Components: components}
}

// QueuePage renders one page of the guild's queue, or reports false when
// the guild has no session.
func (c *Commands) QueuePage(guildID string, page, perPage int) ([]discordgo.MessageComponent, bool) {
	snap, ok := c.playback.Snapshot(guildID)
	if !ok {
		return nil, false
	}
	components, _ := queueview.BuildQueueComponents(snap, page, perPage)
	return components, true
}

// Positions shown to users start at 1.
func (c *Commands) remove(ctx context.Context, req Request) Reply {
	idx := shared.GetOptionInt(req.Options, OptIndex)
	track, err := c.playback.Remove(ctx, req.GuildID, idx-1)
	if err != nil {
		return c.fail(SubRemove, err)
	}
	return text(fmt.Sprintf("🗑️ %d번 곡을 삭제했습니다: %s", idx, discord.TrackLine(track)))
}

func (c *Commands) move(ctx context.Context, req Request) Reply {
	from := shared.GetOptionInt(req.Options, OptFrom)
	to := shared.GetOptionInt(req.Options, OptTo)
	if err := c.playback.Move(ctx, req.GuildID, from-1, to-1); err != nil {
		return c.fail(SubMove, err)
	}
	return text(fmt.Sprintf("↕️ %d번 곡을 %d번으로 옮겼습니다.", from, to))
}

func (c *Commands) clear(ctx context.Context, req Request) Reply {
	n, err := c.playback.ClearQueue(ctx, req.GuildID)
	if err != nil {
		return c.fail(SubClear, err)
	}
	return text(fmt.Sprintf("🧹 대기열에서 %d곡을 비웠습니다.", n))
}
