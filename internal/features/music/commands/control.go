package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hxnx/encore/internal/discord"
	"github.com/hxnx/encore/internal/features/music/queueview"
	shared "github.com/hxnx/encore/internal/features/shared"
	"github.com/hxnx/encore/internal/playback"
)

func (c *Commands) skip(ctx context.Context, req Request) Reply {
	res, err := c.playback.VoteSkip(ctx, req.GuildID, req.UserID)
	if err != nil {
		return c.fail(SubSkip, err)
	}
	if res.Passed {
		return text(fmt.Sprintf("⏭️ 스킵 투표가 통과되어 다음 곡으로 넘어갑니다. (%d/%d)", res.Votes, res.Required))
	}
	return text(fmt.Sprintf("🗳️ 스킵 투표 %d/%d", res.Votes, res.Required))
}

func (c *Commands) stop(ctx context.Context, req Request) Reply {
	if err := c.playback.Stop(ctx, req.GuildID); err != nil {
		return c.fail(SubStop, err)
	}
	return text("⏹️ 재생을 멈추고 대기열을 비웠습니다.")
}

func (c *Commands) pause(ctx context.Context, req Request, paused bool) Reply {
	if paused {
		if err := c.playback.Pause(ctx, req.GuildID); err != nil {
			return c.fail(SubPause, err)
		}
		return text("⏸️ 일시정지했습니다.")
	}
	if err := c.playback.Resume(ctx, req.GuildID); err != nil {
		return c.fail(SubResume, err)
	}
	return text("▶️ 다시 재생합니다.")
}

func (c *Commands) seek(ctx context.Context, req Request) Reply {
	pos, err := ParsePosition(shared.GetOptionString(req.Options, OptPosition))
	if err != nil {
		return text("위치는 `90`, `1:30`, `1:02:03` 형식으로 입력해 주세요.")
	}
	if err := c.playback.Seek(ctx, req.GuildID, pos); err != nil {
		return c.fail(SubSeek, err)
	}
	return text(fmt.Sprintf("⏩ `%s` 위치로 이동했습니다.", discord.FormatClock(pos)))
}

func (c *Commands) volume(ctx context.Context, req Request) Reply {
	applied, err := c.playback.SetVolume(ctx, req.GuildID, shared.GetOptionInt(req.Options, OptValue))
	if err != nil {
		return c.fail(SubVolume, err)
	}
	return text(fmt.Sprintf("🔊 볼륨을 %d%%로 설정했습니다.", applied))
}

func (c *Commands) loop(ctx context.Context, req Request) Reply {
	mode, err := c.playback.CycleLoop(ctx, req.GuildID)
	if err != nil {
		return c.fail(SubLoop, err)
	}
	return text("🔁 반복 모드: " + queueview.LoopLabel(mode))
}

func (c *Commands) shuffle(ctx context.Context, req Request) Reply {
	on, ok := shared.GetOptionBool(req.Options, OptEnabled)
	if !ok {
		snap, found := c.playback.Snapshot(req.GuildID)
		on = !(found && snap.Settings.Shuffle)
	}
	if err := c.playback.SetShuffle(ctx, req.GuildID, on); err != nil {
		return c.fail(SubShuffle, err)
	}
	if on {
		return text("🔀 셔플을 켰습니다.")
	}
	return text("🔀 셔플을 껐습니다.")
}

func (c *Commands) autoplay(ctx context.Context, req Request) Reply {
	on, ok := shared.GetOptionBool(req.Options, OptEnabled)
	if !ok {
		snap, found := c.playback.Snapshot(req.GuildID)
		on = !(found && snap.Settings.Autoplay)
	}
	if err := c.playback.SetAutoplay(ctx, req.GuildID, on); err != nil {
		return c.fail(SubAutoplay, err)
	}
	if on {
		return text("📻 자동 재생을 켰습니다. 반복 모드는 꺼집니다.")
	}
	return text("📻 자동 재생을 껐습니다.")
}

func (c *Commands) nowPlaying(req Request) Reply {
	np, ok := c.playback.NowPlaying(req.GuildID)
	if !ok {
		return text("재생 중인 곡이 없습니다.")
	}

	header := "▶️ **현재 재생 중**"
	if np.Autoplayed {
		header = "📻 **자동 재생**"
	}
	progress := fmt.Sprintf("`%s / %s`",
		discord.FormatClock(np.Position),
		discord.FormatDuration(np.Track.Info.Duration, np.Track.Info.IsStream))
	if np.LoopCount > 0 {
		progress += fmt.Sprintf(" • 🔂 %d회 반복", np.LoopCount)
	}

	lines := []string{header, discord.TrackLine(np.Track), progress}
	if np.Track.RequestedBy != "" {
		lines = append(lines, "요청자 <@"+np.Track.RequestedBy+">")
	}
	return text(strings.Join(lines, "\n"))
}

func (c *Commands) leave(ctx context.Context, req Request) Reply {
	if !c.playback.Cleanup(ctx, req.GuildID, playback.ReasonManual) {
		return text("연결된 음성 채널이 없습니다.")
	}
	return text("👋 음성 채널에서 나왔습니다.")
}

// ParsePosition accepts plain seconds, m:ss or h:mm:ss.
func ParsePosition(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, fmt.Errorf("empty position")
	}
	parts := strings.Split(v, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("invalid position %q", v)
	}

	var total int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid position %q", v)
		}
		if i > 0 && n >= 60 {
			return 0, fmt.Errorf("invalid position %q", v)
		}
		total = total*60 + n
	}
	return time.Duration(total) * time.Second, nil
}
