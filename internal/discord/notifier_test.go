package discord

import (
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hxnx/encore/internal/music"
	"github.com/hxnx/encore/internal/playback"
)

func texts(components []discordgo.MessageComponent) []string {
	var out []string
	for _, c := range components {
		switch v := c.(type) {
		case discordgo.TextDisplay:
			out = append(out, v.Content)
		case discordgo.Section:
			out = append(out, texts(v.Components)...)
		case discordgo.Container:
			out = append(out, texts(v.Components)...)
		}
	}
	return out
}

func TestNowPlayingNotice(t *testing.T) {
	track := music.Track{
		Encoded:     "x",
		RequestedBy: "42",
		Info: music.TrackInfo{
			Title:      "Ditto",
			Author:     "NewJeans",
			URI:        "https://youtu.be/ditto",
			Duration:   3*time.Minute + 5*time.Second,
			ArtworkURL: "https://img.example/ditto.jpg",
		},
	}

	components := NoticeComponents(playback.Notice{Kind: playback.NoticeNowPlaying, Track: track, LoopCount: 2, QueueLen: 4})
	require.Len(t, components, 1)
	container := components[0].(discordgo.Container)

	var section *discordgo.Section
	for _, c := range container.Components {
		if s, ok := c.(discordgo.Section); ok {
			section = &s
		}
	}
	require.NotNil(t, section, "artwork should render as a thumbnail section")

	lines := texts(components)
	assert.Contains(t, lines, "▶️ **현재 재생 중**")
	assert.Contains(t, lines, "**[Ditto - NewJeans](https://youtu.be/ditto)**")
	assert.Contains(t, lines, "`03:05` • 🔂 2회 반복 • 📋 대기열 4곡")
	assert.Contains(t, lines, "요청자 <@42>")
}

func TestAutoplayNoticeHeader(t *testing.T) {
	components := NoticeComponents(playback.Notice{
		Kind:       playback.NoticeNowPlaying,
		Track:      music.Track{Encoded: "x", Info: music.TrackInfo{Title: "Live", IsStream: true}},
		Autoplayed: true,
	})

	lines := texts(components)
	assert.Contains(t, lines, "📻 **자동 재생**")
	assert.Contains(t, lines, "**Live**")
	assert.Contains(t, lines, "`실시간`")
}

func TestQueueFinishedNotice(t *testing.T) {
	lines := texts(NoticeComponents(playback.Notice{Kind: playback.NoticeQueueFinished}))
	assert.Contains(t, lines, "대기열의 모든 곡을 재생했습니다.")
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "00:42", FormatDuration(42*time.Second, false))
	assert.Equal(t, "1:02:03", FormatDuration(time.Hour+2*time.Minute+3*time.Second, false))
	assert.Equal(t, "실시간", FormatDuration(0, false))
	assert.Equal(t, "실시간", FormatDuration(time.Minute, true))
	assert.Equal(t, "00:00", FormatClock(0))
}

func TestEscapeMarkdown(t *testing.T) {
	assert.Equal(t, `\*\*bold\*\* \[x\]`, EscapeMarkdown("**bold** [x]"))
}
