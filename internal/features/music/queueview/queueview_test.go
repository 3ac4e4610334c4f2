package queueview

import (
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hxnx/encore/internal/music"
)

func snapshotWith(n int) music.QueueSnapshot {
	snap := music.QueueSnapshot{
		GuildID:  "g",
		Settings: music.QueueSettings{LoopMode: music.LoopModeQueue, Volume: 80, Autoplay: true},
	}
	for i := 0; i < n; i++ {
		snap.Tracks = append(snap.Tracks, music.Track{
			Encoded: fmt.Sprintf("t%d", i),
			Info:    music.TrackInfo{Title: fmt.Sprintf("Song %d", i+1), Duration: time.Minute},
		})
	}
	return snap
}

func buttons(t *testing.T, components []discordgo.MessageComponent) []discordgo.Button {
	t.Helper()
	container := components[0].(discordgo.Container)
	for _, c := range container.Components {
		if row, ok := c.(discordgo.ActionsRow); ok {
			var out []discordgo.Button
			for _, b := range row.Components {
				out = append(out, b.(discordgo.Button))
			}
			return out
		}
	}
	t.Fatal("no action row")
	return nil
}

func TestBuildQueueComponentsPaging(t *testing.T) {
	_, info := BuildQueueComponents(snapshotWith(23), 3, 10)
	assert.Equal(t, PageInfo{Page: 3, PerPage: 10, TotalItems: 23, TotalPages: 3, StartIndex: 20, EndIndex: 23}, info)

	components, info := BuildQueueComponents(snapshotWith(23), 99, 10)
	assert.Equal(t, 3, info.Page)
	b := buttons(t, components)
	require.Len(t, b, 2)
	assert.False(t, b[0].Disabled)
	assert.True(t, b[1].Disabled)
	assert.Equal(t, "music_queue_page:2:10", b[0].CustomID)
}

func TestBuildQueueComponentsEmpty(t *testing.T) {
	components, info := BuildQueueComponents(snapshotWith(0), 1, 0)
	assert.Equal(t, 1, info.TotalPages)
	assert.Equal(t, DefaultPerPage, info.PerPage)

	b := buttons(t, components)
	assert.True(t, b[0].Disabled)
	assert.True(t, b[1].Disabled)
}

func TestQueuePageCustomIDRoundTrip(t *testing.T) {
	id := MakeQueuePageCustomID(0, 100)
	assert.Equal(t, "music_queue_page:1:25", id)

	page, perPage, ok := ParseQueuePageCustomID("music_queue_page:4:10")
	assert.True(t, ok)
	assert.Equal(t, 4, page)
	assert.Equal(t, 10, perPage)

	for _, bad := range []string{"music_queue_page:x:10", "music_queue_page:0:10", "other:1:1", "music_queue_page:1"} {
		_, _, ok := ParseQueuePageCustomID(bad)
		assert.False(t, ok, bad)
	}
}

func TestLoopLabel(t *testing.T) {
	assert.Equal(t, "곡 반복", LoopLabel(music.LoopModeTrack))
	assert.Equal(t, "꺼짐", LoopLabel("bogus"))
}
