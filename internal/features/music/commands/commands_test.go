package commands

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hxnx/encore/internal/database"
	"github.com/hxnx/encore/internal/discord"
	"github.com/hxnx/encore/internal/music"
	"github.com/hxnx/encore/internal/playback"
)

type connectCall struct {
	guildID, voiceID, textID string
}

type fakePlayback struct {
	connects  []connectCall
	enqueued  []music.Track
	front     bool
	enqueueFn func() (playback.Enqueued, error)
	vote      playback.VoteResult
	voteErr   error
	removed   []int
	moved     [][2]int
	shuffle   *bool
	seekTo    time.Duration
	seekErr   error
	snapshot  *music.QueueSnapshot
	now       *playback.NowPlaying
	cleaned   bool
}

func (f *fakePlayback) Connect(_ context.Context, guildID, voiceID, textID string) error {
	f.connects = append(f.connects, connectCall{guildID, voiceID, textID})
	return nil
}

func (f *fakePlayback) result() (playback.Enqueued, error) {
	if f.enqueueFn != nil {
		return f.enqueueFn()
	}
	return playback.Enqueued{Position: len(f.enqueued)}, nil
}

func (f *fakePlayback) Enqueue(_ context.Context, _ string, t music.Track) (playback.Enqueued, error) {
	f.enqueued = append(f.enqueued, t)
	return f.result()
}

func (f *fakePlayback) EnqueueFront(_ context.Context, _ string, t music.Track) (playback.Enqueued, error) {
	f.front = true
	f.enqueued = append(f.enqueued, t)
	return f.result()
}

func (f *fakePlayback) EnqueueMany(_ context.Context, _ string, ts []music.Track) (playback.Enqueued, error) {
	f.enqueued = append(f.enqueued, ts...)
	return f.result()
}

func (f *fakePlayback) VoteSkip(context.Context, string, string) (playback.VoteResult, error) {
	return f.vote, f.voteErr
}

func (f *fakePlayback) Stop(context.Context, string) error   { return nil }
func (f *fakePlayback) Pause(context.Context, string) error  { return playback.ErrNothingPlaying }
func (f *fakePlayback) Resume(context.Context, string) error { return nil }

func (f *fakePlayback) Seek(_ context.Context, _ string, pos time.Duration) error {
	f.seekTo = pos
	return f.seekErr
}

func (f *fakePlayback) SetVolume(_ context.Context, _ string, v int) (int, error) {
	return min(v, 200), nil
}

func (f *fakePlayback) CycleLoop(context.Context, string) (music.LoopMode, error) {
	return music.LoopModeQueue, nil
}

func (f *fakePlayback) SetShuffle(_ context.Context, _ string, on bool) error {
	f.shuffle = &on
	return nil
}

func (f *fakePlayback) SetAutoplay(context.Context, string, bool) error { return nil }

func (f *fakePlayback) Remove(_ context.Context, _ string, index int) (music.Track, error) {
	f.removed = append(f.removed, index)
	if index < 0 || index > 2 {
		return music.Track{}, playback.ErrIndexRange
	}
	return music.Track{Encoded: "x", Info: music.TrackInfo{Title: "Removed"}}, nil
}

func (f *fakePlayback) Move(_ context.Context, _ string, from, to int) error {
	f.moved = append(f.moved, [2]int{from, to})
	return nil
}

func (f *fakePlayback) ClearQueue(context.Context, string) (int, error) { return 4, nil }

func (f *fakePlayback) NowPlaying(string) (playback.NowPlaying, bool) {
	if f.now == nil {
		return playback.NowPlaying{}, false
	}
	return *f.now, true
}

func (f *fakePlayback) Snapshot(string) (music.QueueSnapshot, bool) {
	if f.snapshot == nil {
		return music.QueueSnapshot{}, false
	}
	return *f.snapshot, true
}

func (f *fakePlayback) Cleanup(context.Context, string, playback.CleanupReason) bool {
	wasConnected := len(f.connects) > 0 && !f.cleaned
	f.cleaned = true
	return wasConnected
}

type fakeResolver struct {
	calls int
	err   error
}

func (r *fakeResolver) ResolveInput(_ context.Context, input, requestedBy string) (music.Track, error) {
	r.calls++
	if r.err != nil {
		return music.Track{}, r.err
	}
	return music.Track{Encoded: input, RequestedBy: requestedBy, Info: music.TrackInfo{Title: input}}, nil
}

type fakeFavorites struct {
	items   []database.Favorite
	removed []string
}

func (f *fakeFavorites) AddFavorite(_ context.Context, _ string, t music.Track) error {
	f.items = append(f.items, database.Favorite{URI: t.Info.URI, Title: t.Info.Title})
	return nil
}

func (f *fakeFavorites) RemoveFavorite(_ context.Context, _ string, uri string) (bool, error) {
	f.removed = append(f.removed, uri)
	return true, nil
}

func (f *fakeFavorites) Favorites(context.Context, string) ([]database.Favorite, error) {
	return f.items, nil
}

func strOpt(name, v string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{Name: name, Type: discordgo.ApplicationCommandOptionString, Value: v}
}

func intOpt(name string, v int) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{Name: name, Type: discordgo.ApplicationCommandOptionInteger, Value: float64(v)}
}

func request(opts ...*discordgo.ApplicationCommandInteractionDataOption) Request {
	return Request{GuildID: "g", ChannelID: "text-1", UserID: "u1", Options: opts}
}

func newCommands(pb *fakePlayback, res *fakeResolver, favs Favorites) *Commands {
	locate := func(guildID, userID string) (string, error) {
		if userID == "outside" {
			return "", discord.ErrNoVoiceChannel
		}
		return "voice-1", nil
	}
	return New(pb, res, favs, locate, nil)
}

func TestHandleRequiresGuild(t *testing.T) {
	c := newCommands(&fakePlayback{}, &fakeResolver{}, nil)
	reply := c.Handle(context.Background(), SubPlay, Request{UserID: "u1"})
	assert.Equal(t, "이 명령어는 서버에서만 사용할 수 있습니다.", reply.Content)
}

func TestPlayConnectsAndEnqueues(t *testing.T) {
	pb := &fakePlayback{enqueueFn: func() (playback.Enqueued, error) { return playback.Enqueued{Position: 3}, nil }}
	res := &fakeResolver{}
	c := newCommands(pb, res, nil)

	reply := c.Handle(context.Background(), SubPlay, request(strOpt(OptQuery, "  ditto ")))

	require.Len(t, pb.connects, 1)
	assert.Equal(t, connectCall{"g", "voice-1", "text-1"}, pb.connects[0])
	require.Len(t, pb.enqueued, 1)
	assert.Equal(t, "ditto", pb.enqueued[0].Encoded)
	assert.Equal(t, "u1", pb.enqueued[0].RequestedBy)
	assert.False(t, pb.front)
	assert.Equal(t, "📋 대기열 3번에 추가했습니다: **ditto**", reply.Content)
}

func TestPlayNextStartsPlayback(t *testing.T) {
	pb := &fakePlayback{enqueueFn: func() (playback.Enqueued, error) { return playback.Enqueued{Position: 1, Started: true}, nil }}
	c := newCommands(pb, &fakeResolver{}, nil)

	reply := c.Handle(context.Background(), SubPlayNext, request(strOpt(OptQuery, "hype boy")))
	assert.True(t, pb.front)
	assert.Equal(t, "▶️ 재생을 시작합니다: **hype boy**", reply.Content)
}

func TestPlayOutsideVoiceSkipsResolve(t *testing.T) {
	pb := &fakePlayback{}
	res := &fakeResolver{}
	c := newCommands(pb, res, nil)

	req := request(strOpt(OptQuery, "ditto"))
	req.UserID = "outside"
	reply := c.Handle(context.Background(), SubPlay, req)

	assert.Equal(t, "먼저 음성 채널에 들어가 주세요.", reply.Content)
	assert.Zero(t, res.calls)
	assert.Empty(t, pb.connects)
}

func TestPlayMapsErrors(t *testing.T) {
	res := &fakeResolver{err: music.ErrSpotifyClientNil}
	c := newCommands(&fakePlayback{}, res, nil)
	reply := c.Handle(context.Background(), SubPlay, request(strOpt(OptQuery, "spotify:track:1")))
	assert.Contains(t, reply.Content, "SPOTIFY_CLIENT_ID")

	pb := &fakePlayback{enqueueFn: func() (playback.Enqueued, error) { return playback.Enqueued{}, music.ErrQueueFull }}
	c = newCommands(pb, &fakeResolver{}, nil)
	reply = c.Handle(context.Background(), SubPlay, request(strOpt(OptQuery, "x")))
	assert.Equal(t, "대기열이 가득 찼습니다.", reply.Content)

	reply = c.Handle(context.Background(), SubPlay, request())
	assert.Equal(t, "검색어를 입력해 주세요.", reply.Content)
}

func TestSkipReportsVotes(t *testing.T) {
	pb := &fakePlayback{vote: playback.VoteResult{Votes: 1, Required: 2}}
	c := newCommands(pb, &fakeResolver{}, nil)
	assert.Equal(t, "🗳️ 스킵 투표 1/2", c.Handle(context.Background(), SubSkip, request()).Content)

	pb.vote = playback.VoteResult{Votes: 2, Required: 2, Passed: true}
	assert.Contains(t, c.Handle(context.Background(), SubSkip, request()).Content, "(2/2)")

	pb.voteErr = music.ErrAlreadyVoted
	assert.Equal(t, "이미 스킵에 투표했습니다.", c.Handle(context.Background(), SubSkip, request()).Content)
}

func TestRemoveAndMoveUseOneBasedPositions(t *testing.T) {
	pb := &fakePlayback{}
	c := newCommands(pb, &fakeResolver{}, nil)

	reply := c.Handle(context.Background(), SubRemove, request(intOpt(OptIndex, 2)))
	assert.Equal(t, []int{1}, pb.removed)
	assert.Equal(t, "🗑️ 2번 곡을 삭제했습니다: **Removed**", reply.Content)

	reply = c.Handle(context.Background(), SubRemove, request(intOpt(OptIndex, 9)))
	assert.Equal(t, "대기열 번호가 올바르지 않습니다.", reply.Content)

	c.Handle(context.Background(), SubMove, request(intOpt(OptFrom, 3), intOpt(OptTo, 1)))
	assert.Equal(t, [][2]int{{2, 0}}, pb.moved)
}

func TestShuffleTogglesWhenOptionMissing(t *testing.T) {
	pb := &fakePlayback{snapshot: &music.QueueSnapshot{Settings: music.QueueSettings{Shuffle: true}}}
	c := newCommands(pb, &fakeResolver{}, nil)

	reply := c.Handle(context.Background(), SubShuffle, request())
	require.NotNil(t, pb.shuffle)
	assert.False(t, *pb.shuffle)
	assert.Equal(t, "🔀 셔플을 껐습니다.", reply.Content)

	opt := &discordgo.ApplicationCommandInteractionDataOption{Name: OptEnabled, Type: discordgo.ApplicationCommandOptionBoolean, Value: true}
	c.Handle(context.Background(), SubShuffle, request(opt))
	assert.True(t, *pb.shuffle)
}

func TestSeek(t *testing.T) {
	pb := &fakePlayback{}
	c := newCommands(pb, &fakeResolver{}, nil)

	reply := c.Handle(context.Background(), SubSeek, request(strOpt(OptPosition, "1:30")))
	assert.Equal(t, 90*time.Second, pb.seekTo)
	assert.Equal(t, "⏩ `01:30` 위치로 이동했습니다.", reply.Content)

	reply = c.Handle(context.Background(), SubSeek, request(strOpt(OptPosition, "abc")))
	assert.Contains(t, reply.Content, "형식")

	pb.seekErr = playback.ErrNotSeekable
	reply = c.Handle(context.Background(), SubSeek, request(strOpt(OptPosition, "5")))
	assert.Equal(t, "이 곡은 해당 위치로 이동할 수 없습니다.", reply.Content)
}

func TestParsePosition(t *testing.T) {
	cases := map[string]time.Duration{
		"0":       0,
		"45":      45 * time.Second,
		"2:05":    2*time.Minute + 5*time.Second,
		"1:02:03": time.Hour + 2*time.Minute + 3*time.Second,
	}
	for in, want := range cases {
		got, err := ParsePosition(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "1:60", "-3", "1:2:3:4", "x:10"} {
		_, err := ParsePosition(bad)
		assert.Error(t, err, bad)
	}
}

func TestSimpleControls(t *testing.T) {
	pb := &fakePlayback{}
	c := newCommands(pb, &fakeResolver{}, nil)
	ctx := context.Background()

	assert.Equal(t, "재생 중인 곡이 없습니다.", c.Handle(ctx, SubPause, request()).Content)
	assert.Equal(t, "▶️ 다시 재생합니다.", c.Handle(ctx, SubResume, request()).Content)
	assert.Equal(t, "🔊 볼륨을 200%로 설정했습니다.", c.Handle(ctx, SubVolume, request(intOpt(OptValue, 900))).Content)
	assert.Equal(t, "🔁 반복 모드: 대기열 반복", c.Handle(ctx, SubLoop, request()).Content)
	assert.Equal(t, "🧹 대기열에서 4곡을 비웠습니다.", c.Handle(ctx, SubClear, request()).Content)
	assert.Equal(t, "지원하지 않는 노래 명령입니다.", c.Handle(ctx, "bogus", request()).Content)
}

func TestQueueAndNowPlaying(t *testing.T) {
	pb := &fakePlayback{}
	c := newCommands(pb, &fakeResolver{}, nil)
	ctx := context.Background()

	assert.Equal(t, "재생 중인 세션이 없습니다.", c.Handle(ctx, SubQueue, request()).Content)
	assert.Equal(t, "재생 중인 곡이 없습니다.", c.Handle(ctx, SubNowPlaying, request()).Content)

	pb.snapshot = &music.QueueSnapshot{GuildID: "g"}
	reply := c.Handle(ctx, SubQueue, request(intOpt(OptPage, 2)))
	assert.NotEmpty(t, reply.Components)

	pb.now = &playback.NowPlaying{
		Track:     music.Track{Encoded: "x", RequestedBy: "u2", Info: music.TrackInfo{Title: "Ditto", Duration: 3 * time.Minute}},
		Position:  75 * time.Second,
		LoopCount: 1,
	}
	reply = c.Handle(ctx, SubNowPlaying, request())
	assert.Equal(t, "▶️ **현재 재생 중**\n**Ditto**\n`01:15 / 03:00` • 🔂 1회 반복\n요청자 <@u2>", reply.Content)
}

func TestLeave(t *testing.T) {
	pb := &fakePlayback{}
	c := newCommands(pb, &fakeResolver{}, nil)
	assert.Equal(t, "연결된 음성 채널이 없습니다.", c.Handle(context.Background(), SubLeave, request()).Content)

	pb.cleaned = false
	pb.connects = []connectCall{{"g", "voice-1", ""}}
	assert.Equal(t, "👋 음성 채널에서 나왔습니다.", c.Handle(context.Background(), SubLeave, request()).Content)
}

func TestFavoritesRequireDatabase(t *testing.T) {
	c := newCommands(&fakePlayback{}, &fakeResolver{}, nil)
	reply := c.Handle(context.Background(), SubFavorite, request(strOpt(OptAction, FavoriteList)))
	assert.Equal(t, "즐겨찾기를 사용하려면 데이터베이스 설정이 필요합니다.", reply.Content)
}

func TestFavoriteFlow(t *testing.T) {
	pb := &fakePlayback{}
	favs := &fakeFavorites{}
	c := newCommands(pb, &fakeResolver{}, favs)
	ctx := context.Background()

	assert.Equal(t, "재생 중인 곡이 없습니다.", c.Handle(ctx, SubFavorite, request(strOpt(OptAction, FavoriteAdd))).Content)

	pb.now = &playback.NowPlaying{Track: music.Track{Encoded: "a", Info: music.TrackInfo{Title: "A", URI: "https://youtu.be/a"}}}
	reply := c.Handle(ctx, SubFavorite, request(strOpt(OptAction, FavoriteAdd)))
	assert.Equal(t, "⭐ 즐겨찾기에 추가했습니다: **[A](https://youtu.be/a)**", reply.Content)
	favs.items = append(favs.items, database.Favorite{URI: "https://youtu.be/b", Title: "B", Source: music.TrackSourceYouTube})

	reply = c.Handle(ctx, SubFavorite, request(strOpt(OptAction, FavoriteList)))
	assert.Contains(t, reply.Content, "(2곡)")
	assert.Contains(t, reply.Content, "2. **[B](https://youtu.be/b)**")

	reply = c.Handle(ctx, SubFavorite, request(strOpt(OptAction, FavoritePlay)))
	assert.Equal(t, "📋 대기열 2번에 추가했습니다: 즐겨찾기 2곡", reply.Content)
	require.Len(t, pb.enqueued, 2)
	assert.Equal(t, "https://youtu.be/b", pb.enqueued[1].Encoded)
	assert.Equal(t, "u1", pb.enqueued[1].RequestedBy)
	assert.Equal(t, music.TrackSourceYouTube, pb.enqueued[1].Info.Source)

	reply = c.Handle(ctx, SubFavorite, request(strOpt(OptAction, FavoriteRemove), intOpt(OptIndex, 3)))
	assert.Equal(t, "즐겨찾기 번호가 올바르지 않습니다.", reply.Content)
	c.Handle(ctx, SubFavorite, request(strOpt(OptAction, FavoriteRemove), intOpt(OptIndex, 1)))
	assert.Equal(t, []string{"https://youtu.be/a"}, favs.removed)
}

func TestUnknownErrorFallsBack(t *testing.T) {
	res := &fakeResolver{err: errors.New("boom")}
	c := newCommands(&fakePlayback{}, res, nil)
	reply := c.Handle(context.Background(), SubPlay, request(strOpt(OptQuery, "x")))
	assert.Equal(t, "요청을 처리하지 못했습니다.", reply.Content)
}
