package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/hxnx/encore/internal/database"
	"github.com/hxnx/encore/internal/discord"
	shared "github.com/hxnx/encore/internal/features/shared"
	"github.com/hxnx/encore/internal/music"
	"github.com/hxnx/encore/internal/playback"
)

const maxFavoriteLines = 20

// Favorite actions.
const (
	FavoriteAdd    = "add"
	FavoriteRemove = "remove"
	FavoriteList   = "list"
	FavoritePlay   = "play"
)

func (c *Commands) play(ctx context.Context, req Request, front bool) Reply {
	query := strings.TrimSpace(shared.GetOptionString(req.Options, OptQuery))
	if query == "" {
		return text("검색어를 입력해 주세요.")
	}

	if r, ok := c.join(ctx, req); !ok {
		return r
	}

	track, err := c.resolver.ResolveInput(ctx, query, req.UserID)
	if err != nil {
		return c.fail(SubPlay, err)
	}

	enqueue := c.playback.Enqueue
	if front {
		enqueue = c.playback.EnqueueFront
	}
	res, err := enqueue(ctx, req.GuildID, track)
	if err != nil {
		return c.fail(SubPlay, err)
	}
	return enqueuedReply(res, discord.TrackLine(track))
}

// join connects the bot to the caller's voice channel. The returned reply
// is only meaningful when ok is false.
func (c *Commands) join(ctx context.Context, req Request) (Reply, bool) {
	if c.locate == nil {
		return c.fail("join", discord.ErrNoVoiceChannel), false
	}
	voiceID, err := c.locate(req.GuildID, req.UserID)
	if err != nil {
		return c.fail("join", err), false
	}
	if err := c.playback.Connect(ctx, req.GuildID, voiceID, req.ChannelID); err != nil {
		return c.fail("join", err), false
	}
	return Reply{}, true
}

func enqueuedReply(res playback.Enqueued, label string) Reply {
	if res.Started {
		return text("▶️ 재생을 시작합니다: " + label)
	}
	return text(fmt.Sprintf("📋 대기열 %d번에 추가했습니다: %s", res.Position, label))
}

func (c *Commands) favorite(ctx context.Context, req Request) Reply {
	if c.favorites == nil {
		return text("즐겨찾기를 사용하려면 데이터베이스 설정이 필요합니다.")
	}

	switch shared.GetOptionString(req.Options, OptAction) {
	case FavoriteAdd:
		np, ok := c.playback.NowPlaying(req.GuildID)
		if !ok {
			return text("재생 중인 곡이 없습니다.")
		}
		if err := c.favorites.AddFavorite(ctx, req.UserID, np.Track); err != nil {
			return c.fail(SubFavorite, err)
		}
		return text("⭐ 즐겨찾기에 추가했습니다: " + discord.TrackLine(np.Track))

	case FavoriteRemove:
		favs, err := c.favorites.Favorites(ctx, req.UserID)
		if err != nil {
			return c.fail(SubFavorite, err)
		}
		idx := shared.GetOptionInt(req.Options, OptIndex)
		if idx < 1 || idx > len(favs) {
			return text("즐겨찾기 번호가 올바르지 않습니다.")
		}
		fav := favs[idx-1]
		if _, err := c.favorites.RemoveFavorite(ctx, req.UserID, fav.URI); err != nil {
			return c.fail(SubFavorite, err)
		}
		return text("🗑️ 즐겨찾기에서 삭제했습니다: " + favoriteLine(fav))

	case FavoritePlay:
		favs, err := c.favorites.Favorites(ctx, req.UserID)
		if err != nil {
			return c.fail(SubFavorite, err)
		}
		if len(favs) == 0 {
			return text("저장된 즐겨찾기가 없습니다.")
		}
		if r, ok := c.join(ctx, req); !ok {
			return r
		}
		tracks := make([]music.Track, 0, len(favs))
		for _, f := range favs {
			tracks = append(tracks, favoriteTrack(f, req.UserID))
		}
		res, err := c.playback.EnqueueMany(ctx, req.GuildID, tracks)
		if err != nil {
			return c.fail(SubFavorite, err)
		}
		return enqueuedReply(res, fmt.Sprintf("즐겨찾기 %d곡", len(tracks)))

	default:
		favs, err := c.favorites.Favorites(ctx, req.UserID)
		if err != nil {
			return c.fail(SubFavorite, err)
		}
		if len(favs) == 0 {
			return text("저장된 즐겨찾기가 없습니다.")
		}
		lines := make([]string, 0, min(len(favs), maxFavoriteLines)+1)
		lines = append(lines, fmt.Sprintf("⭐ **즐겨찾기** (%d곡)", len(favs)))
		for i, f := range favs {
			if i == maxFavoriteLines {
				lines = append(lines, fmt.Sprintf("…외 %d곡", len(favs)-maxFavoriteLines))
				break
			}
			lines = append(lines, fmt.Sprintf("%d. %s", i+1, favoriteLine(f)))
		}
		return text(strings.Join(lines, "\n"))
	}
}

func favoriteLine(f database.Favorite) string {
	return discord.TrackLine(favoriteTrack(f, ""))
}

// favoriteTrack rebuilds a playable track; stored URIs are page URLs the
// stream resolver accepts.
func favoriteTrack(f database.Favorite, requestedBy string) music.Track {
	return music.Track{
		Encoded:     f.URI,
		RequestedBy: requestedBy,
		Info: music.TrackInfo{
			Title:  f.Title,
			Author: f.Author,
			URI:    f.URI,
			Source: f.Source,
		},
	}
}
