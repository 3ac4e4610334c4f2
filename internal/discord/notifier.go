package discord

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/hxnx/encore/internal/music"
	"github.com/hxnx/encore/internal/playback"
)

const accentColor = 0x3C6AA1

// Notifier posts playback notices as component messages.
type Notifier struct {
	session *discordgo.Session
}

func NewNotifier(s *discordgo.Session) *Notifier {
	return &Notifier{session: s}
}

func (n *Notifier) Send(ctx context.Context, channelID string, notice playback.Notice) (string, error) {
	if n.session == nil {
		return "", ErrSessionNil
	}

	msg, err := n.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Components: NoticeComponents(notice),
		Flags:      discordgo.MessageFlagsIsComponentsV2,
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Parse: []discordgo.AllowedMentionType{},
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

func (n *Notifier) Delete(ctx context.Context, channelID, messageID string) error {
	if n.session == nil {
		return ErrSessionNil
	}
	return n.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx))
}

func NoticeComponents(n playback.Notice) []discordgo.MessageComponent {
	accent := accentColor
	divider := true
	spacing := discordgo.SeparatorSpacingSizeSmall

	var components []discordgo.MessageComponent
	switch n.Kind {
	case playback.NoticeQueueFinished:
		components = []discordgo.MessageComponent{
			discordgo.TextDisplay{Content: "⏹️ **재생 종료**"},
			discordgo.Separator{Divider: &divider, Spacing: &spacing},
			discordgo.TextDisplay{Content: "대기열의 모든 곡을 재생했습니다."},
		}
	default:
		header := "▶️ **현재 재생 중**"
		if n.Autoplayed {
			header = "📻 **자동 재생**"
		}

		details := []discordgo.MessageComponent{
			discordgo.TextDisplay{Content: TrackLine(n.Track)},
			discordgo.TextDisplay{Content: trackMeta(n)},
		}

		components = []discordgo.MessageComponent{
			discordgo.TextDisplay{Content: header},
			discordgo.Separator{Divider: &divider, Spacing: &spacing},
		}
		if thumb := strings.TrimSpace(n.Track.Info.ArtworkURL); thumb != "" {
			components = append(components, discordgo.Section{
				Components: details,
				Accessory: discordgo.Thumbnail{
					Media: discordgo.UnfurledMediaItem{URL: thumb},
				},
			})
		} else {
			components = append(components, details...)
		}
		if n.Track.RequestedBy != "" {
			components = append(components, discordgo.TextDisplay{Content: fmt.Sprintf("요청자 <@%s>", n.Track.RequestedBy)})
		}
	}

	return []discordgo.MessageComponent{
		discordgo.Container{
			AccentColor: &accent,
			Components:  components,
		},
	}
}

// TrackLine renders a track as a markdown link when it has a URI.
func TrackLine(t music.Track) string {
	title := EscapeMarkdown(strings.TrimSpace(t.Info.Title))
	if title == "" {
		title = "알 수 없는 제목"
	}
	if author := strings.TrimSpace(t.Info.Author); author != "" {
		title = fmt.Sprintf("%s - %s", title, EscapeMarkdown(author))
	}
	if t.Info.URI != "" {
		return fmt.Sprintf("**[%s](%s)**", title, t.Info.URI)
	}
	return "**" + title + "**"
}

func trackMeta(n playback.Notice) string {
	parts := []string{"`" + FormatDuration(n.Track.Info.Duration, n.Track.Info.IsStream) + "`"}
	if n.LoopCount > 0 {
		parts = append(parts, fmt.Sprintf("🔂 %d회 반복", n.LoopCount))
	}
	if n.QueueLen > 0 {
		parts = append(parts, fmt.Sprintf("📋 대기열 %d곡", n.QueueLen))
	}
	return strings.Join(parts, " • ")
}

func FormatDuration(d time.Duration, stream bool) string {
	if stream || d <= 0 {
		return "실시간"
	}
	return FormatClock(d)
}

// FormatClock renders d as mm:ss, or h:mm:ss past an hour.
func FormatClock(d time.Duration) string {
	totalSeconds := max(0, int(d.Seconds()))
	hours := totalSeconds / 3600
	minutes := totalSeconds % 3600 / 60
	seconds := totalSeconds % 60
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

func EscapeMarkdown(text string) string {
	replacer := strings.NewReplacer(
		"*", "\\*",
		"_", "\\_",
		"`", "\\`",
		"~", "\\~",
		"|", "\\|",
		">", "\\>",
		"[", "\\[",
		"]", "\\]",
	)
	return replacer.Replace(text)
}
