package music

import (
	"strings"
	"time"
)

type TrackSource string

const (
	TrackSourceYouTube      TrackSource = "youtube"
	TrackSourceYouTubeMusic TrackSource = "ytmusic"
	TrackSourceSpotify      TrackSource = "spotify"
	TrackSourceSoundCloud   TrackSource = "soundcloud"
	TrackSourceUnknown      TrackSource = "unknown"
)

type LoopMode string

const (
	LoopModeOff   LoopMode = "off"
	LoopModeTrack LoopMode = "track"
	LoopModeQueue LoopMode = "queue"
)

func ParseLoopMode(v string) LoopMode {
	switch LoopMode(strings.ToLower(strings.TrimSpace(v))) {
	case LoopModeTrack:
		return LoopModeTrack
	case LoopModeQueue:
		return LoopModeQueue
	default:
		return LoopModeOff
	}
}

type TrackInfo struct {
	Title      string        `json:"title"`
	Author     string        `json:"author"`
	Duration   time.Duration `json:"duration"`
	URI        string        `json:"uri"`
	ArtworkURL string        `json:"artwork_url"`
	Source     TrackSource   `json:"source"`
	IsStream   bool          `json:"is_stream"`
}

// Track is an opaque playable payload plus its descriptive metadata. Values
// are treated as immutable once built; the queue copies them around.
type Track struct {
	Encoded     string    `json:"encoded"`
	Info        TrackInfo `json:"info"`
	RequestedBy string    `json:"requested_by,omitempty"`
}

func (t Track) Playable() bool {
	return strings.TrimSpace(t.Encoded) != ""
}

// Key identifies a track for de-duplication across search backends.
func (t Track) Key() string {
	if t.Info.URI != "" {
		return t.Info.URI
	}
	return t.Encoded
}

type QueueSettings struct {
	LoopMode LoopMode `json:"loop_mode"`
	Shuffle  bool     `json:"shuffle"`
	Volume   int      `json:"volume"`
	Autoplay bool     `json:"autoplay"`
}

type QueueSnapshot struct {
	GuildID            string
	Tracks             []Track
	Current            *Track
	CurrentAutoplayed  bool
	Settings           QueueSettings
	LoopCount          int
	LastPlayed         []string
	RecentArtists      []string
	LastAutoplaySearch time.Time
	SkipVotes          int
	SkipVotesRequired  int
}
