package playback

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hxnx/encore/internal/autoplay"
	"github.com/hxnx/encore/internal/events"
	"github.com/hxnx/encore/internal/music"
)

type fakePlayer struct {
	mu           sync.Mutex
	plays        []music.Track
	stops        int
	paused       bool
	volume       int
	seeks        []time.Duration
	handler      func(PlayerEvent)
	unbinds      int
	disconnected int
	playDelay    time.Duration
	playErr      error
}

func (p *fakePlayer) Play(_ context.Context, t music.Track) error {
	if p.playDelay > 0 {
		time.Sleep(p.playDelay)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playErr != nil {
		return p.playErr
	}
	p.plays = append(p.plays, t)
	return nil
}

func (p *fakePlayer) Stop(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	return nil
}

func (p *fakePlayer) SetPaused(_ context.Context, paused bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = paused
	return nil
}

func (p *fakePlayer) SetVolume(_ context.Context, v int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = v
	return nil
}

func (p *fakePlayer) Seek(_ context.Context, pos time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seeks = append(p.seeks, pos)
	return nil
}

func (p *fakePlayer) Position() time.Duration { return 42 * time.Second }

func (p *fakePlayer) Events(handler func(PlayerEvent)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = handler
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.handler = nil
		p.unbinds++
	}
}

func (p *fakePlayer) Disconnect(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnected++
	return nil
}

func (p *fakePlayer) emit(ev PlayerEvent) {
	p.mu.Lock()
	h := p.handler
	p.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

func (p *fakePlayer) titles() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.plays))
	for i, t := range p.plays {
		out[i] = t.Info.Title
	}
	return out
}

func (p *fakePlayer) snapshot() (stops, volume, unbinds, disconnected int, paused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stops, p.volume, p.unbinds, p.disconnected, p.paused
}

type fakeConnector struct {
	mu     sync.Mutex
	joins  int
	player *fakePlayer
	err    error
}

func (c *fakeConnector) Join(context.Context, string, string) (Player, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joins++
	if c.err != nil {
		return nil, c.err
	}
	return c.player, nil
}

type fakeListeners struct {
	n   atomic.Int32
	err error
}

func (l *fakeListeners) CountListeners(string) (int, error) {
	return int(l.n.Load()), l.err
}

type fakeNotifier struct {
	mu      sync.Mutex
	sent    []Notice
	deleted []string
	next    int
}

func (n *fakeNotifier) Send(_ context.Context, _ string, notice Notice) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.next++
	n.sent = append(n.sent, notice)
	return fmt.Sprintf("msg-%d", n.next), nil
}

func (n *fakeNotifier) Delete(_ context.Context, _ string, id string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deleted = append(n.deleted, id)
	return nil
}

func (n *fakeNotifier) kinds() []NoticeKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]NoticeKind, len(n.sent))
	for i, s := range n.sent {
		out[i] = s.Kind
	}
	return out
}

func (n *fakeNotifier) deletedIDs() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.deleted...)
}

type fakeEngine struct {
	mu    sync.Mutex
	pick  music.Track
	ok    bool
	seeds []string
}

func (e *fakeEngine) FindSimilarTrack(_ context.Context, _ string, _ autoplay.History, current music.Track) (music.Track, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seeds = append(e.seeds, current.Info.Title)
	return e.pick, e.ok
}

type fakeHistory struct {
	mu      sync.Mutex
	records []string
}

func (h *fakeHistory) RecordPlay(_ context.Context, guildID, userID string, t music.Track) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, guildID+"/"+userID+"/"+t.Info.Title)
	return nil
}

func (h *fakeHistory) recorded() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.records...)
}

type inlinePool struct{}

func (inlinePool) Submit(task func(ctx context.Context)) error {
	task(context.Background())
	return nil
}

func track(title string) music.Track {
	slug := strings.ReplaceAll(strings.ToLower(title), " ", "-")
	return music.Track{
		Encoded: "https://www.youtube.com/watch?v=" + slug,
		Info: music.TrackInfo{
			Title:    title,
			Author:   "Artist",
			URI:      "https://www.youtube.com/watch?v=" + slug,
			Duration: 3 * time.Minute,
		},
	}
}

// eventRecorder collects event types from a global subscription.
type eventRecorder struct {
	mu    sync.Mutex
	types []events.Type
}

func recordEvents(bus *events.Bus) *eventRecorder {
	r := &eventRecorder{}
	bus.Subscribe(events.Any, func(ev events.Event) {
		r.mu.Lock()
		r.types = append(r.types, ev.Type)
		r.mu.Unlock()
	})
	return r
}

func (r *eventRecorder) seen() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Type(nil), r.types...)
}

func (r *eventRecorder) has(typ events.Type) bool {
	for _, t := range r.seen() {
		if t == typ {
			return true
		}
	}
	return false
}

const testGuild = "guild-1"

func newTestOrchestrator(t *testing.T, cfg Config, opts ...Option) (*Orchestrator, *fakePlayer) {
	t.Helper()
	player := &fakePlayer{}
	queues := music.NewQueueStore(music.QueueDefaults{Volume: 100, MaxSize: 50})
	if cfg.LockTimeout == 0 {
		cfg.LockTimeout = time.Second
	}
	o := NewOrchestrator(queues, &fakeConnector{player: player}, cfg, opts...)
	require.NoError(t, o.Connect(context.Background(), testGuild, "voice-1", "text-1"))
	return o, player
}
