package discord

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/hxnx/encore/internal/logging"
	"github.com/hxnx/encore/internal/music"
	"github.com/hxnx/encore/internal/playback"
)

var (
	errRestart = errors.New("stream restart requested")
	errStuck   = errors.New("voice connection stopped accepting frames")
)

const (
	frameDuration         = 20 * time.Millisecond
	DefaultStuckThreshold = 10 * time.Second
	resolveTimeout        = 30 * time.Second
	pausePollInterval     = 50 * time.Millisecond
)

// StreamResolver turns a track payload into a URL ffmpeg can open.
type StreamResolver interface {
	ResolveStreamURL(ctx context.Context, pageURL string) (string, error)
}

// AudioSource opens an Ogg/Opus stream for url starting at offset, with
// volume in percent.
type AudioSource func(ctx context.Context, url string, offset time.Duration, volume int) (io.ReadCloser, error)

// VoicePlayer streams one track at a time into a guild's voice connection
// and reports lifecycle events to the bound handler.
type VoicePlayer struct {
	guildID        string
	streams        StreamResolver
	source         AudioSource
	frames         chan<- []byte
	speaking       func(bool)
	disconnect     func() error
	stuckThreshold time.Duration
	logger         *zap.Logger

	mu         sync.Mutex
	handler    func(playback.PlayerEvent)
	handlerGen uint64
	current    *run
	paused     bool
	volume     int
	closed     bool
}

type run struct {
	track   music.Track
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	restart chan struct{}

	mu      sync.Mutex
	reason  playback.EndReason
	base    time.Duration
	frames  int64
	seekTo  time.Duration
	seeking bool
}

func newRun(track music.Track) *run {
	ctx, cancel := context.WithCancel(context.Background())
	return &run{
		track:   track,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		restart: make(chan struct{}, 1),
	}
}

func (r *run) stop(reason playback.EndReason) {
	r.mu.Lock()
	if r.reason == "" {
		r.reason = reason
	}
	r.mu.Unlock()
	r.cancel()
}

func (r *run) endReason() playback.EndReason {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reason == "" {
		return playback.EndStopped
	}
	return r.reason
}

// beginSegment returns the offset the next ffmpeg process starts at.
func (r *run) beginSegment() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	offset := r.base + time.Duration(r.frames)*frameDuration
	if r.seeking {
		offset = r.seekTo
		r.seeking = false
	}
	r.base = offset
	r.frames = 0
	return offset
}

func (r *run) position() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seeking {
		return r.seekTo
	}
	return r.base + time.Duration(r.frames)*frameDuration
}

func (r *run) frameSent() {
	r.mu.Lock()
	r.frames++
	r.mu.Unlock()
}

func (r *run) requestRestart(seek bool, to time.Duration) {
	r.mu.Lock()
	if seek {
		r.seekTo = to
		r.seeking = true
	}
	r.mu.Unlock()
	select {
	case r.restart <- struct{}{}:
	default:
	}
}

func NewVoicePlayer(guildID string, vc *discordgo.VoiceConnection, streams StreamResolver, logger *zap.Logger) *VoicePlayer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return newVoicePlayer(guildID, streams, FFmpegSource(logger), vc.OpusSend,
		func(on bool) { safeSpeaking(vc, on) },
		vc.Disconnect,
		logger)
}

func newVoicePlayer(guildID string, streams StreamResolver, source AudioSource, frames chan<- []byte, speaking func(bool), disconnect func() error, logger *zap.Logger) *VoicePlayer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if speaking == nil {
		speaking = func(bool) {}
	}
	return &VoicePlayer{
		guildID:        guildID,
		streams:        streams,
		source:         source,
		frames:         frames,
		speaking:       speaking,
		disconnect:     disconnect,
		stuckThreshold: DefaultStuckThreshold,
		volume:         100,
		logger:         logger.Named("voice").With(logging.Guild(guildID)),
	}
}

func safeSpeaking(vc *discordgo.VoiceConnection, speaking bool) {
	if vc == nil || !vc.Ready {
		return
	}
	_ = vc.Speaking(speaking)
}

func (p *VoicePlayer) Events(handler func(playback.PlayerEvent)) (unbind func()) {
	p.mu.Lock()
	p.handlerGen++
	gen := p.handlerGen
	p.handler = handler
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.handlerGen == gen {
			p.handler = nil
		}
	}
}

func (p *VoicePlayer) emit(ev playback.PlayerEvent) {
	p.mu.Lock()
	h := p.handler
	p.mu.Unlock()

	ev.GuildID = p.guildID
	if h != nil {
		h(ev)
	}
}

// Play replaces whatever is playing. The replaced track reports its end
// before the new one starts.
func (p *VoicePlayer) Play(_ context.Context, track music.Track) error {
	if !track.Playable() {
		return music.ErrInvalidTrack
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return playback.ErrNotConnected
	}
	prev := p.current
	r := newRun(track)
	p.current = r
	p.paused = false
	p.mu.Unlock()

	if prev != nil {
		prev.stop(playback.EndReplaced)
	}
	go p.run(r, prev)
	return nil
}

func (p *VoicePlayer) Stop(ctx context.Context) error {
	p.mu.Lock()
	r := p.current
	p.current = nil
	p.paused = false
	p.mu.Unlock()

	if r == nil {
		return nil
	}
	r.stop(playback.EndStopped)
	return waitDone(ctx, r)
}

func (p *VoicePlayer) SetPaused(_ context.Context, paused bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return playback.ErrNothingPlaying
	}
	p.paused = paused
	return nil
}

// SetVolume takes effect immediately by restarting ffmpeg at the current
// position with the new gain.
func (p *VoicePlayer) SetVolume(_ context.Context, volume int) error {
	p.mu.Lock()
	p.volume = volume
	r := p.current
	p.mu.Unlock()

	if r != nil {
		r.requestRestart(false, 0)
	}
	return nil
}

func (p *VoicePlayer) Seek(_ context.Context, position time.Duration) error {
	p.mu.Lock()
	r := p.current
	p.mu.Unlock()

	if r == nil {
		return playback.ErrNothingPlaying
	}
	if position < 0 {
		position = 0
	}
	r.requestRestart(true, position)
	return nil
}

func (p *VoicePlayer) Position() time.Duration {
	p.mu.Lock()
	r := p.current
	p.mu.Unlock()

	if r == nil {
		return 0
	}
	return r.position()
}

// Disconnect stops playback without reporting further events and leaves
// the voice channel.
func (p *VoicePlayer) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	r := p.current
	p.current = nil
	p.handler = nil
	p.mu.Unlock()

	if r != nil {
		r.stop(playback.EndCleanup)
		if err := waitDone(ctx, r); err != nil {
			p.logger.Warn("stream did not stop before disconnect", zap.Error(err))
		}
	}

	if p.disconnect != nil {
		return p.disconnect()
	}
	return nil
}

func waitDone(ctx context.Context, r *run) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *VoicePlayer) isPaused(r *run) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current == r && p.paused
}

func (p *VoicePlayer) currentVolume() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

func (p *VoicePlayer) release(r *run) {
	p.mu.Lock()
	if p.current == r {
		p.current = nil
		p.paused = false
	}
	p.mu.Unlock()
}

func (p *VoicePlayer) run(r *run, prev *run) {
	defer close(r.done)
	defer r.cancel()
	if prev != nil {
		<-prev.done
	}

	log := p.logger.With(zap.String("title", r.track.Info.Title))

	resolveCtx, cancel := context.WithTimeout(r.ctx, resolveTimeout)
	url, err := p.streams.ResolveStreamURL(resolveCtx, r.track.Encoded)
	cancel()
	if err != nil {
		p.release(r)
		if r.ctx.Err() != nil {
			p.emit(playback.PlayerEvent{Kind: playback.EventEnd, Track: r.track, Reason: r.endReason()})
			return
		}
		log.Warn("failed to resolve stream", zap.Error(err))
		p.emit(playback.PlayerEvent{Kind: playback.EventEnd, Track: r.track, Reason: playback.EndLoadFailed, Err: err})
		return
	}

	p.emit(playback.PlayerEvent{Kind: playback.EventStart, Track: r.track})

	for {
		err = p.stream(r, url)
		if errors.Is(err, errRestart) {
			log.Debug("restarting stream", zap.Duration("offset", r.position()))
			continue
		}
		break
	}
	p.release(r)

	switch {
	case r.ctx.Err() != nil:
		p.emit(playback.PlayerEvent{Kind: playback.EventEnd, Track: r.track, Reason: r.endReason()})
	case errors.Is(err, errStuck):
		p.emit(playback.PlayerEvent{Kind: playback.EventStuck, Track: r.track, Threshold: p.stuckThreshold})
	case err != nil:
		p.emit(playback.PlayerEvent{Kind: playback.EventException, Track: r.track, Err: err})
	default:
		p.emit(playback.PlayerEvent{Kind: playback.EventEnd, Track: r.track, Reason: playback.EndFinished})
	}
}

func (p *VoicePlayer) stream(r *run, url string) error {
	offset := r.beginSegment()

	ctx, cancel := context.WithCancel(r.ctx)
	defer cancel()

	body, err := p.source(ctx, url, offset, p.currentVolume())
	if err != nil {
		return err
	}
	defer body.Close()

	p.speaking(true)
	defer p.speaking(false)

	reader := newOggReader(body)
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		page, err := reader.next()
		if err != nil {
			if r.ctx.Err() != nil {
				return r.ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		if page.isHeader {
			continue
		}

		for _, packet := range page.packets {
			if err := p.waitWhilePaused(r); err != nil {
				return err
			}

			select {
			case <-r.ctx.Done():
				return r.ctx.Err()
			case <-r.restart:
				return errRestart
			case <-ticker.C:
			}

			if err := p.send(r, packet); err != nil {
				return err
			}
		}
	}
}

func (p *VoicePlayer) waitWhilePaused(r *run) error {
	if !p.isPaused(r) {
		return nil
	}

	p.speaking(false)
	for p.isPaused(r) {
		select {
		case <-r.ctx.Done():
			return r.ctx.Err()
		case <-r.restart:
			return errRestart
		case <-time.After(pausePollInterval):
		}
	}
	p.speaking(true)
	return nil
}

func (p *VoicePlayer) send(r *run, packet []byte) error {
	timer := time.NewTimer(p.stuckThreshold)
	defer timer.Stop()

	select {
	case p.frames <- packet:
		r.frameSent()
		return nil
	case <-r.ctx.Done():
		return r.ctx.Err()
	case <-r.restart:
		return errRestart
	case <-timer.C:
		return errStuck
	}
}

// FFmpegSource transcodes url to 48kHz stereo Ogg/Opus with ffmpeg.
func FFmpegSource(logger *zap.Logger) AudioSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, url string, offset time.Duration, volume int) (io.ReadCloser, error) {
		cmd := exec.CommandContext(ctx, "ffmpeg", ffmpegArgs(url, offset, volume)...)

		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
		}

		stderr, err := cmd.StderrPipe()
		if err != nil {
			return nil, fmt.Errorf("failed to create ffmpeg stderr pipe: %w", err)
		}

		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
		}

		go func() {
			scanner := bufio.NewScanner(stderr)
			for scanner.Scan() {
				logger.Debug("ffmpeg", zap.String("line", scanner.Text()))
			}
		}()

		return &ffmpegStream{ReadCloser: stdout, cmd: cmd}, nil
	}
}

func ffmpegArgs(url string, offset time.Duration, volume int) []string {
	args := []string{
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", "5",
	}
	if offset > 0 {
		args = append(args, "-ss", strconv.FormatFloat(offset.Seconds(), 'f', 3, 64))
	}
	args = append(args,
		"-i", url,
		"-af", fmt.Sprintf("volume=%.2f", float64(volume)/100),
		"-c:a", "libopus",
		"-ar", "48000",
		"-ac", "2",
		"-b:a", "96k",
		"-vbr", "on",
		"-frame_duration", "20",
		"-application", "audio",
		"-f", "ogg",
		"-loglevel", "warning",
		"pipe:1",
	)
	return args
}

type ffmpegStream struct {
	io.ReadCloser
	cmd *exec.Cmd
}

func (s *ffmpegStream) Close() error {
	_ = s.ReadCloser.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.cmd.Wait()
	return nil
}
