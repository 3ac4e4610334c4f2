package playback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

type CleanupReason string

const (
	ReasonClosed       CleanupReason = "closed"
	ReasonIdle         CleanupReason = "idle"
	ReasonEmptyChannel CleanupReason = "empty_channel"
	ReasonManual       CleanupReason = "manual"
	ReasonShutdown     CleanupReason = "shutdown"
)

type voiceSession struct {
	guildID   string
	channelID string
	player    Player
	unbind    func()

	idle    *time.Timer
	idleGen uint64

	monitorCancel context.CancelFunc
}

// ConnectionManager owns the voice session of every guild: the player
// handle, the idle-disconnect timer and the listener monitor. Expiry from
// either watchdog is reported through the handler set with OnExpire.
type ConnectionManager struct {
	mu       sync.Mutex
	sessions map[string]*voiceSession

	connector    Connector
	listeners    ListenerCounter
	idleTimeout  time.Duration
	pollInterval time.Duration
	onExpire     func(guildID string, reason CleanupReason)

	logger *zap.Logger
}

func NewConnectionManager(connector Connector, listeners ListenerCounter, idleTimeout, pollInterval time.Duration, logger *zap.Logger) *ConnectionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnectionManager{
		sessions:     make(map[string]*voiceSession),
		connector:    connector,
		listeners:    listeners,
		idleTimeout:  idleTimeout,
		pollInterval: pollInterval,
		logger:       logger.Named("voice"),
	}
}

func (m *ConnectionManager) OnExpire(fn func(guildID string, reason CleanupReason)) {
	m.mu.Lock()
	m.onExpire = fn
	m.mu.Unlock()
}

// Connect joins channelID or returns the existing player when the guild
// already has a session.
func (m *ConnectionManager) Connect(ctx context.Context, guildID, channelID string) (Player, error) {
	m.mu.Lock()
	if s, ok := m.sessions[guildID]; ok {
		m.mu.Unlock()
		return s.player, nil
	}
	m.mu.Unlock()

	if m.connector == nil {
		return nil, ErrNotConnected
	}
	player, err := m.connector.Join(ctx, guildID, channelID)
	if err != nil {
		return nil, fmt.Errorf("join voice channel: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[guildID]; ok {
		// Lost a concurrent connect; keep the first session.
		return s.player, nil
	}
	m.sessions[guildID] = &voiceSession{guildID: guildID, channelID: channelID, player: player}
	m.logger.Info("voice connected", zap.String("guild_id", guildID), zap.String("channel_id", channelID))
	return player, nil
}

func (m *ConnectionManager) Player(guildID string) (Player, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[guildID]
	if !ok {
		return nil, false
	}
	return s.player, true
}

func (m *ConnectionManager) ChannelID(guildID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[guildID]; ok {
		return s.channelID
	}
	return ""
}

// Bind registers handler for the guild's player events. It returns false
// when there is no session or handlers are already bound.
func (m *ConnectionManager) Bind(guildID string, handler func(PlayerEvent)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[guildID]
	if !ok || s.unbind != nil {
		return false
	}
	s.unbind = s.player.Events(func(ev PlayerEvent) {
		ev.GuildID = guildID
		handler(ev)
	})
	return true
}

func (m *ConnectionManager) Unbind(guildID string) {
	m.mu.Lock()
	var unbind func()
	if s, ok := m.sessions[guildID]; ok {
		unbind, s.unbind = s.unbind, nil
	}
	m.mu.Unlock()

	if unbind != nil {
		unbind()
	}
}

// StartIdleTimer arms the idle-disconnect timer, replacing any armed one.
// A zero idle timeout disables it.
func (m *ConnectionManager) StartIdleTimer(guildID string) {
	if m.idleTimeout <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[guildID]
	if !ok {
		return
	}
	if s.idle != nil {
		s.idle.Stop()
	}
	s.idleGen++
	gen := s.idleGen
	s.idle = time.AfterFunc(m.idleTimeout, func() { m.idleFired(guildID, gen) })
	m.logger.Debug("idle timer started", zap.String("guild_id", guildID), zap.Duration("timeout", m.idleTimeout))
}

func (m *ConnectionManager) idleFired(guildID string, gen uint64) {
	m.mu.Lock()
	s, ok := m.sessions[guildID]
	if !ok || s.idleGen != gen || s.idle == nil {
		m.mu.Unlock()
		return
	}
	s.idle = nil
	m.mu.Unlock()

	m.logger.Info("idle timeout reached", zap.String("guild_id", guildID))
	m.expire(guildID, ReasonIdle)
}

func (m *ConnectionManager) ClearIdleTimer(guildID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[guildID]
	if !ok || s.idle == nil {
		return
	}
	s.idle.Stop()
	s.idle = nil
	s.idleGen++
}

func (m *ConnectionManager) IdleTimerActive(guildID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[guildID]
	return ok && s.idle != nil
}

// StartMonitor polls the listener count until the channel is empty or the
// monitor is stopped.
func (m *ConnectionManager) StartMonitor(guildID string) {
	if m.listeners == nil || m.pollInterval <= 0 {
		return
	}

	m.mu.Lock()
	s, ok := m.sessions[guildID]
	if !ok || s.monitorCancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.monitorCancel = cancel
	m.mu.Unlock()

	go m.monitor(ctx, guildID)
}

func (m *ConnectionManager) monitor(ctx context.Context, guildID string) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		n, err := m.listeners.CountListeners(guildID)
		if err != nil {
			m.logger.Debug("listener count failed", zap.String("guild_id", guildID), zap.Error(err))
			continue
		}
		if n > 0 {
			continue
		}
		if ctx.Err() != nil {
			return
		}

		m.logger.Info("voice channel empty", zap.String("guild_id", guildID))
		m.StopMonitor(guildID)
		m.expire(guildID, ReasonEmptyChannel)
		return
	}
}

func (m *ConnectionManager) StopMonitor(guildID string) {
	m.mu.Lock()
	var cancel context.CancelFunc
	if s, ok := m.sessions[guildID]; ok {
		cancel, s.monitorCancel = s.monitorCancel, nil
	}
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (m *ConnectionManager) MonitorActive(guildID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[guildID]
	return ok && s.monitorCancel != nil
}

func (m *ConnectionManager) expire(guildID string, reason CleanupReason) {
	m.mu.Lock()
	fn := m.onExpire
	m.mu.Unlock()
	if fn != nil {
		fn(guildID, reason)
	}
}

// Disconnect tears down the guild's session. It is a no-op without one.
func (m *ConnectionManager) Disconnect(ctx context.Context, guildID string) error {
	m.mu.Lock()
	s, ok := m.sessions[guildID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.sessions, guildID)
	if s.idle != nil {
		s.idle.Stop()
		s.idle = nil
	}
	s.idleGen++
	cancel, unbind := s.monitorCancel, s.unbind
	s.monitorCancel, s.unbind = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if unbind != nil {
		unbind()
	}

	if err := s.player.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect voice: %w", err)
	}
	m.logger.Info("voice disconnected", zap.String("guild_id", guildID))
	return nil
}

func (m *ConnectionManager) Connected(guildID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[guildID]
	return ok
}

func (m *ConnectionManager) GuildIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

func (m *ConnectionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
