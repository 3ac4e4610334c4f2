// Package events is an in-process publish/subscribe bus with global and
// guild-scoped subscriptions.
//
// Every subscriber owns a buffered mailbox drained by its own goroutine, so a
// slow or failing subscriber never blocks Publish. Delivery order across
// subscribers is unspecified; a single subscriber sees events in publish
// order. When a mailbox is full the event is dropped for that subscriber.
package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Type string

const (
	Any Type = ""

	TrackStarted    Type = "track_started"
	TrackEnded      Type = "track_ended"
	TrackLooped     Type = "track_looped"
	NowPlayingReset Type = "now_playing_reset"
	AutoplayPicked  Type = "autoplay_picked"
	QueueFinished   Type = "queue_finished"
	QueueUpdated    Type = "queue_updated"
	PlaybackError   Type = "playback_error"
	CleanupStarted  Type = "cleanup_started"
	CleanupComplete Type = "cleanup_complete"
)

type Payload map[string]any

type Event struct {
	ID      string
	Type    Type
	GuildID string
	At      time.Time
	Payload Payload
}

type Handler func(Event)

const mailboxSize = 64

type subscriber struct {
	id      uint64
	guildID string
	typ     Type
	handler Handler
	mailbox chan Event
	once    sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.mailbox) })
}

type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	global map[uint64]*subscriber
	guilds map[string]map[uint64]*subscriber
	logger *zap.Logger
}

func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		global: make(map[uint64]*subscriber),
		guilds: make(map[string]map[uint64]*subscriber),
		logger: logger.Named("events"),
	}
}

// Subscribe registers a handler for every guild. Pass Any to receive all
// event types. The returned func removes the subscription.
func (b *Bus) Subscribe(typ Type, handler Handler) func() {
	return b.add("", typ, handler)
}

// SubscribeGuild registers a handler that only sees events of one guild.
// It is removed by RemoveGuildListeners during cleanup.
func (b *Bus) SubscribeGuild(guildID string, typ Type, handler Handler) func() {
	return b.add(guildID, typ, handler)
}

func (b *Bus) add(guildID string, typ Type, handler Handler) func() {
	if handler == nil {
		return func() {}
	}

	b.mu.Lock()
	b.nextID++
	sub := &subscriber{
		id:      b.nextID,
		guildID: guildID,
		typ:     typ,
		handler: handler,
		mailbox: make(chan Event, mailboxSize),
	}
	if guildID == "" {
		b.global[sub.id] = sub
	} else {
		subs, ok := b.guilds[guildID]
		if !ok {
			subs = make(map[uint64]*subscriber)
			b.guilds[guildID] = subs
		}
		subs[sub.id] = sub
	}
	b.mu.Unlock()

	go b.drain(sub)

	return func() { b.remove(sub) }
}

func (b *Bus) remove(sub *subscriber) {
	b.mu.Lock()
	if sub.guildID == "" {
		delete(b.global, sub.id)
	} else if subs, ok := b.guilds[sub.guildID]; ok {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(b.guilds, sub.guildID)
		}
	}
	b.mu.Unlock()
	sub.close()
}

// RemoveGuildListeners drops every guild-scoped subscription of guildID and
// returns how many were removed. Global subscribers are untouched.
func (b *Bus) RemoveGuildListeners(guildID string) int {
	b.mu.Lock()
	subs := b.guilds[guildID]
	delete(b.guilds, guildID)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	return len(subs)
}

func (b *Bus) GuildListenerCount(guildID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.guilds[guildID])
}

// Publish delivers ev to matching subscribers without waiting for them.
func (b *Bus) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.RLock()
	targets := make([]*subscriber, 0, len(b.global)+len(b.guilds[ev.GuildID]))
	for _, sub := range b.global {
		if sub.typ == Any || sub.typ == ev.Type {
			targets = append(targets, sub)
		}
	}
	if ev.GuildID != "" {
		for _, sub := range b.guilds[ev.GuildID] {
			if sub.typ == Any || sub.typ == ev.Type {
				targets = append(targets, sub)
			}
		}
	}

	// Sends happen under the read lock so remove() cannot close a mailbox
	// mid-send.
	for _, sub := range targets {
		select {
		case sub.mailbox <- ev:
		default:
			b.logger.Warn("event dropped, subscriber mailbox full",
				zap.String("type", string(ev.Type)),
				zap.String("guild_id", ev.GuildID),
				zap.Uint64("subscriber", sub.id))
		}
	}
	b.mu.RUnlock()
}

func (b *Bus) drain(sub *subscriber) {
	for ev := range sub.mailbox {
		b.deliver(sub, ev)
	}
}

func (b *Bus) deliver(sub *subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event subscriber panicked",
				zap.String("type", string(ev.Type)),
				zap.String("guild_id", ev.GuildID),
				zap.Error(fmt.Errorf("%v", r)))
		}
	}()
	sub.handler(ev)
}
