// Package pubsub implements the channel/pattern pub-sub broker (spec §4.G "Pub/Sub broker"):
// exact-match channels and glob-match patterns, each holding a set of subscribed connections,
// with no persistence or retry — a message not received by a subscriber is simply lost.
package pubsub

import (
	"log/slog"
	"sync"

	"github.com/redlite/redlite/internal/keydir"
)

// Message is one published payload, delivered to a subscriber along with the channel it actually
// matched (equal to the published channel for an exact subscription, or the original channel for
// a pattern match).
type Message struct {
	Channel []byte
	Pattern []byte // nil for a plain channel subscription
	Payload []byte
}

// Subscriber receives messages for its subscriptions. Send must not block for long — Broker
// calls it synchronously while holding no lock, but a slow subscriber can still stall delivery
// to others on the same Publish call, the same tradeoff the teacher's EventBus accepts for its
// in-process broadcast.
type Subscriber interface {
	ID() string
	Send(Message) error
}

// Broker manages channel and pattern subscriptions and delivers published messages (spec §4.G).
type Broker struct {
	mu       sync.RWMutex
	channels map[string]map[Subscriber]struct{}
	patterns map[string]map[Subscriber]struct{}
	logger   *slog.Logger
}

// New builds an empty Broker.
func New(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		channels: make(map[string]map[Subscriber]struct{}),
		patterns: make(map[string]map[Subscriber]struct{}),
		logger:   logger.With("component", "pubsub"),
	}
}

// Subscribe adds sub to channel's subscriber set.
func (b *Broker) Subscribe(channel string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.channels[channel]
	if !ok {
		set = make(map[Subscriber]struct{})
		b.channels[channel] = set
	}
	set[sub] = struct{}{}
}

// Unsubscribe removes sub from channel. If channel is empty, sub is removed from every channel.
func (b *Broker) Unsubscribe(channel string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if channel != "" {
		b.removeFrom(b.channels, channel, sub)
		return
	}
	for ch := range b.channels {
		b.removeFrom(b.channels, ch, sub)
	}
}

// PSubscribe adds sub to pattern's subscriber set.
func (b *Broker) PSubscribe(pattern string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.patterns[pattern]
	if !ok {
		set = make(map[Subscriber]struct{})
		b.patterns[pattern] = set
	}
	set[sub] = struct{}{}
}

// PUnsubscribe removes sub from pattern. If pattern is empty, sub is removed from every pattern.
func (b *Broker) PUnsubscribe(pattern string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if pattern != "" {
		b.removeFrom(b.patterns, pattern, sub)
		return
	}
	for p := range b.patterns {
		b.removeFrom(b.patterns, p, sub)
	}
}

func (b *Broker) removeFrom(m map[string]map[Subscriber]struct{}, key string, sub Subscriber) {
	set, ok := m[key]
	if !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(m, key)
	}
}

// UnsubscribeAll removes sub from every channel and pattern, for connection close (spec §4.G
// "Connection close ... drops subscriptions").
func (b *Broker) UnsubscribeAll(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.channels {
		b.removeFrom(b.channels, ch, sub)
	}
	for p := range b.patterns {
		b.removeFrom(b.patterns, p, sub)
	}
}

// Publish delivers payload to every subscriber of channel (exact match) and every pattern
// subscriber whose pattern glob-matches channel, returning the count actually delivered to
// (spec §4.G: "PUBLISH returns the number of recipients actually delivered to").
func (b *Broker) Publish(channel string, payload []byte) int {
	b.mu.RLock()
	var direct []Subscriber
	if set, ok := b.channels[channel]; ok {
		for sub := range set {
			direct = append(direct, sub)
		}
	}
	type patternHit struct {
		pattern string
		sub     Subscriber
	}
	var matched []patternHit
	for pattern, set := range b.patterns {
		if !keydir.GlobMatch([]byte(pattern), []byte(channel)) {
			continue
		}
		for sub := range set {
			matched = append(matched, patternHit{pattern: pattern, sub: sub})
		}
	}
	b.mu.RUnlock()

	delivered := 0
	for _, sub := range direct {
		if err := sub.Send(Message{Channel: []byte(channel), Payload: payload}); err != nil {
			b.logger.Warn("pubsub delivery failed", "subscriber_id", sub.ID(), "channel", channel, "error", err)
			continue
		}
		delivered++
	}
	for _, hit := range matched {
		msg := Message{Channel: []byte(channel), Pattern: []byte(hit.pattern), Payload: payload}
		if err := hit.sub.Send(msg); err != nil {
			b.logger.Warn("pubsub pattern delivery failed", "subscriber_id", hit.sub.ID(), "pattern", hit.pattern, "error", err)
			continue
		}
		delivered++
	}
	return delivered
}

// ChannelCount returns how many distinct channels have at least one exact subscriber, and
// PatternCount the same for patterns — the bookkeeping behind PUBSUB CHANNELS/NUMPAT.
func (b *Broker) ChannelCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channels)
}

func (b *Broker) PatternCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.patterns)
}

// Channels lists the channel names with at least one exact subscriber, optionally filtered by
// a glob pattern (PUBSUB CHANNELS [pattern]).
func (b *Broker) Channels(pattern string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []string
	for ch := range b.channels {
		if pattern == "" || keydir.GlobMatch([]byte(pattern), []byte(ch)) {
			out = append(out, ch)
		}
	}
	return out
}

// NumSub returns the exact-subscriber count for channel.
func (b *Broker) NumSub(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channels[channel])
}
