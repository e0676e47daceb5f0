package dispatch

import (
	"sync"

	"github.com/redlite/redlite/internal/engine"
	"github.com/redlite/redlite/internal/pubsub"
	"github.com/redlite/redlite/internal/txn"
)

// ConnState is one connection's dispatch-visible state: selected database, auth status, its
// transaction-engine session, and its pub/sub subscriptions. internal/server and internal/admin
// each own one ConnState per connection (or per embedded caller) and pass it into every
// Dispatch call.
type ConnState struct {
	mu            sync.Mutex
	DB            engine.DBIndex
	Authenticated bool
	RESP3         bool
	Txn           *txn.Session
	Sub           *connSubscriber

	channels map[string]struct{}
	patterns map[string]struct{}
}

// NewConnState builds a ConnState around txnSession, identified to the pub/sub broker as id;
// deliver is called for every message a subscription of this connection matches. Callers build
// txnSession via txn.New(dir) themselves since its lifetime is tied to the connection, not to
// the Dispatcher.
func NewConnState(txnSession *txn.Session, id string, deliver func(pubsub.Message) error) *ConnState {
	return &ConnState{
		Txn:      txnSession,
		Sub:      &connSubscriber{id: id, deliver: deliver},
		channels: make(map[string]struct{}),
		patterns: make(map[string]struct{}),
	}
}

// InSubscriberMode reports whether this connection has any active channel or pattern
// subscription (spec §4.G: such a connection may only issue (P)SUBSCRIBE/(P)UNSUBSCRIBE/PING).
func (cs *ConnState) InSubscriberMode() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.channels) > 0 || len(cs.patterns) > 0
}

func (cs *ConnState) addChannel(ch string)    { cs.mu.Lock(); cs.channels[ch] = struct{}{}; cs.mu.Unlock() }
func (cs *ConnState) removeChannel(ch string) { cs.mu.Lock(); delete(cs.channels, ch); cs.mu.Unlock() }
func (cs *ConnState) addPattern(p string)     { cs.mu.Lock(); cs.patterns[p] = struct{}{}; cs.mu.Unlock() }
func (cs *ConnState) removePattern(p string)  { cs.mu.Lock(); delete(cs.patterns, p); cs.mu.Unlock() }

func (cs *ConnState) channelCount() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.channels) + len(cs.patterns)
}

// connSubscriber adapts one connection into a pubsub.Subscriber.
type connSubscriber struct {
	id      string
	deliver func(pubsub.Message) error
}

func (s *connSubscriber) ID() string { return s.id }

func (s *connSubscriber) Send(m pubsub.Message) error {
	return s.deliver(m)
}
