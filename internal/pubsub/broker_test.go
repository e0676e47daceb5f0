package pubsub_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redlite/redlite/internal/pubsub"
)

type fakeSub struct {
	id  string
	got []pubsub.Message
}

func (f *fakeSub) ID() string { return f.id }
func (f *fakeSub) Send(m pubsub.Message) error {
	f.got = append(f.got, m)
	return nil
}

func TestPublishDeliversToExactSubscribers(t *testing.T) {
	b := pubsub.New(nil)
	s1 := &fakeSub{id: "s1"}
	s2 := &fakeSub{id: "s2"}
	b.Subscribe("news", s1)
	b.Subscribe("news", s2)

	n := b.Publish("news", []byte("hello"))
	assert.Equal(t, 2, n)
	require.Len(t, s1.got, 1)
	require.Len(t, s2.got, 1)
	assert.Equal(t, "hello", string(s1.got[0].Payload))
	assert.Nil(t, s1.got[0].Pattern)
}

func TestPublishDeliversToPatternSubscribers(t *testing.T) {
	b := pubsub.New(nil)
	s := &fakeSub{id: "s"}
	b.PSubscribe("news.*", s)

	n := b.Publish("news.sports", []byte("score"))
	assert.Equal(t, 1, n)
	require.Len(t, s.got, 1)
	assert.Equal(t, "news.*", string(s.got[0].Pattern))
	assert.Equal(t, "news.sports", string(s.got[0].Channel))
}

func TestUnsubscribeAllRemovesFromEverything(t *testing.T) {
	b := pubsub.New(nil)
	s := &fakeSub{id: "s"}
	b.Subscribe("a", s)
	b.PSubscribe("b.*", s)

	b.UnsubscribeAll(s)

	assert.Equal(t, 0, b.Publish("a", []byte("x")))
	assert.Equal(t, 0, b.Publish("b.x", []byte("x")))
	assert.Equal(t, 0, b.ChannelCount())
	assert.Equal(t, 0, b.PatternCount())
}

func TestNoSubscribersDeliversZero(t *testing.T) {
	b := pubsub.New(nil)
	assert.Equal(t, 0, b.Publish("nobody", []byte("x")))
}
