package dispatch_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redlite/redlite/internal/blocking"
	"github.com/redlite/redlite/internal/dispatch"
	"github.com/redlite/redlite/internal/keydir"
	"github.com/redlite/redlite/internal/pubsub"
	"github.com/redlite/redlite/internal/resp"
	"github.com/redlite/redlite/internal/storage"
	"github.com/redlite/redlite/internal/storage/sqlite"
	"github.com/redlite/redlite/internal/txn"
	"github.com/redlite/redlite/internal/types/hashes"
	jsontype "github.com/redlite/redlite/internal/types/json"
	"github.com/redlite/redlite/internal/types/lists"
	"github.com/redlite/redlite/internal/types/sets"
	"github.com/redlite/redlite/internal/types/streams"
	"github.com/redlite/redlite/internal/types/strings"
	"github.com/redlite/redlite/internal/types/zsets"
)

func newDispatcher(t *testing.T) (*dispatch.Dispatcher, storage.PageStore) {
	t.Helper()
	store, err := sqlite.Open(context.Background(), t.TempDir()+"/test.db", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	dir := keydir.New()
	d := dispatch.New(dispatch.Dispatcher{
		Store:     store,
		Dir:       dir,
		Strings:   strings.New(dir),
		Hashes:    hashes.New(dir),
		Lists:     lists.New(dir),
		Sets:      sets.New(dir),
		ZSets:     zsets.New(dir),
		Streams:   streams.New(dir),
		JSON:      jsontype.New(dir),
		Broker:    pubsub.New(nil),
		Blocking:  blocking.New(nil),
		Databases: 16,
	})
	return d, store
}

func newConnState(dir *keydir.Directory) *dispatch.ConnState {
	return dispatch.NewConnState(txn.New(dir), "test-conn", func(pubsub.Message) error { return nil })
}

func command(name string, args ...string) resp.Command {
	raw := make([][]byte, len(args))
	for i, a := range args {
		raw[i] = []byte(a)
	}
	return resp.Command{Name: name, Args: raw}
}

func TestPingEchoesBack(t *testing.T) {
	d, store := newDispatcher(t)
	cs := newConnState(keydir.New())
	_ = store

	reply := d.Dispatch(context.Background(), cs, command("PING"))
	assert.Equal(t, resp.Simple("PONG"), reply)
}

func TestSetGetRoundTrip(t *testing.T) {
	d, _ := newDispatcher(t)
	cs := newConnState(keydir.New())
	ctx := context.Background()

	reply := d.Dispatch(ctx, cs, command("SET", "k", "v1"))
	assert.Equal(t, resp.OK(), reply)

	reply = d.Dispatch(ctx, cs, command("GET", "k"))
	assert.Equal(t, resp.BulkBytes([]byte("v1")), reply)

	reply = d.Dispatch(ctx, cs, command("GET", "missing"))
	assert.Equal(t, resp.NullBulk(), reply)
}

func TestWrongTypeError(t *testing.T) {
	d, _ := newDispatcher(t)
	cs := newConnState(keydir.New())
	ctx := context.Background()

	require.Equal(t, resp.OK(), d.Dispatch(ctx, cs, command("SET", "k", "v1")))

	reply := d.Dispatch(ctx, cs, command("LPUSH", "k", "x"))
	assert.Equal(t, resp.KindError, reply.Kind)
	assert.Contains(t, reply.Str, "WRONGTYPE")
}

func TestMultiExecRunsQueuedCommands(t *testing.T) {
	d, _ := newDispatcher(t)
	cs := newConnState(keydir.New())
	ctx := context.Background()

	require.Equal(t, resp.OK(), d.Dispatch(ctx, cs, command("MULTI")))
	assert.Equal(t, resp.Simple("QUEUED"), d.Dispatch(ctx, cs, command("SET", "k", "v1")))
	assert.Equal(t, resp.Simple("QUEUED"), d.Dispatch(ctx, cs, command("INCR", "n")))

	reply := d.Dispatch(ctx, cs, command("EXEC"))
	require.Equal(t, resp.KindArray, reply.Kind)
	require.Len(t, reply.Items, 2)
	assert.Equal(t, resp.OK(), reply.Items[0])
	assert.Equal(t, resp.Int(1), reply.Items[1])

	reply = d.Dispatch(ctx, cs, command("GET", "k"))
	assert.Equal(t, resp.BulkBytes([]byte("v1")), reply)
}

func TestDiscardDropsQueuedCommands(t *testing.T) {
	d, _ := newDispatcher(t)
	cs := newConnState(keydir.New())
	ctx := context.Background()

	require.Equal(t, resp.OK(), d.Dispatch(ctx, cs, command("MULTI")))
	assert.Equal(t, resp.Simple("QUEUED"), d.Dispatch(ctx, cs, command("SET", "k", "v1")))
	assert.Equal(t, resp.OK(), d.Dispatch(ctx, cs, command("DISCARD")))

	reply := d.Dispatch(ctx, cs, command("GET", "k"))
	assert.Equal(t, resp.NullBulk(), reply)
}

func TestScanFindsInsertedKeys(t *testing.T) {
	d, _ := newDispatcher(t)
	cs := newConnState(keydir.New())
	ctx := context.Background()

	require.Equal(t, resp.OK(), d.Dispatch(ctx, cs, command("SET", "a", "1")))
	require.Equal(t, resp.OK(), d.Dispatch(ctx, cs, command("SET", "b", "2")))

	reply := d.Dispatch(ctx, cs, command("SCAN", "0"))
	require.Equal(t, resp.KindArray, reply.Kind)
	require.Len(t, reply.Items, 2)
	keys := reply.Items[1]
	require.Equal(t, resp.KindArray, keys.Kind)
	assert.Len(t, keys.Items, 2)
}

func TestUnknownCommandReturnsError(t *testing.T) {
	d, _ := newDispatcher(t)
	cs := newConnState(keydir.New())

	reply := d.Dispatch(context.Background(), cs, command("NOTACOMMAND"))
	assert.Equal(t, resp.KindError, reply.Kind)
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	d, _ := newDispatcher(t)
	ctx := context.Background()

	received := make(chan []byte, 1)
	subCS := dispatch.NewConnState(txn.New(keydir.New()), "subscriber", func(m pubsub.Message) error {
		received <- m.Payload
		return nil
	})
	pubCS := newConnState(keydir.New())

	reply := d.Dispatch(ctx, subCS, command("SUBSCRIBE", "news"))
	require.Equal(t, resp.KindArray, reply.Kind)

	reply = d.Dispatch(ctx, pubCS, command("PUBLISH", "news", "hello"))
	assert.Equal(t, resp.Int(1), reply)

	select {
	case payload := <-received:
		assert.Equal(t, []byte("hello"), payload)
	default:
		t.Fatal("expected PUBLISH to deliver synchronously to the subscriber")
	}
}

func TestBLPopReturnsImmediatelyWhenElementPresent(t *testing.T) {
	d, _ := newDispatcher(t)
	cs := newConnState(keydir.New())
	ctx := context.Background()

	require.Equal(t, resp.Int(1), d.Dispatch(ctx, cs, command("RPUSH", "q", "a")))

	reply := d.Dispatch(ctx, cs, command("BLPOP", "q", "0"))
	require.Equal(t, resp.KindArray, reply.Kind)
	require.Len(t, reply.Items, 2)
	assert.Equal(t, resp.BulkBytes([]byte("q")), reply.Items[0])
	assert.Equal(t, resp.BulkBytes([]byte("a")), reply.Items[1])
}

func TestBLPopTimesOutOnEmptyList(t *testing.T) {
	d, _ := newDispatcher(t)
	cs := newConnState(keydir.New())
	ctx := context.Background()

	reply := d.Dispatch(ctx, cs, command("BLPOP", "missing", "0.01"))
	assert.Equal(t, resp.NullArray(), reply)
}

func TestBLPopInsideMultiNeverBlocks(t *testing.T) {
	d, _ := newDispatcher(t)
	cs := newConnState(keydir.New())
	ctx := context.Background()

	require.Equal(t, resp.OK(), d.Dispatch(ctx, cs, command("MULTI")))
	assert.Equal(t, resp.Simple("QUEUED"), d.Dispatch(ctx, cs, command("BLPOP", "missing", "0")))

	done := make(chan resp.Reply, 1)
	go func() { done <- d.Dispatch(ctx, cs, command("EXEC")) }()

	select {
	case reply := <-done:
		require.Equal(t, resp.KindArray, reply.Kind)
		require.Len(t, reply.Items, 1)
		assert.Equal(t, resp.NullArray(), reply.Items[0])
	case <-time.After(time.Second):
		t.Fatal("BLPOP inside MULTI/EXEC must not suspend the caller")
	}
}

func TestBLPopWakesOnConcurrentPush(t *testing.T) {
	d, _ := newDispatcher(t)
	dir := keydir.New()
	cs := newConnState(dir)
	ctx := context.Background()

	done := make(chan resp.Reply, 1)
	go func() { done <- d.Dispatch(ctx, cs, command("BLPOP", "q", "5")) }()

	time.Sleep(20 * time.Millisecond)

	pushCS := newConnState(dir)
	require.Equal(t, resp.Int(1), d.Dispatch(ctx, pushCS, command("RPUSH", "q", "b")))

	select {
	case reply := <-done:
		require.Equal(t, resp.KindArray, reply.Kind)
		require.Len(t, reply.Items, 2)
		assert.Equal(t, resp.BulkBytes([]byte("b")), reply.Items[1])
	case <-time.After(time.Second):
		t.Fatal("expected RPUSH to wake the blocked BLPOP")
	}
}
