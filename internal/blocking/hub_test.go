package blocking_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redlite/redlite/internal/blocking"
)

func TestNotifyWakesOldestWaiterFirst(t *testing.T) {
	hub := blocking.New(nil)
	key := [][]byte{[]byte("q")}

	w1 := hub.Register(0, key)
	w2 := hub.Register(0, key)

	woken := hub.Notify(0, []byte("q"), 1)
	assert.Equal(t, 1, woken)

	select {
	case <-w1.Ready():
	default:
		t.Fatal("w1 (oldest) should have been woken first")
	}
	select {
	case <-w2.Ready():
		t.Fatal("w2 should still be waiting")
	default:
	}

	woken = hub.Notify(0, []byte("q"), 1)
	assert.Equal(t, 1, woken)
	select {
	case <-w2.Ready():
	default:
		t.Fatal("w2 should now be woken")
	}
}

func TestWaitTimesOutWithoutSignal(t *testing.T) {
	w := blocking.New(nil).Register(0, [][]byte{[]byte("q")})
	woken, err := blocking.Wait(context.Background(), w, time.Now().Add(20*time.Millisecond))
	require.NoError(t, err)
	assert.False(t, woken)
}

func TestCancelRemovesFromQueue(t *testing.T) {
	hub := blocking.New(nil)
	key := [][]byte{[]byte("q")}
	w := hub.Register(0, key)
	hub.Cancel(0, key, w)

	woken := hub.Notify(0, []byte("q"), 1)
	assert.Equal(t, 0, woken)
}

func TestNotifyWakesUpToCount(t *testing.T) {
	hub := blocking.New(nil)
	key := [][]byte{[]byte("q")}
	w1 := hub.Register(0, key)
	w2 := hub.Register(0, key)
	w3 := hub.Register(0, key)

	woken := hub.Notify(0, []byte("q"), 2)
	assert.Equal(t, 2, woken)

	for _, w := range []*blocking.Waiter{w1, w2} {
		select {
		case <-w.Ready():
		default:
			t.Fatal("expected waiter to be woken")
		}
	}
	select {
	case <-w3.Ready():
		t.Fatal("w3 should still be waiting")
	default:
	}
}

func TestPollSucceedsOnFirstTry(t *testing.T) {
	ok, err := blocking.Poll(context.Background(), time.Millisecond, time.Time{}, func() (bool, error) {
		return true, nil
	})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPollTimesOut(t *testing.T) {
	ok, err := blocking.Poll(context.Background(), time.Millisecond, time.Now().Add(10*time.Millisecond), func() (bool, error) {
		return false, nil
	})
	require.NoError(t, err)
	assert.False(t, ok)
}
