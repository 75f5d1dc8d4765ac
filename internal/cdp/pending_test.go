package cdp

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPending_IDsAreMonotonic(t *testing.T) {
	t.Parallel()

	p := NewPending()
	a := p.NextID()
	b, _ := p.Register("c1", "Runtime.evaluate", time.Minute)
	c := p.NextID()
	require.Less(t, a, b)
	require.Less(t, b, c)
}

func TestPending_ResolveExactlyOnce(t *testing.T) {
	t.Parallel()

	p := NewPending()
	id, ch := p.Register("c1", "Runtime.evaluate", time.Minute)
	require.Equal(t, 1, p.Len())

	require.True(t, p.Resolve(id, Reply{Value: "2"}))
	require.False(t, p.Resolve(id, Reply{Value: "3"}))
	require.Zero(t, p.Len())

	reply := <-ch
	require.Equal(t, "2", reply.Value)
	require.NoError(t, reply.Err)

	select {
	case extra := <-ch:
		t.Fatalf("unexpected second reply: %+v", extra)
	default:
	}
}

func TestPending_TimeoutThenLateReply(t *testing.T) {
	t.Parallel()

	p := NewPending()
	id, ch := p.Register("c1", "Runtime.evaluate", 20*time.Millisecond)

	select {
	case reply := <-ch:
		require.ErrorIs(t, reply.Err, ErrRequestTimeout)
		require.Contains(t, reply.Err.Error(), "Runtime.evaluate")
	case <-time.After(2 * time.Second):
		t.Fatal("timeout never fired")
	}

	require.Zero(t, p.Len())
	require.False(t, p.Resolve(id, Reply{Value: "late"}), "late replies are discarded")
}

func TestPending_Cancel(t *testing.T) {
	t.Parallel()

	p := NewPending()
	id, ch := p.Register("c1", "Runtime.evaluate", 20*time.Millisecond)
	require.True(t, p.Cancel(id))
	require.False(t, p.Cancel(id))

	select {
	case reply := <-ch:
		t.Fatalf("cancelled request must not receive a reply: %+v", reply)
	case <-time.After(60 * time.Millisecond):
	}
}

func TestPending_FailOwner(t *testing.T) {
	t.Parallel()

	p := NewPending()
	_, ch1 := p.Register("c1", "Runtime.evaluate", time.Minute)
	_, ch2 := p.Register("c1", "Runtime.evaluate", time.Minute)
	_, other := p.Register("c2", "Runtime.evaluate", time.Minute)

	require.Equal(t, 2, p.FailOwner("c1", ErrConnClosed))
	require.Equal(t, 1, p.Len())

	for _, ch := range []<-chan Reply{ch1, ch2} {
		reply := <-ch
		require.ErrorIs(t, reply.Err, ErrConnClosed)
	}

	select {
	case <-other:
		t.Fatal("requests of other owners must stay pending")
	default:
	}
}

func TestPending_ConcurrentResolveAndTimeout(t *testing.T) {
	t.Parallel()

	p := NewPending()
	const n = 200

	var wg sync.WaitGroup
	replies := make([]<-chan Reply, n)
	for i := range n {
		id, ch := p.Register("c1", "Runtime.evaluate", time.Millisecond)
		replies[i] = ch
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Resolve(id, Reply{Value: "ok"})
		}()
	}
	wg.Wait()

	for _, ch := range replies {
		select {
		case reply := <-ch:
			if reply.Err != nil {
				require.True(t, errors.Is(reply.Err, ErrRequestTimeout))
			} else {
				require.Equal(t, "ok", reply.Value)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("request never resolved")
		}
	}
	require.Zero(t, p.Len())
}
