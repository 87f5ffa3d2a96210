package buffer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/controlbus/errors"
	"github.com/c360/controlbus/metric"
)

func TestHandoff_SwapPreservesOrder(t *testing.T) {
	h, err := NewHandoff[int](ModePush)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, h.Push(i))
	}
	assert.Equal(t, 5, h.Len())

	out, err := h.Swap(nil)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, out)
	assert.Equal(t, 0, h.Len())

	out, err = h.Swap(out[:0])
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestHandoff_SwapAppendsToDst(t *testing.T) {
	h, err := NewHandoff[string](ModePush)
	require.NoError(t, err)
	require.NoError(t, h.Push("b"))

	out, err := h.Swap([]string{"a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, out)
}

func TestHandoff_ModeMismatch(t *testing.T) {
	push, err := NewHandoff[int](ModePush)
	require.NoError(t, err)
	_, _, err = push.Dequeue()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrModeMismatch))

	pull, err := NewHandoff[int](ModePull)
	require.NoError(t, err)
	_, err = pull.Swap(nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrModeMismatch))
}

func TestHandoff_PullMode(t *testing.T) {
	h, err := NewHandoff[int](ModePull)
	require.NoError(t, err)

	_, ok, err := h.Dequeue()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, h.Push(1))
	require.NoError(t, h.Push(2))

	select {
	case <-h.Ready():
	case <-time.After(time.Second):
		t.Fatal("ready not signalled")
	}

	v, ok, err := h.Dequeue()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, v)

	select {
	case <-h.Ready():
	default:
		t.Fatal("ready should be re-signalled while items remain")
	}

	v, ok, _ = h.Dequeue()
	require.True(t, ok)
	assert.Equal(t, 2, v)

	_, ok, _ = h.Dequeue()
	assert.False(t, ok)
}

func TestHandoff_Overflow(t *testing.T) {
	tests := []struct {
		name   string
		policy OverflowPolicy
		want   []int
		drop   []int
	}{
		{"drop oldest", DropOldest, []int{3, 4, 5}, []int{1, 2}},
		{"drop newest", DropNewest, []int{1, 2, 3}, []int{4, 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var dropped []int
			h, err := NewHandoff[int](ModePush,
				WithCapacity[int](3),
				WithOverflowPolicy[int](tt.policy),
				WithDropCallback[int](func(v int) { dropped = append(dropped, v) }),
			)
			require.NoError(t, err)

			for i := 1; i <= 5; i++ {
				require.NoError(t, h.Push(i))
			}

			out, err := h.Swap(nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
			assert.Equal(t, tt.drop, dropped)
			assert.Equal(t, int64(2), h.Stats().Drops())
		})
	}
}

func TestHandoff_Close(t *testing.T) {
	h, err := NewHandoff[int](ModePush)
	require.NoError(t, err)
	require.NoError(t, h.Push(1))

	h.Close()
	err = h.Push(2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrAlreadyStopped))

	out, err := h.Swap(nil)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, out, "queued items survive close")
}

func TestHandoff_Statistics(t *testing.T) {
	h, err := NewHandoff[int](ModePush)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		require.NoError(t, h.Push(i))
	}
	_, err = h.Swap(nil)
	require.NoError(t, err)

	summary := h.Stats().Summary()
	assert.Equal(t, int64(4), summary.Pushes)
	assert.Equal(t, int64(4), summary.Taken)
	assert.Equal(t, int64(1), summary.Takes)
	assert.Equal(t, int64(4), summary.MaxSize)
	assert.Equal(t, int64(0), summary.CurrentSize)
}

func TestHandoff_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	h, err := NewHandoff[int](ModePush, WithMetrics[int](registry, "tcp_inbound"))
	require.NoError(t, err)

	require.NoError(t, h.Push(1))
	require.NoError(t, h.Push(2))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.size))

	_, err = h.Swap(nil)
	require.NoError(t, err)
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.taken))
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.size))
}

type payload struct {
	producer int
	seq      int
}

// Many producers push distinct pointers while the consumer swaps repeatedly.
// Every pointer must come out exactly once.
func TestHandoff_ConcurrentIntegrity(t *testing.T) {
	const (
		producers   = 8
		perProducer = 5000
	)

	h, err := NewHandoff[*payload](ModePush)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	var pushed atomic.Int64
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				if err := h.Push(&payload{producer: p, seq: i}); err != nil {
					t.Errorf("push: %v", err)
					return
				}
				pushed.Add(1)
			}
		}(p)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	seen := make(map[*payload]struct{}, producers*perProducer)
	lastSeq := make([]int, producers)
	for i := range lastSeq {
		lastSeq[i] = -1
	}

	var batch []*payload
	consume := func() {
		batch, err = h.Swap(batch[:0])
		require.NoError(t, err)
		for _, item := range batch {
			_, dup := seen[item]
			require.False(t, dup, "payload delivered twice")
			seen[item] = struct{}{}

			assert.Greater(t, item.seq, lastSeq[item.producer], "per-producer order")
			lastSeq[item.producer] = item.seq
		}
	}

	for finished := false; !finished; {
		select {
		case <-done:
			finished = true
		case <-ctx.Done():
			t.Fatal("producers did not finish")
		default:
		}
		consume()
	}
	consume()

	assert.Equal(t, int64(producers*perProducer), pushed.Load())
	assert.Len(t, seen, producers*perProducer, "no payload lost")
	assert.Equal(t, 0, h.Len())
}

// Pull consumers racing each other must still see every item once.
func TestHandoff_ConcurrentPull(t *testing.T) {
	const total = 10000

	h, err := NewHandoff[int](ModePull)
	require.NoError(t, err)

	var seen sync.Map
	var count atomic.Int64
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var consumers sync.WaitGroup
	for c := 0; c < 3; c++ {
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			for {
				for {
					v, ok, err := h.Dequeue()
					if err != nil {
						t.Errorf("dequeue: %v", err)
						return
					}
					if !ok {
						break
					}
					if _, loaded := seen.LoadOrStore(v, struct{}{}); loaded {
						t.Errorf("value %d delivered twice", v)
					}
					count.Add(1)
				}
				select {
				case <-h.Ready():
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	for i := 0; i < total; i++ {
		require.NoError(t, h.Push(i))
	}

	require.Eventually(t, func() bool { return count.Load() == total }, 10*time.Second, 5*time.Millisecond)
	cancel()
	consumers.Wait()
}
