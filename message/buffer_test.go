package message

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/controlbus/errors"
)

type bufferFixture struct {
	pool *Pool
	buf  *Buffer
}

func newBufferFixture(t *testing.T) *bufferFixture {
	t.Helper()
	p, err := NewPool()
	require.NoError(t, err)
	return &bufferFixture{pool: p, buf: NewBuffer(p)}
}

func (f *bufferFixture) enqueue(t *testing.T, kind Kind, key ChannelInstanceKey, params map[string][]float64) {
	t.Helper()
	env := f.pool.Get(kind, key)
	for name, values := range params {
		env.Parameters.Set(name, values...)
	}
	require.NoError(t, f.buf.Enqueue(env))
}

func forKey(batch []*Envelope, key ChannelInstanceKey) []*Envelope {
	var out []*Envelope
	for _, env := range batch {
		if env.Key == key {
			out = append(out, env)
		}
	}
	return out
}

func TestBuffer_ControlCoalesces(t *testing.T) {
	f := newBufferFixture(t)
	key := NewInstanceKey("touch", "contacts", "1")

	f.enqueue(t, KindControl, key, map[string][]float64{"a": {1}})
	f.enqueue(t, KindControl, key, map[string][]float64{"b": {2}})

	batch := f.buf.Drain(nil)
	require.Len(t, batch, 1)
	assert.Equal(t, KindControl, batch[0].Kind)

	var want ParameterSet
	want.Set("a", 1)
	want.Set("b", 2)
	assert.True(t, want.Equal(&batch[0].Parameters), "got %s", batch[0].Parameters.String())

	assert.Equal(t, 1, f.pool.InUse(), "merged envelope went back to the pool")
	assert.Equal(t, uint64(1), f.buf.Stats().Coalesced)
}

func TestBuffer_DestroyCancelsCreateAndControl(t *testing.T) {
	f := newBufferFixture(t)
	key := NewInstanceKey("touch", "contacts", "1")

	f.enqueue(t, KindCreate, key, map[string][]float64{"a": {1}})
	f.enqueue(t, KindControl, key, map[string][]float64{"a": {2}})
	f.enqueue(t, KindDestroy, key, nil)

	batch := f.buf.Drain(nil)
	require.Len(t, batch, 1)
	assert.Equal(t, KindDestroy, batch[0].Kind)
	assert.Equal(t, key, batch[0].Key)
	assert.Equal(t, 0, batch[0].Parameters.Len())
	assert.Equal(t, uint64(2), f.buf.Stats().Cancelled)
	assert.Equal(t, 1, f.pool.InUse())
}

func TestBuffer_CreateCancelsDestroyAndControl(t *testing.T) {
	f := newBufferFixture(t)
	key := NewInstanceKey("touch", "contacts", "1")

	f.enqueue(t, KindControl, key, map[string][]float64{"b": {5}})
	f.enqueue(t, KindDestroy, key, nil)
	f.enqueue(t, KindCreate, key, map[string][]float64{"a": {1}})

	batch := f.buf.Drain(nil)
	require.Len(t, batch, 1)
	assert.Equal(t, KindCreate, batch[0].Kind)

	var want ParameterSet
	want.Set("a", 1)
	assert.True(t, want.Equal(&batch[0].Parameters))
}

func TestBuffer_ControlAfterCreateIsKept(t *testing.T) {
	f := newBufferFixture(t)
	key := NewInstanceKey("touch", "contacts", "1")

	f.enqueue(t, KindCreate, key, map[string][]float64{"a": {1}})
	f.enqueue(t, KindControl, key, map[string][]float64{"a": {2}})

	batch := f.buf.Drain(nil)
	require.Len(t, batch, 2)
	assert.Equal(t, KindCreate, batch[0].Kind, "creates drain before controls")
	assert.Equal(t, KindControl, batch[1].Kind)
}

func TestBuffer_PerKeyIndependence(t *testing.T) {
	f := newBufferFixture(t)
	keyA := NewInstanceKey("touch", "contacts", "A")
	keyB := NewInstanceKey("touch", "contacts", "B")
	static := NewStaticKey("touch", "contacts")

	f.enqueue(t, KindCreate, keyB, map[string][]float64{"b": {1}})
	f.enqueue(t, KindControl, keyB, map[string][]float64{"b": {2}})
	f.enqueue(t, KindControl, static, map[string][]float64{"s": {3}})

	f.enqueue(t, KindCreate, keyA, map[string][]float64{"a": {1}})
	f.enqueue(t, KindControl, keyA, map[string][]float64{"a": {2}})
	f.enqueue(t, KindDestroy, keyA, nil)

	batch := f.buf.Drain(nil)

	a := forKey(batch, keyA)
	require.Len(t, a, 1)
	assert.Equal(t, KindDestroy, a[0].Kind)

	b := forKey(batch, keyB)
	require.Len(t, b, 2)
	kinds := []Kind{b[0].Kind, b[1].Kind}
	assert.ElementsMatch(t, []Kind{KindCreate, KindControl}, kinds)

	s := forKey(batch, static)
	require.Len(t, s, 1)
	assert.Equal(t, KindControl, s[0].Kind)
}

func TestBuffer_AtMostOnePerKeyKind(t *testing.T) {
	f := newBufferFixture(t)
	kinds := []Kind{KindCreate, KindControl, KindDestroy}

	for i := 0; i < 500; i++ {
		key := NewInstanceKey("c", "ch", fmt.Sprint(i%7))
		f.enqueue(t, kinds[(i*13)%3], key, map[string][]float64{"v": {float64(i)}})
	}

	seen := map[ChannelInstanceKey]map[Kind]bool{}
	for _, env := range f.buf.Drain(nil) {
		if seen[env.Key] == nil {
			seen[env.Key] = map[Kind]bool{}
		}
		assert.False(t, seen[env.Key][env.Kind], "duplicate %s %s", env.Kind, env.Key)
		seen[env.Key][env.Kind] = true
	}

	for key, kinds := range seen {
		assert.False(t, kinds[KindCreate] && kinds[KindDestroy], "create and destroy both pending for %s", key)
		assert.False(t, kinds[KindControl] && kinds[KindDestroy], "control survived destroy for %s", key)
	}
	assert.Equal(t, 0, f.buf.Len())
}

func TestBuffer_EventsAreNotCoalesced(t *testing.T) {
	f := newBufferFixture(t)
	key := NewStaticKey("touch", "gestures")

	f.enqueue(t, KindEvent, key, map[string][]float64{"tap": {1}})
	f.enqueue(t, KindEvent, key, map[string][]float64{"tap": {2}})

	batch := f.buf.Drain(nil)
	require.Len(t, batch, 2)
	first, _ := batch[0].Parameters.Get("tap")
	second, _ := batch[1].Parameters.Get("tap")
	assert.Equal(t, []float64{1}, first)
	assert.Equal(t, []float64{2}, second)
}

func TestBuffer_RejectsComponent(t *testing.T) {
	f := newBufferFixture(t)
	env := f.pool.Get(KindComponent, NewStaticKey("a", "b"))

	err := f.buf.Enqueue(env)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotBufferable))
	assert.Equal(t, 0, f.buf.Len())
}

func TestBuffer_DrainEmptiesAndAppends(t *testing.T) {
	f := newBufferFixture(t)
	f.enqueue(t, KindControl, NewStaticKey("a", "b"), nil)

	prefix := []*Envelope{NewEnvelope(KindEvent, NewStaticKey("x", "y"))}
	batch := f.buf.Drain(prefix)
	assert.Len(t, batch, 2)
	assert.Equal(t, 0, f.buf.Len())
	assert.Empty(t, f.buf.Drain(nil))
}

func TestBuffer_Reset(t *testing.T) {
	f := newBufferFixture(t)
	f.enqueue(t, KindCreate, NewInstanceKey("a", "b", "1"), nil)
	f.enqueue(t, KindControl, NewInstanceKey("a", "b", "1"), nil)
	f.enqueue(t, KindEvent, NewStaticKey("a", "b"), nil)

	f.buf.Reset()
	assert.Equal(t, 0, f.buf.Len())
	assert.Equal(t, 0, f.pool.InUse())
}
