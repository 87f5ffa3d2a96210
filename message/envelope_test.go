package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/controlbus/errors"
	"github.com/c360/controlbus/pkg/pool"
)

func TestEnvelope_Push(t *testing.T) {
	key := NewInstanceKey("touch", "contacts", "1")
	a := NewEnvelope(KindControl, key)
	a.Parameters.Set("x", 1)
	a.SetProperty("source", "table")

	b := NewEnvelope(KindControl, key)
	b.Parameters.Set("x", 2)
	b.Parameters.Set("y", 3)
	b.SetProperty("source", "wall")
	b.SetProperty("user", "ana")

	require.NoError(t, a.Push(b))

	x, _ := a.Parameters.Get("x")
	y, _ := a.Parameters.Get("y")
	assert.Equal(t, []float64{2}, x)
	assert.Equal(t, []float64{3}, y)
	assert.Equal(t, map[string]string{"source": "wall", "user": "ana"}, a.Properties)
}

func TestEnvelope_PushMismatch(t *testing.T) {
	key := NewInstanceKey("touch", "contacts", "1")

	tests := []struct {
		name  string
		other *Envelope
	}{
		{"different kind", NewEnvelope(KindCreate, key)},
		{"different instance", NewEnvelope(KindControl, NewInstanceKey("touch", "contacts", "2"))},
		{"static vs dynamic", NewEnvelope(KindControl, NewStaticKey("touch", "contacts"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := NewEnvelope(KindControl, key)
			target.Parameters.Set("x", 1)
			tt.other.Parameters.Set("x", 5)

			err := target.Push(tt.other)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrMergeMismatch))

			x, _ := target.Parameters.Get("x")
			assert.Equal(t, []float64{1}, x, "target is untouched")
		})
	}
}

func TestPool_ReuseAndReset(t *testing.T) {
	p, err := NewPool()
	require.NoError(t, err)

	key := NewInstanceKey("touch", "contacts", "1")
	env := p.Get(KindCreate, key)
	require.True(t, env.Pooled())
	env.Parameters.Set("x", 1, 2)
	env.SetProperty("k", "v")
	assert.Equal(t, 1, p.InUse())

	require.NoError(t, p.Put(env))
	assert.Equal(t, 0, p.InUse())
	assert.Equal(t, KindUnknown, env.Kind)
	assert.Equal(t, 0, env.Parameters.Len())
	assert.Empty(t, env.Properties)

	again := p.Get(KindControl, NewStaticKey("touch", "contacts"))
	assert.Same(t, env, again)
	assert.Equal(t, KindControl, again.Kind)

	stats := p.Stats()
	assert.Equal(t, uint64(2), stats.Acquires)
	assert.Equal(t, 1, stats.Slots)
}

func TestPool_DoubleRelease(t *testing.T) {
	p, err := NewPool()
	require.NoError(t, err)

	env := p.Get(KindControl, NewStaticKey("a", "b"))
	require.NoError(t, p.Put(env))

	err = p.Put(env)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDoubleRelease))
}

func TestPool_DetachedWhenExhausted(t *testing.T) {
	p, err := NewPool(pool.WithLimit[Envelope](1))
	require.NoError(t, err)

	first := p.Get(KindControl, NewStaticKey("a", "b"))
	second := p.Get(KindControl, NewStaticKey("a", "c"))

	assert.True(t, first.Pooled())
	assert.False(t, second.Pooled())
	assert.Equal(t, NewStaticKey("a", "c"), second.Key)
	assert.NoError(t, p.Put(second), "detached envelopes are ignored")
	assert.Equal(t, uint64(1), p.Stats().Detached)
}

func TestPool_PutAll(t *testing.T) {
	p, err := NewPool()
	require.NoError(t, err)

	batch := []*Envelope{
		p.Get(KindCreate, NewInstanceKey("a", "b", "1")),
		p.Get(KindCreate, NewInstanceKey("a", "b", "2")),
		NewEnvelope(KindEvent, NewStaticKey("a", "b")),
	}
	require.NoError(t, p.PutAll(batch))
	assert.Equal(t, 0, p.InUse())
	assert.Equal(t, []*Envelope{nil, nil, nil}, batch)
}
