package transport

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/controlbus/errors"
)

func feedAll(t *testing.T, f *Framer, chunks ...string) []string {
	t.Helper()
	var out []string
	for _, c := range chunks {
		require.NoError(t, f.Feed([]byte(c), func(p []byte) { out = append(out, string(p)) }))
	}
	return out
}

func TestFramer_Split(t *testing.T) {
	d := Delimiter
	tests := []struct {
		name   string
		chunks []string
		want   []string
	}{
		{"single frame", []string{d + `{"a":1}` + d}, []string{`{"a":1}`}},
		{"two frames one read", []string{d + "a" + d + d + "b" + d}, []string{"a", "b"}},
		{"split payload", []string{d + `{"a"`, `:1}` + d}, []string{`{"a":1}`}},
		{"split opening delimiter", []string{d[:5], d[5:] + "x" + d}, []string{"x"}},
		{"split closing delimiter", []string{d + "x" + d[:10], d[10:]}, []string{"x"}},
		{"byte at a time", strings.Split(d+"xy"+d, ""), []string{"xy"}},
		{"stray bytes are their own segment", []string{"noise" + d + "x" + d}, []string{"noise", "x"}},
		{"unframed stream", []string{"a" + d + "b" + d + "c" + d}, []string{"a", "b", "c"}},
		{"empty payload skipped", []string{d + d + d + "x" + d}, []string{"x"}},
		{"incomplete", []string{d + "partial"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFramer(0)
			assert.Equal(t, tt.want, feedAll(t, f, tt.chunks...))
		})
	}
}

func TestFramer_KeepsTailAcrossReads(t *testing.T) {
	f := NewFramer(0)
	out := feedAll(t, f, Delimiter+"one"+Delimiter+Delimiter+"tw")
	assert.Equal(t, []string{"one"}, out)
	assert.Equal(t, 2, f.Pending())

	out = feedAll(t, f, "o"+Delimiter)
	assert.Equal(t, []string{"two"}, out)
	assert.Equal(t, 0, f.Pending())
}

func TestFramer_PayloadIsCopied(t *testing.T) {
	f := NewFramer(0)
	data := []byte(Delimiter + "abc" + Delimiter)

	var got []byte
	require.NoError(t, f.Feed(data, func(p []byte) { got = p }))
	data[len(Delimiter)] = 'X'
	assert.Equal(t, "abc", string(got))
}

func TestFramer_TooLarge(t *testing.T) {
	f := NewFramer(64)
	err := f.Feed([]byte(Delimiter+strings.Repeat("x", 100)), func([]byte) {})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrFrameTooLarge))
	assert.True(t, errors.IsInvalid(err))
	assert.Equal(t, 0, f.Pending())

	out := feedAll(t, f, Delimiter+"ok"+Delimiter)
	assert.Equal(t, []string{"ok"}, out, "framer recovers after overflow")
}

func TestFramer_RecoversAfterOversizedFrame(t *testing.T) {
	d := Delimiter
	f := NewFramer(64)

	err := f.Feed([]byte(d+strings.Repeat("x", 100)), func([]byte) {})
	require.True(t, errors.Is(err, errors.ErrFrameTooLarge))

	// The dropped frame's tail and closing delimiter arrive after the reset.
	out := feedAll(t, f, "yyy"+d+d+`{"a":1}`+d+d+`{"b":2}`+d, d+`{"c":3}`+d)
	require.NotEmpty(t, out)
	assert.Equal(t, "yyy", out[0], "remainder of the oversized frame is a stray segment")
	assert.Equal(t, []string{`{"a":1}`, `{"b":2}`, `{"c":3}`}, out[1:])
}

func TestFramer_UndelimitedInputIsBounded(t *testing.T) {
	f := NewFramer(64)
	var overflows int
	for range 10 {
		if err := f.Feed([]byte(strings.Repeat("z", 40)), func([]byte) {}); err != nil {
			assert.True(t, errors.Is(err, errors.ErrFrameTooLarge))
			overflows++
		}
		assert.LessOrEqual(t, f.Pending(), 64)
	}
	assert.Positive(t, overflows)

	assert.Contains(t, feedAll(t, f, Delimiter+"ok"+Delimiter), "ok")
}

func TestAppendFrame(t *testing.T) {
	frame := AppendFrame([]byte("prefix"), []byte("{}"))
	assert.Equal(t, "prefix"+Delimiter+"{}"+Delimiter, string(frame))

	f := NewFramer(0)
	assert.Equal(t, []string{"{}"}, feedAll(t, f, string(frame)))
}
