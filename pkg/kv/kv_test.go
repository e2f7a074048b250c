package kv

import (
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/stretchr/testify/require"
)

func TestFramedRoundTrip(t *testing.T) {
	p := Pair{Key: []byte("hello"), Value: []byte("world!!")}
	buf := AppendFramed(nil, p.Key, p.Value)
	got, n, ok := DecodeFramed(buf)
	require.True(t, ok)
	require.Equal(t, len(buf), n)
	require.True(t, p.Equal(got))
}

func TestFramedRoundTripProperty(t *testing.T) {
	f := fuzz.New().NilChance(0).NumElements(0, 64)
	for i := 0; i < 200; i++ {
		var key, value []byte
		f.Fuzz(&key)
		f.Fuzz(&value)
		buf := AppendFramed(nil, key, value)
		got, n, ok := DecodeFramed(buf)
		require.True(t, ok)
		require.Equal(t, len(buf), n)
		require.True(t, Pair{Key: key, Value: value}.Equal(got))
	}
}

func TestDecodeFramedShort(t *testing.T) {
	_, _, ok := DecodeFramed([]byte{1, 2, 3})
	require.False(t, ok)

	full := AppendFramed(nil, []byte("abc"), []byte("defgh"))
	_, _, ok = DecodeFramed(full[:len(full)-1])
	require.False(t, ok)
}

func TestCompareKeys(t *testing.T) {
	require.Equal(t, 0, CompareKeys([]byte("a"), []byte("a")))
	require.Equal(t, -1, CompareKeys([]byte("a"), []byte("b")))
	require.Equal(t, 1, CompareKeys([]byte("b"), []byte("a")))
	require.Equal(t, -1, CompareKeys([]byte("a"), []byte("aa")))
}

func TestHash64Deterministic(t *testing.T) {
	require.Equal(t, Hash64([]byte("x")), Hash64([]byte("x")))
	require.NotEqual(t, Hash64([]byte("x")), Hash64([]byte("y")))
	require.Len(t, Hash64BE([]byte("x")), 8)
}
