package reducer

import (
	"testing"

	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/buffer"
	"github.com/stretchr/testify/require"
)

func newGroupedBuffer(t *testing.T) *buffer.Buffer {
	t.Helper()
	b := buffer.New(4096, buffer.Framed)
	for _, rec := range []struct{ key, value string }{
		{"A", "V1"}, {"A", "V2"}, {"A", "V3"},
		{"B", "W1"}, {"B", "W2"},
	} {
		require.NoError(t, b.Append([]byte(rec.key), []byte(rec.value)))
	}
	return b
}

// TestIteratorWalksKeyGroups reproduces spec.md §8 example 5: a buffer
// with (A,V1),(A,V2),(A,V3),(B,W1),(B,W2) yields start_next_key == A then
// B, and iterating A's group yields V1,V2,V3.
func TestIteratorWalksKeyGroups(t *testing.T) {
	it := NewReduceKVPairIterator(newGroupedBuffer(t))

	key, ok := it.StartNextKey()
	require.True(t, ok)
	require.Equal(t, "A", string(key))

	var values []string
	for {
		pair, more, err := it.Next()
		require.NoError(t, err)
		if !more {
			break
		}
		values = append(values, string(pair.Value))
	}
	require.Equal(t, []string{"V1", "V2", "V3"}, values)

	key, ok = it.StartNextKey()
	require.True(t, ok)
	require.Equal(t, "B", string(key))

	values = nil
	for {
		pair, more, err := it.Next()
		require.NoError(t, err)
		if !more {
			break
		}
		values = append(values, string(pair.Value))
	}
	require.Equal(t, []string{"W1", "W2"}, values)

	_, ok = it.StartNextKey()
	require.False(t, ok)
}

// TestIteratorResetReturnsToFirstValue reproduces spec.md §8 example 5's
// reset() case: after consuming two of A's three values, reset() must
// return to V1.
func TestIteratorResetReturnsToFirstValue(t *testing.T) {
	it := NewReduceKVPairIterator(newGroupedBuffer(t))

	_, ok := it.StartNextKey()
	require.True(t, ok)

	pair, more, err := it.Next()
	require.NoError(t, err)
	require.True(t, more)
	require.Equal(t, "V1", string(pair.Value))

	pair, more, err = it.Next()
	require.NoError(t, err)
	require.True(t, more)
	require.Equal(t, "V2", string(pair.Value))

	it.Reset()

	pair, more, err = it.Next()
	require.NoError(t, err)
	require.True(t, more)
	require.Equal(t, "V1", string(pair.Value))
}

// TestIteratorStartNextKeyCatchesUpAbandonedGroup covers spec.md §4.9's
// "must remain correct... from whatever position it is in": calling
// StartNextKey without exhausting the previous group via Next must still
// land on the right next key.
func TestIteratorStartNextKeyCatchesUpAbandonedGroup(t *testing.T) {
	it := NewReduceKVPairIterator(newGroupedBuffer(t))

	key, ok := it.StartNextKey()
	require.True(t, ok)
	require.Equal(t, "A", string(key))

	// Exit A's group early, after only one value.
	_, more, err := it.Next()
	require.NoError(t, err)
	require.True(t, more)

	key, ok = it.StartNextKey()
	require.True(t, ok)
	require.Equal(t, "B", string(key))
}
