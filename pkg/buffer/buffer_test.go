package buffer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendAndIterate(t *testing.T) {
	b := New(256, Framed)
	require.NoError(t, b.Append([]byte("a"), []byte("1")))
	require.NoError(t, b.Append([]byte("bb"), []byte("22")))

	it := b.Iterate()
	p1, ok := it.Next()
	require.True(t, ok)
	require.Equal(t, "a", string(p1.Key))
	require.Equal(t, "1", string(p1.Value))

	p2, ok := it.Next()
	require.True(t, ok)
	require.Equal(t, "bb", string(p2.Key))
	require.Equal(t, "22", string(p2.Value))

	_, ok = it.Next()
	require.False(t, ok)
}

func TestAppendTooLarge(t *testing.T) {
	b := New(8, Framed)
	err := b.Append([]byte("abcdefgh"), []byte("x"))
	require.Error(t, err)
}

func TestSplitAppend(t *testing.T) {
	key := []byte("the-key")
	value := make([]byte, 40)
	for i := range value {
		value[i] = byte(i)
	}

	b1 := New(20, Framed)
	cursor, err := b1.BeginSplitAppend(key, value)
	require.NoError(t, err)
	require.False(t, cursor.Done())

	b2 := New(64, Framed)
	done := cursor.Continue(b2)
	require.True(t, done)

	// b1 holds a prefix with no valid complete record; b2 only holds the
	// suffix bytes, so reconstructing the logical record requires
	// concatenating b1's tail and b2's data from their respective offsets,
	// which no package in this module does. Here we only check the cursor
	// bookkeeping.
	require.Equal(t, 20, b1.Size())
	require.True(t, b2.Size() > 0)
}

func TestPoolGetPutBlocking(t *testing.T) {
	p := NewPool(128, 8, 1, Framed)
	ctx := context.Background()

	b1, err := p.Get(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 1, p.Outstanding())

	done := make(chan struct{})
	go func() {
		b2, err := p.Get(ctx, 0)
		require.NoError(t, err)
		require.NotNil(t, b2)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second Get should have blocked")
	default:
	}

	p.Put(b1)
	<-done
}

func TestPoolOversized(t *testing.T) {
	p := NewPool(64, 1, 0, Framed)
	b, err := p.Get(context.Background(), 1024)
	require.NoError(t, err)
	require.GreaterOrEqual(t, b.Capacity(), 1024)
	p.Put(b)
	require.Equal(t, 0, len(p.free))
}
