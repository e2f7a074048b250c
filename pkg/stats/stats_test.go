package stats

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryAccumulatesNamedCounters(t *testing.T) {
	r := NewRegistry()

	r.Add(BytesIn, 100)
	r.Add(BytesIn, 50)
	r.Add(TuplesOut, 3)

	require.Equal(t, int64(150), r.Int(BytesIn).Value())
	require.Equal(t, int64(3), r.Int(TuplesOut).Value())
	require.Equal(t, int64(0), r.Int(FilteredRecords).Value(), "an untouched counter reads zero")
}

// TestRegistryIsSafeForConcurrentAdds mirrors exec/bigmachine.go's
// w.stats.Int("write").Add(n) calls from concurrently running task
// goroutines: many stage instances share one Registry and add to it
// without external locking.
func TestRegistryIsSafeForConcurrentAdds(t *testing.T) {
	r := NewRegistry()

	const goroutines = 50
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			r.Add(BytesOut, 1)
		}()
	}
	wg.Wait()

	require.Equal(t, int64(goroutines), r.Int(BytesOut).Value())
}
