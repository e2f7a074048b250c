package reducer

import (
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/buffer"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/kv"
	"github.com/grailbio/base/errors"
)

// ReduceKVPairIterator is the two-level iterator spec.md §4.9 describes:
// StartNextKey fast-forwards to the next key group, and Next walks the
// records of the group currently being iterated. Grounded line-for-line on
// _examples/original_source/.../reducer/ReduceKVPairIterator.{h,cc}: the
// currentKey/nextKey start-position bookkeeping there is reproduced here
// using buffer.Iterator's Offset/Seek in place of the original's
// getIteratorPosition/setIteratorPosition.
type ReduceKVPairIterator struct {
	it *buffer.Iterator

	currentKey      []byte
	currentKeyStart int

	nextKey           []byte
	nextKeyStart      int
	nextKeyStartKnown bool

	doneWithGroup bool
	noMoreTuples  bool

	seen int
}

// NewReduceKVPairIterator returns an iterator over buf, positioned before
// the first key group.
func NewReduceKVPairIterator(buf *buffer.Buffer) *ReduceKVPairIterator {
	return &ReduceKVPairIterator{it: buf.Iterate(), nextKeyStartKnown: true}
}

// StartNextKey advances to the next key group and returns its key, or
// ok=false once the buffer is exhausted.
func (r *ReduceKVPairIterator) StartNextKey() (key []byte, ok bool) {
	if r.noMoreTuples {
		return nil, false
	}

	if !r.nextKeyStartKnown {
		// The caller abandoned the previous group before exhausting it
		// (spec.md §4.9: "the implementation must be able to fast-forward
		// to the next key from whatever position it is in"); catch up by
		// draining it via Next.
		for {
			if _, more, _ := r.Next(); !more {
				break
			}
		}
		if !r.nextKeyStartKnown {
			// The abandoned group was also the buffer's last: there is no
			// next key. The original asserts here instead, which would
			// panic on exactly this input; returning false is the
			// documented, non-fatal equivalent.
			return nil, false
		}
	}
	r.nextKeyStartKnown = false
	r.doneWithGroup = false

	r.it.Seek(r.nextKeyStart)

	if r.nextKey == nil {
		pair, gotPair := r.it.Next()
		if !gotPair {
			r.noMoreTuples = true
			return nil, false
		}
		r.nextKey = pair.Key
		r.it.Seek(r.nextKeyStart)
	}

	r.currentKeyStart = r.nextKeyStart
	r.currentKey = r.nextKey
	return r.currentKey, true
}

// Next returns the next record belonging to the key group StartNextKey
// just started, or ok=false once the group ends (err is only set if Next
// is called again after a group has already ended, a caller protocol
// violation).
func (r *ReduceKVPairIterator) Next() (p kv.Pair, ok bool, err error) {
	if r.doneWithGroup {
		return kv.Pair{}, false, errors.E(errors.Fatal, "reducer: Next called after its key group already ended")
	}

	recordStart := r.it.Offset()
	pair, gotPair := r.it.Next()
	if !gotPair {
		r.doneWithGroup = true
		r.noMoreTuples = true
		return kv.Pair{}, false, nil
	}

	if kv.CompareKeys(r.currentKey, pair.Key) != 0 {
		r.nextKeyStart = recordStart
		r.nextKeyStartKnown = true
		r.nextKey = pair.Key
		r.doneWithGroup = true
		return kv.Pair{}, false, nil
	}

	r.seen++
	return pair, true, nil
}

// Reset rewinds to the first record of the key group currently being
// iterated.
func (r *ReduceKVPairIterator) Reset() {
	r.doneWithGroup = false
	r.it.Seek(r.currentKeyStart)
}

// TuplesSeen returns the number of records Next has yielded so far across
// every key group of this iterator's lifetime.
func (r *ReduceKVPairIterator) TuplesSeen() int { return r.seen }
