// Package buffer implements KVPairBuffer: a contiguous, fixed-capacity
// region holding a packed sequence of records plus sidecar metadata, and
// the pool discipline (get -> fill -> emit -> consume -> return) described
// in spec.md §2/§4.2.
package buffer

import (
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/kv"
	"github.com/grailbio/base/errors"
)

// Framing is a construction-time property of a Buffer (spec.md §9 Open
// Question: framing is never a per-write toggle).
type Framing int

const (
	// Framed buffers prefix every record with an 8-byte key/value length
	// header (kv.HeaderSize).
	Framed Framing = iota
	// Unframed buffers pack key||value with lengths fixed by job config.
	Unframed
)

// SampleMetadata is the tagged blob appended to the final sample buffer
// emitted by the phase-0 reservoir writer (spec.md §4.3/§6).
type SampleMetadata struct {
	JobID                    uint64
	TuplesIn                 uint64
	BytesIn                  uint64
	TuplesOut                uint64
	BytesOut                 uint64
	BytesCallerTriedToWrite  uint64
}

// Buffer is a KVPairBuffer: capacity bytes of backing storage, a packed
// sequence of records, and the metadata that travels with it through the
// dataflow (job id, destination partition, chunk id, node id).
//
// A Buffer carries exactly one JobID through the core (spec.md §3).
type Buffer struct {
	data    []byte
	size    int
	framing Framing

	// KeyLen/ValueLen are only meaningful when framing == Unframed.
	KeyLen   int
	ValueLen int

	JobID           uint64
	PartitionGroup  uint64
	LogicalDiskID   uint64
	ChunkID         uint64
	NodeID          uint64
	HasPartitionGroup bool

	Sample *SampleMetadata

	// iterator cursor, reset on iteration start
	cursor int

	// pending two-phase append state (SetupAppend/CommitAppend)
	pendingHeaderOffset int
	pendingValueOffset  int
	pendingMaxValueLen  int
	pendingActive       bool
}

// New allocates a Buffer with the given capacity and framing mode. It does
// not come from a pool; use Pool.Get for pooled buffers.
func New(capacity int, framing Framing) *Buffer {
	return &Buffer{data: make([]byte, capacity), framing: framing}
}

// Framing returns the buffer's construction-time framing mode.
func (b *Buffer) Framing() Framing { return b.framing }

// Capacity returns the total number of bytes this buffer can hold.
func (b *Buffer) Capacity() int { return len(b.data) }

// Size returns the number of bytes currently packed into the buffer.
func (b *Buffer) Size() int { return b.size }

// Remaining returns the number of free bytes left in the buffer.
func (b *Buffer) Remaining() int { return len(b.data) - b.size }

// Bytes returns the packed record bytes currently held by the buffer, for
// handing off to a WriterSink. The slice is owned by the buffer and is only
// valid until the next Reset or pool reuse.
func (b *Buffer) Bytes() []byte { return b.data[:b.size] }

// Reset clears the buffer's contents and metadata so it can be reused by
// a pool, preserving its capacity and framing.
func (b *Buffer) Reset() {
	b.size = 0
	b.cursor = 0
	b.JobID = 0
	b.PartitionGroup = 0
	b.HasPartitionGroup = false
	b.LogicalDiskID = 0
	b.ChunkID = 0
	b.NodeID = 0
	b.Sample = nil
}

// CanAppend reports whether a record of writeSize bytes fits in the
// remaining capacity.
func (b *Buffer) CanAppend(writeSize int) bool {
	return b.size+writeSize <= len(b.data)
}

// Append packs one record onto the end of the buffer using the buffer's
// framing mode. It returns an error if the record does not fit; callers
// must check CanAppend (or handle the error) before calling Append, since
// the core never silently truncates a record (spec.md §4.2 invariant:
// append is only allowed when current_size + record_size <= capacity).
func (b *Buffer) Append(key, value []byte) error {
	var need int
	switch b.framing {
	case Framed:
		need = kv.HeaderSize + len(key) + len(value)
	default:
		need = len(key) + len(value)
	}
	if !b.CanAppend(need) {
		return errors.E(errors.Fatal, "buffer.Append: record of %d bytes does not fit in %d remaining", need, b.Remaining())
	}
	switch b.framing {
	case Framed:
		var hdr [kv.HeaderSize]byte
		kv.PutHeader(hdr[:], uint32(len(key)), uint32(len(value)))
		b.size += copy(b.data[b.size:], hdr[:])
		b.size += copy(b.data[b.size:], key)
		b.size += copy(b.data[b.size:], value)
	default:
		b.size += copy(b.data[b.size:], key)
		b.size += copy(b.data[b.size:], value)
	}
	return nil
}

// AppendRaw copies already-encoded bytes onto the end of the buffer
// verbatim, with no framing applied. Used by callers (e.g. the
// PartialKVPairWriter's cross-buffer streaming loop) that pre-encode a
// record once via kv.AppendFramed and then write slices of it across
// however many buffers it takes.
func (b *Buffer) AppendRaw(raw []byte) error {
	if !b.CanAppend(len(raw)) {
		return errors.E(errors.Fatal, "buffer.AppendRaw: %d bytes do not fit in %d remaining", len(raw), b.Remaining())
	}
	b.size += copy(b.data[b.size:], raw)
	return nil
}

// SetupAppend begins a two-phase append: it writes the key (and a
// placeholder header) immediately and reserves maxValueLen bytes for the
// value, returning that reserved region for the caller to fill in place.
// CommitAppend must be called exactly once afterward with the number of
// bytes actually used before any other Append/SetupAppend call; calling
// SetupAppend again first is a protocol error (spec.md §7 "uncommitted
// setup_write when starting another" -> fatal). Only valid in Framed mode.
func (b *Buffer) SetupAppend(key []byte, maxValueLen int) ([]byte, error) {
	if b.pendingActive {
		return nil, errors.E(errors.Fatal, "buffer.SetupAppend: a previous SetupAppend was never committed")
	}
	if b.framing != Framed {
		return nil, errors.E(errors.Fatal, "buffer.SetupAppend: two-phase append requires Framed mode")
	}
	need := kv.HeaderSize + len(key) + maxValueLen
	if !b.CanAppend(need) {
		return nil, errors.E(errors.Fatal, "buffer.SetupAppend: record of up to %d bytes does not fit in %d remaining", need, b.Remaining())
	}
	headerOffset := b.size
	var hdr [kv.HeaderSize]byte
	kv.PutHeader(hdr[:], uint32(len(key)), uint32(maxValueLen))
	b.size += copy(b.data[b.size:], hdr[:])
	b.size += copy(b.data[b.size:], key)
	valueOffset := b.size
	b.size += maxValueLen

	b.pendingActive = true
	b.pendingHeaderOffset = headerOffset
	b.pendingValueOffset = valueOffset
	b.pendingMaxValueLen = maxValueLen
	return b.data[valueOffset : valueOffset+maxValueLen], nil
}

// CommitAppend finalizes a pending SetupAppend, rewriting the record's
// header with the actual value length and reclaiming any unused reserved
// space.
func (b *Buffer) CommitAppend(valueLen int) error {
	if !b.pendingActive {
		return errors.E(errors.Fatal, "buffer.CommitAppend: no pending SetupAppend to commit")
	}
	if valueLen > b.pendingMaxValueLen {
		return errors.E(errors.Fatal, "buffer.CommitAppend: committed length %d exceeds reserved %d", valueLen, b.pendingMaxValueLen)
	}
	keyLen := b.pendingValueOffset - b.pendingHeaderOffset - kv.HeaderSize
	var hdr [kv.HeaderSize]byte
	kv.PutHeader(hdr[:], uint32(keyLen), uint32(valueLen))
	copy(b.data[b.pendingHeaderOffset:], hdr[:])

	unused := b.pendingMaxValueLen - valueLen
	b.size -= unused
	b.pendingActive = false
	return nil
}

// SplitCursor is an explicit cursor for writing one logical record across
// more than one buffer (spec.md §4.2/§9 partial serialization). The
// producer calls BeginSplitAppend on the first buffer, writes as many bytes as
// fit, then Continue on the next buffer with the remaining bytes.
type SplitCursor struct {
	keyLen, valueLen uint32
	writtenHeader    bool
	remaining        []byte // bytes of (header||key||value) not yet written
}

// BeginSplitAppend starts a partial append of a framed record whose total
// size exceeds the buffer's remaining capacity. It writes as much as fits
// into b and returns a cursor describing what remains; the caller must
// feed that cursor into a freshly acquired buffer via Continue. Only valid
// in framed mode (spec.md §9: partial serialization is forbidden in
// unframed mode since there is no length prefix to stitch by).
func (b *Buffer) BeginSplitAppend(key, value []byte) (*SplitCursor, error) {
	if b.framing != Framed {
		return nil, errors.E(errors.Fatal, "buffer.BeginSplitAppend: partial serialization is forbidden in unframed mode")
	}
	full := kv.AppendFramed(nil, key, value)
	c := &SplitCursor{keyLen: uint32(len(key)), valueLen: uint32(len(value)), remaining: full}
	c.writeInto(b)
	return c, nil
}

// Continue resumes a split append into a new buffer, consuming as many
// remaining bytes as fit. It returns true once the record has been fully
// written.
func (c *SplitCursor) Continue(b *Buffer) bool {
	c.writeInto(b)
	return c.Done()
}

// Done reports whether the split record has been fully written.
func (c *SplitCursor) Done() bool { return len(c.remaining) == 0 }

func (c *SplitCursor) writeInto(b *Buffer) {
	n := b.Remaining()
	if n > len(c.remaining) {
		n = len(c.remaining)
	}
	if n == 0 {
		return
	}
	b.size += copy(b.data[b.size:], c.remaining[:n])
	c.remaining = c.remaining[n:]
}

// Iterator walks the packed records of a buffer in order.
type Iterator struct {
	b      *Buffer
	offset int
}

// Iterate returns a fresh Iterator positioned at the start of the buffer.
func (b *Buffer) Iterate() *Iterator {
	return &Iterator{b: b}
}

// Next returns the next record in the buffer, or ok=false at end of
// buffer. It decodes only records that lie wholly inside this buffer: a
// trailing record whose declared size exceeds the bytes left ends the
// iteration, and no package in this module reassembles a record split
// across consecutive buffers.
func (it *Iterator) Next() (p kv.Pair, ok bool) {
	if it.offset >= it.b.size {
		return kv.Pair{}, false
	}
	switch it.b.framing {
	case Framed:
		pair, n, decoded := kv.DecodeFramed(it.b.data[it.offset:it.b.size])
		if !decoded {
			return kv.Pair{}, false
		}
		it.offset += n
		return pair, true
	default:
		pair, n, decoded := kv.DecodeUnframed(it.b.data[it.offset:it.b.size], it.b.KeyLen, it.b.ValueLen)
		if !decoded {
			return kv.Pair{}, false
		}
		it.offset += n
		return pair, true
	}
}

// Offset returns the iterator's current byte offset into the buffer.
func (it *Iterator) Offset() int { return it.offset }

// Seek repositions the iterator to a previously observed offset.
func (it *Iterator) Seek(offset int) { it.offset = offset }

// DecodeFramedAt decodes the framed record starting at byte offset, for
// callers (e.g. the reservoir-sampling writer's compaction pass) that track
// individual record offsets rather than iterating linearly. Valid only in
// Framed mode.
func (b *Buffer) DecodeFramedAt(offset int) (kv.Pair, int, bool) {
	return kv.DecodeFramed(b.data[offset:b.size])
}
