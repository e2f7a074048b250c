package sample

import (
	"context"
	"math"
	"math/rand"

	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/buffer"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/kv"
)

// ReservoirWriter collects a size-bounded unbiased sample via append-and-
// invalidate reservoir sampling (spec.md §4.3), grounded on
// ReservoirSamplingKVPairWriter.{h,cc}. Tuples are accepted unconditionally
// — growing the reservoir by one slot each time — until the buffer's
// occupied size first exceeds half its capacity; at that moment the
// reservoir size freezes at however many tuples have been seen so far
// (ReservoirSamplingKVPairWriter.cc:209-213's `maxSamples = tuplesSeen`),
// and every subsequent tuple instead replaces a uniformly chosen existing
// slot with probability maxSamples/tuplesSeen. maxSamples is therefore
// never caller-supplied: it depends on how large the actual records
// turned out to be relative to the buffer, exactly as in the original.
type ReservoirWriter struct {
	Host     Host
	Strategy Strategy
	Filter   Filter
	JobID    uint64

	bufferCapacity int
	sampleSize     int // bufferCapacity/2; the freeze threshold
	rand           *rand.Rand

	buf     *buffer.Buffer
	offsets []int // offsets[slot] = byte offset of that reservoir slot's current record

	// maxSamples is the frozen reservoir size. math.MaxUint64 means
	// "not yet frozen": every tuple seen so far has been admitted.
	maxSamples uint64

	tuplesSeen    uint64
	tuplesWritten uint64
	bytesSeen     uint64
	bytesWritten  uint64
}

// NewReservoirWriter constructs a writer whose reservoir freezes in size
// the moment the buffer's occupied bytes first exceed half of
// bufferCapacity (spec.md §4.3: "the reservoir (half the output buffer
// capacity)"). There is no caller-supplied sample-count bound: how many
// tuples actually fit before that freeze point depends on their real
// encoded size, not a pre-guessed constant.
func NewReservoirWriter(host Host, strategy Strategy, filter Filter, jobID uint64, bufferCapacity int, rng *rand.Rand) *ReservoirWriter {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &ReservoirWriter{
		Host:           host,
		Strategy:       strategy,
		Filter:         filter,
		JobID:          jobID,
		bufferCapacity: bufferCapacity,
		sampleSize:     bufferCapacity / 2,
		maxSamples:     math.MaxUint64,
		rand:           rng,
	}
}

func (w *ReservoirWriter) ensureBuffer(ctx context.Context) error {
	if w.buf != nil {
		return nil
	}
	b, err := w.Host.GetBuffer(ctx, w.bufferCapacity)
	if err != nil {
		return err
	}
	b.JobID = w.JobID
	w.buf = b
	return nil
}

// Write probabilistically accepts or rejects one record into the
// reservoir, mirroring writeSampleRecordToBuffer's writeIndex/maxSamples
// logic exactly.
func (w *ReservoirWriter) Write(ctx context.Context, key, value []byte) error {
	if w.Filter != nil && !w.Filter(key, value) {
		return nil
	}
	if err := w.ensureBuffer(ctx); err != nil {
		return err
	}

	rawSize := uint64(kv.HeaderSize + len(key) + len(value))
	writeIndex := w.tuplesSeen
	w.tuplesSeen++
	w.bytesSeen += rawSize

	if writeIndex >= w.maxSamples {
		writeIndex = uint64(w.rand.Int63n(int64(w.tuplesSeen)))
	}
	if writeIndex >= w.maxSamples {
		return nil // not selected for replacement
	}

	if err := w.writeSlot(ctx, int(writeIndex), key, value); err != nil {
		return err
	}

	if w.tuplesSeen < w.maxSamples && w.buf.Size() > w.sampleSize {
		// The reservoir has grown past half the buffer's capacity; freeze
		// its size here and switch to replacement mode from now on.
		w.maxSamples = w.tuplesSeen
	}
	return nil
}

// outputRecord runs the write strategy over key/value, returning the bytes
// actually appended to the buffer.
func (w *ReservoirWriter) outputRecord(key, value []byte) (outKey, outValue []byte) {
	outKey = key
	if w.Strategy.AltersKey() {
		outKey = w.Strategy.TransformKey(key)
	}
	outValue = value
	if w.Strategy.AltersValue() {
		outValue = w.Strategy.TransformValue(len(key), len(value))
	}
	return outKey, outValue
}

func (w *ReservoirWriter) appendRecord(ctx context.Context, key, value []byte) (offset int, err error) {
	outKey, outValue := w.outputRecord(key, value)
	need := kv.HeaderSize + len(outKey) + len(outValue)
	if !w.buf.CanAppend(need) {
		if err := w.compact(ctx); err != nil {
			return 0, err
		}
		if !w.buf.CanAppend(need) {
			// Reservoir writers never grow a record after admission, so this
			// can only happen if bufferCapacity was sized too small to ever
			// hold a full reservoir of transformed records.
			panic("sample: reservoir buffer too small to hold its reservoir even after compaction")
		}
	}
	offset = w.buf.Size()
	if err := w.buf.Append(outKey, outValue); err != nil {
		return 0, err
	}
	return offset, nil
}

// writeSlot appends key/value and either fills the next new reservoir slot
// (while the reservoir is still growing) or overwrites an existing one
// (once replacement mode has started), mirroring validTuples[writeIndex]
// growing the vector on demand in the original.
func (w *ReservoirWriter) writeSlot(ctx context.Context, slot int, key, value []byte) error {
	offset, err := w.appendRecord(ctx, key, value)
	if err != nil {
		return err
	}
	if slot < len(w.offsets) {
		w.offsets[slot] = offset
	} else {
		w.offsets = append(w.offsets, offset)
		w.tuplesWritten++
	}
	return nil
}

// compact rewrites the buffer keeping only the records addressed by
// offsets, in slot order, regaining the append space occupied by
// since-replaced (now-orphaned) byte ranges (spec.md §4.3 "compaction"),
// and recomputes bytesWritten from the kept records themselves.
// bytesWritten is deliberately never accumulated incrementally at append
// time: once replacement starts, each writeSlot replacement overwrites a slot
// without ever subtracting the record it displaced, so an append-time
// running total would count bytes of discarded tuples forever
// (ReservoirSamplingKVPairWriter.cc:111-117 scans the final buffer for
// the same reason).
func (w *ReservoirWriter) compact(ctx context.Context) error {
	fresh, err := w.Host.GetBuffer(ctx, w.bufferCapacity)
	if err != nil {
		return err
	}
	fresh.JobID = w.JobID

	newOffsets := make([]int, len(w.offsets))
	var bytesWritten uint64
	for i, off := range w.offsets {
		pair, _, ok := w.buf.DecodeFramedAt(off)
		if !ok {
			panic("sample: reservoir compaction found a corrupt slot offset")
		}
		newOffsets[i] = fresh.Size()
		if err := fresh.Append(pair.Key, pair.Value); err != nil {
			return err
		}
		bytesWritten += uint64(kv.HeaderSize + len(pair.Key) + len(pair.Value))
	}

	w.Host.PutBuffer(w.buf)
	w.buf = fresh
	w.offsets = newOffsets
	w.bytesWritten = bytesWritten
	return nil
}

// FlushBuffers emits the final compacted sample buffer, tagged with a
// PhaseZeroSampleMetadata blob, and resets the writer for reuse.
func (w *ReservoirWriter) FlushBuffers(ctx context.Context) error {
	if w.buf == nil {
		if err := w.ensureBuffer(ctx); err != nil {
			return err
		}
	}
	if err := w.compact(ctx); err != nil {
		return err
	}
	w.buf.Sample = &buffer.SampleMetadata{
		JobID:                   w.JobID,
		TuplesIn:                w.tuplesSeen,
		BytesIn:                 w.bytesSeen,
		TuplesOut:               w.tuplesWritten,
		BytesOut:                w.bytesWritten,
		BytesCallerTriedToWrite: w.bytesSeen,
	}
	w.Host.LogWriteStats(w.bytesWritten, w.bytesSeen, w.tuplesWritten, w.tuplesSeen)
	w.Host.EmitBuffer(w.buf)
	w.buf = nil
	w.offsets = nil
	return nil
}

// NumBytesCallerTriedToWrite is the total size of every record offered to
// Write, sampled or not.
func (w *ReservoirWriter) NumBytesCallerTriedToWrite() uint64 { return w.bytesSeen }

// NumBytesWritten is the total size of the records actually retained in the
// reservoir as of the last compaction/flush.
func (w *ReservoirWriter) NumBytesWritten() uint64 { return w.bytesWritten }

// NumTuplesWritten is the number of distinct reservoir slots ever filled
// (spec.md §4.3: every append-and-invalidate replacement reuses a slot
// rather than creating a new one, so this only grows while the reservoir
// is still filling).
func (w *ReservoirWriter) NumTuplesWritten() uint64 { return w.tuplesWritten }
