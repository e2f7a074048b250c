package sample

import (
	"context"

	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/buffer"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/kv"
)

// Host is the single collapsed interface a writer uses to reach its owning
// worker, replacing the four-to-six-callback constructors of the original
// C++ writers (spec.md §9: "Callback-heavy constructors... prefer a single
// host interface with named methods").
type Host interface {
	// EmitBuffer hands a full buffer downstream. The writer never touches
	// buf again after this call.
	EmitBuffer(buf *buffer.Buffer)
	// GetBuffer acquires a buffer of at least minCapacity bytes, blocking
	// per the owning pool's discipline.
	GetBuffer(ctx context.Context, minCapacity int) (*buffer.Buffer, error)
	// PutBuffer returns a buffer the writer decided not to use after all.
	PutBuffer(buf *buffer.Buffer)
	// LogSample records one sampled record for diagnostics (e.g. sample
	// rate logging); may be a no-op.
	LogSample(p kv.Pair)
	// LogWriteStats reports this writer's cumulative byte/tuple counts.
	LogWriteStats(bytesOut, bytesIn, tuplesOut, tuplesIn uint64)
}

// Filter is the RecordFilter port: a predicate that, if non-nil, decides
// whether a record is written at all (spec.md §4.3/§7 "filtered record").
type Filter func(key, value []byte) bool
