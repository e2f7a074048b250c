package partition

import (
	"sync"

	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/job"
	"github.com/grailbio/base/sync/once"
)

// FunctionMap is the PartitionFunctionMap of spec.md §5: a map from job ID
// to PartitionFunction whose entries are lazily constructed under a single
// mutex per map, the first caller for a given job ID paying the
// construction cost and every later caller (for that job) getting the
// cached result. Grounded on exec/bigmachine.go's `compiles once.Map`,
// which does the same per-key lazy-construction-once job for compiled
// invocations.
type FunctionMap struct {
	// Construct builds the partition function for a job the first time it
	// is requested. Typically resolves job.Info.PartitionFunctionName
	// through a job.FunctionRegistry[Function] and configures the result
	// (e.g. loading its KeyPartitioner from a boundary-list file).
	Construct func(jobID job.ID) (Function, error)

	once once.Map
	mu   sync.Mutex
	fns  map[job.ID]Function
	errs map[job.ID]error
}

// NewFunctionMap constructs an empty FunctionMap around construct.
func NewFunctionMap(construct func(job.ID) (Function, error)) *FunctionMap {
	return &FunctionMap{Construct: construct, fns: make(map[job.ID]Function)}
}

// Get returns the partition function for jobID, constructing and caching
// it on first use.
func (m *FunctionMap) Get(jobID job.ID) (Function, error) {
	m.once.Do(jobID, func() error {
		fn, err := m.Construct(jobID)
		m.mu.Lock()
		defer m.mu.Unlock()
		if err != nil {
			if m.errs == nil {
				m.errs = make(map[job.ID]error)
			}
			m.errs[jobID] = err
			return nil
		}
		m.fns[jobID] = fn
		return nil
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.errs[jobID]; ok {
		return nil, err
	}
	return m.fns[jobID], nil
}
