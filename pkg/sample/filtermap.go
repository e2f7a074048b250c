package sample

import (
	"sync"

	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/job"
	"github.com/grailbio/base/sync/once"
)

// FilterMap is the RecordFilterMap of spec.md §5: like
// partition.FunctionMap, a map from job ID to Filter whose entries are
// lazily constructed under a single mutex per map. A nil Filter for a job
// means "no filter configured", not "not yet constructed".
type FilterMap struct {
	// Construct builds the record filter for a job the first time it is
	// requested. May return a nil Filter to mean "this job has no filter".
	Construct func(jobID job.ID) (Filter, error)

	once once.Map
	mu   sync.Mutex
	fns  map[job.ID]Filter
	errs map[job.ID]error
}

// NewFilterMap constructs an empty FilterMap around construct.
func NewFilterMap(construct func(job.ID) (Filter, error)) *FilterMap {
	return &FilterMap{Construct: construct, fns: make(map[job.ID]Filter)}
}

// Get returns the filter for jobID (nil if that job has none), constructing
// and caching it on first use.
func (m *FilterMap) Get(jobID job.ID) (Filter, error) {
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
