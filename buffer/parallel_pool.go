package buffer

import (
	"sync/atomic"

	"relicore/storage/page"
)

// ParallelPool composes N BufferPoolManager instances, each owning a
// disjoint residue class of page ids, and routes every call by
// page_id mod N. It exists purely to spread lock contention across
// multiple pool mutexes; it adds no correctness semantics of its own beyond
// what each underlying instance already provides.
type ParallelPool struct {
	instances []*BufferPoolManager
	next      int64
}

var _ Pool = (*ParallelPool)(nil)

// NewParallelPool wraps pre-constructed instances. Each instance's disk
// manager must have been built with the matching (numInstances,
// instanceIndex) pair so that NewPage on instance i only ever allocates ids
// congruent to i mod len(instances).
func NewParallelPool(instances []*BufferPoolManager) *ParallelPool {
	return &ParallelPool{instances: instances}
}

func (p *ParallelPool) route(id page.ID) *BufferPoolManager {
	n := int32(len(p.instances))
	residue := id % n
	if residue < 0 {
		residue += n
	}
	return p.instances[residue]
}

// NewPage allocates from a round-robin instance so that creation load is
// spread evenly; which instance serves a given id thereafter is fixed by
// that id's residue.
func (p *ParallelPool) NewPage() (*page.Page, error) {
	n := len(p.instances)
	start := int(atomic.AddInt64(&p.next, 1)-1) % n

	var lastErr error
	for i := 0; i < n; i++ {
		pg, err := p.instances[(start+i)%n].NewPage()
		if err == nil {
			return pg, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (p *ParallelPool) FetchPage(id page.ID) (*page.Page, error) {
	return p.route(id).FetchPage(id)
}

func (p *ParallelPool) UnpinPage(id page.ID, isDirty bool) bool {
	return p.route(id).UnpinPage(id, isDirty)
}

func (p *ParallelPool) FlushPage(id page.ID) bool {
	return p.route(id).FlushPage(id)
}

func (p *ParallelPool) FlushAllPages() error {
	for _, inst := range p.instances {
		if err := inst.FlushAllPages(); err != nil {
			return err
		}
	}
	return nil
}

func (p *ParallelPool) DeletePage(id page.ID) bool {
	return p.route(id).DeletePage(id)
}

func (p *ParallelPool) Size() int {
	total := 0
	for _, inst := range p.instances {
		total += inst.Size()
	}
	return total
}
