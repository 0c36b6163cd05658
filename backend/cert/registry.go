package cert

import "sync"

// Registry is the keyed store for certificate metadata. The in-memory
// implementation below serves single-instance deployments; a horizontally
// scaled deployment swaps in a shared store behind the same interface.
type Registry interface {
	Get(name string) (*Metadata, bool)
	// PutIfAbsent inserts the row only when the name is free and reports
	// whether the insert happened. This is the atomic reserve step.
	PutIfAbsent(m *Metadata) bool
	Put(m *Metadata)
	Delete(name string)
	List() []*Metadata
}

// MemoryRegistry is a mutex-guarded map, process-local.
type MemoryRegistry struct {
	mu   sync.RWMutex
	rows map[string]*Metadata
}

var _ Registry = (*MemoryRegistry)(nil)

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{rows: make(map[string]*Metadata)}
}

func (r *MemoryRegistry) Get(name string) (*Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.rows[name]
	if !ok {
		return nil, false
	}
	return m.clone(), true
}

func (r *MemoryRegistry) PutIfAbsent(m *Metadata) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[m.Name]; ok {
		return false
	}
	r.rows[m.Name] = m.clone()
	return true
}

func (r *MemoryRegistry) Put(m *Metadata) {
	r.mu.Lock()
	r.rows[m.Name] = m.clone()
	r.mu.Unlock()
}

func (r *MemoryRegistry) Delete(name string) {
	r.mu.Lock()
	delete(r.rows, name)
	r.mu.Unlock()
}

func (r *MemoryRegistry) List() []*Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Metadata, 0, len(r.rows))
	for _, m := range r.rows {
		out = append(out, m.clone())
	}
	return out
}
