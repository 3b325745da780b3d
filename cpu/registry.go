package cpu

import "sync"

// Registry tracks every CPU in the system and provides the operations that
// need a consistent view across more than one of them: broadcast IPIs and
// picking a migration target.
type Registry struct {
	mu   sync.RWMutex
	cpus []*CPU
}

// NewRegistry creates an empty CPU registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers a CPU, assigning it the next software id.
func (r *Registry) Add(hardwareID uint32) *CPU {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := New(uint32(len(r.cpus)), hardwareID)
	r.cpus = append(r.cpus, c)
	return c
}

// All returns a snapshot slice of every registered CPU.
func (r *Registry) All() []*CPU {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*CPU, len(r.cpus))
	copy(out, r.cpus)
	return out
}

// Broadcast sends code to every CPU other than except (pass nil to
// broadcast to everyone).
func (r *Registry) Broadcast(code IPICode, except *CPU) {
	for _, c := range r.All() {
		if c == except {
			continue
		}
		c.SendIPI(code)
	}
}

// LeastLoaded returns the registered CPU with the shortest run queue,
// excluding exclude. It returns nil if the registry is empty or exclude is
// the only member.
func (r *Registry) LeastLoaded(exclude *CPU) *CPU {
	var best *CPU
	bestLen := -1
	for _, c := range r.All() {
		if c == exclude {
			continue
		}
		n := c.RunQueueLen()
		if bestLen == -1 || n < bestLen {
			best, bestLen = c, n
		}
	}
	return best
}

// MigrationPair returns two CPUs ordered by software id, lowest first,
// regardless of which is the source and which is the destination. Taking
// two CPUs' run-queue locks in this order keeps two concurrent migrations
// in opposite directions between the same pair of CPUs from deadlocking
// against each other; MigrationPair itself takes no lock.
func MigrationPair(a, b *CPU) (first, second *CPU) {
	if a.SoftwareID() <= b.SoftwareID() {
		return a, b
	}
	return b, a
}
