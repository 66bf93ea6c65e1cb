package game

import "iter"

// Registry is the keyed collection of live and settled duels.
type Registry struct {
	duels  map[uint64]*Duel
	nextID uint64
}

func NewRegistry() *Registry {
	return &Registry{duels: make(map[uint64]*Duel)}
}

// Create assigns the next identifier. Identifiers are never reused, even
// after the duel is removed.
func (r *Registry) Create(d *Duel) uint64 {
	d.ID = r.nextID
	r.nextID++
	r.duels[d.ID] = d
	return d.ID
}

// Get returns a copy of the duel.
func (r *Registry) Get(id uint64) (Duel, bool) {
	d, ok := r.duels[id]
	if !ok {
		return Duel{}, false
	}
	return *d.clone(), true
}

// Mutate applies fn to a working copy and installs it only if fn succeeds.
func (r *Registry) Mutate(id uint64, fn func(*Duel) error) error {
	d, ok := r.duels[id]
	if !ok {
		return ErrNotFound
	}
	work := d.clone()
	if err := fn(work); err != nil {
		return err
	}
	r.duels[id] = work
	return nil
}

func (r *Registry) Remove(id uint64) {
	delete(r.duels, id)
}

// All yields stored duels in no particular order. Yielded values must not be modified.
func (r *Registry) All() iter.Seq[*Duel] {
	return func(yield func(*Duel) bool) {
		for _, d := range r.duels {
			if !yield(d) {
				return
			}
		}
	}
}

func (r *Registry) Len() int {
	return len(r.duels)
}

func (r *Registry) NextID() uint64 {
	return r.nextID
}

func (r *Registry) peek(id uint64) *Duel {
	return r.duels[id]
}

func (r *Registry) put(id uint64, d *Duel) {
	if d == nil {
		delete(r.duels, id)
		return
	}
	r.duels[id] = d
}
