package control

import "sync"

// Deduper remembers only the most recently accepted command id. A sequence
// a, b, a therefore applies a twice.
type Deduper struct {
	mu   sync.Mutex
	last string
}

// NewDeduper returns an empty Deduper.
func NewDeduper() *Deduper {
	return &Deduper{}
}

// Seen reports whether id matches the last accepted id. Empty ids are never
// duplicates.
func (d *Deduper) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return id != "" && id == d.last
}

// Mark records id as the last accepted id. An empty id clears the memory.
func (d *Deduper) Mark(id string) {
	d.mu.Lock()
	d.last = id
	d.mu.Unlock()
}

// Accept marks id and returns true unless it repeats the last accepted id.
func (d *Deduper) Accept(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if id != "" && id == d.last {
		return false
	}
	d.last = id
	return true
}

// Last returns the remembered id.
func (d *Deduper) Last() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}
