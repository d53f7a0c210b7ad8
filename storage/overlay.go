package storage

import (
	"errors"
	"sort"
)

// Overlay buffers writes on top of a read-only parent so a state transition
// can be applied all-or-nothing. Reads observe the buffered writes first.
//
// Overlay is not safe for concurrent use.
type Overlay struct {
	parent Reader
	dirty  map[string][]byte
	erased map[string]struct{}
}

// NewOverlay creates an empty overlay over parent.
func NewOverlay(parent Reader) *Overlay {
	return &Overlay{
		parent: parent,
		dirty:  make(map[string][]byte),
		erased: make(map[string]struct{}),
	}
}

// Get returns the buffered value for key, falling back to the parent.
func (o *Overlay) Get(key []byte) ([]byte, error) {
	k := string(key)
	if _, ok := o.erased[k]; ok {
		return nil, ErrNotFound
	}
	if value, ok := o.dirty[k]; ok {
		return append([]byte(nil), value...), nil
	}
	if o.parent == nil {
		return nil, ErrNotFound
	}
	return o.parent.Get(key)
}

// Has reports whether key is visible through the overlay.
func (o *Overlay) Has(key []byte) (bool, error) {
	_, err := o.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Put buffers a write.
func (o *Overlay) Put(key []byte, value []byte) error {
	k := string(key)
	delete(o.erased, k)
	o.dirty[k] = append([]byte(nil), value...)
	return nil
}

// Delete buffers a removal.
func (o *Overlay) Delete(key []byte) error {
	k := string(key)
	delete(o.dirty, k)
	o.erased[k] = struct{}{}
	return nil
}

// Len returns the number of buffered operations.
func (o *Overlay) Len() int {
	return len(o.dirty) + len(o.erased)
}

// Batch renders the buffered operations in key order so commits are
// deterministic.
func (o *Overlay) Batch() *Batch {
	keys := make([]string, 0, o.Len())
	for k := range o.dirty {
		keys = append(keys, k)
	}
	for k := range o.erased {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	batch := &Batch{ops: make([]batchOp, 0, len(keys))}
	for _, k := range keys {
		if value, ok := o.dirty[k]; ok {
			batch.Put([]byte(k), value)
			continue
		}
		batch.Delete([]byte(k))
	}
	return batch
}

// Commit writes the buffered operations into db and resets the overlay.
func (o *Overlay) Commit(db Database) error {
	if db == nil {
		return errors.New("storage: commit target not configured")
	}
	if err := db.Write(o.Batch()); err != nil {
		return err
	}
	o.Discard()
	return nil
}

// Discard drops every buffered operation.
func (o *Overlay) Discard() {
	o.dirty = make(map[string][]byte)
	o.erased = make(map[string]struct{})
}
