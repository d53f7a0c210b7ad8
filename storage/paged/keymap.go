package paged

import (
	"errors"

	"tiersale/storage"
)

// Keymap is a key/value map that remembers insertion order for paging.
// Each key owns a slot in an append-only slot log; removal leaves a gap in
// the log that iteration skips.
type Keymap[K any, V any] struct {
	ns Namespace
}

type keymapMeta struct {
	Len   uint32
	Slots uint32
}

type keymapEntry[V any] struct {
	Slot  uint32
	Value V
}

// NewKeymap returns the map rooted at base.
func NewKeymap[K any, V any](base string) Keymap[K, V] {
	return Keymap[K, V]{ns: NewNamespace(base)}
}

// WithSuffix returns the independent map scoped by suffix.
func (m Keymap[K, V]) WithSuffix(suffix []byte) Keymap[K, V] {
	return Keymap[K, V]{ns: m.ns.WithSuffix(suffix)}
}

func (m Keymap[K, V]) meta(st storage.Reader) (keymapMeta, error) {
	raw, err := st.Get(m.ns.metaKey("meta"))
	if errors.Is(err, storage.ErrNotFound) {
		return keymapMeta{}, nil
	}
	if err != nil {
		return keymapMeta{}, err
	}
	return decode[keymapMeta](raw)
}

func (m Keymap[K, V]) putMeta(st storage.Store, meta keymapMeta) error {
	raw, err := encode(meta)
	if err != nil {
		return err
	}
	return st.Put(m.ns.metaKey("meta"), raw)
}

func (m Keymap[K, V]) entry(st storage.Reader, encKey []byte) (keymapEntry[V], bool, error) {
	raw, err := st.Get(m.ns.itemKey(encKey))
	if errors.Is(err, storage.ErrNotFound) {
		return keymapEntry[V]{}, false, nil
	}
	if err != nil {
		return keymapEntry[V]{}, false, err
	}
	e, err := decode[keymapEntry[V]](raw)
	if err != nil {
		return keymapEntry[V]{}, false, err
	}
	return e, true, nil
}

// Len returns the number of live keys.
func (m Keymap[K, V]) Len(st storage.Reader) (uint32, error) {
	meta, err := m.meta(st)
	if err != nil {
		return 0, err
	}
	return meta.Len, nil
}

// Get returns the value for key and whether it was present.
func (m Keymap[K, V]) Get(st storage.Reader, key K) (V, bool, error) {
	var zero V
	encKey, err := encode(key)
	if err != nil {
		return zero, false, err
	}
	e, ok, err := m.entry(st, encKey)
	if err != nil || !ok {
		return zero, false, err
	}
	return e.Value, true, nil
}

// Contains reports whether key is present.
func (m Keymap[K, V]) Contains(st storage.Reader, key K) (bool, error) {
	encKey, err := encode(key)
	if err != nil {
		return false, err
	}
	return st.Has(m.ns.itemKey(encKey))
}

// Insert stores value under key. Re-inserting an existing key keeps its
// original position in iteration order.
func (m Keymap[K, V]) Insert(st storage.Store, key K, value V) error {
	encKey, err := encode(key)
	if err != nil {
		return err
	}
	e, ok, err := m.entry(st, encKey)
	if err != nil {
		return err
	}
	if ok {
		e.Value = value
		raw, err := encode(e)
		if err != nil {
			return err
		}
		return st.Put(m.ns.itemKey(encKey), raw)
	}
	meta, err := m.meta(st)
	if err != nil {
		return err
	}
	if meta.Slots == ^uint32(0) {
		return errors.New("paged: keymap slots exhausted")
	}
	raw, err := encode(keymapEntry[V]{Slot: meta.Slots, Value: value})
	if err != nil {
		return err
	}
	if err := st.Put(m.ns.itemKey(encKey), raw); err != nil {
		return err
	}
	if err := st.Put(m.ns.slotKey(meta.Slots), encKey); err != nil {
		return err
	}
	meta.Slots++
	meta.Len++
	return m.putMeta(st, meta)
}

// Remove deletes key and reports whether it was present.
func (m Keymap[K, V]) Remove(st storage.Store, key K) (bool, error) {
	encKey, err := encode(key)
	if err != nil {
		return false, err
	}
	e, ok, err := m.entry(st, encKey)
	if err != nil || !ok {
		return false, err
	}
	if err := st.Delete(m.ns.itemKey(encKey)); err != nil {
		return false, err
	}
	if err := st.Delete(m.ns.slotKey(e.Slot)); err != nil {
		return false, err
	}
	meta, err := m.meta(st)
	if err != nil {
		return false, err
	}
	meta.Len--
	if meta.Len == 0 {
		// every slot is a gap now; restart the log
		meta.Slots = 0
	}
	return true, m.putMeta(st, meta)
}

// Keys returns up to limit live keys in insertion order, skipping the first
// start live keys.
func (m Keymap[K, V]) Keys(st storage.Reader, start, limit uint32) ([]K, error) {
	meta, err := m.meta(st)
	if err != nil {
		return nil, err
	}
	var (
		out     []K
		skipped uint32
	)
	for slot := uint32(0); slot < meta.Slots && uint32(len(out)) < limit; slot++ {
		raw, err := st.Get(m.ns.slotKey(slot))
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if skipped < start {
			skipped++
			continue
		}
		k, err := decode[K](raw)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}
