package paged

import (
	"errors"
	"fmt"

	"tiersale/storage"
)

// Deque is a double-ended queue with O(1) access by logical position and
// removal at an arbitrary position. Elements live at offset+i so pushes and
// pops at either end never move other elements.
type Deque[T any] struct {
	ns Namespace
}

type dequeMeta struct {
	Offset uint32
	Len    uint32
}

// NewDeque returns the deque rooted at base.
func NewDeque[T any](base string) Deque[T] {
	return Deque[T]{ns: NewNamespace(base)}
}

// WithSuffix returns the independent deque scoped by suffix.
func (d Deque[T]) WithSuffix(suffix []byte) Deque[T] {
	return Deque[T]{ns: d.ns.WithSuffix(suffix)}
}

func (d Deque[T]) meta(st storage.Reader) (dequeMeta, error) {
	raw, err := st.Get(d.ns.metaKey("meta"))
	if errors.Is(err, storage.ErrNotFound) {
		return dequeMeta{}, nil
	}
	if err != nil {
		return dequeMeta{}, err
	}
	return decode[dequeMeta](raw)
}

func (d Deque[T]) putMeta(st storage.Store, m dequeMeta) error {
	if m.Len == 0 {
		return st.Delete(d.ns.metaKey("meta"))
	}
	raw, err := encode(m)
	if err != nil {
		return err
	}
	return st.Put(d.ns.metaKey("meta"), raw)
}

// Len returns the number of elements.
func (d Deque[T]) Len(st storage.Reader) (uint32, error) {
	m, err := d.meta(st)
	if err != nil {
		return 0, err
	}
	return m.Len, nil
}

// Get returns the element at logical position index.
func (d Deque[T]) Get(st storage.Reader, index uint32) (T, error) {
	var zero T
	m, err := d.meta(st)
	if err != nil {
		return zero, err
	}
	if index >= m.Len {
		return zero, fmt.Errorf("%w: %d >= %d", ErrIndexOutOfRange, index, m.Len)
	}
	return d.load(st, m.Offset+index)
}

// Set overwrites the element at logical position index.
func (d Deque[T]) Set(st storage.Store, index uint32, value T) error {
	m, err := d.meta(st)
	if err != nil {
		return err
	}
	if index >= m.Len {
		return fmt.Errorf("%w: %d >= %d", ErrIndexOutOfRange, index, m.Len)
	}
	return d.store(st, m.Offset+index, value)
}

// PushBack appends value at the tail.
func (d Deque[T]) PushBack(st storage.Store, value T) error {
	m, err := d.meta(st)
	if err != nil {
		return err
	}
	if m.Len == ^uint32(0) {
		return errors.New("paged: deque full")
	}
	if err := d.store(st, m.Offset+m.Len, value); err != nil {
		return err
	}
	m.Len++
	return d.putMeta(st, m)
}

// PushFront inserts value at the head.
func (d Deque[T]) PushFront(st storage.Store, value T) error {
	m, err := d.meta(st)
	if err != nil {
		return err
	}
	if m.Len == ^uint32(0) {
		return errors.New("paged: deque full")
	}
	m.Offset--
	if err := d.store(st, m.Offset, value); err != nil {
		return err
	}
	m.Len++
	return d.putMeta(st, m)
}

// PopFront removes and returns the head element.
func (d Deque[T]) PopFront(st storage.Store) (T, error) {
	var zero T
	m, err := d.meta(st)
	if err != nil {
		return zero, err
	}
	if m.Len == 0 {
		return zero, ErrEmpty
	}
	value, err := d.load(st, m.Offset)
	if err != nil {
		return zero, err
	}
	if err := st.Delete(d.ns.positionKey(m.Offset)); err != nil {
		return zero, err
	}
	m.Offset++
	m.Len--
	return value, d.putMeta(st, m)
}

// PopBack removes and returns the tail element.
func (d Deque[T]) PopBack(st storage.Store) (T, error) {
	var zero T
	m, err := d.meta(st)
	if err != nil {
		return zero, err
	}
	if m.Len == 0 {
		return zero, ErrEmpty
	}
	pos := m.Offset + m.Len - 1
	value, err := d.load(st, pos)
	if err != nil {
		return zero, err
	}
	if err := st.Delete(d.ns.positionKey(pos)); err != nil {
		return zero, err
	}
	m.Len--
	return value, d.putMeta(st, m)
}

// Remove deletes the element at logical position index and returns it.
// Elements after index shift down by one; the shorter side of the gap is
// the one that moves.
func (d Deque[T]) Remove(st storage.Store, index uint32) (T, error) {
	var zero T
	m, err := d.meta(st)
	if err != nil {
		return zero, err
	}
	if index >= m.Len {
		return zero, fmt.Errorf("%w: %d >= %d", ErrIndexOutOfRange, index, m.Len)
	}
	removed, err := d.load(st, m.Offset+index)
	if err != nil {
		return zero, err
	}
	if index < m.Len/2 {
		for j := index; j > 0; j-- {
			v, err := d.load(st, m.Offset+j-1)
			if err != nil {
				return zero, err
			}
			if err := d.store(st, m.Offset+j, v); err != nil {
				return zero, err
			}
		}
		if err := st.Delete(d.ns.positionKey(m.Offset)); err != nil {
			return zero, err
		}
		m.Offset++
	} else {
		for j := index; j+1 < m.Len; j++ {
			v, err := d.load(st, m.Offset+j+1)
			if err != nil {
				return zero, err
			}
			if err := d.store(st, m.Offset+j, v); err != nil {
				return zero, err
			}
		}
		if err := st.Delete(d.ns.positionKey(m.Offset + m.Len - 1)); err != nil {
			return zero, err
		}
	}
	m.Len--
	return removed, d.putMeta(st, m)
}

// Page returns up to limit elements starting at logical position start.
func (d Deque[T]) Page(st storage.Reader, start, limit uint32) ([]T, error) {
	m, err := d.meta(st)
	if err != nil {
		return nil, err
	}
	from, to := window(m.Len, start, limit)
	out := make([]T, 0, to-from)
	for i := from; i < to; i++ {
		v, err := d.load(st, m.Offset+i)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (d Deque[T]) load(st storage.Reader, pos uint32) (T, error) {
	var zero T
	raw, err := st.Get(d.ns.positionKey(pos))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return zero, fmt.Errorf("paged: missing deque slot %d", pos)
		}
		return zero, err
	}
	return decode[T](raw)
}

func (d Deque[T]) store(st storage.Store, pos uint32, value T) error {
	raw, err := encode(value)
	if err != nil {
		return err
	}
	return st.Put(d.ns.positionKey(pos), raw)
}
