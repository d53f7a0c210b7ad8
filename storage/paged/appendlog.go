package paged

import (
	"errors"
	"fmt"

	"tiersale/storage"
)

// AppendLog is a dense, zero-based, append-only sequence.
type AppendLog[T any] struct {
	ns Namespace
}

// NewAppendLog returns the log rooted at base.
func NewAppendLog[T any](base string) AppendLog[T] {
	return AppendLog[T]{ns: NewNamespace(base)}
}

// WithSuffix returns the independent log scoped by suffix.
func (l AppendLog[T]) WithSuffix(suffix []byte) AppendLog[T] {
	return AppendLog[T]{ns: l.ns.WithSuffix(suffix)}
}

// Len returns the number of appended entries.
func (l AppendLog[T]) Len(st storage.Reader) (uint32, error) {
	return loadLen(st, l.ns.metaKey("len"))
}

// Get returns the entry at index.
func (l AppendLog[T]) Get(st storage.Reader, index uint32) (T, error) {
	var zero T
	length, err := l.Len(st)
	if err != nil {
		return zero, err
	}
	if index >= length {
		return zero, fmt.Errorf("%w: %d >= %d", ErrIndexOutOfRange, index, length)
	}
	return l.load(st, index)
}

// Set overwrites the entry at index.
func (l AppendLog[T]) Set(st storage.Store, index uint32, value T) error {
	length, err := l.Len(st)
	if err != nil {
		return err
	}
	if index >= length {
		return fmt.Errorf("%w: %d >= %d", ErrIndexOutOfRange, index, length)
	}
	return l.store(st, index, value)
}

// Push appends value and returns its index.
func (l AppendLog[T]) Push(st storage.Store, value T) (uint32, error) {
	length, err := l.Len(st)
	if err != nil {
		return 0, err
	}
	if length == ^uint32(0) {
		return 0, errors.New("paged: append log full")
	}
	if err := l.store(st, length, value); err != nil {
		return 0, err
	}
	if err := storeLen(st, l.ns.metaKey("len"), length+1); err != nil {
		return 0, err
	}
	return length, nil
}

// Page returns up to limit entries starting at start. Windows past the end
// yield an empty page.
func (l AppendLog[T]) Page(st storage.Reader, start, limit uint32) ([]T, error) {
	length, err := l.Len(st)
	if err != nil {
		return nil, err
	}
	from, to := window(length, start, limit)
	out := make([]T, 0, to-from)
	for i := from; i < to; i++ {
		v, err := l.load(st, i)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (l AppendLog[T]) load(st storage.Reader, index uint32) (T, error) {
	var zero T
	raw, err := st.Get(l.ns.positionKey(index))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return zero, fmt.Errorf("paged: missing log entry %d", index)
		}
		return zero, err
	}
	return decode[T](raw)
}

func (l AppendLog[T]) store(st storage.Store, index uint32, value T) error {
	raw, err := encode(value)
	if err != nil {
		return err
	}
	return st.Put(l.ns.positionKey(index), raw)
}

func loadLen(st storage.Reader, key []byte) (uint32, error) {
	raw, err := st.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return decode[uint32](raw)
}

func storeLen(st storage.Store, key []byte, length uint32) error {
	raw, err := encode(length)
	if err != nil {
		return err
	}
	return st.Put(key, raw)
}
