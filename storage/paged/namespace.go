// Package paged implements dense, index-addressable structures (append log,
// double-ended queue, insertion-ordered map) over a flat key-value byte store.
// Every structure is a small descriptor naming a keyspace; the backing store is
// passed per call so one descriptor can be shared across transactions.
package paged

import (
	"encoding/binary"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
)

var (
	// ErrIndexOutOfRange is returned when a position is at or past the current length.
	ErrIndexOutOfRange = errors.New("paged: index out of range")
	// ErrEmpty is returned when popping from an empty deque.
	ErrEmpty = errors.New("paged: structure is empty")
)

// Markers follow the length-prefixed namespace components. Component lengths
// are capped below 0xFC00, so a marker byte can never be mistaken for the high
// byte of a nested component length.
const (
	markerMeta  byte = 0xFF
	markerItem  byte = 0xFE
	markerSlot  byte = 0xFD
	maxCompSize      = 0xFBFF
)

// Namespace is a length-prefixed list of key components. Appending a suffix
// yields a keyspace disjoint from the parent and from any sibling suffix.
type Namespace struct {
	prefix []byte
}

// NewNamespace starts a keyspace at base.
func NewNamespace(base string) Namespace {
	return Namespace{}.WithSuffix([]byte(base))
}

// WithSuffix derives a child keyspace.
func (n Namespace) WithSuffix(suffix []byte) Namespace {
	if len(suffix) > maxCompSize {
		panic("paged: namespace component too long")
	}
	out := make([]byte, len(n.prefix)+2+len(suffix))
	copy(out, n.prefix)
	binary.BigEndian.PutUint16(out[len(n.prefix):], uint16(len(suffix)))
	copy(out[len(n.prefix)+2:], suffix)
	return Namespace{prefix: out}
}

// Prefix returns a copy of the encoded namespace.
func (n Namespace) Prefix() []byte {
	return append([]byte(nil), n.prefix...)
}

func (n Namespace) key(marker byte, tail []byte) []byte {
	out := make([]byte, 0, len(n.prefix)+1+len(tail))
	out = append(out, n.prefix...)
	out = append(out, marker)
	return append(out, tail...)
}

func (n Namespace) metaKey(name string) []byte { return n.key(markerMeta, []byte(name)) }

func (n Namespace) itemKey(tail []byte) []byte { return n.key(markerItem, tail) }

func (n Namespace) slotKey(slot uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], slot)
	return n.key(markerSlot, buf[:])
}

func (n Namespace) positionKey(pos uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], pos)
	return n.itemKey(buf[:])
}

// AddressSuffix is the namespace suffix for an account.
func AddressSuffix(addr common.Address) []byte {
	return append([]byte(nil), addr.Bytes()...)
}

// Uint32Suffix is the namespace suffix for a numeric id.
func Uint32Suffix(v uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return buf[:]
}

func encode(v interface{}) ([]byte, error) {
	return rlp.EncodeToBytes(v)
}

func decode[T any](raw []byte) (T, error) {
	var out T
	if err := rlp.DecodeBytes(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

// window clamps [start, start+limit) to [0, length).
func window(length, start, limit uint32) (uint32, uint32) {
	if start >= length {
		return length, length
	}
	end := uint64(start) + uint64(limit)
	if end > uint64(length) {
		end = uint64(length)
	}
	return start, uint32(end)
}
