package state

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"tiersale/storage"
)

type sampleRecord struct {
	Name   string
	Amount *uint256.Int
	Flag   bool
}

func TestKVPutGetDelete(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)

	var out sampleRecord
	ok, err := mgr.KVGet([]byte("sample/a"), &out)
	require.NoError(t, err)
	require.False(t, ok)

	in := sampleRecord{Name: "a", Amount: uint256.NewInt(42), Flag: true}
	require.NoError(t, mgr.KVPut([]byte("sample/a"), in))

	ok, err = mgr.KVGet([]byte("sample/a"), &out)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a", out.Name)
	require.True(t, out.Flag)
	require.Equal(t, uint64(42), out.Amount.Uint64())

	// keys are hashed, never stored verbatim
	_, err = db.Get([]byte("sample/a"))
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, mgr.KVDelete([]byte("sample/a")))
	ok, err = mgr.KVGet([]byte("sample/a"), nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestKVAppendDeduplicates(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())

	var list [][]byte
	require.NoError(t, mgr.KVGetList([]byte("idx"), &list))
	require.NotNil(t, list)
	require.Empty(t, list)

	require.NoError(t, mgr.KVAppend([]byte("idx"), []byte{0x01}))
	require.NoError(t, mgr.KVAppend([]byte("idx"), []byte{0x02}))
	require.NoError(t, mgr.KVAppend([]byte("idx"), []byte{0x01}))

	require.NoError(t, mgr.KVGetList([]byte("idx"), &list))
	require.Equal(t, [][]byte{{0x01}, {0x02}}, list)
}

func TestKVRejectsEmptyKey(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	require.Error(t, mgr.KVPut(nil, uint64(1)))
	_, err := mgr.KVGet(nil, nil)
	require.Error(t, err)
	require.Error(t, mgr.KVDelete(nil))
}

func TestEnsureStateVersion(t *testing.T) {
	db := storage.NewMemDB()
	require.NoError(t, EnsureStateVersion(db, false))

	version, ok, err := NewManager(db).StateVersion()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StateVersion, version)
	require.NoError(t, EnsureStateVersion(db, false))

	require.NoError(t, NewManager(db).SetStateVersion(StateVersion+1))
	require.ErrorIs(t, EnsureStateVersion(db, false), ErrStateVersionMismatch)
	require.NoError(t, EnsureStateVersion(db, true))
}
