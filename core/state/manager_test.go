package state

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"basketpool/storage"
)

type record struct {
	Name   string
	Amount *big.Int
}

func TestKVRoundTrip(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	require.NoError(t, m.KVPut([]byte("rec"), record{Name: "a", Amount: big.NewInt(42)}))

	var out record
	found, err := m.KVGet([]byte("rec"), &out)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "a", out.Name)
	require.Equal(t, 0, out.Amount.Cmp(big.NewInt(42)))

	found, err = m.KVGet([]byte("missing"), &out)
	require.NoError(t, err)
	require.False(t, found)
}

func TestRevertRestoresPreviousValues(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	require.NoError(t, m.KVPut([]byte("k"), uint64(1)))

	snap := m.Snapshot()
	require.NoError(t, m.KVPut([]byte("k"), uint64(2)))
	require.NoError(t, m.KVPut([]byte("new"), uint64(3)))
	require.NoError(t, m.KVDelete([]byte("k")))
	m.RevertToSnapshot(snap)

	var v uint64
	found, err := m.KVGet([]byte("k"), &v)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(1), v)

	found, err = m.KVGet([]byte("new"), &v)
	require.NoError(t, err)
	require.False(t, found)
}

func TestNestedSnapshots(t *testing.T) {
	m := NewManager(nil)
	outer := m.Snapshot()
	require.NoError(t, m.KVPut([]byte("a"), uint64(1)))
	inner := m.Snapshot()
	require.NoError(t, m.KVPut([]byte("b"), uint64(2)))
	m.RevertToSnapshot(inner)

	found, err := m.KVGet([]byte("a"), nil)
	require.NoError(t, err)
	require.True(t, found)
	found, err = m.KVGet([]byte("b"), nil)
	require.NoError(t, err)
	require.False(t, found)

	m.RevertToSnapshot(outer)
	found, err = m.KVGet([]byte("a"), nil)
	require.NoError(t, err)
	require.False(t, found)
}

func TestRevertUnknownSnapshotPanics(t *testing.T) {
	m := NewManager(nil)
	require.Panics(t, func() { m.RevertToSnapshot(7) })
}

func TestCommitPersistsAndDeletes(t *testing.T) {
	db := storage.NewMemDB()
	m := NewManager(db)
	require.NoError(t, m.KVPut([]byte("keep"), uint64(5)))
	require.NoError(t, m.KVPut([]byte("drop"), uint64(6)))
	require.NoError(t, m.Commit())
	require.Equal(t, 2, db.Len())
	require.Equal(t, 0, m.Pending())

	require.NoError(t, m.KVDelete([]byte("drop")))
	found, err := m.KVGet([]byte("drop"), nil)
	require.NoError(t, err)
	require.False(t, found)
	require.NoError(t, m.Commit())
	require.Equal(t, 1, db.Len())

	reopened := NewManager(db)
	var v uint64
	found, err = reopened.KVGet([]byte("keep"), &v)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(5), v)
}

func TestDiscardDropsPendingWrites(t *testing.T) {
	db := storage.NewMemDB()
	m := NewManager(db)
	require.NoError(t, m.KVPut([]byte("k"), uint64(1)))
	m.Discard()
	require.NoError(t, m.Commit())
	require.Equal(t, 0, db.Len())
}

func TestKVAppendDeduplicates(t *testing.T) {
	m := NewManager(nil)
	require.NoError(t, m.KVAppend([]byte("idx"), []byte("x")))
	require.NoError(t, m.KVAppend([]byte("idx"), []byte("y")))
	require.NoError(t, m.KVAppend([]byte("idx"), []byte("x")))

	var list [][]byte
	require.NoError(t, m.KVGetList([]byte("idx"), &list))
	require.Equal(t, [][]byte{[]byte("x"), []byte("y")}, list)

	var empty [][]byte
	require.NoError(t, m.KVGetList([]byte("none"), &empty))
	require.NotNil(t, empty)
	require.Len(t, empty, 0)
}

func TestEmptyKeyRejected(t *testing.T) {
	m := NewManager(nil)
	require.Error(t, m.KVPut(nil, uint64(1)))
	_, err := m.KVGet(nil, nil)
	require.Error(t, err)
	require.Error(t, m.KVDelete(nil))
}
