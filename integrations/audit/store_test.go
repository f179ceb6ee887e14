package audit

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"basketpool/core/events"
	"basketpool/crypto"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func account(b byte) crypto.Address {
	var raw [20]byte
	raw[19] = b
	return crypto.MustNewAddress(crypto.AccountPrefix, raw[:])
}

func TestRecordAndList(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	deposited := events.PoolDeposited{
		Depositor: account(1),
		Amounts:   []*big.Int{big.NewInt(100), big.NewInt(200)},
		Shares:    big.NewInt(300),
	}
	records, err := store.RecordBatch(ctx, 7, []events.Event{
		deposited,
		events.PoolFeeClaimed{Holder: account(1), Asset: account(9), Amount: big.NewInt(3)},
	})
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, 1, records[1].Position)

	_, err = store.Record(ctx, 9, events.PoolPaused{By: account(2), Paused: true})
	require.NoError(t, err)

	all, err := store.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, events.TypePoolDeposited, all[0].Type)
	require.Equal(t, events.TypePoolFeeClaimed, all[1].Type)
	require.Equal(t, events.TypePoolPaused, all[2].Type)

	attrs, err := all[0].Attrs()
	require.NoError(t, err)
	require.Equal(t, "300", attrs["shares"])

	ranged, err := store.List(ctx, Filter{FromHeight: 8})
	require.NoError(t, err)
	require.Len(t, ranged, 1)

	typed, err := store.List(ctx, Filter{Type: events.TypePoolFeeClaimed})
	require.NoError(t, err)
	require.Len(t, typed, 1)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
}

func TestRecordBatchEmpty(t *testing.T) {
	store := openTestStore(t)
	records, err := store.RecordBatch(context.Background(), 1, nil)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestNilStore(t *testing.T) {
	var store *Store
	_, err := store.List(context.Background(), Filter{})
	require.ErrorIs(t, err, ErrNilStore)
	require.NoError(t, store.Close())
}

func TestIsPostgres(t *testing.T) {
	require.True(t, isPostgres("postgres://pool@db/audit"))
	require.True(t, isPostgres("PostgreSQL://pool@db/audit"))
	require.False(t, isPostgres("audit.db"))
}

func TestEmitterRecordsWithHeight(t *testing.T) {
	store := openTestStore(t)
	emitter := &Emitter{Store: store, Height: func() uint64 { return 42 }}
	emitter.Emit(events.PoolFlashFeeUpdated{Previous: 9, Current: 12})

	records, err := store.List(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.EqualValues(t, 42, records[0].Height)
}

func TestEmitterReportsErrors(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Close())
	var got error
	emitter := &Emitter{Store: store, OnError: func(_ events.Event, err error) { got = err }}
	emitter.Emit(events.PoolPaused{By: account(1), Paused: false})
	require.Error(t, got)
	require.False(t, errors.Is(got, ErrNilStore))
}
