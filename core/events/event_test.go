package events

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type plainEvent struct{}

func (plainEvent) EventType() string { return "plain" }

func TestBufferFlushPreservesOrder(t *testing.T) {
	var buf Buffer
	buf.Emit(TokenSupply{Symbol: "a", Total: big.NewInt(1)})
	buf.Emit(plainEvent{})
	require.Equal(t, 2, buf.Len())

	rec := &Recorder{}
	buf.Flush(rec)
	require.Equal(t, 0, buf.Len())
	got := rec.Events()
	require.Len(t, got, 2)
	require.Equal(t, TypeTokenSupply, got[0].EventType())
	require.Equal(t, "plain", got[1].EventType())
}

func TestBufferTruncateDropsTail(t *testing.T) {
	var buf Buffer
	buf.Emit(plainEvent{})
	mark := buf.Len()
	buf.Emit(plainEvent{})
	buf.Emit(plainEvent{})
	buf.Truncate(mark)
	require.Equal(t, 1, buf.Len())
	buf.Discard()
	require.Equal(t, 0, buf.Len())
}

func TestProjectFallsBackToType(t *testing.T) {
	evt := Project(plainEvent{})
	require.Equal(t, "plain", evt.Type)
	require.Empty(t, evt.Attributes)
	require.Nil(t, Project(nil))
}

func TestBroadcasterDeliversAndDrops(t *testing.T) {
	b := NewBroadcaster(1)
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Emit(plainEvent{})
	b.Emit(plainEvent{})

	select {
	case evt := <-ch:
		require.Equal(t, "plain", evt.EventType())
	case <-time.After(time.Second):
		t.Fatal("expected delivery")
	}
	require.Equal(t, uint64(1), b.Dropped())
}

func TestBroadcasterCancelClosesChannel(t *testing.T) {
	b := NewBroadcaster(4)
	ch, cancel := b.Subscribe()
	cancel()
	cancel()
	_, open := <-ch
	require.False(t, open)
	b.Emit(plainEvent{})
}

func TestMultiSkipsNil(t *testing.T) {
	a, c := &Recorder{}, &Recorder{}
	Multi{a, nil, c}.Emit(plainEvent{})
	require.Len(t, a.Events(), 1)
	require.Len(t, c.Events(), 1)
}
