package coordination

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFakeClientCreateSequentialOrdering(t *testing.T) {
	ctx := context.Background()
	cl := NewFakeCluster()
	a := cl.Connect()
	b := cl.Connect()
	defer a.Close()
	defer b.Close()

	_, err := a.Create(ctx, "/Primary", nil, false, false)
	require.NoError(t, err)

	pa, err := a.Create(ctx, "/Primary/Node1_", []byte("a"), true, true)
	require.NoError(t, err)
	pb, err := b.Create(ctx, "/Primary/Node2_", []byte("b"), true, true)
	require.NoError(t, err)

	require.Less(t, pa, pb, "sequence suffixes must order creation")

	children, err := a.Children(ctx, "/Primary")
	require.NoError(t, err)
	require.Len(t, children, 2)
}

func TestFakeClientEphemeralRemovedOnClose(t *testing.T) {
	ctx := context.Background()
	cl := NewFakeCluster()
	a := cl.Connect()
	b := cl.Connect()
	defer b.Close()

	_, err := a.Create(ctx, "/node", []byte("x"), true, false)
	require.NoError(t, err)

	ok, err := b.Exists(ctx, "/node")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, a.Close())

	ok, err = b.Exists(ctx, "/node")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFakeClientExpireSessionFiresWatch(t *testing.T) {
	ctx := context.Background()
	cl := NewFakeCluster()
	a := cl.Connect()
	b := cl.Connect()
	defer b.Close()

	_, err := a.Create(ctx, "/node", nil, true, false)
	require.NoError(t, err)

	watch, err := b.Watch(ctx, "/node")
	require.NoError(t, err)

	cl.ExpireSession(a)

	ev := <-watch
	require.Equal(t, NodeDeleted, ev.Type)

	connEv := <-a.Events()
	require.Equal(t, SessionConnected, connEv.Type)

	sessEv := <-a.Events()
	require.Equal(t, SessionExpired, sessEv.Type)
}

func TestFakeClientDeleteRequiresEmpty(t *testing.T) {
	ctx := context.Background()
	cl := NewFakeCluster()
	a := cl.Connect()
	defer a.Close()

	_, err := a.Create(ctx, "/parent", nil, false, false)
	require.NoError(t, err)
	_, err = a.Create(ctx, "/parent/child", nil, false, false)
	require.NoError(t, err)

	err = a.Delete(ctx, "/parent")
	require.ErrorIs(t, err, ErrNotEmpty)

	require.NoError(t, a.Delete(ctx, "/parent/child"))
	require.NoError(t, a.Delete(ctx, "/parent"))
}

func TestFakeClientDataChangedWatch(t *testing.T) {
	ctx := context.Background()
	cl := NewFakeCluster()
	a := cl.Connect()
	defer a.Close()

	_, err := a.Create(ctx, "/node", []byte("v1"), false, false)
	require.NoError(t, err)

	watch, err := a.Watch(ctx, "/node")
	require.NoError(t, err)

	require.NoError(t, a.Set(ctx, "/node", []byte("v2")))

	ev := <-watch
	require.Equal(t, DataChanged, ev.Type)

	data, ok, err := a.Get(ctx, "/node")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v2"), data)
}
