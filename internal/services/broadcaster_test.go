package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Lllllllleong/commentingestflow/internal/mock"
	"github.com/Lllllllleong/commentingestflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBroadcasterFixture(t *testing.T, ids ...string) (*BroadcasterFunction, *mock.Connections, *mock.Sender) {
	t.Helper()
	conns := mock.NewConnections()
	for _, id := range ids {
		require.NoError(t, conns.Put(context.Background(), models.Connection{
			ConnectionID: id,
			ConnectedAt:  fixedNow.Add(-time.Minute),
			ExpireAt:     fixedNow.Add(time.Hour),
		}))
	}
	sender := mock.NewSender()
	b := NewBroadcasterWithDeps(conns, sender, BroadcasterConfig{MaxConcurrentSends: 2})
	b.now = func() time.Time { return fixedNow }
	return b, conns, sender
}

func TestBroadcast_PrunesFailedConnections(t *testing.T) {
	b, conns, sender := newBroadcasterFixture(t, "a", "b", "c")
	sender.Fail("b", ErrConnectionGone)

	event := models.ProgressUpdate{DocumentID: "doc1", Status: models.StatusRunning, Progress: 40}
	res, err := b.Process(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, &BroadcastResult{Delivered: 2, Pruned: 1}, res)
	assert.False(t, conns.Has("b"))
	assert.True(t, conns.Has("a"))

	require.Len(t, sender.Sent("a"), 1)
	assert.Equal(t, event.Message(), sender.Sent("a")[0])
	require.NotNil(t, sender.Sent("a")[0].Progress)
	assert.Equal(t, 40, *sender.Sent("a")[0].Progress)

	res, err = b.Process(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, &BroadcastResult{Delivered: 2}, res, "pruned connection is not retried")
	assert.Len(t, sender.Sent("c"), 2)
}

func TestBroadcast_AnyDeliveryErrorPrunes(t *testing.T) {
	b, conns, sender := newBroadcasterFixture(t, "a")
	sender.Fail("a", errors.New("connection reset"))

	res, err := b.Process(context.Background(), models.Failure{DocumentID: "doc1", Error: "boom"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pruned)
	assert.False(t, conns.Has("a"))
}

func TestBroadcast_SkipsExpiredConnections(t *testing.T) {
	b, conns, sender := newBroadcasterFixture(t, "live")
	require.NoError(t, conns.Put(context.Background(), models.Connection{
		ConnectionID: "stale",
		ExpireAt:     fixedNow.Add(-time.Second),
	}))

	res, err := b.Process(context.Background(), models.Failure{DocumentID: "doc1", Error: "boom"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Delivered)
	assert.Empty(t, sender.Sent("stale"))
	require.Len(t, sender.Sent("live"), 1)
	assert.Equal(t, models.MessageFailure, sender.Sent("live")[0].Type)
	assert.Equal(t, models.StatusFailed, sender.Sent("live")[0].Status)
}

func TestBroadcast_NoConnections(t *testing.T) {
	b, _, _ := newBroadcasterFixture(t)
	res, err := b.Process(context.Background(), models.ProgressUpdate{DocumentID: "doc1"})
	require.NoError(t, err)
	assert.Equal(t, &BroadcastResult{}, res)
}
