package services

import (
	"context"
	"testing"
	"time"

	"github.com/Lllllllleong/commentingestflow/internal/mock"
	"github.com/Lllllllleong/commentingestflow/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnections_Lifecycle(t *testing.T) {
	registry := mock.NewConnections()
	f := NewConnectionsWithDeps(registry, 2*time.Hour)
	f.now = func() time.Time { return fixedNow }
	ctx := context.Background()

	res, err := f.Process(ctx, &models.ConnectionRequest{EventType: "connect", ConnectionID: "abc"})
	require.NoError(t, err)
	assert.Equal(t, &models.ConnectionResponse{ConnectionID: "abc", Status: "connected"}, res)

	live, err := registry.List(ctx, fixedNow.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, fixedNow.Add(2*time.Hour), live[0].ExpireAt)

	expired, err := registry.List(ctx, fixedNow.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, expired)

	res, err = f.Process(ctx, &models.ConnectionRequest{EventType: EventDisconnect, ConnectionID: "abc"})
	require.NoError(t, err)
	assert.Equal(t, "disconnected", res.Status)
	assert.False(t, registry.Has("abc"))
}

func TestConnections_GeneratesID(t *testing.T) {
	registry := mock.NewConnections()
	f := NewConnectionsWithDeps(registry, time.Hour)

	res, err := f.Process(context.Background(), &models.ConnectionRequest{EventType: EventConnect})
	require.NoError(t, err)
	_, err = uuid.Parse(res.ConnectionID)
	assert.NoError(t, err)
	assert.True(t, registry.Has(res.ConnectionID))
}

func TestConnections_RejectsBadEvents(t *testing.T) {
	f := NewConnectionsWithDeps(mock.NewConnections(), time.Hour)

	_, err := f.Process(context.Background(), &models.ConnectionRequest{EventType: EventDisconnect})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.Process(context.Background(), &models.ConnectionRequest{EventType: "MESSAGE", ConnectionID: "x"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
