package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"voxsfu/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRoomRegistry_ConcurrentCreateBuildsOneRouter(t *testing.T) {
	f := newFixture(t, 4)

	const callers = 50
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		rooms   = make(map[*Room]bool)
		created int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			room, c, err := f.registry.GetOrCreateRoom(context.Background(), "standup")
			assert.NoError(t, err)
			mu.Lock()
			rooms[room] = true
			if c {
				created++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, rooms, 1)
	assert.Equal(t, 1, created)

	total := 0
	for _, w := range f.workers {
		total += w.RouterCount()
	}
	assert.Equal(t, 1, total)
}

func TestRoomRegistry_SpreadsRoomsAcrossWorkers(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	for _, id := range []domain.RoomID{"a", "b", "c", "d"} {
		_, _, err := f.registry.GetOrCreateRoom(ctx, id)
		require.NoError(t, err)
	}

	stats := f.registry.Stats()
	assert.Equal(t, 4, stats.Rooms)
	assert.Equal(t, 2, stats.RoutersPerWorker[0])
	assert.Equal(t, 2, stats.RoutersPerWorker[1])
}

func TestRoomRegistry_RouterFailure(t *testing.T) {
	f := newFixture(t, 1)
	f.workers[0].FailNextRouter(errors.New("no ports"))

	_, _, err := f.registry.GetOrCreateRoom(context.Background(), "r1")
	assert.ErrorIs(t, err, domain.ErrRoomUnavailable)
	assert.Zero(t, f.registry.RoomCount())

	room, created, err := f.registry.GetOrCreateRoom(context.Background(), "r1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, domain.RoomID("r1"), room.ID)
}

func TestRoomRegistry_CancelledCallerDoesNotAbortCreation(t *testing.T) {
	f := newFixture(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := f.registry.GetOrCreateRoom(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, f.registry.RoomCount())
}

func TestRoomRegistry_GetRoomNotFound(t *testing.T) {
	registry := NewRoomRegistry(nil, nil, zap.NewNop().Sugar())
	_, err := registry.GetRoom("missing")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestRoomRegistry_RemoveLastPeerClosesRoom(t *testing.T) {
	f := newFixture(t, 1)
	room, _, err := f.registry.GetOrCreateRoom(context.Background(), "r1")
	require.NoError(t, err)
	_, _, err = room.addPeer(newPeer(room.ID, "alice", "Alice", "s1", nil))
	require.NoError(t, err)

	peer, closed := f.registry.RemovePeerAndMaybeCloseRoom("r1", "alice", "")
	require.NotNil(t, peer)
	assert.True(t, closed)
	assert.True(t, room.Closed())
	assert.Zero(t, f.registry.RoomCount())

	_, _, err = room.addPeer(newPeer(room.ID, "bob", "Bob", "s2", nil))
	assert.ErrorIs(t, err, errRoomClosed)
}
