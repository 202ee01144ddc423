package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"voxsfu/internal/core/domain"
	"voxsfu/pkg/tracing"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const routerCreateTimeout = 10 * time.Second

// RoomRegistry maps room ids to live rooms. Router creation for a room runs
// at most once at a time and never under the registry lock.
type RoomRegistry struct {
	pool   *WorkerPool
	codecs []domain.RtpCodecCapability
	logger *zap.SugaredLogger

	mu    sync.RWMutex
	rooms map[domain.RoomID]*Room
	group singleflight.Group

	onCreated func(*Room)
	onClosed  func(*Room)
}

// NewRoomRegistry returns an empty registry whose routers use codecs.
func NewRoomRegistry(pool *WorkerPool, codecs []domain.RtpCodecCapability, logger *zap.SugaredLogger) *RoomRegistry {
	return &RoomRegistry{
		pool:   pool,
		codecs: codecs,
		logger: logger,
		rooms:  make(map[domain.RoomID]*Room),
	}
}

// OnRoomLifecycle registers hooks run after a room is created or removed.
func (r *RoomRegistry) OnRoomLifecycle(created, closed func(*Room)) {
	r.onCreated = created
	r.onClosed = closed
}

// GetOrCreateRoom returns the live room for id, creating it and its router
// if needed. created is true only for the caller whose call built the room.
func (r *RoomRegistry) GetOrCreateRoom(ctx context.Context, id domain.RoomID) (room *Room, created bool, err error) {
	if room, ok := r.lookup(id); ok {
		return room, false, nil
	}

	// The router outlives the request that triggered it.
	createCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), routerCreateTimeout)
	defer cancel()

	v, err, _ := r.group.Do(string(id), func() (interface{}, error) {
		if room, ok := r.lookup(id); ok {
			return room, nil
		}

		worker, err := r.pool.Acquire()
		if err != nil {
			return nil, err
		}

		spanCtx, span := tracing.TraceMediaOp(createCtx, "create_router", string(id))
		router, err := worker.CreateRouter(spanCtx, r.codecs)
		if err != nil {
			tracing.RecordError(spanCtx, err)
			span.End()
			r.logger.Errorw("failed to create router", "room_id", id, "worker_id", worker.ID(), "error", err)
			return nil, fmt.Errorf("%w: %v", domain.ErrRoomUnavailable, err)
		}
		span.End()

		room := newRoom(id, worker, router)
		r.mu.Lock()
		if existing, ok := r.rooms[id]; ok {
			r.mu.Unlock()
			_ = router.Close()
			return existing, nil
		}
		r.rooms[id] = room
		r.mu.Unlock()

		created = true
		r.logger.Infow("room created", "room_id", id, "worker_id", worker.ID(), "router_id", router.ID())
		if r.onCreated != nil {
			r.onCreated(room)
		}
		return room, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*Room), created, nil
}

func (r *RoomRegistry) lookup(id domain.RoomID) (*Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[id]
	return room, ok
}

// GetRoom returns a live room or domain.ErrRoomNotFound.
func (r *RoomRegistry) GetRoom(id domain.RoomID) (*Room, error) {
	room, ok := r.lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrRoomNotFound, id)
	}
	return room, nil
}

// RemovePeerAndMaybeCloseRoom detaches the peer from its room and, if that
// left the room empty, removes the room from the registry and closes its
// router. The emptiness check and the registry removal happen under the
// room lock, so a concurrent join either lands before (room survives) or
// sees the room closed and retries. A non-empty sessionID removes the peer
// only while that session still owns it. Returns the removed peer, or nil
// if it was not a member.
func (r *RoomRegistry) RemovePeerAndMaybeCloseRoom(roomID domain.RoomID, peerID domain.PeerID, sessionID string) (*Peer, bool) {
	room, ok := r.lookup(roomID)
	if !ok {
		return nil, false
	}

	room.mu.Lock()
	peer, member := room.peers[peerID]
	if member && sessionID != "" && peer.SessionID() != sessionID {
		peer, member = nil, false
	}
	if member {
		delete(room.peers, peerID)
	}
	closeRoom := len(room.peers) == 0 && !room.closed
	if closeRoom {
		room.closed = true
		r.mu.Lock()
		if r.rooms[roomID] == room {
			delete(r.rooms, roomID)
		}
		r.mu.Unlock()
	}
	room.mu.Unlock()

	return peer, closeRoom
}

// closeRoomRouter releases the router of a room already removed from the map.
func (r *RoomRegistry) closeRoomRouter(room *Room) {
	if err := room.Router.Close(); err != nil {
		r.logger.Warnw("failed to close router", "room_id", room.ID, "error", err)
	}
	r.logger.Infow("room closed", "room_id", room.ID, "worker_id", room.Worker.ID())
	if r.onClosed != nil {
		r.onClosed(room)
	}
}

// Rooms returns a snapshot of the open rooms.
func (r *RoomRegistry) Rooms() []*Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, room)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RoomCount returns the number of open rooms.
func (r *RoomRegistry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Stats counts live objects across all rooms.
func (r *RoomRegistry) Stats() domain.SessionStats {
	stats := domain.SessionStats{RoutersPerWorker: make(map[domain.WorkerID]int)}
	for _, w := range r.pool.Workers() {
		stats.RoutersPerWorker[w.ID()] = w.RouterCount()
	}
	for _, room := range r.Rooms() {
		stats.Rooms++
		for _, p := range room.Peers() {
			stats.Peers++
			t, pr, c := p.Counts()
			stats.Transports += t
			stats.Producers += pr
			stats.Consumers += c
		}
	}
	return stats
}
