package services

import (
	"errors"
	"sync"
	"time"

	"voxsfu/internal/core/domain"
	"voxsfu/internal/core/ports"
)

var errRoomClosed = errors.New("room closed")

// Room owns its router and peer map. A closed room is unreachable through
// the registry; joins that raced with its teardown retry.
type Room struct {
	ID        domain.RoomID
	Router    ports.MediaRouter
	Worker    ports.MediaWorker
	CreatedAt time.Time

	mu        sync.RWMutex
	peers     map[domain.PeerID]*Peer
	producers map[domain.ProducerID]*Producer
	closed    bool
}

func newRoom(id domain.RoomID, worker ports.MediaWorker, router ports.MediaRouter) *Room {
	return &Room{
		ID:        id,
		Router:    router,
		Worker:    worker,
		CreatedAt: time.Now(),
		peers:     make(map[domain.PeerID]*Peer),
		producers: make(map[domain.ProducerID]*Producer),
	}
}

// addPeer inserts p unless a peer with the same id exists, in which case the
// existing peer is rebound to p's session and returned with the session it
// replaced.
func (r *Room) addPeer(p *Peer) (existing *Peer, replaced string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, "", errRoomClosed
	}
	if existing, ok := r.peers[p.ID]; ok {
		return existing, existing.rebind(p.sessionID, p.rtpCapabilities), nil
	}
	r.peers[p.ID] = p
	return nil, "", nil
}

// Peer returns the member with the given id.
func (r *Room) Peer(id domain.PeerID) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	return p, ok
}

// Peers returns a snapshot of the current members.
func (r *Room) Peers() []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	return out
}

// PeerCount returns the number of members.
func (r *Room) PeerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Closed reports whether the room has been removed from the registry.
func (r *Room) Closed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

func (r *Room) indexProducer(p *Producer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.producers[p.ID] = p
	}
}

func (r *Room) unindexProducer(id domain.ProducerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.producers, id)
}

// Producer looks up a live producer of any member by id.
func (r *Room) Producer(id domain.ProducerID) (*Producer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.producers[id]
	return p, ok
}

// ProducerInfos lists live producers not owned by exclude.
func (r *Room) ProducerInfos(exclude domain.PeerID) []domain.ProducerInfo {
	r.mu.RLock()
	producers := make([]*Producer, 0, len(r.producers))
	for _, p := range r.producers {
		if p.Owner != exclude {
			producers = append(producers, p)
		}
	}
	r.mu.RUnlock()

	infos := make([]domain.ProducerInfo, 0, len(producers))
	for _, p := range producers {
		if p.Closed() {
			continue
		}
		infos = append(infos, p.Info())
	}
	return infos
}

func (r *Room) Snapshot() domain.RoomSnapshot {
	snap := domain.RoomSnapshot{
		ID:        r.ID,
		WorkerID:  r.Worker.ID(),
		CreatedAt: r.CreatedAt,
	}
	for _, p := range r.Peers() {
		snap.Peers = append(snap.Peers, p.Snapshot())
	}
	return snap
}
