package distributed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"voxsfu/internal/core/domain"
	"voxsfu/internal/core/ports"
	"voxsfu/pkg/tracing"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RoomDirectory records which node hosts each room so that operators and
// other services can find it. Entries expire unless refreshed, so a node
// that dies without cleanup drops out on its own.
type RoomDirectory struct {
	client redis.Cmdable
	nodeID string
	ttl    time.Duration
	logger *zap.SugaredLogger

	mu    sync.Mutex
	rooms map[domain.RoomID]struct{}
}

func NewRoomDirectory(client redis.Cmdable, nodeID string, ttl time.Duration, logger *zap.SugaredLogger) *RoomDirectory {
	return &RoomDirectory{
		client: client,
		nodeID: nodeID,
		ttl:    ttl,
		logger: logger,
		rooms:  make(map[domain.RoomID]struct{}),
	}
}

func roomKey(id domain.RoomID) string {
	return "voxsfu:room:" + string(id)
}

func nodeRoomsKey(nodeID string) string {
	return fmt.Sprintf("voxsfu:node:%s:rooms", nodeID)
}

// Publish keeps the directory in step with room lifecycle events.
func (d *RoomDirectory) Publish(ctx context.Context, event domain.RoomEvent) error {
	switch event.Type {
	case domain.RoomEventCreated:
		return d.Register(ctx, event.RoomID)
	case domain.RoomEventClosed:
		return d.Unregister(ctx, event.RoomID)
	}
	return nil
}

// Register claims a room for this node. A claim held by another node is
// left alone and logged.
func (d *RoomDirectory) Register(ctx context.Context, id domain.RoomID) error {
	key := roomKey(id)
	ctx, span := tracing.TraceRedisOperation(ctx, "SETNX", key)
	defer span.End()

	claimed, err := d.client.SetNX(ctx, key, d.nodeID, d.ttl).Result()
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to register room: %w", err)
	}
	if !claimed {
		owner, err := d.client.Get(ctx, key).Result()
		if err == nil && owner != d.nodeID {
			d.logger.Warnw("room already hosted by another node", "room_id", id, "owner", owner)
			return nil
		}
		d.client.Expire(ctx, key, d.ttl)
	}

	nodeKey := nodeRoomsKey(d.nodeID)
	if err := d.client.SAdd(ctx, nodeKey, string(id)).Err(); err != nil {
		return fmt.Errorf("failed to add room to node set: %w", err)
	}
	d.client.Expire(ctx, nodeKey, d.ttl)

	d.mu.Lock()
	d.rooms[id] = struct{}{}
	d.mu.Unlock()
	return nil
}

// Unregister removes a room this node owns.
func (d *RoomDirectory) Unregister(ctx context.Context, id domain.RoomID) error {
	d.mu.Lock()
	delete(d.rooms, id)
	d.mu.Unlock()

	key := roomKey(id)
	owner, err := d.client.Get(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to read room owner: %w", err)
	}
	if owner == d.nodeID {
		d.client.Del(ctx, key)
	}
	return d.client.SRem(ctx, nodeRoomsKey(d.nodeID), string(id)).Err()
}

// Lookup returns the node hosting a room.
func (d *RoomDirectory) Lookup(ctx context.Context, id domain.RoomID) (string, error) {
	owner, err := d.client.Get(ctx, roomKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return "", domain.ErrRoomNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up room: %w", err)
	}
	return owner, nil
}

// Refresh extends the TTL of every room this node holds.
func (d *RoomDirectory) Refresh(ctx context.Context) error {
	d.mu.Lock()
	ids := make([]domain.RoomID, 0, len(d.rooms))
	for id := range d.rooms {
		ids = append(ids, id)
	}
	d.mu.Unlock()

	_, err := d.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.Expire(ctx, roomKey(id), d.ttl)
		}
		pipe.Expire(ctx, nodeRoomsKey(d.nodeID), d.ttl)
		return nil
	})
	return err
}

// Run refreshes entries every ttl/3 until ctx is done, then removes this
// node's entries.
func (d *RoomDirectory) Run(ctx context.Context) {
	ticker := time.NewTicker(d.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := d.Cleanup(cleanupCtx); err != nil {
				d.logger.Warnw("failed to clean up room directory", "error", err)
			}
			cancel()
			return
		case <-ticker.C:
			if err := d.Refresh(ctx); err != nil {
				d.logger.Warnw("failed to refresh room directory", "error", err)
			}
		}
	}
}

// Cleanup removes every entry this node registered.
func (d *RoomDirectory) Cleanup(ctx context.Context) error {
	nodeKey := nodeRoomsKey(d.nodeID)
	ids, err := d.client.SMembers(ctx, nodeKey).Result()
	if err != nil {
		return fmt.Errorf("failed to get node rooms: %w", err)
	}
	for _, id := range ids {
		if err := d.Unregister(ctx, domain.RoomID(id)); err != nil {
			d.logger.Warnw("failed to unregister room during cleanup", "room_id", id, "error", err)
		}
	}
	return d.client.Del(ctx, nodeKey).Err()
}

var _ ports.RoomEventPublisher = (*RoomDirectory)(nil)
