package http

import (
	"context"
	"net/http"

	"voxsfu/internal/core/domain"
	"voxsfu/internal/core/services"
	"voxsfu/pkg/validation"

	"github.com/gin-gonic/gin"
)

// RoomLocator finds the node hosting a room in a multi-node deployment.
type RoomLocator interface {
	Lookup(ctx context.Context, id domain.RoomID) (string, error)
}

// RoomHandler serves the read-only admin API over live rooms.
type RoomHandler struct {
	registry *services.RoomRegistry
	locator  RoomLocator
	nodeID   string
}

// NewRoomHandler creates the handler. locator may be nil when rooms are
// not shared across nodes.
func NewRoomHandler(registry *services.RoomRegistry, locator RoomLocator, nodeID string) *RoomHandler {
	return &RoomHandler{
		registry: registry,
		locator:  locator,
		nodeID:   nodeID,
	}
}

func (h *RoomHandler) SetupRoutes(group *gin.RouterGroup) {
	group.GET("/rooms", h.ListRooms)
	group.GET("/rooms/:id", h.GetRoom)
	group.GET("/rooms/:id/node", h.GetRoomNode)
	group.GET("/stats", h.GetStats)
}

func (h *RoomHandler) ListRooms(c *gin.Context) {
	rooms := h.registry.Rooms()
	out := make([]domain.RoomSnapshot, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, room.Snapshot())
	}
	c.JSON(http.StatusOK, gin.H{
		"rooms": out,
		"count": len(out),
	})
}

func (h *RoomHandler) GetRoom(c *gin.Context) {
	id, ok := roomID(c)
	if !ok {
		return
	}
	room, err := h.registry.GetRoom(id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, room.Snapshot())
}

// GetRoomNode reports which node hosts a room.
func (h *RoomHandler) GetRoomNode(c *gin.Context) {
	id, ok := roomID(c)
	if !ok {
		return
	}
	if _, err := h.registry.GetRoom(id); err == nil {
		c.JSON(http.StatusOK, gin.H{"roomId": id, "nodeId": h.nodeID, "local": true})
		return
	}
	if h.locator == nil {
		_ = c.Error(domain.ErrRoomNotFound)
		return
	}
	node, err := h.locator.Lookup(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"roomId": id, "nodeId": node, "local": node == h.nodeID})
}

func (h *RoomHandler) GetStats(c *gin.Context) {
	stats := h.registry.Stats()
	c.JSON(http.StatusOK, gin.H{
		"nodeId":           h.nodeID,
		"rooms":            stats.Rooms,
		"peers":            stats.Peers,
		"transports":       stats.Transports,
		"producers":        stats.Producers,
		"consumers":        stats.Consumers,
		"routersPerWorker": stats.RoutersPerWorker,
	})
}

func roomID(c *gin.Context) (domain.RoomID, bool) {
	id := c.Param("id")
	if err := validation.ValidateRoomID(id); err != nil {
		_ = c.Error(domain.ErrInvalidRequest)
		return "", false
	}
	return domain.RoomID(id), true
}
