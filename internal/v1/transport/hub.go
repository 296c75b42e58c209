// Package transport owns the WebSocket endpoint: upgrade, session lifecycle,
// and the registry of live rooms. Rooms are created on first join and reaped
// shortly after they empty.
package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/wavelinkhq/pushtalk/internal/v1/config"
	"github.com/wavelinkhq/pushtalk/internal/v1/logging"
	"github.com/wavelinkhq/pushtalk/internal/v1/metrics"
	"github.com/wavelinkhq/pushtalk/internal/v1/ratelimit"
	"github.com/wavelinkhq/pushtalk/internal/v1/room"
	"github.com/wavelinkhq/pushtalk/internal/v1/types"
)

// roomCleanupGrace is how long an empty room survives before it is reaped.
// The grace absorbs quick reconnects without rebuilding room state.
const roomCleanupGrace = 5 * time.Second

// Hub routes sessions to rooms. One Hub per process.
type Hub struct {
	cfg       *config.Config
	validator types.TokenValidator
	limiter   *ratelimit.Limiter
	pusher    types.PushNotifier
	clk       clock.WithDelayedExecution

	upgrader websocket.Upgrader

	mu       sync.Mutex
	rooms    map[types.RoomIDType]*room.Room
	cleanups map[types.RoomIDType]clock.Timer
	closed   bool
}

// NewHub wires the hub to its collaborators. allowedOrigins is consulted on
// upgrade; an empty list allows only non-browser clients.
func NewHub(cfg *config.Config, validator types.TokenValidator, limiter *ratelimit.Limiter, pusher types.PushNotifier, allowedOrigins []string, clk clock.WithDelayedExecution) *Hub {
	if clk == nil {
		clk = clock.RealClock{}
	}

	originSet := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = struct{}{}
	}

	h := &Hub{
		cfg:       cfg,
		validator: validator,
		limiter:   limiter,
		pusher:    pusher,
		clk:       clk,
		rooms:     make(map[types.RoomIDType]*room.Room),
		cleanups:  make(map[types.RoomIDType]clock.Timer),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				// Native clients send no Origin header.
				return true
			}
			if cfg.IsDevelopment() {
				return true
			}
			_, ok := originSet[origin]
			return ok
		},
	}
	return h
}

// ServeWs is the gin handler for the /ws endpoint.
func (h *Hub) ServeWs(c *gin.Context) {
	ctx := context.Background()
	if cid, ok := c.Get(string(logging.CorrelationIDKey)); ok {
		ctx = context.WithValue(ctx, logging.CorrelationIDKey, cid)
	}

	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		c.AbortWithStatus(http.StatusServiceUnavailable)
		return
	}

	if !h.limiter.AllowIP(ctx, c.ClientIP()) {
		logging.Warn(ctx, "Connection rejected by rate limit", zap.String("ip", c.ClientIP()))
		c.AbortWithStatus(http.StatusTooManyRequests)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		logging.Warn(ctx, "WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(h, conn, ctx)
	metrics.IncConnection()
	logging.Info(ctx, "WebSocket connection established", zap.String("ip", c.ClientIP()))

	client.startAuthTimer(h.cfg.AuthTimeout)
	go client.writePump()
	go client.readPump()
}

// getOrCreateRoom returns the live room, creating it on first join. Returns
// nil once the hub is shutting down.
func (h *Hub) getOrCreateRoom(id types.RoomIDType) *room.Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}

	if t, ok := h.cleanups[id]; ok {
		t.Stop()
		delete(h.cleanups, id)
	}

	if r, ok := h.rooms[id]; ok {
		return r
	}

	r := room.NewRoom(id, room.Config{
		MaxMembers:   h.cfg.MaxConnectionsPerRoom,
		HoldDuration: h.cfg.FloorMaxDuration,
		Clock:        h.clk,
		OnEmpty:      h.scheduleRoomCleanup,
		Pusher:       h.pusher,
	})
	h.rooms[id] = r
	metrics.ActiveRooms.Set(float64(len(h.rooms)))
	logging.Info(context.Background(), "Room created", zap.String("room", string(id)))
	return r
}

// getRoom returns the live room or nil.
func (h *Hub) getRoom(id types.RoomIDType) *room.Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms[id]
}

// RoomCount reports the number of live rooms.
func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// scheduleRoomCleanup arms the reap timer for a room that just emptied.
func (h *Hub) scheduleRoomCleanup(id types.RoomIDType) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	if _, ok := h.cleanups[id]; ok {
		return
	}
	h.cleanups[id] = h.clk.AfterFunc(roomCleanupGrace, func() {
		h.reapRoom(id)
	})
}

// reapRoom removes the room if it is still empty when the grace elapses.
func (h *Hub) reapRoom(id types.RoomIDType) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.cleanups, id)
	r, ok := h.rooms[id]
	if !ok {
		return
	}
	if !r.IsEmpty() || r.HasFloor() {
		return
	}

	delete(h.rooms, id)
	metrics.ActiveRooms.Set(float64(len(h.rooms)))
	logging.Info(context.Background(), "Room reaped", zap.String("room", string(id)))
}

// unregisterClient runs the disconnect cascade for a session whose read pump
// exited. Membership removal happens here, never in the session itself, so a
// session that dies without a leave_room still leaves every roster.
func (h *Hub) unregisterClient(c *Client) {
	metrics.DecConnection()

	for _, id := range c.joinedRooms() {
		if r := h.getRoom(id); r != nil {
			r.HandleClientDisconnect(c)
		}
	}
	logging.Info(c.logCtx(), "WebSocket connection closed")
}

// Shutdown stops accepting sessions and closes every room, notifying members
// before the connections drop.
func (h *Hub) Shutdown(ctx context.Context) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for id, t := range h.cleanups {
		t.Stop()
		delete(h.cleanups, id)
	}
	rooms := make([]*room.Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.rooms = make(map[types.RoomIDType]*room.Room)
	h.mu.Unlock()

	for _, r := range rooms {
		r.Close("Server is shutting down")
	}
	metrics.ActiveRooms.Set(0)
	logging.Info(ctx, "Hub shut down", zap.Int("roomsClosed", len(rooms)))
}
