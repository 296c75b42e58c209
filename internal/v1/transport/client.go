package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"k8s.io/utils/set"

	"github.com/wavelinkhq/pushtalk/internal/v1/logging"
	"github.com/wavelinkhq/pushtalk/internal/v1/metrics"
	"github.com/wavelinkhq/pushtalk/internal/v1/protocol"
	"github.com/wavelinkhq/pushtalk/internal/v1/types"
)

const (
	// writeWait bounds a single frame write to a peer.
	writeWait = 10 * time.Second

	// maxMessageSize caps inbound frames. SDP blobs are the largest legitimate
	// payload and stay well under this.
	maxMessageSize = 128 * 1024

	// sendBufferSize is the per-session outbound queue. A full queue means the
	// peer is not draining; frames are dropped rather than blocking the room.
	sendBufferSize = 256
)

type sessionState int

const (
	stateAuthenticating sessionState = iota
	stateReady
)

// Client is one WebSocket session. It starts unauthenticated; the first frame
// must be an auth frame, after which the identity fields are immutable. A
// single outbound queue preserves the order frames were produced in.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	send chan []byte
	done chan struct{}

	mu        sync.Mutex
	ctx       context.Context
	state     sessionState
	identity  types.Identity
	joined    set.Set[types.RoomIDType]
	authTimer *time.Timer

	closeOnce sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn, ctx context.Context) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		ctx:    ctx,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
		joined: set.New[types.RoomIDType](),
	}
}

// GetID implements types.ClientInterface.
func (c *Client) GetID() types.UserIDType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return types.UserIDType(c.identity.UserID)
}

// GetDisplayName implements types.ClientInterface.
func (c *Client) GetDisplayName() types.DisplayNameType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return types.DisplayNameType(c.identity.DisplayName)
}

// GetPhotoURL implements types.ClientInterface.
func (c *Client) GetPhotoURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity.PhotoURL
}

// logCtx returns the session's logging context, which gains the user ID once
// authentication completes.
func (c *Client) logCtx() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx
}

// SendFrame implements types.ClientInterface. It never blocks: a session that
// cannot keep up loses frames, and the next roster snapshot heals the gap.
func (c *Client) SendFrame(frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		logging.Error(c.logCtx(), "Failed to marshal outbound frame", zap.Error(err))
		return
	}

	select {
	case <-c.done:
	case c.send <- data:
	default:
		metrics.WebsocketEvents.WithLabelValues("outbound", "dropped").Inc()
		logging.Warn(c.logCtx(), "Dropping frame for slow client")
	}
}

// Disconnect implements types.ClientInterface. Queued frames get a short
// window to flush so a final error or auth_failed frame reaches the peer.
func (c *Client) Disconnect() {
	c.closeOnce.Do(func() {
		go c.flushAndClose()
	})
}

func (c *Client) flushAndClose() {
	deadline := time.NewTimer(500 * time.Millisecond)
	defer deadline.Stop()
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()

	for len(c.send) > 0 {
		select {
		case <-deadline.C:
			close(c.done)
			_ = c.conn.Close()
			return
		case <-tick.C:
		}
	}
	// One more tick so an in-flight write completes.
	<-tick.C
	close(c.done)
	_ = c.conn.Close()
}

// startAuthTimer arms the authentication deadline. A session that has not
// presented a valid auth frame when it fires is told why and dropped.
func (c *Client) startAuthTimer(timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authTimer = time.AfterFunc(timeout, func() {
		c.mu.Lock()
		pending := c.state == stateAuthenticating
		c.mu.Unlock()
		if !pending {
			return
		}
		c.SendFrame(&protocol.AuthFailedFrame{
			Frame:  protocol.NewFrame(protocol.TypeAuthFailed),
			Reason: protocol.AuthReasonTimeout,
		})
		metrics.WebsocketEvents.WithLabelValues(protocol.TypeAuth, "timeout").Inc()
		c.Disconnect()
	})
}

// readPump owns the inbound side of the connection. It exits on any read
// error, and its defer is the single cleanup path for the session.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregisterClient(c)
		c.Disconnect()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.IdleTimeout))

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Warn(c.logCtx(), "WebSocket closed unexpectedly", zap.Error(err))
			}
			return
		}

		// Any inbound frame counts as liveness.
		_ = c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.IdleTimeout))

		if !c.handleFrame(data) {
			return
		}
	}
}

// writePump owns the outbound side of the connection.
func (c *Client) writePump() {
	defer c.Disconnect()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

// handleFrame routes one inbound frame. Returning false closes the session.
func (c *Client) handleFrame(data []byte) bool {
	tag, err := protocol.PeekType(data)
	if err != nil || tag == "" {
		metrics.WebsocketEvents.WithLabelValues("unknown", "malformed").Inc()
		c.SendFrame(protocol.NewErrorFrame(protocol.CodeMalformedFrame, "Frame is not valid JSON with a type field"))
		return false
	}

	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	if state == stateAuthenticating {
		if tag != protocol.TypeAuth {
			c.SendFrame(&protocol.AuthFailedFrame{
				Frame:  protocol.NewFrame(protocol.TypeAuthFailed),
				Reason: "authentication required",
			})
			return false
		}
		return c.handleAuth(data)
	}

	metrics.WebsocketEvents.WithLabelValues(tag, "received").Inc()

	switch tag {
	case protocol.TypeAuth:
		// Re-auth on a live session is not supported.
		c.SendFrame(protocol.NewErrorFrame(protocol.CodeUnknownType, "Already authenticated"))
	case protocol.TypePing:
		c.SendFrame(protocol.NewFrame(protocol.TypePong))
	case protocol.TypeJoinRoom:
		c.handleJoinRoom(data)
	case protocol.TypeLeaveRoom:
		c.handleLeaveRoom(data)
	case protocol.TypeRequestFloor:
		c.handleFloorFrame(data, true)
	case protocol.TypeReleaseFloor:
		c.handleFloorFrame(data, false)
	default:
		if protocol.IsRelayType(tag) {
			c.handleRelay(tag, data)
			break
		}
		metrics.WebsocketEvents.WithLabelValues(tag, "unknown").Inc()
		c.SendFrame(protocol.NewErrorFrame(protocol.CodeUnknownType, "Unknown frame type: "+tag))
	}
	return true
}

func (c *Client) handleAuth(data []byte) bool {
	var frame protocol.AuthFrame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Token == "" {
		c.failAuth(protocol.AuthReasonBadToken)
		return false
	}

	identity, err := c.hub.validator.Verify(frame.Token)
	if err != nil {
		logging.Warn(c.logCtx(), "Authentication failed", zap.Error(err))
		metrics.WebsocketEvents.WithLabelValues(protocol.TypeAuth, "failed").Inc()
		c.failAuth(protocol.AuthReasonBadToken)
		return false
	}

	if !c.hub.limiter.AllowUser(c.logCtx(), identity.UserID) {
		c.SendFrame(protocol.NewErrorFrame(protocol.CodeRateLimited, "Too many connections for this user"))
		return false
	}

	// Client-chosen display name wins over the token claim.
	if frame.DisplayName != "" {
		identity.DisplayName = frame.DisplayName
	}
	if identity.DisplayName == "" {
		identity.DisplayName = "User"
	}

	c.mu.Lock()
	c.identity = *identity
	c.state = stateReady
	c.ctx = logging.WithUser(c.ctx, identity.UserID)
	if c.authTimer != nil {
		c.authTimer.Stop()
	}
	c.mu.Unlock()

	logging.Info(c.logCtx(), "Session authenticated",
		zap.String("userId", identity.UserID))
	metrics.WebsocketEvents.WithLabelValues(protocol.TypeAuth, "success").Inc()

	c.SendFrame(&protocol.AuthSuccessFrame{
		Frame:       protocol.NewFrame(protocol.TypeAuthSuccess),
		UserID:      identity.UserID,
		DisplayName: identity.DisplayName,
	})
	return true
}

func (c *Client) failAuth(reason string) {
	c.SendFrame(&protocol.AuthFailedFrame{
		Frame:  protocol.NewFrame(protocol.TypeAuthFailed),
		Reason: reason,
	})
}

func (c *Client) handleJoinRoom(data []byte) {
	var frame protocol.JoinRoomFrame
	if err := json.Unmarshal(data, &frame); err != nil || frame.RoomID == "" {
		c.SendFrame(protocol.NewErrorFrame(protocol.CodeMalformedFrame, "join_room requires roomId"))
		return
	}

	roomID := types.RoomIDType(frame.RoomID)
	r := c.hub.getOrCreateRoom(roomID)
	if r == nil {
		c.SendFrame(protocol.NewErrorFrame(protocol.CodeShuttingDown, "Server is shutting down"))
		return
	}

	ctx := logging.WithRoom(c.logCtx(), frame.RoomID)
	if err := r.HandleJoin(ctx, c); err != nil {
		metrics.WebsocketEvents.WithLabelValues(protocol.TypeJoinRoom, "rejected").Inc()
		return
	}

	c.mu.Lock()
	c.joined.Insert(roomID)
	c.mu.Unlock()
}

func (c *Client) handleLeaveRoom(data []byte) {
	var frame protocol.LeaveRoomFrame
	if err := json.Unmarshal(data, &frame); err != nil || frame.RoomID == "" {
		c.SendFrame(protocol.NewErrorFrame(protocol.CodeMalformedFrame, "leave_room requires roomId"))
		return
	}

	roomID := types.RoomIDType(frame.RoomID)
	c.mu.Lock()
	wasMember := c.joined.Has(roomID)
	c.joined.Delete(roomID)
	c.mu.Unlock()

	if !wasMember {
		return
	}
	if r := c.hub.getRoom(roomID); r != nil {
		r.HandleLeave(logging.WithRoom(c.logCtx(), frame.RoomID), c)
	}
}

func (c *Client) handleFloorFrame(data []byte, request bool) {
	var frame protocol.RequestFloorFrame
	if err := json.Unmarshal(data, &frame); err != nil || frame.RoomID == "" {
		c.SendFrame(protocol.NewErrorFrame(protocol.CodeMalformedFrame, "floor frames require roomId"))
		return
	}

	r := c.hub.getRoom(types.RoomIDType(frame.RoomID))
	if r == nil {
		if request {
			c.SendFrame(&protocol.FloorDeniedFrame{
				Frame:  protocol.NewFrame(protocol.TypeFloorDenied),
				RoomID: frame.RoomID,
				Reason: protocol.ReasonNotMember,
			})
		}
		return
	}

	ctx := logging.WithRoom(c.logCtx(), frame.RoomID)
	if request {
		r.HandleRequestFloor(ctx, c)
	} else {
		r.HandleReleaseFloor(ctx, c)
	}
}

func (c *Client) handleRelay(tag string, data []byte) {
	roomFor := func(roomID string) bool {
		if roomID == "" {
			c.SendFrame(protocol.NewErrorFrame(protocol.CodeMalformedFrame, tag+" requires roomId"))
			return false
		}
		return true
	}

	switch tag {
	case protocol.TypeWebRTCOffer:
		var frame protocol.OfferFrame
		if err := json.Unmarshal(data, &frame); err != nil || frame.SDP == "" {
			c.SendFrame(protocol.NewErrorFrame(protocol.CodeMalformedFrame, tag+" requires sdp"))
			return
		}
		if !roomFor(frame.RoomID) {
			return
		}
		if r := c.hub.getRoom(types.RoomIDType(frame.RoomID)); r != nil {
			r.RelayOffer(c.logCtx(), c, &frame)
		} else {
			c.SendFrame(protocol.NewErrorFrame(protocol.CodeUnauthorized, protocol.ReasonNotMember))
		}
	case protocol.TypeWebRTCAnswer:
		var frame protocol.AnswerFrame
		if err := json.Unmarshal(data, &frame); err != nil || frame.SDP == "" {
			c.SendFrame(protocol.NewErrorFrame(protocol.CodeMalformedFrame, tag+" requires sdp"))
			return
		}
		if !roomFor(frame.RoomID) {
			return
		}
		if r := c.hub.getRoom(types.RoomIDType(frame.RoomID)); r != nil {
			r.RelayAnswer(c.logCtx(), c, &frame)
		} else {
			c.SendFrame(protocol.NewErrorFrame(protocol.CodeUnauthorized, protocol.ReasonNotMember))
		}
	case protocol.TypeWebRTCICE:
		var frame protocol.ICEFrame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Candidate == "" {
			c.SendFrame(protocol.NewErrorFrame(protocol.CodeMalformedFrame, tag+" requires candidate"))
			return
		}
		if !roomFor(frame.RoomID) {
			return
		}
		if r := c.hub.getRoom(types.RoomIDType(frame.RoomID)); r != nil {
			r.RelayICE(c.logCtx(), c, &frame)
		} else {
			c.SendFrame(protocol.NewErrorFrame(protocol.CodeUnauthorized, protocol.ReasonNotMember))
		}
	case protocol.TypeWebRTCICEBatch:
		var frame protocol.ICEBatchFrame
		if err := json.Unmarshal(data, &frame); err != nil || len(frame.Candidates) == 0 {
			c.SendFrame(protocol.NewErrorFrame(protocol.CodeMalformedFrame, tag+" requires candidates"))
			return
		}
		if !roomFor(frame.RoomID) {
			return
		}
		if r := c.hub.getRoom(types.RoomIDType(frame.RoomID)); r != nil {
			r.RelayICEBatch(c.logCtx(), c, &frame)
		} else {
			c.SendFrame(protocol.NewErrorFrame(protocol.CodeUnauthorized, protocol.ReasonNotMember))
		}
	}
}

// joinedRooms snapshots the rooms this session is a member of.
func (c *Client) joinedRooms() []types.RoomIDType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined.SortedList()
}
