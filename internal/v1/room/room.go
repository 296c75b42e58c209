// Package room implements the per-room state: the membership roster, the
// push-to-talk floor state machine, and relay fanout. All operations on one
// room serialize on the room mutex; different rooms progress in parallel.
// Outbound sends under the lock are non-blocking channel pushes, so the lock
// is never held across a transport write.
package room

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/wavelinkhq/pushtalk/internal/v1/logging"
	"github.com/wavelinkhq/pushtalk/internal/v1/metrics"
	"github.com/wavelinkhq/pushtalk/internal/v1/protocol"
	"github.com/wavelinkhq/pushtalk/internal/v1/types"
)

// DefaultMaxMembers caps the roster when the config does not say otherwise.
const DefaultMaxMembers = 50

// DefaultHoldDuration bounds a floor hold when the config does not say otherwise.
const DefaultHoldDuration = 2 * time.Minute

// Member is one roster entry. The client reference is non-owning: the
// session's leave-on-close contract guarantees it is removed before the
// session dies.
type Member struct {
	UserID      types.UserIDType
	DisplayName types.DisplayNameType
	PhotoURL    string
	JoinedAt    time.Time

	client types.ClientInterface
}

func (m *Member) wire() protocol.Member {
	return protocol.Member{
		UserID:      string(m.UserID),
		DisplayName: string(m.DisplayName),
		PhotoURL:    m.PhotoURL,
		JoinedAt:    m.JoinedAt.UnixMilli(),
	}
}

// Config carries the knobs and collaborators a Room needs.
type Config struct {
	MaxMembers   int
	HoldDuration time.Duration
	Clock        clock.WithDelayedExecution
	OnEmpty      func(types.RoomIDType)
	Pusher       types.PushNotifier
}

// Room represents one push-to-talk channel.
type Room struct {
	ID types.RoomIDType

	mu       sync.Mutex
	members  map[types.UserIDType]*Member
	floor    *floorHold
	floorGen uint64
	closed   bool

	maxMembers   int
	holdDuration time.Duration
	clk          clock.WithDelayedExecution
	onEmpty      func(types.RoomIDType)
	pusher       types.PushNotifier
}

// NewRoom creates a Room with the given configuration.
func NewRoom(id types.RoomIDType, cfg Config) *Room {
	if cfg.MaxMembers <= 0 {
		cfg.MaxMembers = DefaultMaxMembers
	}
	if cfg.HoldDuration <= 0 {
		cfg.HoldDuration = DefaultHoldDuration
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}

	return &Room{
		ID:           id,
		members:      make(map[types.UserIDType]*Member),
		maxMembers:   cfg.MaxMembers,
		holdDuration: cfg.HoldDuration,
		clk:          cfg.Clock,
		onEmpty:      cfg.OnEmpty,
		pusher:       cfg.Pusher,
	}
}

// HandleJoin adds the client to the roster and acks with the current roster
// and floor state, atomically. A full room replies ROOM_FULL and leaves the
// roster unchanged. The returned error tells the caller whether the client is
// now a member; the client-facing frames are already sent either way.
func (r *Room) HandleJoin(ctx context.Context, client types.ClientInterface) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		client.SendFrame(protocol.NewErrorFrame(protocol.CodeShuttingDown, "Room is closing"))
		return types.ErrRoomClosed
	}

	userID := client.GetID()

	if existing, ok := r.members[userID]; ok {
		// Duplicate connection for the same user: the new session wins.
		if existing.client != client {
			logging.Info(ctx, "Duplicate connection, replacing session",
				zap.String("room", string(r.ID)), zap.String("userId", string(userID)))
			old := existing.client
			existing.client = client
			existing.DisplayName = client.GetDisplayName()
			existing.PhotoURL = client.GetPhotoURL()
			old.Disconnect()
		}
		r.reapExpiredFloorLocked()
		r.sendRoomJoinedLocked(client)
		return nil
	}

	if len(r.members) >= r.maxMembers {
		client.SendFrame(protocol.NewErrorFrame(protocol.CodeRoomFull, "Room is at capacity"))
		return types.ErrRoomFull
	}

	m := &Member{
		UserID:      userID,
		DisplayName: client.GetDisplayName(),
		PhotoURL:    client.GetPhotoURL(),
		JoinedAt:    r.clk.Now(),
		client:      client,
	}
	r.members[userID] = m

	logging.Info(ctx, "Member joined room",
		zap.String("room", string(r.ID)), zap.String("userId", string(userID)))
	metrics.RoomMembers.WithLabelValues(string(r.ID)).Set(float64(len(r.members)))

	r.reapExpiredFloorLocked()
	r.sendRoomJoinedLocked(client)

	joined := &protocol.MemberJoinedFrame{
		Frame:  protocol.NewFrame(protocol.TypeMemberJoined),
		RoomID: string(r.ID),
		Member: m.wire(),
	}
	r.broadcastLocked(joined, userID)
	r.broadcastRosterLocked(userID)
	return nil
}

// HandleLeave removes the client from the roster. Unknown members are a no-op.
func (r *Room) HandleLeave(ctx context.Context, client types.ClientInterface) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeMemberLocked(ctx, client)
}

// HandleClientDisconnect runs the leave path for a dropped session.
func (r *Room) HandleClientDisconnect(client types.ClientInterface) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeMemberLocked(context.Background(), client)
}

// removeMemberLocked is the single exit path for a member: it releases a held
// floor, emits the roster deltas, and triggers empty-room cleanup.
// The identity check against the stored client reference keeps a replaced
// session's late disconnect from evicting its successor.
func (r *Room) removeMemberLocked(ctx context.Context, client types.ClientInterface) {
	userID := client.GetID()
	m, ok := r.members[userID]
	if !ok || m.client != client {
		return
	}

	delete(r.members, userID)
	logging.Info(ctx, "Member left room",
		zap.String("room", string(r.ID)), zap.String("userId", string(userID)))

	if r.floor != nil && r.floor.speaker.UserID == string(userID) {
		r.clearFloorLocked("disconnect", r.clk.Now())
		released := &protocol.FloorReleasedFrame{
			Frame:  protocol.NewFrame(protocol.TypeFloorReleased),
			RoomID: string(r.ID),
		}
		r.broadcastLocked(released, "")
	}

	left := &protocol.MemberLeftFrame{
		Frame:  protocol.NewFrame(protocol.TypeMemberLeft),
		RoomID: string(r.ID),
		UserID: string(userID),
	}
	r.broadcastLocked(left, "")
	r.broadcastRosterLocked("")

	if len(r.members) > 0 {
		metrics.RoomMembers.WithLabelValues(string(r.ID)).Set(float64(len(r.members)))
	} else {
		metrics.RoomMembers.DeleteLabelValues(string(r.ID))
		if r.floor == nil && r.onEmpty != nil {
			go r.onEmpty(r.ID)
		}
	}
}

// Roster returns a point-in-time snapshot of the membership.
func (r *Room) Roster() []protocol.Member {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rosterLocked()
}

// IsEmpty reports whether the roster is empty.
func (r *Room) IsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members) == 0
}

// HasFloor reports whether a floor hold (and therefore a timer) is pending.
func (r *Room) HasFloor() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.floor != nil
}

// Close disconnects every member with a client-readable reason. Used on
// shutdown.
func (r *Room) Close(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	logging.Info(context.Background(), "Closing room",
		zap.String("room", string(r.ID)), zap.String("reason", reason))

	if r.floor != nil {
		r.clearFloorLocked("shutdown", r.clk.Now())
	}

	frame := protocol.NewErrorFrame(protocol.CodeShuttingDown, reason)
	for _, m := range r.members {
		m.client.SendFrame(frame)
		m.client.Disconnect()
	}
	r.members = make(map[types.UserIDType]*Member)
	metrics.RoomMembers.DeleteLabelValues(string(r.ID))
}

// --- Locked helpers ---

func (r *Room) rosterLocked() []protocol.Member {
	roster := make([]protocol.Member, 0, len(r.members))
	for _, m := range r.members {
		roster = append(roster, m.wire())
	}
	sort.Slice(roster, func(i, j int) bool {
		if roster[i].JoinedAt != roster[j].JoinedAt {
			return roster[i].JoinedAt < roster[j].JoinedAt
		}
		return roster[i].UserID < roster[j].UserID
	})
	return roster
}

func (r *Room) sendRoomJoinedLocked(client types.ClientInterface) {
	ack := &protocol.RoomJoinedFrame{
		Frame:      protocol.NewFrame(protocol.TypeRoomJoined),
		RoomID:     string(r.ID),
		Members:    r.rosterLocked(),
		FloorState: r.floorStateLocked(),
	}
	client.SendFrame(ack)
}

// broadcastLocked queues the frame to every member except exclude.
func (r *Room) broadcastLocked(frame any, exclude types.UserIDType) {
	for id, m := range r.members {
		if id == exclude {
			continue
		}
		m.client.SendFrame(frame)
	}
}

// broadcastRosterLocked sends a full snapshot so clients self-heal from any
// missed delta.
func (r *Room) broadcastRosterLocked(exclude types.UserIDType) {
	snapshot := &protocol.RoomMembersFrame{
		Frame:   protocol.NewFrame(protocol.TypeRoomMembers),
		RoomID:  string(r.ID),
		Members: r.rosterLocked(),
	}
	r.broadcastLocked(snapshot, exclude)
}
