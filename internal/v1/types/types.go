package types

import (
	"context"
	"errors"
)

// --- Core Domain Types ---

// UserIDType represents a unique identifier for an authenticated user.
type UserIDType string

// RoomIDType represents a unique identifier for a push-to-talk room (channel).
type RoomIDType string

// DisplayNameType represents the human-readable name for a user.
type DisplayNameType string

// Identity is the result of verifying a bearer credential.
type Identity struct {
	UserID      string
	DisplayName string
	PhotoURL    string
}

// --- Errors ---

var (
	// ErrRoomFull is returned when a join would exceed the room capacity.
	ErrRoomFull = errors.New("room is at capacity")

	// ErrNotMember is returned when an operation requires roster membership.
	ErrNotMember = errors.New("not a member of this room")

	// ErrRoomClosed is returned when a join races room shutdown.
	ErrRoomClosed = errors.New("room is closed")
)

// --- Push Kinds ---

// PushKind selects which wake-up notification the dispatcher emits.
type PushKind string

const (
	PushBroadcastStarted PushKind = "broadcast-started"
	PushBroadcastEnded   PushKind = "broadcast-ended"
)

// --- Shared Interfaces ---

// TokenValidator defines the interface for bearer credential verification.
// Implementations must be idempotent and side-effect free.
type TokenValidator interface {
	Verify(tokenString string) (*Identity, error)
}

// Directory defines the read interface to the external directory store.
// All operations degrade gracefully: a failure is logged by the caller and
// treated as an empty result, never as a signaling error.
type Directory interface {
	GetRoomMemberIDs(ctx context.Context, roomID string) ([]string, error)
	GetPushTokens(ctx context.Context, userIDs []string) (map[string]string, error)
	RemovePushToken(ctx context.Context, userID string) error
}

// PushNotifier defines the interface for wake-up push fan-out. Notify must
// return immediately; delivery happens on a background worker.
type PushNotifier interface {
	Notify(ctx context.Context, kind PushKind, roomID, speakerID, speakerName string)
}

// ClientInterface defines the behavior the room package needs from a
// WebSocket session, without depending on the transport package.
type ClientInterface interface {
	GetID() UserIDType
	GetDisplayName() DisplayNameType
	GetPhotoURL() string
	// SendFrame marshals the frame and queues it for delivery. It never
	// blocks; frames to a slow or closed client are dropped.
	SendFrame(frame any)
	// Disconnect closes the connection after giving queued frames a short
	// window to flush. Safe to call more than once.
	Disconnect()
}
