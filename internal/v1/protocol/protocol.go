// Package protocol defines the JSON frames exchanged with clients over the
// WebSocket. Every frame carries a string "type" tag and a "timestamp" in
// milliseconds since epoch; kind-specific fields sit at the top level of the
// object, not inside a nested payload.
package protocol

import (
	"encoding/json"
	"time"
)

// Frame tags, client -> server.
const (
	TypeAuth         = "auth"
	TypePing         = "ping"
	TypeJoinRoom     = "join_room"
	TypeLeaveRoom    = "leave_room"
	TypeRequestFloor = "request_floor"
	TypeReleaseFloor = "release_floor"
)

// Frame tags, server -> client.
const (
	TypeAuthSuccess   = "auth_success"
	TypeAuthFailed    = "auth_failed"
	TypePong          = "pong"
	TypeRoomJoined    = "room_joined"
	TypeRoomMembers   = "room_members"
	TypeMemberJoined  = "member_joined"
	TypeMemberLeft    = "member_left"
	TypeFloorGranted  = "floor_granted"
	TypeFloorDenied   = "floor_denied"
	TypeFloorTaken    = "floor_taken"
	TypeFloorReleased = "floor_released"
	TypeFloorTimeout  = "floor_timeout"
	TypeError         = "error"
)

// Relay frame tags, bidirectional. The server rewrites fromUserId with the
// sender's authenticated identity before forwarding.
const (
	TypeWebRTCOffer    = "webrtc_offer"
	TypeWebRTCAnswer   = "webrtc_answer"
	TypeWebRTCICE      = "webrtc_ice"
	TypeWebRTCICEBatch = "webrtc_ice_batch"
)

// IsRelayType reports whether tag names a relay frame.
func IsRelayType(tag string) bool {
	switch tag {
	case TypeWebRTCOffer, TypeWebRTCAnswer, TypeWebRTCICE, TypeWebRTCICEBatch:
		return true
	}
	return false
}

// Error codes surfaced in Error frames.
const (
	CodeRoomFull       = "ROOM_FULL"
	CodeMalformedFrame = "MALFORMED_FRAME"
	CodeUnknownType    = "UNKNOWN_TYPE"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeRateLimited    = "RATE_LIMITED"
	CodeShuttingDown   = "SHUTTING_DOWN"
)

// Floor denial reasons. These strings are client-visible.
const (
	ReasonNotMember = "You are not a member of this room"
	ReasonFloorHeld = "Floor is currently held by another user"
)

// Auth failure reasons.
const (
	AuthReasonBadToken = "invalid token"
	AuthReasonTimeout  = "authentication timed out"
)

// Frame is the envelope every message carries.
type Frame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// NewFrame builds an envelope stamped with the current time.
func NewFrame(tag string) Frame {
	return Frame{Type: tag, Timestamp: NowMillis()}
}

// NowMillis returns the current wall time in milliseconds since epoch.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// PeekType decodes only the envelope of a raw frame.
func PeekType(data []byte) (string, error) {
	var env Frame
	if err := json.Unmarshal(data, &env); err != nil {
		return "", err
	}
	return env.Type, nil
}

// Member is the wire form of a roster entry.
type Member struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoUrl,omitempty"`
	JoinedAt    int64  `json:"joinedAt"`
}

// FloorState is the wire form of a held floor. Absence means the floor is free.
type FloorState struct {
	SpeakerID       string `json:"speakerId"`
	SpeakerName     string `json:"speakerName"`
	SpeakerPhotoURL string `json:"speakerPhotoUrl,omitempty"`
	StartedAt       int64  `json:"startedAt"`
	ExpiresAt       int64  `json:"expiresAt"`
}

// --- Client -> Server ---

// AuthFrame must be the first frame on a new connection.
type AuthFrame struct {
	Frame
	Token       string `json:"token"`
	DisplayName string `json:"displayName,omitempty"`
}

// JoinRoomFrame asks to join a room, creating it if absent.
type JoinRoomFrame struct {
	Frame
	RoomID string `json:"roomId"`
}

// LeaveRoomFrame leaves a previously joined room.
type LeaveRoomFrame struct {
	Frame
	RoomID string `json:"roomId"`
}

// RequestFloorFrame asks for the PTT floor in a room.
type RequestFloorFrame struct {
	Frame
	RoomID string `json:"roomId"`
}

// ReleaseFloorFrame gives the floor back.
type ReleaseFloorFrame struct {
	Frame
	RoomID string `json:"roomId"`
}

// --- Server -> Client ---

// AuthSuccessFrame acknowledges authentication.
type AuthSuccessFrame struct {
	Frame
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// AuthFailedFrame precedes the session close on authentication failure.
type AuthFailedFrame struct {
	Frame
	Reason string `json:"reason"`
}

// RoomJoinedFrame acknowledges a join with the roster and floor snapshot.
type RoomJoinedFrame struct {
	Frame
	RoomID     string      `json:"roomId"`
	Members    []Member    `json:"members"`
	FloorState *FloorState `json:"floorState,omitempty"`
}

// RoomMembersFrame is a full roster snapshot.
type RoomMembersFrame struct {
	Frame
	RoomID  string   `json:"roomId"`
	Members []Member `json:"members"`
}

// MemberJoinedFrame is a roster delta.
type MemberJoinedFrame struct {
	Frame
	RoomID string `json:"roomId"`
	Member Member `json:"member"`
}

// MemberLeftFrame is a roster delta.
type MemberLeftFrame struct {
	Frame
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// FloorGrantedFrame goes to the requester on grant or lease extension.
type FloorGrantedFrame struct {
	Frame
	RoomID    string `json:"roomId"`
	ExpiresAt int64  `json:"expiresAt"`
}

// FloorDeniedFrame goes to the requester when the floor is unavailable.
type FloorDeniedFrame struct {
	Frame
	RoomID         string  `json:"roomId"`
	Reason         string  `json:"reason"`
	CurrentSpeaker *Member `json:"currentSpeaker,omitempty"`
}

// FloorTakenFrame goes to everyone except the new speaker.
type FloorTakenFrame struct {
	Frame
	RoomID    string `json:"roomId"`
	Speaker   Member `json:"speaker"`
	ExpiresAt int64  `json:"expiresAt"`
}

// FloorReleasedFrame goes to the roster whenever the floor becomes free.
type FloorReleasedFrame struct {
	Frame
	RoomID string `json:"roomId"`
}

// FloorTimeoutFrame goes to the ex-speaker when the hold duration elapses.
type FloorTimeoutFrame struct {
	Frame
	RoomID string `json:"roomId"`
}

// ErrorFrame reports a client-readable error.
type ErrorFrame struct {
	Frame
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorFrame builds a stamped Error frame.
func NewErrorFrame(code, message string) *ErrorFrame {
	return &ErrorFrame{Frame: NewFrame(TypeError), Code: code, Message: message}
}

// --- Relay frames ---

// OfferFrame carries an SDP offer between peers.
type OfferFrame struct {
	Frame
	RoomID       string `json:"roomId"`
	SDP          string `json:"sdp"`
	TargetUserID string `json:"targetUserId,omitempty"`
	FromUserID   string `json:"fromUserId,omitempty"`
}

// AnswerFrame carries an SDP answer between peers.
type AnswerFrame struct {
	Frame
	RoomID       string `json:"roomId"`
	SDP          string `json:"sdp"`
	TargetUserID string `json:"targetUserId,omitempty"`
	FromUserID   string `json:"fromUserId,omitempty"`
}

// ICECandidate is a single ICE candidate.
type ICECandidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex int    `json:"sdpMLineIndex"`
}

// ICEFrame carries one ICE candidate.
type ICEFrame struct {
	Frame
	RoomID string `json:"roomId"`
	ICECandidate
	TargetUserID string `json:"targetUserId,omitempty"`
	FromUserID   string `json:"fromUserId,omitempty"`
}

// ICEBatchFrame carries several candidates; it is delivered whole or dropped
// whole.
type ICEBatchFrame struct {
	Frame
	RoomID       string         `json:"roomId"`
	Candidates   []ICECandidate `json:"candidates"`
	TargetUserID string         `json:"targetUserId,omitempty"`
	FromUserID   string         `json:"fromUserId,omitempty"`
}
