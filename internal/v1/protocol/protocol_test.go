package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeekType(t *testing.T) {
	tag, err := PeekType([]byte(`{"type":"join_room","roomId":"room-1"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeJoinRoom, tag)

	_, err = PeekType([]byte(`{not json`))
	assert.Error(t, err)

	tag, err = PeekType([]byte(`{"roomId":"room-1"}`))
	require.NoError(t, err)
	assert.Empty(t, tag)
}

func TestIsRelayType(t *testing.T) {
	assert.True(t, IsRelayType(TypeWebRTCOffer))
	assert.True(t, IsRelayType(TypeWebRTCAnswer))
	assert.True(t, IsRelayType(TypeWebRTCICE))
	assert.True(t, IsRelayType(TypeWebRTCICEBatch))
	assert.False(t, IsRelayType(TypeJoinRoom))
	assert.False(t, IsRelayType(""))
}

func TestNewErrorFrame(t *testing.T) {
	f := NewErrorFrame(CodeRoomFull, "Room is at capacity")
	assert.Equal(t, TypeError, f.Type)
	assert.Equal(t, CodeRoomFull, f.Code)
	assert.NotZero(t, f.Timestamp)
}

func TestRoomJoinedOmitsFreeFloor(t *testing.T) {
	data, err := json.Marshal(&RoomJoinedFrame{
		Frame:   NewFrame(TypeRoomJoined),
		RoomID:  "room-1",
		Members: []Member{},
	})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "floorState")

	data, err = json.Marshal(&RoomJoinedFrame{
		Frame:      NewFrame(TypeRoomJoined),
		RoomID:     "room-1",
		FloorState: &FloorState{SpeakerID: "u-alice"},
	})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"speakerId":"u-alice"`)
}

func TestRelayFramesRoundTripCandidateFields(t *testing.T) {
	raw := `{"type":"webrtc_ice","timestamp":1,"roomId":"room-1","candidate":"candidate:1","sdpMid":"0","sdpMLineIndex":2,"targetUserId":"u-bob"}`

	var f ICEFrame
	require.NoError(t, json.Unmarshal([]byte(raw), &f))
	assert.Equal(t, "candidate:1", f.Candidate)
	assert.Equal(t, "0", f.SDPMid)
	assert.Equal(t, 2, f.SDPMLineIndex)
	assert.Equal(t, "u-bob", f.TargetUserID)

	// fromUserId is stamped server-side and absent until then.
	data, err := json.Marshal(&f)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "fromUserId")
}
