package push

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavelinkhq/pushtalk/internal/v1/types"
)

// mockDirectory is an in-memory types.Directory.
type mockDirectory struct {
	mu      sync.Mutex
	members map[string][]string
	tokens  map[string]string
	removed []string
	fail    bool
}

func (m *mockDirectory) GetRoomMemberIDs(_ context.Context, roomID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return nil, errors.New("directory down")
	}
	return m.members[roomID], nil
}

func (m *mockDirectory) GetPushTokens(_ context.Context, userIDs []string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return nil, errors.New("directory down")
	}
	out := map[string]string{}
	for _, id := range userIDs {
		if tok, ok := m.tokens[id]; ok {
			out[id] = tok
		}
	}
	return out, nil
}

func (m *mockDirectory) RemovePushToken(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, userID)
	return nil
}

func (m *mockDirectory) removedUsers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.removed))
	copy(out, m.removed)
	return out
}

// mockGateway records submissions and replies with a canned result.
type mockGateway struct {
	mu     sync.Mutex
	sent   []*Message
	result *SendResult
	err    error
}

func (g *mockGateway) Send(_ context.Context, msg *Message) (*SendResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, msg)
	if g.err != nil {
		return nil, g.err
	}
	if g.result != nil {
		return g.result, nil
	}
	return &SendResult{SuccessCount: len(msg.Tokens), FailedTokens: map[string]string{}}, nil
}

func (g *mockGateway) sentMessages() []*Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Message, len(g.sent))
	copy(out, g.sent)
	return out
}

func TestDispatchExcludesSpeakerAndBuildsPayload(t *testing.T) {
	dir := &mockDirectory{
		members: map[string][]string{"room-1": {"u-alice", "u-bob", "u-carol"}},
		tokens:  map[string]string{"u-bob": "tok-bob", "u-carol": "tok-carol"},
	}
	gw := &mockGateway{}
	d := NewDispatcher(dir, gw)

	d.Notify(context.Background(), types.PushBroadcastStarted, "room-1", "u-alice", "Alice")
	d.Close()

	sent := gw.sentMessages()
	require.Len(t, sent, 1)
	msg := sent[0]
	assert.ElementsMatch(t, []string{"tok-bob", "tok-carol"}, msg.Tokens)
	assert.Equal(t, "live_broadcast_started", msg.Data["type"])
	assert.Equal(t, "room-1", msg.Data["channelId"])
	assert.Equal(t, "u-alice", msg.Data["speakerId"])
	assert.Equal(t, "Alice", msg.Data["speakerName"])
	assert.NotEmpty(t, msg.Data["timestamp"])
	assert.Equal(t, "high", msg.Priority)
	assert.Equal(t, 30, msg.TTLSeconds)
}

func TestDispatchEndedUsesNormalPriority(t *testing.T) {
	dir := &mockDirectory{
		members: map[string][]string{"room-1": {"u-alice", "u-bob"}},
		tokens:  map[string]string{"u-bob": "tok-bob"},
	}
	gw := &mockGateway{}
	d := NewDispatcher(dir, gw)

	d.Notify(context.Background(), types.PushBroadcastEnded, "room-1", "u-alice", "Alice")
	d.Close()

	sent := gw.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "live_broadcast_ended", sent[0].Data["type"])
	assert.Equal(t, "normal", sent[0].Priority)
	assert.Zero(t, sent[0].TTLSeconds)
}

func TestDispatchSkipsWhenNoTargets(t *testing.T) {
	dir := &mockDirectory{
		members: map[string][]string{"room-1": {"u-alice"}},
		tokens:  map[string]string{},
	}
	gw := &mockGateway{}
	d := NewDispatcher(dir, gw)

	// The speaker is the only registered member.
	d.Notify(context.Background(), types.PushBroadcastStarted, "room-1", "u-alice", "Alice")
	d.Close()

	assert.Empty(t, gw.sentMessages())
}

func TestDispatchDirectoryFailureIsSwallowed(t *testing.T) {
	dir := &mockDirectory{fail: true}
	gw := &mockGateway{}
	d := NewDispatcher(dir, gw)

	d.Notify(context.Background(), types.PushBroadcastStarted, "room-1", "u-alice", "Alice")
	d.Close()

	assert.Empty(t, gw.sentMessages())
}

func TestDispatchGatewayErrorNotRetried(t *testing.T) {
	dir := &mockDirectory{
		members: map[string][]string{"room-1": {"u-alice", "u-bob"}},
		tokens:  map[string]string{"u-bob": "tok-bob"},
	}
	gw := &mockGateway{err: errors.New("gateway down")}
	d := NewDispatcher(dir, gw)

	d.Notify(context.Background(), types.PushBroadcastStarted, "room-1", "u-alice", "Alice")
	d.Close()

	assert.Len(t, gw.sentMessages(), 1)
	assert.Empty(t, dir.removedUsers())
}

func TestDispatchRemovesPermanentlyFailedTokens(t *testing.T) {
	dir := &mockDirectory{
		members: map[string][]string{"room-1": {"u-alice", "u-bob", "u-carol", "u-dave"}},
		tokens: map[string]string{
			"u-bob":   "tok-bob",
			"u-carol": "tok-carol",
			"u-dave":  "tok-dave",
		},
	}
	gw := &mockGateway{result: &SendResult{
		SuccessCount: 1,
		FailedTokens: map[string]string{
			"tok-carol": ErrCodeUnregistered,
			"tok-dave":  "UNAVAILABLE",
		},
	}}
	d := NewDispatcher(dir, gw)

	d.Notify(context.Background(), types.PushBroadcastStarted, "room-1", "u-alice", "Alice")
	d.Close()

	// Only the permanently invalid token is removed.
	assert.Equal(t, []string{"u-carol"}, dir.removedUsers())
}

func TestNilDispatcherIsSafe(t *testing.T) {
	var d *Dispatcher
	d.Notify(context.Background(), types.PushBroadcastStarted, "room-1", "u-alice", "Alice")
}

func TestIsPermanentFailure(t *testing.T) {
	assert.True(t, IsPermanentFailure(ErrCodeUnregistered))
	assert.True(t, IsPermanentFailure(ErrCodeInvalidToken))
	assert.False(t, IsPermanentFailure("UNAVAILABLE"))
	assert.False(t, IsPermanentFailure(""))
}
