package directory

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	svc, err := NewService(mr.Addr(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc, mr
}

func TestGetRoomMemberIDs(t *testing.T) {
	svc, mr := newTestService(t)
	ctx := context.Background()

	_, err := mr.SAdd("ptt:room:room-1:members", "u-alice", "u-bob")
	require.NoError(t, err)

	ids, err := svc.GetRoomMemberIDs(ctx, "room-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u-alice", "u-bob"}, ids)

	ids, err = svc.GetRoomMemberIDs(ctx, "room-empty")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestGetPushTokens(t *testing.T) {
	svc, mr := newTestService(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("ptt:user:u-alice:push_token", "tok-alice"))
	require.NoError(t, mr.Set("ptt:user:u-carol:push_token", "tok-carol"))

	tokens, err := svc.GetPushTokens(ctx, []string{"u-alice", "u-bob", "u-carol"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"u-alice": "tok-alice",
		"u-carol": "tok-carol",
	}, tokens)
}

func TestGetPushTokensEmptyInput(t *testing.T) {
	svc, _ := newTestService(t)

	tokens, err := svc.GetPushTokens(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, tokens)
}

func TestRemovePushToken(t *testing.T) {
	svc, mr := newTestService(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("ptt:user:u-alice:push_token", "tok-alice"))
	require.NoError(t, svc.RemovePushToken(ctx, "u-alice"))
	assert.False(t, mr.Exists("ptt:user:u-alice:push_token"))

	// Removing an absent token is not an error.
	require.NoError(t, svc.RemovePushToken(ctx, "u-ghost"))
}

func TestNilServiceBehavesAsEmptyDirectory(t *testing.T) {
	var svc *Service
	ctx := context.Background()

	ids, err := svc.GetRoomMemberIDs(ctx, "room-1")
	require.NoError(t, err)
	assert.Empty(t, ids)

	tokens, err := svc.GetPushTokens(ctx, []string{"u-alice"})
	require.NoError(t, err)
	assert.Empty(t, tokens)

	require.NoError(t, svc.RemovePushToken(ctx, "u-alice"))
	require.NoError(t, svc.Ping(ctx))
	require.NoError(t, svc.Close())
	assert.Nil(t, svc.Client())
}

func TestPingReflectsStoreHealth(t *testing.T) {
	svc, mr := newTestService(t)
	require.NoError(t, svc.Ping(context.Background()))

	mr.Close()
	assert.Error(t, svc.Ping(context.Background()))
}

func TestNewServiceFailsFastWhenUnreachable(t *testing.T) {
	_, err := NewService("127.0.0.1:1", "")
	require.Error(t, err)
}
