package room

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavelinkhq/pushtalk/internal/v1/protocol"
)

func relayRoom(t *testing.T) (*Room, *fakeClient, *fakeClient, *fakeClient) {
	t.Helper()
	r, _ := newTestRoom(t, Config{})
	ctx := context.Background()

	alice := newFakeClient("u-alice", "Alice")
	bob := newFakeClient("u-bob", "Bob")
	carol := newFakeClient("u-carol", "Carol")
	require.NoError(t, r.HandleJoin(ctx, alice))
	require.NoError(t, r.HandleJoin(ctx, bob))
	require.NoError(t, r.HandleJoin(ctx, carol))
	alice.clearFrames()
	bob.clearFrames()
	carol.clearFrames()
	return r, alice, bob, carol
}

func TestRelayOfferTargetedStampsSender(t *testing.T) {
	r, alice, bob, carol := relayRoom(t)

	r.RelayOffer(context.Background(), alice, &protocol.OfferFrame{
		RoomID:       "room-1",
		SDP:          "v=0 offer",
		TargetUserID: "u-bob",
		// A forged sender identity must be overwritten.
		FromUserID: "u-mallory",
	})

	offers := framesOfType(t, bob, protocol.TypeWebRTCOffer)
	require.Len(t, offers, 1)
	got := offers[0].(*protocol.OfferFrame)
	assert.Equal(t, "u-alice", got.FromUserID)
	assert.Equal(t, "v=0 offer", got.SDP)

	assert.Empty(t, carol.allFrames())
	assert.Empty(t, alice.allFrames())
}

func TestRelayAnswerBroadcastSkipsSender(t *testing.T) {
	r, alice, bob, carol := relayRoom(t)

	r.RelayAnswer(context.Background(), bob, &protocol.AnswerFrame{
		RoomID: "room-1",
		SDP:    "v=0 answer",
	})

	for _, c := range []*fakeClient{alice, carol} {
		answers := framesOfType(t, c, protocol.TypeWebRTCAnswer)
		require.Len(t, answers, 1)
		assert.Equal(t, "u-bob", answers[0].(*protocol.AnswerFrame).FromUserID)
	}
	assert.Empty(t, bob.allFrames())
}

func TestRelayToDepartedTargetDroppedSilently(t *testing.T) {
	r, alice, bob, _ := relayRoom(t)
	r.HandleLeave(context.Background(), bob)
	alice.clearFrames()

	r.RelayICE(context.Background(), alice, &protocol.ICEFrame{
		RoomID:       "room-1",
		ICECandidate: protocol.ICECandidate{Candidate: "candidate:1"},
		TargetUserID: "u-bob",
	})

	assert.Empty(t, alice.allFrames())
	assert.Empty(t, framesOfType(t, bob, protocol.TypeWebRTCICE))
}

func TestRelayByNonMemberRejected(t *testing.T) {
	r, _, bob, _ := relayRoom(t)

	outsider := newFakeClient("u-out", "Out")
	r.RelayOffer(context.Background(), outsider, &protocol.OfferFrame{
		RoomID:       "room-1",
		SDP:          "v=0",
		TargetUserID: "u-bob",
	})

	errs := framesOfType(t, outsider, protocol.TypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, protocol.CodeUnauthorized, errs[0].(*protocol.ErrorFrame).Code)
	assert.Empty(t, bob.allFrames())
}

func TestRelayICEBatchDeliveredWhole(t *testing.T) {
	r, alice, bob, _ := relayRoom(t)

	batch := &protocol.ICEBatchFrame{
		RoomID: "room-1",
		Candidates: []protocol.ICECandidate{
			{Candidate: "candidate:1", SDPMid: "0"},
			{Candidate: "candidate:2", SDPMid: "0", SDPMLineIndex: 1},
			{Candidate: "candidate:3", SDPMid: "1"},
		},
		TargetUserID: "u-bob",
	}
	r.RelayICEBatch(context.Background(), alice, batch)

	batches := framesOfType(t, bob, protocol.TypeWebRTCICEBatch)
	require.Len(t, batches, 1)
	got := batches[0].(*protocol.ICEBatchFrame)
	require.Len(t, got.Candidates, 3)
	assert.Equal(t, "candidate:1", got.Candidates[0].Candidate)
	assert.Equal(t, "candidate:2", got.Candidates[1].Candidate)
	assert.Equal(t, "candidate:3", got.Candidates[2].Candidate)
	assert.Equal(t, "u-alice", got.FromUserID)
}
