package room

import (
	"context"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/wavelinkhq/pushtalk/internal/v1/logging"
	"github.com/wavelinkhq/pushtalk/internal/v1/metrics"
	"github.com/wavelinkhq/pushtalk/internal/v1/protocol"
	"github.com/wavelinkhq/pushtalk/internal/v1/types"
)

// floorHold is the HELD state of the floor machine. The generation counter
// ties each scheduled expiry to the hold that armed it: a release or an
// extension bumps the generation, so a timer callback that lost the race
// sees a stale generation and does nothing.
type floorHold struct {
	speaker    protocol.Member
	startedAt  time.Time
	expiresAt  time.Time
	timer      clock.Timer
	generation uint64
}

// HandleRequestFloor resolves a floor request: grant when free, extend when
// the requester already holds it, deny otherwise. An expired hold is reaped
// before the decision, so a request arriving after expiry but before the
// timer callback still wins the floor.
func (r *Room) HandleRequestFloor(ctx context.Context, client types.ClientInterface) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reapExpiredFloorLocked()

	userID := client.GetID()
	m, ok := r.members[userID]
	if !ok || m.client != client {
		metrics.FloorRequests.WithLabelValues("denied_not_member").Inc()
		client.SendFrame(&protocol.FloorDeniedFrame{
			Frame:  protocol.NewFrame(protocol.TypeFloorDenied),
			RoomID: string(r.ID),
			Reason: protocol.ReasonNotMember,
		})
		return
	}

	now := r.clk.Now()

	if r.floor == nil {
		gen := r.nextFloorGenLocked()
		hold := &floorHold{
			speaker:    m.wire(),
			startedAt:  now,
			expiresAt:  now.Add(r.holdDuration),
			generation: gen,
		}
		hold.timer = r.clk.AfterFunc(r.holdDuration, func() {
			r.handleFloorExpiry(gen)
		})
		r.floor = hold

		logging.Info(ctx, "Floor granted",
			zap.String("room", string(r.ID)), zap.String("userId", string(userID)))
		metrics.FloorRequests.WithLabelValues("granted").Inc()

		client.SendFrame(&protocol.FloorGrantedFrame{
			Frame:     protocol.NewFrame(protocol.TypeFloorGranted),
			RoomID:    string(r.ID),
			ExpiresAt: hold.expiresAt.UnixMilli(),
		})
		r.broadcastLocked(&protocol.FloorTakenFrame{
			Frame:     protocol.NewFrame(protocol.TypeFloorTaken),
			RoomID:    string(r.ID),
			Speaker:   hold.speaker,
			ExpiresAt: hold.expiresAt.UnixMilli(),
		}, userID)

		if r.pusher != nil {
			r.pusher.Notify(ctx, types.PushBroadcastStarted,
				string(r.ID), string(userID), string(m.DisplayName))
		}
		return
	}

	if r.floor.speaker.UserID == string(userID) {
		// Renewal. The hold start is unchanged; only the lease moves.
		r.floor.timer.Stop()
		gen := r.nextFloorGenLocked()
		r.floor.generation = gen
		r.floor.expiresAt = now.Add(r.holdDuration)
		r.floor.timer = r.clk.AfterFunc(r.holdDuration, func() {
			r.handleFloorExpiry(gen)
		})

		metrics.FloorRequests.WithLabelValues("extended").Inc()
		client.SendFrame(&protocol.FloorGrantedFrame{
			Frame:     protocol.NewFrame(protocol.TypeFloorGranted),
			RoomID:    string(r.ID),
			ExpiresAt: r.floor.expiresAt.UnixMilli(),
		})
		return
	}

	metrics.FloorRequests.WithLabelValues("denied_held").Inc()
	speaker := r.floor.speaker
	client.SendFrame(&protocol.FloorDeniedFrame{
		Frame:          protocol.NewFrame(protocol.TypeFloorDenied),
		RoomID:         string(r.ID),
		Reason:         protocol.ReasonFloorHeld,
		CurrentSpeaker: &speaker,
	})
}

// HandleReleaseFloor ends the requester's own hold. Releasing a floor the
// requester does not hold is a no-op, including the race where the hold
// already expired.
func (r *Room) HandleReleaseFloor(ctx context.Context, client types.ClientInterface) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reapExpiredFloorLocked()

	userID := client.GetID()
	m, ok := r.members[userID]
	if !ok || m.client != client {
		return
	}
	if r.floor == nil || r.floor.speaker.UserID != string(userID) {
		return
	}

	speakerName := r.floor.speaker.DisplayName
	r.clearFloorLocked("released", r.clk.Now())

	logging.Info(ctx, "Floor released",
		zap.String("room", string(r.ID)), zap.String("userId", string(userID)))

	r.broadcastLocked(&protocol.FloorReleasedFrame{
		Frame:  protocol.NewFrame(protocol.TypeFloorReleased),
		RoomID: string(r.ID),
	}, "")

	if r.pusher != nil {
		r.pusher.Notify(ctx, types.PushBroadcastEnded,
			string(r.ID), string(userID), speakerName)
	}
}

// handleFloorExpiry is the timer callback for a hold reaching its maximum
// duration. The generation check makes a stale callback harmless.
func (r *Room) handleFloorExpiry(generation uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.floor == nil || r.floor.generation != generation {
		return
	}

	speakerID := types.UserIDType(r.floor.speaker.UserID)
	// The timer already fired; Stop must not run from inside its own
	// callback, and the clock must not be consulted here either.
	r.floor.timer = nil
	r.clearFloorLocked("timeout", r.floor.expiresAt)

	logging.Info(context.Background(), "Floor hold timed out",
		zap.String("room", string(r.ID)), zap.String("userId", string(speakerID)))

	if sp, ok := r.members[speakerID]; ok {
		sp.client.SendFrame(&protocol.FloorTimeoutFrame{
			Frame:  protocol.NewFrame(protocol.TypeFloorTimeout),
			RoomID: string(r.ID),
		})
	}
	r.broadcastLocked(&protocol.FloorReleasedFrame{
		Frame:  protocol.NewFrame(protocol.TypeFloorReleased),
		RoomID: string(r.ID),
	}, "")

	if len(r.members) == 0 && r.onEmpty != nil {
		// The roster emptied while the hold was pending; the timer was the
		// only thing keeping the room alive.
		go r.onEmpty(r.ID)
	}
}

// reapExpiredFloorLocked transitions an expired hold to FREE without
// notifications. Every read of the floor state goes through this first, so
// an expired hold is never observed as granted even if the timer callback
// has not fired yet.
func (r *Room) reapExpiredFloorLocked() {
	if r.floor == nil {
		return
	}
	now := r.clk.Now()
	if now.Before(r.floor.expiresAt) {
		return
	}
	r.clearFloorLocked("timeout", r.floor.expiresAt)
}

// clearFloorLocked cancels the pending timer and records the hold metrics.
// now is passed in rather than read from the clock so the expiry callback can
// use the lease deadline as the end of the hold.
func (r *Room) clearFloorLocked(cause string, now time.Time) {
	hold := r.floor
	if hold == nil {
		return
	}
	if hold.timer != nil {
		hold.timer.Stop()
	}
	r.nextFloorGenLocked()
	r.floor = nil

	held := now.Sub(hold.startedAt)
	if held > r.holdDuration {
		held = r.holdDuration
	}
	metrics.FloorHoldDuration.Observe(held.Seconds())
	metrics.FloorReleases.WithLabelValues(cause).Inc()
}

func (r *Room) nextFloorGenLocked() uint64 {
	r.floorGen++
	return r.floorGen
}

// floorStateLocked renders the current hold for a room_joined ack, or nil
// when the floor is free. Callers reap first.
func (r *Room) floorStateLocked() *protocol.FloorState {
	if r.floor == nil {
		return nil
	}
	return &protocol.FloorState{
		SpeakerID:       r.floor.speaker.UserID,
		SpeakerName:     r.floor.speaker.DisplayName,
		SpeakerPhotoURL: r.floor.speaker.PhotoURL,
		StartedAt:       r.floor.startedAt.UnixMilli(),
		ExpiresAt:       r.floor.expiresAt.UnixMilli(),
	}
}
