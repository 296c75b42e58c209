// Package push implements the wake-up push dispatcher. Fan-out is
// best-effort and fully asynchronous: Notify enqueues work and returns, so a
// push can never delay a floor grant.
package push

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wavelinkhq/pushtalk/internal/v1/logging"
	"github.com/wavelinkhq/pushtalk/internal/v1/metrics"
	"github.com/wavelinkhq/pushtalk/internal/v1/types"
)

// Payload type values on the wire, matched by the mobile clients.
const (
	payloadBroadcastStarted = "live_broadcast_started"
	payloadBroadcastEnded   = "live_broadcast_ended"
)

// startedTTL bounds how long a wake-up stays deliverable; a stale wake-up is
// worse than none because the broadcast is already over.
const startedTTL = 30 * time.Second

// dispatchTimeout bounds one full fan-out (directory + gateway).
const dispatchTimeout = 15 * time.Second

// maxConcurrentDispatches bounds the background worker pool.
const maxConcurrentDispatches = 64

// Dispatcher resolves room members to push tokens and submits wake-up
// payloads to the gateway. It implements types.PushNotifier.
type Dispatcher struct {
	directory types.Directory
	gateway   Gateway

	sem chan struct{}
	wg  sync.WaitGroup
}

// NewDispatcher wires the dispatcher to its collaborators.
func NewDispatcher(dir types.Directory, gw Gateway) *Dispatcher {
	return &Dispatcher{
		directory: dir,
		gateway:   gw,
		sem:       make(chan struct{}, maxConcurrentDispatches),
	}
}

// Notify implements types.PushNotifier. It never blocks: when the worker pool
// is saturated the dispatch is dropped and logged.
func (d *Dispatcher) Notify(ctx context.Context, kind types.PushKind, roomID, speakerID, speakerName string) {
	if d == nil || d.gateway == nil {
		return
	}

	select {
	case d.sem <- struct{}{}:
		d.wg.Add(1)
		go func() {
			defer func() {
				<-d.sem
				d.wg.Done()
			}()
			d.dispatch(kind, roomID, speakerID, speakerName)
		}()
	default:
		logging.Warn(ctx, "Dropping push dispatch - worker pool full",
			zap.String("roomId", roomID), zap.String("kind", string(kind)))
		metrics.PushDispatches.WithLabelValues(string(kind), "dropped").Inc()
	}
}

// Close waits for in-flight dispatches to drain.
func (d *Dispatcher) Close() {
	d.wg.Wait()
}

func (d *Dispatcher) dispatch(kind types.PushKind, roomID, speakerID, speakerName string) {
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()
	ctx = logging.WithRoom(ctx, roomID)

	memberIDs, err := d.directory.GetRoomMemberIDs(ctx, roomID)
	if err != nil {
		logging.Error(ctx, "Push dispatch: member lookup failed", zap.Error(err))
		metrics.PushDispatches.WithLabelValues(string(kind), "directory_error").Inc()
		return
	}

	targets := make([]string, 0, len(memberIDs))
	for _, id := range memberIDs {
		if id != speakerID {
			targets = append(targets, id)
		}
	}
	if len(targets) == 0 {
		return
	}

	tokens, err := d.directory.GetPushTokens(ctx, targets)
	if err != nil {
		logging.Error(ctx, "Push dispatch: token lookup failed", zap.Error(err))
		metrics.PushDispatches.WithLabelValues(string(kind), "directory_error").Inc()
		return
	}
	if len(tokens) == 0 {
		return
	}

	tokenList := make([]string, 0, len(tokens))
	tokenOwner := make(map[string]string, len(tokens))
	for uid, tok := range tokens {
		tokenList = append(tokenList, tok)
		tokenOwner[tok] = uid
	}

	msg := &Message{
		Tokens: tokenList,
		Data: map[string]string{
			"type":        payloadType(kind),
			"channelId":   roomID,
			"channelName": roomID,
			"speakerId":   speakerID,
			"speakerName": speakerName,
			"timestamp":   strconv.FormatInt(time.Now().UnixMilli(), 10),
		},
		Priority: "normal",
	}
	if kind == types.PushBroadcastStarted {
		msg.Priority = "high"
		msg.TTLSeconds = int(startedTTL.Seconds())
	}

	result, err := d.gateway.Send(ctx, msg)
	if err != nil {
		// Transient failures are never retried.
		logging.Error(ctx, "Push dispatch: gateway submit failed", zap.Error(err))
		metrics.PushDispatches.WithLabelValues(string(kind), "gateway_error").Inc()
		return
	}

	metrics.PushDispatches.WithLabelValues(string(kind), "ok").Inc()
	logging.Info(ctx, "Push dispatched",
		zap.String("kind", string(kind)),
		zap.Int("targets", len(tokenList)),
		zap.Int("delivered", result.SuccessCount),
		zap.Int("failed", len(result.FailedTokens)))

	for token, code := range result.FailedTokens {
		if !IsPermanentFailure(code) {
			continue
		}
		uid := tokenOwner[token]
		if uid == "" {
			continue
		}
		if err := d.directory.RemovePushToken(ctx, uid); err != nil {
			logging.Warn(ctx, "Failed to remove stale push token",
				zap.String("userId", uid), zap.Error(err))
		}
	}
}

func payloadType(kind types.PushKind) string {
	if kind == types.PushBroadcastStarted {
		return payloadBroadcastStarted
	}
	return payloadBroadcastEnded
}
