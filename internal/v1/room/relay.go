package room

import (
	"context"

	"github.com/wavelinkhq/pushtalk/internal/v1/metrics"
	"github.com/wavelinkhq/pushtalk/internal/v1/protocol"
	"github.com/wavelinkhq/pushtalk/internal/v1/types"
)

// RelayOffer forwards an SDP offer, stamping the sender's identity.
func (r *Room) RelayOffer(ctx context.Context, sender types.ClientInterface, f *protocol.OfferFrame) {
	f.Frame = protocol.NewFrame(protocol.TypeWebRTCOffer)
	f.FromUserID = string(sender.GetID())
	r.relay(sender, f.TargetUserID, f, protocol.TypeWebRTCOffer)
}

// RelayAnswer forwards an SDP answer, stamping the sender's identity.
func (r *Room) RelayAnswer(ctx context.Context, sender types.ClientInterface, f *protocol.AnswerFrame) {
	f.Frame = protocol.NewFrame(protocol.TypeWebRTCAnswer)
	f.FromUserID = string(sender.GetID())
	r.relay(sender, f.TargetUserID, f, protocol.TypeWebRTCAnswer)
}

// RelayICE forwards a single ICE candidate, stamping the sender's identity.
func (r *Room) RelayICE(ctx context.Context, sender types.ClientInterface, f *protocol.ICEFrame) {
	f.Frame = protocol.NewFrame(protocol.TypeWebRTCICE)
	f.FromUserID = string(sender.GetID())
	r.relay(sender, f.TargetUserID, f, protocol.TypeWebRTCICE)
}

// RelayICEBatch forwards a candidate batch as one frame, preserving candidate
// order. The batch is delivered whole or dropped whole.
func (r *Room) RelayICEBatch(ctx context.Context, sender types.ClientInterface, f *protocol.ICEBatchFrame) {
	f.Frame = protocol.NewFrame(protocol.TypeWebRTCICEBatch)
	f.FromUserID = string(sender.GetID())
	r.relay(sender, f.TargetUserID, f, protocol.TypeWebRTCICEBatch)
}

// relay delivers a stamped frame either to one target or to the whole roster
// minus the sender. A missing target is dropped silently; the target may have
// left between the sender's snapshot and now. A non-member sender gets an
// error frame and the session stays open.
func (r *Room) relay(sender types.ClientInterface, target string, frame any, eventType string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	senderID := sender.GetID()
	m, ok := r.members[senderID]
	if !ok || m.client != sender {
		metrics.WebsocketEvents.WithLabelValues(eventType, "denied").Inc()
		sender.SendFrame(protocol.NewErrorFrame(protocol.CodeUnauthorized, protocol.ReasonNotMember))
		return
	}

	if target != "" {
		tm, ok := r.members[types.UserIDType(target)]
		if !ok {
			metrics.WebsocketEvents.WithLabelValues(eventType, "target_gone").Inc()
			return
		}
		tm.client.SendFrame(frame)
		metrics.WebsocketEvents.WithLabelValues(eventType, "relayed").Inc()
		return
	}

	r.broadcastLocked(frame, senderID)
	metrics.WebsocketEvents.WithLabelValues(eventType, "broadcast").Inc()
}
