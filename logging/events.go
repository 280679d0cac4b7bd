package logging

import "context"

// Event types emitted by the session layer and relay. Helpers below keep
// call sites one-liners, the same shape for every producer.
const (
	EventRoomCreated     EventType = "lifecycle.room_created"
	EventRoomJoined      EventType = "lifecycle.room_joined"
	EventRoomLeft        EventType = "lifecycle.room_left"
	EventPeerJoined      EventType = "lifecycle.peer_joined"
	EventPeerLeft        EventType = "lifecycle.peer_left"
	EventStateReconciled EventType = "lifecycle.state_reconciled"

	EventBroadcastSent    EventType = "network.broadcast_sent"
	EventBroadcastDropped EventType = "network.broadcast_dropped"
	EventSubscriberEvict  EventType = "network.subscriber_evicted"

	EventSnapshotSaved    EventType = "persistence.snapshot_saved"
	EventSnapshotFailed   EventType = "persistence.snapshot_failed"
	EventSnapshotOversize EventType = "persistence.snapshot_oversize"
)

// Lifecycle publishes an info-severity lifecycle event for a room/peer pair.
func Lifecycle(ctx context.Context, pub Publisher, event EventType, room, peer string, payload any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, Event{
		Type:     event,
		Room:     room,
		Peer:     peer,
		Severity: SeverityInfo,
		Category: CategoryLifecycle,
		Payload:  payload,
	})
}

// Network publishes a network event at the given severity.
func Network(ctx context.Context, pub Publisher, event EventType, severity Severity, room, peer string, payload any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, Event{
		Type:     event,
		Room:     room,
		Peer:     peer,
		Severity: severity,
		Category: CategoryNetwork,
		Payload:  payload,
	})
}

// Persistence publishes a persistence event; failures are warnings because
// the session keeps running on its in-memory state.
func Persistence(ctx context.Context, pub Publisher, event EventType, room string, payload any, failed bool) {
	if pub == nil {
		return
	}
	severity := SeverityInfo
	if failed {
		severity = SeverityWarn
	}
	pub.Publish(ctx, Event{
		Type:     event,
		Room:     room,
		Severity: severity,
		Category: CategoryPersistence,
		Payload:  payload,
	})
}
