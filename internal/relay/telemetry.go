package relay

import "sync/atomic"

// Telemetry tracks relay traffic with lock-free counters. A single instance
// is shared by the hub and the HTTP layer; Snapshot is what /telemetryz
// serves.
type Telemetry struct {
	framesRelayed      atomic.Uint64
	bytesRelayed       atomic.Uint64
	framesDropped      atomic.Uint64
	subscribersEvicted atomic.Uint64
	joins              atomic.Uint64
	leaves             atomic.Uint64
	bridgePublished    atomic.Uint64
	bridgeReceived     atomic.Uint64
	lastFrameBytes     atomic.Uint64
}

type TelemetrySnapshot struct {
	FramesRelayed      uint64 `json:"framesRelayed"`
	BytesRelayed       uint64 `json:"bytesRelayed"`
	FramesDropped      uint64 `json:"framesDropped"`
	SubscribersEvicted uint64 `json:"subscribersEvicted"`
	Joins              uint64 `json:"joins"`
	Leaves             uint64 `json:"leaves"`
	BridgePublished    uint64 `json:"bridgePublished"`
	BridgeReceived     uint64 `json:"bridgeReceived"`
	LastFrameBytes     uint64 `json:"lastFrameBytes"`
}

func NewTelemetry() *Telemetry {
	return &Telemetry{}
}

// RecordRelay accounts one inbound frame fanned out to count subscribers.
func (t *Telemetry) RecordRelay(bytes, fanout int) {
	if bytes < 0 {
		bytes = 0
	}
	if fanout < 0 {
		fanout = 0
	}
	t.framesRelayed.Add(uint64(fanout))
	t.bytesRelayed.Add(uint64(bytes) * uint64(fanout))
	t.lastFrameBytes.Store(uint64(bytes))
}

func (t *Telemetry) RecordDrop() {
	t.framesDropped.Add(1)
}

func (t *Telemetry) RecordEviction() {
	t.subscribersEvicted.Add(1)
}

func (t *Telemetry) RecordJoin() {
	t.joins.Add(1)
}

func (t *Telemetry) RecordLeave() {
	t.leaves.Add(1)
}

func (t *Telemetry) RecordBridgePublish() {
	t.bridgePublished.Add(1)
}

func (t *Telemetry) RecordBridgeReceive() {
	t.bridgeReceived.Add(1)
}

func (t *Telemetry) Snapshot() TelemetrySnapshot {
	return TelemetrySnapshot{
		FramesRelayed:      t.framesRelayed.Load(),
		BytesRelayed:       t.bytesRelayed.Load(),
		FramesDropped:      t.framesDropped.Load(),
		SubscribersEvicted: t.subscribersEvicted.Load(),
		Joins:              t.joins.Load(),
		Leaves:             t.leaves.Load(),
		BridgePublished:    t.bridgePublished.Load(),
		BridgeReceived:     t.bridgeReceived.Load(),
		LastFrameBytes:     t.lastFrameBytes.Load(),
	}
}
