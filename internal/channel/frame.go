package channel

import "encoding/json"

// Frame is the websocket envelope between the realtime client and the
// relay. One flat struct covers every frame type; unused fields are omitted.
type Frame struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic,omitempty"`
	Event   string          `json:"event,omitempty"`
	Member  *Member         `json:"member,omitempty"`
	Members []Member        `json:"members,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Reason  string          `json:"reason,omitempty"`
}

// Frame types. join/broadcast/leave travel client to relay; the rest travel
// relay to client.
const (
	FrameJoin          = "join"
	FrameLeave         = "leave"
	FrameBroadcast     = "broadcast"
	FrameJoined        = "joined"
	FrameEvent         = "event"
	FramePresenceJoin  = "presenceJoin"
	FramePresenceLeave = "presenceLeave"
	FramePresenceSync  = "presenceSync"
	FrameError         = "error"
)
