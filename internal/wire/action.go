// Package wire defines the broadcast payloads exchanged between peers in a
// room: the tagged action variants, the targeted state-sync message used by
// the join handshake, and room code handling.
package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// ActionType tags an action variant on the wire.
type ActionType string

const (
	// ActionPlace applies one tool at a single cell.
	ActionPlace ActionType = "place"
	// ActionPlaceBatch applies an ordered list of coalesced placements.
	ActionPlaceBatch ActionType = "placeBatch"
	// ActionRemove clears whatever occupies a single cell.
	ActionRemove ActionType = "remove"
	// ActionSetRate sets the global rate value.
	ActionSetRate ActionType = "setRate"
	// ActionSetFunding sets the funding level for one budget category.
	ActionSetFunding ActionType = "setFunding"
	// ActionSetSpeed sets the shared run speed.
	ActionSetSpeed ActionType = "setSpeed"
	// ActionSetFlag toggles a named feature flag.
	ActionSetFlag ActionType = "setFlag"
	// ActionCreatePath lays a connected path of link tiles (road, rail, wire).
	ActionCreatePath ActionType = "createPath"
	// ActionFullState is reserved; receivers drop it so a peer cannot
	// overwrite another peer's world outside the join handshake.
	ActionFullState ActionType = "fullState"
	// ActionTick is reserved for periodic partial-state summaries and is
	// dropped on receipt.
	ActionTick ActionType = "tick"
)

// RunSpeed enumerates the shared simulation speeds.
type RunSpeed string

const (
	SpeedPaused RunSpeed = "paused"
	SpeedSlow   RunSpeed = "slow"
	SpeedNormal RunSpeed = "normal"
	SpeedFast   RunSpeed = "fast"
)

// Placement is a single pending cell edit.
type Placement struct {
	X    int    `json:"x" jsonschema:"title=Cell column"`
	Y    int    `json:"y" jsonschema:"title=Cell row"`
	Tool string `json:"tool" jsonschema:"title=Tool identifier"`
}

// Tile is one cell position in a link path.
type Tile struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Action is the broadcast payload for every room edit. Fields beyond Type,
// Timestamp, and SenderID are variant-specific and omitted when unused.
type Action struct {
	Type      ActionType  `json:"type" jsonschema:"title=Variant tag"`
	X         int         `json:"x,omitempty"`
	Y         int         `json:"y,omitempty"`
	Tool      string      `json:"tool,omitempty"`
	Items     []Placement `json:"items,omitempty"`
	Value     int         `json:"value,omitempty"`
	Key       string      `json:"key,omitempty"`
	Enabled   bool        `json:"enabled,omitempty"`
	Speed     RunSpeed    `json:"speed,omitempty"`
	Tiles     []Tile      `json:"tiles,omitempty"`
	Kind      string      `json:"kind,omitempty"`
	State     string      `json:"state,omitempty"`
	Timestamp int64       `json:"timestamp,omitempty" jsonschema:"description=Dispatch time in Unix milliseconds"`
	SenderID  string      `json:"senderId,omitempty"`
}

// Place builds a single-cell placement action.
func Place(x, y int, tool string) Action {
	return Action{Type: ActionPlace, X: x, Y: y, Tool: tool}
}

// PlaceBatch wraps an ordered run of placements in one envelope.
func PlaceBatch(items []Placement) Action {
	return Action{Type: ActionPlaceBatch, Items: items}
}

// Remove clears the cell at x,y.
func Remove(x, y int) Action {
	return Action{Type: ActionRemove, X: x, Y: y}
}

// SetRate sets the global rate value.
func SetRate(value int) Action {
	return Action{Type: ActionSetRate, Value: value}
}

// SetFunding sets the funding level for a budget category.
func SetFunding(key string, value int) Action {
	return Action{Type: ActionSetFunding, Key: key, Value: value}
}

// SetSpeed sets the shared run speed.
func SetSpeed(speed RunSpeed) Action {
	return Action{Type: ActionSetSpeed, Speed: speed}
}

// SetFlag toggles a named feature flag.
func SetFlag(key string, enabled bool) Action {
	return Action{Type: ActionSetFlag, Key: key, Enabled: enabled}
}

// CreatePath lays a connected run of link tiles of the given kind.
func CreatePath(tiles []Tile, kind string) Action {
	return Action{Type: ActionCreatePath, Tiles: tiles, Kind: kind}
}

// Batchable reports whether the action may be coalesced with other
// placements before broadcast.
func (a Action) Batchable() bool {
	return a.Type == ActionPlace
}

// Reserved reports whether the variant is dropped on receipt.
func (a Action) Reserved() bool {
	return a.Type == ActionFullState || a.Type == ActionTick
}

// Stamp fills the dispatch metadata every outgoing action carries.
func (a Action) Stamp(senderID string, at time.Time) Action {
	a.SenderID = senderID
	a.Timestamp = at.UnixMilli()
	return a
}

// DecodeAction parses and validates an inbound broadcast payload. Payloads
// missing the variant tag or the sender id are rejected so a malformed peer
// message never reaches the apply path.
func DecodeAction(payload []byte) (Action, error) {
	var action Action
	if err := json.Unmarshal(payload, &action); err != nil {
		return Action{}, fmt.Errorf("decode action: %w", err)
	}
	if action.Type == "" {
		return Action{}, fmt.Errorf("decode action: missing type tag")
	}
	if action.SenderID == "" {
		return Action{}, fmt.Errorf("decode action: missing sender id")
	}
	return action, nil
}

// Encode serializes the action for broadcast.
func (a Action) Encode() ([]byte, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode action: %w", err)
	}
	return data, nil
}
