package wire

import (
	"encoding/json"
	"fmt"
)

// Event names on the room channel. Actions and state syncs travel on
// distinct events so the handshake cannot be spoofed by an ordinary edit.
const (
	EventAction = "action"
	EventState  = "state"
)

// StateSync is the targeted handshake message carrying a responder's full
// in-memory world to one joining peer. ModifiedAt is the responder's last
// local update stamp; receivers currently accept the first sync addressed
// to them and may use the stamp to pick the freshest response later.
type StateSync struct {
	State      string `json:"state" jsonschema:"description=Codec-encoded world snapshot"`
	To         string `json:"to"`
	From       string `json:"from"`
	ModifiedAt int64  `json:"modifiedAt,omitempty"`
}

// DecodeStateSync parses and validates an inbound handshake payload.
func DecodeStateSync(payload []byte) (StateSync, error) {
	var sync StateSync
	if err := json.Unmarshal(payload, &sync); err != nil {
		return StateSync{}, fmt.Errorf("decode state sync: %w", err)
	}
	if sync.To == "" || sync.From == "" {
		return StateSync{}, fmt.Errorf("decode state sync: missing addressing")
	}
	return sync, nil
}

// Encode serializes the state sync for broadcast.
func (s StateSync) Encode() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode state sync: %w", err)
	}
	return data, nil
}
