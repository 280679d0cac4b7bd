package wire

import (
	"testing"
	"time"
)

func TestDecodeActionRejectsMalformedPayloads(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{name: "not json", payload: "{nope"},
		{name: "missing type", payload: `{"x":1,"y":2,"senderId":"peer-1"}`},
		{name: "missing sender", payload: `{"type":"place","x":1,"y":2,"tool":"residential"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeAction([]byte(tc.payload)); err == nil {
				t.Fatalf("expected decode to reject %q", tc.payload)
			}
		})
	}
}

func TestActionRoundTrip(t *testing.T) {
	sent := Place(12, 34, "commercial").Stamp("peer-7", time.UnixMilli(1234567))
	data, err := sent.Encode()
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	got, err := DecodeAction(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got.Type != ActionPlace || got.X != 12 || got.Y != 34 || got.Tool != "commercial" {
		t.Fatalf("unexpected decoded action: %+v", got)
	}
	if got.SenderID != "peer-7" {
		t.Fatalf("expected sender peer-7, got %q", got.SenderID)
	}
	if got.Timestamp != 1234567 {
		t.Fatalf("expected timestamp 1234567, got %d", got.Timestamp)
	}
}

func TestBatchableAndReserved(t *testing.T) {
	if !Place(0, 0, "park").Batchable() {
		t.Fatalf("expected place to be batchable")
	}
	if Remove(0, 0).Batchable() {
		t.Fatalf("expected remove to bypass the batch buffer")
	}
	if PlaceBatch(nil).Batchable() {
		t.Fatalf("expected an already-coalesced batch not to re-enter the buffer")
	}
	for _, action := range []Action{{Type: ActionFullState}, {Type: ActionTick}} {
		if !action.Reserved() {
			t.Fatalf("expected %s to be dropped on receipt", action.Type)
		}
	}
	if SetRate(7).Reserved() {
		t.Fatalf("setRate must not be treated as reserved")
	}
}

func TestDecodeStateSyncRequiresAddressing(t *testing.T) {
	if _, err := DecodeStateSync([]byte(`{"state":"abc","from":"peer-1"}`)); err == nil {
		t.Fatalf("expected sync without target to be rejected")
	}
	sync, err := DecodeStateSync([]byte(`{"state":"abc","from":"peer-1","to":"peer-2","modifiedAt":99}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if sync.From != "peer-1" || sync.To != "peer-2" || sync.ModifiedAt != 99 {
		t.Fatalf("unexpected decoded sync: %+v", sync)
	}
}
