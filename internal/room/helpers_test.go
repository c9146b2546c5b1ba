package room

import (
	"testing"

	"github.com/hollowgrove/yroom/internal/crdt"
	"github.com/hollowgrove/yroom/internal/wire"
)

// newTestDoc returns a throwaway *crdt.Doc under a distinct replica id, used
// to mint updates a test can feed into a Room's HandleMessage as if they
// arrived from a peer.
func newTestDoc(t *testing.T, version wire.ProtocolVersion) *crdt.Doc {
	t.Helper()
	return crdt.NewDoc("test-peer", version)
}

// newTestAwareness builds a one-entry awareness update in the wire format
// package awareness uses: entry count, then per entry (client id, clock,
// live flag, payload).
func newTestAwareness(t *testing.T, version wire.ProtocolVersion, clientID uint64, data []byte, clock uint64) []byte {
	t.Helper()
	w := wire.NewWriter(version)
	w.WriteUint(1)
	w.WriteUint(clientID)
	w.WriteUint(clock)
	if data == nil {
		w.WriteByte(0)
	} else {
		w.WriteByte(1)
		w.WriteBytes(data)
	}
	return w.Bytes()
}
