package manager

import (
	"github.com/hollowgrove/yroom/internal/crdt"
	"github.com/hollowgrove/yroom/internal/wire"
)

// newTestDoc returns a throwaway *crdt.Doc under a distinct replica id, used
// to mint updates a test can seed a room with via ConnectWithData.
func newTestDoc(version wire.ProtocolVersion) *crdt.Doc {
	return crdt.NewDoc("test-peer", version)
}
