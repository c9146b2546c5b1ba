package crdt

import (
	"fmt"

	"github.com/hollowgrove/yroom/internal/wire"
)

// Encode serializes sv as a SyncStep1 payload in the given wire version:
// a count followed by (replica, seq) pairs. Both protocol versions use the
// same varint/length-prefixed shape here, differing only in how Writer
// encodes the individual uint fields - there is no gob path for state
// vectors since they never grow large enough to need one.
func (sv StateVector) Encode(version wire.ProtocolVersion) []byte {
	w := wire.NewWriter(version)
	w.WriteUint(uint64(len(sv)))
	for replica, seq := range sv {
		w.WriteString(replica)
		w.WriteUint(seq)
	}
	return w.Bytes()
}

// DecodeStateVector parses a SyncStep1 payload produced by Encode in the
// same wire version.
func DecodeStateVector(version wire.ProtocolVersion, payload []byte) (StateVector, error) {
	sv := make(StateVector)
	if len(payload) == 0 {
		return sv, nil
	}
	r := wire.NewReader(version, payload)
	n, err := r.ReadUint()
	if err != nil {
		return nil, fmt.Errorf("crdt: reading state vector entry count: %w", err)
	}
	for i := uint64(0); i < n; i++ {
		replica, err := r.ReadString()
		if err != nil {
			return nil, fmt.Errorf("crdt: reading state vector replica %d: %w", i, err)
		}
		seq, err := r.ReadUint()
		if err != nil {
			return nil, fmt.Errorf("crdt: reading state vector seq %d: %w", i, err)
		}
		sv[replica] = seq
	}
	return sv, nil
}

// EncodeStateVector returns the Doc's current causal frontier, encoded for
// a SyncStep1 message.
func (d *Doc) EncodeStateVector() []byte {
	return d.sv.Encode(d.version)
}
