// Package wire implements the length-prefixed binary protocol frames
// exchanged between a transport and a Room: message framing, the optional
// document-name prefix, and optional pipelining of multiple messages into
// one frame.
//
// The package knows nothing about CRDT document contents - state vectors
// and updates are carried as opaque byte strings produced by package crdt.
package wire

import "fmt"

// ProtocolVersion selects the low-level integer/varint encoding used for a
// Room's entire lifetime. The logical message set is identical between
// versions; only the byte-level framing differs.
type ProtocolVersion uint8

const (
	// V1 uses fixed-width big-endian length prefixes.
	V1 ProtocolVersion = iota
	// V2 uses unsigned LEB128 varints for all lengths, matching the
	// denser encoding real Yjs-compatible wire protocols use.
	V2
)

func (v ProtocolVersion) String() string {
	switch v {
	case V1:
		return "v1"
	case V2:
		return "v2"
	default:
		return fmt.Sprintf("ProtocolVersion(%d)", uint8(v))
	}
}

// ParseProtocolVersion converts a wire byte into a ProtocolVersion,
// reporting unsupported values as an error rather than panicking - the
// core never panics across a public boundary.
func ParseProtocolVersion(b byte) (ProtocolVersion, error) {
	switch ProtocolVersion(b) {
	case V1:
		return V1, nil
	case V2:
		return V2, nil
	default:
		return 0, fmt.Errorf("wire: unsupported protocol version byte %d", b)
	}
}
