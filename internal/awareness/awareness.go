// Package awareness implements the per-document awareness registry: a
// client-id -> (opaque payload, monotonic clock) map that layers ephemeral
// presence state (cursors, selections, user metadata) on top of a
// collaborative document without becoming part of its history.
//
// A state with nil Data is a tombstone: the client-id is known but has no
// live presence. Snapshot includes tombstones so peers converge on
// removals the same way they converge on additions.
package awareness

import (
	"fmt"

	"github.com/hollowgrove/yroom/internal/wire"
)

// ClientID identifies one awareness participant, independent of the
// connection-id a transport uses for its socket. A single connection may
// own several client-ids (e.g. multiple cursors/tabs sharing one socket).
type ClientID = uint64

// State is one client's current awareness payload. Data is opaque to this
// package - it is whatever JSON-like blob the client encodes its cursor,
// selection, and user metadata into.
type State struct {
	Data  []byte
	Clock uint64
}

// Live reports whether the state represents a present (non-tombstoned)
// client.
func (s State) Live() bool {
	return s.Data != nil
}

// Registry is one document's awareness table. It is not internally
// concurrent - same as package crdt's Doc, the enclosing Room serializes
// all access behind its own lock.
type Registry struct {
	version wire.ProtocolVersion
	states  map[ClientID]State
}

// New creates an empty awareness registry whose wire encoding uses version.
func New(version wire.ProtocolVersion) *Registry {
	return &Registry{version: version, states: make(map[ClientID]State)}
}

// Len returns the number of live (non-tombstoned) client-ids.
func (r *Registry) Len() int {
	n := 0
	for _, s := range r.states {
		if s.Live() {
			n++
		}
	}
	return n
}

// Get returns the current state for clientID and whether an entry exists
// (which may be a tombstone).
func (r *Registry) Get(clientID ClientID) (State, bool) {
	s, ok := r.states[clientID]
	return s, ok
}

// Snapshot encodes every entry currently held, live or tombstoned, as an
// awareness update suitable for Apply by a peer or for direct wire
// delivery (AwarenessQuery's reply, or the full state pushed on connect).
func (r *Registry) Snapshot() []byte {
	w := wire.NewWriter(r.version)
	w.WriteUint(uint64(len(r.states)))
	for clientID, s := range r.states {
		encodeEntry(w, clientID, s)
	}
	return w.Bytes()
}

// Apply decodes a peer's awareness update and merges it in: a higher clock
// for a client-id always wins; a tied clock only wins by transitioning
// live to tombstoned (the reference library's "always observe removal"
// rule). Returns the client-ids newly observed, updated with live state,
// and newly tombstoned, so Room can keep its connection index consistent
// without a reentrant callback into the registry.
func (r *Registry) Apply(update []byte) (added, updated, removed []ClientID, err error) {
	rd := wire.NewReader(r.version, update)
	n, err := rd.ReadUint()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("awareness: reading entry count: %w", err)
	}
	for i := uint64(0); i < n; i++ {
		clientID, incoming, err := decodeEntry(rd)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("awareness: reading entry %d: %w", i, err)
		}
		existing, exists := r.states[clientID]
		switch {
		case !exists:
			if !incoming.Live() {
				continue
			}
			r.states[clientID] = incoming
			added = append(added, clientID)
		case incoming.Clock > existing.Clock:
			r.states[clientID] = incoming
			if incoming.Live() {
				updated = append(updated, clientID)
			} else if existing.Live() {
				removed = append(removed, clientID)
			}
		case incoming.Clock == existing.Clock && existing.Live() && !incoming.Live():
			r.states[clientID] = incoming
			removed = append(removed, clientID)
		}
	}
	return added, updated, removed, nil
}

// Remove tombstones clientID locally, bumping its clock so the removal
// wins over any state a peer still holds. The removal is carried in the
// next Snapshot, not pushed eagerly.
func (r *Registry) Remove(clientID ClientID) {
	clock := uint64(1)
	if existing, ok := r.states[clientID]; ok {
		clock = existing.Clock + 1
	}
	r.states[clientID] = State{Data: nil, Clock: clock}
}

func encodeEntry(w *wire.Writer, clientID ClientID, s State) {
	w.WriteUint(clientID)
	w.WriteUint(s.Clock)
	if s.Data == nil {
		w.WriteByte(0)
		return
	}
	w.WriteByte(1)
	w.WriteBytes(s.Data)
}

func decodeEntry(r *wire.Reader) (ClientID, State, error) {
	clientID, err := r.ReadUint()
	if err != nil {
		return 0, State{}, err
	}
	clock, err := r.ReadUint()
	if err != nil {
		return 0, State{}, err
	}
	tag, err := r.ReadByte()
	if err != nil {
		return 0, State{}, err
	}
	if tag == 0 {
		return clientID, State{Data: nil, Clock: clock}, nil
	}
	data, err := r.ReadBytes()
	if err != nil {
		return 0, State{}, err
	}
	// Copy out of the shared decode buffer: callers may hold this State
	// past the lifetime of the frame it was decoded from.
	owned := make([]byte, len(data))
	copy(owned, data)
	return clientID, State{Data: owned, Clock: clock}, nil
}
