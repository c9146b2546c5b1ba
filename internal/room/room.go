// Package room implements the room protocol state machine: one
// collaborative document, its awareness registry, and the
// connection-id -> client-id index the Awareness/connection consistency
// invariant depends on. A Room owns exactly one lock; every public method
// acquires it for the duration of the call, since the document, the
// awareness registry, and the connection index are all mutated together
// under the same critical section in every method below.
package room

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hollowgrove/yroom/internal/awareness"
	"github.com/hollowgrove/yroom/internal/crdt"
	"github.com/hollowgrove/yroom/internal/logging"
	"github.com/hollowgrove/yroom/internal/metrics"
	"github.com/hollowgrove/yroom/internal/wire"
	"go.uber.org/zap"
)

// Settings is a Room's immutable configuration, resolved once at
// construction by package manager's prefix matching.
type Settings struct {
	ProtocolVersion   wire.ProtocolVersion
	NamePrefix        bool
	ServerStartSync   bool
	DisablePipelining bool
}

// DefaultSettings returns the common-case configuration: wire protocol V1,
// no room-name prefix on replies, server-initiated sync, pipelined output.
func DefaultSettings() Settings {
	return Settings{
		ProtocolVersion: wire.V1,
		ServerStartSync: true,
	}
}

// ClientOptions gates what an inbound call is permitted to do. The zero
// value is NOT the default - use DefaultClientOptions, which grants both
// document writes and awareness writes.
type ClientOptions struct {
	AllowWrite          bool
	AllowWriteAwareness bool
}

// DefaultClientOptions returns the permissive default.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{AllowWrite: true, AllowWriteAwareness: true}
}

// Message is the result of any call that can produce outbound frames:
// payloads for the originating connection, payloads for every other
// connection currently registered in the Room, and whether the document
// was mutated.
type Message struct {
	ReplyPayloads     [][]byte
	BroadcastPayloads [][]byte
	HasEdits          bool
}

// ConnID is a transport connection identifier, unique per live connection
// within the process.
type ConnID = uint64

// Room owns one document, its awareness registry, and the
// connection-id -> client-id index described in spec's invariants 1-2.
type Room struct {
	mu          sync.Mutex
	name        string
	settings    Settings
	doc         *crdt.Doc
	aware       *awareness.Registry
	connections map[ConnID]map[awareness.ClientID]struct{}
}

// New creates an empty Room. name identifies the room for logging and
// metrics only - it plays no role in the protocol unless settings carries
// NamePrefix, in which case the document name is instead taken from each
// inbound frame.
func New(name string, settings Settings) *Room {
	return &Room{
		name:        name,
		settings:    settings,
		doc:         crdt.NewDoc(name, settings.ProtocolVersion),
		aware:       awareness.New(settings.ProtocolVersion),
		connections: make(map[ConnID]map[awareness.ClientID]struct{}),
	}
}

// NewFromSnapshot creates a Room and seeds its document by applying
// snapshot as an update, as produced by a prior Room's Serialize.
func NewFromSnapshot(name string, settings Settings, snapshot []byte) (*Room, error) {
	r := New(name, settings)
	if len(snapshot) == 0 {
		return r, nil
	}
	if err := r.doc.ApplyUpdate(snapshot); err != nil {
		return nil, fmt.Errorf("room: seeding %q from snapshot: %w", name, err)
	}
	return r, nil
}

func (r *Room) newEncoder(name string) *wire.Encoder {
	return wire.NewEncoder(r.settings.ProtocolVersion, r.settings.NamePrefix, name, r.settings.DisablePipelining)
}

func (r *Room) writeStartSync(enc *wire.Encoder) {
	enc.Write(wire.SyncStep1(r.doc.EncodeStateVector()))
}

func (r *Room) writeAwarenessSnapshot(enc *wire.Encoder) {
	enc.Write(wire.Awareness(r.aware.Snapshot()))
}

// Connect registers connID with the Room and builds its initial reply:
// a SyncStep1 advertising the current state vector (if ServerStartSync)
// plus a full awareness snapshot (if the registry is non-empty). Connect
// never produces broadcast payloads and never mutates the document.
func (r *Room) Connect(ctx context.Context, connID ConnID, opts ClientOptions) Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.connections[connID]; !ok {
		r.connections[connID] = make(map[awareness.ClientID]struct{})
	}
	r.reportGauges()

	enc := r.newEncoder("")
	if r.settings.ServerStartSync {
		r.writeStartSync(enc)
	}
	if r.aware.Len() > 0 {
		r.writeAwarenessSnapshot(enc)
	}
	return Message{ReplyPayloads: enc.Frames()}
}

// HandleMessage decodes frame and processes each message in order,
// accumulating reply and broadcast payloads per spec's dispatch table. A
// decode error partway through the frame terminates processing for that
// frame; messages already decoded are still handled.
//
// Auth messages always receive "permission granted" with no actual check
// - this is a policy placeholder the embedding transport must supersede
// before any frame reaches the room (see cmd/gateway's JWT upgrade gate).
func (r *Room) HandleMessage(ctx context.Context, connID ConnID, frame []byte, opts ClientOptions) Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	name, msgs, decodeErr := wire.DecodeAll(r.settings.ProtocolVersion, r.settings.NamePrefix, frame)
	if decodeErr != nil {
		logging.Warn(ctx, "room: decode error in inbound frame",
			zap.String("room", r.name), zap.Uint64("conn_id", connID), zap.Error(decodeErr))
	}

	reply := r.newEncoder(name)
	broadcast := r.newEncoder(name)
	hasEdits := false

	for _, msg := range msgs {
		start := time.Now()
		r.dispatch(ctx, connID, msg, opts, reply, broadcast, &hasEdits)
		metrics.MessageProcessingDuration.WithLabelValues(msg.Kind.String()).Observe(time.Since(start).Seconds())
	}

	r.reportGauges()
	return Message{
		ReplyPayloads:     reply.Frames(),
		BroadcastPayloads: broadcast.Frames(),
		HasEdits:          hasEdits,
	}
}

func (r *Room) dispatch(ctx context.Context, connID ConnID, msg wire.Message, opts ClientOptions, reply, broadcast *wire.Encoder, hasEdits *bool) {
	switch msg.Kind {
	case wire.KindSyncStep1:
		r.handleSyncStep1(ctx, msg.Payload, opts, reply)
	case wire.KindSyncStep2:
		r.handleApply(ctx, msg.Payload, opts, hasEdits, "sync_step2")
	case wire.KindSyncUpdate:
		if opts.AllowWrite {
			if r.applyUpdate(ctx, msg.Payload, "sync_update") {
				*hasEdits = true
				broadcast.Write(wire.SyncUpdate(msg.Payload))
				metrics.MessagesTotal.WithLabelValues("sync_update", "applied").Inc()
			} else {
				metrics.MessagesTotal.WithLabelValues("sync_update", "apply_error").Inc()
			}
		} else {
			metrics.MessagesTotal.WithLabelValues("sync_update", "denied").Inc()
		}
	case wire.KindAuth:
		logging.Warn(ctx, "room: auth message received, replying with permission granted",
			zap.String("room", r.name), zap.Uint64("conn_id", connID))
		reply.Write(wire.Auth(nil))
		metrics.MessagesTotal.WithLabelValues("auth", "granted").Inc()
	case wire.KindAwarenessQuery:
		r.writeAwarenessSnapshot(reply)
		metrics.MessagesTotal.WithLabelValues("awareness_query", "ok").Inc()
	case wire.KindAwareness:
		r.handleAwareness(ctx, connID, msg.Payload, opts, broadcast)
	case wire.KindCustom:
		logging.Warn(ctx, "room: dropping unhandled custom message",
			zap.String("room", r.name), zap.Uint64("conn_id", connID), zap.Uint64("custom_type", msg.CustomTag))
		metrics.MessagesTotal.WithLabelValues("custom", "dropped").Inc()
	}
}

func (r *Room) handleSyncStep1(ctx context.Context, payload []byte, opts ClientOptions, reply *wire.Encoder) {
	peerSV, err := crdt.DecodeStateVector(r.settings.ProtocolVersion, payload)
	if err != nil {
		logging.Warn(ctx, "room: malformed state vector in sync step 1", zap.String("room", r.name), zap.Error(err))
		metrics.MessagesTotal.WithLabelValues("sync_step1", "decode_error").Inc()
		return
	}
	diff, err := r.doc.EncodeDiff(peerSV)
	if err != nil {
		logging.Error(ctx, "room: encoding sync step 2 diff", zap.String("room", r.name), zap.Error(err))
		return
	}
	reply.Write(wire.SyncStep2(diff))
	if !r.settings.ServerStartSync && opts.AllowWrite {
		r.writeStartSync(reply)
	}
	r.writeAwarenessSnapshot(reply)
	metrics.MessagesTotal.WithLabelValues("sync_step1", "ok").Inc()
}

func (r *Room) handleApply(ctx context.Context, payload []byte, opts ClientOptions, hasEdits *bool, label string) {
	if !opts.AllowWrite {
		metrics.MessagesTotal.WithLabelValues(label, "denied").Inc()
		return
	}
	if r.applyUpdate(ctx, payload, label) {
		*hasEdits = true
		metrics.MessagesTotal.WithLabelValues(label, "applied").Inc()
	} else {
		metrics.MessagesTotal.WithLabelValues(label, "apply_error").Inc()
	}
}

func (r *Room) applyUpdate(ctx context.Context, payload []byte, label string) bool {
	if err := r.doc.ApplyUpdate(payload); err != nil {
		logging.Error(ctx, "room: applying update", zap.String("room", r.name), zap.String("message", label), zap.Error(err))
		return false
	}
	return true
}

func (r *Room) handleAwareness(ctx context.Context, connID ConnID, payload []byte, opts ClientOptions, broadcast *wire.Encoder) {
	if !opts.AllowWriteAwareness {
		metrics.MessagesTotal.WithLabelValues("awareness", "denied").Inc()
		return
	}
	if _, ok := r.connections[connID]; !ok {
		r.connections[connID] = make(map[awareness.ClientID]struct{})
	}
	added, updated, removed, err := r.aware.Apply(payload)
	if err != nil {
		logging.Error(ctx, "room: applying awareness update", zap.String("room", r.name), zap.Uint64("conn_id", connID), zap.Error(err))
		metrics.MessagesTotal.WithLabelValues("awareness", "decode_error").Inc()
		return
	}
	owned := r.connections[connID]
	for _, id := range added {
		owned[id] = struct{}{}
	}
	for _, id := range updated {
		owned[id] = struct{}{}
	}
	for _, id := range removed {
		delete(owned, id)
	}
	r.writeAwarenessSnapshot(broadcast)
	metrics.MessagesTotal.WithLabelValues("awareness", "ok").Inc()
}

// Disconnect removes every client-id owned by connID from the awareness
// registry and forgets connID's entry in the connection index, maintaining
// the invariant that awareness never outlives the connection that owns it.
//
// If opts.AllowWriteAwareness is false, this is a no-op (a read-only
// session never registered awareness in the first place). If the Room's
// settings use NamePrefix, no broadcast is produced: the document name is
// not available at disconnect time, and name-prefixed clients are expected
// to send a final awareness update of their own before disconnecting.
func (r *Room) Disconnect(ctx context.Context, connID ConnID, opts ClientOptions) [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !opts.AllowWriteAwareness {
		return nil
	}
	for id := range r.connections[connID] {
		r.aware.Remove(id)
	}
	delete(r.connections, connID)
	r.reportGauges()

	if r.settings.NamePrefix {
		return nil
	}
	enc := r.newEncoder("")
	r.writeAwarenessSnapshot(enc)
	return enc.Frames()
}

// Serialize returns a full-state update in the Room's configured wire
// version, suitable to seed another Room via NewFromSnapshot.
func (r *Room) Serialize() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.EncodeFullState()
}

// IsAlive reports whether at least one connection is currently registered.
func (r *Room) IsAlive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connections) > 0
}

// ExportMap returns a JSON-like snapshot of the named map view, for
// package manager's typed-view export operations. Exports take the
// Room's lock like any other operation - the underlying *crdt.Doc is
// never handed out directly, since it carries no lock of its own.
func (r *Room) ExportMap(name string) crdt.Value {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.GetMap(name)
}

// ExportArray returns a JSON-like snapshot of the named array view.
func (r *Room) ExportArray(name string) crdt.Value {
	r.mu.Lock()
	defer r.mu.Unlock()
	return crdt.ArrayValue(r.doc.GetArray(name))
}

// ExportText returns the named text view's current contents.
func (r *Room) ExportText(name string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.GetText(name)
}

// ExportXMLElement returns the named xml element's tag, attributes, and
// children as a JSON-like object: {"tag": ..., "attrs": ..., "children": ...}.
func (r *Room) ExportXMLElement(name string) crdt.Value {
	r.mu.Lock()
	defer r.mu.Unlock()
	el := r.doc.GetXMLElement(name)
	return crdt.ObjectValue(map[string]crdt.Value{
		"tag":      crdt.StringValue(el.Tag),
		"attrs":    el.Attrs,
		"children": crdt.ArrayValue(el.Children),
	})
}

// ExportXMLText returns the named xml text facade's current contents.
func (r *Room) ExportXMLText(name string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.GetXMLText(name)
}

// ExportXMLFragment returns the named xml fragment's ordered children.
func (r *Room) ExportXMLFragment(name string) crdt.Value {
	r.mu.Lock()
	defer r.mu.Unlock()
	return crdt.ArrayValue(r.doc.GetXMLFragment(name))
}

func (r *Room) reportGauges() {
	metrics.RoomConnections.WithLabelValues(r.name).Set(float64(len(r.connections)))
	metrics.AwarenessClients.WithLabelValues(r.name).Set(float64(r.aware.Len()))
}
