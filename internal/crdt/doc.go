package crdt

import (
	"fmt"

	"github.com/hollowgrove/yroom/internal/wire"
)

// StateVector maps replica id to the highest Seq that replica's ops have
// been observed up to. It is the causal cursor SyncStep1 advertises and
// EncodeDiff consumes to compute what a peer is missing.
type StateVector map[string]uint64

// Clone returns an independent copy.
func (sv StateVector) Clone() StateVector {
	out := make(StateVector, len(sv))
	for k, v := range sv {
		out[k] = v
	}
	return out
}

// Doc is a single collaborative document: a set of named map, array, text,
// and xml views, an append-only log of the Ops that produced their current
// state, and the local replica identity new Ops are minted under.
//
// Doc assumes single-threaded access, same as the original library this
// was adapted from: package room is the sole caller and already serializes
// all access to a document behind its own lock (see spec's concurrency
// model), so Doc itself carries no mutex.
type Doc struct {
	replica string
	version wire.ProtocolVersion
	seq     uint64

	maps     map[string]*lwwMap
	rgas     map[string]*rga
	xmlTags  map[string]string // containerKey(xmlelement, name) -> tag
	applied  map[NodeID]bool
	log      []Op
	sv       StateVector
}

// NewDoc creates an empty document. replica identifies this Doc's local
// actor for the IDs it mints; version selects the wire encoding EncodeDiff,
// EncodeFullState, and ApplyUpdate use.
func NewDoc(replica string, version wire.ProtocolVersion) *Doc {
	return &Doc{
		replica: replica,
		version: version,
		maps:    make(map[string]*lwwMap),
		rgas:    make(map[string]*rga),
		xmlTags: make(map[string]string),
		applied: make(map[NodeID]bool),
		sv:      make(StateVector),
	}
}

func (d *Doc) nextID() NodeID {
	d.seq++
	return NodeID{Replica: d.replica, Seq: d.seq}
}

func (d *Doc) mapFor(key string) *lwwMap {
	m, ok := d.maps[key]
	if !ok {
		m = newLWWMap()
		d.maps[key] = m
	}
	return m
}

func (d *Doc) rgaFor(key string) *rga {
	r, ok := d.rgas[key]
	if !ok {
		r = newRGA()
		d.rgas[key] = r
	}
	return r
}

// apply performs op's effect against local state, recording it in the log
// and bumping the state vector only if it has not already been applied
// (idempotent replay). Returns whether this call had any new effect.
func (d *Doc) apply(op Op) bool {
	if d.applied[op.ID] {
		return false
	}

	switch op.Kind {
	case OpMapSet:
		d.mapFor(op.Container).set(op.Key, op.ID, op.Value)
	case OpRGAInsert:
		if !d.rgaFor(op.Container).insert(op.ID, op.After, op.Value) {
			return false
		}
	case OpRGADelete:
		if !d.rgaFor(op.Container).delete(op.Target) {
			return false
		}
	default:
		return false
	}

	d.applied[op.ID] = true
	d.log = append(d.log, op)
	if op.ID.Seq > d.sv[op.ID.Replica] {
		d.sv[op.ID.Replica] = op.ID.Seq
	}
	return true
}

// localOp mints an ID for a locally originated mutation, applies it, and
// returns the single-op update encoded in the Doc's wire version — handy
// both for broadcasting to peers and for tests that want to simulate one.
func (d *Doc) localOp(partial Op) ([]byte, error) {
	partial.ID = d.nextID()
	d.apply(partial)
	return encodeOps(d.version, []Op{partial})
}

// StateVector returns a copy of the document's current causal cursor.
func (d *Doc) StateVector() StateVector {
	return d.sv.Clone()
}

// EncodeDiff encodes every op the document holds that a peer at the given
// state vector has not yet seen — the SyncStep2 payload answering that
// peer's SyncStep1.
func (d *Doc) EncodeDiff(peer StateVector) ([]byte, error) {
	var missing []Op
	for _, op := range d.log {
		if op.ID.Seq > peer[op.ID.Replica] {
			missing = append(missing, op)
		}
	}
	return encodeOps(d.version, missing)
}

// EncodeFullState encodes the document's entire history, equivalent to
// diffing against an empty state vector.
func (d *Doc) EncodeFullState() ([]byte, error) {
	return encodeOps(d.version, d.log)
}

// ApplyUpdate decodes and applies an update produced by EncodeDiff,
// EncodeFullState, or localOp, from this Doc or a peer's. Already-seen ops
// are silently skipped (Testable Property: update application is
// idempotent and commutative).
func (d *Doc) ApplyUpdate(update []byte) error {
	ops, err := decodeOps(d.version, update)
	if err != nil {
		return fmt.Errorf("crdt: decoding update: %w", err)
	}
	for _, op := range ops {
		d.apply(op)
		if op.ID.Replica == d.replica && op.ID.Seq > d.seq {
			d.seq = op.ID.Seq
		}
	}
	return nil
}

// GetMap returns a snapshot of the named map view.
func (d *Doc) GetMap(name string) Value {
	return d.mapFor(containerKey(kindMap, name)).snapshot()
}

// SetMap writes key=value into the named map view.
func (d *Doc) SetMap(name, key string, value Value) ([]byte, error) {
	return d.localOp(Op{Kind: OpMapSet, Container: containerKey(kindMap, name), Key: key, Value: value})
}

// GetArray returns a snapshot of the named array view, in order.
func (d *Doc) GetArray(name string) []Value {
	return d.rgaFor(containerKey(kindArray, name)).values()
}

// InsertArray inserts values starting at index into the named array view.
func (d *Doc) InsertArray(name string, index int, values []Value) ([]byte, error) {
	return d.insertSequence(containerKey(kindArray, name), index, values)
}

// DeleteArray removes length elements starting at index from the named
// array view.
func (d *Doc) DeleteArray(name string, index, length int) ([]byte, error) {
	return d.deleteRange(containerKey(kindArray, name), index, length)
}

// GetText returns the named text view's current contents.
func (d *Doc) GetText(name string) string {
	return d.rgaFor(containerKey(kindText, name)).text()
}

// InsertText inserts text starting at the rune index into the named text
// view.
func (d *Doc) InsertText(name string, index int, text string) ([]byte, error) {
	values := stringToValues(text)
	return d.insertSequence(containerKey(kindText, name), index, values)
}

// DeleteText removes length runes starting at index from the named text
// view.
func (d *Doc) DeleteText(name string, index, length int) ([]byte, error) {
	return d.deleteRange(containerKey(kindText, name), index, length)
}

// GetXMLText returns the named xml text facade's current contents.
func (d *Doc) GetXMLText(name string) string {
	return d.rgaFor(containerKey(kindXMLText, name)).text()
}

// InsertXMLText inserts text into the named xml text facade.
func (d *Doc) InsertXMLText(name string, index int, text string) ([]byte, error) {
	return d.insertSequence(containerKey(kindXMLText, name), index, stringToValues(text))
}

// DeleteXMLText removes runes from the named xml text facade.
func (d *Doc) DeleteXMLText(name string, index, length int) ([]byte, error) {
	return d.deleteRange(containerKey(kindXMLText, name), index, length)
}

// GetXMLFragment returns the named xml fragment's ordered children.
func (d *Doc) GetXMLFragment(name string) []Value {
	return d.rgaFor(containerKey(kindXMLFragment, name)).values()
}

// InsertXMLFragment inserts children into the named xml fragment.
func (d *Doc) InsertXMLFragment(name string, index int, values []Value) ([]byte, error) {
	return d.insertSequence(containerKey(kindXMLFragment, name), index, values)
}

// DeleteXMLFragment removes children from the named xml fragment.
func (d *Doc) DeleteXMLFragment(name string, index, length int) ([]byte, error) {
	return d.deleteRange(containerKey(kindXMLFragment, name), index, length)
}

// XMLElement is a snapshot of a named xml element view: its tag,
// attributes, and ordered children.
type XMLElement struct {
	Tag      string
	Attrs    Value
	Children []Value
}

// GetOrCreateXMLElement registers name as an xml element with the given
// tag if it does not already exist, and returns its current snapshot. The
// tag itself is fixed at creation and is not part of the replicated state
// (elements are not renamed once created).
func (d *Doc) GetOrCreateXMLElement(name, tag string) XMLElement {
	key := containerKey("xmlelement", name)
	if _, ok := d.xmlTags[key]; !ok {
		d.xmlTags[key] = tag
	}
	return d.GetXMLElement(name)
}

// GetXMLElement returns the named xml element's current snapshot.
func (d *Doc) GetXMLElement(name string) XMLElement {
	key := containerKey("xmlelement", name)
	return XMLElement{
		Tag:      d.xmlTags[key],
		Attrs:    d.mapFor(containerKey(kindXMLAttrs, name)).snapshot(),
		Children: d.rgaFor(containerKey(kindXMLChildren, name)).values(),
	}
}

// SetXMLAttr sets an attribute on the named xml element.
func (d *Doc) SetXMLAttr(name, key string, value Value) ([]byte, error) {
	return d.localOp(Op{Kind: OpMapSet, Container: containerKey(kindXMLAttrs, name), Key: key, Value: value})
}

// InsertXMLChildren inserts children into the named xml element.
func (d *Doc) InsertXMLChildren(name string, index int, values []Value) ([]byte, error) {
	return d.insertSequence(containerKey(kindXMLChildren, name), index, values)
}

// DeleteXMLChildren removes children from the named xml element.
func (d *Doc) DeleteXMLChildren(name string, index, length int) ([]byte, error) {
	return d.deleteRange(containerKey(kindXMLChildren, name), index, length)
}

func stringToValues(s string) []Value {
	runes := []rune(s)
	values := make([]Value, len(runes))
	for i, r := range runes {
		values[i] = StringValue(string(r))
	}
	return values
}

// insertSequence inserts values one rga node at a time starting at index,
// chaining each new node after the previous so the whole call is one
// contiguous run, and returns the combined update for all of them.
func (d *Doc) insertSequence(container string, index int, values []Value) ([]byte, error) {
	if len(values) == 0 {
		return nil, nil
	}
	r := d.rgaFor(container)
	var after NodeID
	if index > 0 {
		id, ok := r.nodeIDAt(index - 1)
		if !ok {
			return nil, fmt.Errorf("crdt: insert index %d out of range (len %d)", index, r.liveLen())
		}
		after = id
	}

	ops := make([]Op, 0, len(values))
	for _, v := range values {
		op := Op{Kind: OpRGAInsert, Container: container, ID: d.nextID(), After: after, Value: v}
		d.apply(op)
		ops = append(ops, op)
		after = op.ID
	}
	return encodeOps(d.version, ops)
}

// deleteRange tombstones length live nodes starting at index in container,
// returning the combined update.
func (d *Doc) deleteRange(container string, index, length int) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	r := d.rgaFor(container)
	ops := make([]Op, 0, length)
	for i := 0; i < length; i++ {
		target, ok := r.nodeIDAt(index)
		if !ok {
			return nil, fmt.Errorf("crdt: delete range [%d,%d) out of bounds (len %d)", index, index+length, r.liveLen())
		}
		op := Op{Kind: OpRGADelete, Container: container, ID: d.nextID(), Target: target}
		d.apply(op)
		ops = append(ops, op)
	}
	return encodeOps(d.version, ops)
}
