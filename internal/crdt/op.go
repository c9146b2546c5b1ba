package crdt

// OpKind tags the mutation an Op applies. Every structural view (map,
// array, text, and the xml* facades) is backed by one of two primitives —
// an lwwMap or an rga — so only two mutating op kinds are needed; the
// container's name prefix (see containerKey) picks which primitive and
// which named instance of it an op targets.
type OpKind uint8

const (
	OpMapSet OpKind = iota
	OpRGAInsert
	OpRGADelete
)

// containerKey namespaces a container name by its structural kind, so a
// "notes" text view and a "notes" map view never collide, and so the
// attributes and children of one xml element don't collide with another
// view of the same name.
func containerKey(kind, name string) string {
	return kind + ":" + name
}

const (
	kindMap         = "map"
	kindArray       = "array"
	kindText        = "text"
	kindXMLText     = "xmltext"
	kindXMLAttrs    = "xmlattrs"
	kindXMLChildren = "xmlchildren"
	kindXMLFragment = "xmlfragment"
)

// Op is one CRDT mutation, the unit the operation log stores and the wire
// update format serializes. Every Op carries a globally unique ID so
// re-applying it (duplicate delivery, or replaying a diff that overlaps
// what the receiver already has) is a safe no-op.
type Op struct {
	Kind      OpKind
	Container string // containerKey(kind, name)
	ID        NodeID // this op's own identity; always unique, minted by its author
	After     NodeID // meaningful for OpRGAInsert: the predecessor node
	Target    NodeID // meaningful for OpRGADelete: the node being tombstoned
	Key       string // meaningful for OpMapSet
	Value     Value  // meaningful for OpMapSet and OpRGAInsert
}
