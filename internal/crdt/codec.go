package crdt

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/hollowgrove/yroom/internal/wire"
)

// encodeOps serializes an op log into an update payload, in the given
// wire protocol version. V1 uses encoding/gob for its oldest, simplest
// wire path; V2 uses the hand-rolled varint encoding in package wire for
// its denser, cross-implementation-friendly framing.
func encodeOps(version wire.ProtocolVersion, ops []Op) ([]byte, error) {
	switch version {
	case wire.V1:
		return encodeOpsGob(ops)
	case wire.V2:
		return encodeOpsVarint(ops), nil
	default:
		return nil, fmt.Errorf("crdt: unsupported protocol version %s", version)
	}
}

// decodeOps is encodeOps's inverse.
func decodeOps(version wire.ProtocolVersion, payload []byte) ([]Op, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	switch version {
	case wire.V1:
		return decodeOpsGob(payload)
	case wire.V2:
		return decodeOpsVarint(payload)
	default:
		return nil, fmt.Errorf("crdt: unsupported protocol version %s", version)
	}
}

func encodeOpsGob(ops []Op) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(ops); err != nil {
		return nil, fmt.Errorf("crdt: gob-encoding update: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeOpsGob(payload []byte) ([]Op, error) {
	var ops []Op
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&ops); err != nil {
		return nil, fmt.Errorf("crdt: gob-decoding update: %w", err)
	}
	return ops, nil
}

func encodeOpsVarint(ops []Op) []byte {
	w := wire.NewWriter(wire.V2)
	w.WriteUint(uint64(len(ops)))
	for _, op := range ops {
		encodeOp(w, op)
	}
	return w.Bytes()
}

func decodeOpsVarint(payload []byte) ([]Op, error) {
	r := wire.NewReader(wire.V2, payload)
	n, err := r.ReadUint()
	if err != nil {
		return nil, fmt.Errorf("crdt: reading op count: %w", err)
	}
	// Every encoded op is at least a few bytes; reject an implausible count
	// up front instead of committing to a runaway allocation for a
	// corrupt or wrong-version payload.
	if n > uint64(len(payload)) {
		return nil, fmt.Errorf("crdt: implausible op count %d for %d-byte payload", n, len(payload))
	}
	ops := make([]Op, 0, n)
	for i := uint64(0); i < n; i++ {
		op, err := decodeOp(r)
		if err != nil {
			return nil, fmt.Errorf("crdt: reading op %d: %w", i, err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func encodeNodeID(w *wire.Writer, id NodeID) {
	w.WriteString(id.Replica)
	w.WriteUint(id.Seq)
}

func decodeNodeID(r *wire.Reader) (NodeID, error) {
	replica, err := r.ReadString()
	if err != nil {
		return NodeID{}, err
	}
	seq, err := r.ReadUint()
	if err != nil {
		return NodeID{}, err
	}
	return NodeID{Replica: replica, Seq: seq}, nil
}

func encodeOp(w *wire.Writer, op Op) {
	w.WriteByte(byte(op.Kind))
	w.WriteString(op.Container)
	encodeNodeID(w, op.ID)
	switch op.Kind {
	case OpRGAInsert:
		encodeNodeID(w, op.After)
		encodeValue(w, op.Value)
	case OpRGADelete:
		encodeNodeID(w, op.Target)
	case OpMapSet:
		w.WriteString(op.Key)
		encodeValue(w, op.Value)
	}
}

func decodeOp(r *wire.Reader) (Op, error) {
	kindByte, err := r.ReadByte()
	if err != nil {
		return Op{}, err
	}
	container, err := r.ReadString()
	if err != nil {
		return Op{}, err
	}
	id, err := decodeNodeID(r)
	if err != nil {
		return Op{}, err
	}

	op := Op{Kind: OpKind(kindByte), Container: container, ID: id}
	switch op.Kind {
	case OpRGAInsert:
		if op.After, err = decodeNodeID(r); err != nil {
			return Op{}, err
		}
		if op.Value, err = decodeValue(r); err != nil {
			return Op{}, err
		}
	case OpRGADelete:
		if op.Target, err = decodeNodeID(r); err != nil {
			return Op{}, err
		}
	case OpMapSet:
		if op.Key, err = r.ReadString(); err != nil {
			return Op{}, err
		}
		if op.Value, err = decodeValue(r); err != nil {
			return Op{}, err
		}
	default:
		return Op{}, fmt.Errorf("crdt: unknown op kind %d", kindByte)
	}
	return op, nil
}

func encodeValue(w *wire.Writer, v Value) {
	w.WriteByte(byte(v.Kind))
	switch v.Kind {
	case KindNull:
	case KindBool:
		b := byte(0)
		if v.Bool {
			b = 1
		}
		w.WriteByte(b)
	case KindNumber:
		w.WriteString(fmt.Sprintf("%g", v.Num))
	case KindString:
		w.WriteString(v.Str)
	case KindArray:
		w.WriteUint(uint64(len(v.Arr)))
		for _, e := range v.Arr {
			encodeValue(w, e)
		}
	case KindObject:
		w.WriteUint(uint64(len(v.Obj)))
		for k, e := range v.Obj {
			w.WriteString(k)
			encodeValue(w, e)
		}
	}
}

func decodeValue(r *wire.Reader) (Value, error) {
	kindByte, err := r.ReadByte()
	if err != nil {
		return Value{}, err
	}
	switch Kind(kindByte) {
	case KindNull:
		return Null, nil
	case KindBool:
		b, err := r.ReadByte()
		if err != nil {
			return Value{}, err
		}
		return BoolValue(b != 0), nil
	case KindNumber:
		s, err := r.ReadString()
		if err != nil {
			return Value{}, err
		}
		var f float64
		if _, err := fmt.Sscanf(s, "%g", &f); err != nil {
			return Value{}, fmt.Errorf("crdt: decoding number %q: %w", s, err)
		}
		return NumberValue(f), nil
	case KindString:
		s, err := r.ReadString()
		if err != nil {
			return Value{}, err
		}
		return StringValue(s), nil
	case KindArray:
		n, err := r.ReadUint()
		if err != nil {
			return Value{}, err
		}
		arr := make([]Value, n)
		for i := range arr {
			if arr[i], err = decodeValue(r); err != nil {
				return Value{}, err
			}
		}
		return ArrayValue(arr), nil
	case KindObject:
		n, err := r.ReadUint()
		if err != nil {
			return Value{}, err
		}
		obj := make(map[string]Value, n)
		for i := uint64(0); i < n; i++ {
			k, err := r.ReadString()
			if err != nil {
				return Value{}, err
			}
			v, err := decodeValue(r)
			if err != nil {
				return Value{}, err
			}
			obj[k] = v
		}
		return ObjectValue(obj), nil
	default:
		return Value{}, fmt.Errorf("crdt: unknown value kind %d", kindByte)
	}
}
