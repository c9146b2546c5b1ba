package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Writer accumulates length/string/byte fields using the integer encoding
// fixed by a ProtocolVersion, mirroring the way lib0's `encoding.Write`
// exposes one writer type monomorphized per wire version.
type Writer struct {
	version ProtocolVersion
	buf     bytes.Buffer
}

// NewWriter returns a Writer that encodes integers per version.
func NewWriter(version ProtocolVersion) *Writer {
	return &Writer{version: version}
}

// WriteUint writes an unsigned integer length/tag field.
func (w *Writer) WriteUint(v uint64) {
	switch w.version {
	case V2:
		var tmp [binary.MaxVarintLen64]byte
		n := binary.PutUvarint(tmp[:], v)
		w.buf.Write(tmp[:n])
	default: // V1
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], uint32(v))
		w.buf.Write(tmp[:])
	}
}

// WriteBytes writes a length-prefixed byte string.
func (w *Writer) WriteBytes(b []byte) {
	w.WriteUint(uint64(len(b)))
	w.buf.Write(b)
}

// WriteString writes a length-prefixed UTF-8 string.
func (w *Writer) WriteString(s string) {
	w.WriteBytes([]byte(s))
}

// WriteByte writes a single tag byte, untouched by version - message-kind
// tags are always a single byte regardless of the integer encoding the
// rest of the frame uses.
func (w *Writer) WriteByte(b byte) {
	w.buf.WriteByte(b)
}

// Bytes returns the accumulated buffer.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

// Reader parses fields written by a Writer of the same version.
type Reader struct {
	version ProtocolVersion
	buf     []byte
	pos     int
}

// NewReader returns a Reader over buf using version's integer encoding.
func NewReader(version ProtocolVersion, buf []byte) *Reader {
	return &Reader{version: version, buf: buf}
}

// Len returns the number of unread bytes remaining.
func (r *Reader) Len() int {
	return len(r.buf) - r.pos
}

// ReadUint reads an unsigned integer length/tag field.
func (r *Reader) ReadUint() (uint64, error) {
	switch r.version {
	case V2:
		v, n := binary.Uvarint(r.buf[r.pos:])
		if n <= 0 {
			return 0, fmt.Errorf("wire: malformed varint at offset %d", r.pos)
		}
		r.pos += n
		return v, nil
	default: // V1
		if r.Len() < 4 {
			return 0, fmt.Errorf("wire: truncated length field at offset %d", r.pos)
		}
		v := binary.BigEndian.Uint32(r.buf[r.pos : r.pos+4])
		r.pos += 4
		return uint64(v), nil
	}
}

// ReadBytes reads a length-prefixed byte string.
func (r *Reader) ReadBytes() ([]byte, error) {
	n, err := r.ReadUint()
	if err != nil {
		return nil, err
	}
	if uint64(r.Len()) < n {
		return nil, fmt.Errorf("wire: truncated payload: want %d bytes, have %d", n, r.Len())
	}
	b := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b, nil
}

// ReadString reads a length-prefixed UTF-8 string.
func (r *Reader) ReadString() (string, error) {
	b, err := r.ReadBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadByte reads a single tag byte.
func (r *Reader) ReadByte() (byte, error) {
	if r.Len() < 1 {
		return 0, fmt.Errorf("wire: truncated tag byte at offset %d", r.pos)
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}
