package wire

import "fmt"

// DecodeResult is one item of a Decoder's lazy sequence: either a
// successfully decoded Message, or a decode error. A malformed message
// terminates the sequence; earlier well-formed messages already yielded
// are unaffected.
type DecodeResult struct {
	Message Message
	Err     error
}

// Decoder lazily parses the messages in one frame. If the frame carries a
// document-name prefix, Name() is populated before the first call to Next.
type Decoder struct {
	r          *Reader
	name       string
	namePrefix bool
	done       bool
}

// NewDecoder parses frame per version. If namePrefix is true, the frame is
// expected to begin with a length-prefixed document name.
func NewDecoder(version ProtocolVersion, namePrefix bool, frame []byte) (*Decoder, error) {
	r := NewReader(version, frame)
	d := &Decoder{r: r, namePrefix: namePrefix}
	if namePrefix {
		name, err := r.ReadString()
		if err != nil {
			return nil, fmt.Errorf("wire: decoding document name prefix: %w", err)
		}
		d.name = name
	}
	return d, nil
}

// Name returns the document name parsed from the frame prefix, or "" if
// namePrefix was false.
func (d *Decoder) Name() string {
	return d.name
}

// Next returns the next decoded message. ok is false once the frame is
// exhausted or a decode error terminated the sequence (the error is
// returned exactly once, in the DecodeResult with Err set).
func (d *Decoder) Next() (DecodeResult, bool) {
	if d.done || d.r.Len() == 0 {
		return DecodeResult{}, false
	}
	msg, err := decodeMessage(d.r)
	if err != nil {
		d.done = true
		return DecodeResult{Err: err}, true
	}
	return DecodeResult{Message: msg}, true
}

// DecodeAll drains a Decoder's sequence, stopping (and returning the
// partial list plus the terminating error) at the first decode error.
func DecodeAll(version ProtocolVersion, namePrefix bool, frame []byte) (name string, msgs []Message, decodeErr error) {
	d, err := NewDecoder(version, namePrefix, frame)
	if err != nil {
		return "", nil, err
	}
	for {
		res, ok := d.Next()
		if !ok {
			break
		}
		if res.Err != nil {
			return d.Name(), msgs, res.Err
		}
		msgs = append(msgs, res.Message)
	}
	return d.Name(), msgs, nil
}

// Encoder collects messages into one or more outbound frames.
type Encoder struct {
	version           ProtocolVersion
	namePrefix        bool
	name              string
	disablePipelining bool
	pipelinedFrame    *Writer
	splitFrames       [][]byte
}

// NewEncoder creates an Encoder for a Room configured with the given
// settings. name is the document name to prefix onto every frame when
// namePrefix is true; it is ignored otherwise.
func NewEncoder(version ProtocolVersion, namePrefix bool, name string, disablePipelining bool) *Encoder {
	return &Encoder{
		version:           version,
		namePrefix:        namePrefix,
		name:              name,
		disablePipelining: disablePipelining,
	}
}

func (e *Encoder) newFrameWriter() *Writer {
	w := NewWriter(e.version)
	if e.namePrefix {
		w.WriteString(e.name)
	}
	return w
}

// Write appends one message to the encoder's output. If disablePipelining
// is set, Write immediately finalizes an independent frame for this
// message; otherwise the message is appended to the single shared frame.
func (e *Encoder) Write(m Message) {
	if e.disablePipelining {
		w := e.newFrameWriter()
		encodeMessage(w, m)
		e.splitFrames = append(e.splitFrames, w.Bytes())
		return
	}
	if e.pipelinedFrame == nil {
		e.pipelinedFrame = e.newFrameWriter()
	}
	encodeMessage(e.pipelinedFrame, m)
}

// Frames returns the accumulated output frames. Empty message lists yield
// zero frames in both pipelining modes.
func (e *Encoder) Frames() [][]byte {
	if e.disablePipelining {
		return e.splitFrames
	}
	if e.pipelinedFrame == nil {
		return nil
	}
	return [][]byte{e.pipelinedFrame.Bytes()}
}

// EncodeMessages is a convenience wrapper around Encoder for callers with
// a complete message list in hand.
func EncodeMessages(version ProtocolVersion, namePrefix bool, name string, disablePipelining bool, msgs []Message) [][]byte {
	enc := NewEncoder(version, namePrefix, name, disablePipelining)
	for _, m := range msgs {
		enc.Write(m)
	}
	return enc.Frames()
}
