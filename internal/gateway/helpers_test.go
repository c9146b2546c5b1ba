package gateway

import (
	"sync"
	"time"

	"github.com/hollowgrove/yroom/internal/crdt"
	"github.com/hollowgrove/yroom/internal/wire"
)

// fakeConn is an in-memory wsConnection: ReadMessage drains a channel of
// pre-queued frames (blocking once they are used up, and returning an
// error after Close, like a closed socket), WriteMessage records
// everything sent to it.
type fakeConn struct {
	mu      sync.Mutex
	inbound chan []byte
	sent    [][]byte
	closed  bool
}

func newFakeConn(frames ...[]byte) *fakeConn {
	c := &fakeConn{inbound: make(chan []byte, len(frames)+1)}
	for _, f := range frames {
		c.inbound <- f
	}
	return c
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	f, ok := <-c.inbound
	if !ok {
		return 0, nil, errConnClosed
	}
	return 2, f, nil // websocket.BinaryMessage == 2
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	c.sent = append(c.sent, cp)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.inbound)
	}
	return nil
}

func (c *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

func (c *fakeConn) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}

type closedError struct{}

func (closedError) Error() string { return "fakeConn: closed" }

var errConnClosed = closedError{}

func newTestDoc(version wire.ProtocolVersion) *crdt.Doc {
	return crdt.NewDoc("test-peer", version)
}

// newTestAwarenessUpdate builds a one-entry awareness update in the wire
// format package awareness uses: entry count, then per entry (client id,
// clock, live flag, payload).
func newTestAwarenessUpdate(version wire.ProtocolVersion, clientID uint64, data []byte, clock uint64) []byte {
	w := wire.NewWriter(version)
	w.WriteUint(1)
	w.WriteUint(clientID)
	w.WriteUint(clock)
	if data == nil {
		w.WriteByte(0)
	} else {
		w.WriteByte(1)
		w.WriteBytes(data)
	}
	return w.Bytes()
}
