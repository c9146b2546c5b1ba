package gateway

import (
	"context"
	"testing"

	"github.com/hollowgrove/yroom/internal/auth"
	"github.com/hollowgrove/yroom/internal/manager"
	"github.com/hollowgrove/yroom/internal/room"
	"github.com/hollowgrove/yroom/internal/wire"
)

func TestConnectRegistersAndRepliesWithSyncStep1(t *testing.T) {
	gw := New(manager.NewDefault(), &auth.MockValidator{})
	c1 := newConnection(newFakeConn(), 1, "docs/a", room.DefaultClientOptions())

	reply := gw.connect(context.Background(), "docs/a", c1, room.DefaultClientOptions())
	if len(reply) != 1 {
		t.Fatalf("reply payload count = %d, want 1", len(reply))
	}
	_, msgs, err := wire.DecodeAll(wire.V1, false, reply[0])
	if err != nil || len(msgs) != 1 || msgs[0].Kind != wire.KindSyncStep1 {
		t.Fatalf("reply = %v, err = %v, want [SyncStep1]", msgs, err)
	}
}

func TestHandleBroadcastsUpdateToOtherConnectionsOnly(t *testing.T) {
	ctx := context.Background()
	gw := New(manager.NewDefault(), &auth.MockValidator{})
	opts := room.DefaultClientOptions()

	c1 := newConnection(newFakeConn(), 1, "docs/b", opts)
	c2 := newConnection(newFakeConn(), 2, "docs/b", opts)
	gw.connect(ctx, "docs/b", c1, opts)
	gw.connect(ctx, "docs/b", c2, opts)

	doc := newTestDoc(wire.V1)
	update, err := doc.InsertText("t", 0, "hi")
	if err != nil {
		t.Fatalf("InsertText: %v", err)
	}
	frame := wire.EncodeMessages(wire.V1, false, "", false, []wire.Message{wire.SyncUpdate(update)})[0]

	gw.handle(ctx, "docs/b", c1, frame, opts)

	select {
	case payload := <-c2.send:
		_, msgs, err := wire.DecodeAll(wire.V1, false, payload)
		if err != nil || len(msgs) != 1 || msgs[0].Kind != wire.KindSyncUpdate {
			t.Fatalf("c2 payload = %v, err = %v, want [SyncUpdate]", msgs, err)
		}
	default:
		t.Fatal("c2 should have received the broadcast update")
	}

	select {
	case p := <-c1.send:
		t.Fatalf("c1 (the sender) should not receive its own broadcast, got %v", p)
	default:
	}
}

func TestDisconnectUnregistersAndBroadcastsAwarenessRemoval(t *testing.T) {
	ctx := context.Background()
	gw := New(manager.NewDefault(), &auth.MockValidator{})
	opts := room.DefaultClientOptions()

	c1 := newConnection(newFakeConn(), 1, "docs/c", opts)
	c2 := newConnection(newFakeConn(), 2, "docs/c", opts)
	gw.connect(ctx, "docs/c", c1, opts)
	gw.connect(ctx, "docs/c", c2, opts)

	aware := wire.EncodeMessages(wire.V1, false, "", false, []wire.Message{wire.Awareness(newTestAwarenessUpdate(wire.V1, 42, []byte("x"), 1))})[0]
	gw.handle(ctx, "docs/c", c1, aware, opts)
	<-c2.send // drain the awareness broadcast from handle

	gw.disconnect(ctx, "docs/c", c1, opts)

	if _, ok := gw.conns["docs/c"][1]; ok {
		t.Fatal("c1 should be unregistered from the room's connection set after disconnect")
	}
	select {
	case payload := <-c2.send:
		_, msgs, err := wire.DecodeAll(wire.V1, false, payload)
		if err != nil || len(msgs) != 1 || msgs[0].Kind != wire.KindAwareness {
			t.Fatalf("disconnect broadcast = %v, err = %v, want [Awareness]", msgs, err)
		}
	default:
		t.Fatal("c2 should have received an awareness-removal broadcast")
	}
}
