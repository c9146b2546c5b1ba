package room

import (
	"context"
	"testing"

	"github.com/hollowgrove/yroom/internal/wire"
)

func decodeFrames(t *testing.T, version wire.ProtocolVersion, namePrefix bool, frames [][]byte) []wire.Message {
	t.Helper()
	var all []wire.Message
	for _, f := range frames {
		_, msgs, err := wire.DecodeAll(version, namePrefix, f)
		if err != nil {
			t.Fatalf("decoding frame: %v", err)
		}
		all = append(all, msgs...)
	}
	return all
}

func kinds(msgs []wire.Message) []wire.Kind {
	ks := make([]wire.Kind, len(msgs))
	for i, m := range msgs {
		ks[i] = m.Kind
	}
	return ks
}

func hasKind(msgs []wire.Message, k wire.Kind) bool {
	for _, m := range msgs {
		if m.Kind == k {
			return true
		}
	}
	return false
}

func TestTwoClientSync(t *testing.T) {
	ctx := context.Background()
	r := New("docs/a", DefaultSettings())

	// Connect conn=1: reply is SyncStep1(empty sv) + nothing else (awareness is empty).
	msg := r.Connect(ctx, 1, DefaultClientOptions())
	if len(msg.BroadcastPayloads) != 0 {
		t.Fatalf("Connect must never broadcast, got %v", msg.BroadcastPayloads)
	}
	got := decodeFrames(t, wire.V1, false, msg.ReplyPayloads)
	if len(got) != 1 || got[0].Kind != wire.KindSyncStep1 {
		t.Fatalf("reply = %v, want [SyncStep1]", kinds(got))
	}

	// Conn 1 sends SyncStep2 with an update inserting "hello" into text "t".
	doc := newTestDoc(t, wire.V1)
	update, err := doc.InsertText("t", 0, "hello")
	if err != nil {
		t.Fatalf("InsertText: %v", err)
	}
	frame := wire.EncodeMessages(wire.V1, false, "", false, []wire.Message{wire.SyncStep2(update)})[0]
	msg = r.HandleMessage(ctx, 1, frame, DefaultClientOptions())
	if len(msg.ReplyPayloads) != 0 || len(msg.BroadcastPayloads) != 0 {
		t.Fatalf("SyncStep2 must not produce reply or broadcast, got reply=%v broadcast=%v", msg.ReplyPayloads, msg.BroadcastPayloads)
	}
	if !msg.HasEdits {
		t.Fatal("expected HasEdits after applying SyncStep2")
	}

	// Connect conn=2: reply contains SyncStep1(sv after U).
	msg = r.Connect(ctx, 2, DefaultClientOptions())
	got = decodeFrames(t, wire.V1, false, msg.ReplyPayloads)
	if len(got) != 1 || got[0].Kind != wire.KindSyncStep1 {
		t.Fatalf("conn 2 reply = %v, want [SyncStep1]", kinds(got))
	}

	// Conn 2 sends SyncStep1(empty) -> reply contains SyncStep2(diff) + awareness snapshot.
	frame = wire.EncodeMessages(wire.V1, false, "", false, []wire.Message{wire.SyncStep1(nil)})[0]
	msg = r.HandleMessage(ctx, 2, frame, DefaultClientOptions())
	got = decodeFrames(t, wire.V1, false, msg.ReplyPayloads)
	if len(got) != 2 || got[0].Kind != wire.KindSyncStep2 || got[1].Kind != wire.KindAwareness {
		t.Fatalf("conn 2 SyncStep1 reply = %v, want [SyncStep2, Awareness]", kinds(got))
	}

	if text := r.ExportText("t"); text != "hello" {
		t.Fatalf("ExportText(t) = %q, want %q", text, "hello")
	}
}

func TestAwarenessBroadcastAndDisconnectCleanup(t *testing.T) {
	ctx := context.Background()
	r := New("docs/b", DefaultSettings())
	r.Connect(ctx, 1, DefaultClientOptions())
	r.Connect(ctx, 2, DefaultClientOptions())

	aw := newTestAwareness(t, wire.V1, 100, []byte(`{"cursor":3}`), 1)
	frame := wire.EncodeMessages(wire.V1, false, "", false, []wire.Message{wire.Awareness(aw)})[0]
	msg := r.HandleMessage(ctx, 1, frame, DefaultClientOptions())

	if len(msg.ReplyPayloads) != 0 {
		t.Fatalf("awareness message must not produce a reply, got %v", msg.ReplyPayloads)
	}
	got := decodeFrames(t, wire.V1, false, msg.BroadcastPayloads)
	if len(got) != 1 || got[0].Kind != wire.KindAwareness {
		t.Fatalf("broadcast = %v, want [Awareness]", kinds(got))
	}
	if _, ok := r.connections[1][100]; !ok {
		t.Fatal("connections[1] should own client 100")
	}

	broadcast := r.Disconnect(ctx, 1, DefaultClientOptions())
	got = decodeFrames(t, wire.V1, false, broadcast)
	if len(got) != 1 || got[0].Kind != wire.KindAwareness {
		t.Fatalf("disconnect broadcast = %v, want [Awareness]", kinds(got))
	}
	if r.aware.Len() != 0 {
		t.Fatalf("awareness should be empty after disconnect, Len()=%d", r.aware.Len())
	}
	if !r.IsAlive() {
		t.Fatal("room should still be alive: conn 2 remains")
	}

	r.Disconnect(ctx, 2, DefaultClientOptions())
	if r.IsAlive() {
		t.Fatal("room should not be alive once every connection has disconnected")
	}
}

func TestReadOnlyClientCannotMutateDocument(t *testing.T) {
	ctx := context.Background()
	r := New("docs/c", DefaultSettings())
	opts := ClientOptions{AllowWrite: false, AllowWriteAwareness: true}

	before := r.doc.StateVector()

	doc := newTestDoc(t, wire.V1)
	update, err := doc.InsertText("t", 0, "x")
	if err != nil {
		t.Fatalf("InsertText: %v", err)
	}
	frame := wire.EncodeMessages(wire.V1, false, "", false, []wire.Message{wire.SyncUpdate(update)})[0]
	msg := r.HandleMessage(ctx, 3, frame, opts)

	after := r.doc.StateVector()
	if len(after) != len(before) {
		t.Fatalf("state vector changed for a read-only client: before=%v after=%v", before, after)
	}
	if msg.HasEdits {
		t.Fatal("HasEdits must be false for a denied write")
	}
	if len(msg.BroadcastPayloads) != 0 {
		t.Fatalf("denied Update must not broadcast, got %v", msg.BroadcastPayloads)
	}
}

func TestBroadcastScoping(t *testing.T) {
	ctx := context.Background()
	r := New("docs/d", DefaultSettings())
	r.Connect(ctx, 1, DefaultClientOptions())

	doc := newTestDoc(t, wire.V1)
	update, _ := doc.InsertText("t", 0, "x")
	frame := wire.EncodeMessages(wire.V1, false, "", false, []wire.Message{wire.SyncUpdate(update)})[0]
	msg := r.HandleMessage(ctx, 1, frame, DefaultClientOptions())
	if len(msg.ReplyPayloads) != 0 {
		t.Fatalf("Update must never appear in reply, got %v", msg.ReplyPayloads)
	}
	broadcast := decodeFrames(t, wire.V1, false, msg.BroadcastPayloads)
	if len(broadcast) != 1 || broadcast[0].Kind != wire.KindSyncUpdate {
		t.Fatalf("broadcast = %v, want [SyncUpdate]", kinds(broadcast))
	}

	frame = wire.EncodeMessages(wire.V1, false, "", false, []wire.Message{wire.SyncStep1(nil)})[0]
	msg = r.HandleMessage(ctx, 1, frame, DefaultClientOptions())
	if hasKind(decodeFrames(t, wire.V1, false, msg.BroadcastPayloads), wire.KindSyncStep2) {
		t.Fatal("SyncStep2 must never be broadcast")
	}
	reply := decodeFrames(t, wire.V1, false, msg.ReplyPayloads)
	if !hasKind(reply, wire.KindSyncStep2) {
		t.Fatal("SyncStep2 must appear in reply to SyncStep1")
	}
}

func TestPipeliningEmitsOneOrManyFrames(t *testing.T) {
	ctx := context.Background()
	pipelined := New("docs/e", DefaultSettings())
	pipelined.Connect(ctx, 1, DefaultClientOptions())

	split := New("docs/e", Settings{ProtocolVersion: wire.V1, ServerStartSync: true, DisablePipelining: true})
	split.Connect(ctx, 1, DefaultClientOptions())

	msgs := []wire.Message{wire.AwarenessQuery(), wire.Auth(nil)}
	frameP := wire.EncodeMessages(wire.V1, false, "", false, msgs)[0]
	frameS := wire.EncodeMessages(wire.V1, false, "", true, msgs)

	outP := pipelined.HandleMessage(ctx, 1, frameP, DefaultClientOptions())
	if len(outP.ReplyPayloads) != 1 {
		t.Fatalf("pipelined reply frame count = %d, want 1", len(outP.ReplyPayloads))
	}

	outS := split.HandleMessage(ctx, 1, frameS[0], DefaultClientOptions())
	for _, f := range frameS[1:] {
		m := split.HandleMessage(ctx, 1, f, DefaultClientOptions())
		outS.ReplyPayloads = append(outS.ReplyPayloads, m.ReplyPayloads...)
	}
	if len(outS.ReplyPayloads) != 2 {
		t.Fatalf("split reply frame count = %d, want 2", len(outS.ReplyPayloads))
	}

	empty := New("docs/f", DefaultSettings())
	emptyFrame := wire.EncodeMessages(wire.V1, false, "", false, nil)
	if len(emptyFrame) != 0 {
		t.Fatalf("encoding zero messages must yield zero frames, got %d", len(emptyFrame))
	}
	out := empty.HandleMessage(ctx, 1, nil, DefaultClientOptions())
	if len(out.ReplyPayloads) != 0 || len(out.BroadcastPayloads) != 0 {
		t.Fatal("an empty inbound frame must yield zero output frames")
	}
}

func TestNamePrefixEchoedOnReply(t *testing.T) {
	ctx := context.Background()
	settings := Settings{ProtocolVersion: wire.V1, NamePrefix: true, ServerStartSync: true}
	r := New("docs/g", settings)

	frame := wire.EncodeMessages(wire.V1, true, "room-xyz", false, []wire.Message{wire.AwarenessQuery()})[0]
	msg := r.HandleMessage(ctx, 1, frame, DefaultClientOptions())

	name, _, err := wire.DecodeAll(wire.V1, true, msg.ReplyPayloads[0])
	if err != nil {
		t.Fatalf("decoding reply: %v", err)
	}
	if name != "room-xyz" {
		t.Fatalf("reply name prefix = %q, want %q", name, "room-xyz")
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	ctx := context.Background()
	a := New("docs/h", DefaultSettings())
	doc := newTestDoc(t, wire.V1)
	update, _ := doc.InsertText("t", 0, "x")
	frame := wire.EncodeMessages(wire.V1, false, "", false, []wire.Message{wire.SyncUpdate(update)})[0]
	a.HandleMessage(ctx, 1, frame, DefaultClientOptions())

	snapshot, err := a.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	b, err := NewFromSnapshot("docs/h-copy", DefaultSettings(), snapshot)
	if err != nil {
		t.Fatalf("NewFromSnapshot: %v", err)
	}
	if got, want := b.ExportText("t"), a.ExportText("t"); got != want {
		t.Fatalf("seeded room text = %q, want %q", got, want)
	}
}
