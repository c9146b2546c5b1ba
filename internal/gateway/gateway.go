// Package gateway wires the room/manager core to a real WebSocket
// transport: JWT-gated upgrade, per-connection read/write pumps, and the
// fan-out a Room's Message does not do itself (a Room returns payload
// lists; something has to know which live sockets those lists correspond
// to).
package gateway

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/hollowgrove/yroom/internal/auth"
	"github.com/hollowgrove/yroom/internal/logging"
	"github.com/hollowgrove/yroom/internal/manager"
	"github.com/hollowgrove/yroom/internal/metrics"
	"github.com/hollowgrove/yroom/internal/room"
	"go.uber.org/zap"
)

// TokenValidator is the subset of auth.Validator the Gateway depends on, so
// tests and SKIP_AUTH mode can supply auth.MockValidator instead.
type TokenValidator interface {
	ValidateToken(tokenString string) (*auth.CustomClaims, error)
}

// Gateway owns the live-socket registry a Manager does not keep: Manager's
// Room tracks connection-id -> client-id ownership for awareness, but has
// no notion of an actual net.Conn to write to. Gateway keeps that mapping
// per room so a broadcast payload can be fanned out to every connection
// currently registered in it, minus the one that produced it.
type Gateway struct {
	mgr       *manager.Manager
	validator TokenValidator

	nextConnID atomic.Uint64

	mu    sync.RWMutex
	conns map[string]map[room.ConnID]*Connection
}

// New creates a Gateway backed by mgr, authenticating upgrades with
// validator.
func New(mgr *manager.Manager, validator TokenValidator) *Gateway {
	return &Gateway{
		mgr:       mgr,
		validator: validator,
		conns:     make(map[string]map[room.ConnID]*Connection),
	}
}

func (g *Gateway) register(roomName string, c *Connection) {
	g.mu.Lock()
	defer g.mu.Unlock()
	set, ok := g.conns[roomName]
	if !ok {
		set = make(map[room.ConnID]*Connection)
		g.conns[roomName] = set
	}
	set[c.id] = c
}

func (g *Gateway) unregister(roomName string, connID room.ConnID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	set, ok := g.conns[roomName]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(g.conns, roomName)
	}
}

// broadcast fans payloads out to every connection registered in roomName
// except exclude (the connection that produced them, which already has
// its own reply payloads queued).
func (g *Gateway) broadcast(roomName string, exclude room.ConnID, payloads [][]byte) {
	if len(payloads) == 0 {
		return
	}
	g.mu.RLock()
	targets := make([]*Connection, 0, len(g.conns[roomName]))
	for id, c := range g.conns[roomName] {
		if id == exclude {
			continue
		}
		targets = append(targets, c)
	}
	g.mu.RUnlock()

	for _, c := range targets {
		for _, p := range payloads {
			c.enqueue(p)
		}
	}
}

// connect registers a new connection with the room and room fan-out
// registry, returning the initial reply payloads to send on the socket.
func (g *Gateway) connect(ctx context.Context, roomName string, c *Connection, opts room.ClientOptions) [][]byte {
	g.register(roomName, c)
	msg := g.mgr.Connect(ctx, roomName, c.id, opts)
	metrics.IncConnection()
	return msg.ReplyPayloads
}

// handle processes one inbound frame, queuing the reply on c and fanning
// the broadcast out to the rest of roomName.
func (g *Gateway) handle(ctx context.Context, roomName string, c *Connection, frame []byte, opts room.ClientOptions) {
	msg := g.mgr.HandleMessage(ctx, roomName, c.id, frame, opts)
	metrics.WebsocketEvents.WithLabelValues("frame", "processed").Inc()
	for _, p := range msg.ReplyPayloads {
		c.enqueue(p)
	}
	g.broadcast(roomName, c.id, msg.BroadcastPayloads)
}

// disconnect tears down c's registration and fans its awareness-removal
// broadcast (if any) out to whoever is left in roomName.
func (g *Gateway) disconnect(ctx context.Context, roomName string, c *Connection, opts room.ClientOptions) {
	g.unregister(roomName, c.id)
	broadcast := g.mgr.Disconnect(ctx, roomName, c.id, opts)
	metrics.DecConnection()
	g.broadcast(roomName, c.id, broadcast.BroadcastPayloads)
	logging.Info(ctx, "gateway: connection closed", zap.String("room", roomName), zap.Uint64("conn_id", c.id))
}
