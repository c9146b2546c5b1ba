package gateway

import (
	"context"
	"net/http"
	"net/url"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/hollowgrove/yroom/internal/auth"
	"github.com/hollowgrove/yroom/internal/logging"
	"github.com/hollowgrove/yroom/internal/ratelimit"
	"github.com/hollowgrove/yroom/internal/room"
	"go.uber.org/zap"
)

// validateOrigin reports whether r's Origin header (if any) matches one of
// allowedOrigins by scheme+host. A missing Origin header is permitted,
// since non-browser clients (tests, native apps) never send one.
func validateOrigin(r *http.Request, allowedOrigins []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range allowedOrigins {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return true
		}
	}
	return false
}

// deriveClientOptions turns a request's query parameters and JWT scope
// into the ClientOptions a Room enforces. "readonly=true" always wins;
// absent that, a "read:only" scope entry denies document writes but still
// allows awareness (cursors, selections are not edits).
func deriveClientOptions(c *gin.Context, claims *auth.CustomClaims) room.ClientOptions {
	opts := room.DefaultClientOptions()
	if c.Query("readonly") == "true" {
		opts.AllowWrite = false
		return opts
	}
	if claims != nil {
		for scope := range splitScope(claims.Scope) {
			if scope == "read:only" {
				opts.AllowWrite = false
			}
		}
	}
	return opts
}

func splitScope(scope string) map[string]struct{} {
	out := make(map[string]struct{})
	start := 0
	for i := 0; i <= len(scope); i++ {
		if i == len(scope) || scope[i] == ' ' {
			if i > start {
				out[scope[start:i]] = struct{}{}
			}
			start = i + 1
		}
	}
	return out
}

// Handler bundles a Gateway with the HTTP-layer dependencies needed to
// authenticate and rate-limit an upgrade: a JWT validator, the allowed CORS
// origin list, and an optional RateLimiter (nil disables rate limiting,
// matching RateLimiter's own fail-open policy on store errors).
type Handler struct {
	gw             *Gateway
	allowedOrigins []string
	rl             *ratelimit.RateLimiter

	upgradeOnce sync.Once
	upgrader    websocket.Upgrader
}

// NewHandler creates a Handler serving upgrades for gw.
func NewHandler(gw *Gateway, allowedOrigins []string, rl *ratelimit.RateLimiter) *Handler {
	return &Handler{gw: gw, allowedOrigins: allowedOrigins, rl: rl}
}

func (h *Handler) init() {
	h.upgradeOnce.Do(func() {
		h.upgrader = websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return validateOrigin(r, h.allowedOrigins)
			},
		}
	})
}

// ServeWs authenticates the request, upgrades it to a WebSocket, and hands
// the connection off to the room named by the :room path parameter.
// GET /ws/:room?token=...&readonly=true
func (h *Handler) ServeWs(c *gin.Context) {
	h.init()

	if h.rl != nil && !h.rl.CheckWebSocket(c) {
		return
	}

	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token not provided"})
		return
	}
	claims, err := h.gw.validator.ValidateToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	if h.rl != nil {
		if err := h.rl.CheckWebSocketUser(c.Request.Context(), claims.Subject); err != nil {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connections for this user"})
			return
		}
	}

	roomName := c.Param("room")
	if roomName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room name required"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn(c.Request.Context(), "gateway: upgrade failed", zap.Error(err))
		return
	}

	opts := deriveClientOptions(c, claims)
	connID := h.gw.nextConnID.Add(1)
	conn2 := newConnection(conn, connID, roomName, opts)

	ctx := context.Background()
	initial := h.gw.connect(ctx, roomName, conn2, opts)
	for _, p := range initial {
		conn2.enqueue(p)
	}

	logging.Info(ctx, "gateway: connection established",
		zap.String("room", roomName), zap.Uint64("conn_id", connID), zap.String("user", logging.RedactSubject(claims.Subject)))

	go conn2.writePump()
	go conn2.readPump(ctx, h.gw)
}
