package health

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// RoomInspector is the subset of *manager.Manager the health handler depends
// on, so tests can supply a fake without constructing a real Manager.
type RoomInspector interface {
	ListRooms() []string
}

// Handler manages health check endpoints.
type Handler struct {
	rooms RoomInspector
}

// NewHandler creates a new health check handler.
func NewHandler(rooms RoomInspector) *Handler {
	return &Handler{rooms: rooms}
}

// LivenessResponse represents the liveness probe response.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	RoomCount int               `json:"room_count"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles the liveness probe endpoint.
// GET /health/live
// Returns 200 if the process is alive (no dependency checks).
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles the readiness probe endpoint.
// GET /health/ready
// The gateway has no external dependencies to probe - the room manager is
// in-process - so readiness reports room count rather than a dependency
// check matrix.
func (h *Handler) Readiness(c *gin.Context) {
	checks := map[string]string{"manager": "healthy"}
	rooms := 0
	if h.rooms != nil {
		rooms = len(h.rooms.ListRooms())
	}

	c.JSON(http.StatusOK, ReadinessResponse{
		Status:    "ready",
		Checks:    checks,
		RoomCount: rooms,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// MarshalJSON implements custom JSON marshaling for better formatting.
func (r ReadinessResponse) MarshalJSON() ([]byte, error) {
	type Alias ReadinessResponse
	return json.Marshal(&struct {
		*Alias
	}{
		Alias: (*Alias)(&r),
	})
}
