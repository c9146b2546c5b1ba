// Package manager implements the room-name -> room.Room table: prefix-based
// settings resolution, lazy room construction, and the inspection and
// typed-view export operations a transport uses to answer out-of-band
// questions ("is this room alive", "list rooms", "serialize for a new
// replica") without going through the protocol state machine.
package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hollowgrove/yroom/internal/crdt"
	"github.com/hollowgrove/yroom/internal/logging"
	"github.com/hollowgrove/yroom/internal/metrics"
	"github.com/hollowgrove/yroom/internal/room"
	"go.uber.org/zap"
)

// ErrRoomAlreadyExists is returned by ConnectWithData when the target room
// was already constructed by an earlier call. The snapshot is silently
// ignored in that case - a room's seed data only ever applies at the
// moment of its construction; the room returned from Connect is still
// fully usable, just not reseeded.
var ErrRoomAlreadyExists = errors.New("manager: room already exists, snapshot ignored")

// SettingsEntry pairs a room-name prefix with the Settings it selects.
// Manager keeps these as an ordered slice rather than a map because
// resolution order is a contract, not an implementation detail (spec's
// "first match wins in declaration order").
type SettingsEntry struct {
	Prefix   string
	Settings room.Settings
}

// Manager owns the room-name -> Room table plus the ordered prefix list
// used to resolve a new room's Settings. The room table is guarded by its
// own lock, acquired strictly before any individual Room's lock - never
// the reverse - so a transport calling from many goroutines at once never
// deadlocks against itself.
type Manager struct {
	mu              sync.RWMutex
	rooms           map[string]*room.Room
	defaultSettings room.Settings
	prefixSettings  []SettingsEntry
}

// New creates a Manager. defaultSettings is used for any room name not
// matched by prefixSettings; prefixSettings is consulted in order, first
// match wins, exactly as the entries were passed in.
func New(defaultSettings room.Settings, prefixSettings []SettingsEntry) *Manager {
	return &Manager{
		rooms:           make(map[string]*room.Room),
		defaultSettings: defaultSettings,
		prefixSettings:  prefixSettings,
	}
}

// NewDefault creates a Manager with room.DefaultSettings() for every room
// and no prefix overrides.
func NewDefault() *Manager {
	return New(room.DefaultSettings(), nil)
}

func (m *Manager) findSettings(name string) room.Settings {
	for _, entry := range m.prefixSettings {
		if strings.HasPrefix(name, entry.Prefix) {
			return entry.Settings
		}
	}
	return m.defaultSettings
}

// getOrCreate returns the named room, constructing it (empty) under
// findSettings's resolved Settings if it does not yet exist. created
// reports whether this call constructed it.
func (m *Manager) getOrCreate(ctx context.Context, name string) (r *room.Room, created bool) {
	m.mu.RLock()
	r, ok := m.rooms[name]
	m.mu.RUnlock()
	if ok {
		return r, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rooms[name]; ok {
		return r, false
	}
	settings := m.findSettings(name)
	r = room.New(name, settings)
	m.rooms[name] = r
	logging.Info(ctx, "manager: created room", zap.String("room", name), zap.Stringer("protocol_version", settings.ProtocolVersion))
	metrics.ActiveRooms.Inc()
	return r, true
}

// getOrCreateWithData is getOrCreate, except a freshly constructed room is
// seeded from snapshot. If the room already existed, ok is false and
// snapshot is ignored (see ErrRoomAlreadyExists).
func (m *Manager) getOrCreateWithData(ctx context.Context, name string, snapshot []byte) (r *room.Room, ok bool, err error) {
	m.mu.RLock()
	existing, found := m.rooms[name]
	m.mu.RUnlock()
	if found {
		return existing, false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, found := m.rooms[name]; found {
		return existing, false, nil
	}
	settings := m.findSettings(name)
	r, err = room.NewFromSnapshot(name, settings, snapshot)
	if err != nil {
		return nil, false, err
	}
	m.rooms[name] = r
	logging.Info(ctx, "manager: created room from snapshot", zap.String("room", name), zap.Stringer("protocol_version", settings.ProtocolVersion))
	metrics.ActiveRooms.Inc()
	return r, true, nil
}

// Connect ensures room exists (constructing it empty if needed) and
// registers connID with it.
func (m *Manager) Connect(ctx context.Context, name string, connID room.ConnID, opts room.ClientOptions) room.Message {
	r, _ := m.getOrCreate(ctx, name)
	return r.Connect(ctx, connID, opts)
}

// ConnectWithData ensures room exists, seeding it from snapshot if this
// call is the one that constructs it, then registers connID. If the room
// already existed, the snapshot is ignored and ErrRoomAlreadyExists is
// returned alongside a normal Connect result - callers may treat this as
// informational and proceed with the room as-is.
func (m *Manager) ConnectWithData(ctx context.Context, name string, connID room.ConnID, snapshot []byte, opts room.ClientOptions) (room.Message, error) {
	r, created, err := m.getOrCreateWithData(ctx, name, snapshot)
	if err != nil {
		return room.Message{}, fmt.Errorf("manager: seeding room %q: %w", name, err)
	}
	msg := r.Connect(ctx, connID, opts)
	if !created {
		return msg, ErrRoomAlreadyExists
	}
	return msg, nil
}

// HandleMessage ensures room exists (constructing it empty if needed) and
// processes frame against it.
func (m *Manager) HandleMessage(ctx context.Context, name string, connID room.ConnID, frame []byte, opts room.ClientOptions) room.Message {
	r, _ := m.getOrCreate(ctx, name)
	return r.HandleMessage(ctx, connID, frame, opts)
}

// Disconnect removes connID's awareness entries from room, if it exists.
// A disconnect against a room that was never created is a no-op (there is
// nothing to clean up and nothing is constructed on its behalf).
func (m *Manager) Disconnect(ctx context.Context, name string, connID room.ConnID, opts room.ClientOptions) room.Message {
	m.mu.RLock()
	r, ok := m.rooms[name]
	m.mu.RUnlock()
	if !ok {
		return room.Message{}
	}
	broadcast := r.Disconnect(ctx, connID, opts)
	return room.Message{BroadcastPayloads: broadcast}
}

// HasRoom reports whether name has been constructed.
func (m *Manager) HasRoom(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.rooms[name]
	return ok
}

// IsRoomAlive reports whether name exists and has at least one registered
// connection. A non-existent room is never alive.
func (m *Manager) IsRoomAlive(name string) bool {
	m.mu.RLock()
	r, ok := m.rooms[name]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	return r.IsAlive()
}

// ListRooms returns every currently-constructed room name, in no
// particular order - callers that need a stable order should sort it
// themselves.
func (m *Manager) ListRooms() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.rooms))
	for name := range m.rooms {
		names = append(names, name)
	}
	return names
}

// SerializeRoom returns room's full-state update, or (nil, false) if room
// does not exist.
func (m *Manager) SerializeRoom(name string) ([]byte, bool, error) {
	m.mu.RLock()
	r, ok := m.rooms[name]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	data, err := r.Serialize()
	if err != nil {
		return nil, true, err
	}
	return data, true, nil
}

// RemoveRoom destroys room's entry. It is not an error to remove a room
// that does not exist or still has connections registered - the caller is
// responsible for deciding when a room's lifetime ends.
func (m *Manager) RemoveRoom(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[name]; ok {
		delete(m.rooms, name)
		metrics.ActiveRooms.Dec()
	}
}

func (m *Manager) lookup(name string) (*room.Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[name]
	return r, ok
}

// ExportMap returns the named map view's JSON-like snapshot, or (Value{},
// false) if room does not exist.
func (m *Manager) ExportMap(name, view string) (crdt.Value, bool) {
	r, ok := m.lookup(name)
	if !ok {
		return crdt.Value{}, false
	}
	return r.ExportMap(view), true
}

// ExportArray returns the named array view's JSON-like snapshot.
func (m *Manager) ExportArray(name, view string) (crdt.Value, bool) {
	r, ok := m.lookup(name)
	if !ok {
		return crdt.Value{}, false
	}
	return r.ExportArray(view), true
}

// ExportText returns the named text view's current string contents.
func (m *Manager) ExportText(name, view string) (string, bool) {
	r, ok := m.lookup(name)
	if !ok {
		return "", false
	}
	return r.ExportText(view), true
}

// ExportXMLElement returns the named xml element's snapshot.
func (m *Manager) ExportXMLElement(name, view string) (crdt.Value, bool) {
	r, ok := m.lookup(name)
	if !ok {
		return crdt.Value{}, false
	}
	return r.ExportXMLElement(view), true
}

// ExportXMLText returns the named xml text facade's current contents.
func (m *Manager) ExportXMLText(name, view string) (string, bool) {
	r, ok := m.lookup(name)
	if !ok {
		return "", false
	}
	return r.ExportXMLText(view), true
}

// ExportXMLFragment returns the named xml fragment's ordered children.
func (m *Manager) ExportXMLFragment(name, view string) (crdt.Value, bool) {
	r, ok := m.lookup(name)
	if !ok {
		return crdt.Value{}, false
	}
	return r.ExportXMLFragment(view), true
}
