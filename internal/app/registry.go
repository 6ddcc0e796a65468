package app

import "sync"

type connBinding struct {
	Code string
	Name string
}

// ConnectionRegistry maps transport connection IDs to session membership in
// both directions. It is purely in-memory: connections do not survive a
// process restart, so neither does the registry.
type ConnectionRegistry struct {
	mu     sync.RWMutex
	conns  map[string]connBinding
	byCode map[string]map[string]string // code -> connID -> participant name
}

func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		conns:  make(map[string]connBinding),
		byCode: make(map[string]map[string]string),
	}
}

func (r *ConnectionRegistry) Register(connID, code, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[connID] = connBinding{Code: code, Name: name}
	room, ok := r.byCode[code]
	if !ok {
		room = make(map[string]string)
		r.byCode[code] = room
	}
	room[connID] = name
}

// Lookup resolves a connection ID to its session code and participant name.
func (r *ConnectionRegistry) Lookup(connID string) (code, name string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.conns[connID]
	return b.Code, b.Name, ok
}

// Unregister removes the mapping. Unknown IDs are a no-op; disconnect races
// are expected.
func (r *ConnectionRegistry) Unregister(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.conns[connID]
	if !ok {
		return
	}
	delete(r.conns, connID)
	if room, ok := r.byCode[b.Code]; ok {
		delete(room, connID)
		if len(room) == 0 {
			delete(r.byCode, b.Code)
		}
	}
}

// ConnFor returns the connection ID currently bound to a name within a code.
func (r *ConnectionRegistry) ConnFor(code, name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, n := range r.byCode[code] {
		if n == name {
			return id, true
		}
	}
	return "", false
}

// ConnectionsFor returns the connection IDs registered under a code.
func (r *ConnectionRegistry) ConnectionsFor(code string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room := r.byCode[code]
	ids := make([]string, 0, len(room))
	for id := range room {
		ids = append(ids, id)
	}
	return ids
}
