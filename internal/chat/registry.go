package chat

import (
	"sort"
	"sync"
)

// Member es una sesion viva vista desde el registro y el broadcaster.
type Member interface {
	ID() string
	Identity() string
	// Deliver encola el frame sin bloquear; false si no se pudo entregar.
	Deliver(frame Frame) bool
}

// Registry mantiene sala -> miembros. Todas las operaciones son seguras para
// uso concurrente y las lecturas devuelven copias.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[string]map[Member]struct{}
	byMember map[Member]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:    make(map[string]map[Member]struct{}),
		byMember: make(map[Member]map[string]struct{}),
	}
}

// Join agrega m a room. Devuelve false si ya era miembro.
func (r *Registry) Join(room string, m Member) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[Member]struct{})
		r.rooms[room] = members
	}
	if _, exists := members[m]; exists {
		return false
	}
	members[m] = struct{}{}

	rooms, ok := r.byMember[m]
	if !ok {
		rooms = make(map[string]struct{})
		r.byMember[m] = rooms
	}
	rooms[room] = struct{}{}
	return true
}

// Leave quita m de room. Devuelve false si no era miembro.
func (r *Registry) Leave(room string, m Member) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(room, m)
}

// LeaveAll quita m de todas sus salas y devuelve cuales eran.
func (r *Registry) LeaveAll(m Member) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms := sortedKeys(r.byMember[m])
	for _, room := range rooms {
		r.leaveLocked(room, m)
	}
	return rooms
}

func (r *Registry) leaveLocked(room string, m Member) bool {
	members, ok := r.rooms[room]
	if !ok {
		return false
	}
	if _, exists := members[m]; !exists {
		return false
	}
	delete(members, m)
	if len(members) == 0 {
		delete(r.rooms, room)
	}

	if rooms, ok := r.byMember[m]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(r.byMember, m)
		}
	}
	return true
}

// MembersOf devuelve una foto consistente de los miembros de room.
func (r *Registry) MembersOf(room string) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[room]
	out := make([]Member, 0, len(members))
	for m := range members {
		out = append(out, m)
	}
	return out
}

func (r *Registry) IsMember(room string, m Member) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[room][m]
	return ok
}

func (r *Registry) RoomsOf(m Member) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.byMember[m])
}

// Identities devuelve las identidades distintas conectadas a room, ordenadas.
func (r *Registry) Identities(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{}, len(r.rooms[room]))
	for m := range r.rooms[room] {
		seen[m.Identity()] = struct{}{}
	}
	return sortedKeys(seen)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
