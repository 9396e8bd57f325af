package core

// room is the broadcast group for one conversation. Members keep join order.
type room struct {
	order   []string
	members map[string]struct{}
}

func newRoom() *room {
	return &room{members: make(map[string]struct{})}
}

func (r *room) add(connID string) bool {
	if _, exists := r.members[connID]; exists {
		return false
	}
	r.members[connID] = struct{}{}
	r.order = append(r.order, connID)
	return true
}

func (r *room) remove(connID string) bool {
	if _, exists := r.members[connID]; !exists {
		return false
	}
	delete(r.members, connID)
	for i, id := range r.order {
		if id == connID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

func (r *room) empty() bool {
	return len(r.members) == 0
}

// Rooms tracks which connections joined which conversation rooms. Join and Leave
// are idempotent. Empty rooms are dropped. Like Presence, Rooms is owned by the
// hub goroutine.
type Rooms struct {
	rooms  map[string]*room
	byConn map[string]map[string]struct{}
}

// NewRooms returns an empty membership table.
func NewRooms() *Rooms {
	return &Rooms{
		rooms:  make(map[string]*room),
		byConn: make(map[string]map[string]struct{}),
	}
}

// Join adds connID to the conversation room. Returns false if it was already a member.
func (rs *Rooms) Join(connID, conversationID string) bool {
	r, ok := rs.rooms[conversationID]
	if !ok {
		r = newRoom()
		rs.rooms[conversationID] = r
	}
	if !r.add(connID) {
		return false
	}
	joined, ok := rs.byConn[connID]
	if !ok {
		joined = make(map[string]struct{})
		rs.byConn[connID] = joined
	}
	joined[conversationID] = struct{}{}
	return true
}

// Leave removes connID from the conversation room. Returns false if it was not a member.
func (rs *Rooms) Leave(connID, conversationID string) bool {
	r, ok := rs.rooms[conversationID]
	if !ok || !r.remove(connID) {
		return false
	}
	if r.empty() {
		delete(rs.rooms, conversationID)
	}
	if joined, ok := rs.byConn[connID]; ok {
		delete(joined, conversationID)
		if len(joined) == 0 {
			delete(rs.byConn, connID)
		}
	}
	return true
}

// LeaveAll removes connID from every room and returns the rooms it left.
func (rs *Rooms) LeaveAll(connID string) []string {
	joined := rs.byConn[connID]
	left := make([]string, 0, len(joined))
	for conversationID := range joined {
		left = append(left, conversationID)
	}
	for _, conversationID := range left {
		rs.Leave(connID, conversationID)
	}
	return left
}

// Members returns the connections joined to a conversation room, in join order.
func (rs *Rooms) Members(conversationID string) []string {
	r, ok := rs.rooms[conversationID]
	if !ok {
		return nil
	}
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// IsMember reports whether connID joined the conversation room.
func (rs *Rooms) IsMember(connID, conversationID string) bool {
	_, ok := rs.byConn[connID][conversationID]
	return ok
}

// RoomsOf returns the number of rooms connID belongs to.
func (rs *Rooms) RoomsOf(connID string) int {
	return len(rs.byConn[connID])
}

// Len returns the number of non-empty rooms.
func (rs *Rooms) Len() int {
	return len(rs.rooms)
}
