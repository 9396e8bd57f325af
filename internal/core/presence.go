package core

import "sort"

// Presence maps each online user to the one connection on record for them.
// The last connection to announce wins; a disconnect only clears the entry if it
// comes from the connection on record. Presence is not safe for concurrent use:
// it is owned by the hub goroutine.
type Presence struct {
	byUser map[string]string
	byConn map[string]string
}

// NewPresence returns an empty registry.
func NewPresence() *Presence {
	return &Presence{
		byUser: make(map[string]string),
		byConn: make(map[string]string),
	}
}

// MarkOnline records connID as the active connection for userID.
// replaced is the connection that previously held the entry, if any.
func (p *Presence) MarkOnline(userID, connID string) (replaced string) {
	if owner, ok := p.byConn[connID]; ok && owner != userID {
		delete(p.byUser, owner)
	}
	if prev, ok := p.byUser[userID]; ok && prev != connID {
		delete(p.byConn, prev)
		replaced = prev
	}
	p.byUser[userID] = connID
	p.byConn[connID] = userID
	return replaced
}

// MarkOffline removes the entry owned by connID. ok is false when connID is not
// the connection on record for any user (a stale disconnect).
func (p *Presence) MarkOffline(connID string) (userID string, ok bool) {
	userID, ok = p.byConn[connID]
	if !ok {
		return "", false
	}
	delete(p.byConn, connID)
	if p.byUser[userID] == connID {
		delete(p.byUser, userID)
	}
	return userID, true
}

// IsOnline reports whether userID has a connection on record.
func (p *Presence) IsOnline(userID string) bool {
	_, ok := p.byUser[userID]
	return ok
}

// ConnectionOf returns the connection on record for userID.
func (p *Presence) ConnectionOf(userID string) (string, bool) {
	connID, ok := p.byUser[userID]
	return connID, ok
}

// Online returns the online user ids in sorted order.
func (p *Presence) Online() []string {
	users := make([]string, 0, len(p.byUser))
	for u := range p.byUser {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

// Len returns the number of online users.
func (p *Presence) Len() int {
	return len(p.byUser)
}
