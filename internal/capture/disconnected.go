package capture

import "sync"

type sessionList struct {
	mu    sync.Mutex
	ids   []SessionID
	taken bool
}

// DisconnectedRegistry remembers, per lobby, the sessions that closed while
// the lobby's match was in progress. Lists keep disconnect order and are not
// deduplicated.
type DisconnectedRegistry struct {
	lobbies sync.Map // LobbyID -> *sessionList
}

// NewDisconnectedRegistry creates an empty registry.
func NewDisconnectedRegistry() *DisconnectedRegistry {
	return &DisconnectedRegistry{}
}

// RecordDisconnect appends session to the lobby's list. A nil lobby means the
// session was not in a running match and the call does nothing.
func (d *DisconnectedRegistry) RecordDisconnect(lobby *LobbyID, session SessionID) {
	if lobby == nil {
		return
	}
	for {
		v, _ := d.lobbies.LoadOrStore(*lobby, &sessionList{})
		l := v.(*sessionList)

		l.mu.Lock()
		if !l.taken {
			l.ids = append(l.ids, session)
			l.mu.Unlock()
			return
		}
		l.mu.Unlock()
		d.lobbies.CompareAndDelete(*lobby, l)
	}
}

// Take returns the lobby's list in disconnect order and forgets it.
func (d *DisconnectedRegistry) Take(lobby LobbyID) []SessionID {
	v, ok := d.lobbies.LoadAndDelete(lobby)
	if !ok {
		return []SessionID{}
	}
	l := v.(*sessionList)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.taken = true
	out := make([]SessionID, len(l.ids))
	copy(out, l.ids)
	return out
}

// Peek returns a copy of the lobby's list without removing it.
func (d *DisconnectedRegistry) Peek(lobby LobbyID) []SessionID {
	v, ok := d.lobbies.Load(lobby)
	if !ok {
		return []SessionID{}
	}
	l := v.(*sessionList)

	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]SessionID, len(l.ids))
	copy(out, l.ids)
	return out
}

// Lobbies returns the number of lobbies with pending disconnects.
func (d *DisconnectedRegistry) Lobbies() int {
	n := 0
	d.lobbies.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
