package replication

import (
	"slices"

	"github.com/google/uuid"
)

type ConnectionID string

func newConnectionID() ConnectionID {
	return ConnectionID(uuid.NewString())
}

// Connection is the stable identity of one remote peer. It outlives any
// single transport channel so references held in approval lists stay valid
// across reconnects.
type Connection struct {
	id        ConnectionID
	authToken string
	connected bool
}

func (c *Connection) ID() ConnectionID { return c.id }

func (c *Connection) AuthToken() string { return c.authToken }

// Connected reports whether a live channel is attached.
func (c *Connection) Connected() bool { return c.connected }

func (c *Connection) String() string {
	if c.authToken != "" {
		return string(c.id) + "(" + c.authToken + ")"
	}
	return string(c.id)
}

// roster is the live connection set and the connectionId -> Host table.
type roster struct {
	live    []*Connection
	hosts   map[ConnectionID]*Host
	byToken map[string]*Connection

	// Changes since the last send pass.
	added   int
	removed int
	resync  []*Connection
}

func newRoster() *roster {
	return &roster{
		hosts:   make(map[ConnectionID]*Host),
		byToken: make(map[string]*Connection),
	}
}

func (r *roster) add(c *Connection, h *Host) {
	r.live = append(r.live, c)
	r.hosts[c.id] = h
	if c.authToken != "" {
		r.byToken[c.authToken] = c
	}
	r.added++
}

func (r *roster) remove(c *Connection) (*Host, bool) {
	h, ok := r.hosts[c.id]
	if !ok {
		return nil, false
	}
	delete(r.hosts, c.id)
	if r.byToken[c.authToken] == c {
		delete(r.byToken, c.authToken)
	}
	r.live = slices.DeleteFunc(r.live, func(o *Connection) bool { return o == c })
	r.resync = slices.DeleteFunc(r.resync, func(o *Connection) bool { return o == c })
	r.removed++
	return h, true
}

func (r *roster) host(c *Connection) *Host {
	if c == nil {
		return nil
	}
	return r.hosts[c.id]
}

func (r *roster) contains(c *Connection) bool {
	_, ok := r.hosts[c.id]
	return ok
}

func (r *roster) changed() bool { return r.added > 0 || r.removed > 0 }

func (r *roster) settle() {
	r.added, r.removed = 0, 0
	r.resync = r.resync[:0]
}
