// Package presence tracks which users currently hold at least one live
// connection and announces the online set whenever a user comes online or
// goes offline.
package presence

import (
	"context"
	"sort"
	"sync"

	"github.com/dmitrijs2005/gophchat/internal/logging"
)

// Conn is a live connection handle. Send must not block.
type Conn interface {
	ID() string
	Send(payload []byte) error
}

// Encoder turns an online-user snapshot into the frame broadcast to clients.
type Encoder func(online []string) ([]byte, error)

// Registry maps users to their live connections. It is the only source of
// truth for presence; delivery failures never change it.
type Registry struct {
	mu     sync.RWMutex
	users  map[string]map[string]Conn
	encode Encoder
	logger logging.Logger
}

func NewRegistry(encode Encoder, logger logging.Logger) *Registry {
	return &Registry{
		users:  make(map[string]map[string]Conn),
		encode: encode,
		logger: logger.With("module", "presence"),
	}
}

// Connect adds conn to the user's set and reports whether the user just came
// online. On that transition every connection receives the new online set;
// otherwise only conn does, so a second device still learns who is online.
func (r *Registry) Connect(userID string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.users[userID]
	transition := len(set) == 0
	if set == nil {
		set = make(map[string]Conn)
		r.users[userID] = set
	}
	set[conn.ID()] = conn

	if transition {
		r.broadcastLocked()
	} else {
		r.sendLocked(conn, r.snapshotLocked())
	}
	return transition
}

// Disconnect removes conn and reports whether the user just went offline.
// Removing a handle that is not registered is a no-op.
func (r *Registry) Disconnect(userID string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.users[userID]
	if !ok {
		return false
	}
	if _, ok := set[conn.ID()]; !ok {
		return false
	}
	delete(set, conn.ID())
	if len(set) > 0 {
		return false
	}

	delete(r.users, userID)
	r.broadcastLocked()
	return true
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}

// OnlineUsers returns a sorted snapshot of online user ids.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// Conns returns the live connections of one user.
func (r *Registry) Conns(userID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Conn, 0, len(r.users[userID]))
	for _, c := range r.users[userID] {
		out = append(out, c)
	}
	return out
}

// SendToUser delivers payload to every connection of userID and returns how
// many accepted it.
func (r *Registry) SendToUser(userID string, payload []byte) int {
	delivered := 0
	for _, c := range r.Conns(userID) {
		if err := c.Send(payload); err == nil {
			delivered++
		}
	}
	return delivered
}

func (r *Registry) snapshotLocked() []string {
	out := make([]string, 0, len(r.users))
	for id := range r.users {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) allLocked() []Conn {
	out := make([]Conn, 0)
	for _, set := range r.users {
		for _, c := range set {
			out = append(out, c)
		}
	}
	return out
}

// broadcastLocked runs under the write lock so every connection sees the
// snapshots in transition order.
func (r *Registry) broadcastLocked() {
	payload, err := r.encode(r.snapshotLocked())
	if err != nil {
		r.logger.Error(context.Background(), "encode online users", "error", err)
		return
	}
	for _, c := range r.allLocked() {
		if err := c.Send(payload); err != nil {
			r.logger.Debug(context.Background(), "online users push dropped", "conn_id", c.ID(), "error", err)
		}
	}
}

func (r *Registry) sendLocked(c Conn, online []string) {
	payload, err := r.encode(online)
	if err != nil {
		r.logger.Error(context.Background(), "encode online users", "error", err)
		return
	}
	if err := c.Send(payload); err != nil {
		r.logger.Debug(context.Background(), "online users push dropped", "conn_id", c.ID(), "error", err)
	}
}
