package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/wricardo/relaychat/chat/protocol"
)

var (
	ErrEmptyDisplayName = errors.New("display name is empty")
	ErrNilConnection    = errors.New("connection is nil")
)

// Conn is a live connection handle owned by the transport layer.
type Conn interface {
	// ID is unique among open connections.
	ID() string
	// Deliver enqueues env for the connection without blocking.
	Deliver(env protocol.Envelope) error
}

// Participant associates a display name with the connection that joined under it.
type Participant struct {
	DisplayName string
	Conn        Conn
	JoinedAt    time.Time
	seq         uint64
}

// Registry tracks which display name owns which live connection.
type Registry struct {
	byName map[string]*Participant
	byConn map[string]string
	seq    uint64
	now    func() time.Time
	mu     sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*Participant),
		byConn: make(map[string]string),
		now:    time.Now,
	}
}

// Join registers conn under displayName, replacing whatever connection held
// the name before. If conn was already registered under another name, that
// name is released and returned as previous.
func (r *Registry) Join(displayName string, conn Conn) (previous string, err error) {
	if displayName == "" {
		return "", ErrEmptyDisplayName
	}
	if conn == nil {
		return "", ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if held, ok := r.byConn[conn.ID()]; ok && held != displayName {
		delete(r.byName, held)
		previous = held
	}

	// Last join wins: the evicted connection stays open but unregistered.
	if existing, ok := r.byName[displayName]; ok && existing.Conn.ID() != conn.ID() {
		delete(r.byConn, existing.Conn.ID())
	}

	r.seq++
	r.byName[displayName] = &Participant{
		DisplayName: displayName,
		Conn:        conn,
		JoinedAt:    r.now(),
		seq:         r.seq,
	}
	r.byConn[conn.ID()] = displayName

	return previous, nil
}

// Leave removes the participant registered for conn and returns the freed name.
func (r *Registry) Leave(conn Conn) (string, bool) {
	if conn == nil {
		return "", false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	name, ok := r.byConn[conn.ID()]
	if !ok {
		return "", false
	}
	delete(r.byConn, conn.ID())
	delete(r.byName, name)
	return name, true
}

// NameOf returns the display name registered for conn.
func (r *Registry) NameOf(conn Conn) (string, bool) {
	if conn == nil {
		return "", false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.byConn[conn.ID()]
	return name, ok
}

// ListNames returns the registered display names in join order.
func (r *Registry) ListNames() []string {
	return lo.Map(r.Participants(), func(p Participant, _ int) string {
		return p.DisplayName
	})
}

// Participants returns a snapshot of all participants in join order.
func (r *Registry) Participants() []Participant {
	r.mu.RLock()
	result := make([]Participant, 0, len(r.byName))
	for _, p := range r.byName {
		result = append(result, *p)
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].seq < result[j].seq
	})
	return result
}

// Count returns the number of registered participants.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}
