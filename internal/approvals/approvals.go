// Package approvals tracks actions a conversation parked for human
// sign-off. The loop terminates when the model requests approval; a human
// resolves the pending request out-of-band through the HTTP surface.
package approvals

import (
	"fmt"
	"sync"
	"time"
)

// Status represents the outcome of an approval request.
type Status int

const (
	StatusPending Status = iota
	StatusApproved
	StatusDenied
)

func (s Status) String() string {
	switch s {
	case StatusApproved:
		return "approved"
	case StatusDenied:
		return "denied"
	default:
		return "pending"
	}
}

// Request is a pending approval for a model-proposed action.
type Request struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	Status    Status    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Manager tracks pending approvals. Safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	pending map[string]*Request
	counter int
}

// New creates an empty Manager.
func New() *Manager {
	return &Manager{pending: make(map[string]*Request)}
}

// Create registers a new pending approval and returns it.
func (m *Manager) Create(action string) *Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counter++
	req := &Request{
		ID:        fmt.Sprintf("approval-%08d", m.counter),
		Action:    action,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
	m.pending[req.ID] = req
	return req
}

// Resolve resolves a pending approval by ID. Returns false when the ID is
// unknown or already resolved.
func (m *Manager) Resolve(id string, approved bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.pending[id]
	if !ok {
		return false
	}
	delete(m.pending, id)
	if approved {
		req.Status = StatusApproved
	} else {
		req.Status = StatusDenied
	}
	return true
}

// Pending returns a snapshot of unresolved requests.
func (m *Manager) Pending() []*Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Request, 0, len(m.pending))
	for _, req := range m.pending {
		out = append(out, req)
	}
	return out
}
