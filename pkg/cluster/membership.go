// Package cluster tracks which of a run's partitions currently have a
// worker registered, active, or joined-and-removed — the controller's
// roster (§4.10). Adapted from a raft node membership manager: a worker's
// lifecycle (registered at spawn, active once seeded, removed once its
// Run loop joins) maps onto the same Joining/Active/Removed states a raft
// cluster member moves through, so the bookkeeping carries over unchanged
// even though there is no voting or quorum concept for a partition.
package cluster

import (
	"fmt"
	"sync"
)

// Member is one partition's roster entry. Address is unused by the
// controller (workers communicate through pkg/broker, not a dialable
// address) but is kept so a future remote-worker transport has somewhere
// to put one.
type Member struct {
	ID      string
	Address string
	State   MemberState
}

// MemberState is a partition's position in the controller's roster.
type MemberState int

const (
	MemberStateJoining MemberState = iota
	MemberStateActive
	MemberStateRemoved
)

// Manager is the controller's partition roster, one entry per partition id
// (as a string). Safe for concurrent use: the controller mutates it from
// its own goroutine at spawn/activate time and from each worker's goroutine
// at join time.
type Manager struct {
	mu      sync.RWMutex
	members map[string]*Member
}

// NewManager creates an empty roster.
func NewManager() *Manager {
	return &Manager{members: make(map[string]*Member)}
}

// AddMember registers a partition at worker-construction time, in the
// Joining state.
func (m *Manager) AddMember(id, address string, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.members[id]; exists {
		return fmt.Errorf("partition %s already registered", id)
	}
	m.members[id] = &Member{ID: id, Address: address, State: MemberStateJoining}
	return nil
}

// ActivateMember moves a partition to Active once its worker has been
// seeded and is about to start stepping (the controller's startup
// barrier, §4.10).
func (m *Manager) ActivateMember(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	member, exists := m.members[id]
	if !exists {
		return fmt.Errorf("partition %s does not exist", id)
	}
	member.State = MemberStateActive
	return nil
}

// RemoveMember drops a partition from the roster once its worker's Run
// loop has returned (the controller's shutdown barrier, §4.10).
func (m *Manager) RemoveMember(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.members[id]; !exists {
		return fmt.Errorf("partition %s does not exist", id)
	}
	delete(m.members, id)
	return nil
}

// GetMember returns a roster entry by id.
func (m *Manager) GetMember(id string) (*Member, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	member, ok := m.members[id]
	if !ok {
		return nil, false
	}
	cp := *member
	return &cp, true
}

// Count returns the number of partitions currently on the roster.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.members)
}
