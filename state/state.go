// Package state holds the process-wide shared state of the daemon: the
// registry of connected sessions, the latest load snapshot, the transfer
// admission counter, the broadcast hub, and the pending-offload routing
// table. A single sync.RWMutex guards all of it; read-only paths (listing
// capabilities, reading the load snapshot) take a shared lock, mutations
// take an exclusive one. No lock is ever held across backend I/O — callers
// read what they need under lock, release it, then call out.
package state

import (
	"fmt"
	"sync"
	"time"

	"github.com/firasghr/pibox-server/auth"
	"github.com/firasghr/pibox-server/backend"
	"github.com/firasghr/pibox-server/offload"
)

// Session is a per-connection record. Capabilities is mutated only via
// UpdateCapabilities; every other field is set once at registration.
type Session struct {
	ID           string
	Username     string
	Capabilities offload.Capabilities
	subscription *Subscription
}

// Load is the most recent resource snapshot published by the load probe.
type Load struct {
	CPUPercent float64
	RAMFreeMB  int
	IOBusy     bool
	Hints      []string
}

// PendingOffload tracks one in-flight offload dispatch: the task-id that
// was handed to the offloadee, who should receive the result, and when it
// was issued so stale entries can be pruned.
type PendingOffload struct {
	RequesterID string
	OffloadeeID string
	IssuedAt    time.Time
}

// defaultOffloadTimeout bounds how long a dispatched offload stays
// routable. A result or lookup after this window is treated as unknown.
const defaultOffloadTimeout = 60 * time.Second

// State is the daemon's single shared-state object.
type State struct {
	mu sync.RWMutex

	authority *auth.Authority
	backend   *backend.Client
	hub       *Hub

	sessions map[string]*Session

	load Load

	transferCount int
	transferMax   int

	pendingOffloads map[string]PendingOffload
	offloadTimeout  time.Duration
}

// New constructs a State with the given authority, backend client, and
// maximum concurrent transfers (must be ≥1).
func New(authority *auth.Authority, backendClient *backend.Client, maxTransfers int) *State {
	if maxTransfers < 1 {
		maxTransfers = 1
	}
	return &State{
		authority:       authority,
		backend:         backendClient,
		hub:             NewHub(),
		sessions:        make(map[string]*Session),
		transferMax:     maxTransfers,
		pendingOffloads: make(map[string]PendingOffload),
		offloadTimeout:  defaultOffloadTimeout,
	}
}

// Authority returns the Token Authority. Safe to call at any time; the
// pointer never changes after construction.
func (s *State) Authority() *auth.Authority { return s.authority }

// Backend returns the Backend Client. Safe to call at any time; the
// pointer never changes after construction.
func (s *State) Backend() *backend.Client { return s.backend }

// RegisterSession creates a Session for id/username, inserts it, and
// returns its hub subscription. Registering a duplicate id is a
// programmer error since ids are freshly generated by the caller.
func (s *State) RegisterSession(id, username string) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[id]; exists {
		return nil, fmt.Errorf("state: register session: id %q already registered", id)
	}
	sub := s.hub.Subscribe()
	s.sessions[id] = &Session{ID: id, Username: username, subscription: sub}
	return sub, nil
}

// UnregisterSession removes the session and closes its subscription. A
// no-op if id is not registered.
func (s *State) UnregisterSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return
	}
	delete(s.sessions, id)
	for taskID, p := range s.pendingOffloads {
		if p.RequesterID == id || p.OffloadeeID == id {
			delete(s.pendingOffloads, taskID)
		}
	}
	if sess.subscription != nil {
		sess.subscription.Close()
	}
}

// UpdateCapabilities overwrites the capability snapshot for id. A no-op
// if id is unknown.
func (s *State) UpdateCapabilities(id string, caps offload.Capabilities) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return
	}
	sess.Capabilities = caps
}

// StartTransfer atomically checks the transfer counter against the
// configured maximum and increments it, returning true iff it did. A
// single lock guards both the check and the increment so concurrent
// callers can never overbook the bound.
func (s *State) StartTransfer() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transferCount >= s.transferMax {
		return false
	}
	s.transferCount++
	return true
}

// EndTransfer decrements the transfer counter, floored at 0 so a stray
// extra call can never drive it negative.
func (s *State) EndTransfer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transferCount > 0 {
		s.transferCount--
	}
}

// TransferCount reports the current in-flight transfer count. Diagnostic
// only; callers must not use it to decide admission (use StartTransfer).
func (s *State) TransferCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transferCount
}

// SetLoad overwrites the published load snapshot. Called by the load
// probe on every tick.
func (s *State) SetLoad(l Load) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load = l
}

// Load returns a copy of the most recent load snapshot.
func (s *State) Load() Load {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load
}

// Broadcast enqueues msg to every subscribed session. Never blocks.
func (s *State) Broadcast(msg interface{}) {
	s.hub.Broadcast(msg)
}

// SendToSession delivers msg to exactly one registered session (used for
// offload-result routing, which must reach the original requester and no
// one else). Returns false if id is unknown or the session's queue is
// full.
func (s *State) SendToSession(id string, msg interface{}) bool {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok || sess.subscription == nil {
		return false
	}
	return sess.subscription.Send(msg)
}

// FindOffloadCandidate returns the session-id of any registered session
// whose capabilities satisfy task's requirements, excluding excludeID
// (typically the requester itself).
func (s *State) FindOffloadCandidate(task offload.Task, excludeID string) (string, bool) {
	s.mu.RLock()
	candidates := make([]offload.Candidate, 0, len(s.sessions))
	for id, sess := range s.sessions {
		if id == excludeID {
			continue
		}
		candidates = append(candidates, offload.Candidate{SessionID: id, Capabilities: sess.Capabilities})
	}
	s.mu.RUnlock()
	return offload.FindCandidate(task, candidates)
}

// DispatchOffload records that offloadeeID has been asked to perform task
// on behalf of requesterID, and returns the task-id that offload_result
// must echo back. The entry expires after the configured offload timeout
// if no result arrives.
func (s *State) DispatchOffload(taskID, requesterID, offloadeeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingOffloads[taskID] = PendingOffload{
		RequesterID: requesterID,
		OffloadeeID: offloadeeID,
		IssuedAt:    time.Now(),
	}
}

// ResolveOffload looks up the requester that should receive the result of
// taskID, removing the entry whether or not it was found (a task-id is
// used exactly once). Returns ok=false if the task-id is unknown or its
// entry has expired.
func (s *State) ResolveOffload(taskID string) (requesterID string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, found := s.pendingOffloads[taskID]
	if !found {
		return "", false
	}
	delete(s.pendingOffloads, taskID)
	if time.Since(p.IssuedAt) > s.offloadTimeout {
		return "", false
	}
	return p.RequesterID, true
}

// PrunePendingOffloads removes pending-offload entries older than the
// configured timeout. Intended to be called periodically (e.g. alongside
// the load-probe tick) so abandoned dispatches don't accumulate forever
// even if no one ever looks them up.
func (s *State) PrunePendingOffloads() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for taskID, p := range s.pendingOffloads {
		if now.Sub(p.IssuedAt) > s.offloadTimeout {
			delete(s.pendingOffloads, taskID)
		}
	}
}

// SessionCount reports the number of currently registered sessions.
// Diagnostic only.
func (s *State) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
