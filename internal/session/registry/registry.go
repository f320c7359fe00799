// Package registry tracks live coding sessions in memory. It exists to make
// the start race impossible: a slot is reserved synchronously before any slow
// work (workspace creation, process spawn) begins, so a second concurrent
// start for the same identifier observes the reservation and fails.
package registry

import (
	"errors"
	"hash/fnv"
	"sync"
)

// Common errors
var (
	ErrSessionActive   = errors.New("session already active")
	ErrNoActiveSession = errors.New("no active session")
)

// Phase is the in-memory lifecycle phase of a live session.
type Phase string

const (
	PhaseStarting  Phase = "starting" // reserved, process not yet live
	PhaseRunning   Phase = "running"
	PhaseWaiting   Phase = "waiting_for_input"
	PhaseCompleted Phase = "completed"
	PhaseError     Phase = "error"
)

// ProcessHandle is the minimal control surface of a running agent process.
type ProcessHandle interface {
	// Send delivers a user message to the running process.
	Send(message string) error
	// CloseInput closes the process's input stream for a graceful finish.
	CloseInput() error
	// Kill terminates the process immediately.
	Kill() error
}

// Session is the in-memory handle for one live coding session.
type Session struct {
	ID string

	mu    sync.Mutex
	phase Phase
	proc  ProcessHandle
}

// Phase returns the session's current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// SetPhase updates the session's phase.
func (s *Session) SetPhase(p Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = p
}

// Process returns the attached process handle, or nil for a placeholder.
func (s *Session) Process() ProcessHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc
}

// attach wires the live process handle into the reserved session.
func (s *Session) attach(proc ProcessHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proc = proc
	s.phase = PhaseRunning
}

const shardCount = 16

type shard struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// Registry is a process-wide map from session identifier to live session
// handle, lock-striped by identifier hash. Construct one per service and
// inject it; tests build isolated registries.
type Registry struct {
	shards [shardCount]*shard
}

// New creates an empty registry.
func New() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = &shard{sessions: make(map[string]*Session)}
	}
	return r
}

func (r *Registry) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return r.shards[h.Sum32()%shardCount]
}

// Reserve inserts a placeholder handle for the identifier. It is synchronous
// and performs no I/O; the second of two concurrent starts fails here with
// ErrSessionActive.
func (r *Registry) Reserve(id string) (*Session, error) {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[id]; exists {
		return nil, ErrSessionActive
	}

	sess := &Session{ID: id, phase: PhaseStarting}
	s.sessions[id] = sess
	return sess, nil
}

// Commit attaches the live process handle to a previously reserved slot.
func (r *Registry) Commit(id string, proc ProcessHandle) error {
	s := r.shardFor(id)
	s.mu.RLock()
	sess, exists := s.sessions[id]
	s.mu.RUnlock()

	if !exists {
		return ErrNoActiveSession
	}
	sess.attach(proc)
	return nil
}

// Get returns the session handle for an identifier.
func (r *Registry) Get(id string) (*Session, bool) {
	s := r.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, exists := s.sessions[id]
	return sess, exists
}

// Remove deletes the session handle. Removing a missing identifier is a no-op.
func (r *Registry) Remove(id string) {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Len returns the number of live sessions across all shards.
func (r *Registry) Len() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.sessions)
		s.mu.RUnlock()
	}
	return n
}

// IDs returns the identifiers of all live sessions.
func (r *Registry) IDs() []string {
	var ids []string
	for _, s := range r.shards {
		s.mu.RLock()
		for id := range s.sessions {
			ids = append(ids, id)
		}
		s.mu.RUnlock()
	}
	return ids
}
