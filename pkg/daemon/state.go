package daemon

import (
	"sync"
	"time"
)

// DaemonState represents the current operational state of the daemon.
type DaemonState struct {
	mu sync.RWMutex

	// StartTime is when the daemon was started
	StartTime time.Time

	// Status is the current daemon status
	Status DaemonStatus

	// LastError is the most recent error encountered (if any)
	LastError error

	// LastErrorTime is when the last error occurred
	LastErrorTime time.Time
}

// DaemonStatus represents the possible daemon states.
type DaemonStatus string

const (
	// StatusStarting indicates the daemon is initializing
	StatusStarting DaemonStatus = "starting"

	// StatusRunning indicates the daemon is fully operational
	StatusRunning DaemonStatus = "running"

	// StatusStopping indicates the daemon is shutting down
	StatusStopping DaemonStatus = "stopping"

	// StatusStopped indicates the daemon has stopped
	StatusStopped DaemonStatus = "stopped"

	// StatusError indicates the daemon encountered a fatal error
	StatusError DaemonStatus = "error"
)

// NewDaemonState creates a new DaemonState with initial values.
func NewDaemonState() *DaemonState {
	return &DaemonState{
		StartTime: time.Now(),
		Status:    StatusStarting,
	}
}

// SetStatus updates the daemon status.
func (s *DaemonState) SetStatus(status DaemonStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = status
}

// GetStatus returns the current daemon status.
func (s *DaemonState) GetStatus() DaemonStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Status
}

// SetError records an error.
func (s *DaemonState) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastError = err
	s.LastErrorTime = time.Now()
}

// DaemonStateSnapshot is a read-only copy of DaemonState.
type DaemonStateSnapshot struct {
	Status        DaemonStatus
	Uptime        time.Duration
	LastError     string
	LastErrorTime time.Time
}

// Snapshot returns a copy of the current state.
func (s *DaemonState) Snapshot() DaemonStateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := DaemonStateSnapshot{
		Status:        s.Status,
		Uptime:        time.Since(s.StartTime),
		LastErrorTime: s.LastErrorTime,
	}
	if s.LastError != nil {
		snap.LastError = s.LastError.Error()
	}
	return snap
}
