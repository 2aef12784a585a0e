package models

import "time"

// SessionStatus tracks where a session is in its lifecycle.
// created → running → exited | terminated.
type SessionStatus string

const (
	StatusCreated    SessionStatus = "created"
	StatusRunning    SessionStatus = "running"
	StatusExited     SessionStatus = "exited"
	StatusTerminated SessionStatus = "terminated"
)

// Terminal reports whether the status is a final one.
func (s SessionStatus) Terminal() bool {
	return s == StatusExited || s == StatusTerminated
}

// Session is the registry's record of one PTY-backed AI session. The PTY
// handle, history ring and client set live in the registry; this struct
// holds only the descriptive fields.
type Session struct {
	ID           string
	WorkingDir   string
	AICommand    string
	Status       SessionStatus
	CreatedAt    time.Time
	LastActivity time.Time
}

// SessionInfo is the JSON projection served over HTTP. Timestamps are
// millisecond epoch values.
type SessionInfo struct {
	ID           string        `json:"id"`
	WorkingDir   string        `json:"workingDir"`
	AICommand    string        `json:"aiCommand"`
	Status       SessionStatus `json:"status"`
	CreatedAt    int64         `json:"createdAt"`
	LastActivity int64         `json:"lastActivity"`
}

// Info converts the record to its wire projection.
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		ID:           s.ID,
		WorkingDir:   s.WorkingDir,
		AICommand:    s.AICommand,
		Status:       s.Status,
		CreatedAt:    s.CreatedAt.UnixMilli(),
		LastActivity: s.LastActivity.UnixMilli(),
	}
}
