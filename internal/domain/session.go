package domain

import "time"

// SessionState is the lifecycle state of the compute session.
type SessionState string

// Session states.
const (
	SessionClosed  SessionState = "closed"
	SessionOpening SessionState = "opening"
	SessionOpen    SessionState = "open"
	SessionFailed  SessionState = "failed"
)

// Session is the process-scoped state shared by every request: an
// initialized remote backend and the loaded study area. It is immutable
// once published; a reload publishes a new Session.
type Session struct {
	Area     *StudyArea
	OpenedAt time.Time
}
