package engine

import "time"

type ExecState string

const (
	ExecQueued    ExecState = "queued"
	ExecRunning   ExecState = "running"
	ExecCompleted ExecState = "completed"
	ExecFailed    ExecState = "failed"
)

// ExecutionRequest is a transient code-run request scoped to one room. The
// room loop owns the queue; at most one request per room is ever running.
type ExecutionRequest struct {
	ID       string
	UserID   string
	RoomID   string
	Language string
	Source   string
	Input    string
	Position int
	State    ExecState

	// RequesterAbsent marks requests whose submitter disconnected while
	// the request was still pending. They run anyway; the room may still
	// want the result.
	RequesterAbsent bool

	EnqueuedAt time.Time
}
