package room

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kretes-dev/codearena-backend/internal/engine"
	"github.com/kretes-dev/codearena-backend/internal/protocol"
	"github.com/kretes-dev/codearena-backend/internal/sandbox"
)

// enqueueExecution admits a code-run request. At most one request per room
// runs at a time; the rest wait in FIFO order with a broadcast position so
// collaborators can see the queue forming.
func (r *Room) enqueueExecution(userID string, e protocol.ExecuteCode) {
	req := &engine.ExecutionRequest{
		ID:         uuid.NewString(),
		UserID:     userID,
		RoomID:     r.ID,
		Language:   e.Language,
		Source:     e.Code,
		Input:      e.Input,
		State:      engine.ExecQueued,
		EnqueuedAt: time.Now(),
	}
	if r.running != nil {
		req.Position = len(r.queue) + 1
		r.queue = append(r.queue, req)
		r.broadcast(protocol.ExecutionQueued{
			ExecutionID: req.ID, UserID: userID, Position: req.Position,
		})
		return
	}
	r.startExecution(req)
}

func (r *Room) startExecution(req *engine.ExecutionRequest) {
	req.State = engine.ExecRunning
	req.Position = 0
	r.running = req
	r.broadcast(protocol.ExecutionStarted{ExecutionID: req.ID, UserID: req.UserID})

	// The sandbox call carries its own hard timeout, so this goroutine
	// cannot wedge the queue indefinitely.
	go func() {
		res, err := r.runner.Execute(r.ctx, sandbox.Request{
			Language: req.Language, Source: req.Source, Input: req.Input,
		})
		r.Post(execDone{id: req.ID, result: res, err: err})
	}()
}

func (r *Room) handleExecDone(m execDone) {
	if r.running == nil || r.running.ID != m.id {
		return
	}
	req := r.running
	r.running = nil

	if m.err != nil {
		req.State = engine.ExecFailed
		r.countExec(req.State)
		r.log.Warn("execution failed",
			zap.String("execution", req.ID), zap.Error(m.err))
		// All participants observe each other's runs, failures included.
		r.broadcast(protocol.ExecutionFailed{
			ExecutionID: req.ID, UserID: req.UserID, Error: m.err.Error(),
		})
	} else {
		req.State = engine.ExecCompleted
		r.countExec(req.State)
		r.broadcast(protocol.ExecutionCompleted{
			ExecutionID: req.ID,
			UserID:      req.UserID,
			Stdout:      m.result.Stdout,
			Stderr:      m.result.Stderr,
			ExitCode:    m.result.ExitCode,
			DurationMs:  m.result.Duration.Milliseconds(),
		})
	}

	if len(r.queue) > 0 {
		next := r.queue[0]
		r.queue = r.queue[1:]
		for i, waiting := range r.queue {
			waiting.Position = i + 1
		}
		r.startExecution(next)
	}
}
