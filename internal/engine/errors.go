package engine

import "errors"

var ErrRoomNotFound = errors.New("room not found")
var ErrRoomClosed = errors.New("room closed")
var ErrVersionMismatch = errors.New("stale client version")
var ErrBadRange = errors.New("diff range out of bounds")
var ErrReconciliation = errors.New("reconciliation failed")
var ErrPermissionDenied = errors.New("permission denied")
var ErrInvalidTransition = errors.New("invalid battle transition")
var ErrBattleNotActive = errors.New("battle not active")
var ErrNotAllReady = errors.New("not all participants ready")
var ErrNotHost = errors.New("only the host may do that")
var ErrExecutionTimeout = errors.New("execution timed out")
var ErrUnknownUser = errors.New("user not in room")
