package session

import "errors"

// Sentinel errors returned by session and manager operations. The gateway
// maps these onto wire reason codes; everything else surfaces as an
// internal error.
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionFull      = errors.New("session is full")
	ErrInvalidState     = errors.New("operation not valid in the session's current state")
	ErrAlreadyInSession = errors.New("player is already in a session")
	ErrNotInSession     = errors.New("player is not a member of this session")
	ErrNotConnected     = errors.New("player is not connected")
	ErrReconnectExpired = errors.New("reconnect deadline has passed")
	ErrBudgetExhausted  = errors.New("round action budget exhausted")
	ErrDeadActor        = errors.New("player entity is not alive")
	ErrInvalidAction    = errors.New("action rejected")
)
