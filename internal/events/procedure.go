package events

import (
	"time"

	"google.golang.org/grpc/codes"
)

// ProcedureStart is emitted by the registry before a procedure's layers run.
// CallID is unique per dispatch and pairs the start event with its finish.
type ProcedureStart struct {
	CallID    uint64
	Kind      string
	Key       string
	RequestID string
}

// ProcedureFinish is emitted once the call has settled: when the layers
// return an error or an immediate value, after a deferred value is awaited,
// or when iteration of a stream stops. Code and Err reflect failures that
// surface late, and Outcome keeps the shape the layers produced.
type ProcedureFinish struct {
	CallID    uint64
	Kind      string
	Key       string
	RequestID string
	Outcome   string
	Code      codes.Code
	Err       error
	Duration  time.Duration
}
