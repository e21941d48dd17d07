package events

import "time"

// RequestStart is emitted when the HTTP transport accepts a request, before
// the procedure kind is known.
type RequestStart struct {
	RequestID string
	Method    string
	Path      string
}

// RequestFinish is emitted once the response is written. Streamed requests
// finish when the event stream ends.
type RequestFinish struct {
	RequestID string
	Method    string
	Path      string
	Status    int
	Streamed  bool
	Duration  time.Duration
}
