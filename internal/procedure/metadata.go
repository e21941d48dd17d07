package procedure

import "google.golang.org/grpc/metadata"

// Metadata describes the request being executed. It is passed by value to
// every layer and must be treated as read-only; Header in particular is shared
// by all layers of one request.
type Metadata struct {
	// Kind and Key identify the procedure. The registry fills both before
	// invoking the procedure's layer.
	Kind Kind
	Key  string
	// RequestID is the transport-assigned request identifier, if any.
	RequestID string
	// Header carries transport headers forwarded into the pipeline, with
	// lower-cased keys.
	Header metadata.MD
}

// HeaderValue returns the first value of the named header, or "".
func (m Metadata) HeaderValue(name string) string {
	if v := m.Header.Get(name); len(v) > 0 {
		return v[0]
	}
	return ""
}
