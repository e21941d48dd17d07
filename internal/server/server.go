package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/cors"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	eventbus "github.com/hanpama/procroute/internal/eventbus"
	events "github.com/hanpama/procroute/internal/events"
	procedure "github.com/hanpama/procroute/internal/procedure"
	reqid "github.com/hanpama/procroute/internal/reqid"
)

// HeaderRequestID carries the request id in both directions.
const HeaderRequestID = "X-Request-Id"

// Dispatcher runs a procedure. *registry.Registry implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, kind procedure.Kind, key string, rc any, arg *structpb.Value, md procedure.Metadata) (procedure.Outcome, error)
}

// ContextFactory builds the request context value handed to procedures.
type ContextFactory func(r *http.Request) (any, error)

// Handler is an http.Handler that exposes registered procedures:
//
//	GET  /{key}?input=<json>                        query
//	POST /{key}            body <json>              mutation
//	GET  /{key}?input=<json> Accept: text/event-stream  subscription
//
// Subscriptions are also selected with ?subscribe=1. Their items are written
// as server-sent events; the handler stops consuming the stream as soon as
// the client goes away.
type Handler struct {
	reg  Dispatcher
	opt  Options
	next http.Handler
}

type Options struct {
	// Timeout sets a default timeout for queries and mutations if the
	// incoming request context has none. 0 means no default timeout.
	// Subscriptions are never bounded by it.
	Timeout time.Duration

	// Pretty enables indented JSON responses (useful for dev).
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// CORS configuration. If AllowedOrigins is empty, CORS is disabled.
	CORS CORSOptions

	// MetadataHeaders lists HTTP headers forwarded into procedure metadata.
	// Header names are case-insensitive. Default is none.
	MetadataHeaders []string

	// ContextFactory builds the request context value. Default: nil rc.
	ContextFactory ContextFactory
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}
func WithMetadataHeaders(headers ...string) Option {
	return func(o *Options) { o.MetadataHeaders = headers }
}
func WithContextFactory(f ContextFactory) Option {
	return func(o *Options) { o.ContextFactory = f }
}

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

// New creates a new procedure HTTP handler dispatching to reg.
func New(reg Dispatcher, opts ...Option) (*Handler, error) {
	if reg == nil {
		return nil, errors.New("server: nil dispatcher")
	}
	op := Options{Timeout: 10 * time.Second}
	for _, f := range opts {
		f(&op)
	}
	h := &Handler{reg: reg, opt: op}
	h.next = http.HandlerFunc(h.serve)
	if len(op.CORS.AllowedOrigins) > 0 {
		h.next = cors.New(cors.Options{
			AllowedOrigins: op.CORS.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"*"},
			ExposedHeaders: []string{HeaderRequestID},
		}).Handler(h.next)
	}
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.next.ServeHTTP(w, r)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var rid string
	if id := r.Header.Get(HeaderRequestID); id != "" && len(id) <= 128 {
		rid = id
		ctx = reqid.WithID(ctx, id)
	} else {
		ctx, rid = reqid.NewContext(ctx)
	}
	w.Header().Set(HeaderRequestID, rid)

	code, streamed := http.StatusOK, false
	start := time.Now()
	eventbus.Publish(ctx, events.RequestStart{RequestID: rid, Method: r.Method, Path: r.URL.Path})
	defer func() {
		eventbus.Publish(ctx, events.RequestFinish{
			RequestID: rid,
			Method:    r.Method,
			Path:      r.URL.Path,
			Status:    code,
			Streamed:  streamed,
			Duration:  time.Since(start),
		})
	}()

	if r.Method == http.MethodOptions {
		code = http.StatusNoContent
		w.WriteHeader(code)
		return
	}

	kind, ok := selectKind(r)
	if !ok {
		code = http.StatusMethodNotAllowed
		h.writeJSON(w, code, errorBody{Error: errorDetail{Code: "MethodNotAllowed", Message: "method not allowed"}})
		return
	}
	key := strings.Trim(r.URL.Path, "/")
	if key == "" {
		code = http.StatusNotFound
		h.writeJSON(w, code, errorBody{Error: errorDetail{Code: "NotFound", Message: "missing procedure key"}})
		return
	}

	if !kind.Streaming() {
		if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
			defer cancel()
		}
	}

	arg, err := parseArgument(r, h.opt.MaxBodyBytes)
	if err != nil {
		code = http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			code = http.StatusRequestEntityTooLarge
		}
		h.writeJSON(w, code, errorBody{Error: errorDetail{Code: "InvalidArgument", Message: err.Error()}})
		return
	}

	var rc any
	if h.opt.ContextFactory != nil {
		if rc, err = h.opt.ContextFactory(r); err != nil {
			code = h.writeError(w, err)
			return
		}
	}

	md := procedure.Metadata{RequestID: rid, Header: h.forwardedHeaders(r)}
	out, err := h.reg.Dispatch(ctx, kind, key, rc, arg, md)
	if err != nil {
		code = h.writeError(w, err)
		return
	}

	if kind.Streaming() {
		streamed = true
		h.stream(ctx, w, out.Seq())
		return
	}
	v, err := out.Await(ctx)
	if err != nil {
		code = h.writeError(w, err)
		return
	}
	raw, err := encodeValue(v)
	if err != nil {
		code = h.writeError(w, procedure.NewInternalError("encoding result: %v", err))
		return
	}
	h.writeJSON(w, code, resultBody{Result: raw})
}

// stream writes items as server-sent events until the sequence ends, fails,
// or the client disconnects.
func (h *Handler) stream(ctx context.Context, w http.ResponseWriter, seq procedure.Sequence) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)
	_ = rc.Flush()

	for v, err := range seq {
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			_ = writeEvent(w, "error", errorBody{Error: detailOf(err)})
			_ = rc.Flush()
			return
		}
		raw, err := encodeValue(v)
		if err != nil {
			_ = writeEvent(w, "error", errorBody{Error: detailOf(procedure.NewInternalError("encoding item: %v", err))})
			_ = rc.Flush()
			return
		}
		if err := writeEvent(w, "next", raw); err != nil {
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
	if ctx.Err() == nil {
		_, _ = io.WriteString(w, "event: complete\ndata: {}\n\n")
		_ = rc.Flush()
	}
}

func writeEvent(w io.Writer, event string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, b)
	return err
}

func selectKind(r *http.Request) (procedure.Kind, bool) {
	switch r.Method {
	case http.MethodGet:
		if r.URL.Query().Get("subscribe") == "1" || acceptsEventStream(r.Header.Get("Accept")) {
			return procedure.KindSubscription, true
		}
		return procedure.KindQuery, true
	case http.MethodPost:
		return procedure.KindMutation, true
	}
	return 0, false
}

func (h *Handler) forwardedHeaders(r *http.Request) metadata.MD {
	md := metadata.MD{}
	for _, hdr := range h.opt.MetadataHeaders {
		if v := r.Header.Values(hdr); len(v) > 0 {
			md[strings.ToLower(hdr)] = v
		}
	}
	return md
}

// ------------------ Request parsing ------------------

var errBodyTooLarge = errors.New("body too large")

func parseArgument(r *http.Request, maxBody int64) (*structpb.Value, error) {
	if r.Method == http.MethodGet {
		in := r.URL.Query().Get("input")
		if in == "" {
			return nil, nil
		}
		return decodeJSON([]byte(in), "input")
	}

	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" && !strings.HasPrefix(ct, "application/json;") {
		return nil, errors.New("unsupported Content-Type")
	}
	reader := io.Reader(r.Body)
	if maxBody > 0 {
		reader = io.LimitReader(r.Body, maxBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, errors.New("failed to read body")
	}
	defer r.Body.Close()
	if maxBody > 0 && int64(len(body)) > maxBody {
		return nil, errBodyTooLarge
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, nil
	}
	return decodeJSON(body, "body")
}

func decodeJSON(b []byte, what string) (*structpb.Value, error) {
	v := &structpb.Value{}
	if err := protojson.Unmarshal(b, v); err != nil {
		return nil, fmt.Errorf("invalid %s JSON", what)
	}
	return v, nil
}

// ------------------ Response formatting ------------------

type resultBody struct {
	Result json.RawMessage `json:"result"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

func detailOf(err error) errorDetail {
	d := errorDetail{Code: status.Code(err).String(), Message: err.Error()}
	if c := procedure.CodeOf(err); c != 0 {
		d.Kind = c.String()
	}
	return d
}

func (h *Handler) writeError(w http.ResponseWriter, err error) int {
	code := runtime.HTTPStatusFromCode(status.Code(err))
	h.writeJSON(w, code, errorBody{Error: detailOf(err)})
	return code
}

func encodeValue(v any) (json.RawMessage, error) {
	if m, ok := v.(proto.Message); ok {
		return protojson.Marshal(m)
	}
	return json.Marshal(v)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if h.opt.Pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}

func acceptsEventStream(accept string) bool {
	for _, p := range strings.Split(accept, ",") {
		if strings.HasPrefix(strings.TrimSpace(p), "text/event-stream") {
			return true
		}
	}
	return false
}
