package procedure

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Code classifies an ExecError.
type Code int

const (
	// CodeArgumentDecode: the argument could not be decoded into the
	// resolver's argument type.
	CodeArgumentDecode Code = iota + 1
	// CodeResolver: the resolver function failed.
	CodeResolver
	// CodeNotFound: no procedure is registered under the requested kind and key.
	CodeNotFound
	// CodeMiddlewareRejected: a middleware short-circuited the request.
	CodeMiddlewareRejected
	// CodeInternal: a fault inside the pipeline itself, such as a recovered
	// panic or an outcome whose shape does not match the procedure kind.
	CodeInternal
)

func (c Code) String() string {
	switch c {
	case CodeArgumentDecode:
		return "argument_decode"
	case CodeResolver:
		return "resolver"
	case CodeNotFound:
		return "not_found"
	case CodeMiddlewareRejected:
		return "middleware_rejected"
	case CodeInternal:
		return "internal"
	default:
		return fmt.Sprintf("Code(%d)", int(c))
	}
}

// Sentinels for errors.Is. They match any ExecError with the same Code.
var (
	ErrArgumentDecode     = &ExecError{Code: CodeArgumentDecode}
	ErrResolver           = &ExecError{Code: CodeResolver}
	ErrNotFound           = &ExecError{Code: CodeNotFound}
	ErrMiddlewareRejected = &ExecError{Code: CodeMiddlewareRejected}
	ErrInternal           = &ExecError{Code: CodeInternal}
)

// ExecError is the error type returned by every layer.
type ExecError struct {
	Code Code
	// Kind and Key locate the procedure when known (set for NotFound).
	Kind Kind
	Key  string
	// RPCCode overrides the derived gRPC code for rejections.
	RPCCode codes.Code
	Message string
	Cause   error
}

func (e *ExecError) Error() string {
	msg := e.Code.String()
	if e.Key != "" {
		msg = fmt.Sprintf("%s %q: %s", e.Kind, e.Key, msg)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ExecError) Unwrap() error { return e.Cause }

// Is reports whether target is an ExecError with the same Code.
func (e *ExecError) Is(target error) bool {
	t, ok := target.(*ExecError)
	return ok && t.Code == e.Code
}

// GRPCCode maps the error onto a gRPC status code.
func (e *ExecError) GRPCCode() codes.Code {
	switch e.Code {
	case CodeArgumentDecode:
		return codes.InvalidArgument
	case CodeNotFound:
		return codes.NotFound
	case CodeMiddlewareRejected:
		if e.RPCCode != codes.OK {
			return e.RPCCode
		}
		return codes.PermissionDenied
	case CodeResolver:
		return causeCode(e.Cause)
	default:
		return codes.Internal
	}
}

// GRPCStatus lets status.FromError and status.Code understand ExecError.
func (e *ExecError) GRPCStatus() *status.Status {
	return status.New(e.GRPCCode(), e.Error())
}

func causeCode(err error) codes.Code {
	switch {
	case err == nil:
		return codes.Unknown
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	}
	if s, ok := status.FromError(err); ok {
		return s.Code()
	}
	return codes.Unknown
}

// CodeOf returns the Code of the first ExecError in err's chain, or 0.
func CodeOf(err error) Code {
	var e *ExecError
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

// NewArgumentDecodeError reports an argument that could not be decoded.
func NewArgumentDecodeError(cause error) *ExecError {
	return &ExecError{Code: CodeArgumentDecode, Cause: cause}
}

// NewResolverError wraps a resolver failure. ExecErrors pass through
// unchanged so that resolvers can report precise codes themselves.
func NewResolverError(cause error) error {
	var e *ExecError
	if errors.As(cause, &e) {
		return cause
	}
	return &ExecError{Code: CodeResolver, Cause: cause}
}

// NewNotFoundError reports an unregistered (kind, key) pair.
func NewNotFoundError(kind Kind, key string) *ExecError {
	return &ExecError{Code: CodeNotFound, Kind: kind, Key: key}
}

// NewInternalError reports a fault inside the pipeline.
func NewInternalError(format string, args ...any) *ExecError {
	return &ExecError{Code: CodeInternal, Message: fmt.Sprintf(format, args...)}
}

// Reject builds the error a middleware returns when it short-circuits. The
// gRPC code distinguishes, for example, Unauthenticated from InvalidArgument.
func Reject(code codes.Code, cause error) *ExecError {
	return &ExecError{Code: CodeMiddlewareRejected, RPCCode: code, Cause: cause}
}

// Rejectf is Reject with a formatted message instead of a cause.
func Rejectf(code codes.Code, format string, args ...any) *ExecError {
	return &ExecError{Code: CodeMiddlewareRejected, RPCCode: code, Message: fmt.Sprintf(format, args...)}
}

// Configuration errors. They are reported by the registry when it is built.
var (
	ErrDuplicateKey  = errors.New("duplicate procedure key")
	ErrContextType   = errors.New("incompatible request context type")
	ErrNilResolver   = errors.New("nil resolver")
	ErrNilMiddleware = errors.New("nil middleware")
	ErrInvalidKey    = errors.New("invalid procedure key")
	ErrNilProcedure  = errors.New("nil procedure")
)

// ConfigError is a configuration-time error. It is never produced while a
// request is being served.
type ConfigError struct {
	// Subject names what was being configured, e.g. `middleware "authn"`.
	Subject string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Subject == "" {
		return "invalid configuration: " + e.Err.Error()
	}
	return fmt.Sprintf("invalid configuration for %s: %v", e.Subject, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }
