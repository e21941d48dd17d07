// Package procedure implements the layered execution pipeline behind every
// registered RPC procedure.
//
// # Overview
//
// A procedure is a named unit of functionality of one of three kinds: query,
// mutation or subscription. It is executed by a chain of Layers: zero or more
// middleware layers wrapping one terminal resolver layer. Every layer exposes
// the same contract:
//
//	Call(ctx, rc, arg, md) (Outcome, error)
//
// where ctx carries cancellation and deadlines, rc is the request context
// value (opaque to the engine), arg is the argument as a structured
// *structpb.Value and md is the read-only request Metadata.
//
// # Building
//
// Configuration code starts from a Stack whose request context type is fixed:
//
//	base := procedure.NewStack[*AppContext]()
//	authed := base.With(authMiddleware) // context becomes *UserContext
//	greet := procedure.Query(authed, func(ctx context.Context, rc *UserContext, name string) (string, error) {
//		return "hello, " + name, nil
//	})
//
// Stacks are immutable: With and Merge return new stacks, so a prefix can be
// shared by many procedures. Attaching a resolver with Query, Mutation or
// Subscription terminates the stack and yields a *Procedure, which has no
// way to add further middleware.
//
// Context compatibility between adjacent middleware and the resolver is
// checked with reflection while the stack is assembled. A mismatch is
// recorded as a *ConfigError and reported by the registry at build time,
// never at request time.
//
// # Execution order
//
// The first middleware added to a stack is the outermost wrapper. For a stack
// M1, M2, ..., Mn wrapping resolver R, ingress order is M1 -> ... -> Mn -> R
// and egress order is R -> Mn -> ... -> M1. A middleware may short-circuit by
// returning without calling next, in which case nothing downstream runs.
//
// # Outcomes
//
// Queries and mutations produce an immediate value or a Deferred value.
// Subscriptions produce a Sequence. Neither deferred values nor sequences are
// resolved by the pipeline; they are handed back to the transport, which may
// stop consuming a sequence at any point. Sequences are range-over-func
// iterators, so breaking out of the loop unwinds the producer and runs its
// deferred cleanup.
//
// # Errors
//
// Every layer reports failures as *ExecError values (argument decode,
// resolver, not found, middleware rejected, internal). ExecError implements
// GRPCStatus so transports can map it onto wire-level status codes.
package procedure
