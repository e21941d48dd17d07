// Package middleware holds the built-in procedure middleware. Each
// subpackage returns a procedure.Middleware that is added to a stack with
// procedure.Stack.With; all of them are generic over the request context
// type they pass through.
package middleware
