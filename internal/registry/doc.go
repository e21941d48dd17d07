// Package registry maps procedure kinds and keys to built procedures.
//
// A Router collects procedures at configuration time and may merge other
// routers under a key prefix. Build validates everything at once and returns
// an immutable Registry, which dispatches requests without locking:
//
//	reg, err := registry.NewRouter().
//		Register("greet", greet).
//		Merge("users", usersRouter).
//		Build()
//	out, err := reg.Dispatch(ctx, procedure.KindQuery, "greet", rc, arg, md)
package registry
