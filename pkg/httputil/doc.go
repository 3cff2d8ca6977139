// Package httputil provides the JSON response helpers, request parsing and
// HTTP middleware shared by every invoicer handler.
//
// Handlers write errors as {"error": "..."}:
//
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // 400 already written
//	}
//	httputil.WriteCreated(w, inv)
//
// The middleware chain used by the API server is, outermost first:
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware(logger),
//		httputil.LoggingMiddleware,
//		httputil.RecoveryMiddleware,
//		httputil.CORSMiddleware(origins),
//		httputil.MaxBytesMiddleware(limit),
//	)
package httputil
