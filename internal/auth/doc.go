// Package auth dispatches request credentials to the API key and JWT
// verifiers and produces a single Result.
//
// A request is authenticated by at most one scheme, chosen only by
// which credentials it carries:
//
//   - a bearer credential (the ALB header or Authorization: Bearer)
//     starting with the API key prefix is verified as an API key;
//   - any other bearer credential is verified as a JWT, with no
//     fallback;
//   - otherwise an API key from the configured sources (X-API-Key, then
//     the api_key query parameter) is verified;
//   - otherwise the request is unauthenticated.
//
// Failures carry a Kind for logs, metrics and traces. Clients only ever
// see a generic 401 {"error":"unauthenticated"} or a gRPC
// Unauthenticated status.
//
// Typical use:
//
//	engine, err := auth.Open(ctx, cfg, logger, metrics)
//	if err != nil {
//	    return err
//	}
//	defer engine.Close()
//
//	handler := engine.HTTPMiddleware()(next)
//	server := grpc.NewServer(
//	    grpc.UnaryInterceptor(engine.UnaryInterceptor()),
//	    grpc.StreamInterceptor(engine.StreamInterceptor()),
//	)
package auth
