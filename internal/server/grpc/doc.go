// Package grpcserver hosts the gRPC surface of a replica: the standard
// grpc.health.v1 service, backed by the same probe as /v1/healthz, plus
// server reflection.
//
// Both the empty service name and "maestro.Processor" report SERVING once
// the replica's published state has left Initializing.
//
// Example:
//
//	s := grpcserver.New(rt, []grpcserver.Option{grpcserver.WithLogger(logger)})
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":9090")
package grpcserver
