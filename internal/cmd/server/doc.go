// Package serverrun exposes the Run entrypoint used by the CLI to start a
// replica: storage, consumers, state publishing, HTTP and gRPC servers, and
// the drain on shutdown.
//
// Example:
//
//	cfg, _ := config.Load("maestro.yaml")
//	config.FromEnv(&cfg)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = serverrun.Run(ctx, serverrun.Options{Config: cfg})
package serverrun
