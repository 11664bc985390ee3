// Package runtime wires storage, queues, the lifecycle manager, the state
// publisher and the health probe into a single maestro replica. Servers and
// the server command only talk to a *Runtime.
//
// Example:
//
//	cfg := config.Default()
//	rt, err := runtime.Open(ctx, runtime.Options{Config: cfg, Logger: logger})
//	if err != nil {
//	    return err
//	}
//	defer rt.Close()
//	go rt.Publisher().Run(ctx)
//	_ = rt.Manager().InitializationFinished()
//	_ = rt.NewPool().Run(ctx)
package runtime
