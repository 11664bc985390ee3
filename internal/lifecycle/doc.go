// Package lifecycle implements the admission gate that sits in front of every
// queue consumer of a replica.
//
// A Manager holds the replica's State, an admission gate that is open exactly
// while the state is Working, and a count of admitted work. Consumers call
// BeginScope before handling a message and release the returned Scope when
// they are done:
//
//	scope, err := mgr.BeginScope(ctx)
//	if errors.Is(err, lifecycle.ErrCancelled) {
//	    return nil // shutting down
//	}
//	defer scope.Release()
//
// State machine:
//
//	Initializing --InitializationFinished()--> Working
//	Stopped      --Start()-------------------> Working   (gate opens)
//	Working      --RequestDrain(), count=0---> Stopped   (gate closes)
//	Working      --RequestDrain(), count>0---> Stopping  (gate closes)
//	Stopping     --Start()-------------------> Working   (gate opens)
//	Stopping     --last Scope released-------> Stopped
//
// RequestDrain stops admission immediately while work already admitted runs
// to completion, so a replica can be redeployed without interrupting it.
// Shutdown code calls RequestDrain and then WaitForState(ctx, Stopped).
package lifecycle
