// Package workitem defines the JSON envelope of queued work and a registry
// that dispatches each item to the processor registered for its type.
//
//	reg := workitem.NewRegistry(logger)
//	reg.MustRegister("merge-policy", workitem.Typed(func(ctx context.Context, d MergePolicyData) error {
//	    return evaluate(ctx, d)
//	}))
//	it, _ := reg.Decode(payload)
//	err := reg.Dispatch(ctx, it)
package workitem
