package client

import (
	"github.com/spf13/cobra"
)

// NewRoot constructs a root Cobra command for the maestro client.
// It registers the processor and queue command groups.
func NewRoot(baseURL BaseURLFunc) *cobra.Command {
	root := &cobra.Command{
		Use:   "maestro",
		Short: "Maestro client commands",
	}
	root.AddCommand(NewProcessorCommand(baseURL))
	root.AddCommand(NewQueueCommand(baseURL))
	return root
}
