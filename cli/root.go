package cli

import "github.com/spf13/cobra"

// NewRootCmd assembles the fedlet command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fedlet",
		Short: "Federated learning agent",
		Long: `fedlet runs on an edge device, trains installed models on local data
for tasks published by a task service and uploads the results.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringP(ConfigFlag, "c", "fedlet.toml", "Configuration file")

	root.AddCommand(NewAgentCmds()...)
	root.AddCommand(
		NewValidateCmd(),
		NewIdentifierCmd(),
		NewRepositoryCmd(),
		NewConfigCmd(),
	)

	return root
}
