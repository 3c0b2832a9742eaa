package cli

import (
	"github.com/absmach/fedlet/pkg/bundle"
	"github.com/spf13/cobra"
)

func validateCmds() []cobra.Command {
	return []cobra.Command{
		{
			Use:     "model <path>",
			Short:   "Validate a model bundle",
			Example: "fedlet validate model ./linear.tiobundle",
			Args:    cobra.ExactArgs(1),
			Run: func(cmd *cobra.Command, args []string) {
				b, err := bundle.LoadModelBundle(args[0])
				if err != nil {
					logErrorCmd(*cmd, err)

					return
				}

				logJSONCmd(*cmd, map[string]any{
					"id":           b.ID,
					"name":         b.Name,
					"version":      b.Version,
					"backend":      b.Backend,
					"inputs":       b.Inputs,
					"outputs":      b.Outputs,
					"placeholders": b.Placeholders,
				})
			},
		},
		{
			Use:     "task <path>",
			Short:   "Validate a task bundle",
			Example: "fedlet validate task ./round-1.tiotask",
			Args:    cobra.ExactArgs(1),
			Run: func(cmd *cobra.Command, args []string) {
				tb, err := bundle.LoadTaskBundle(args[0], nil)
				if err != nil {
					logErrorCmd(*cmd, err)

					return
				}

				logJSONCmd(*cmd, tb.Task)
			},
		},
	}
}

func NewValidateCmd() *cobra.Command {
	cmd := cobra.Command{
		Use:   "validate",
		Short: "Validate model and task bundles",
	}

	table := validateCmds()
	for i := range table {
		cmd.AddCommand(&table[i])
	}

	return &cmd
}
