package cli

import (
	"fmt"

	"github.com/absmach/fedlet/pkg/identifier"
	"github.com/spf13/cobra"
)

func identifierCmds() []cobra.Command {
	return []cobra.Command{
		{
			Use:     "parse <identifier>",
			Short:   "Parse a model identifier",
			Example: "fedlet identifier parse tio:///models/m/hyperparameters/h/checkpoints/c",
			Args:    cobra.ExactArgs(1),
			Run: func(cmd *cobra.Command, args []string) {
				id, ok := identifier.Parse(args[0])
				if !ok {
					logErrorCmd(*cmd, fmt.Errorf("%q is not a model identifier", args[0]))

					return
				}

				logJSONCmd(*cmd, id)
			},
		},
		{
			Use:     "new <model_id> <hyperparameters_id> <checkpoint_id>",
			Short:   "Render a model identifier",
			Example: "fedlet identifier new m h c",
			Args:    cobra.ExactArgs(3),
			Run: func(cmd *cobra.Command, args []string) {
				id, err := identifier.New(args[0], args[1], args[2])
				if err != nil {
					logErrorCmd(*cmd, err)

					return
				}

				fmt.Fprintln(cmd.OutOrStdout(), id.String())
			},
		},
	}
}

func NewIdentifierCmd() *cobra.Command {
	cmd := cobra.Command{
		Use:   "identifier",
		Short: "Parse and render model repository identifiers",
	}

	table := identifierCmds()
	for i := range table {
		cmd.AddCommand(&table[i])
	}

	return &cmd
}
