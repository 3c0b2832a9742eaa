package cli

import (
	"errors"

	"github.com/absmach/fedlet"
	"github.com/absmach/fedlet/pkg/repository"
	"github.com/spf13/cobra"
)

var errNoRepository = errors.New("repository.url is not configured")

func repositoryClient(cmd *cobra.Command) (*repository.Client, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if cfg.Repository.URL == "" {
		return nil, errNoRepository
	}

	return repository.NewClient(repository.Config{
		URL:             cfg.Repository.URL,
		RequestTimeout:  fedlet.Duration(cfg.Repository.RequestTimeout),
		TransferTimeout: fedlet.Duration(cfg.Repository.TransferTimeout),
	}), nil
}

func repositoryCmds() []cobra.Command {
	return []cobra.Command{
		{
			Use:   "health",
			Short: "Check that the model repository is serving",
			Run: func(cmd *cobra.Command, _ []string) {
				c, err := repositoryClient(cmd)
				if err != nil {
					logErrorCmd(*cmd, err)

					return
				}
				if err := c.GetHealth(cmd.Context()); err != nil {
					logErrorCmd(*cmd, err)

					return
				}

				logOKCmd(*cmd)
			},
		},
		{
			Use:   "models",
			Short: "List the models in the repository",
			Run: func(cmd *cobra.Command, _ []string) {
				c, err := repositoryClient(cmd)
				if err != nil {
					logErrorCmd(*cmd, err)

					return
				}
				models, err := c.GetModels(cmd.Context())
				if err != nil {
					logErrorCmd(*cmd, err)

					return
				}

				logJSONCmd(*cmd, models)
			},
		},
		{
			Use:     "hyperparameters <model_id>",
			Short:   "List the hyperparameter sets of a model",
			Example: "fedlet repository hyperparameters M1",
			Args:    cobra.ExactArgs(1),
			Run: func(cmd *cobra.Command, args []string) {
				c, err := repositoryClient(cmd)
				if err != nil {
					logErrorCmd(*cmd, err)

					return
				}
				hps, err := c.GetHyperparametersList(cmd.Context(), args[0])
				if err != nil {
					logErrorCmd(*cmd, err)

					return
				}

				logJSONCmd(*cmd, hps)
			},
		},
		{
			Use:     "checkpoints <model_id> <hyperparameters_id>",
			Short:   "List the checkpoints of a hyperparameter set",
			Example: "fedlet repository checkpoints M1 H1",
			Args:    cobra.ExactArgs(2),
			Run: func(cmd *cobra.Command, args []string) {
				c, err := repositoryClient(cmd)
				if err != nil {
					logErrorCmd(*cmd, err)

					return
				}
				cps, err := c.GetCheckpoints(cmd.Context(), args[0], args[1])
				if err != nil {
					logErrorCmd(*cmd, err)

					return
				}

				logJSONCmd(*cmd, cps)
			},
		},
	}
}

func NewRepositoryCmd() *cobra.Command {
	cmd := cobra.Command{
		Use:   "repository",
		Short: "Query the model repository",
	}

	table := repositoryCmds()
	for i := range table {
		cmd.AddCommand(&table[i])
	}

	return &cmd
}
