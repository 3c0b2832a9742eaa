package cli

import (
	"errors"
	"net/url"
	"strings"

	"github.com/absmach/fedlet"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

func configCmds() []cobra.Command {
	return []cobra.Command{
		{
			Use:   "init",
			Short: "Write a configuration file",
			Long:  `Prompts for the agent settings and writes them to the file named by --config.`,
			Run: func(cmd *cobra.Command, _ []string) {
				path, _ := cmd.Flags().GetString(ConfigFlag)
				if path == "" {
					logErrorCmd(*cmd, errors.New("--config is required"))

					return
				}

				cfg := fedlet.DefaultConfig()
				if useDefaults, _ := cmd.Flags().GetBool("defaults"); useDefaults {
					cfg.Tasks.URL, _ = cmd.Flags().GetString("tasks-url")
				} else if err := runConfigForm(&cfg); err != nil {
					logErrorCmd(*cmd, err)

					return
				}

				if err := cfg.Validate(); err != nil {
					logErrorCmd(*cmd, err)

					return
				}
				if err := fedlet.SaveConfig(path, cfg); err != nil {
					logErrorCmd(*cmd, err)

					return
				}

				logOKCmd(*cmd)
			},
		},
		{
			Use:   "show",
			Short: "Print the effective configuration",
			Run: func(cmd *cobra.Command, _ []string) {
				cfg, err := loadConfig(cmd)
				if err != nil {
					logErrorCmd(*cmd, err)

					return
				}
				if cfg.MQTT.ClientKey != "" {
					cfg.MQTT.ClientKey = "***"
				}
				if cfg.Agent.ResultsKey != "" {
					cfg.Agent.ResultsKey = "***"
				}

				logJSONCmd(*cmd, cfg)
			},
		},
	}
}

func runConfigForm(cfg *fedlet.Config) error {
	var (
		models     = strings.Join(cfg.Agent.Models, ",")
		enableMQTT bool
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Device ID").Value(&cfg.Agent.DeviceID),
			huh.NewInput().Title("Task service URL").Value(&cfg.Tasks.URL).Validate(validateURL),
			huh.NewInput().Title("Model repository URL (optional)").Value(&cfg.Repository.URL),
			huh.NewInput().Title("Models (comma separated)").Value(&models),
			huh.NewInput().Title("Check interval").Value(&cfg.Agent.CheckInterval),
			huh.NewInput().Title("API address (optional)").Value(&cfg.API.Address),
		),
		huh.NewGroup(
			huh.NewConfirm().Title("Connect to an MQTT broker?").Value(&enableMQTT),
		),
		huh.NewGroup(
			huh.NewInput().Title("Broker URL").Value(&cfg.MQTT.URL).Validate(validateURL),
			huh.NewInput().Title("Domain ID").Value(&cfg.MQTT.DomainID),
			huh.NewInput().Title("Channel ID").Value(&cfg.MQTT.ChannelID),
			huh.NewInput().Title("Client ID").Value(&cfg.MQTT.ClientID),
			huh.NewInput().Title("Client key").EchoMode(huh.EchoModePassword).Value(&cfg.MQTT.ClientKey),
		).WithHideFunc(func() bool { return !enableMQTT }),
	)
	if err := form.Run(); err != nil {
		return err
	}

	cfg.Agent.Models = nil
	for m := range strings.SplitSeq(models, ",") {
		if m = strings.TrimSpace(m); m != "" {
			cfg.Agent.Models = append(cfg.Agent.Models, m)
		}
	}

	return nil
}

func validateURL(s string) error {
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("enter an absolute URL")
	}

	return nil
}

func NewConfigCmd() *cobra.Command {
	cmd := cobra.Command{
		Use:   "config",
		Short: "Manage the agent configuration",
	}

	table := configCmds()
	table[0].Flags().Bool("defaults", false, "Write defaults without prompting")
	table[0].Flags().String("tasks-url", "", "Task service URL used with --defaults")

	for i := range table {
		cmd.AddCommand(&table[i])
	}

	return &cmd
}
