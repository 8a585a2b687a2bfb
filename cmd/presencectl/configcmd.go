package main

import (
	"fmt"

	"github.com/danmuck/presencectl/internal/config"
	"github.com/spf13/cobra"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write or validate config files",
	}
	cmd.AddCommand(configInitCmd(), configValidateCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	var kind, output string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			target := output
			if target == "" {
				target = defaultConfigPath(kind)
			}
			if err := config.WriteTemplate(target, kind, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s config template to %s\n", kind, target)
			return nil
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", config.KindDaemon, "config kind: daemon|presence")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configValidateCmd() *cobra.Command {
	var kind, input string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := input
			if path == "" {
				path = defaultConfigPath(kind)
			}
			switch kind {
			case config.KindDaemon:
				cfg, err := loadServiceConfig(path)
				if err != nil {
					return err
				}
				if cfg.AppID == "" {
					return fmt.Errorf("%s: app_id is required", path)
				}
			case config.KindPresence:
				if _, err := config.LoadActivityFile(path); err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown config kind: %s", kind)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "validated %s config at %s\n", kind, path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", config.KindDaemon, "config kind: daemon|presence")
	cmd.Flags().StringVarP(&input, "input", "i", "", "config path")
	return cmd
}

func defaultConfigPath(kind string) string {
	if kind == config.KindPresence {
		return "presence.toml"
	}
	return "presencectl.toml"
}
