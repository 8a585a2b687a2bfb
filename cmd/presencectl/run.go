package main

import (
	"github.com/danmuck/presencectl/internal/daemon"
	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	var configPath string
	var appID string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the presence daemon",
		Long: `Run the presence daemon until interrupted. The daemon registers the
application with the desktop, keeps a connection to the local Discord client
alive and serves the control API.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := daemon.DefaultServiceConfig()
			if configPath != "" {
				loaded, err := loadServiceConfig(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if appID != "" {
				cfg.AppID = appID
			}
			svc, err := daemon.NewService(cfg)
			if err != nil {
				return err
			}
			return svc.Run()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "daemon config file (TOML)")
	cmd.Flags().StringVar(&appID, "app-id", "", "application id, overrides the config file")
	return cmd
}
