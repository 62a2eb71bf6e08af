package main

import (
	"github.com/spf13/cobra"

	"OmniSpectrum/internal/di"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the forecast API, websocket feed and background workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			app, err := di.InitializeApp(cfg)
			if err != nil {
				return err
			}
			// blocks until SIGINT/SIGTERM
			return app.Run(cmd.Context())
		},
	}
}
