package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/outbound-gateway/oagw/internal/oagw/settings"
)

func newValidateConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config",
		Short: "Load and validate the configuration file without starting the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := settings.Load(configPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config ok: listen=%s metrics=%s cache_l1=%d\n", s.ListenAddr, s.MetricsAddr, s.CacheL1Size)
			return nil
		},
	}
}
