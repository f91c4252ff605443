package main

import (
	"github.com/spf13/cobra"
)

var configPath string
var fixturesPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "oagw",
		Short: "Outbound API gateway",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to an optional YAML config file")
	root.PersistentFlags().StringVar(&fixturesPath, "fixtures", "", "path to an optional YAML fixture file to seed the store with at startup")
	root.AddCommand(newServeCmd())
	root.AddCommand(newValidateConfigCmd())
	root.AddCommand(newVersionCmd())
	return root
}
