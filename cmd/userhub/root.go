package main

import (
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "userhub",
	Short: "UserHub user management service",
	Long: `userhub runs the UserHub user management API.

It serves signup, login, token refresh, password reset and user
administration endpoints, backed by PostgreSQL or an in-memory store.`,
	Version: "0.1.0",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}
