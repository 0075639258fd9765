package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "visitorid",
	Short: "Visitor identity resolution service",
	Long: `Resolves browser fingerprints to stable identity ids, using typing
biometrics to reconcile visitors that share a weak fingerprint.`,
	SilenceUsage: true,
	// Running the binary without a subcommand starts the server.
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	cobra.CheckErr(rootCmd.Execute())
}
