package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "eventscout",
	Short: "Event announcement ingestion service",
	Long: `A service that scans a mailbox for announcements of seminars,
conferences, talks and calls for papers, extracts structured event data
with a language model, deduplicates against the event ledger, and serves
the accepted events over HTTP.`,
	Run: func(cmd *cobra.Command, args []string) {
		err := cmd.Help()
		if err != nil {
			log.Error().Err(err).Msg("Failed to display help")
		}
	},
}

// Execute executes the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize()
}
