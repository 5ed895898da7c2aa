package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "reelforge",
	Short: "Content production backend",
	Long: `reelforge turns scripts and catalog products into rendered video
artifacts: narration is synthesized, timed phrases are matched against a
tagged media segment library, a timeline is assembled and handed to the
render backend. All production runs as background jobs with polling status.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
