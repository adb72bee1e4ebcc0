package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	cfgFlag string
)

var rootCmd = &cobra.Command{
	Use:   "anotherglass",
	Short: "Bridge phone notifications and media to a paired low-bandwidth device",
	Long: `AnotherGlass forwards notifications from selected chat apps and the
now-playing state of one media app to a paired device, text first and
pictures afterwards in increasing resolution.

Quick Start:
  anotherglass serve                       # run the gateway and bridges
  anotherglass apps list                   # show forwarded chat apps
  anotherglass apps add org.thoughtcrime.securesms`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version info",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("anotherglass %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFlag, "config", "", "config file (default $ANOTHERGLASS_HOME/config.yaml)")
	rootCmd.AddCommand(versionCmd, serveCmd, appsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
