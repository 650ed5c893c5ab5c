// Package cmd wires the teamdrive CLI: the serve command runs the driver,
// the rest are thin clients of its control server.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X github.com/nextlevelbuilder/teamdrive/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "teamdrive",
	Short: "Multi-agent dialog driver",
	Long: "teamdrive runs a team of LLM agents as a tree of dialogs: it drives each " +
		"dialog's generation/tool loop, routes teammate calls between them, and " +
		"exposes a local control API for input, interruption, and status.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: teamdrive.json or $TEAMDRIVE_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(inputCmd())
	rootCmd.AddCommand(stopCmd())
	rootCmd.AddCommand(resumeCmd())
	rootCmd.AddCommand(answerCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("teamdrive %s\n", Version)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("TEAMDRIVE_CONFIG"); v != "" {
		return v
	}
	return "teamdrive.json"
}

// Execute runs the root cobra command.
//
// Exit codes: 0 success, 1 command failure, 2 usage error.
func Execute() {
	rootCmd.SilenceUsage = true
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
