// Package main is the entry point for the translucent CLI.
//
// translucent can be embedded as a library or run as a standalone binary
// with YAML configuration. This CLI provides the standalone binary and a
// terminal client.
//
// Usage:
//
//	translucent serve -c config.yaml      # Serve a program and its feeds
//	translucent validate -c config.yaml   # Validate configuration
//	translucent run http://localhost:8080 # Run the served program here
//	translucent version                   # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information, set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd only displays help; functionality is in subcommands.
var rootCmd = &cobra.Command{
	Use:   "translucent",
	Short: "Serve a program with a synchronized environment",
	Long: `translucent serves a small program together with an environment of
key/value pairs that stays synchronized between the server and every
connected client.

Feeds poll HTTP sources and publish what they find into the environment;
clients run the program in a sandbox and re-render whenever it changes.

Quick start:
  1. Write a program (index.star) and a config file (translucent.yaml)
  2. Run: translucent serve -c translucent.yaml
  3. Run: translucent run http://localhost:8080

Example config:
  port: 8080
  program: index.star
  values:
    theme: dark
  feeds:
    - key: price
      url: https://api.example.com/price
      extractor: json:data.last`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// cobra already printed the error
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this translucent binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "translucent %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-file", "", "also write text logs to this file")

	rootCmd.AddCommand(versionCmd)
}
