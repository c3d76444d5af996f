package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/translucent"
	"github.com/spf13/cobra"
)

// runCmd runs the served program in this terminal.
var runCmd = &cobra.Command{
	Use:   "run <url>",
	Short: "Run a served program in the terminal",
	Long: `Connect to a translucent server, fetch its program and run it here.

Every render is printed to stdout. The environment stays synchronized with
the server until interrupted, the program fails, or the connection drops.
A dropped connection is not retried.

Example:
  translucent run http://localhost:8080
  translucent run https://desk.example.com --program /app.star`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("program", "/index.star", "path of the program on the server")
	runCmd.Flags().Duration("fetch-timeout", 10*time.Second, "timeout for fetching the program")
	runCmd.Flags().Uint64("max-steps", 0, "interpreter step limit for the program (0 keeps the default)")
}

func runRun(cmd *cobra.Command, args []string) error {
	logger, closeLog, err := loggerFromFlags(cmd)
	if err != nil {
		return err
	}
	defer closeLog()

	programPath, _ := cmd.Flags().GetString("program")
	fetchTimeout, _ := cmd.Flags().GetDuration("fetch-timeout")
	maxSteps, _ := cmd.Flags().GetUint64("max-steps")

	opts := []translucent.ClientOption{
		translucent.WithClientLogger(logger),
		translucent.WithOutput(cmd.OutOrStdout()),
		translucent.WithProgramPath(programPath),
		translucent.WithFetchTimeout(fetchTimeout),
	}
	if maxSteps > 0 {
		opts = append(opts, translucent.WithMaxSteps(maxSteps))
	}

	client, err := translucent.NewClient(args[0], opts...)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := client.Run(ctx); err != nil {
		return fmt.Errorf("client stopped: %w", err)
	}
	logger.Info("client stopped")
	return nil
}
