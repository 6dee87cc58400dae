// Command portfolio-state runs and inspects the portfolio state service.
package main

import (
	"context"
	"fmt"
	"os"

	"portfolio-state/internal/cli"
	"portfolio-state/internal/logging"
)

func main() {
	// Console-only until the configuration has been loaded.
	logger := logging.NewLoggerWithConfig(logging.LogConfig{Level: "info", Console: true})

	rootCmd := cli.NewRootCmd(logger)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
