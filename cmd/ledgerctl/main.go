package main

import (
	"context"
	"fmt"
	"os"

	"ledger/internal/cli"
)

func main() {
	// Load .env file for local development (ignore errors in production)
	cli.LoadEnvFile()

	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.ExitCommandError)
	}

	logger := cli.SetupLogger(cfg)

	ctx, cancel := cli.SignalContext(context.Background(), logger)
	defer cancel()

	root := cli.NewRootCommand(cfg, logger)
	if err := root.ExecuteContext(ctx); err != nil {
		format, _ := root.PersistentFlags().GetString("format")
		cli.WriteError(os.Stderr, format, err)
		cancel()
		os.Exit(cli.GetExitCode(err))
	}
}
