package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()

	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run dispatches one subcommand. stdout gets command output, stderr gets logs.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) < 1 {
		printUsage(stderr)
		return errors.New("no command given")
	}

	command, rest := args[0], args[1:]
	switch command {
	case "migrate":
		return handleMigrate(ctx, rest, stdout, stderr)
	case "test-api":
		return handleTestAPI(ctx, rest, stdout, stderr)
	case "fetch":
		return handleFetch(ctx, rest, stdout, stderr)
	case "backfill":
		return handleBackfill(ctx, rest, stdout, stderr)
	case "status":
		return handleStatus(ctx, rest, stdout, stderr)
	case "reset":
		return handleReset(ctx, rest, stdout, stderr)
	case "stats":
		return handleStats(ctx, rest, stdout, stderr)
	case "serve":
		return handleServe(ctx, rest, stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return nil
	default:
		printUsage(stderr)
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `Park Slope Parents ingestion tool

Usage:
  psp <command> [options]

Commands:
  migrate    Apply or roll back schema migrations (up, down, version)
  test-api   Check the groups.io credentials and show the newest message
  fetch      Fetch messages newer than anything stored
  backfill   Continue walking the group's history into the database
  status     Show backfill progress
  reset      Restart the backfill from the newest message (stored messages are kept)
  stats      Show database statistics
  serve      Run the read-only REST API

Use "psp <command> -h" for the options of a command.
`)
}
