package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/parkslope/psp/internal/api"
	"github.com/parkslope/psp/internal/config"
	"github.com/parkslope/psp/internal/db"
	"github.com/parkslope/psp/internal/db/migrations"
	"github.com/parkslope/psp/internal/groupsio"
	"github.com/parkslope/psp/internal/ingest"
	"github.com/parkslope/psp/internal/logging"
	"github.com/parkslope/psp/internal/ratelimit"
	"github.com/sirupsen/logrus"
)

// commonFlags are accepted by every command.
type commonFlags struct {
	json    bool
	verbose bool
}

func newFlagSet(name string, stderr io.Writer) (*flag.FlagSet, *commonFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := &commonFlags{}
	fs.BoolVar(&common.json, "json", false, "Print the result as JSON")
	fs.BoolVar(&common.verbose, "v", false, "Enable debug logging")
	return fs, common
}

// env is what every command needs after flags are parsed.
type env struct {
	cfg *config.Config
	log *logrus.Logger
}

func setup(common *commonFlags, stderr io.Writer) (*env, error) {
	cfg, err := config.NewConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logging.New(stderr, cfg.LogLevel, cfg.LogFormat, common.verbose)
	if err != nil {
		return nil, err
	}

	return &env{cfg: cfg, log: log}, nil
}

func (e *env) connect(ctx context.Context) (*pgxpool.Pool, error) {
	pool, err := db.NewConnection(ctx, e.cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return pool, nil
}

func (e *env) newClient() *groupsio.Client {
	return groupsio.NewClient(groupsio.Options{
		BaseURL:  e.cfg.GroupsIOBaseURL,
		APIToken: e.cfg.GroupsIOAPIToken,
		GroupID:  e.cfg.GroupsIOGroupID,
		Timeout:  e.cfg.HTTPTimeout,
		Logger:   e.log,
	})
}

func handleMigrate(_ context.Context, args []string, stdout, stderr io.Writer) error {
	fs, common := newFlagSet("migrate", stderr)
	steps := fs.Int("steps", 1, "Number of migrations to roll back with 'down'")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: psp migrate [up|down|version] [options]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	action := "up"
	if fs.NArg() > 0 {
		action = fs.Arg(0)
	}

	e, err := setup(common, stderr)
	if err != nil {
		return err
	}

	migrator, err := migrations.NewMigrator(e.cfg.GetDatabaseURL())
	if err != nil {
		return err
	}
	defer func() {
		if err := migrator.Close(); err != nil {
			e.log.WithError(err).Warn("Failed to close migrator")
		}
	}()

	switch action {
	case "up":
		if err := migrator.Up(); err != nil {
			return err
		}
	case "down":
		if err := migrator.Down(*steps); err != nil {
			return err
		}
	case "version":
	default:
		return fmt.Errorf("unknown migrate action: %s", action)
	}

	version, dirty, err := migrator.Version()
	if err != nil {
		return err
	}
	e.log.WithFields(logrus.Fields{"action": action, "version": version, "dirty": dirty}).Info("Migrations done")

	if common.json {
		return printJSON(stdout, map[string]any{"version": version, "dirty": dirty})
	}
	fmt.Fprintf(stdout, "Schema version: %d (dirty: %t)\n", version, dirty)
	return nil
}

func handleTestAPI(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs, common := newFlagSet("test-api", stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := setup(common, stderr)
	if err != nil {
		return err
	}

	info, err := e.newClient().TestConnection(ctx)
	if err != nil {
		return fmt.Errorf("failed to reach groups.io: %w", err)
	}

	if common.json {
		return printJSON(stdout, info)
	}
	fmt.Fprintln(stdout, "API connection successful")
	fmt.Fprintf(stdout, "Group ID:        %d\n", e.cfg.GroupsIOGroupID)
	fmt.Fprintf(stdout, "Total messages:  %d\n", info.TotalCount)
	if info.LatestID > 0 {
		fmt.Fprintf(stdout, "Latest message:  #%d %s\n", info.LatestID, info.LatestSubject)
	}
	return nil
}

func handleFetch(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs, common := newFlagSet("fetch", stderr)
	opts := ingest.DefaultFetchOptions
	fs.IntVar(&opts.BatchSize, "batch", opts.BatchSize, "Messages per API request (max 100)")
	fs.IntVar(&opts.MaxMessages, "max", opts.MaxMessages, "Maximum messages to fetch this run")
	fs.BoolVar(&opts.DryRun, "dry-run", false, "Count new messages without storing them")
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := setup(common, stderr)
	if err != nil {
		return err
	}

	pool, err := e.connect(ctx)
	if err != nil {
		return err
	}
	defer db.CloseConnection(pool)

	fetcher := ingest.NewFetcher(e.newClient(), db.NewStore(pool), e.log)
	result, err := fetcher.Run(ctx, opts)
	if result != nil {
		if printErr := printFetchResult(stdout, result, common.json); printErr != nil {
			return errors.Join(err, printErr)
		}
	}
	return err
}

func handleBackfill(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs, common := newFlagSet("backfill", stderr)
	opts := ingest.DefaultBackfillOptions
	fs.IntVar(&opts.BatchSize, "batch", opts.BatchSize, "Messages per API request (max 100)")
	fs.IntVar(&opts.MaxMessages, "max", 0, "Maximum messages to fetch this run (0 means no limit)")
	delay := fs.Duration("delay", 0, "Pause between pages, 0 disables it (default from PSP_BACKFILL_DELAY_SECONDS)")
	fs.BoolVar(&opts.DryRun, "dry-run", false, "Walk pages without storing anything")
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := setup(common, stderr)
	if err != nil {
		return err
	}
	opts.Delay = backfillDelay(fs, *delay, e.cfg.BackfillDelay)

	pool, err := e.connect(ctx)
	if err != nil {
		return err
	}
	defer db.CloseConnection(pool)

	backfiller := ingest.NewBackfiller(e.newClient(), db.NewStore(pool), e.log)
	result, err := backfiller.Run(ctx, opts)
	if result != nil {
		if printErr := printBackfillResult(stdout, result, common.json); printErr != nil {
			return errors.Join(err, printErr)
		}
	}
	return err
}

// backfillDelay is the --delay value when given, zero included, otherwise the configured delay.
func backfillDelay(fs *flag.FlagSet, flagValue, configured time.Duration) time.Duration {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "delay" {
			set = true
		}
	})
	if set {
		return flagValue
	}
	return configured
}

func handleStatus(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs, common := newFlagSet("status", stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := setup(common, stderr)
	if err != nil {
		return err
	}

	pool, err := e.connect(ctx)
	if err != nil {
		return err
	}
	defer db.CloseConnection(pool)

	status, err := db.NewStore(pool).BackfillStatus(ctx)
	if err != nil {
		return err
	}

	if common.json {
		return printJSON(stdout, status)
	}
	printStatus(stdout, status)
	return nil
}

func handleReset(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs, common := newFlagSet("reset", stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := setup(common, stderr)
	if err != nil {
		return err
	}

	pool, err := e.connect(ctx)
	if err != nil {
		return err
	}
	defer db.CloseConnection(pool)

	if err := db.NewStore(pool).ResetBackfill(ctx); err != nil {
		return err
	}
	e.log.Info("Backfill reset")

	if common.json {
		return printJSON(stdout, map[string]bool{"reset": true})
	}
	fmt.Fprintln(stdout, "Backfill state reset. The next backfill starts from the newest message.")
	return nil
}

func handleStats(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs, common := newFlagSet("stats", stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := setup(common, stderr)
	if err != nil {
		return err
	}

	pool, err := e.connect(ctx)
	if err != nil {
		return err
	}
	defer db.CloseConnection(pool)

	stats, err := db.GetStats(ctx, pool)
	if err != nil {
		return err
	}

	if common.json {
		return printJSON(stdout, stats)
	}
	printStats(stdout, stats)
	return nil
}

func handleServe(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs, common := newFlagSet("serve", stderr)
	port := fs.String("port", "", "Port to listen on (default from PORT)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := setup(common, stderr)
	if err != nil {
		return err
	}
	if *port != "" {
		if n, err := strconv.Atoi(*port); err != nil || n < 1 || n > 65535 {
			return fmt.Errorf("invalid port: %q", *port)
		}
		e.cfg.Port = *port
	}

	pool, err := e.connect(ctx)
	if err != nil {
		return err
	}
	defer db.CloseConnection(pool)

	limiter := ratelimit.NewLimiter(e.cfg.APIRatePerMinute)
	defer limiter.Close()

	server := &http.Server{
		Addr:         ":" + e.cfg.Port,
		Handler:      api.NewRouter(pool, limiter, e.log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		e.log.WithFields(logrus.Fields{"addr": server.Addr, "environment": e.cfg.Environment}).Info("REST API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	e.log.Info("Shutting down REST API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	fmt.Fprintln(stdout, "Server stopped")
	return nil
}
