package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/procurely/outreach/config"
	"github.com/procurely/outreach/internal/bootstrap"
)

type commandFn func(ctx *commandContext, args []string) error

type command struct {
	name        string
	description string
	run         commandFn
}

type commandContext struct {
	Ctx    context.Context
	Logger *slog.Logger
	Config config.AppConfig
}

const (
	defaultMigrationTimeout = 5 * time.Minute
	defaultCommandTimeout   = 2 * time.Minute
)

func main() {
	logger := bootstrap.InitLogger()

	if len(os.Args) < 2 {
		if err := printUsage(); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when no command is provided
	}

	cmdName := os.Args[1]
	cmd, ok := commands()[cmdName]
	if !ok {
		if err := writef(os.Stderr, "unknown command %q\n\n", cmdName); err != nil {
			logger.Error("print unknown command message failed", "error", err)
		}
		if err := printUsage(); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when command is unknown
	}

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logger.ErrorContext(context.Background(), "load config", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must signal configuration load failure to shell scripts
	}

	cmdCtx := &commandContext{
		Ctx:    context.Background(),
		Logger: logger,
		Config: cfg,
	}
	if runErr := cmd.run(cmdCtx, os.Args[2:]); runErr != nil {
		logger.ErrorContext(cmdCtx.Ctx, "command failed", "command", cmdName, "error", runErr)
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func commands() map[string]command {
	return map[string]command{
		"migrate": {
			name:        "migrate",
			description: "Run database migrations",
			run:         runMigrate,
		},
		"launch": {
			name:        "launch",
			description: "Launch a campaign against a recipient segment",
			run:         runLaunch,
		},
		"create-sequence": {
			name:        "create-sequence",
			description: "Create a drip sequence definition from a JSON file",
			run:         runCreateSequence,
		},
		"launch-sequence": {
			name:        "launch-sequence",
			description: "Enroll one recipient into a sequence definition",
			run:         runLaunchSequence,
		},
		"cancel-sequence": {
			name:        "cancel-sequence",
			description: "Cancel a scheduled sequence instance and its pending jobs",
			run:         runCancelSequence,
		},
		"stats": {
			name:        "stats",
			description: "Show aggregated delivery stats for a campaign",
			run:         runStats,
		},
		"rebuild-stats": {
			name:        "rebuild-stats",
			description: "Rebuild cached campaign counters from the event store",
			run:         runRebuildStats,
		},
		"queue-stats": {
			name:        "queue-stats",
			description: "Show delivery queue depth by status",
			run:         runQueueStats,
		},
		"seed-directory": {
			name:        "seed-directory",
			description: "Upsert recipient records from a JSON file",
			run:         runSeedDirectory,
		},
	}
}

func printUsage() error {
	if err := writef(os.Stdout, "Usage: outreach-admin <command> [flags]\n\n"); err != nil {
		return err
	}
	if err := writef(os.Stdout, "Available commands:\n"); err != nil {
		return err
	}
	cmds := commands()
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := writef(os.Stdout, "  %-18s %s\n", name, cmds[name].description); err != nil {
			return err
		}
	}
	return nil
}

func runMigrate(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	timeout := fs.Duration("timeout", defaultMigrationTimeout, "migration timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, *timeout)
	defer cancel()

	db, err := connectDB(cmdCtx)
	if err != nil {
		return err
	}
	defer closeQuietly(cmdCtx.Logger, "db", db)

	return bootstrap.RunMigrations(ctx, db, cmdCtx.Logger)
}

func runQueueStats(cmdCtx *commandContext, _ []string) error {
	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	env, err := openAdminEnv(cmdCtx, false)
	if err != nil {
		return err
	}
	defer env.Close(cmdCtx.Logger)

	stats, err := env.Services.Queue.Stats(ctx)
	if err != nil {
		return fmt.Errorf("queue stats: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	rows := []struct {
		label string
		value int
	}{
		{"pending", stats.Pending},
		{"scheduled", stats.Scheduled},
		{"in_flight", stats.InFlight},
		{"retrying", stats.Retrying},
		{"succeeded", stats.Succeeded},
		{"dead", stats.Dead},
		{"depth", stats.Depth()},
	}
	for _, row := range rows {
		if err := writef(w, "%s\t%d\n", row.label, row.value); err != nil {
			return err
		}
	}
	return w.Flush()
}

func writef(w io.Writer, format string, args ...any) error {
	if _, err := fmt.Fprintf(w, format, args...); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

func closeQuietly(logger *slog.Logger, name string, closer io.Closer) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logger.Warn("close failed", "target", name, "error", err)
	}
}
