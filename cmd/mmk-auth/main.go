// Command mmk-auth drives the passwordless auth SDK from a terminal: sign in, inspect
// and refresh the stored session, sign out and move the session between backends.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/target/mmk-auth/config"
	"github.com/target/mmk-auth/internal/bootstrap"
	"github.com/target/mmk-auth/internal/observability/statsd"
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
	Out    io.Writer
	// Build defaults to bootstrap.BuildClient; tests replace it.
	Build func(context.Context, bootstrap.ClientOptions) (*bootstrap.Client, error)
}

const defaultCommandTimeout = 30 * time.Second

func main() {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must signal configuration load failure to shell scripts
	}
	logger := bootstrap.InitLogger(cfg)

	if len(os.Args) < 2 {
		if err := printUsage(os.Stdout); err != nil {
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
		if err := printUsage(os.Stderr); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when command is unknown
	}

	cmdCtx := &commandContext{
		Ctx:    context.Background(),
		Logger: logger,
		Config: cfg,
		Out:    os.Stdout,
		Build:  bootstrap.BuildClient,
	}
	if runErr := cmd.run(cmdCtx, os.Args[2:]); runErr != nil {
		logger.ErrorContext(cmdCtx.Ctx, "command failed", "command", cmdName, "error", runErr)
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func commands() map[string]command {
	return map[string]command{
		"check-user": {
			name:        "check-user",
			description: "Report whether an account exists and has a passkey",
			run:         runCheckUser,
		},
		"magic-link": {
			name:        "magic-link",
			description: "Email a sign-in link",
			run:         runMagicLink,
		},
		"verify-magic-link": {
			name:        "verify-magic-link",
			description: "Complete sign-in with the token from a magic link",
			run:         runVerifyMagicLink,
		},
		"send-code": {
			name:        "send-code",
			description: "Email a one-time sign-in code",
			run:         runSendCode,
		},
		"verify-code": {
			name:        "verify-code",
			description: "Complete sign-in with an emailed code",
			run:         runVerifyCode,
		},
		"state": {
			name:        "state",
			description: "Print the stored session state",
			run:         runState,
		},
		"refresh": {
			name:        "refresh",
			description: "Refresh the stored tokens now",
			run:         runRefresh,
		},
		"token": {
			name:        "token",
			description: "Print a valid access token, refreshing it first when expired",
			run:         runToken,
		},
		"signout": {
			name:        "signout",
			description: "Sign out and clear stored credentials",
			run:         runSignOut,
		},
		"watch": {
			name:        "watch",
			description: "Keep the session refreshed and print auth events until interrupted",
			run:         runWatch,
		},
		"migrate-storage": {
			name:        "migrate-storage",
			description: "Move the stored session to another storage type or role",
			run:         runMigrateStorage,
		},
		"migrate": {
			name:        "migrate",
			description: "Apply the auth_storage schema for the postgres driver",
			run:         runMigrations,
		},
		"purge-storage": {
			name:        "purge-storage",
			description: "Delete expired sessions from the postgres driver table",
			run:         runPurgeStorage,
		},
	}
}

func printUsage(w io.Writer) error {
	if err := writef(w, "Usage: mmk-auth <command> [flags]\n\n"); err != nil {
		return err
	}
	if err := writef(w, "Available commands:\n"); err != nil {
		return err
	}
	cmds := commands()
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := writef(w, "  %-20s %s\n", name, cmds[name].description); err != nil {
			return err
		}
	}
	return nil
}

// commonFlags are accepted by every command that builds a client.
type commonFlags struct {
	Timeout     time.Duration
	JSON        bool
	DumpMetrics bool
}

func newFlagSet(name string) (*flag.FlagSet, *commonFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	common := &commonFlags{}
	fs.DurationVar(&common.Timeout, "timeout", defaultCommandTimeout, "Maximum duration for the command")
	fs.BoolVar(&common.JSON, "json", false, "Print results as JSON")
	fs.BoolVar(&common.DumpMetrics, "metrics", false, "Print recorded metrics instead of sending them to StatsD")
	return fs, common
}

// withClient builds a client, runs fn and releases the client. The context is
// canceled on SIGINT/SIGTERM; a non-positive timeout means no deadline.
func (cmdCtx *commandContext) withClient(common *commonFlags, fn func(ctx context.Context, c *bootstrap.Client) error) error {
	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if common.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, common.Timeout)
		defer cancel()
	}

	opts := bootstrap.ClientOptions{Config: cmdCtx.Config, Logger: cmdCtx.Logger}
	var recorder *statsd.Recorder
	if common.DumpMetrics {
		recorder = &statsd.Recorder{}
		opts.Metrics = recorder
	}

	build := cmdCtx.Build
	if build == nil {
		build = bootstrap.BuildClient
	}
	c, err := build(ctx, opts)
	if err != nil {
		return fmt.Errorf("build client: %w", err)
	}
	defer func() {
		if closeErr := c.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("client close failed", "error", closeErr)
		}
	}()

	runErr := fn(ctx, c)
	if recorder != nil {
		if err := printMetrics(cmdCtx.Out, recorder); err != nil && runErr == nil {
			runErr = err
		}
	}
	return runErr
}
