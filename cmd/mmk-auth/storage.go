package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/target/mmk-auth/config"
	"github.com/target/mmk-auth/internal/adapters/postgres"
	"github.com/target/mmk-auth/internal/adapters/reaper"
	"github.com/target/mmk-auth/internal/bootstrap"
	domainauth "github.com/target/mmk-auth/internal/domain/auth"
)

const defaultMigrationTimeout = 5 * time.Minute

type migrateStorageOptions struct {
	Type    string
	Role    string
	Timeout time.Duration
}

func runMigrateStorage(cmdCtx *commandContext, args []string) error {
	fs, common := newFlagSet("migrate-storage")
	var opts migrateStorageOptions
	fs.StringVar(&opts.Type, "type", "", "Target storage type: session, local or custom")
	fs.StringVar(&opts.Role, "role", "", "Target user role: guest, employee or admin")
	fs.DurationVar(&opts.Timeout, "session-timeout", 0, "Idle timeout override for the target (0 keeps the role default)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	update, err := opts.update()
	if err != nil {
		return err
	}

	return cmdCtx.withClient(common, func(ctx context.Context, c *bootstrap.Client) error {
		from := c.Auth.StorageConfiguration()
		res, err := c.Auth.UpdateStorageConfiguration(ctx, update)
		if err != nil {
			return err
		}
		to := c.Auth.StorageConfiguration()
		if common.JSON {
			return writeJSON(cmdCtx.Out, map[string]any{
				"from":            from.Type,
				"to":              to.Type,
				"role":            to.UserRole,
				"tokensPreserved": res.TokensPreserved,
			})
		}
		return writef(cmdCtx.Out, "Moved session from %s to %s (role %s, tokens preserved: %t)\n",
			from.Type, to.Type, to.UserRole, res.TokensPreserved)
	})
}

func (o migrateStorageOptions) update() (domainauth.StorageUpdate, error) {
	var upd domainauth.StorageUpdate
	if o.Type != "" {
		kind, err := domainauth.ParseStorageType(o.Type)
		if err != nil {
			return upd, err
		}
		upd.Type = &kind
	}
	if o.Role != "" {
		role, err := domainauth.ParseRole(o.Role)
		if err != nil {
			return upd, err
		}
		upd.UserRole = &role
	}
	if o.Timeout < 0 {
		return upd, errors.New("--session-timeout cannot be negative")
	}
	if o.Timeout > 0 {
		upd.SessionTimeout = &o.Timeout
	}
	if upd.Type == nil && upd.UserRole == nil && upd.SessionTimeout == nil {
		return upd, errors.New("at least one of --type, --role or --session-timeout is required")
	}
	return upd, nil
}

func runMigrations(cmdCtx *commandContext, args []string) error {
	fs, common := newFlagSet("migrate")
	common.Timeout = defaultMigrationTimeout
	if err := fs.Parse(args); err != nil {
		return err
	}

	return cmdCtx.withDatabase(common.Timeout, func(ctx context.Context, db *sql.DB) error {
		cmdCtx.Logger.Info("running auth storage migrations")
		if err := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		return writeln(cmdCtx.Out, "Migrations completed.")
	})
}

func runPurgeStorage(cmdCtx *commandContext, args []string) error {
	fs, common := newFlagSet("purge-storage")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return cmdCtx.withDatabase(common.Timeout, func(ctx context.Context, db *sql.DB) error {
		backend, err := postgres.NewBackend(postgres.Options{DB: db, Namespace: cmdCtx.Config.Postgres.Namespace})
		if err != nil {
			return err
		}
		runner, err := reaper.NewRunner(reaper.RunnerOptions{Purger: backend, Logger: cmdCtx.Logger})
		if err != nil {
			return err
		}
		removed, err := runner.RunOnce(ctx)
		if err != nil {
			return err
		}
		return writef(cmdCtx.Out, "Removed %d expired sessions.\n", removed)
	})
}

// withDatabase connects to the postgres driver database directly; the SDK client is
// not built so a broken identity API configuration does not block maintenance.
func (cmdCtx *commandContext) withDatabase(timeout time.Duration, fn func(ctx context.Context, db *sql.DB) error) error {
	if cmdCtx.Config.Storage.CustomDriver != config.CustomDriverPostgres {
		cmdCtx.Logger.Warn("AUTH_STORAGE_CUSTOM_DRIVER is not postgres; using DB_* settings anyway")
	}

	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{
		DBConfig: cmdCtx.Config.Postgres,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("db close failed", "error", closeErr)
		}
	}()

	return fn(ctx, db)
}
