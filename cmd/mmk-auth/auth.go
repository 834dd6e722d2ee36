package main

import (
	"context"
	"errors"
	"flag"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/target/mmk-auth/internal/bootstrap"
	domainauth "github.com/target/mmk-auth/internal/domain/auth"
	"github.com/target/mmk-auth/internal/events"
)

func requireArg(fs *flag.FlagSet, name string) (string, error) {
	v := strings.TrimSpace(fs.Arg(0))
	if v == "" {
		return "", errors.New(name + " argument is required")
	}
	return v, nil
}

func runCheckUser(cmdCtx *commandContext, args []string) error {
	fs, common := newFlagSet("check-user")
	if err := fs.Parse(args); err != nil {
		return err
	}
	email, err := requireArg(fs, "email")
	if err != nil {
		return err
	}

	return cmdCtx.withClient(common, func(ctx context.Context, c *bootstrap.Client) error {
		res, err := c.Auth.CheckUser(ctx, email)
		if err != nil {
			return err
		}
		if common.JSON {
			return writeJSON(cmdCtx.Out, res)
		}
		return printCheckUser(cmdCtx.Out, email, res)
	})
}

func runMagicLink(cmdCtx *commandContext, args []string) error {
	fs, common := newFlagSet("magic-link")
	if err := fs.Parse(args); err != nil {
		return err
	}
	email, err := requireArg(fs, "email")
	if err != nil {
		return err
	}

	return cmdCtx.withClient(common, func(ctx context.Context, c *bootstrap.Client) error {
		res, err := c.Auth.SignInWithMagicLink(ctx, email)
		if err != nil {
			return err
		}
		if common.JSON {
			return writeJSON(cmdCtx.Out, res)
		}
		msg := res.Message
		if msg == "" {
			msg = "Check your email for a sign-in link."
		}
		return writeln(cmdCtx.Out, msg)
	})
}

func runVerifyMagicLink(cmdCtx *commandContext, args []string) error {
	fs, common := newFlagSet("verify-magic-link")
	if err := fs.Parse(args); err != nil {
		return err
	}
	token, err := requireArg(fs, "token")
	if err != nil {
		return err
	}

	return cmdCtx.withClient(common, func(ctx context.Context, c *bootstrap.Client) error {
		st, err := c.Auth.CompleteMagicLink(ctx, token)
		if err != nil {
			return err
		}
		return printState(cmdCtx.Out, st, common.JSON)
	})
}

func runSendCode(cmdCtx *commandContext, args []string) error {
	fs, common := newFlagSet("send-code")
	if err := fs.Parse(args); err != nil {
		return err
	}
	email, err := requireArg(fs, "email")
	if err != nil {
		return err
	}

	return cmdCtx.withClient(common, func(ctx context.Context, c *bootstrap.Client) error {
		if err := c.Auth.SendEmailCode(ctx, email); err != nil {
			return err
		}
		return writeln(cmdCtx.Out, "Check your email for a sign-in code.")
	})
}

func runVerifyCode(cmdCtx *commandContext, args []string) error {
	fs, common := newFlagSet("verify-code")
	var code string
	fs.StringVar(&code, "code", "", "One-time code from the email")
	if err := fs.Parse(args); err != nil {
		return err
	}
	email, err := requireArg(fs, "email")
	if err != nil {
		return err
	}

	return cmdCtx.withClient(common, func(ctx context.Context, c *bootstrap.Client) error {
		st, err := c.Auth.SignInWithEmailCode(ctx, email, code)
		if err != nil {
			return err
		}
		return printState(cmdCtx.Out, st, common.JSON)
	})
}

func runState(cmdCtx *commandContext, args []string) error {
	fs, common := newFlagSet("state")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return cmdCtx.withClient(common, func(_ context.Context, c *bootstrap.Client) error {
		return printState(cmdCtx.Out, c.Auth.State(), common.JSON)
	})
}

func runRefresh(cmdCtx *commandContext, args []string) error {
	fs, common := newFlagSet("refresh")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return cmdCtx.withClient(common, func(ctx context.Context, c *bootstrap.Client) error {
		st, err := c.Auth.RefreshTokens(ctx)
		if err != nil {
			return err
		}
		return printState(cmdCtx.Out, st, common.JSON)
	})
}

// runToken prints the bare access token so it can be used in shell pipelines.
func runToken(cmdCtx *commandContext, args []string) error {
	fs, common := newFlagSet("token")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return cmdCtx.withClient(common, func(ctx context.Context, c *bootstrap.Client) error {
		tok, err := c.Auth.TokenSource(ctx).Token()
		if err != nil {
			return err
		}
		if common.JSON {
			return writeJSON(cmdCtx.Out, map[string]any{
				"accessToken": tok.AccessToken,
				"tokenType":   tok.Type(),
				"expiry":      tok.Expiry,
			})
		}
		return writeln(cmdCtx.Out, tok.AccessToken)
	})
}

func runSignOut(cmdCtx *commandContext, args []string) error {
	fs, common := newFlagSet("signout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return cmdCtx.withClient(common, func(ctx context.Context, c *bootstrap.Client) error {
		if err := c.Auth.SignOut(ctx); err != nil {
			return err
		}
		return writeln(cmdCtx.Out, "Signed out.")
	})
}

// runWatch keeps the process alive so the refresh scheduler and, for the postgres
// driver, the expired-row reaper keep running.
func runWatch(cmdCtx *commandContext, args []string) error {
	fs, common := newFlagSet("watch")
	if err := fs.Parse(args); err != nil {
		return err
	}
	// watch runs until interrupted unless -timeout is given explicitly
	if !isFlagSet(fs, "timeout") {
		common.Timeout = 0
	}

	return cmdCtx.withClient(common, func(ctx context.Context, c *bootstrap.Client) error {
		g, ctx := errgroup.WithContext(ctx)

		printer := &eventPrinter{out: cmdCtx.Out, json: common.JSON}
		for _, name := range allEvents {
			defer c.Auth.On(name, printer.print)()
		}
		if err := printState(cmdCtx.Out, c.Auth.State(), common.JSON); err != nil {
			return err
		}

		if c.Reaper != nil {
			g.Go(func() error { return c.Reaper.Run(ctx) })
		}
		g.Go(func() error {
			<-ctx.Done()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		})
		return g.Wait()
	})
}

var allEvents = []events.Name{
	events.SignInStarted,
	events.SignInSuccess,
	events.SignInError,
	events.TokenRefreshed,
	events.RefreshError,
	events.SessionExpired,
	events.SignedOut,
	events.StorageMigrated,
}

// isFlagSet reports whether name was given on the command line.
func isFlagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// sessionState is the printable view of AuthState; token values are masked.
type sessionState struct {
	State     domainauth.StateKind  `json:"state"`
	Email     string                `json:"email,omitempty"`
	UserID    string                `json:"userId,omitempty"`
	Method    domainauth.AuthMethod `json:"method,omitempty"`
	Access    string                `json:"accessToken,omitempty"`
	Refresh   bool                  `json:"hasRefreshToken"`
	ExpiresAt string                `json:"expiresAt,omitempty"`
	Error     string                `json:"error,omitempty"`
}
