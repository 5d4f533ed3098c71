package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/mariahpope/anemoi-training/internal/app"
	"github.com/mariahpope/anemoi-training/internal/observability"
	"github.com/mariahpope/anemoi-training/internal/prompt"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	cmd := &cli.Command{
		Name:  "anemoi-mlflow",
		Usage: "MLflow token authority for Anemoi training runs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
		},
		Commands: []*cli.Command{
			loginCommand(),
			tokenCommand(),
		},
	}

	return cmd.Run(ctx, args)
}

// commonFlags are shared by every subcommand and mirror config keys.
func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "log-format",
			Usage: "log format (text|json)",
			Value: string(app.DefaultConfigLogFormat),
		},
		&cli.StringFlag{
			Name:  "server--url",
			Usage: "token server URL",
		},
		&cli.StringFlag{
			Name:  "auth--storage",
			Usage: "refresh token storage backend (file|keyring)",
			Value: string(app.DefaultConfigAuthStorage),
		},
		&cli.StringFlag{
			Name:  "auth--file",
			Usage: "path to the refresh token record (file storage)",
		},
	}
}

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "acquire a refresh token, run once before starting a training run",
		Flags: append(commonFlags(),
			&cli.BoolFlag{
				Name:  "force-credentials",
				Usage: "prompt for username and password even if a refresh token is available",
			},
		),
		Action: loginAction,
	}
}

func loginAction(ctx context.Context, cmd *cli.Command) error {
	authority, err := setup(cmd)
	if err != nil {
		return err
	}

	if err := authority.Login(ctx, cmd.Bool("force-credentials")); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	return nil
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:   "token",
		Usage:  "print a valid access token for the tracking service",
		Flags:  commonFlags(),
		Action: tokenAction,
	}
}

func tokenAction(ctx context.Context, cmd *cli.Command) error {
	authority, err := setup(cmd)
	if err != nil {
		return err
	}

	if !authority.Enabled() {
		return fmt.Errorf("authentication is disabled")
	}

	if err := authority.Authenticate(ctx); err != nil {
		return err
	}

	fmt.Fprintln(cmd.Writer, authority.CurrentAccessToken())
	return nil
}

// setup loads configuration, instruments logging, and builds the authority.
func setup(cmd *cli.Command) (authority, error) {
	cfg, err := loadConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Set up observability before any component logs
	if err := observability.Instrument(cfg.LogLevel, string(cfg.LogFormat), cfg.LogExport); err != nil {
		return nil, fmt.Errorf("failed to set up observability layer: %w", err)
	}

	a, err := cfg.NewAuthority(prompt.NewTerminal())
	if err != nil {
		return nil, fmt.Errorf("failed to create token authority: %w", err)
	}
	return a, nil
}

// authority is the slice of the token authority the CLI drives.
type authority interface {
	Login(ctx context.Context, forceCredentials bool) error
	Authenticate(ctx context.Context) error
	CurrentAccessToken() string
	Enabled() bool
}
