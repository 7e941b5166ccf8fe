// Command pixelgrid runs the shared pixel grid server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"pixelgrid/internal/app"
	"pixelgrid/internal/config"
	"pixelgrid/internal/identity"
	"pixelgrid/internal/logging"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configFile string
	envFile    string
	mintToken  string
	tokenTTL   time.Duration
}

func parseFlags(args []string, out io.Writer) (*options, error) {
	var opts options
	flagSet := pflag.NewFlagSet("pixelgrid", pflag.ContinueOnError)
	flagSet.SetOutput(out)
	flagSet.StringVarP(&opts.configFile, "config", "c", os.Getenv(config.EnvPrefix+"CONFIG_FILE"), "path to a JSON or YAML config file")
	flagSet.StringVar(&opts.envFile, "env-file", "", "path to a .env file (default: ./.env when present)")
	flagSet.StringVar(&opts.mintToken, "mint-token", "", "print a signed session token for this user id and exit")
	flagSet.DurationVar(&opts.tokenTTL, "token-ttl", 24*time.Hour, "lifetime of a minted token")

	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	return &opts, nil
}

func run(args []string, stdout io.Writer) error {
	opts, err := parseFlags(args, stdout)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.LoadConfigWithPrecedence(opts.envFile, opts.configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := logging.Configure(cfg.Log, os.Stderr); err != nil {
		return err
	}

	if opts.mintToken != "" {
		return mintToken(cfg.Auth, opts.mintToken, opts.tokenTTL, stdout)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApplication(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	if err := application.Start(ctx); err != nil {
		_ = application.Stop(context.Background())
		return fmt.Errorf("failed to start application: %w", err)
	}

	<-ctx.Done()
	logrus.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}

func mintToken(cfg *config.AuthConfig, userID string, ttl time.Duration, out io.Writer) error {
	if cfg.Mode != config.AuthModeJWT {
		return fmt.Errorf("--mint-token requires auth mode %q", config.AuthModeJWT)
	}
	verifier, err := identity.NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		return err
	}
	token, err := verifier.IssueToken(userID, ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
