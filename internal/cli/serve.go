package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/parsekit/internal/config"
	"github.com/roach88/parsekit/internal/devserver"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Database string
	Addr     string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local REST emulator",
		Long: `Run a local emulator of the REST API backed by SQLite.

The emulator accepts the application id and keys of the configured
environment. When the models directory exists, writes are type-checked
against it; otherwise any class is accepted.

Point a client at it with base_url: http://localhost:1337/1`,
		Example: `  parsekit serve --db ./dev.db
  PARSE_APPLICATION_ID=dev PARSE_REST_API_KEY=dev parsekit serve --db :memory: --addr :8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.Addr, "addr", ":1337", "listen address")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runServer(opts *ServeOptions, cmd *cobra.Command) error {
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	cfg, err := config.Load(opts.ConfigPath, opts.Environment)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	serverOpts := []devserver.Option{devserver.WithLogger(logger)}
	if _, err := os.Stat(opts.ModelsDir); err == nil {
		registry, err := loadRegistry(opts.ModelsDir)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load models", err)
		}
		serverOpts = append(serverOpts, devserver.WithRegistry(registry))
		logger.Info("models loaded", "dir", opts.ModelsDir, "classes", registry.ClassNames())
	}

	logger.Info("opening database", "path", opts.Database)
	st, err := devserver.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	srv := devserver.New(st, devserver.Keys{
		ApplicationID: cfg.ApplicationID,
		RESTAPIKey:    cfg.APIKey,
		MasterKey:     cfg.MasterKey,
	}, serverOpts...)

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(cmd.OutOrStdout(), "Emulator listening on %s%s\n", opts.Addr, srv.Prefix())
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	if err := srv.Run(ctx, opts.Addr); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "server error", err)
	}
	return nil
}
