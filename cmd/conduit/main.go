package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conduit-ecg/annotator/internal/config"
	"github.com/conduit-ecg/annotator/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(config.Load).ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// env carries what every subcommand needs before it opens the store.
type env struct {
	loadConfig func() (config.Config, error)
	cfg        config.Config
	logger     *slog.Logger
}

func newRootCmd(loadConfig func() (config.Config, error)) *cobra.Command {
	e := &env{loadConfig: loadConfig}

	root := &cobra.Command{
		Use:           "conduit",
		Short:         "ECG segment annotation service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := e.loadConfig()
			if err != nil {
				return err
			}
			e.cfg = cfg
			e.logger = newLogger(cmd.ErrOrStderr(), cmd.Name(), cfg)
			return nil
		},
	}

	root.AddCommand(
		newServeCmd(e),
		newMigrateCmd(e),
		newSeedCmd(e),
		newImportCampaignsCmd(e),
		newAddAnnotatorCmd(e),
		newResetPasswordCmd(e),
		newClassesCmd(e),
		newAuditCmd(e),
	)
	return root
}

// newLogger selects the configured handler for the server and a text handler
// for one-shot commands.
func newLogger(w io.Writer, command string, cfg config.Config) *slog.Logger {
	format := "text"
	if command == "serve" {
		format = cfg.LogFormat
	}
	return logging.New(w, format, cfg.LogLevel)
}

// open builds the application over the configured store.
func (e *env) open(ctx context.Context, opts openOptions) (*app, error) {
	return openApp(ctx, e.cfg, e.logger, opts)
}

func closeApp(ctx context.Context, a *app) {
	if err := a.Close(context.WithoutCancel(ctx)); err != nil {
		a.logger.ErrorContext(ctx, "failed to close storage", "error", err)
	}
}
