package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	httptransport "github.com/conduit-ecg/annotator/internal/http"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(e *env) *cobra.Command {
	var inMemory bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the annotation HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := e.open(ctx, openOptions{inMemory: inMemory, migrate: true})
			if err != nil {
				return err
			}
			defer closeApp(ctx, a)

			listener, err := net.Listen("tcp", e.cfg.Addr())
			if err != nil {
				return err
			}
			return serve(ctx, a, listener)
		},
	}
	cmd.Flags().BoolVar(&inMemory, "memory", false, "keep all data in memory instead of SQLite")
	return cmd
}

func newHandler(a *app) http.Handler {
	logger := a.logger
	return httptransport.NewRouter(httptransport.RouterConfig{
		Segments:   httptransport.NewSegmentHandler(a.segments, a.annotations, logger),
		Annotators: httptransport.NewAnnotatorHandler(a.annotators, a.vocabulary, logger),
		Admin:      httptransport.NewAdminHandler(a.annotators, a.campaigns, logger),
		Middleware: []func(http.Handler) http.Handler{
			httptransport.RequestLogger(logger),
			httptransport.RequireBasicAuth(a.auth, logger),
		},
	})
}

// serve runs the API on listener until ctx is cancelled, then drains
// in-flight requests.
func serve(ctx context.Context, a *app, listener net.Listener) error {
	server := &http.Server{
		Handler:           newHandler(a),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	shutdownErr := make(chan error, 1)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		shutdownErr <- server.Shutdown(shutdownCtx)
	}()

	a.logger.InfoContext(ctx, "annotation API listening", "addr", listener.Addr().String())
	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	if err := <-shutdownErr; err != nil {
		a.logger.ErrorContext(ctx, "failed to shutdown server", "error", err)
		return err
	}
	a.logger.InfoContext(ctx, "annotation API stopped")
	return nil
}
