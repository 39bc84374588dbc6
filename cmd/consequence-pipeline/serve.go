// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdiddy/consequence-pipeline/internal/pipeline"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP cron trigger",
	Long: `Serve listens for GET /api/cron and runs the pipeline synchronously for
each request, replying "Success: ..." with status 200 or "Error: ..." with
status 500. A request that arrives while a run is in progress is rejected
with status 409. GET /healthz reports liveness.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", ":8080", "listen address")
	serveCmd.Flags().Bool("dry-run", false, "do not write to the production store")
	serveCmd.Flags().StringSlice("topics", nil, "topics to search (overrides config)")

	rootCmd.AddCommand(serveCmd)
}

// pipelineRunner is the part of *pipeline.Runner the trigger needs.
type pipelineRunner interface {
	Run(ctx context.Context) (pipeline.Report, error)
}

func newTriggerMux(r pipelineRunner, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/cron", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		// The run outlives the caller: a client that gives up must not
		// discard a half-finished run.
		rep, err := r.Run(context.WithoutCancel(req.Context()))
		switch {
		case errors.Is(err, pipeline.ErrRunInProgress):
			w.WriteHeader(http.StatusConflict)
			fmt.Fprintf(w, "Error: %v", err)
		case err != nil:
			logger.Error("triggered run failed", "run_id", rep.RunID, "error", err)
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprintf(w, "Error: %v", err)
		default:
			fmt.Fprintf(w, "Success: %s", rep.Message())
		}
	})

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})
	return mux
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, dryRun, err := commandConfig(cmd)
	if err != nil {
		return err
	}
	r, closeStore, err := buildRunner(cfg, dryRun, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	addr, _ := cmd.Flags().GetString("addr")
	server := &http.Server{
		Addr:              addr,
		Handler:           newTriggerMux(r, logger),
		ReadHeaderTimeout: 30 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving cron trigger", "addr", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
