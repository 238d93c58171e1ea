package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/critic/internal/api"
	"github.com/joescharf/critic/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the analysis API server and worker pool",
	Long: `Start the HTTP API and the background worker pool.

On startup, tasks left in a non-terminal state by a previous run are
re-dispatched. By default the server listens on port 8080; use --port
to change it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRun()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on")
	_ = viper.BindPFlag("port", serveCmd.Flags().Lookup("port"))
}

func serveRun() error {
	st, err := getStore()
	if err != nil {
		return err
	}

	logger := newServerLogger()
	eng, err := buildEngine(st, logger)
	if err != nil {
		return err
	}
	svc := service.New(st, eng, logger)
	srv := api.NewServer(svc, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng.Start(ctx)
	defer eng.Stop()
	if err := eng.Recover(ctx); err != nil {
		logger.Warn("recovery failed", "error", err)
	}

	addr := fmt.Sprintf(":%d", viper.GetInt("port"))
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving", "addr", addr)
	if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
