package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"visearch/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP facade with background timers",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(server.Options{
		Addr:              cfg.Server.Addr,
		APIKey:            cfg.ServerAPIKey(),
		Embed:             a.embed,
		Search:            a.search,
		Index:             a.index,
		EvidenceBatchSize: cfg.Scheduler.EvidenceBatchSize,
		SearchBatchSize:   cfg.Scheduler.SearchBatchSize,
		RecalcHoursOld:    cfg.Recalculation.HoursOld,
		Logger:            a.log,
	})

	if err := a.initialize(ctx); err != nil {
		return err
	}
	srv.SetReady(true)

	sched := a.newScheduler()
	sched.Start(ctx)
	defer sched.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
