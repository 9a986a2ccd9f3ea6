package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	offlineworker "github.com/always-cache/offline-worker"
)

var installOnStartFlag bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the application through the worker",
	Long: `Serve proxies the origin through the worker.

The shell is installed and activated on start unless --install=false is given.
A failed install is logged and the previous generations keep serving.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&installOnStartFlag, "install", true, "Install and activate the shell on start")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := config.openStore(&log.Logger)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	worker := offlineworker.New(config.workerConfig(store, &log.Logger))
	if installOnStartFlag {
		if err := worker.Dispatch(ctx, offlineworker.Event{Trigger: offlineworker.TriggerInstall}); err != nil {
			log.Warn().Err(err).Msg("Install failed, serving previous generations")
		}
	}
	go worker.Run(ctx)

	server := &http.Server{
		Addr:    config.Listen,
		Handler: worker.Router(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Info().Msgf("Proxying %s to %s (with hostname '%s')", config.Listen, config.Origin, config.Host)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	worker.Wait()
	return nil
}
