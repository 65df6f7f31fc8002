package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"remindflow/internal/api"
	"remindflow/internal/delivery"
	"remindflow/internal/extract"
	"remindflow/internal/intake"
	"remindflow/internal/scheduler"
)

func newServeCmd(a *app) *cobra.Command {
	var debug bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server and the reminder poller",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context(), debug)
		},
	}
	cmd.Flags().BoolVar(&debug, "debug", false, "expose pprof handlers")
	return cmd
}

func (a *app) serve(ctx context.Context, debug bool) error {
	log := a.log
	s, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	log.Info().Str("driver", a.cfg.Store.Driver).Msg("database initialized")

	hook := delivery.NewWebhook(a.cfg.Delivery.WebhookURL, a.cfg.Delivery.Timeout, log)
	poller := scheduler.NewPoller(s, hook,
		scheduler.WithInterval(a.cfg.Poller.Interval),
		scheduler.WithLogger(log),
	)
	in := intake.New(extract.New(), s, log)

	poller.Start()

	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           api.NewServerWithDebug(in, s, poller, log, debug),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sig:
	case err = <-errc:
		log.Error().Err(err).Msg("http server")
	}
	log.Info().Msg("shutting down")

	ctxTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxTimeout)
	if stopErr := poller.Stop(ctxTimeout); stopErr != nil {
		log.Warn().Err(stopErr).Msg("poller did not stop cleanly")
	}
	return err
}
