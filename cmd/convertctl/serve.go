package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tendant/simple-convert-tracker/internal/api"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Track jobs behind a local HTTP API",
	Long: `Runs a tracking session and exposes it over HTTP: submit files or URLs,
list and inspect jobs, cancel them and clear the list.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := sessionFrom(cmd.Context())
		if err != nil {
			return err
		}
		addr := serveAddr
		if addr == "" {
			addr = s.cfg.ListenAddr
		}

		if s.cfg.LogLevel > slog.LevelDebug {
			gin.SetMode(gin.ReleaseMode)
		}
		router := api.NewRouter(api.NewHandler(s.tracker, s.cfg.Mode, s.logger))
		srv := &http.Server{Addr: addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		g, ctx := errgroup.WithContext(ctx)

		g.Go(func() error { return s.tracker.Run(ctx) })
		g.Go(func() error {
			s.logger.Info("api listening", "addr", addr, "backend", s.cfg.APIURL, "progress_subject", s.cfg.ProgressSubject)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from LISTEN_ADDR)")
	rootCmd.AddCommand(serveCmd)
}
