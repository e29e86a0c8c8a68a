package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"voice-campaigns/internal/auth"
	"voice-campaigns/internal/httpapi"
	"voice-campaigns/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var serveSweep bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve provider webhooks and the ops API",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Root context that cancels on shutdown
		rootCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(rootCtx)
		if err != nil {
			return err
		}
		defer a.Close()

		authManager, err := auth.NewManager(cfg.Auth)
		if err != nil {
			return err
		}
		if cfg.Provider.WebhookSecret == "" {
			log.Warn("PROVIDER_WEBHOOK_SECRET not set; every webhook will be rejected with 500")
		}

		if cfg.IsProduction() {
			gin.SetMode(gin.ReleaseMode)
		}
		r := gin.New()
		r.Use(gin.Recovery())
		r.Use(logger.Middleware(log))

		httpapi.Register(r,
			httpapi.Handlers{
				Auth:      authManager,
				Ledger:    a.ledger,
				Reporting: a.reporting,
				Campaigns: a.campaigns,
				Audio:     a.provider,
				Settler:   a.engine,
				Sweeper:   a.sweeper,
				Audit:     a.audit,
				DevLogin:  cfg.App.Env == "local" || cfg.App.Env == "dev",
			},
			httpapi.WebhookHandler{
				Secret: cfg.Provider.WebhookSecret,
				Engine: a.engine,
				Audit:  a.audit,
			},
			auth.RequireAccessToken(authManager),
			a.ledger,
		)

		srv := &http.Server{
			Addr:              cfg.HTTPAddr(),
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		if serveSweep {
			go func() {
				_ = a.sweeper.Run(rootCtx)
			}()
		}

		go func() {
			log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server failed", "err", err)
				stop()
			}
		}()

		<-rootCtx.Done()
		log.Info("shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("http shutdown failed", "err", err)
		}
		return logger.ShutdownFlush(shutdownCtx, 2*time.Second)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveSweep, "sweep", true, "run the cleanup sweeper in-process")
}
