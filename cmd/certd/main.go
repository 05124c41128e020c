package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"certledger.org/internal/auth"
	"certledger.org/internal/config"
	"certledger.org/internal/httpapi"
	"certledger.org/internal/obs"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "certd: %v\n", err)
		os.Exit(2)
	}
	log := obs.Logger()
	if err := obs.SetLevel(cfg.Log.Level); err != nil {
		log.WithError(err).Fatal("invalid log level")
	}
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	// Инициализация observability (регистрация метрик, build_info)
	obs.Init()
	obs.InitBuildInfo("certd", version, commit)

	if err := auth.SetSecret(cfg.Auth.Secret); err != nil {
		log.WithError(err).Fatal("auth secret rejected")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := wire(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("startup failed")
	}
	defer deps.close()

	stopFollow := deps.stream.StartFollow(deps.registry, 0, cfg.Ledger.PollEvery, log)

	api := httpapi.New(httpapi.Options{
		Certs:           deps.certs,
		Registry:        deps.registry,
		Audit:           deps.audit,
		Stream:          deps.stream,
		Ready:           deps.ready,
		Version:         version,
		AllowTokenIssue: cfg.Auth.AllowTokenIssue,
		TokenTTL:        cfg.Auth.TokenTTL,
		MaxBodyBytes:    cfg.HTTP.MaxBodyBytes,
		RateLimitRPS:    cfg.HTTP.RateLimitRPS,
		RateLimitBurst:  cfg.HTTP.RateLimitBurst,
		CORSOrigins:     cfg.HTTP.CORSOrigins,
		Logger:          log,
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		// Event streams are long-lived; handlers bound their own writes.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	log.WithFields(logrus.Fields{
		"version":     version,
		"addr":        srv.Addr,
		"ledger_mode": cfg.Ledger.Mode,
		"blob":        cfg.Blob.Backend,
	}).Info("starting certd")

	// graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			log.WithError(err).Error("listen failed")
		}
	}
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown incomplete")
	}
	stopFollow()
	log.Info("stopped")
}
