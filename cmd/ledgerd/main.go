package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"certledger.org/internal/auth"
	"certledger.org/internal/config"
	"certledger.org/internal/ledger"
	"certledger.org/internal/ledger/remote"
	"certledger.org/internal/obs"
	"certledger.org/internal/store/kv"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "ledgerd: %v\n", err)
		os.Exit(2)
	}
	log := obs.Logger()
	if err := obs.SetLevel(cfg.Log.Level); err != nil {
		log.WithError(err).Fatal("invalid log level")
	}
	if err := cfg.ValidateNode(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	obs.InitBuildInfo("ledgerd", version, commit)

	// Callers prove their identity with tokens signed by the shared secret.
	if err := auth.SetSecret(cfg.Auth.Secret); err != nil {
		log.WithError(err).Fatal("auth secret rejected")
	}

	owner, _ := cfg.OwnerAddress()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	state, err := kv.Open(kv.Config{
		Path:       cfg.Ledger.Path,
		InMemory:   cfg.Ledger.Path == "",
		SyncWrites: true,
		Logger:     log,
	})
	if err != nil {
		log.WithError(err).Fatal("open ledger state")
	}
	defer func() {
		if err := state.Close(); err != nil {
			log.WithError(err).Warn("close ledger state")
		}
	}()

	contract, err := ledger.NewContract(ctx, state, owner)
	if err != nil {
		log.WithError(err).Fatal("open ledger")
	}
	actual, _ := contract.Owner(ctx)
	if actual != owner {
		log.WithFields(logrus.Fields{
			"configured": owner.String(),
			"stored":     actual.String(),
		}).Warn("ledger already owned by a different identity; configured owner ignored")
	}

	lis, err := net.Listen("tcp", cfg.Ledger.GRPCAddr)
	if err != nil {
		log.WithError(err).Fatal("listen")
	}
	srv, hs := remote.NewGRPCServer(contract, log)

	log.WithFields(logrus.Fields{
		"version": version,
		"addr":    lis.Addr().String(),
		"owner":   actual.String(),
		"path":    cfg.Ledger.Path,
	}).Info("starting ledgerd")

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(lis) }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			log.WithError(err).Error("grpc serve failed")
		}
	}
	log.Info("shutting down")
	hs.Shutdown()
	srv.GracefulStop()
	log.Info("stopped")
}
