package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"certledger.org/internal/audit"
	"certledger.org/internal/blob"
	"certledger.org/internal/certs"
	"certledger.org/internal/config"
	"certledger.org/internal/fingerprint"
	"certledger.org/internal/httpapi"
	"certledger.org/internal/ledger"
	"certledger.org/internal/ledger/cache"
	"certledger.org/internal/ledger/remote"
	"certledger.org/internal/migrate"
	"certledger.org/internal/sealbox"
	"certledger.org/internal/store/kv"
	"certledger.org/internal/store/pg"
	"certledger.org/internal/stream"
)

// deps holds the wired service graph and what must be closed on exit.
type deps struct {
	registry ledger.Registry
	certs    *certs.Service
	audit    audit.Store
	stream   *stream.Stream
	ready    httpapi.ReadyProbe
	closers  []func() error
	log      logrus.FieldLogger
}

func (d *deps) onClose(fn func() error) { d.closers = append(d.closers, fn) }

func (d *deps) check(name string, fn func(context.Context) error) {
	if d.ready.Checks == nil {
		d.ready.Checks = make(map[string]func(context.Context) error)
	}
	d.ready.Checks[name] = fn
}

// close releases resources in reverse order of acquisition.
func (d *deps) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.log.WithError(err).Warn("close failed")
		}
	}
}

func wire(ctx context.Context, cfg *config.Config, log *logrus.Logger) (d *deps, err error) {
	d = &deps{stream: stream.New(), log: log}
	defer func() {
		if err != nil {
			d.close()
		}
	}()

	if d.registry, err = openRegistry(ctx, cfg, d, log); err != nil {
		return d, err
	}
	if cfg.Cache.RedisAddr != "" {
		rc := cache.NewClient(cfg.Cache.RedisAddr, cfg.Cache.RedisDB)
		d.onClose(rc.Close)
		cached := cache.New(d.registry, rc, cfg.Cache.TTL, log)
		d.check("redis", cached.Ping)
		d.registry = cached
	}

	blobs, err := openBlobs(ctx, cfg, log)
	if err != nil {
		return d, err
	}
	if d.audit, err = openAudit(ctx, cfg, d, log); err != nil {
		return d, err
	}

	key, err := cfg.MetadataKey()
	if err != nil {
		return d, err
	}
	box, err := sealbox.New(key)
	if err != nil {
		return d, err
	}
	hasher, err := fingerprint.NewHasher(fingerprint.Algorithm(cfg.Crypto.HashAlgorithm))
	if err != nil {
		return d, err
	}
	d.certs, err = certs.New(certs.Config{
		Registry: d.registry,
		Blobs:    blobs,
		Box:      box,
		Hasher:   hasher,
		Mirror:   audit.NewMirror(d.audit, log),
		Logger:   log,
	})
	return d, err
}

func openRegistry(ctx context.Context, cfg *config.Config, d *deps, log *logrus.Logger) (ledger.Registry, error) {
	if cfg.Ledger.Mode == config.LedgerRemote {
		client, err := remote.Dial(cfg.Ledger.RemoteAddr, cfg.Ledger.CallTimeout)
		if err != nil {
			return nil, fmt.Errorf("dial ledger node: %w", err)
		}
		d.onClose(client.Close)
		hc := healthpb.NewHealthClient(client.Conn())
		d.check("ledger", func(ctx context.Context) error {
			resp, err := hc.Check(ctx, &healthpb.HealthCheckRequest{Service: remote.ServiceName}, grpc.CallContentSubtype("proto"))
			if err != nil {
				return err
			}
			if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
				return fmt.Errorf("status %s", resp.GetStatus())
			}
			return nil
		})
		return client.Registry(), nil
	}

	owner, err := cfg.OwnerAddress()
	if err != nil {
		return nil, err
	}
	if cfg.Ledger.Path == "" {
		log.Warn("ledger.path not set; running an in-memory ledger")
		return ledger.NewInMemory(owner)
	}
	state, err := kv.Open(kv.Config{Path: cfg.Ledger.Path, SyncWrites: true, Logger: log})
	if err != nil {
		return nil, err
	}
	d.onClose(state.Close)
	return ledger.NewContract(ctx, state, owner)
}

func openBlobs(ctx context.Context, cfg *config.Config, log *logrus.Logger) (blob.Store, error) {
	local, err := blob.NewLocal(cfg.Blob.LocalDir)
	if err != nil {
		return nil, err
	}
	if cfg.Blob.Backend != blob.SchemeS3 {
		return local, nil
	}
	s3, err := blob.NewS3(ctx, cfg.Blob.S3.S3Config())
	if err != nil {
		return nil, err
	}
	return &blob.Fallback{
		Primary:       s3,
		Secondary:     local,
		PrimaryScheme: blob.SchemeS3,
		Logger:        log,
	}, nil
}

func openAudit(ctx context.Context, cfg *config.Config, d *deps, log *logrus.Logger) (audit.Store, error) {
	if cfg.Audit.DatabaseDSN == "" {
		log.Info("audit.database_dsn not set; transaction log kept in memory")
		return audit.NewInMemory(), nil
	}
	db, err := pg.Open(cfg.Audit.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	store := pg.NewAuditStore(db)
	d.onClose(store.Close)
	d.ready.DB = db
	if cfg.Audit.AutoMigrate {
		if err := migrate.NewManager(db, migrate.WithLogger(log)).Up(ctx); err != nil {
			return nil, fmt.Errorf("migrate audit schema: %w", err)
		}
	}
	return store, nil
}
