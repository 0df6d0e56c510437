// Package supervisor owns process lifecycle: given a loaded config, it
// opens the store, starts the cache backend and fan-out workers, binds the
// Echo listener, and tears everything down in reverse order on
// shutdown (§4.I).
package supervisor

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/activityrelay/activityrelay/internal/api"
	"github.com/activityrelay/activityrelay/internal/apclient"
	"github.com/activityrelay/activityrelay/internal/cache"
	"github.com/activityrelay/activityrelay/internal/config"
	"github.com/activityrelay/activityrelay/internal/fanout"
	"github.com/activityrelay/activityrelay/internal/httpsig"
	"github.com/activityrelay/activityrelay/internal/ingest"
	"github.com/activityrelay/activityrelay/internal/logging"
	"github.com/activityrelay/activityrelay/internal/policy"
	"github.com/activityrelay/activityrelay/internal/relayerr"
	"github.com/activityrelay/activityrelay/internal/server"
	"github.com/activityrelay/activityrelay/internal/store"
)

// staleFailureAge is how long an inbox can sit continuously failed
// before the maintenance sweep removes it outright (§4.G: "> 7 days
// continuous failure auto-removes the row").
const staleFailureAge = 7 * 24 * time.Hour

// maintenanceInterval is how often the supervisor runs the cache sweep
// and stale-inbox sweep (§3 Invariant 5, §4.G).
const maintenanceInterval = time.Hour

// Supervisor owns every long-lived dependency the relay needs.
type Supervisor struct {
	cfg *config.Config
	log *logging.Logger

	st     store.Store
	cch    cache.Cache
	engine *fanout.Engine
	srv    *server.Server
}

// New wires every dependency from cfg, but starts nothing yet.
func New(cfg *config.Config) (*Supervisor, error) {
	log := logging.New(logging.LevelInfo)

	st, err := openStore(cfg)
	if err != nil {
		// KindTransient maps to exit code 2 ("DB connection failure")
		// per §6, distinct from the KindFatal config/setup errors below.
		return nil, relayerr.Wrap(relayerr.KindTransient, "open store", err)
	}

	if err := checkSchemaVersion(st); err != nil {
		st.Close()
		return nil, relayerr.Wrap(relayerr.KindFatal, "check schema version", err)
	}

	key, keyID, err := loadOrCreateSigningKey(st, cfg.Domain)
	if err != nil {
		st.Close()
		return nil, relayerr.Wrap(relayerr.KindFatal, "load signing key", err)
	}

	logLevel, err := st.GetConfig(context.Background(), store.ConfigKeyLogLevel)
	if err == nil && logLevel != nil {
		log.SetLevel(logging.ParseLevel(logLevel.Value))
	}

	cch, err := openCache(cfg, st)
	if err != nil {
		st.Close()
		return nil, relayerr.Wrap(relayerr.KindFatal, "open cache", err)
	}

	snapshotSrc := func(ctx context.Context) (policy.Snapshot, error) {
		return policy.BuildSnapshot(ctx, st)
	}
	policyCheck := func(domain string, software *string) policy.Decision {
		snap, err := snapshotSrc(context.Background())
		if err != nil {
			return policy.DenyBannedDomain
		}
		return policy.Evaluate(snap, domain, software)
	}

	ap := apclient.New(policyCheck, cch, log)
	engine := fanout.New(st, ap, snapshotSrc, key, keyID, log)

	ingestHandler, err := ingest.New(st, ap, engine, log, cfg.Domain, key, keyID, snapshotSrc)
	if err != nil {
		st.Close()
		return nil, relayerr.Wrap(relayerr.KindFatal, "build ingest handler", err)
	}
	apiHandler := api.New(st, ap, engine, log, cfg.Domain)

	srv := server.New(cfg.ListenAddr(), log, ingestHandler, apiHandler)

	return &Supervisor{cfg: cfg, log: log, st: st, cch: cch, engine: engine, srv: srv}, nil
}

// Run starts the fan-out workers and the HTTP listener, and blocks
// until ctx is cancelled, then tears everything down in reverse
// order (§4.I).
func (s *Supervisor) Run(ctx context.Context) error {
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	s.engine.Start(workerCtx, s.cfg.WorkerCount(runtime.NumCPU()))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runMaintenance(workerCtx)
	}()

	err := s.srv.Start(ctx)

	cancelWorkers()
	s.engine.Wait()
	wg.Wait()

	if closeErr := s.cch.Close(); closeErr != nil {
		s.log.Warning("supervisor: close cache: %v", closeErr)
	}
	if closeErr := s.st.Close(); closeErr != nil {
		s.log.Warning("supervisor: close store: %v", closeErr)
	}
	return err
}

func (s *Supervisor) runMaintenance(ctx context.Context) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.st.RemoveStaleFailedInboxes(ctx, staleFailureAge); err != nil {
				s.log.Warning("supervisor: remove stale inboxes: %v", err)
			} else if n > 0 {
				s.log.Info("supervisor: removed %d stale failed inboxes", n)
			}
			if n, err := s.cch.Sweep(ctx); err != nil {
				s.log.Warning("supervisor: sweep cache: %v", err)
			} else if n > 0 {
				s.log.Info("supervisor: swept %d expired cache rows", n)
			}
		}
	}
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.DatabaseType {
	case config.DatabasePostgres:
		return store.NewPostgres(cfg.PostgresDSN(), cfg.WorkerCount(runtime.NumCPU()))
	default:
		return store.NewSqlite(cfg.SqliteAbsPath())
	}
}

// checkSchemaVersion refuses to start if the store was migrated by a
// newer binary than this one — it has no way to know what that schema
// expects (§4.A, §6, §7 Fatal).
func checkSchemaVersion(st store.Store) error {
	entry, err := st.GetConfig(context.Background(), store.ConfigKeySchemaVersion)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("supervisor: read schema version: %w", err)
	}
	var version int
	if _, err := fmt.Sscanf(entry.Value, "%d", &version); err != nil {
		return fmt.Errorf("supervisor: parse schema version %q: %w", entry.Value, err)
	}
	if version > store.CurrentSchemaVersion {
		return fmt.Errorf("supervisor: database schema version %d is newer than this binary understands (%d)", version, store.CurrentSchemaVersion)
	}
	return nil
}

func openCache(cfg *config.Config, st store.Store) (cache.Cache, error) {
	switch cfg.CacheType {
	case config.CacheRedis:
		return cache.NewRedis(cache.RedisOptions{
			Addr:     cfg.RedisAddr(),
			Username: cfg.Redis.User,
			Password: cfg.Redis.Pass,
			Database: cfg.Redis.Database,
			Prefix:   cfg.Redis.Prefix,
		}), nil
	default:
		return cache.NewDatabase(st), nil
	}
}

// loadOrCreateSigningKey returns the relay's own HTTP-signature
// identity, generating and persisting one on first run (§4.C).
func loadOrCreateSigningKey(st store.Store, domain string) (*rsa.PrivateKey, string, error) {
	ctx := context.Background()
	keyID := fmt.Sprintf("https://%s/actor#main-key", domain)

	entry, err := st.GetConfig(ctx, store.ConfigKeyPrivateKey)
	if err == nil && entry != nil && entry.Value != "" {
		key, err := httpsig.DecodePrivateKey(entry.Value)
		if err != nil {
			return nil, "", fmt.Errorf("supervisor: decode stored signing key: %w", err)
		}
		return key, keyID, nil
	}

	key, err := httpsig.GenerateKey()
	if err != nil {
		return nil, "", fmt.Errorf("supervisor: generate signing key: %w", err)
	}
	if err := st.PutConfig(ctx, store.ConfigEntry{Key: store.ConfigKeyPrivateKey, Value: httpsig.EncodePrivateKey(key), Type: "str"}); err != nil {
		return nil, "", fmt.Errorf("supervisor: persist signing key: %w", err)
	}
	if err := st.PutConfig(ctx, store.ConfigEntry{Key: store.ConfigKeyPrivateKeyID, Value: keyID, Type: "str"}); err != nil {
		return nil, "", fmt.Errorf("supervisor: persist signing key id: %w", err)
	}
	return key, keyID, nil
}
