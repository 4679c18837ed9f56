package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/govwatch/internal/core/checkpoint"
	"github.com/vietddude/govwatch/internal/core/config"
	"github.com/vietddude/govwatch/internal/core/worker"
	"github.com/vietddude/govwatch/internal/delivery/bulletin"
	"github.com/vietddude/govwatch/internal/delivery/dispatcher"
	"github.com/vietddude/govwatch/internal/delivery/pacer"
	"github.com/vietddude/govwatch/internal/delivery/trigger"
	"github.com/vietddude/govwatch/internal/indexing/advance"
	"github.com/vietddude/govwatch/internal/indexing/health"
	"github.com/vietddude/govwatch/internal/indexing/refresh"
	"github.com/vietddude/govwatch/internal/indexing/scheduler"
	"github.com/vietddude/govwatch/internal/indexing/throttle"
	redisclient "github.com/vietddude/govwatch/internal/infra/redis"
	"github.com/vietddude/govwatch/internal/infra/storage"
	"github.com/vietddude/govwatch/internal/infra/storage/postgres"
)

// Watcher is the main application struct that manages the component lifecycle.
type Watcher struct {
	cfg *config.AppConfig

	store       *storage.Store
	db          *postgres.DB
	redisClient *redisclient.Client
	chain       *chainAccess

	manager      *checkpoint.DefaultManager
	scheduler    *scheduler.Scheduler
	voters       *scheduler.VoterIndex
	healthServer *health.Server
	grpcServer   *refresh.GRPCServer
	remote       *refresh.GRPCClient

	dispatcher *dispatcher.Dispatcher
	bulletin   *bulletin.Bulletin
	intake     *trigger.Intake
	feed       trigger.Feed
	generator  *trigger.Generator
	pruner     *worker.Pruner

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
	log    *slog.Logger
}

// NewWatcher creates a new Watcher instance with all dependencies initialized.
func NewWatcher(ctx context.Context, cfg *config.AppConfig) (*Watcher, error) {
	w := &Watcher{cfg: cfg, log: slog.Default().With("component", "watcher")}

	// 1. Storage
	store, db, err := OpenStore(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	w.store, w.db = store, db

	// 2. Redis (optional)
	if cfg.Redis.URL != "" {
		w.redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			w.close()
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
	}

	// 3. Checkpoints and seeding
	w.manager = checkpoint.NewManager(store.Sources, buildControllers(cfg.Rates))
	if err := seedSources(ctx, w.manager, cfg.Sources); err != nil {
		w.close()
		return nil, err
	}
	if n, err := w.manager.RecoverInFlight(ctx); err != nil {
		w.close()
		return nil, fmt.Errorf("failed to recover in-flight sources: %w", err)
	} else if n > 0 {
		w.log.Info("Recovered in-flight sources", "count", n)
	}

	// 4. Refresher
	w.chain = newChainAccess(cfg.Chain)
	registry, err := buildRegistry(cfg, w.chain)
	if err != nil {
		w.close()
		return nil, err
	}
	var head throttle.HeadFetcher
	if w.chain != nil {
		head = w.chain.head
	}
	local := refresh.NewService(w.manager, registry, head, store.Proposals, store.Votes, refresh.Config{
		SafetyLag: cfg.Chain.SafetyLag,
		Policy: advance.Policy{
			UptodateLag:      cfg.Scheduler.UptodateLag,
			PersistThreshold: cfg.Scheduler.PersistThreshold,
		},
	})

	var refresher refresh.Refresher = local
	switch url := cfg.Scheduler.RefreshURL; {
	case refresh.IsGRPCTarget(url):
		w.remote, err = refresh.NewGRPCClient(url, cfg.Chain.RequestTimeout)
		if err != nil {
			w.close()
			return nil, err
		}
		refresher = w.remote
		w.log.Info("Delegating refreshes over gRPC", "target", url)
	case url != "":
		refresher = refresh.NewRemoteClient(url, cfg.Chain.RequestTimeout)
		w.log.Info("Delegating refreshes", "url", url)
	}

	// 5. Scheduler
	w.voters = scheduler.NewVoterIndex(store.Subscriptions, cfg.Scheduler.VoterReload)
	w.scheduler = scheduler.New(scheduler.Config{
		Tick:          cfg.Scheduler.Tick,
		QueueCapacity: cfg.Scheduler.QueueCapacity,
		Workers:       cfg.Scheduler.Workers,
		LockTTL:       cfg.Scheduler.LockTTL,
		Kinds:         cfg.EnabledKinds(),
	}, w.manager, refresher).WithVoters(w.voters)
	if w.redisClient != nil {
		w.scheduler.WithLocker(redisclient.NewLocker(w.redisClient))
	}

	// 6. Health and the refresh endpoint
	monitor := health.NewMonitor(w.manager, store.Jobs, health.Thresholds{
		FloorStreak: cfg.Delivery.FloorStreak,
		FailedJobs:  cfg.Delivery.FailedJobs,
	})
	w.healthServer = health.NewServer(monitor, cfg.Server.Port)
	endpoint := refresh.NewHandler(local, w.manager)
	if w.redisClient != nil {
		endpoint.WithLocker(redisclient.NewLocker(w.redisClient), cfg.Scheduler.LockTTL)
	}
	w.healthServer.MountRefresh(endpoint)
	if cfg.Server.GRPCPort > 0 {
		w.grpcServer = refresh.NewGRPCServer(endpoint, cfg.Server.GRPCPort)
	}

	// 7. Delivery
	if cfg.Delivery.Enabled {
		if err := w.initDelivery(); err != nil {
			w.close()
			return nil, err
		}
	}

	return w, nil
}

func (w *Watcher) initDelivery() error {
	cfg := w.cfg
	channels, mailer, err := buildChannels(cfg)
	if err != nil {
		return err
	}

	p := pacer.New(pacer.Limit{PerSecond: cfg.Delivery.PerSecond, Burst: cfg.Delivery.Burst}, nil)
	w.dispatcher = dispatcher.New(dispatcher.Config{
		Interval:  cfg.Delivery.PassInterval,
		BatchSize: cfg.Delivery.BatchSize,
	}, w.store, channels, p)

	if mailer != nil {
		w.bulletin = bulletin.New(bulletin.Config{
			Interval:    cfg.Delivery.BulletinInterval,
			Concurrency: cfg.Delivery.EmailConcurrency,
		}, w.store.Subscriptions, w.store.Proposals, mailer)
	}

	w.intake = trigger.NewIntake(w.store.Jobs)
	genCfg := trigger.DefaultGeneratorConfig()
	genCfg.Interval = cfg.Delivery.TriggerInterval
	w.generator = trigger.NewGenerator(genCfg, w.store, w.intake)

	if cfg.Delivery.TriggerFeed != "" {
		if w.redisClient == nil {
			return fmt.Errorf("delivery.trigger_feed %q needs redis", cfg.Delivery.TriggerFeed)
		}
		w.feed = redisclient.NewTriggerFeed(w.redisClient, cfg.Delivery.TriggerFeed, 5*time.Second)
	}

	w.pruner = worker.NewPruner(cfg.Delivery.JobRetention, w.store.Jobs)
	return nil
}

// Start starts every component in the background. It returns immediately;
// use Stop to shut down and Wait to block until a component fails.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.group != nil {
		return fmt.Errorf("watcher already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	w.cancel, w.group = cancel, g

	// Start Health Server
	go func() {
		if err := w.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.log.Error("Health server failed", "error", err)
		}
	}()

	if w.grpcServer != nil {
		go func() {
			if err := w.grpcServer.Start(); err != nil {
				w.log.Error("Refresh gRPC server failed", "error", err)
			}
		}()
	}

	// Start DB Metrics Collector
	if w.db != nil {
		w.db.StartMetricsCollector(gctx)
	}

	g.Go(func() error {
		w.voters.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return w.scheduler.Run(gctx)
	})

	if w.dispatcher != nil {
		g.Go(func() error { return w.dispatcher.Run(gctx) })
		g.Go(func() error { return w.generator.Run(gctx) })
		g.Go(func() error {
			w.pruner.Start(gctx)
			return nil
		})
	}
	if w.bulletin != nil {
		g.Go(func() error { return w.bulletin.Run(gctx) })
	}
	if w.feed != nil {
		g.Go(func() error { return w.intake.Run(gctx, w.feed) })
	}

	w.log.Info("Watcher started",
		"sources", len(w.cfg.Sources),
		"kinds", w.cfg.EnabledKinds(),
		"delivery", w.dispatcher != nil,
		"port", w.cfg.Server.Port,
	)
	return nil
}

// Wait blocks until every component has returned.
func (w *Watcher) Wait() error {
	w.mu.Lock()
	g := w.group
	w.mu.Unlock()
	if g == nil {
		return nil
	}
	return g.Wait()
}

// Stop cancels every component, waits for them up to ctx's deadline and
// releases connections.
func (w *Watcher) Stop(ctx context.Context) error {
	w.log.Info("Stopping Watcher...")

	w.mu.Lock()
	cancel, g := w.cancel, w.group
	w.mu.Unlock()

	var errs []error
	if cancel != nil {
		cancel()
		done := make(chan error, 1)
		go func() { done <- g.Wait() }()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				errs = append(errs, err)
			}
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("timed out waiting for components: %w", ctx.Err()))
		}
	}

	// Stop Health Server
	if err := w.healthServer.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop health server: %w", err))
	}
	if w.grpcServer != nil {
		if err := w.grpcServer.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop refresh grpc server: %w", err))
		}
	}

	w.close()
	return errors.Join(errs...)
}

// Manager exposes the checkpoint manager. Used by the CLI and tests.
func (w *Watcher) Manager() checkpoint.Manager {
	return w.manager
}

// Store exposes the repositories. Used by the CLI and tests.
func (w *Watcher) Store() *storage.Store {
	return w.store
}

func (w *Watcher) close() {
	if w.remote != nil {
		if err := w.remote.Close(); err != nil {
			w.log.Warn("Failed to close refresh client", "error", err)
		}
	}
	if w.chain != nil {
		if err := w.chain.rpc.Close(); err != nil {
			w.log.Warn("Failed to close RPC client", "error", err)
		}
	}
	if w.redisClient != nil {
		if err := w.redisClient.Close(); err != nil {
			w.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if w.db != nil {
		if err := w.db.Close(); err != nil {
			w.log.Warn("Failed to close database", "error", err)
		}
	}
}
