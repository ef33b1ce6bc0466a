package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/aretw0/arbor"
	"github.com/aretw0/arbor/internal/demo"
	httpAdapter "github.com/aretw0/arbor/pkg/adapters/http"
	"github.com/aretw0/arbor/pkg/adapters/memory"
	redisAdapter "github.com/aretw0/arbor/pkg/adapters/redis"
	"github.com/aretw0/arbor/pkg/config"
	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/observability"
	"github.com/aretw0/arbor/pkg/persistence/middleware"
	"github.com/aretw0/arbor/pkg/ports"
	"github.com/aretw0/arbor/pkg/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run guard instances behind the HTTP server",
	Long: `Starts one or more guard instances, ticks them at the configured interval and
exposes them over HTTP. With redis configured, snapshots, locks and replicated
transitions go through Redis so several processes can share the instances.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.HTTP.Addr = addr
		}
		count, _ := cmd.Flags().GetInt("instances")
		rounds, _ := cmd.Flags().GetInt("rounds")

		be, err := openBackend(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer be.close()

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics := observability.NewMetrics(reg)
		tracing := observability.NewTracing()

		mws, err := cfg.StoreMiddleware()
		if err != nil {
			return err
		}
		store := middleware.Chain(be.store, mws...)

		mgr := session.NewManager(store, session.WithLocker(be.locker), session.WithLogger(logger))
		server := httpAdapter.NewServer(mgr,
			httpAdapter.WithLogger(logger),
			httpAdapter.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})),
		)

		g, err := demo.Guard()
		if err != nil {
			return fmt.Errorf("failed to build graph: %w", err)
		}
		base, err := cfg.Options()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		for i := 1; i <= count; i++ {
			key := fmt.Sprintf("guard-%d", i)
			opts := append(slices.Clone(base),
				arbor.WithLogger(logger.With("instance", key)),
				arbor.WithReplicator(be.replicator),
				arbor.WithReplicationKey(key),
				arbor.WithLifecycleHooks(domain.ChainHooks(
					metrics.Hooks(g.Name()),
					tracing.Hooks(g.Name()),
					server.Hooks(key),
				)),
			)
			inst, err := arbor.New(g, opts...)
			if err != nil {
				return err
			}
			if err := inst.Initialize(ctx, &demo.Shift{Rounds: rounds}); err != nil {
				return err
			}
			if err := inst.Start(ctx); err != nil {
				return err
			}
			if err := mgr.Attach(key, inst); err != nil {
				return err
			}
		}

		if !cfg.Authority.TakeLocally {
			cancel, err := be.replicator.Subscribe(ctx, func(ctx context.Context, ev *domain.TransitionTakenEvent) {
				if err := mgr.ApplyReplicated(ctx, ev); err != nil {
					logger.Warn("replicated transition rejected", "instance", ev.Instance, "error", err)
				}
			})
			if err != nil {
				return fmt.Errorf("failed to subscribe to transitions: %w", err)
			}
			defer cancel()
		}

		tickCtx, stopTicking := context.WithCancel(ctx)
		ticking := make(chan struct{})
		go func() {
			defer close(ticking)
			tick(tickCtx, mgr, cfg.TickInterval, logger)
		}()

		srv := &http.Server{
			Addr:    cfg.HTTP.Addr,
			Handler: server.Handler(),
		}

		// Channel to listen for errors coming from the listener.
		serverErrors := make(chan error, 1)

		go func() {
			fmt.Printf("Starting Arbor Server on %s\n", srv.Addr)
			fmt.Printf("Serving %d guard instance(s)\n", count)
			serverErrors <- srv.ListenAndServe()
		}()

		// Channel to listen for interrupt or terminate signals.
		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		// Blocking main and waiting for shutdown.
		select {
		case err := <-serverErrors:
			stopTicking()
			<-ticking
			return fmt.Errorf("server error: %w", err)

		case sig := <-shutdown:
			fmt.Printf("\nStart shutdown... Signal: %v\n", sig)

			// Give outstanding requests a deadline for completion.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			// Asking listener to shut down and shed load.
			if err := srv.Shutdown(ctx); err != nil {
				fmt.Printf("Graceful shutdown did not complete in %v: %v\n", 5*time.Second, err)
				if err := srv.Close(); err != nil {
					fmt.Printf("Error killing server: %v\n", err)
				}
			}
			stopTicking()
			<-ticking
			checkpointAll(ctx, mgr, logger)
			fmt.Println("Arbor Server stopped gracefully")
		}
		return nil
	},
}

// tick advances every attached instance once per interval until ctx is done.
func tick(ctx context.Context, mgr *session.Manager, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			delta := now.Sub(last)
			last = now
			for _, key := range mgr.Keys() {
				err := mgr.Update(ctx, key, delta)
				if err != nil && !errors.Is(err, domain.ErrNotActive) {
					logger.Error("update failed", "instance", key, "error", err)
				}
			}
		}
	}
}

// checkpointAll snapshots every running instance and shuts it down.
func checkpointAll(ctx context.Context, mgr *session.Manager, logger *slog.Logger) {
	for _, key := range mgr.Keys() {
		if err := mgr.Checkpoint(ctx, key); err != nil && !errors.Is(err, domain.ErrNotActive) {
			logger.Error("checkpoint failed", "instance", key, "error", err)
		}
		if inst, ok := mgr.Detach(key); ok {
			if err := inst.Shutdown(ctx); err != nil {
				logger.Error("shutdown failed", "instance", key, "error", err)
			}
		}
	}
}

type backend struct {
	store      ports.SnapshotStore
	locker     ports.DistributedLocker
	replicator ports.Replicator
	close      func()
}

// openBackend connects to Redis when an address is configured and falls back to the
// in-process adapters otherwise.
func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (*backend, error) {
	if cfg.Redis.Addr == "" {
		return &backend{
			store:      memory.NewStore(),
			locker:     memory.NewLocker(),
			replicator: memory.NewBus(),
			close:      func() {},
		}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
	}
	logger.Info("using redis backend", "addr", cfg.Redis.Addr, "prefix", cfg.Redis.Prefix)

	store := redisAdapter.NewFromClient(client,
		redisAdapter.WithPrefix(cfg.Redis.Prefix+"snapshot:"),
		redisAdapter.WithTTL(cfg.Redis.TTL),
	)
	return &backend{
		store:  store,
		locker: redisAdapter.NewLocker(client, cfg.Redis.Prefix),
		replicator: redisAdapter.NewReplicator(client,
			redisAdapter.WithChannel(cfg.Redis.Channel),
			redisAdapter.WithLogger(logger),
		),
		close: func() {
			if err := client.Close(); err != nil {
				logger.Error("redis close failed", "error", err)
			}
		},
	}, nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("addr", "a", "", "Address to listen on (overrides http.addr)")
	serveCmd.Flags().IntP("instances", "n", 1, "Number of guard instances to run")
	serveCmd.Flags().IntP("rounds", "r", 0, "Patrols per shift (0 keeps the guards on duty)")
}
