// pool-bench runs a concurrent transactional workload through the
// connection pool and prints pool statistics. It exercises the full stack:
// config, logging, metrics, health endpoints, runner, and either the
// in-memory or the PostgreSQL driver.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dd0wney/cluso-dbpool/pkg/config"
	"github.com/dd0wney/cluso-dbpool/pkg/driver/mem"
	"github.com/dd0wney/cluso-dbpool/pkg/driver/pg"
	"github.com/dd0wney/cluso-dbpool/pkg/health"
	"github.com/dd0wney/cluso-dbpool/pkg/logging"
	"github.com/dd0wney/cluso-dbpool/pkg/metrics"
	"github.com/dd0wney/cluso-dbpool/pkg/pool"
	"github.com/dd0wney/cluso-dbpool/pkg/runner"
	"github.com/dd0wney/cluso-dbpool/pkg/session"
)

// workload holds the statement forms for the chosen backend.
type workload struct {
	setup func(ctx context.Context, s *session.Session) error
	put   func(ctx context.Context, s *session.Session, k, v string) error
	get   func(ctx context.Context, s *session.Session, k string) error
}

func memWorkload() workload {
	return workload{
		setup: func(ctx context.Context, s *session.Session) error { return nil },
		put: func(ctx context.Context, s *session.Session, k, v string) error {
			_, err := s.Exec(ctx, "PUT", k, v)
			return err
		},
		get: func(ctx context.Context, s *session.Session, k string) error {
			_, err := s.Query(ctx, "GET", k)
			return err
		},
	}
}

func pgWorkload() workload {
	return workload{
		setup: func(ctx context.Context, s *session.Session) error {
			_, err := s.Exec(ctx, `CREATE TABLE IF NOT EXISTS bench_kv (k TEXT PRIMARY KEY, v TEXT NOT NULL)`)
			return err
		},
		put: func(ctx context.Context, s *session.Session, k, v string) error {
			_, err := s.Exec(ctx,
				`INSERT INTO bench_kv (k, v) VALUES ($1, $2) ON CONFLICT (k) DO UPDATE SET v = EXCLUDED.v`,
				k, v)
			return err
		},
		get: func(ctx context.Context, s *session.Session, k string) error {
			_, err := s.Query(ctx, `SELECT v FROM bench_kv WHERE k = $1`, k)
			return err
		},
	}
}

func main() {
	configPath := flag.String("config", "", "Path to YAML config (defaults apply when empty)")
	workers := flag.Int("workers", 8, "Concurrent workers")
	txPerWorker := flag.Int("tx", 1000, "Transactions per worker")
	listen := flag.String("listen", "", "Optional address for /metrics and /health endpoints")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	logger := logging.NewJSONLogger(os.Stdout, logging.ParseLevel(cfg.Logging.Level))
	reg := metrics.NewRegistry()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var factory pool.Factory
	var wl workload
	switch cfg.Driver.Kind {
	case "postgres":
		dsn := cfg.Driver.DSN
		factory = func(ctx context.Context) (session.Driver, error) {
			return pg.Connect(ctx, dsn)
		}
		wl = pgWorkload()
	default:
		store := mem.NewStore()
		factory = func(ctx context.Context) (session.Driver, error) {
			return store.Open(), nil
		}
		wl = memWorkload()
	}

	p, err := pool.New(factory, pool.Config{
		MaxSize:         cfg.Pool.MaxSize,
		CheckoutTimeout: cfg.Pool.CheckoutTimeout.Std(),
		LazyBegin:       cfg.Pool.LazyBegin,
		OpTimeout:       cfg.Pool.OpTimeout.Std(),
		Logger:          logger,
		Metrics:         reg,
	})
	if err != nil {
		logger.Error("failed to create pool", logging.Error(err))
		os.Exit(1)
	}
	defer p.Close(context.Background())

	r := runner.New(p, logger)

	if err := r.Run(ctx, func(ctx context.Context, s *session.Session) error {
		return wl.setup(ctx, s)
	}); err != nil {
		logger.Error("workload setup failed", logging.Error(err))
		os.Exit(1)
	}

	if *listen != "" {
		checker := health.NewChecker()
		checker.RegisterCheck("pool", health.PoolCheck(p))
		checker.RegisterReadinessCheck("pool", health.PoolCheck(p))
		checker.RegisterLivenessCheck("pool", health.PoolCheck(p))

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg.PrometheusRegistry(), promhttp.HandlerOpts{}))
		mux.HandleFunc("/health", checker.HTTPHandler())
		mux.HandleFunc("/health/ready", checker.ReadinessHandler())
		mux.HandleFunc("/health/live", checker.LivenessHandler())

		go func() {
			logger.Info("metrics listening", logging.String("addr", *listen))
			if err := http.ListenAndServe(*listen, mux); err != nil {
				logger.Error("metrics server failed", logging.Error(err))
			}
		}()
	}

	var ok, failed atomic.Int64
	start := time.Now()

	var wg sync.WaitGroup
	for w := 0; w < *workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(worker)))

			for i := 0; i < *txPerWorker; i++ {
				if ctx.Err() != nil {
					return
				}

				key := fmt.Sprintf("key_%d", rng.Intn(1000))
				value := fmt.Sprintf("w%d_tx%d", worker, i)

				err := r.Run(ctx, func(ctx context.Context, s *session.Session) error {
					if err := wl.put(ctx, s, key, value); err != nil {
						return err
					}
					return wl.get(ctx, s, key)
				})
				if err != nil {
					failed.Add(1)
					continue
				}
				ok.Add(1)
			}
		}(w)
	}
	wg.Wait()

	elapsed := time.Since(start)
	stats := p.Stats()

	logger.Info("benchmark complete",
		logging.Int64("transactions_ok", ok.Load()),
		logging.Int64("transactions_failed", failed.Load()),
		logging.Duration("elapsed", elapsed),
		logging.Any("tx_per_second", float64(ok.Load())/elapsed.Seconds()),
		logging.Any("pool", stats),
	)
}
