// Command api runs C8, spec.md §6: the ingress HTTP surface, fronting C3
// (queue), C1 (binary store), the challenge repository, C6 (orchestrator),
// and C7 (leaderboard).
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/joeycumines/ctf-arena/internal/binarystore"
	"github.com/joeycumines/ctf-arena/internal/challenge"
	"github.com/joeycumines/ctf-arena/internal/config"
	"github.com/joeycumines/ctf-arena/internal/db"
	"github.com/joeycumines/ctf-arena/internal/httpapi"
	"github.com/joeycumines/ctf-arena/internal/leaderboard"
	"github.com/joeycumines/ctf-arena/internal/logging"
	"github.com/joeycumines/ctf-arena/internal/metrics"
	"github.com/joeycumines/ctf-arena/internal/orchestrator"
	"github.com/joeycumines/ctf-arena/internal/queue"
	"github.com/joeycumines/ctf-arena/internal/ratelimit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logging.New(&logging.Config{Component: `api`})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, db.Config{DSN: cfg.DatabaseURL})
	if err != nil {
		log.Fatal().Err(err).Msg(`open database`)
	}
	defer conn.Close()
	if err := db.Migrate(ctx, conn); err != nil {
		log.Fatal().Err(err).Msg(`migrate database`)
	}

	q, err := queue.Connect(queue.Config{URL: cfg.NATSURL, JobTTL: time.Duration(cfg.JobTTLSeconds) * time.Second})
	if err != nil {
		log.Fatal().Err(err).Msg(`connect queue`)
	}
	defer q.Close()

	store, err := binarystore.New(conn, binarystore.Config{Dir: cfg.BinaryStoreDir, MaxSize: cfg.MaxBinarySize, TTL: time.Duration(cfg.BinaryTTLSeconds) * time.Second})
	if err != nil {
		log.Fatal().Err(err).Msg(`open binary store`)
	}

	var redisClient *goredis.Client
	if cfg.RedisURL != `` {
		opts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg(`parse redis url`)
		}
		redisClient = goredis.NewClient(opts)
	}

	challenges := challenge.New(conn)
	lb := leaderboard.New(conn, redisClient)
	orch := orchestrator.New(conn, q, challenges, lb, orchestrator.Config{
		TestInstructionLimit: cfg.DefaultInstructionLimit,
	})
	limiter := ratelimit.NewDBCounter(conn, cfg.RateLimitPerMinute)

	m := metrics.New()

	server := httpapi.New(q, store, challenges, orch, lb, limiter, httpapi.Config{
		RateLimitPerMinute:      cfg.RateLimitPerMinute,
		MaxConcurrent:           int64(cfg.MaxConcurrent),
		MaxSourceSize:           cfg.MaxSourceSize,
		MaxBinarySize:           cfg.MaxBinarySize,
		DefaultInstructionLimit: cfg.DefaultInstructionLimit,
		MaxInstructionLimit:     cfg.MaxInstructionLimit,
		Metrics:                 m,
		AdminToken:              cfg.AdminToken,
	}, log)

	httpSrv := &http.Server{
		Addr:    cfg.Host + `:` + strconv.Itoa(cfg.Port),
		Handler: server.Router(),
	}

	metricsSrv := &http.Server{
		Addr:    cfg.Host + `:` + strconv.Itoa(cfg.MetricsPort),
		Handler: m.Handler(),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if depth, err := q.CompileQueueDepth(); err == nil {
					m.CompileQueueDepth.Set(float64(depth))
				}
				if depth, err := q.ExecuteQueueDepth(); err == nil {
					m.ExecuteQueueDepth.Set(float64(depth))
				}
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		binaryTTL := time.Duration(cfg.BinaryTTLSeconds) * time.Second
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if _, err := store.Janitor(gctx); err != nil {
					log.Warn().Err(err).Msg(`binary store janitor`)
				}
				if err := limiter.Janitor(gctx, binaryTTL); err != nil {
					log.Warn().Err(err).Msg(`rate limit janitor`)
				}
			}
		}
	})

	g.Go(func() error {
		log.Info().Str(`addr`, httpSrv.Addr).Msg(`listening`)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg(`server exited`)
	}
}
