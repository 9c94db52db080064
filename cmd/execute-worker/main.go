// Command execute-worker runs C5, spec.md §4.5: one execute job at a time,
// per replica (prefetch=1, spec.md §5). Run multiple replicas for
// parallelism.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/docker/docker/client"

	"github.com/joeycumines/ctf-arena/internal/batch"
	"github.com/joeycumines/ctf-arena/internal/binarystore"
	"github.com/joeycumines/ctf-arena/internal/collaborator"
	"github.com/joeycumines/ctf-arena/internal/config"
	"github.com/joeycumines/ctf-arena/internal/db"
	"github.com/joeycumines/ctf-arena/internal/executeworker"
	"github.com/joeycumines/ctf-arena/internal/logging"
	"github.com/joeycumines/ctf-arena/internal/queue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logging.New(&logging.Config{Component: `execute-worker`})

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

	dockerCli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		log.Fatal().Err(err).Msg(`connect docker`)
	}
	sandbox := collaborator.NewSandbox(dockerCli, cfg.SandboxImage)

	runs := batch.NewRunBatcher(conn, nil)
	defer runs.Close()

	ackWait := time.Duration(cfg.TimeoutSec)*time.Second + 30*time.Second
	consumer, err := q.NewExecuteConsumer(ackWait)
	if err != nil {
		log.Fatal().Err(err).Msg(`create execute consumer`)
	}

	scratchDir := filepath.Join(os.TempDir(), `ctf-arena-execute`)
	worker := executeworker.New(consumer, q, store, sandbox, runs, scratchDir, log)
	if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg(`worker exited`)
	}
}
