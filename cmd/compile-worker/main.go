// Command compile-worker runs C4, spec.md §4.4: one compile job at a time,
// per replica (prefetch=1, spec.md §5). Run multiple replicas for
// parallelism.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docker/docker/client"

	"github.com/joeycumines/ctf-arena/internal/binarystore"
	"github.com/joeycumines/ctf-arena/internal/collaborator"
	"github.com/joeycumines/ctf-arena/internal/compilecache"
	"github.com/joeycumines/ctf-arena/internal/compileworker"
	"github.com/joeycumines/ctf-arena/internal/config"
	"github.com/joeycumines/ctf-arena/internal/db"
	"github.com/joeycumines/ctf-arena/internal/logging"
	"github.com/joeycumines/ctf-arena/internal/queue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logging.New(&logging.Config{Component: `compile-worker`})

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
	cache := compilecache.New(conn, store)

	// C4 uploads freshly compiled binaries to C1 over HTTP rather than
	// through the local store directly: C4 and C5 may run on different
	// hosts than the API server backing C1 (spec.md §4.4 step 5, §5 Retry
	// Policy), so the upload goes through API_URL with a bounded retry.
	binaryUploader := binarystore.NewClient(cfg.APIURL, &http.Client{Timeout: 30 * time.Second})

	dockerCli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		log.Fatal().Err(err).Msg(`connect docker`)
	}
	compiler := collaborator.NewCompiler(dockerCli, cfg.CompilerImage)

	ackWait := time.Duration(cfg.CompileTimeoutSec)*time.Second + 60*time.Second
	consumer, err := q.NewCompileConsumer(ackWait)
	if err != nil {
		log.Fatal().Err(err).Msg(`create compile consumer`)
	}

	worker := compileworker.New(consumer, q, cache, binaryUploader, compiler, log)
	if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg(`worker exited`)
	}
}
