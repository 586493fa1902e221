package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wallo.org/internal/httpapi"
	"wallo.org/internal/moderation"
	"wallo.org/internal/notifier"
	"wallo.org/internal/obs"
	"wallo.org/internal/platformclient"
	"wallo.org/internal/queue"
	"wallo.org/internal/store/pg"
	"wallo.org/internal/stream"
)

var version = "0.3.1"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("WALLO_COMMIT"))

	addr := os.Getenv("WALLO_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	// Storage: postgres when a DSN is configured, in-memory otherwise.
	var (
		store   moderation.Store
		probe   httpapi.ReadyProbe
		pgStore *pg.Store
	)
	if dsn := os.Getenv("WALLO_PG_DSN"); dsn != "" {
		var err error
		pgStore, err = pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer pgStore.Close()
		store = pgStore
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
	} else {
		store = moderation.NewInMemory()
	}

	// Delivery queue: redis, then postgres, then in-process.
	var (
		q          queue.Queue
		inProcessQ bool
	)
	switch {
	case os.Getenv("WALLO_REDIS_ADDR") != "":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rq, err := queue.OpenRedis(ctx, os.Getenv("WALLO_REDIS_ADDR"), os.Getenv("WALLO_REDIS_PASSWORD"), 0)
		cancel()
		if err != nil {
			log.Fatalf("open redis: %v", err)
		}
		defer rq.Close()
		q = rq
	case pgStore != nil:
		q = pg.NewNotificationQueue(pgStore.DB())
	default:
		q = queue.NewMemory()
		inProcessQ = true
	}

	client := platformclient.New(10 * time.Second)
	events := stream.New()
	coordinator := moderation.NewCoordinator(store, client, q, events)

	api := httpapi.New(probe, version, store, coordinator, client, events)

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second, // SSE responses outlive normal requests
		IdleTimeout:       60 * time.Second,
	}

	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	if inProcessQ {
		// Nothing else can drain an in-process queue, so the worker runs here.
		go notifier.NewWorker(q, store, client).Run(workerCtx)
	}

	log.Printf("Starting wallo-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	stopWorker()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}
