// The notifier binary drains the shared notification queue. Run it next to
// wallo-api when the queue lives in redis or postgres; a single api process
// with the in-memory queue drains itself and does not need this.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wallo.org/internal/notifier"
	"wallo.org/internal/obs"
	"wallo.org/internal/platformclient"
	"wallo.org/internal/queue"
	"wallo.org/internal/store/pg"
)

func main() {
	obs.Init()

	dsn := os.Getenv("WALLO_PG_DSN")
	if dsn == "" {
		log.Fatal("missing WALLO_PG_DSN: the worker needs the platform directory")
	}
	store, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	var q queue.Queue
	if redisAddr := os.Getenv("WALLO_REDIS_ADDR"); redisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rq, err := queue.OpenRedis(ctx, redisAddr, os.Getenv("WALLO_REDIS_PASSWORD"), 0)
		cancel()
		if err != nil {
			log.Fatalf("open redis: %v", err)
		}
		defer rq.Close()
		q = rq
	} else {
		q = pg.NewNotificationQueue(store.DB())
	}

	w := notifier.NewWorker(q, store, platformclient.New(10*time.Second))
	if raw := os.Getenv("WALLO_NOTIFY_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			log.Fatalf("parse WALLO_NOTIFY_INTERVAL: %v", err)
		}
		w.Interval = d
	}
	if raw := os.Getenv("WALLO_NOTIFY_RETRY_DELAY"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			log.Fatalf("parse WALLO_NOTIFY_RETRY_DELAY: %v", err)
		}
		w.RetryDelay = d
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("Starting wallo-notifier, interval %s", w.Interval)
	w.Run(ctx)
	log.Println("Stopped")
}
