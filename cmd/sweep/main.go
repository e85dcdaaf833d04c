// Command sweep runs one pass of the lifecycle maintenance jobs: reclaim
// expired extraction manifests and drain queued erasure runs. Intended for
// cron-style scheduling alongside the long-running api workers.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"voyagehub.org/internal/authz"
	"voyagehub.org/internal/lifecycle"
	"voyagehub.org/internal/store/pg"
	"voyagehub.org/internal/tenant"
)

func main() {
	log.SetFlags(0)
	var (
		dsn   = flag.String("dsn", os.Getenv("VOYAGEHUB_PG_DSN"), "PostgreSQL DSN")
		batch = flag.Int("batch", 64, "Max erasure runs to process")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or VOYAGEHUB_PG_DSN")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	store, err := pg.Open(*dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	router := tenant.NewRouter(store)
	roles := authz.NewRoleResolver(store)
	orch := lifecycle.NewOrchestrator(store, roles, router, store, store)

	reclaimed, err := orch.PurgeExpired(ctx)
	if err != nil {
		log.Fatalf("sweep manifests: %v", err)
	}
	completed, err := orch.ProcessQueued(ctx, *batch)
	if err != nil {
		log.Fatalf("process erasures: %v", err)
	}
	log.Printf("sweep done: %d manifests reclaimed, %d erasure runs completed", reclaimed, completed)
}
