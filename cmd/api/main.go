package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voyagehub.org/internal/authz"
	"voyagehub.org/internal/httpapi"
	"voyagehub.org/internal/lifecycle"
	"voyagehub.org/internal/obs"
	"voyagehub.org/internal/store/pg"
	"voyagehub.org/internal/tenant"
)

var version = "0.3.1"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("VOYAGEHUB_COMMIT"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		probe      httpapi.ReadyProbe
		directory  authz.DirectoryStore
		dirAdmin   authz.DirectoryAdmin
		resources  authz.ResourceStore
		tenantSt   tenant.Store
		lcStore    lifecycle.Store
		purger     lifecycle.Purger
		eraser     lifecycle.DirectoryEraser
		closeStore func()
	)

	if dsn := os.Getenv("VOYAGEHUB_PG_DSN"); dsn != "" {
		store, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		probe = httpapi.ReadyProbe{DB: store.DB()}
		directory = store
		dirAdmin = store
		resources = store
		tenantSt = store
		lcStore = store
		purger = store
		eraser = store
		closeStore = func() { _ = store.Close() }
	} else {
		// Database-free mode for local development and smoke tests.
		dir := authz.NewInMemoryDirectory()
		res := authz.NewInMemoryResources()
		directory = dir
		dirAdmin = dir
		resources = res
		tenantSt = tenant.NewInMemory()
		lcStore = lifecycle.NewInMemoryStore()
		purger = res
		eraser = dir
		closeStore = func() {}
	}
	defer closeStore()

	router := tenant.NewRouter(tenantSt)
	engine := authz.NewEngine(authz.NewPDP(directory, resources), router)
	orch := lifecycle.NewOrchestrator(lcStore, engine.Roles(), router, purger, eraser)

	// Background jobs: manifest expiry sweep and the erasure queue.
	go lifecycle.NewSweeper(orch, time.Hour).Run(ctx)
	go lifecycle.NewWorker(orch, time.Minute, 16).Run(ctx)

	api := httpapi.New(probe, version, dirAdmin, engine, router, orch)

	if grpcAddr := os.Getenv("VOYAGEHUB_GRPC_ADDR"); grpcAddr != "" {
		go func() {
			if err := httpapi.NewGRPCServer(probe).Serve(ctx, grpcAddr, 10*time.Second); err != nil {
				log.Printf("grpc server: %v", err)
			}
		}()
	}

	addr := os.Getenv("VOYAGEHUB_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting voyagehub-authz %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Println("Stopped")
}
