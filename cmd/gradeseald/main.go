package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/collapsinghierarchy/gradeseal/audit"
	"github.com/collapsinghierarchy/gradeseal/config"
	"github.com/collapsinghierarchy/gradeseal/keys"
	"github.com/collapsinghierarchy/gradeseal/policy"
	"github.com/collapsinghierarchy/gradeseal/routes"
	"github.com/collapsinghierarchy/gradeseal/service"
	"github.com/collapsinghierarchy/gradeseal/store"
	"github.com/collapsinghierarchy/gradeseal/store/memory"
	"github.com/collapsinghierarchy/gradeseal/store/postgres"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	//----------------------------------------------------------------------
	// 1. config
	//----------------------------------------------------------------------
	cfg, err := config.Load(os.Getenv("GRADESEAL_CONFIG"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	//----------------------------------------------------------------------
	// 2. store (Postgres, or in-memory when no DATABASE_URL is set)
	//----------------------------------------------------------------------
	var st store.Store
	if cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("pgxpool.New: %v", err)
		}
		defer pool.Close()

		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			log.Fatalf("schema: %v", err)
		}
		st = postgres.NewStore(pool)
	} else {
		log.Warn("DATABASE_URL not set, using in-memory store (data is lost on exit)")
		st = memory.NewStore()
	}

	//----------------------------------------------------------------------
	// 3. domain → service → API handlers
	//----------------------------------------------------------------------
	rec := audit.Multi(audit.NewStoreRecorder(st, log), audit.NewLogRecorder(log))
	eng := policy.NewEngine(rec)
	km := keys.NewManager(st)
	svc := service.New(st, eng, km, cfg.MaxContentBytes, log)

	root := routes.SetupRoutes(svc, log)

	//----------------------------------------------------------------------
	// 4. HTTP server with graceful shutdown
	//----------------------------------------------------------------------
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infof("gradeseal listening on %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe: %v", err)
		}
	}()

	// CTRL-C → graceful stop
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down …")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server shutdown: %v", err)
	}
}
