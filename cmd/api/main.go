package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pulsegrid.org/internal/auth"
	"pulsegrid.org/internal/config"
	"pulsegrid.org/internal/httpapi"
	"pulsegrid.org/internal/obs"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg := config.Load()
	if cfg.Version == "dev" {
		cfg.Version = version
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	store, err := auth.OpenPGStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer store.Close()

	svc, err := auth.NewService(store,
		auth.WithSecret(cfg.JWTSecret),
		auth.WithIssuer(cfg.Issuer),
		auth.WithAccessTTL(cfg.AccessTokenTTL),
		auth.WithRefreshTTL(cfg.RefreshTokenTTL),
		auth.WithBcryptCost(cfg.BcryptCost),
	)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}
	defer svc.Close()

	probe := httpapi.ReadyProbe{DB: store.DB()}
	api := httpapi.New(svc, probe, cfg.Version, httpapi.Options{
		RateLimitPerSecond: cfg.RateLimitPerSecond,
		RateLimitBurst:     cfg.RateLimitBurst,
		MaxBodyBytes:       cfg.MaxBodyBytes,
	})

	srv := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	grpcSrv, healthSrv := httpapi.NewGRPCServer()
	go func() {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		if err := grpcSrv.Serve(lis); err != nil {
			log.Printf("grpc serve: %v", err)
		}
	}()
	go httpapi.WatchReadiness(rootCtx, healthSrv, probe, 10*time.Second)

	// Periodically clears refresh tokens past their expiry. Revocation
	// correctness never depends on this; it only bounds table growth.
	go func() {
		ticker := time.NewTicker(cfg.TokenSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
				sweepCtx, sweepCancel := context.WithTimeout(rootCtx, 30*time.Second)
				n, err := svc.SweepExpiredTokens(sweepCtx)
				sweepCancel()
				if err != nil {
					obs.Warn("token sweep failed", map[string]any{"error": err.Error()})
					continue
				}
				if n > 0 {
					obs.LogEvent(map[string]any{
						"type":    "token_sweep",
						"removed": n,
					})
				}
			}
		}
	}()

	log.Printf("starting pulsegrid-api %s on %s (grpc %s)", cfg.Version, cfg.BindAddr, cfg.GRPCAddr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()
	svc.Close()
	log.Println("stopped")
}
