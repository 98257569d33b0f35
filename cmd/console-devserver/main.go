// Command console-devserver serves the dashboard authentication API locally
// with seeded accounts so the console can be exercised end to end.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qazna.org/console/internal/config"
	"qazna.org/console/internal/devserver"
	"qazna.org/console/internal/obs"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	configPath := flag.String("config", config.DefaultPath(), "config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.ValidateDev(); err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo("console-devserver", version, commit)

	srv, err := devserver.New(cfg.Dev, cfg.Roles, version)
	if err != nil {
		log.Fatalf("devserver: %v", err)
	}

	httpSrv := &http.Server{
		Addr:              cfg.Dev.Addr,
		Handler:           srv.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	lis, err := net.Listen("tcp", cfg.Dev.GRPCAddr)
	if err != nil {
		log.Fatalf("grpc listen: %v", err)
	}
	grpcSrv := srv.GRPCServer()

	obs.Log(obs.LevelInfo, "devserver_start", map[string]any{
		"version":   version,
		"http_addr": httpSrv.Addr,
		"grpc_addr": cfg.Dev.GRPCAddr,
		"users":     len(cfg.Dev.Users),
	})

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()
	go func() {
		if err := grpcSrv.Serve(lis); err != nil {
			log.Fatalf("grpc serve: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	obs.Log(obs.LevelInfo, "devserver_stopping", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = httpSrv.Shutdown(ctx)
	grpcSrv.GracefulStop()
	obs.Log(obs.LevelInfo, "devserver_stopped", nil)
}
