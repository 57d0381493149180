package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"crashgame/internal/config"
	"crashgame/internal/server"
)

func gracefulShutdown(srv *server.FiberServer, done chan bool) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	log.Println("[SERVER] Shutting down gracefully, press Ctrl+C again to force")
	stop()

	if err := srv.Shutdown(); err != nil {
		log.Printf("[SERVER] Forced to shutdown with error: %v", err)
	}

	log.Println("[SERVER] Exiting")
	done <- true
}

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("[SERVER] Failed to load config: %v", err)
	}

	srv, err := server.New(cfg)
	if err != nil {
		log.Fatalf("[SERVER] Failed to start: %v", err)
	}

	srv.RegisterFiberRoutes()
	srv.Start()

	done := make(chan bool, 1)
	go gracefulShutdown(srv, done)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Printf("[SERVER] Listening on %s", addr)
	if err := srv.Listen(addr); err != nil {
		log.Fatalf("[SERVER] Listen error: %v", err)
	}

	<-done
}
