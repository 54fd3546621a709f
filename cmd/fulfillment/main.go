package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/25x8/localseo-fulfillment/internal/fulfillment/config"
	"github.com/25x8/localseo-fulfillment/internal/fulfillment/server"
)

func main() {
	logger := log.New(os.Stdout, "fulfillment: ", log.LstdFlags)

	// Load configuration
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logger.Fatalf("Config error: %v", err)
	}

	srv, err := server.NewServer(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatalf("Startup error: %v", err)
	}

	go func() {
		if err := srv.Run(); err != nil {
			logger.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for termination signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Println("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatalf("Server shutdown error: %v", err)
	}

	logger.Println("Server stopped")
}
