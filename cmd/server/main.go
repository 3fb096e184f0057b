// Greenscreen server - chroma-key compositing over WebSocket, HTTP, and gRPC
package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GriffinCanCode/greenscreen/internal/config"
	"github.com/GriffinCanCode/greenscreen/internal/grpcserver"
	"github.com/GriffinCanCode/greenscreen/internal/server"
	"github.com/GriffinCanCode/greenscreen/internal/worker"
)

func main() {
	cfg := config.Load()

	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	// Create compositor pool
	pool := worker.NewPool(cfg.Workers, worker.Options{
		QueueSize:      cfg.QueueSize,
		MaxFramePixels: cfg.MaxFramePixels,
		Initial:        cfg.InitialSnapshot(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	// Create HTTP/WebSocket server
	srv := server.New(pool, cfg)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("greenscreen server starting", "http", cfg.HTTPAddr, "grpc", cfg.GRPCAddr, "workers", pool.Size())
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()

	// Start gRPC config and health server
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		slog.Error("failed to listen for grpc", "addr", cfg.GRPCAddr, "error", err)
		os.Exit(1)
	}
	grpcSrv := grpcserver.New(pool, grpcserver.DefaultHealthCheckInterval)

	go func() {
		if err := grpcSrv.Serve(lis); err != nil {
			slog.Error("grpc server error", "error", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")
	grpcSrv.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	cancel()
	pool.Stop()
	slog.Info("shutdown complete")
}
