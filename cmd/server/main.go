package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"price_history/internal/app/config"
	"price_history/internal/app/di"
	"price_history/internal/app/router"
	"price_history/internal/feature/pricebars/transport/handler"
	"price_history/internal/feature/pricebars/usecase"
	"price_history/internal/platform/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logg, closer, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatal(err)
	}
	defer closer.Close()
	slog.SetDefault(logg)

	ctx := context.Background()

	// DB + Redis
	store, err := di.NewStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Usecase
	market, err := di.NewMarket(cfg)
	if err != nil {
		slog.Error("failed to create market", "error", err)
		os.Exit(1)
	}
	syncUC := di.NewSyncUsecase(cfg, market, store)
	barsUC := usecase.NewBarsUsecase(store.Bars)

	// Handler
	barsH := handler.NewBarsHandler(barsUC)
	syncH := handler.NewSyncHandler(syncUC, store.Runs)

	// ルータ生成
	r := router.NewRouter(barsH, syncH, store.Checks)

	// JWT_SECRETチェック（開発中の注意喚起）
	if cfg.JWTSecret == "" {
		slog.Warn("JWT_SECRET is not set. POST /sync will reject every request.")
	}

	server := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		// POST /sync は全銘柄の同期完了まで応答しない
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("HTTP server listening", "address", cfg.HTTPAddr, "symbols", syncUC.Symbols())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutdown signal received, stopping server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
	slog.Info("server stopped")
}
