package main

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/kretes-dev/codearena-backend/internal/config"
	"github.com/kretes-dev/codearena-backend/internal/httpapi"
	"github.com/kretes-dev/codearena-backend/internal/metrics"
	"github.com/kretes-dev/codearena-backend/internal/registry"
	"github.com/kretes-dev/codearena-backend/internal/room"
	"github.com/kretes-dev/codearena-backend/internal/sandbox"
	"github.com/kretes-dev/codearena-backend/internal/store"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg := config.Load()

	st, err := store.Open(cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal("store init failed", zap.Error(err))
	}

	runner := sandbox.NewHTTPRunner(cfg.SandboxURL, cfg.SandboxTimeout)
	met := metrics.New()

	ctx := context.Background()
	reg := registry.New(ctx, st, runner, log, met, room.Config{})

	handler := httpapi.SetupRoutes(reg, st, met, cfg.CodeTTL, log)

	log.Info("listening", zap.String("port", cfg.Port))
	if err := http.ListenAndServe(":"+cfg.Port, handler); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}
