package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kretes-dev/codearena-backend/internal/metrics"
	"github.com/kretes-dev/codearena-backend/internal/registry"
	"github.com/kretes-dev/codearena-backend/internal/store"
	"github.com/kretes-dev/codearena-backend/internal/ws"
)

func SetupRoutes(reg *registry.Registry, st store.Store, met *metrics.Metrics, codeTTL time.Duration, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Post("/rooms", CreateRoom(reg, codeTTL, log))
	r.Post("/rooms/join", JoinByCode(reg, log))
	r.Get("/rooms/{roomID}/lobby", GetLobby(reg, log))
	r.Get("/rooms/{roomID}/results", GetResults(reg, log))
	r.Post("/rooms/{roomID}/end", EndBattle(reg, log))
	r.Delete("/rooms/{roomID}", CloseRoom(reg, log))
	r.Get("/ws", ws.Handler(reg, st, met, log))
	r.Get("/healthz", Healthz)
	r.Handle("/metrics", met.Handler())
	return r
}
