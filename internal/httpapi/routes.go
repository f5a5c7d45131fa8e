package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/pixel-board-backend/internal/hub"
	"github.com/DoyleJ11/pixel-board-backend/internal/store"
	"github.com/DoyleJ11/pixel-board-backend/internal/ws"
)

func SetupRoutes(h *hub.Hub, st store.Store, wsOpts ws.Options) http.Handler {
	log := wsOpts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	a := &api{hub: h, store: st, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(h, wsOpts))

	r.Group(func(r chi.Router) {
		r.Use(requestLogger(log))
		r.Post("/boards", a.CreateBoard)
		r.Get("/boards", a.ListBoards)
		r.Get("/boards/{id}/frames", a.Frames)
		r.Get("/boards/{id}/snapshot.png", a.Snapshot)
	})
	return r
}

// requestLogger logs one line per request. The websocket route is left out
// since its request lasts as long as the connection.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
