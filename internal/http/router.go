package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Router chi 路由 + 请求 ID / panic 恢复 / 访问日志
type Router struct {
	mux    *chi.Mux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.Recoverer)
	mux.Use(accessLog(logger))

	r := &Router{mux: mux, logger: logger}
	mux.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, Ok(map[string]any{"status": "ok"}))
	})
	mux.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, Fail("not found"))
	})
	mux.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, Fail("method not allowed"))
	})
	return r
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterMenuRoutes 菜单
func (r *Router) RegisterMenuRoutes(h *MenuHandler) {
	r.mux.Route("/menu", func(mr chi.Router) {
		mr.Get("/", h.ListMenu)
		mr.Post("/", h.UpsertMenuItem)
		mr.Put("/{id}", h.UpsertMenuItem)
	})
}

// RegisterResidentOrderRoutes 住户周订单
func (r *Router) RegisterResidentOrderRoutes(h *ResidentOrderHandler) {
	r.mux.Route("/resident-orders", func(or chi.Router) {
		or.Get("/", h.ListOrders)
		or.Post("/", h.CreateOrder)
		or.Get("/ordering-window", h.OrderingWindow)
		or.Get("/{id}", h.GetOrder)
		or.Put("/{id}", h.UpdateOrder)
		or.Post("/{id}/submit-and-pay", h.SubmitAndPay)
		or.Post("/{id}/cancel", h.CancelOrder)
		or.Get("/{id}/export", h.ExportOrder)
	})
}

func accessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
