// Package httpapi 节点本地状态和指标接口
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/overwasher/sensor-node/internal/models"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ErrJournalDisabled 未启用状态变化日志
var ErrJournalDisabled = errors.New("transition journal disabled")

// 状态变化查询条数
const (
	defaultTransitionLimit = 20
	maxTransitionLimit     = 200
)

// Source 状态来源
type Source interface {
	NodeStatus() models.NodeStatus
	RequestFlush()
	RecentTransitions(ctx context.Context, limit int) ([]models.Transition, error)
}

// Handler 状态接口处理器
type Handler struct {
	source Source
	logger *zap.Logger
}

// NewRouter 创建路由
//
//	GET  /healthz  存活检查
//	GET  /status   节点快照
//	POST /flush    请求一次遥测 flush
//	GET  /transitions?limit=N  最近的状态变化
//	GET  /metrics  Prometheus 指标
func NewRouter(source Source, logger *zap.Logger) *mux.Router {
	h := &Handler{source: source, logger: logger}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", h.Health).Methods(http.MethodGet)
	router.HandleFunc("/status", h.Status).Methods(http.MethodGet)
	router.HandleFunc("/flush", h.Flush).Methods(http.MethodPost)
	router.HandleFunc("/transitions", h.Transitions).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	router.Use(h.loggingMiddleware)
	return router
}

// Health 存活检查
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Status 节点快照
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.source.NodeStatus())
}

// Flush 请求 flush，立即返回
func (h *Handler) Flush(w http.ResponseWriter, r *http.Request) {
	h.source.RequestFlush()
	h.respondJSON(w, http.StatusAccepted, map[string]string{"status": "flush requested"})
}

// Transitions 最近的状态变化，按时间倒序
func (h *Handler) Transitions(w http.ResponseWriter, r *http.Request) {
	limit := defaultTransitionLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxTransitionLimit {
			h.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be in [1, 200]"})
			return
		}
		limit = n
	}

	list, err := h.source.RecentTransitions(r.Context(), limit)
	switch {
	case errors.Is(err, ErrJournalDisabled):
		h.respondJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case err != nil:
		h.logger.Error("Failed to list transitions", zap.Error(err))
		h.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list transitions"})
	default:
		h.respondJSON(w, http.StatusOK, list)
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("Failed to write response", zap.Error(err))
	}
}

func (h *Handler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.logger.Debug("Status request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
