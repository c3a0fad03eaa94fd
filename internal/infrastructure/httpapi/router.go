package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"kvcache/internal/bootstrap/logging"
	domainkv "kvcache/internal/domain/kv"
	"kvcache/internal/errs"
	"kvcache/internal/infrastructure/pool"
	"kvcache/internal/infrastructure/worker"
)

// statusClientClosedRequest is nginx's code for a client that went away
// before the response was written.
const statusClientClosedRequest = 499

// KVService is the part of the usecase layer the HTTP adapter drives.
type KVService interface {
	Create(ctx context.Context, key string, value string) error
	Read(ctx context.Context, key string) (domainkv.ReadResult, error)
	Delete(ctx context.Context, key string) error
}

// Options carries the optional operational endpoints.
type Options struct {
	// Ping backs /healthz. Nil reports healthy.
	Ping func(ctx context.Context) error
	// Stats is encoded into the /healthz body.
	Stats func() any
	// Metrics is mounted at /metrics when non-nil.
	Metrics http.Handler
}

type handler struct {
	svc  KVService
	opts Options
}

type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Stats  any    `json:"stats,omitempty"`
}

// NewRouter serves the key-value endpoints. Requests inherit the logger
// carried by base.
func NewRouter(base context.Context, svc KVService, opts Options) http.Handler {
	h := &handler{svc: svc, opts: opts}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(base))
	r.Use(middleware.Recoverer)

	r.Post("/create", h.handleCreate)
	r.Get("/read", h.handleRead)
	r.Delete("/delete", h.handleDelete)
	r.Get("/healthz", h.handleHealth)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	return r
}

func (h *handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	key := r.FormValue("key")
	value := r.FormValue("value")

	if err := h.svc.Create(r.Context(), key, value); err != nil {
		writeError(w, r, err, "Missing key/value")
		return
	}
	writeText(w, http.StatusOK, "Inserted ("+key+")")
}

func (h *handler) handleRead(w http.ResponseWriter, r *http.Request) {
	key := r.FormValue("key")

	res, err := h.svc.Read(r.Context(), key)
	if err != nil {
		writeError(w, r, err, "Missing key")
		return
	}

	tag := "[DB] "
	if res.Source == domainkv.SourceCache {
		tag = "[CACHE] "
	}
	writeText(w, http.StatusOK, tag+res.Value)
}

func (h *handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	key := r.FormValue("key")

	if err := h.svc.Delete(r.Context(), key); err != nil {
		writeError(w, r, err, "Missing key")
		return
	}
	writeText(w, http.StatusOK, "Deleted "+key)
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if h.opts.Stats != nil {
		resp.Stats = h.opts.Stats()
	}

	status := http.StatusOK
	if h.opts.Ping != nil {
		if err := h.opts.Ping(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			resp.Status = "unavailable"
			resp.Error = err.Error()
		}
	}

	writeJSON(w, status, resp)
}

// statusFor maps a usecase error onto the wire status and body.
func statusFor(err error, missing string) (int, string) {
	switch {
	case errors.Is(err, domainkv.ErrKeyRequired), errors.Is(err, domainkv.ErrValueRequired):
		return http.StatusBadRequest, missing
	case errors.Is(err, domainkv.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, pool.ErrPoolExhausted), errors.Is(err, worker.ErrQueueFull):
		return http.StatusServiceUnavailable, "Busy"
	case errors.Is(err, pool.ErrPoolClosed), errors.Is(err, worker.ErrPoolShutdown):
		return http.StatusServiceUnavailable, "Shutting down"
	case errors.Is(err, domainkv.ErrStore):
		return http.StatusServiceUnavailable, "Store unavailable"
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest, "Client closed request"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Timeout"
	default:
		return http.StatusInternalServerError, "Internal error"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error, missing string) {
	status, body := statusFor(err, missing)
	if status >= http.StatusInternalServerError {
		logging.Warn(
			r.Context(),
			"request failed",
			slog.Int("status", status),
			slog.Any("err", errs.Loggable(err)),
		)
	}
	writeText(w, status, body)
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body + "\n"))
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}
