package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"diffusiond/internal/manager"
	"diffusiond/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ListModels() []types.Model
	Status() types.StatusResponse
	Load(ctx context.Context, modelID string) (types.PipelineConfig, error)
	Unload(ctx context.Context) error
	Ready() bool
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	// ListModels godoc
	// @Summary List available models
	// @Produce json
	// @Success 200 {object} types.ModelsResponse
	// @Router /models [get]
	r.Get("/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(types.ModelsResponse{Models: svc.ListModels()}); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
			return
		}
	})

	// Status godoc
	// @Summary Lifecycle state, resident model and counters
	// @Produce json
	// @Success 200 {object} types.StatusResponse
	// @Router /status [get]
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(svc.Status()); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
			return
		}
	})

	// Load godoc
	// @Summary Load a model into memory
	// @Accept json
	// @Produce json
	// @Param request body types.LoadRequest true "model to load"
	// @Success 200 {object} types.LoadResponse
	// @Failure 404 {object} types.ErrorResponse
	// @Failure 409 {object} types.ErrorResponse
	// @Router /models/load [post]
	r.Post("/models/load", func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
			writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req types.LoadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if strings.TrimSpace(req.Model) == "" {
			writeJSONError(w, http.StatusBadRequest, "model is required")
			return
		}

		lvl := requestLogLevel(r)
		start := time.Now()
		if lvl >= LevelInfo {
			logRequest(r, "load start", 0, 0, req.Model, nil)
		}
		// Join server base context with request context so shutdown cancels work too.
		joinedCtx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		cfg, err := svc.Load(joinedCtx, req.Model)
		if err != nil {
			// Client went away or the process is shutting down; nothing to write.
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			status := statusForError(err)
			if status == http.StatusConflict {
				IncrementLifecycleConflict(conflictReason(err))
			}
			writeJSONError(w, status, err.Error())
			if lvl >= LevelInfo {
				logRequest(r, "load end", status, time.Since(start), req.Model, err)
			}
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(types.LoadResponse{Config: cfg})
		if lvl >= LevelInfo {
			logRequest(r, "load end", http.StatusOK, time.Since(start), req.Model, nil)
		}
	})

	// Unload godoc
	// @Summary Unload the resident model
	// @Produce json
	// @Success 204 "unloaded"
	// @Failure 409 {object} types.ErrorResponse
	// @Router /models/unload [post]
	r.Post("/models/unload", func(w http.ResponseWriter, r *http.Request) {
		lvl := requestLogLevel(r)
		start := time.Now()
		joinedCtx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		if err := svc.Unload(joinedCtx); err != nil {
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			status := statusForError(err)
			if status == http.StatusConflict {
				IncrementLifecycleConflict(conflictReason(err))
			}
			writeJSONError(w, status, err.Error())
			if lvl >= LevelInfo {
				logRequest(r, "unload end", status, time.Since(start), "", err)
			}
			return
		}
		w.WriteHeader(http.StatusNoContent)
		if lvl >= LevelInfo {
			logRequest(r, "unload end", http.StatusNoContent, time.Since(start), "", nil)
		}
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("loading"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)

	return r
}

// conflictReason labels 409s for the conflict counter.
func conflictReason(err error) string {
	switch {
	case manager.IsDuplicateLoad(err):
		return "duplicate_load"
	case manager.IsCancelled(err):
		return "cancelled"
	case manager.IsInvalidState(err):
		return "invalid_state"
	default:
		return "unspecified"
	}
}

// logRequest emits one structured line per request phase, falling back to the
// standard logger when no zerolog logger is installed. A zero status marks a
// start line.
func logRequest(r *http.Request, msg string, status int, dur time.Duration, model string, err error) {
	if zlog == nil {
		log.Printf("%s path=%s model=%s status=%d dur=%s err=%v", msg, r.URL.Path, model, status, dur, err)
		return
	}
	ev := zlog.Info().Str("path", r.URL.Path)
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		ev = ev.Str("request_id", rid)
	}
	if model != "" {
		ev = ev.Str("model", model)
	}
	if status != 0 {
		ev = ev.Int("status", status).Dur("dur", dur)
	}
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg(msg)
}
