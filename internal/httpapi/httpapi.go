package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"salesboard/internal/service"
	"salesboard/internal/store"
)

const maxBodyBytes = 1 << 20

type API struct {
	service       *service.Service
	auth          *TokenVerifier
	hub           http.Handler
	allowedOrigin string
	logger        *slog.Logger
}

// New wires the HTTP surface. A nil auth disables token checks; a nil hub
// leaves /ws/pipeline unmounted.
func New(svc *service.Service, auth *TokenVerifier, hub http.Handler, allowedOrigin string, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		service:       svc,
		auth:          auth,
		hub:           hub,
		allowedOrigin: allowedOrigin,
		logger:        logger,
	}
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(a.logger))
	r.Use(middleware.Recoverer)
	r.Use(a.secureHeaders)

	r.Get("/healthz", a.handleHealth)
	if a.hub != nil {
		r.With(a.requireAuth).Get("/ws/pipeline", a.hub.ServeHTTP)
	}

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(a.requireAuth)

		api.Get("/stages", a.handleStages)
		api.Get("/pipeline", a.handlePipeline)

		api.Post("/leads", a.handleCreateLead)
		api.Get("/leads/{id}", a.handleGetLead)
		api.Patch("/leads/{id}/stage", a.handleUpdateLeadStage)
		api.Post("/leads/{id}/won", a.handleMarkWon)
		api.Post("/leads/{id}/lost", a.handleMarkLost)
		api.Delete("/leads/{id}", a.handleDeleteLead)
		api.Get("/leads/{id}/invoices", a.handleLeadInvoices)

		api.Post("/invoices", a.handleCreateInvoice)
		api.Get("/invoices/next-number", a.handleNextNumber)
		api.Get("/invoices/{id}", a.handleGetInvoice)
		api.Put("/invoices/{id}", a.handleUpdateInvoice)
		api.With(a.requireRole("admin")).Delete("/invoices/{id}", a.handleDeleteInvoice)
	})

	return r
}

func (a *API) secureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		case http.MethodOptions:
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			log.LogAttrs(r.Context(), slog.LevelInfo, "request",
				slog.String("request_id", middleware.GetReqID(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

type errorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}

// writeServiceError maps service and store errors onto status codes.
func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation error", Details: verr.Details})
	case errors.Is(err, store.ErrInvalid):
		a.writeError(w, r, http.StatusBadRequest, err)
	case errors.Is(err, store.ErrNotFound):
		a.writeError(w, r, http.StatusNotFound, err)
	case errors.Is(err, service.ErrNumberInUse):
		a.writeError(w, r, http.StatusConflict, errors.New("invoice number already in use, retry"))
	case errors.Is(err, store.ErrConflict):
		a.writeError(w, r, http.StatusConflict, err)
	default:
		a.writeError(w, r, http.StatusInternalServerError, err)
	}
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	// 5xx bodies stay generic; the cause goes to the log only.
	msg := err.Error()
	if status >= 500 {
		a.logger.LogAttrs(r.Context(), slog.LevelError, "internal error",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
		msg = "internal server error"
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func (a *API) writeDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		a.writeError(w, r, http.StatusRequestEntityTooLarge, errors.New("request body too large"))
		return
	}
	a.writeError(w, r, http.StatusBadRequest, errors.New("invalid json payload"))
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func pathID(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "id"))
}
