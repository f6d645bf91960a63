// Package httpserver exposes the HTTP ingest, health and metrics endpoints.
package httpserver

import (
	"net/http"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/souuzaa/performance-api/errs"
	"github.com/souuzaa/performance-api/internal/ingest"
	"github.com/souuzaa/performance-api/internal/observability"
)

const (
	defaultMaxBodyBytes int64 = 1 << 20 // 1 MiB

	// TraceHeader carries the caller supplied or generated trace id.
	TraceHeader = "x-trace-id"

	eventsPath  = "/v1/events"
	healthPath  = "/health"
	metricsPath = "/metrics"
)

// Options configures the handler.
type Options struct {
	BasePath     string
	MaxBodyBytes int64
	Gatherer     prometheus.Gatherer
	Logger       observability.Logger
}

type handlerFunc func(http.ResponseWriter, *http.Request)

type httpServer struct {
	core         *ingest.Core
	maxBodyBytes int64
	logger       observability.Logger
}

type acceptedResponse struct {
	Status  string `json:"status"`
	TraceID string `json:"traceId"`
}

type errorResponse struct {
	Status  string `json:"status"`
	Error   string `json:"error"`
	TraceID string `json:"traceId,omitempty"`
}

// NewHandler creates the HTTP handler serving event ingestion, health and metrics.
func NewHandler(core *ingest.Core, opts Options) http.Handler {
	server := &httpServer{
		core:         core,
		maxBodyBytes: opts.MaxBodyBytes,
		logger:       opts.Logger,
	}
	if server.maxBodyBytes <= 0 {
		server.maxBodyBytes = defaultMaxBodyBytes
	}
	if server.logger == nil {
		server.logger = observability.Log()
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = ingest.NewRegistry(core)
	}

	base := strings.TrimSuffix(strings.TrimSpace(opts.BasePath), "/")
	mux := http.NewServeMux()

	mux.Handle(base+eventsPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.ingestEvent,
	}))
	mux.Handle(base+healthPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.health,
	}))
	mux.Handle(metricsPath, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorLog:      nil,
		ErrorHandling: promhttp.ContinueOnError,
	}))

	return withCORS(mux)
}

func (s *httpServer) methodHandlers(handlers map[string]handlerFunc) http.Handler {
	allowed := allowedMethods(handlers)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler(w, r)
			return
		}
		methodNotAllowed(w, allowed...)
	})
}

func allowedMethods(handlers map[string]handlerFunc) []string {
	if len(handlers) == 0 {
		return nil
	}
	allowed := make([]string, 0, len(handlers))
	for method := range handlers {
		allowed = append(allowed, method)
	}
	sort.Strings(allowed)
	return allowed
}

func (s *httpServer) ingestEvent(w http.ResponseWriter, r *http.Request) {
	limitRequestBody(w, r, s.maxBodyBytes)
	result := s.core.Admit(r.Context(), ingest.Request{
		TraceID: r.Header.Get(TraceHeader),
		Method:  r.Method,
		Path:    r.URL.Path,
		Body:    r.Body,
	})
	w.Header().Set(TraceHeader, result.TraceID)

	if result.Err != nil {
		s.logger.Debug("event rejected",
			observability.F("trace_id", result.TraceID),
			observability.F("outcome", string(result.Outcome)),
			observability.F("error", result.Err),
		)
		writeJSON(w, result.StatusCode(), errorResponse{
			Status:  "error",
			Error:   errs.ReasonOf(result.Err),
			TraceID: result.TraceID,
		})
		return
	}
	writeJSON(w, http.StatusAccepted, acceptedResponse{Status: string(ingest.OutcomeAccepted), TraceID: result.TraceID})
}

func (s *httpServer) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.core.Snapshot())
}

func limitRequestBody(w http.ResponseWriter, r *http.Request, limit int64) {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Status: "error", Error: message, TraceID: ""})
}

func withCORS(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+TraceHeader)
		w.Header().Set("Access-Control-Expose-Headers", TraceHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
