// Package api exposes the OBD-II decoder and emulators over HTTP and mounts
// the WebSocket streaming endpoints.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/chuanjin/obdbridge/internal/ingest"
	"github.com/chuanjin/obdbridge/internal/obd"
	"github.com/chuanjin/obdbridge/internal/stream"
	"go.uber.org/zap"
)

// Server represents the HTTP API server
type Server struct {
	server *http.Server
	obdAPI *OBDAPI
	stream *stream.Handler
	telem  *stream.Handler
	log    *zap.Logger
}

// ServerConfig holds API server configuration
type ServerConfig struct {
	Addr         string
	Decoder      *obd.Decoder
	Dispatcher   *ingest.Dispatcher
	EmulatedPIDs []uint8
	Stream       *stream.Handler // mounted at /ws/stream when set
	Telemetry    *stream.Handler // mounted at /ws/telemetry when set
}

// NewServer creates a new API server instance
func NewServer(config ServerConfig, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if config.Decoder == nil {
		config.Decoder = obd.NewDecoder(nil)
	}
	if config.Dispatcher == nil {
		config.Dispatcher = ingest.NewDefaultDispatcher(config.Decoder)
	}
	if config.EmulatedPIDs == nil {
		config.EmulatedPIDs = obd.DefaultEmulatedPIDs
	}

	s := &Server{
		obdAPI: NewOBDAPI(config.Decoder, config.Dispatcher, config.EmulatedPIDs),
		stream: config.Stream,
		telem:  config.Telemetry,
		log:    log,
	}

	mux := http.NewServeMux()
	s.setupRoutes(mux)

	// WriteTimeout stays zero: WebSocket connections are long lived and
	// set their own per-message deadlines.
	s.server = &http.Server{
		Addr:              config.Addr,
		Handler:           loggingMiddleware(log, corsMiddleware(mux)),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	for _, h := range []*stream.Handler{s.stream, s.telem} {
		if h != nil {
			s.server.RegisterOnShutdown(h.CloseAll)
		}
	}
	return s
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /api/obd/pids", s.obdAPI.ListPIDs)
	mux.HandleFunc("POST /api/obd/decode", s.obdAPI.Decode)
	mux.HandleFunc("GET /api/obd/emulate", s.obdAPI.Emulate)
	mux.HandleFunc("GET /api/obd/supported", s.obdAPI.Supported)
	mux.HandleFunc("GET /api/obd/supported/decode", s.obdAPI.DecodeSupported)
	mux.HandleFunc("POST /api/ingest", s.obdAPI.Ingest)
	mux.HandleFunc("GET /api/ingest/bindings", s.obdAPI.Bindings)

	if s.stream != nil {
		mux.Handle("GET /ws/stream", s.stream)
	}
	if s.telem != nil {
		mux.Handle("GET /ws/telemetry", s.telem)
	}
}

// handleRoot returns API information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"name":    "OBD Bridge",
		"version": "1.0.0",
		"endpoints": map[string]any{
			"health": "/health",
			"obd": map[string]string{
				"pids":             "/api/obd/pids",
				"decode":           `POST /api/obd/decode (body: frame JSON or {"candump":"7E8#04410C1AF8"})`,
				"emulate":          "/api/obd/emulate?pid=0C",
				"supported":        "/api/obd/supported?block=00",
				"supported_decode": "/api/obd/supported/decode?frame=7E8#06410000180000&block=00",
			},
			"ingest": map[string]string{
				"decode":   `POST /api/ingest (body: frame JSON or {"candump":"200#1027"})`,
				"bindings": "/api/ingest/bindings",
			},
			"websocket": map[string]string{
				"stream":    "/ws/stream",
				"telemetry": "/ws/telemetry",
			},
		},
	}

	respondWithJSON(w, http.StatusOK, info)
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sessions := map[string]int64{}
	if s.stream != nil {
		sessions["stream"] = s.stream.Active()
	}
	if s.telem != nil {
		sessions["telemetry"] = s.telem.Active()
	}

	health := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now(),
		"pids":      s.obdAPI.decoder.Registry().Len(),
		"sessions":  sessions,
	}

	respondWithJSON(w, http.StatusOK, health)
}

// Start starts the API server
func (s *Server) Start() error {
	s.log.Info("Starting HTTP API server", zap.String("address", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the API server
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}
