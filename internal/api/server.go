package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"obd-emulator/internal/obd"
	"time"
)

// Server represents the HTTP API server
type Server struct {
	server     *http.Server
	store      JournalStore
	journalAPI *JournalAPI
	pids       *obd.PIDTable
	vin        string
}

// ServerConfig holds API server configuration
type ServerConfig struct {
	Port  int
	Store JournalStore
	PIDs  *obd.PIDTable
	VIN   string
}

// NewServer creates a new API server instance
func NewServer(config ServerConfig) (*Server, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("no journal store configured")
	}
	if config.PIDs == nil {
		config.PIDs = obd.DefaultPIDTable()
	}
	if config.VIN == "" {
		config.VIN = obd.DefaultVIN
	}

	server := &Server{
		store:      config.Store,
		journalAPI: NewJournalAPI(config.Store),
		pids:       config.PIDs,
		vin:        config.VIN,
	}

	server.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server, nil
}

// Handler returns the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.setupRoutes(mux)
	return loggingMiddleware(corsMiddleware(mux))
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/health", s.handleHealth)

	mux.HandleFunc("/api/journal/frames", s.journalAPI.GetFrames)
	mux.HandleFunc("/api/journal/count", s.journalAPI.GetFrameCount)
	mux.HandleFunc("/api/bus/health", s.journalAPI.GetBusHealth)

	mux.HandleFunc("/api/pids", s.handlePIDs)
}

// handleRoot returns API information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	info := map[string]any{
		"name":    "OBD-II Emulator Journal API",
		"version": "1.0.0",
		"backend": s.store.Name(),
		"endpoints": map[string]string{
			"health": "/health",
			"frames": "/api/journal/frames?start_time=2024-01-01T00:00:00Z&end_time=2024-01-02T00:00:00Z&can_id=0x7E8&direction=tx&interface=can0&limit=100&offset=0",
			"count":  "/api/journal/count?start_time=2024-01-01T00:00:00Z&can_id=0x7DF&direction=rx",
			"bus":    "/api/bus/health?interface=can0",
			"pids":   "/api/pids",
		},
	}

	respondWithJSON(w, http.StatusOK, info)
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, code, backend := "healthy", http.StatusOK, "connected"
	if err := s.store.Ping(ctx); err != nil {
		log.Printf("Health check: %s unreachable: %v", s.store.Name(), err)
		status, code, backend = "degraded", http.StatusServiceUnavailable, "unreachable"
	}

	respondWithJSON(w, code, map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"services": map[string]string{
			"api":          "up",
			s.store.Name(): backend,
		},
	})
}

// pidResponse describes one emulated PID
type pidResponse struct {
	PID      string `json:"pid"`
	Label    string `json:"label"`
	Bytes    int    `json:"bytes"`
	Value    uint16 `json:"value"`
	Response string `json:"response"`
}

// handlePIDs lists the PIDs the emulator answers
func (s *Server) handlePIDs(w http.ResponseWriter, r *http.Request) {
	pids := []pidResponse{}
	for _, rule := range s.pids.Rules() {
		response := rule.Response(obd.ServiceCurrentData)
		pids = append(pids, pidResponse{
			PID:      fmt.Sprintf("0x%02X", rule.PID),
			Label:    rule.Label,
			Bytes:    rule.Width,
			Value:    rule.Value,
			Response: fmt.Sprintf("% 02X", response[:]),
		})
	}

	supported := map[string]string{}
	for _, base := range []byte{0x00, 0x20, 0x40, 0x60} {
		if mask, ok := s.pids.SupportedMask(base); ok {
			supported[fmt.Sprintf("0x%02X", base)] = fmt.Sprintf("%08X", mask)
		}
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"service":   fmt.Sprintf("0x%02X", obd.ServiceCurrentData),
		"pids":      pids,
		"supported": supported,
		"vin":       s.vin,
	})
}

// Start starts the API server
func (s *Server) Start() error {
	log.Printf("Starting HTTP API server on %s", s.server.Addr)
	return s.server.ListenAndServe()
}

// Stop gracefully stops the API server
func (s *Server) Stop(ctx context.Context) error {
	log.Println("Stopping API server...")

	err := s.server.Shutdown(ctx)
	if cerr := s.store.Close(); err == nil {
		err = cerr
	}
	return err
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		log.Printf("[%s] %s %s", r.Method, r.URL.Path, r.RemoteAddr)

		next.ServeHTTP(w, r)

		duration := time.Since(start)
		log.Printf("[%s] %s completed in %v", r.Method, r.URL.Path, duration)
	})
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
