package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huebridge/internal/bridge"
	"github.com/dokzlo13/huebridge/internal/config"
)

// HealthService provides HTTP health check endpoints.
type HealthService struct {
	cfg     *config.Config
	bridges []*bridge.Bridge
	server  *http.Server
}

// NewHealthService creates a new HealthService.
func NewHealthService(cfg *config.Config, bridges []*bridge.Bridge) *HealthService {
	return &HealthService{
		cfg:     cfg,
		bridges: bridges,
	}
}

// Start begins the health check server if enabled.
func (s *HealthService) Start(ctx context.Context) {
	if !s.cfg.Healthcheck.Enabled {
		return
	}

	go s.run(ctx)
}

type bridgeStatus struct {
	ID        string `json:"id"`
	Running   bool   `json:"running"`
	HTTPPort  int    `json:"http_port"`
	HTTPSPort int    `json:"https_port,omitempty"`
}

// Handler serves /health and /ready. Ready means every bridge is running.
func (s *HealthService) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Ready check endpoint
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		ready := len(s.bridges) > 0
		statuses := make([]bridgeStatus, 0, len(s.bridges))
		for _, b := range s.bridges {
			st := bridgeStatus{ID: b.BridgeID(), Running: b.Running(), HTTPPort: b.HTTPPort(), HTTPSPort: b.HTTPSPort()}
			ready = ready && st.Running
			statuses = append(statuses, st)
		}

		body := struct {
			Status  string         `json:"status"`
			Bridges []bridgeStatus `json:"bridges"`
		}{Status: "ready", Bridges: statuses}
		code := http.StatusOK
		if !ready {
			body.Status = "not ready"
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(body)
	})

	return mux
}

func (s *HealthService) run(ctx context.Context) {
	addr := fmt.Sprintf("%s:%d", s.cfg.Healthcheck.Host, s.cfg.Healthcheck.Port)

	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	log.Info().Str("addr", addr).Msg("Starting health check server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Health check server shutdown error")
		}
	}()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("Health check server error")
	}
}
