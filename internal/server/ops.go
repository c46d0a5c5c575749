package server

import (
	"encoding/json"
	"net/http"

	"github.com/agumabanks/baraka-gateway/internal/breaker"
	"github.com/agumabanks/baraka-gateway/internal/config"
)

// MountOps adds the liveness endpoint and the read-only operational
// views: breaker states and the configured service table.
func (s *Server) MountOps(registry *breaker.Registry, services []config.Service) {
	s.Router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})

	s.Router.Get("/ops/breakers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"breakers": registry.Snapshot()})
	})

	s.Router.Get("/ops/services", func(w http.ResponseWriter, r *http.Request) {
		type serviceView struct {
			Name            string `json:"name"`
			BaseURL         string `json:"base_url"`
			HealthCheckPath string `json:"health_check_path"`
			RequestTimeout  string `json:"request_timeout"`
		}
		views := make([]serviceView, 0, len(services))
		for _, svc := range services {
			views = append(views, serviceView{
				Name:            svc.Name,
				BaseURL:         svc.BaseURL(),
				HealthCheckPath: svc.HealthCheckPath,
				RequestTimeout:  svc.RequestTimeout.String(),
			})
		}
		writeJSON(w, map[string]any{"services": views})
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
