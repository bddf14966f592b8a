package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires the introspection API, probes and /metrics
func NewRouter(containers *ContainerHandler, health *HealthHandler) http.Handler {
	router := mux.NewRouter()
	router.Use(mux.MiddlewareFunc(MetricsMiddleware()))

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/containers", containers.ListContainers).Methods("GET")
	v1.HandleFunc("/containers/{name}", containers.GetContainer).Methods("GET")
	v1.HandleFunc("/containers/{name}/suspend", containers.SuspendContainer).Methods("POST")
	v1.HandleFunc("/containers/{name}/resume", containers.ResumeContainer).Methods("POST")
	v1.HandleFunc("/containers/{name}/rules", containers.ListRules).Methods("GET")
	v1.HandleFunc("/containers/{name}/rules/{id}", containers.GetRule).Methods("GET")
	v1.HandleFunc("/containers/{name}/rules/{id}", containers.RemoveRule).Methods("DELETE")
	v1.HandleFunc("/containers/{name}/rules/{id}/suspend", containers.SuspendRule).Methods("POST")
	v1.HandleFunc("/containers/{name}/rules/{id}/resume", containers.ResumeRule).Methods("POST")

	router.HandleFunc("/health", health.Health).Methods("GET")
	router.HandleFunc("/live", health.Health).Methods("GET")
	router.HandleFunc("/ready", health.Ready).Methods("GET")
	router.Handle("/metrics", promhttp.Handler())

	return ChainMiddleware(
		CORSMiddleware(),
		LoggingMiddleware(),
		ErrorHandlingMiddleware(),
	)(router)
}
