package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "go-anomaly-pipeline/internal/api/docs"
	"go-anomaly-pipeline/internal/api/handler"
	"go-anomaly-pipeline/pkg/router"
)

// RegisterRoutes mounts the job API, health, metrics and API docs on r.
// gatherer serves /metrics; nil means the default registry.
func RegisterRoutes(r *router.Router, jobs *handler.Jobs, gatherer prometheus.Gatherer) {
	r.GET("/api/v1/jobs", jobs.ListJobs)
	// More specific routes first
	r.GET("/api/v1/jobs/*/counts", jobs.GetCounts)
	r.POST("/api/v1/jobs/*/_open", jobs.OpenJob)
	r.POST("/api/v1/jobs/*/_data", jobs.PostData)
	r.POST("/api/v1/jobs/*/_flush", jobs.FlushJob)
	r.POST("/api/v1/jobs/*/_close", jobs.CloseJob)
	// Generic job routes last
	r.PUT("/api/v1/jobs/*", jobs.PutJob)
	r.GET("/api/v1/jobs/*", jobs.GetJob)
	r.DELETE("/api/v1/jobs/*", jobs.DeleteJob)

	r.GET("/health", handler.Health)

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Handle("/swagger/", httpSwagger.WrapHandler)
}
