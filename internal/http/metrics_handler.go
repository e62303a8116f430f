package http

import (
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/karloscodes/cartridge"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"statsq/internal/pkg/metrics"
)

// MetricsIndexAction exposes m in the Prometheus text format.
func MetricsIndexAction(m *metrics.Metrics) func(ctx *cartridge.Context) error {
	handler := adaptor.HTTPHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	return func(ctx *cartridge.Context) error {
		return handler(ctx.Ctx)
	}
}
