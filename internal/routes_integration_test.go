package internal

import (
	"reflect"
	"runtime"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge/testsupport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findRoute(routes []fiber.Route, method, path string) *fiber.Route {
	for idx := range routes {
		if routes[idx].Method == method && routes[idx].Path == path {
			return &routes[idx]
		}
	}
	return nil
}

func TestStatsRoutesRateLimited(t *testing.T) {
	srv := testsupport.NewTestServer(t, testsupport.TestServerOptions{
		RouteMountFunc: MountAppRoutes,
	})
	routes := srv.App.GetRoutes(true)

	statsRoute := findRoute(routes, fiber.MethodPost, "/api/v1/sites/:siteId/stats")
	require.NotNil(t, statsRoute, "expected stats route to be registered")

	// The limiter is wrapped in a closure that only applies in production
	hasRateLimiter := false
	var handlerNames []string
	for _, handler := range statsRoute.Handlers {
		name := runtime.FuncForPC(reflect.ValueOf(handler).Pointer()).Name()
		handlerNames = append(handlerNames, name)
		if strings.Contains(name, "middleware/limiter") || strings.Contains(name, "MountRoutes.func") {
			hasRateLimiter = true
			break
		}
	}

	require.Truef(t, hasRateLimiter, "expected rate limiter middleware for stats route, handlers: %v", handlerNames)
}

func TestReadRoutesRegistered(t *testing.T) {
	srv := testsupport.NewTestServer(t, testsupport.TestServerOptions{
		RouteMountFunc: MountAppRoutes,
	})
	routes := srv.App.GetRoutes(true)

	for _, r := range []struct{ method, path string }{
		{fiber.MethodGet, "/api/v1/sites/:siteId/fields/:field/values"},
		{fiber.MethodGet, "/api/v1/sites/:siteId/custom-properties"},
		{fiber.MethodGet, "/_health"},
		{fiber.MethodGet, "/metrics"},
	} {
		assert.NotNilf(t, findRoute(routes, r.method, r.path), "expected %s %s", r.method, r.path)
	}
}
