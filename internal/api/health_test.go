package api

import (
	"net/http"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"github.com/hackgods/clinic-scheduling/internal/metrics"
)

func TestReadiness(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cases := []struct {
		name     string
		pgErr    error
		redisUp  bool
		status   int
		overall  string
		redisDep string
	}{
		{"all up", nil, true, http.StatusOK, "ok", "ok"},
		{"redis down", nil, false, http.StatusOK, "degraded", "down"},
		{"postgres down", errDatabaseDown, true, http.StatusServiceUnavailable, "error", "ok"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.redisUp {
				mr.SetError("")
			} else {
				mr.SetError("LOADING")
			}
			h := newHarness(t, func(c *RouterConfig) {
				c.Postgres = fakePinger{err: tc.pgErr}
				c.Redis = client
			})

			rec := h.do(http.MethodGet, "/health/ready", "")
			assert.Equal(t, tc.status, rec.Code)
			resp := decode[ReadinessResponse](t, rec)
			assert.Equal(t, tc.overall, resp.Status)
			assert.Equal(t, tc.redisDep, resp.Dependencies["redis"])
		})
	}
}

func TestReadinessWithoutRedis(t *testing.T) {
	h := newHarness(t)
	resp := decode[ReadinessResponse](t, h.do(http.MethodGet, "/health/ready", ""))
	assert.Equal(t, "ok", resp.Status)
	assert.NotContains(t, resp.Dependencies, "redis")
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.ObserveBooking("booked")

	h := newHarness(t, func(c *RouterConfig) {
		c.Metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	})
	rec := h.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "clinic_")
}
