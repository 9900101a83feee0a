package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func staticCheck(status string) HealthCheck {
	return func() CheckResult {
		return CheckResult{Status: status}
	}
}

func TestCheckHealthAggregation(t *testing.T) {
	hc := NewHealthChecker("lookout", "1.0.0")
	hc.AddCheck("postgres", staticCheck(StatusHealthy))
	hc.AddCheck("clickhouse", staticCheck(StatusHealthy))
	assert.Equal(t, StatusHealthy, hc.CheckHealth().Status)

	hc.AddCheck("redis", staticCheck(StatusDegraded))
	assert.Equal(t, StatusDegraded, hc.CheckHealth().Status)

	hc.AddCheck("kafka", staticCheck(StatusUnhealthy))
	assert.Equal(t, StatusUnhealthy, hc.CheckHealth().Status)
}

func TestCheckHealthUnknownStatusIsUnhealthy(t *testing.T) {
	hc := NewHealthChecker("lookout", "1.0.0")
	hc.AddCheck("weird", staticCheck("confused"))
	assert.Equal(t, StatusUnhealthy, hc.CheckHealth().Status)
}

func TestHealthHandlerStatusCodes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	hc := NewHealthChecker("lookout", "1.0.0")
	hc.AddCheck("postgres", staticCheck(StatusHealthy))

	router := gin.New()
	router.GET("/health", hc.Handler())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")

	hc.AddCheck("postgres", staticCheck(StatusUnhealthy))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
