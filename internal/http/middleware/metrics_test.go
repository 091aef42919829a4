package middleware

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) {
	r := gin.New()
	r.Use(Metrics())
	r.GET("/conversations/:id", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/empty", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	route := httpReqs.WithLabelValues("GET", "/conversations/:id", "200")
	miss := httpReqs.WithLabelValues("GET", "/nope", "404")
	baseRoute, baseMiss := testutil.ToFloat64(route), testutil.ToFloat64(miss)

	serve(r, "GET", "/conversations/abc", nil)
	serve(r, "GET", "/conversations/def", nil)
	serve(r, "GET", "/nope", nil)
	serve(r, "GET", "/empty", nil)

	if got := testutil.ToFloat64(route); got != baseRoute+2 {
		t.Fatalf("route label must use the template: %v", got)
	}
	if got := testutil.ToFloat64(miss); got != baseMiss+1 {
		t.Fatalf("unmatched path fallback: %v", got)
	}
	if got := testutil.ToFloat64(httpInflight); got != 0 {
		t.Fatalf("inflight = %v", got)
	}
}
