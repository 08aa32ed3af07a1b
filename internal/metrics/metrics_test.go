package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordLogin(t *testing.T) {
	before := testutil.ToFloat64(loginAttempts.WithLabelValues(LoginInvalid))
	RecordLogin(LoginInvalid)
	if got := testutil.ToFloat64(loginAttempts.WithLabelValues(LoginInvalid)); got != before+1 {
		t.Fatalf("login counter = %v, want %v", got, before+1)
	}
}

func TestRecordStoreSwitch(t *testing.T) {
	applied := testutil.ToFloat64(storeSwitches.WithLabelValues("applied"))
	ignored := testutil.ToFloat64(storeSwitches.WithLabelValues("ignored"))

	RecordStoreSwitch(true)
	RecordStoreSwitch(false)
	RecordStoreSwitch(false)

	if got := testutil.ToFloat64(storeSwitches.WithLabelValues("applied")); got != applied+1 {
		t.Fatalf("applied = %v", got)
	}
	if got := testutil.ToFloat64(storeSwitches.WithLabelValues("ignored")); got != ignored+2 {
		t.Fatalf("ignored = %v", got)
	}
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Middleware())
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	router.GET("/metrics", gin.WrapH(Handler()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, `planograma_http_requests_total{method="GET",path="/ping",status="200"}`) {
		t.Fatalf("expected request counter in exposition, got:\n%s", body)
	}
}
