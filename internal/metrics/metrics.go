// Package metrics はログイン・店舗切替・HTTP の Prometheus メトリクスを提供します。
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ログイン結果のラベル値
const (
	LoginSucceeded   = "succeeded"
	LoginInvalid     = "invalid_credentials"
	LoginRejected    = "validation_error"
	LoginThrottled   = "throttled"
	LoginInfraFailed = "infrastructure_error"
)

var (
	// Registry はアプリケーション固有のコレクターを保持します。
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "planograma",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "planograma",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "planograma",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)

	loginAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "planograma",
			Subsystem: "auth",
			Name:      "login_attempts_total",
			Help:      "Login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	storeSwitches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "planograma",
			Subsystem: "auth",
			Name:      "store_switches_total",
			Help:      "Active store switch requests, applied or ignored.",
		},
		[]string{"result"},
	)

	guardRedirects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "planograma",
			Subsystem: "auth",
			Name:      "guard_redirects_total",
			Help:      "Requests redirected to the login page for lack of a valid session.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		loginAttempts,
		storeSwitches,
		guardRedirects,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler は登録済みメトリクスを公開する HTTP ハンドラーを返します。
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Middleware は HTTP メトリクスを記録する gin ミドルウェアです。
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		c.Next()

		// 未定義ルートでラベルが増えないようにルート定義のパスを使う
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := strings.ToUpper(c.Request.Method)
		httpRequests.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

// RecordLogin はログイン試行の結果を記録します。
func RecordLogin(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	loginAttempts.WithLabelValues(outcome).Inc()
}

// RecordStoreSwitch は店舗切替の結果を記録します。
func RecordStoreSwitch(applied bool) {
	result := "ignored"
	if applied {
		result = "applied"
	}
	storeSwitches.WithLabelValues(result).Inc()
}

// RecordGuardRedirect は未認証アクセスのリダイレクトを記録します。
func RecordGuardRedirect() {
	guardRedirects.Inc()
}
