// Package logging は logrus ロガーの生成とリクエストログ用の gin ミドルウェアを提供します。
package logging

import (
	"io"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	// RequestIDHeader はリクエストIDを受け渡すヘッダー名です。
	RequestIDHeader = "X-Request-Id"
	contextKeyReqID = "logging.request_id"
)

// New はロガーを作成します。release モードでは JSON で出力します。
func New(level, ginMode string) *logrus.Logger {
	return NewWithWriter(os.Stdout, level, ginMode)
}

// NewWithWriter は出力先を指定してロガーを作成します。
func NewWithWriter(w io.Writer, level, ginMode string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(w)

	if ginMode == gin.ReleaseMode {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}

// Middleware はリクエストIDを払い出し、処理結果を1行で記録します。
func Middleware(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		reqID := c.GetHeader(RequestIDHeader)
		if reqID == "" || len(reqID) > 128 {
			reqID = uuid.NewString()
		}
		c.Set(contextKeyReqID, reqID)
		c.Header(RequestIDHeader, reqID)

		c.Next()

		entry := logger.WithFields(logrus.Fields{
			"request_id": reqID,
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"client_ip":  c.ClientIP(),
		})
		if len(c.Errors) > 0 {
			entry = entry.WithField("errors", c.Errors.String())
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			entry.Error("request failed")
		case status >= 400:
			entry.Warn("request rejected")
		default:
			entry.Info("request handled")
		}
	}
}

// FromContext はリクエストIDを付与したログエントリを返します。
func FromContext(c *gin.Context, logger logrus.FieldLogger) logrus.FieldLogger {
	if id, ok := c.Get(contextKeyReqID); ok {
		return logger.WithField("request_id", id)
	}
	return logger
}
