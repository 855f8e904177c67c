package middleware

import (
	"net/http"
	"time"

	"github.com/TIANLI0/BuildingKit/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger 记录每个请求。4xx 记为 warn，5xx 记为 error，视图图片请求只在 debug 级别记录。
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", status),
			zap.String("ip", c.ClientIP()),
			zap.Duration("cost", time.Since(start)),
			zap.Int("bytes", c.Writer.Size()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		utils.Logger.Check(levelFor(c.Request.Method, path, status), "request").Write(fields...)
	}
}

func levelFor(method, path string, status int) zapcore.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case status >= http.StatusBadRequest:
		return zapcore.WarnLevel
	case method == http.MethodGet && path == "/api/v1/view":
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}
