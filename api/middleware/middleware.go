// Package middleware 网关中间件。顺序见 api.Router: request id -> recovery -> 日志 -> CORS -> 限流
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"library/api/ctxutil"
	"library/api/response"
	"library/config"
	"library/pkg/errors"
	"library/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	RequestIDHeader = "X-Request-ID"
	// UserIDHeader 调用方身份，由上游网关注入，只用于事件元数据
	UserIDHeader = "X-User-ID"
)

// isWrite 命令走写库，查询只读 read store
func isWrite(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func abort(c *gin.Context, status int, code errors.ErrorCode, message string) {
	c.AbortWithStatusJSON(status, response.Response{
		Success:   false,
		Error:     string(code),
		Message:   message,
		Code:      status,
		RequestID: response.GetRequestID(c),
	})
}

// RequestIDMiddleware 复用调用方的 X-Request-ID，它会成为事件的 correlationId
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(response.RequestIDKey, requestID)
		c.Header(RequestIDHeader, requestID)

		if userID := strings.TrimSpace(c.GetHeader(UserIDHeader)); userID != "" {
			c.Set(ctxutil.UserIDKey, userID)
		}
		c.Next()
	}
}

// LoggingMiddleware 每个请求一条日志。写请求额外记录 If-Match 和新 ETag，
// 202 (事件待发布) 与 409 (版本冲突) 单独标出，方便排查读写不一致。
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if userID := c.GetString(ctxutil.UserIDKey); userID != "" {
			fields = append(fields, zap.String("user_id", userID))
		}
		if isWrite(c.Request.Method) {
			if ifMatch := c.GetHeader("If-Match"); ifMatch != "" {
				fields = append(fields, zap.String("if_match", ifMatch))
			}
			if etag := c.Writer.Header().Get("ETag"); etag != "" {
				fields = append(fields, zap.String("etag", etag))
			}
		}

		log := logger.WithRequestID(response.GetRequestID(c))
		switch {
		case status >= http.StatusInternalServerError:
			log.Error("HTTP request failed", fields...)
		case status == http.StatusConflict:
			log.Warn("HTTP write rejected by version check", fields...)
		case status == http.StatusAccepted:
			log.Warn("HTTP write committed, events pending publish", fields...)
		case status >= http.StatusBadRequest:
			log.Info("HTTP request rejected", fields...)
		default:
			log.Info("HTTP request", fields...)
		}
	}
}

// RecoveryMiddleware panic 转 500，堆栈只进日志
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}
			logger.WithRequestID(response.GetRequestID(c)).Error("Panic recovered",
				zap.Any("panic", recovered),
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.Stack("stack"))
			abort(c, http.StatusInternalServerError, errors.CodeInternal, "An unexpected error occurred")
		}()
		c.Next()
	}
}

// CORSMiddleware 除配置的 headers 外暴露 ETag 和 X-Request-ID，前端据此带 If-Match
func CORSMiddleware(cfg *config.CORSConfig) gin.HandlerFunc {
	origins := make(map[string]struct{}, len(cfg.AllowOrigins))
	for _, o := range cfg.AllowOrigins {
		origins[o] = struct{}{}
	}
	_, anyOrigin := origins["*"]
	methods := strings.Join(cfg.AllowMethods, ", ")
	headers := strings.Join(cfg.AllowHeaders, ", ")
	maxAge := strconv.Itoa(cfg.MaxAge)

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if _, ok := origins[origin]; ok || (anyOrigin && origin != "") {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		if cfg.AllowCredentials {
			c.Header("Access-Control-Allow-Credentials", "true")
		}
		c.Header("Access-Control-Allow-Methods", methods)
		c.Header("Access-Control-Allow-Headers", headers)
		c.Header("Access-Control-Expose-Headers", "ETag, "+RequestIDHeader)
		c.Header("Access-Control-Max-Age", maxAge)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// RateLimiter 令牌桶，按调用方分桶: 有 X-User-ID 用它，否则用客户端 IP
type RateLimiter struct {
	buckets sync.Map // key -> *rate.Limiter
	limit   rate.Limit
	burst   int
}

func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	return &RateLimiter{limit: rate.Limit(perSecond), burst: burst}
}

func (rl *RateLimiter) bucket(key string) *rate.Limiter {
	if l, ok := rl.buckets.Load(key); ok {
		return l.(*rate.Limiter)
	}
	l, _ := rl.buckets.LoadOrStore(key, rate.NewLimiter(rl.limit, rl.burst))
	return l.(*rate.Limiter)
}

func callerKey(c *gin.Context) string {
	if userID := c.GetString(ctxutil.UserIDKey); userID != "" {
		return "user:" + userID
	}
	return "ip:" + c.ClientIP()
}

// RateLimitMiddleware 限流。WritesOnly 时查询请求不计数。
func RateLimitMiddleware(cfg *config.RateLimitConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) { c.Next() }
	}
	limiter := NewRateLimiter(cfg.Rate, cfg.Burst)
	retryAfter := "1"
	if cfg.Rate > 0 && cfg.Rate < 1 {
		retryAfter = strconv.Itoa(int(1/cfg.Rate + 0.5))
	}

	return func(c *gin.Context) {
		if cfg.WritesOnly && !isWrite(c.Request.Method) {
			c.Next()
			return
		}
		key := callerKey(c)
		if !limiter.bucket(key).Allow() {
			logger.WithRequestID(response.GetRequestID(c)).Warn("Rate limit exceeded",
				zap.String("caller", key),
				zap.String("method", c.Request.Method))
			c.Header("Retry-After", retryAfter)
			abort(c, http.StatusTooManyRequests, errors.CodeTooManyRequest, "Too many requests, please try again later")
			return
		}
		c.Next()
	}
}
