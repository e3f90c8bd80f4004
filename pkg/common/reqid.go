package common

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"usdtpool.com/pkg/logger"
)

const (
	HeaderRequestID = "X-Request-Id"
	CtxKeyRequestID = "request_id"
)

func New() string { return uuid.NewString() }

// RequestID gin 中间件：透传或生成 request_id，并塞进 trace_id 给 logger 用
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(HeaderRequestID)
		if rid == "" {
			rid = New()
		}
		c.Set(CtxKeyRequestID, rid)
		c.Set(logger.TraceIdKey, rid)
		c.Header(HeaderRequestID, rid)
		c.Next()
	}
}

// RequestIDFromGin 获取当前请求的 request_id
func RequestIDFromGin(c *gin.Context) string {
	if v, ok := c.Get(CtxKeyRequestID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
