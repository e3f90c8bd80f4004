package common

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"usdtpool.com/pkg/logger"
	"usdtpool.com/pkg/xerr"
)

// Response 统一返回格式，管理后台前端按这个结构解析
type Response struct {
	Success   bool        `json:"success"`
	Code      int         `json:"code"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
	RequestID string      `json:"request_id"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success:   true,
		Code:      xerr.OK,
		Message:   "success",
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
		RequestID: RequestIDFromGin(c),
	})
}

func Fail(c *gin.Context, httpStatus int, code int, message string) {
	c.JSON(httpStatus, Response{
		Success:   false,
		Code:      code,
		Message:   message,
		Data:      nil,
		Timestamp: time.Now().UnixMilli(),
		RequestID: RequestIDFromGin(c),
	})
}

// FailFromError 业务错误统一出口：按 xerr 业务码映射 HTTP 状态
func FailFromError(c *gin.Context, err error) {
	code := xerr.CodeOf(err)
	msg := xerr.MapErrMsg(code)

	logger.Warn(c, "http error",
		zap.String("request_id", RequestIDFromGin(c)),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("biz_code", code),
		zap.Error(err),
	)

	Fail(c, mapBizToHTTP(code), code, msg)
}

func mapBizToHTTP(code int) int {
	switch code {
	case xerr.RequestParamsError:
		return http.StatusBadRequest
	case xerr.RecordNotFound:
		return http.StatusNotFound
	case xerr.NoWalletAvailable:
		// 资源耗尽而不是服务器故障，前端提示补充钱包池
		return http.StatusServiceUnavailable
	case xerr.Conflict, xerr.OwnershipMismatch:
		return http.StatusConflict
	case xerr.InvalidNetworkConfig:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
