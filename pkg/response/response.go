package response

import (
	"errors"
	"net/http"

	"pharmacy_orders/pkg/apperrors"

	"github.com/gin-gonic/gin"
)

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`    // 业务码
	Message string      `json:"message"` // 提示信息
	Data    interface{} `json:"data"`    // 数据
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// Error 错误响应
func Error(c *gin.Context, httpCode int, errCode int, msg string) {
	c.JSON(httpCode, Response{
		Code:    errCode,
		Message: msg,
		Data:    nil,
	})
}

// Fail 业务失败响应 (HTTP 200, 业务码非 0)
func Fail(c *gin.Context, errCode int, msg string) {
	c.JSON(http.StatusOK, Response{
		Code:    errCode,
		Message: msg,
		Data:    nil,
	})
}

// FromError 将服务层哨兵错误映射为 HTTP 响应。
// 权限不足与不存在统一返回 404，避免泄露其他租户订单的存在性。
func FromError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, apperrors.ErrValidation):
		Error(c, http.StatusBadRequest, ErrInvalidIntent, err.Error())
	case errors.Is(err, apperrors.ErrStaleTransition):
		Error(c, http.StatusConflict, ErrStaleTransition, err.Error())
	case errors.Is(err, apperrors.ErrNotFound):
		Error(c, http.StatusNotFound, ErrOrderNotFound, "not found")
	case errors.Is(err, apperrors.ErrVerification):
		Error(c, http.StatusUnprocessableEntity, ErrCodeVerification, err.Error())
	case errors.Is(err, apperrors.ErrSettlementConflict):
		Error(c, http.StatusConflict, ErrSettlementConflict, err.Error())
	case errors.Is(err, apperrors.ErrFlushInProgress):
		Error(c, http.StatusConflict, ErrFlushInProgress, err.Error())
	case errors.Is(err, apperrors.ErrTransientIO):
		Error(c, http.StatusServiceUnavailable, ErrStoreUnreachable, err.Error())
	default:
		Error(c, http.StatusInternalServerError, ErrServerInternal, err.Error())
	}
}
