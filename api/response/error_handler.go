package response

import (
	stdErrors "errors"
	"net/http"

	"library/domain/shared"
	"library/pkg/errors"
	"library/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// 命令结果的三种形态: 拒绝 (4xx)、已提交 (200/201)、已提交但事件未发布 (202)
var httpStatusMap = map[errors.ErrorCode]int{
	errors.CodeInternal:       http.StatusInternalServerError,
	errors.CodeBadRequest:     http.StatusBadRequest,
	errors.CodeTooManyRequest: http.StatusTooManyRequests,
	errors.CodeTimeout:        http.StatusGatewayTimeout,

	errors.CodeValidation:     http.StatusBadRequest,
	errors.CodeBusinessRule:   http.StatusUnprocessableEntity,
	errors.CodeNotFound:       http.StatusNotFound,
	errors.CodeConflict:       http.StatusConflict,
	errors.CodePublishPending: http.StatusAccepted,
}

// StatusFor returns the HTTP status of an application error code.
func StatusFor(code errors.ErrorCode) int {
	if status, ok := httpStatusMap[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func GetRequestID(c *gin.Context) string {
	return c.GetString(RequestIDKey)
}

func requestLogger(c *gin.Context) *zap.Logger {
	return logger.WithRequestID(GetRequestID(c)).With(
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path))
}

func fail(c *gin.Context, status int, code errors.ErrorCode, field, message string) {
	c.JSON(status, &Response{
		Success:   false,
		Error:     string(code),
		Field:     field,
		Message:   message,
		Code:      status,
		RequestID: GetRequestID(c),
	})
}

// HandleError 处理参数绑定等框架层错误，请求还没到达命令总线
func HandleError(c *gin.Context, err error, message string, status int) {
	requestLogger(c).Warn(message, zap.Int("status", status), zap.Error(err))
	fail(c, status, errors.CodeBadRequest, "", message)
}

// HandleAppError 按应用错误码映射 HTTP 状态码。
// 客户端错误记 Warn，服务端错误记 Error 并带堆栈，内部错误不向调用方暴露原因。
func HandleAppError(c *gin.Context, err error) {
	appErr := errors.FromDomainError(err)
	status := StatusFor(appErr.Code)

	log := requestLogger(c).With(
		zap.String("error_code", string(appErr.Code)),
		zap.Int("http_status", status))
	if appErr.Err != nil {
		log = log.With(zap.Error(appErr.Err))
	}

	message := appErr.Message
	switch {
	case status >= http.StatusInternalServerError:
		log.Error(appErr.Message, stackField(err))
		if appErr.Code == errors.CodeInternal {
			message = "internal server error"
		}
	case appErr.Code == errors.CodeConflict:
		log.Info(appErr.Message)
	default:
		log.Warn(appErr.Message)
	}

	fail(c, status, appErr.Code, appErr.Field, message)
}

// HandleWrite 写操作响应：成功返回 successStatus，
// 已提交但发布失败返回 202 并带上结果，其余错误按错误码映射。
func HandleWrite(c *gin.Context, data any, err error, successStatus int, message string) {
	switch {
	case err == nil && successStatus == http.StatusCreated:
		HandleCreated(c, data, message)
	case err == nil:
		HandleSuccess(c, data, message)
	case stdErrors.Is(err, shared.ErrPublish):
		requestLogger(c).Warn("Write committed, event publish pending", zap.Error(err))
		HandleAccepted(c, data, "change saved, it will be visible shortly")
	default:
		HandleAppError(c, err)
	}
}

// stackField 领域错误自带创建时的堆栈，其余错误取当前调用栈
func stackField(err error) zap.Field {
	var stacker shared.Stacker
	if stdErrors.As(err, &stacker) {
		if stack := stacker.Stack(); len(stack) > 0 {
			return zap.Strings("stack", stack)
		}
	}
	return zap.StackSkip("stack", 2)
}
