package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func HandleSuccess(c *gin.Context, data any, message string) {
	c.JSON(http.StatusOK, &Response{
		Success:   true,
		Data:      data,
		Message:   message,
		Code:      http.StatusOK,
		RequestID: GetRequestID(c),
	})
}

func HandleCreated(c *gin.Context, data any, message string) {
	c.JSON(http.StatusCreated, &Response{
		Success:   true,
		Data:      data,
		Message:   message,
		Code:      http.StatusCreated,
		RequestID: GetRequestID(c),
	})
}

// HandleAccepted 写入已提交但事件尚未发布。
func HandleAccepted(c *gin.Context, data any, message string) {
	c.JSON(http.StatusAccepted, &Response{
		Success:   true,
		Data:      data,
		Error:     "PUBLISH_PENDING",
		Message:   message,
		Code:      http.StatusAccepted,
		RequestID: GetRequestID(c),
	})
}

func HandlePaginated(c *gin.Context, data any, pagination Pagination, message string) {
	c.JSON(http.StatusOK, &PaginatedResponse{
		Success:    true,
		Data:       data,
		Pagination: pagination,
		Message:    message,
		Code:       http.StatusOK,
		RequestID:  GetRequestID(c),
	})
}
