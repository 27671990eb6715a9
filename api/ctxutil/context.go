// Package ctxutil 把 gin 请求上的追踪信息搬到 context.Context，
// 命令处理和事件元数据只认 context。
package ctxutil

import (
	"context"
	"strconv"
	"strings"

	"library/api/response"
	"library/infrastructure/persistence"
	"library/pkg/errors"

	"github.com/gin-gonic/gin"
)

// UserIDKey 是 gin context 中保存调用方用户 ID 的键。
const UserIDKey = "user_id"

// FromGin returns the request context carrying request id and user id.
func FromGin(c *gin.Context) context.Context {
	ctx := persistence.ContextWithRequestID(c.Request.Context(), response.GetRequestID(c))
	if userID := c.GetString(UserIDKey); userID != "" {
		ctx = persistence.ContextWithUserID(ctx, userID)
	}
	return ctx
}

func RequestIDFromContext(ctx context.Context) string {
	return persistence.RequestIDFromContext(ctx)
}

// ExpectedVersion 从 If-Match 读取客户端看到的版本，没有该头表示不做版本检查。
// 接受 3、"3" 和 W/"3"。
func ExpectedVersion(c *gin.Context) (*int, error) {
	raw := strings.TrimSpace(c.GetHeader("If-Match"))
	if raw == "" || raw == "*" {
		return nil, nil
	}
	raw = strings.Trim(strings.TrimPrefix(raw, "W/"), `"`)
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return nil, errors.BadRequest("If-Match must carry a non-negative version")
	}
	return &v, nil
}

// SetETag 把聚合版本写回响应，客户端下次带 If-Match 提交
func SetETag(c *gin.Context, version int) {
	if version > 0 {
		c.Header("ETag", strconv.Quote(strconv.Itoa(version)))
	}
}
