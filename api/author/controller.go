// Package author 作者 API 控制器
package author

import (
	"net/http"

	"library/api/ctxutil"
	"library/api/response"
	appauthor "library/application/author"
	"library/application/command"
	"library/application/query"

	"github.com/gin-gonic/gin"
)

type Controller struct {
	bus     *command.Bus
	queries *query.Service
}

func NewController(bus *command.Bus, queries *query.Service) *Controller {
	return &Controller{bus: bus, queries: queries}
}

func (c *Controller) RegisterRoutes(router *gin.RouterGroup) {
	authors := router.Group("/authors")
	{
		authors.POST("", c.CreateAuthor)
		authors.GET("", c.ListAuthors)
		authors.GET("/:id", c.GetAuthor)
		authors.PUT("/:id", c.RenameAuthor)
		authors.DELETE("/:id", c.DeleteAuthor)
	}
}

// CreateAuthor POST /api/v1/authors
func (c *Controller) CreateAuthor(ctx *gin.Context) {
	var cmd appauthor.CreateAuthor
	if err := ctx.ShouldBindJSON(&cmd); err != nil {
		response.HandleError(ctx, err, "invalid request parameters", http.StatusBadRequest)
		return
	}
	c.write(ctx, cmd, http.StatusCreated, "author created successfully")
}

// RenameAuthor PUT /api/v1/authors/:id
func (c *Controller) RenameAuthor(ctx *gin.Context) {
	var cmd appauthor.RenameAuthor
	if err := ctx.ShouldBindJSON(&cmd); err != nil {
		response.HandleError(ctx, err, "invalid request parameters", http.StatusBadRequest)
		return
	}
	cmd.AuthorID = ctx.Param("id")
	v, err := ctxutil.ExpectedVersion(ctx)
	if err != nil {
		response.HandleError(ctx, err, "invalid If-Match header", http.StatusBadRequest)
		return
	}
	cmd.ExpectedVersion = v
	c.write(ctx, cmd, http.StatusOK, "author renamed successfully")
}

// DeleteAuthor DELETE /api/v1/authors/:id
// 仍有图书的作者不能删除 (422)
func (c *Controller) DeleteAuthor(ctx *gin.Context) {
	v, err := ctxutil.ExpectedVersion(ctx)
	if err != nil {
		response.HandleError(ctx, err, "invalid If-Match header", http.StatusBadRequest)
		return
	}
	c.write(ctx, appauthor.DeleteAuthor{AuthorID: ctx.Param("id"), ExpectedVersion: v}, http.StatusOK, "author deleted successfully")
}

// GetAuthor GET /api/v1/authors/:id
func (c *Controller) GetAuthor(ctx *gin.Context) {
	doc, err := c.queries.GetAuthor(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		response.HandleAppError(ctx, err)
		return
	}
	ctxutil.SetETag(ctx, doc.Version)
	response.HandleSuccess(ctx, doc, "author retrieved successfully")
}

// ListAuthors GET /api/v1/authors?limit=20&offset=0
func (c *Controller) ListAuthors(ctx *gin.Context) {
	var q query.ListAuthors
	if err := ctx.ShouldBindQuery(&q); err != nil {
		response.HandleError(ctx, err, "invalid query parameters", http.StatusBadRequest)
		return
	}
	docs, err := c.queries.ListAuthors(ctx.Request.Context(), q)
	if err != nil {
		response.HandleAppError(ctx, err)
		return
	}
	response.HandlePaginated(ctx, docs, response.Pagination{
		Limit:  q.Limit,
		Offset: q.Offset,
		Count:  len(docs),
	}, "authors retrieved successfully")
}

func (c *Controller) write(ctx *gin.Context, cmd command.Command, status int, message string) {
	res, err := command.Dispatch[command.Result](ctxutil.FromGin(ctx), c.bus, cmd)
	ctxutil.SetETag(ctx, res.Version)
	response.HandleWrite(ctx, res, err, status, message)
}
