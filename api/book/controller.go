/*
Package book - 图书 API 控制器

写操作全部走命令总线，读操作走读模型。

	参数绑定错误: response.HandleError 直接返回 400
	命令结果:     response.HandleWrite，发布失败时返回 202
	查询错误:     response.HandleAppError 自动映射状态码

写请求可以带 If-Match: "<version>"，版本不一致时返回 409 且不做任何修改。
*/
package book

import (
	"net/http"

	"library/api/ctxutil"
	"library/api/response"
	appbook "library/application/book"
	"library/application/command"
	"library/application/query"

	"github.com/gin-gonic/gin"
)

// Controller 图书控制器
type Controller struct {
	bus     *command.Bus
	queries *query.Service
}

func NewController(bus *command.Bus, queries *query.Service) *Controller {
	return &Controller{bus: bus, queries: queries}
}

// RegisterRoutes 注册图书路由
func (c *Controller) RegisterRoutes(router *gin.RouterGroup) {
	books := router.Group("/books")
	{
		books.POST("", c.CreateBook)
		books.GET("", c.ListBooks)
		books.GET("/:id", c.GetBook)
		books.PATCH("/:id", c.UpdateDetails)
		books.DELETE("/:id", c.DeleteBook)
		books.PUT("/:id/status", c.ChangeStatus)
		books.POST("/:id/finish", c.MarkFinished)

		books.POST("/:id/quotes", c.AddQuote)
		books.PATCH("/:id/quotes/:quoteId", c.UpdateQuote)
		books.DELETE("/:id/quotes/:quoteId", c.RemoveQuote)

		books.POST("/:id/notes", c.AddNote)
		books.DELETE("/:id/notes/:noteId", c.RemoveNote)
	}
}

// CreateBook POST /api/v1/books
func (c *Controller) CreateBook(ctx *gin.Context) {
	var cmd appbook.CreateBook
	if err := ctx.ShouldBindJSON(&cmd); err != nil {
		response.HandleError(ctx, err, "invalid request parameters", http.StatusBadRequest)
		return
	}
	c.write(ctx, cmd, http.StatusCreated, "book created successfully")
}

// UpdateDetails PATCH /api/v1/books/:id
func (c *Controller) UpdateDetails(ctx *gin.Context) {
	var cmd appbook.UpdateDetails
	if err := ctx.ShouldBindJSON(&cmd); err != nil {
		response.HandleError(ctx, err, "invalid request parameters", http.StatusBadRequest)
		return
	}
	cmd.BookID = ctx.Param("id")
	if !bindVersion(ctx, &cmd.ExpectedVersion) {
		return
	}
	c.write(ctx, cmd, http.StatusOK, "book updated successfully")
}

// ChangeStatus PUT /api/v1/books/:id/status
func (c *Controller) ChangeStatus(ctx *gin.Context) {
	var cmd appbook.ChangeStatus
	if err := ctx.ShouldBindJSON(&cmd); err != nil {
		response.HandleError(ctx, err, "invalid request parameters", http.StatusBadRequest)
		return
	}
	cmd.BookID = ctx.Param("id")
	if !bindVersion(ctx, &cmd.ExpectedVersion) {
		return
	}
	c.write(ctx, cmd, http.StatusOK, "book status changed successfully")
}

// MarkFinished POST /api/v1/books/:id/finish
func (c *Controller) MarkFinished(ctx *gin.Context) {
	var cmd appbook.MarkFinished
	if err := ctx.ShouldBindJSON(&cmd); err != nil {
		response.HandleError(ctx, err, "invalid request parameters", http.StatusBadRequest)
		return
	}
	cmd.BookID = ctx.Param("id")
	if !bindVersion(ctx, &cmd.ExpectedVersion) {
		return
	}
	c.write(ctx, cmd, http.StatusOK, "book marked as finished")
}

// AddQuote POST /api/v1/books/:id/quotes
func (c *Controller) AddQuote(ctx *gin.Context) {
	var cmd appbook.AddQuote
	if err := ctx.ShouldBindJSON(&cmd); err != nil {
		response.HandleError(ctx, err, "invalid request parameters", http.StatusBadRequest)
		return
	}
	cmd.BookID = ctx.Param("id")
	if !bindVersion(ctx, &cmd.ExpectedVersion) {
		return
	}
	c.write(ctx, cmd, http.StatusCreated, "quote added successfully")
}

// UpdateQuote PATCH /api/v1/books/:id/quotes/:quoteId
func (c *Controller) UpdateQuote(ctx *gin.Context) {
	var cmd appbook.UpdateQuote
	if err := ctx.ShouldBindJSON(&cmd); err != nil {
		response.HandleError(ctx, err, "invalid request parameters", http.StatusBadRequest)
		return
	}
	cmd.BookID = ctx.Param("id")
	cmd.QuoteID = ctx.Param("quoteId")
	if !bindVersion(ctx, &cmd.ExpectedVersion) {
		return
	}
	c.write(ctx, cmd, http.StatusOK, "quote updated successfully")
}

// RemoveQuote DELETE /api/v1/books/:id/quotes/:quoteId
func (c *Controller) RemoveQuote(ctx *gin.Context) {
	cmd := appbook.RemoveQuote{BookID: ctx.Param("id"), QuoteID: ctx.Param("quoteId")}
	if !bindVersion(ctx, &cmd.ExpectedVersion) {
		return
	}
	c.write(ctx, cmd, http.StatusOK, "quote removed successfully")
}

// AddNote POST /api/v1/books/:id/notes
func (c *Controller) AddNote(ctx *gin.Context) {
	var cmd appbook.AddNote
	if err := ctx.ShouldBindJSON(&cmd); err != nil {
		response.HandleError(ctx, err, "invalid request parameters", http.StatusBadRequest)
		return
	}
	cmd.BookID = ctx.Param("id")
	if !bindVersion(ctx, &cmd.ExpectedVersion) {
		return
	}
	c.write(ctx, cmd, http.StatusCreated, "note added successfully")
}

// RemoveNote DELETE /api/v1/books/:id/notes/:noteId
func (c *Controller) RemoveNote(ctx *gin.Context) {
	cmd := appbook.RemoveNote{BookID: ctx.Param("id"), NoteID: ctx.Param("noteId")}
	if !bindVersion(ctx, &cmd.ExpectedVersion) {
		return
	}
	c.write(ctx, cmd, http.StatusOK, "note removed successfully")
}

// DeleteBook DELETE /api/v1/books/:id
func (c *Controller) DeleteBook(ctx *gin.Context) {
	cmd := appbook.DeleteBook{BookID: ctx.Param("id")}
	if !bindVersion(ctx, &cmd.ExpectedVersion) {
		return
	}
	c.write(ctx, cmd, http.StatusOK, "book deleted successfully")
}

// GetBook GET /api/v1/books/:id
//
// 读模型最终一致，刚写入的图书可能暂时返回 404。
func (c *Controller) GetBook(ctx *gin.Context) {
	doc, err := c.queries.GetBook(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		response.HandleAppError(ctx, err)
		return
	}
	ctxutil.SetETag(ctx, doc.Version)
	response.HandleSuccess(ctx, doc, "book retrieved successfully")
}

// ListBooks GET /api/v1/books?status=READING&authorId=...&limit=20&offset=0
func (c *Controller) ListBooks(ctx *gin.Context) {
	var q query.ListBooks
	if err := ctx.ShouldBindQuery(&q); err != nil {
		response.HandleError(ctx, err, "invalid query parameters", http.StatusBadRequest)
		return
	}
	docs, err := c.queries.ListBooks(ctx.Request.Context(), q)
	if err != nil {
		response.HandleAppError(ctx, err)
		return
	}
	response.HandlePaginated(ctx, docs, response.Pagination{
		Limit:  q.Limit,
		Offset: q.Offset,
		Count:  len(docs),
	}, "books retrieved successfully")
}

func (c *Controller) write(ctx *gin.Context, cmd command.Command, status int, message string) {
	res, err := command.Dispatch[command.Result](ctxutil.FromGin(ctx), c.bus, cmd)
	ctxutil.SetETag(ctx, res.Version)
	response.HandleWrite(ctx, res, err, status, message)
}

func bindVersion(ctx *gin.Context, dst **int) bool {
	v, err := ctxutil.ExpectedVersion(ctx)
	if err != nil {
		response.HandleError(ctx, err, "invalid If-Match header", http.StatusBadRequest)
		return false
	}
	*dst = v
	return true
}
