package api

import (
	"net/http"

	"library/api/author"
	"library/api/book"
	"library/api/health"
	"library/api/middleware"
	"library/api/response"
	"library/config"
	"library/pkg/errors"

	"github.com/gin-gonic/gin"
)

const basePath = "/api/v1"

// Router 网关路由：命令写入 write store，查询读 read store
type Router struct {
	engine *gin.Engine
	config *config.Config
	health *health.Controller
	books  *book.Controller
	author *author.Controller
}

func NewRouter(
	cfg *config.Config,
	healthController *health.Controller,
	bookController *book.Controller,
	authorController *author.Controller,
) *Router {
	switch {
	case cfg.IsDevelopment():
		gin.SetMode(gin.DebugMode)
	case cfg.App.Env == "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.HandleMethodNotAllowed = true

	// request id 必须最先，后面的中间件和命令上下文都依赖它
	engine.Use(
		middleware.RequestIDMiddleware(),
		middleware.RecoveryMiddleware(),
		middleware.LoggingMiddleware(),
		middleware.CORSMiddleware(&cfg.CORS),
		middleware.RateLimitMiddleware(&cfg.Server.RateLimit),
	)

	return &Router{
		engine: engine,
		config: cfg,
		health: healthController,
		books:  bookController,
		author: authorController,
	}
}

func (r *Router) SetupRoutes() {
	v1 := r.engine.Group(basePath)
	r.health.RegisterRoutes(v1)
	r.books.RegisterRoutes(v1)
	r.author.RegisterRoutes(v1)

	r.engine.GET("/", r.index)
	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, response.Response{
			Error:     string(errors.CodeNotFound),
			Message:   "route not found",
			Code:      http.StatusNotFound,
			RequestID: response.GetRequestID(c),
		})
	})
	r.engine.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, response.Response{
			Error:     "METHOD_NOT_ALLOWED",
			Message:   c.Request.Method + " not allowed on " + c.Request.URL.Path,
			Code:      http.StatusMethodNotAllowed,
			RequestID: response.GetRequestID(c),
		})
	})
}

func (r *Router) index(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":    r.config.App.Name,
		"version": r.config.App.Version,
		"env":     r.config.App.Env,
		"links": gin.H{
			"books":   basePath + "/books",
			"authors": basePath + "/authors",
			"health":  basePath + "/health",
		},
	})
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
