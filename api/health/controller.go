// Package health 暴露网关的存活与就绪探针。
//
// 写库是命令路径的唯一硬依赖；broker 或 read store 不可用时写入仍会提交
// (事件留在 outbox)，所以它们只把状态降为 degraded，不影响 readiness。
package health

import (
	"context"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"library/config"

	"github.com/gin-gonic/gin"
)

const checkTimeout = 2 * time.Second

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// CheckFunc 检查一个依赖是否可用
type CheckFunc func(ctx context.Context) error

// Dependency is one checked backend.
type Dependency struct {
	Name     string
	Check    CheckFunc
	Critical bool
}

type Controller struct {
	config    *config.Config
	deps      []Dependency
	startTime time.Time
}

func NewController(cfg *config.Config, deps ...Dependency) *Controller {
	sorted := append([]Dependency(nil), deps...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	return &Controller{config: cfg, deps: sorted, startTime: time.Now()}
}

func (c *Controller) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/health", c.Health)
	router.GET("/health/live", c.Liveness)
	router.GET("/health/ready", c.Readiness)
}

type HealthResponse struct {
	Status    string           `json:"status"`
	Version   string           `json:"version"`
	Uptime    string           `json:"uptime"`
	Timestamp string           `json:"timestamp"`
	Checks    map[string]Check `json:"checks,omitempty"`
	System    *SystemInfo      `json:"system,omitempty"`
}

type Check struct {
	Status   string `json:"status"`
	Critical bool   `json:"critical"`
	Message  string `json:"message,omitempty"`
	Latency  string `json:"latency,omitempty"`
}

// SystemInfo 只在 development 环境返回
type SystemInfo struct {
	GoVersion    string `json:"go_version"`
	NumGoroutine int    `json:"num_goroutine"`
	HeapAlloc    uint64 `json:"heap_alloc_bytes"`
}

// Health 返回每个依赖的状态。只有关键依赖失败时才是 503。
func (c *Controller) Health(ctx *gin.Context) {
	checks := c.runAll(ctx.Request.Context())
	status := overall(checks)

	resp := HealthResponse{
		Status:    status,
		Version:   c.config.App.Version,
		Uptime:    time.Since(c.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}
	if c.config.IsDevelopment() {
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		resp.System = &SystemInfo{
			GoVersion:    runtime.Version(),
			NumGoroutine: runtime.NumGoroutine(),
			HeapAlloc:    mem.HeapAlloc,
		}
	}

	code := http.StatusOK
	if status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	ctx.JSON(code, resp)
}

func (c *Controller) Liveness(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// Readiness 只看关键依赖，按名字顺序报告第一个失败项
func (c *Controller) Readiness(ctx *gin.Context) {
	for _, d := range c.deps {
		if !d.Critical {
			continue
		}
		if check := run(ctx.Request.Context(), d); check.Status != StatusHealthy {
			ctx.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": d.Name + " not available",
			})
			return
		}
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// runAll 并发检查，每项各自 2s 超时
func (c *Controller) runAll(ctx context.Context) map[string]Check {
	results := make([]Check, len(c.deps))
	var wg sync.WaitGroup
	for i, d := range c.deps {
		wg.Add(1)
		go func(i int, d Dependency) {
			defer wg.Done()
			results[i] = run(ctx, d)
		}(i, d)
	}
	wg.Wait()

	checks := make(map[string]Check, len(c.deps))
	for i, d := range c.deps {
		checks[d.Name] = results[i]
	}
	return checks
}

func overall(checks map[string]Check) string {
	status := StatusHealthy
	for _, check := range checks {
		if check.Status == StatusHealthy {
			continue
		}
		if check.Critical {
			return StatusUnhealthy
		}
		status = StatusDegraded
	}
	return status
}

func run(parent context.Context, d Dependency) Check {
	ctx, cancel := context.WithTimeout(parent, checkTimeout)
	defer cancel()

	start := time.Now()
	err := d.Check(ctx)
	check := Check{
		Status:   StatusHealthy,
		Critical: d.Critical,
		Latency:  time.Since(start).String(),
	}
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = err.Error()
	}
	return check
}
