package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"library/api"
	"library/config"
	"library/pkg/logger"

	"go.uber.org/zap"
)

// Worker 与 HTTP 服务同生命周期的后台任务，ctx 取消时返回
type Worker struct {
	Name string
	Run  func(ctx context.Context) error
}

// App 应用程序结构体
type App struct {
	config  *config.Config
	router  *api.Router
	server  *http.Server
	workers []Worker
	closers []func(ctx context.Context) error
}

// Run 启动 HTTP 服务和后台任务，收到 SIGINT/SIGTERM 后优雅关闭。
// 关闭顺序: 停止接收请求 -> 停止后台任务 -> 按创建的逆序释放连接
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	errCh := make(chan error, len(a.workers)+1)
	var wg sync.WaitGroup
	for _, w := range a.workers {
		wg.Add(1)
		go func(w Worker) {
			defer wg.Done()
			logger.Info("Background worker started", zap.String("worker", w.Name))
			if err := w.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("%s: %w", w.Name, err)
				return
			}
			logger.Info("Background worker stopped", zap.String("worker", w.Name))
		}(w)
	}

	go func() {
		logger.Info("HTTP server listening",
			zap.String("addr", a.server.Addr),
			zap.String("health", "/api/v1/health"))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case runErr = <-errCh:
		logger.Error("Component failed, shutting down", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	cancelWorkers()
	wg.Wait()

	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](shutdownCtx); err != nil {
			logger.Warn("Close failed", zap.Error(err))
		}
	}

	logger.Info("Server stopped")
	_ = logger.Sync()
	return runErr
}

// Handler 返回 HTTP handler（用于测试）
func (a *App) Handler() http.Handler {
	return a.router.GetEngine()
}

// Close releases connections without running the server.
func (a *App) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i](ctx)
	}
}
