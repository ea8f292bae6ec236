// Package api exposes sync state and control to the host application over
// a local HTTP server and a websocket event stream.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/MrBigodon205/app-de-professor-sub003/internal/backup"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/connectivity"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/logging"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/services"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/sync/queue"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/sync/scheduler"
)

// Deps are the components the server drives. Backup and Sink are
// optional; without them the backup routes are not mounted.
type Deps struct {
	Scheduler *scheduler.Scheduler
	Queue     *queue.SyncQueue
	Monitor   *connectivity.Monitor
	Entities  *services.EntityService
	Backup    *backup.Service
	Sink      *backup.FileSink
	Hub       *Hub
}

// Server is the local control API.
type Server struct {
	addr   string
	router *echo.Echo
	deps   Deps
}

// NewServer builds the router. debug makes error responses carry the full
// error text.
func NewServer(addr string, debug bool, deps Deps) *Server {
	s := &Server{
		addr:   addr,
		router: echo.New(),
		deps:   deps,
	}
	s.router.HideBanner = true
	s.router.HidePort = true
	s.router.Debug = debug
	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.router
	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURIPath: true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logging.Debug("request", map[string]interface{}{
				"method":     v.Method,
				"path":       v.URIPath,
				"status":     v.Status,
				"latency_ms": v.Latency.Milliseconds(),
			})
			return nil
		},
	}))
	e.HTTPErrorHandler = errorHandler

	api := e.Group("/api")
	api.GET("/health", s.health)

	api.GET("/sync/status", s.syncStatus)
	api.POST("/sync/now", s.syncNow)
	api.POST("/sync/pull", s.syncPull)

	api.GET("/connectivity", s.getConnectivity)
	api.PUT("/connectivity", s.setConnectivity)

	api.GET("/queue", s.listQueue)
	api.GET("/queue/stats", s.queueStats)
	api.GET("/queue/failed", s.listFailedQueue)
	api.POST("/queue/retry", s.retryFailed)
	api.DELETE("/queue/:id", s.removeMutation)

	if s.deps.Entities != nil {
		tables := api.Group("/tables/:table")
		tables.GET("", s.listEntities)
		tables.POST("", s.createEntity)
		tables.GET("/failed", s.listFailed)
		tables.GET("/:id", s.getEntity)
		tables.PUT("/:id", s.updateEntity)
		tables.DELETE("/:id", s.deleteEntity)
	}

	if s.deps.Backup != nil {
		api.GET("/backup", s.exportBackup)
		api.POST("/backup", s.importBackup)
		if s.deps.Sink != nil {
			api.GET("/backups", s.listBackups)
			api.POST("/backups", s.takeBackup)
		}
	}

	if s.deps.Hub != nil {
		e.GET("/ws", echo.WrapHandler(s.deps.Hub))
	}
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info("api server listening", map[string]interface{}{"addr": s.addr})
		errCh <- s.router.Start(s.addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.router.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logging.Info("api server stopped", nil)
	return nil
}
