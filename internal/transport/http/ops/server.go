// Package opshttp exposes the operator surface: health, a state snapshot,
// the drift journal and the emergency-stop control. Read endpoints serve the
// engine's published snapshot, so they never touch the event loop.
package opshttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"meanrev/internal/journal"
	"meanrev/internal/logger"
	"meanrev/internal/trader"
)

// EngineView is what the server needs from the engine.
type EngineView interface {
	Snapshot() trader.StateSnapshot
	ClearEmergencyStop(ctx context.Context) error
}

// DriftReader serves the drift history.
type DriftReader interface {
	RecentDrifts(ctx context.Context, limit int) ([]journal.DriftRecord, error)
}

type ServerConfig struct {
	Addr   string
	Engine EngineView
	Drifts DriftReader
	// StopFn initiates a full application shutdown.
	StopFn func()
}

type Server struct {
	addr   string
	router *gin.Engine
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("ops http server requires an engine")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9985"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, cfg.Engine.Snapshot())
	})
	api.GET("/drifts", func(c *gin.Context) {
		if cfg.Drifts == nil {
			c.JSON(http.StatusOK, []journal.DriftRecord{})
			return
		}
		recs, err := cfg.Drifts.RecentDrifts(c.Request.Context(), 50)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, recs)
	})
	api.POST("/emergency-stop/clear", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if err := cfg.Engine.ClearEmergencyStop(ctx); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "cleared"})
	})
	api.POST("/stop", func(c *gin.Context) {
		if cfg.StopFn == nil {
			c.JSON(http.StatusNotImplemented, gin.H{"error": "stop not wired"})
			return
		}
		logger.Warnf("HTTP: operator requested shutdown")
		go cfg.StopFn()
		c.JSON(http.StatusOK, gin.H{"status": "stopping"})
	})

	return &Server{addr: cfg.Addr, router: router}, nil
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Start serves until ctx is canceled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		client := c.ClientIP()
		c.Next()
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s", method, path, c.Writer.Status(), client, time.Since(start))
	}
}
