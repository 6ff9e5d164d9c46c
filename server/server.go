package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/chaos-io/rembg/config"
	"github.com/chaos-io/rembg/matte"
	"github.com/chaos-io/rembg/matte/oracle"
	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
)

type Server struct {
	cfg      config.Server
	pipeline *matte.Pipeline
	prober   oracle.Prober
	engine   *gin.Engine
	cron     *cron.Cron
}

// New 创建 HTTP 服务；prober 为 nil 时不做预热和就绪检查
func New(cfg config.Server, p *matte.Pipeline, prober oracle.Prober) *Server {
	s := &Server{
		cfg:      cfg,
		pipeline: p,
		prober:   prober,
	}
	s.engine = s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	e := gin.New()
	e.HandleMethodNotAllowed = true
	e.Use(gin.Recovery(), requestID(), accessLog())
	if s.cfg.CORS {
		e.Use(cors())
	}

	h := &handler{pipeline: s.pipeline, prober: s.prober, maxBody: s.cfg.MaxBodyBytes}
	e.GET("/health", h.Health)
	api := e.Group("/api")
	api.POST("/remove", h.Remove)
	api.POST("/remove/file", h.RemoveFile)
	return e
}

// StartProbe 按 cron 表达式定时调用 Ready，让模型在第一个请求之前加载好
func (s *Server) StartProbe(ctx context.Context) error {
	if s.prober == nil || s.cfg.ProbeSchedule == "" {
		return nil
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(s.cfg.ProbeSchedule, func() { s.probe(ctx) })
	if err != nil {
		return fmt.Errorf("probe schedule %q: %w", s.cfg.ProbeSchedule, err)
	}
	s.cron = c
	c.Start()
	// 启动时先探测一次
	go s.probe(ctx)
	return nil
}

func (s *Server) probe(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if err := s.prober.Ready(ctx); err != nil {
		slog.WarnContext(ctx, "oracle probe failed", "error", err)
		return
	}
	slog.DebugContext(ctx, "oracle probe ok")
}

func (s *Server) StopProbe() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Run 启动服务，ctx 取消后优雅退出
func (s *Server) Run(ctx context.Context) error {
	if err := s.StartProbe(ctx); err != nil {
		return err
	}
	defer s.StopProbe()

	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "server starting", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	slog.InfoContext(ctx, "server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
