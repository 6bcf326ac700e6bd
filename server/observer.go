// Package server exposes the engine's observer HTTP surface: liveness
// and Prometheus metrics. Adapted from the teacher's echo-based
// server/router wiring, scoped down to the two routes this domain
// needs (no GraphQL/REST CRUD surface — out of spec scope).
package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/tanjeetsarkar/workflowengine/engine"
	"github.com/tanjeetsarkar/workflowengine/engine/metrics"
	"github.com/tanjeetsarkar/workflowengine/internal/config"
	"github.com/tanjeetsarkar/workflowengine/internal/version"
)

// Observer serves /healthz and /metrics for a running Engine.
type Observer struct {
	echo     *echo.Echo
	cfg      *config.Config
	eng      *engine.Engine
	exporter *metrics.Exporter
}

// New builds an Observer bound to eng and exporter, with routes
// registered but not yet listening.
func New(cfg *config.Config, eng *engine.Engine, exporter *metrics.Exporter) *Observer {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	o := &Observer{echo: e, cfg: cfg, eng: eng, exporter: exporter}
	e.GET("/healthz", o.healthz)
	e.GET("/metrics", echo.WrapHandler(exporter.Handler()))
	return o
}

func (o *Observer) healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version.GetCurrentVersion(o.cfg.Mode),
		"mode":    o.cfg.Mode,
	})
}

// Start listens on the configured address (unix socket, if set,
// otherwise addr:port) and serves until Shutdown is called; ctx is not
// consulted.
func (o *Observer) Start(ctx context.Context) error {
	listener, err := o.listener()
	if err != nil {
		return err
	}
	o.echo.Listener = listener
	return o.echo.Start("")
}

func (o *Observer) listener() (net.Listener, error) {
	if o.cfg.UNIXSock != "" {
		return net.Listen("unix", o.cfg.UNIXSock)
	}
	addr := o.cfg.Addr
	if addr == "" {
		addr = "0.0.0.0"
	}
	return net.Listen("tcp", net.JoinHostPort(addr, strconv.Itoa(o.cfg.Port)))
}

// Shutdown gracefully stops the HTTP server and closes the underlying
// engine.
func (o *Observer) Shutdown(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_ = o.echo.Shutdown(shutdownCtx)
	_ = o.eng.Close()
}
