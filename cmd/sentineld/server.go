package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/usalama/sentinel/moderation"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	slogecho "github.com/samber/slog-echo"
)

const maxTextLength = 5000

type Server struct {
	engine *moderation.Engine
	echo   *echo.Echo
	httpd  *http.Server
	logger *slog.Logger
}

type Config struct {
	Bind   string
	Logger *slog.Logger
}

func NewServer(engine *moderation.Engine, config Config) *Server {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.RequestID())
	e.Use(slogecho.New(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("64K"))

	srv := &Server{
		engine: engine,
		echo:   e,
		logger: logger,
	}
	srv.httpd = &http.Server{
		Handler:        srv,
		Addr:           config.Bind,
		WriteTimeout:   30 * time.Second,
		ReadTimeout:    30 * time.Second,
		MaxHeaderBytes: 1 * (1024 * 1024),
	}

	e.HTTPErrorHandler = srv.errorHandler

	e.GET("/healthz", srv.handleHealthz)
	e.POST("/v1/moderate", srv.handleModerate)

	return srv
}

func (srv *Server) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	srv.echo.ServeHTTP(rw, req)
}

type moderateRequest struct {
	Text      string                        `json:"text"`
	Context   *moderation.ModerationContext `json:"context,omitempty"`
	RequestID string                        `json:"request_id,omitempty"`
}

type errorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func (srv *Server) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (srv *Server) handleModerate(c echo.Context) error {
	var req moderateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text is required")
	}
	if len([]rune(req.Text)) > maxTextLength {
		return echo.NewHTTPError(http.StatusBadRequest, "text too long")
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = c.Response().Header().Get(echo.HeaderXRequestID)
	} else {
		c.Response().Header().Set(echo.HeaderXRequestID, requestID)
	}

	resp, err := srv.engine.Moderate(c.Request().Context(), req.Text, req.Context)
	if err != nil {
		srv.logger.Error("moderation failed", "err", err, "request_id", requestID)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	srv.logger.Info("moderation decision",
		"request_id", requestID,
		"action", resp.Action,
		"labels", resp.Labels,
		"reason_codes", resp.ReasonCodes,
		"latency_ms", resp.LatencyMs,
		"policy_version", resp.PolicyVersion,
		"lexicon_version", resp.LexiconVersion,
		"model_version", resp.ModelVersion,
	)
	return c.JSON(http.StatusOK, resp)
}

func (srv *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	message := "internal server error"
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		code = httpErr.Code
		if msg, ok := httpErr.Message.(string); ok {
			message = msg
		}
	}
	c.JSON(code, errorResponse{
		ErrorCode: http.StatusText(code),
		Message:   message,
		RequestID: c.Response().Header().Get(echo.HeaderXRequestID),
	})
}

func (srv *Server) RunAPI() error {
	srv.logger.Info("starting server", "bind", srv.httpd.Addr)
	go func() {
		if err := srv.httpd.ListenAndServe(); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				srv.logger.Error("HTTP server shutting down unexpectedly", "err", err)
			}
		}
	}()

	quit := make(chan struct{})
	exitSignals := make(chan os.Signal, 1)
	signal.Notify(exitSignals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-exitSignals
		srv.logger.Info("received OS exit signal", "signal", sig)
		if err := srv.Shutdown(); err != nil {
			srv.logger.Error("HTTP server shutdown error", "err", err)
		}
		close(quit)
	}()
	<-quit
	srv.logger.Info("graceful shutdown complete")
	return nil
}

func (srv *Server) RunMetrics(listen string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, nil)
}

func (srv *Server) Shutdown() error {
	srv.logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.httpd.Shutdown(ctx)
}
