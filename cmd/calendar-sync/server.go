// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package main

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/handlers"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/logging"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/middleware"
)

// newHTTPServer builds the echo server for health, metrics and webhooks.
func newHTTPServer(httpHandler *handlers.HTTPHandler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadHeaderTimeout = 3 * time.Second

	// Note: echo runs middleware in the order added, so tracing wraps the
	// request logger which wraps the body capture.
	e.Use(echo.WrapMiddleware(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "calendar-sync")
	}))
	e.Use(echo.WrapMiddleware(middleware.RequestLoggerMiddleware()))
	e.Use(echo.WrapMiddleware(middleware.WebhookBodyCaptureMiddleware()))

	httpHandler.Register(e)
	return e
}

// startHTTPServer serves in the background until the server is shut down.
func startHTTPServer(e *echo.Echo, addr string) {
	go func() {
		slog.With("addr", addr).Debug("starting http server")
		err := e.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.With(logging.ErrKey, err).Error("http listener error")
			os.Exit(1)
		}
	}()
}
