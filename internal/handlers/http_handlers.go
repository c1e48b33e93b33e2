// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/infrastructure/webhook"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/logging"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/middleware"
)

// ReadinessCheck reports whether one dependency is ready.
type ReadinessCheck func() bool

// StatusResponse is the JSON body of the webhook and health endpoints.
type StatusResponse struct {
	Status   string   `json:"status"`
	NotReady []string `json:"not_ready,omitempty"`
}

// HTTPHandler serves provider webhooks and the operational endpoints.
type HTTPHandler struct {
	submitter domain.TriggerSubmitter
	webhooks  *webhook.Registry
	checks    map[string]ReadinessCheck
}

// NewHTTPHandler creates a new HTTPHandler.
func NewHTTPHandler(submitter domain.TriggerSubmitter, webhooks *webhook.Registry, checks map[string]ReadinessCheck) *HTTPHandler {
	return &HTTPHandler{
		submitter: submitter,
		webhooks:  webhooks,
		checks:    checks,
	}
}

// Register mounts the routes on e.
func (h *HTTPHandler) Register(e *echo.Echo) {
	e.GET("/livez", h.Livez)
	e.GET("/readyz", h.Readyz)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.POST(middleware.WebhookPathPrefix+":provider", h.Webhook)
}

// Livez always answers while the process runs. Non-recoverable errors make
// the service exit rather than fail this check.
func (h *HTTPHandler) Livez(c echo.Context) error {
	return c.String(http.StatusOK, "OK\n")
}

// Readyz reports whether every dependency is ready to take work.
func (h *HTTPHandler) Readyz(c echo.Context) error {
	var notReady []string
	for name, check := range h.checks {
		if !check() {
			notReady = append(notReady, name)
		}
	}
	if len(notReady) > 0 {
		sort.Strings(notReady)
		return c.JSON(http.StatusServiceUnavailable, StatusResponse{Status: "unavailable", NotReady: notReady})
	}
	return c.String(http.StatusOK, "OK\n")
}

// Webhook accepts a provider change notification and queues a reconciliation.
// The provider gets its answer before any sync work runs.
func (h *HTTPHandler) Webhook(c echo.Context) error {
	ctx := c.Request().Context()
	provider := models.ProviderKind(c.Param("provider"))
	ctx = logging.AppendCtx(ctx, slog.String("provider", string(provider)))

	parser, err := h.webhooks.GetParser(provider)
	if err != nil {
		slog.WarnContext(ctx, "webhook for unknown provider")
		return c.JSON(http.StatusNotFound, StatusResponse{Status: "unknown provider"})
	}

	body, ok := middleware.GetRawBodyFromContext(ctx)
	if !ok {
		body, err = io.ReadAll(io.LimitReader(c.Request().Body, middleware.MaxWebhookBodyBytes))
		if err != nil {
			return c.JSON(http.StatusBadRequest, StatusResponse{Status: "unreadable body"})
		}
	}

	trigger, err := parser.ParseNotification(ctx, webhook.Notification{Header: c.Request().Header, Body: body})
	if err != nil {
		slog.WarnContext(ctx, "rejected webhook notification", logging.ErrKey, err)
		status := webhookErrorStatus(err)
		return c.JSON(status, StatusResponse{Status: http.StatusText(status)})
	}
	if trigger == nil {
		return c.JSON(http.StatusOK, StatusResponse{Status: "ignored"})
	}

	if err := h.submitter.Submit(ctx, *trigger); err != nil {
		slog.ErrorContext(ctx, "failed to queue webhook trigger", logging.ErrKey, err)
		return c.JSON(http.StatusServiceUnavailable, StatusResponse{Status: "unavailable"})
	}

	slog.DebugContext(ctx, "webhook trigger queued",
		"channel_id", trigger.ChannelID,
		"resource_id", trigger.ResourceID)
	return c.JSON(http.StatusAccepted, StatusResponse{Status: "accepted"})
}

func webhookErrorStatus(err error) int {
	if errors.Is(err, domain.ErrAuthenticationFailed) {
		return http.StatusUnauthorized
	}
	switch domain.GetErrorType(err) {
	case domain.ErrorTypeValidation:
		return http.StatusBadRequest
	case domain.ErrorTypeUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
