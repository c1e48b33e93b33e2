// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/logging"
)

// SeriesOperations is the part of the series service exposed over NATS.
type SeriesOperations interface {
	ServiceReady() bool
	UpsertSeries(ctx context.Context, master *models.SeriesMaster, instances []*models.SlotInstance) (*models.SeriesMaster, []*models.SlotInstance, error)
	GetSeries(ctx context.Context, seriesUID string) (*models.SeriesMaster, error)
	ListInstances(ctx context.Context, seriesUID string, from, to time.Time) ([]*models.SlotInstance, error)
	UpdateWholeSeries(ctx context.Context, seriesUID string, changes models.SeriesChanges, effectiveFrom time.Time) (*models.SeriesMaster, []*models.SlotInstance, error)
	UpdateSingleInstance(ctx context.Context, instanceUID string, changes models.InstanceChanges) (*models.SlotInstance, error)
	CancelSeries(ctx context.Context, seriesUID string) (*models.SeriesMaster, []*models.SlotInstance, error)
	DeleteInstancesAfter(ctx context.Context, seriesUID string, cutoff time.Time) ([]*models.SlotInstance, error)
	DeleteRecurringInstances(ctx context.Context, seriesUID string, instants []time.Time) ([]*models.SlotInstance, error)
	BulkConfirmSlots(ctx context.Context, seriesUID string, from, to time.Time) ([]*models.SlotInstance, error)
}

// ConnectionOperations is the part of the connection service exposed over NATS.
type ConnectionOperations interface {
	ServiceReady() bool
	CreateConnection(ctx context.Context, conn *models.CalendarConnection) (*models.CalendarConnection, error)
	ListConnections(ctx context.Context, accountID string) ([]*models.CalendarConnection, error)
	RefreshConnection(ctx context.Context, connectionUID string) (*models.CalendarConnection, error)
	SetCalendarPreferences(ctx context.Context, connectionUID, calendarID string, enabled, sync bool) (*models.CalendarConnection, error)
	EnableSync(ctx context.Context, connectionUID string) (*models.CalendarConnection, error)
	Disconnect(ctx context.Context, connectionUID string) error
}

// AvailabilityOperations is the part of the availability service exposed over NATS.
type AvailabilityOperations interface {
	ServiceReady() bool
	GetAccountAvailability(ctx context.Context, accountID string, from, to time.Time) ([]models.BusyInterval, error)
	CheckConflict(ctx context.Context, accountID string, start, end time.Time) ([]models.BusyInterval, error)
}

type apiHandlerFunc func(ctx context.Context, msg domain.Message) (any, error)

// CalendarAPIHandler serves the request/reply calendar API.
type CalendarAPIHandler struct {
	series       SeriesOperations
	connections  ConnectionOperations
	availability AvailabilityOperations
}

// NewCalendarAPIHandler creates a new CalendarAPIHandler.
func NewCalendarAPIHandler(series SeriesOperations, connections ConnectionOperations, availability AvailabilityOperations) *CalendarAPIHandler {
	return &CalendarAPIHandler{
		series:       series,
		connections:  connections,
		availability: availability,
	}
}

// Ensure [CalendarAPIHandler] implements [domain.MessageHandler]
var _ domain.MessageHandler = (*CalendarAPIHandler)(nil)

func (h *CalendarAPIHandler) HandlerReady() bool {
	return h.series.ServiceReady() &&
		h.connections.ServiceReady() &&
		h.availability.ServiceReady()
}

func (h *CalendarAPIHandler) handlers() map[string]apiHandlerFunc {
	return map[string]apiHandlerFunc{
		models.SeriesUpsertSubject:          h.handleSeriesUpsert,
		models.SeriesGetSubject:             h.handleSeriesGet,
		models.SeriesUpdateSubject:          h.handleSeriesUpdate,
		models.SeriesCancelSubject:          h.handleSeriesCancel,
		models.SeriesTruncateSubject:        h.handleSeriesTruncate,
		models.SeriesDeleteInstancesSubject: h.handleSeriesDeleteInstances,
		models.SeriesConfirmSubject:         h.handleSeriesConfirm,
		models.InstanceUpdateSubject:        h.handleInstanceUpdate,
		models.AvailabilityGetSubject:       h.handleAvailabilityGet,
		models.AvailabilityConflictsSubject: h.handleAvailabilityConflicts,
		models.ConnectionCreateSubject:      h.handleConnectionCreate,
		models.ConnectionListSubject:        h.handleConnectionList,
		models.ConnectionRefreshSubject:     h.handleConnectionRefresh,
		models.ConnectionPreferencesSubject: h.handleConnectionPreferences,
		models.ConnectionEnableSubject:      h.handleConnectionEnable,
		models.ConnectionDisconnectSubject:  h.handleConnectionDisconnect,
	}
}

// Subjects returns the subjects served, sorted.
func (h *CalendarAPIHandler) Subjects() []string {
	handlers := h.handlers()
	subjects := make([]string, 0, len(handlers))
	for subject := range handlers {
		subjects = append(subjects, subject)
	}
	sort.Strings(subjects)
	return subjects
}

// HandleMessage implements domain.MessageHandler interface
func (h *CalendarAPIHandler) HandleMessage(ctx context.Context, msg domain.Message) {
	subject := msg.Subject()
	ctx = logging.AppendCtx(ctx, slog.String("subject", subject))
	slog.DebugContext(ctx, "handling NATS message")

	handler, ok := h.handlers()[subject]
	if !ok {
		slog.WarnContext(ctx, "unknown subject")
		respond(ctx, msg, nil)
		return
	}

	var resp models.APIResponse
	data, err := handler(ctx, msg)
	if err != nil {
		slog.ErrorContext(ctx, "error handling message", logging.ErrKey, err)
		resp.Error = &models.APIError{Type: errorTypeName(err), Message: err.Error()}
	} else {
		resp.Data = data
	}

	if !msg.HasReply() {
		slog.DebugContext(ctx, "handled NATS message (no reply expected)")
		return
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.ErrorContext(ctx, "error encoding response", logging.ErrKey, err)
		respond(ctx, msg, nil)
		return
	}
	respond(ctx, msg, payload)
}

func decode[T any](msg domain.Message) (T, error) {
	var req T
	if err := json.Unmarshal(msg.Data(), &req); err != nil {
		return req, domain.NewValidationError("invalid request body", err)
	}
	return req, nil
}

func (h *CalendarAPIHandler) handleSeriesUpsert(ctx context.Context, msg domain.Message) (any, error) {
	req, err := decode[models.UpsertSeriesRequest](msg)
	if err != nil {
		return nil, err
	}
	master, instances, err := h.series.UpsertSeries(ctx, req.Master, req.Instances)
	if err != nil {
		return nil, err
	}
	return models.SeriesResponse{Master: master, Instances: instances}, nil
}

func (h *CalendarAPIHandler) handleSeriesGet(ctx context.Context, msg domain.Message) (any, error) {
	req, err := decode[models.GetSeriesRequest](msg)
	if err != nil {
		return nil, err
	}
	master, err := h.series.GetSeries(ctx, req.SeriesUID)
	if err != nil {
		return nil, err
	}
	resp := models.SeriesResponse{Master: master}
	if req.From != nil && req.To != nil {
		resp.Instances, err = h.series.ListInstances(ctx, req.SeriesUID, *req.From, *req.To)
		if err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func (h *CalendarAPIHandler) handleSeriesUpdate(ctx context.Context, msg domain.Message) (any, error) {
	req, err := decode[models.UpdateSeriesRequest](msg)
	if err != nil {
		return nil, err
	}
	master, instances, err := h.series.UpdateWholeSeries(ctx, req.SeriesUID, req.Changes, req.EffectiveFrom)
	if err != nil {
		return nil, err
	}
	return models.SeriesResponse{Master: master, Instances: instances}, nil
}

func (h *CalendarAPIHandler) handleSeriesCancel(ctx context.Context, msg domain.Message) (any, error) {
	req, err := decode[models.SeriesRequest](msg)
	if err != nil {
		return nil, err
	}
	master, instances, err := h.series.CancelSeries(ctx, req.SeriesUID)
	if err != nil {
		return nil, err
	}
	return models.SeriesResponse{Master: master, Instances: instances}, nil
}

func (h *CalendarAPIHandler) handleSeriesTruncate(ctx context.Context, msg domain.Message) (any, error) {
	req, err := decode[models.TruncateSeriesRequest](msg)
	if err != nil {
		return nil, err
	}
	instances, err := h.series.DeleteInstancesAfter(ctx, req.SeriesUID, req.Cutoff)
	if err != nil {
		return nil, err
	}
	return models.SeriesResponse{Instances: instances}, nil
}

func (h *CalendarAPIHandler) handleSeriesDeleteInstances(ctx context.Context, msg domain.Message) (any, error) {
	req, err := decode[models.DeleteInstancesRequest](msg)
	if err != nil {
		return nil, err
	}
	instances, err := h.series.DeleteRecurringInstances(ctx, req.SeriesUID, req.Instants)
	if err != nil {
		return nil, err
	}
	return models.SeriesResponse{Instances: instances}, nil
}

func (h *CalendarAPIHandler) handleSeriesConfirm(ctx context.Context, msg domain.Message) (any, error) {
	req, err := decode[models.ConfirmSlotsRequest](msg)
	if err != nil {
		return nil, err
	}
	instances, err := h.series.BulkConfirmSlots(ctx, req.SeriesUID, req.From, req.To)
	if err != nil {
		return nil, err
	}
	return models.SeriesResponse{Instances: instances}, nil
}

func (h *CalendarAPIHandler) handleInstanceUpdate(ctx context.Context, msg domain.Message) (any, error) {
	req, err := decode[models.UpdateInstanceRequest](msg)
	if err != nil {
		return nil, err
	}
	inst, err := h.series.UpdateSingleInstance(ctx, req.InstanceUID, req.Changes)
	if err != nil {
		return nil, err
	}
	return models.SeriesResponse{Instances: []*models.SlotInstance{inst}}, nil
}

func (h *CalendarAPIHandler) handleAvailabilityGet(ctx context.Context, msg domain.Message) (any, error) {
	req, err := decode[models.AvailabilityRequest](msg)
	if err != nil {
		return nil, err
	}
	busy, err := h.availability.GetAccountAvailability(ctx, req.AccountID, req.Start, req.End)
	if err != nil {
		return nil, err
	}
	return availabilityResponse(busy), nil
}

func (h *CalendarAPIHandler) handleAvailabilityConflicts(ctx context.Context, msg domain.Message) (any, error) {
	req, err := decode[models.AvailabilityRequest](msg)
	if err != nil {
		return nil, err
	}
	busy, err := h.availability.CheckConflict(ctx, req.AccountID, req.Start, req.End)
	if err != nil {
		return nil, err
	}
	return availabilityResponse(busy), nil
}

func availabilityResponse(busy []models.BusyInterval) models.AvailabilityResponse {
	if busy == nil {
		busy = []models.BusyInterval{}
	}
	return models.AvailabilityResponse{Busy: busy}
}

func (h *CalendarAPIHandler) handleConnectionCreate(ctx context.Context, msg domain.Message) (any, error) {
	var conn models.CalendarConnection
	if err := json.Unmarshal(msg.Data(), &conn); err != nil {
		return nil, domain.NewValidationError("invalid request body", err)
	}
	return h.connections.CreateConnection(ctx, &conn)
}

func (h *CalendarAPIHandler) handleConnectionList(ctx context.Context, msg domain.Message) (any, error) {
	req, err := decode[models.AccountRequest](msg)
	if err != nil {
		return nil, err
	}
	if req.AccountID == "" {
		return nil, domain.NewValidationError("account_id is required")
	}
	conns, err := h.connections.ListConnections(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	if conns == nil {
		conns = []*models.CalendarConnection{}
	}
	return conns, nil
}

func (h *CalendarAPIHandler) handleConnectionRefresh(ctx context.Context, msg domain.Message) (any, error) {
	req, err := decode[models.ConnectionRequest](msg)
	if err != nil {
		return nil, err
	}
	return h.connections.RefreshConnection(ctx, req.ConnectionUID)
}

func (h *CalendarAPIHandler) handleConnectionPreferences(ctx context.Context, msg domain.Message) (any, error) {
	req, err := decode[models.CalendarPreferencesRequest](msg)
	if err != nil {
		return nil, err
	}
	return h.connections.SetCalendarPreferences(ctx, req.ConnectionUID, req.CalendarID, req.Enabled, req.Sync)
}

func (h *CalendarAPIHandler) handleConnectionEnable(ctx context.Context, msg domain.Message) (any, error) {
	req, err := decode[models.ConnectionRequest](msg)
	if err != nil {
		return nil, err
	}
	return h.connections.EnableSync(ctx, req.ConnectionUID)
}

func (h *CalendarAPIHandler) handleConnectionDisconnect(ctx context.Context, msg domain.Message) (any, error) {
	req, err := decode[models.ConnectionRequest](msg)
	if err != nil {
		return nil, err
	}
	if err := h.connections.Disconnect(ctx, req.ConnectionUID); err != nil {
		return nil, err
	}
	return models.ConnectionRequest{ConnectionUID: req.ConnectionUID}, nil
}

// errorTypeName is the wire name of an error's category.
func errorTypeName(err error) string {
	if errors.Is(err, domain.ErrAuthenticationFailed) {
		return "authentication_failed"
	}
	switch domain.GetErrorType(err) {
	case domain.ErrorTypeValidation:
		return "validation"
	case domain.ErrorTypeNotFound:
		return "not_found"
	case domain.ErrorTypeConflict:
		return "conflict"
	case domain.ErrorTypeUnavailable:
		return "unavailable"
	}
	return "internal"
}
