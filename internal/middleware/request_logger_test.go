// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/pkg/constants"
)

func TestRequestLoggerMiddleware(t *testing.T) {
	tests := []struct {
		name      string
		requestID string
		status    int
	}{
		{name: "keeps caller request id", requestID: "req-123", status: http.StatusAccepted},
		{name: "generates request id", status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := RequestLoggerMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))

			req := httptest.NewRequest("POST", "/webhooks/calendar/google", nil)
			if tt.requestID != "" {
				req.Header.Set(constants.RequestIDHeader, tt.requestID)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			got := w.Header().Get(constants.RequestIDHeader)
			if tt.requestID != "" {
				assert.Equal(t, tt.requestID, got)
			} else {
				assert.NotEmpty(t, got)
			}
		})
	}
}

func TestResponseWriter_DefaultsToOK(t *testing.T) {
	rec := httptest.NewRecorder()
	ww := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	_, err := ww.Write([]byte("ok"))

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, ww.statusCode)
}
