// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package webhook

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain/models"
)

// Notification is an inbound provider change notification as received over HTTP.
type Notification struct {
	Header http.Header
	Body   []byte
}

// Parser turns a provider notification into a reconciliation trigger. A nil
// trigger with a nil error means the notification carries no change.
type Parser interface {
	ParseNotification(ctx context.Context, n Notification) (*models.SyncTrigger, error)
}

// Registry maps provider kinds to their notification parsers.
type Registry struct {
	parsers map[models.ProviderKind]Parser
	mu      sync.RWMutex
}

// NewRegistry creates a new webhook registry
func NewRegistry() *Registry {
	return &Registry{
		parsers: make(map[models.ProviderKind]Parser),
	}
}

// GetParser returns the parser for the specified provider
func (r *Registry) GetParser(provider models.ProviderKind) (Parser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	parser, exists := r.parsers[provider]
	if !exists {
		return nil, fmt.Errorf("webhook parser for provider %s not found", provider)
	}

	return parser, nil
}

// RegisterParser registers a parser for a provider
func (r *Registry) RegisterParser(provider models.ProviderKind, parser Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.parsers[provider] = parser
}
