// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/logging"
)

// Registry implements the ProviderRegistry interface. It owns one client per
// connection (the client arena) and builds it on first use from the factory
// registered for the connection's provider kind.
type Registry struct {
	credentials domain.CredentialStore

	factories map[models.ProviderKind]domain.ProviderFactory
	clients   map[string]arenaEntry
	mu        sync.RWMutex

	building singleflight.Group
}

type arenaEntry struct {
	provider      domain.CalendarProvider
	kind          models.ProviderKind
	credentialRef string
}

// Ensure [Registry] implements [domain.ProviderRegistry]
var _ domain.ProviderRegistry = (*Registry)(nil)

// NewRegistry creates a new provider registry
func NewRegistry(credentials domain.CredentialStore) *Registry {
	return &Registry{
		credentials: credentials,
		factories:   make(map[models.ProviderKind]domain.ProviderFactory),
		clients:     make(map[string]arenaEntry),
	}
}

// RegisterFactory registers the factory for a provider kind
func (r *Registry) RegisterFactory(kind models.ProviderKind, factory domain.ProviderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[kind] = factory
}

// ProviderFor returns the client owned by the connection. A client built for
// another provider kind or credential reference is replaced.
func (r *Registry) ProviderFor(ctx context.Context, conn *models.CalendarConnection) (domain.CalendarProvider, error) {
	if conn == nil || conn.UID == "" {
		return nil, domain.NewValidationError("connection UID is required")
	}

	if p, ok := r.cached(conn); ok {
		return p, nil
	}

	v, err, _ := r.building.Do(conn.UID, func() (any, error) {
		if p, ok := r.cached(conn); ok {
			return p, nil
		}
		return r.build(ctx, conn)
	})
	if err != nil {
		return nil, err
	}
	return v.(domain.CalendarProvider), nil
}

func (r *Registry) cached(conn *models.CalendarConnection) (domain.CalendarProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.clients[conn.UID]
	if !ok || entry.kind != conn.Provider || entry.credentialRef != conn.CredentialRef {
		return nil, false
	}
	return entry.provider, true
}

func (r *Registry) build(ctx context.Context, conn *models.CalendarConnection) (domain.CalendarProvider, error) {
	r.mu.RLock()
	factory, exists := r.factories[conn.Provider]
	r.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%w: %s", domain.NewNotFoundError("calendar provider not found"), conn.Provider)
	}

	var creds *models.Credentials
	if r.credentials != nil && conn.CredentialRef != "" {
		var err error
		creds, err = r.credentials.GetCredentials(ctx, conn.CredentialRef)
		if err != nil {
			return nil, err
		}
	}

	p, err := factory(ctx, conn, creds)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	previous, replaced := r.clients[conn.UID]
	r.clients[conn.UID] = arenaEntry{provider: p, kind: conn.Provider, credentialRef: conn.CredentialRef}
	r.mu.Unlock()

	if replaced {
		closeProvider(ctx, conn.UID, previous.provider)
	}
	slog.DebugContext(ctx, "calendar provider client created",
		"connection_uid", conn.UID, "provider", conn.Provider)
	return p, nil
}

// Release closes and forgets the client owned by the connection. Releasing an
// unknown connection is a no-op.
func (r *Registry) Release(connectionUID string) error {
	r.mu.Lock()
	entry, ok := r.clients[connectionUID]
	delete(r.clients, connectionUID)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return entry.provider.Close()
}

// Close releases every client.
func (r *Registry) Close() error {
	r.mu.Lock()
	clients := r.clients
	r.clients = make(map[string]arenaEntry)
	r.mu.Unlock()

	var errs []error
	for uid, entry := range clients {
		if err := entry.provider.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close client for connection %s: %w", uid, err))
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of live clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

func closeProvider(ctx context.Context, connectionUID string, p domain.CalendarProvider) {
	if err := p.Close(); err != nil {
		slog.WarnContext(ctx, "failed to close replaced provider client",
			"connection_uid", connectionUID, logging.ErrKey, err)
	}
}
