// Package connect implements the account-connection flow: clients
// authorize a mailbox through a provisioning backend, receive a
// one-time grant code, and exchange it for a namespace-scoped bearer
// token. It owns the protocol discipline (grant consumption, token
// rotation, secret handling); persistence lives in state and
// provider access in provider.
package connect

import (
	"fmt"

	apperrors "github.com/alexjbarnes/mail-connect/internal/errors"
	"github.com/alexjbarnes/mail-connect/internal/models"
	"github.com/alexjbarnes/mail-connect/internal/secrets"
	"github.com/alexjbarnes/mail-connect/internal/state"
)

// Registry resolves registered clients and validates their secrets.
type Registry struct {
	store *state.Store
}

// NewRegistry creates a client registry backed by the store.
func NewRegistry(store *state.Store) *Registry {
	return &Registry{store: store}
}

// FindByPublicID returns the client registered under the given
// public id. Absence maps to ErrClientNotFound; the HTTP layer
// collapses it with the other forbidden-class errors so callers
// cannot enumerate client ids.
func (r *Registry) FindByPublicID(publicID string) (*models.Client, error) {
	client, err := r.store.ClientByPublicID(publicID)
	if err != nil {
		return nil, fmt.Errorf("looking up client: %w", err)
	}

	if client == nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrClientNotFound, publicID)
	}

	return client, nil
}

// VerifySecret reports whether the provided secret matches the
// client's stored digest. The comparison is constant-time over the
// digests.
func (r *Registry) VerifySecret(client *models.Client, providedSecret string) bool {
	return secrets.Equal(providedSecret, client.SecretHash)
}
