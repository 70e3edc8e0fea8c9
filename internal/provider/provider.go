// Package provider implements account-provisioning backends. Each
// backend knows how to create, update, and verify a mail account
// against one upstream provider; the connect flow stays
// provider-agnostic and selects a backend by provider name.
package provider

import (
	"context"
	"fmt"
	"strconv"

	apperrors "github.com/alexjbarnes/mail-connect/internal/errors"
	"github.com/alexjbarnes/mail-connect/internal/models"
)

// Settings carries provider-specific connection settings as supplied
// by the caller (server hostnames, credentials, refresh tokens).
// Values arrive from request JSON, so numbers may be float64.
type Settings map[string]any

// String returns the value for key coerced to a string, or "".
func (s Settings) String(key string) string {
	switch v := s[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}

// Int returns the value for key coerced to an int, or 0.
func (s Settings) Int(key string) int {
	switch v := s[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		n, _ := strconv.Atoi(v)
		return n
	default:
		return 0
	}
}

// Clone returns a shallow copy of the settings map.
func (s Settings) Clone() Settings {
	out := make(Settings, len(s))
	for k, v := range s {
		out[k] = v
	}

	return out
}

// Backend provisions accounts against one upstream provider. All
// methods are bounded by the caller's context; backend failures map
// to the provider error sentinels.
type Backend interface {
	// CreateAccount builds a fresh account (with its own namespace)
	// from the caller-supplied settings. Nothing is persisted here;
	// the caller decides whether the account survives verification.
	CreateAccount(ctx context.Context, emailAddress string, info Settings) (*models.Account, error)

	// UpdateAccount applies new settings to an existing account
	// during reauthorization.
	UpdateAccount(ctx context.Context, account *models.Account, info Settings) (*models.Account, error)

	// VerifyAccount checks the account's credentials against the live
	// provider. A nil return means the credentials work.
	VerifyAccount(ctx context.Context, account *models.Account) error
}

// Registry maps provider names to backends.
type Registry struct {
	backends map[string]Backend
}

// NewRegistry returns an empty backend registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// Register adds a backend under the given provider name, replacing
// any previous registration.
func (r *Registry) Register(name string, b Backend) {
	r.backends[name] = b
}

// ForProvider returns the backend registered under the given name.
func (r *Registry) ForProvider(name string) (Backend, error) {
	b, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrNotSupported, name)
	}

	return b, nil
}
