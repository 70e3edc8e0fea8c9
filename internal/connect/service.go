package connect

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alexjbarnes/mail-connect/internal/models"
	"github.com/alexjbarnes/mail-connect/internal/provider"
	"github.com/alexjbarnes/mail-connect/internal/secrets"
	"github.com/alexjbarnes/mail-connect/internal/state"

	apperrors "github.com/alexjbarnes/mail-connect/internal/errors"
)

// Service runs the two connect operations. It is safe for concurrent
// use; the store is the only shared mutable state.
type Service struct {
	store    *state.Store
	clients  *Registry
	backends *provider.Registry
	logger   *slog.Logger
}

// NewService wires the connect flow together.
func NewService(store *state.Store, backends *provider.Registry, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		clients:  NewRegistry(store),
		backends: backends,
		logger:   logger,
	}
}

// AuthorizeParams are the validated inputs to Authorize.
type AuthorizeParams struct {
	ClientPublicID string
	Name           string
	EmailAddress   string
	Provider       string
	Settings       provider.Settings

	// Reauth requests re-authorization of an already-connected
	// account. When no account matches the email address, the flow
	// silently degrades to a fresh connection; see Authorize.
	Reauth bool
}

// Authorize connects (or re-connects) a mail account and mints a
// one-time grant code bound to (account, client). The raw code is
// returned exactly once; only its digest is persisted. Nothing is
// persisted unless the provisioning backend verifies the account's
// credentials against the live provider.
func (s *Service) Authorize(ctx context.Context, p AuthorizeParams) (string, error) {
	client, err := s.clients.FindByPublicID(p.ClientPublicID)
	if err != nil {
		return "", err
	}

	existing, err := s.store.AccountByEmail(p.EmailAddress)
	if err != nil {
		return "", fmt.Errorf("looking up account: %w", err)
	}

	if existing != nil && !p.Reauth {
		return "", fmt.Errorf("%w: %s", apperrors.ErrAccountExists, p.EmailAddress)
	}

	// A reauth request for an unknown account falls back to fresh
	// creation rather than erroring. Surprising, but deliberate:
	// callers retrying a lost connection don't need to track whether
	// the first attempt ever committed.
	reauth := p.Reauth && existing != nil

	backend, err := s.backends.ForProvider(p.Provider)
	if err != nil {
		return "", err
	}

	info := provider.NormalizeSettings(p.Settings)
	info["name"] = p.Name
	info["provider"] = p.Provider
	info["email"] = p.EmailAddress

	var (
		account *models.Account
		ns      *models.Namespace
	)

	if reauth {
		account, err = backend.UpdateAccount(ctx, existing, info)
		if err != nil {
			return "", fmt.Errorf("updating account: %w", err)
		}

		ns, err = s.store.NamespaceByID(account.NamespaceID)
		if err != nil {
			return "", fmt.Errorf("looking up namespace: %w", err)
		}

		if ns == nil {
			return "", fmt.Errorf("account %s has no namespace", account.ID)
		}
	} else {
		account, err = backend.CreateAccount(ctx, p.EmailAddress, info)
		if err != nil {
			return "", fmt.Errorf("creating account: %w", err)
		}

		ns = models.NewNamespace(account)
	}

	if err := backend.VerifyAccount(ctx, account); err != nil {
		return "", fmt.Errorf("verifying account: %w", err)
	}

	code := secrets.Generate(secrets.DefaultLength)
	grant := models.Grant{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		TTL:       models.GrantTTL,
		CodeHash:  secrets.Hash(code),
		AccountID: account.ID,
		ClientID:  client.ID,
	}

	if err := s.store.SaveAccountWithGrant(account, ns, grant); err != nil {
		return "", fmt.Errorf("persisting account and grant: %w", err)
	}

	s.logger.Info("issued grant",
		slog.String("client_id", client.PublicID),
		slog.String("account_id", account.ID),
		slog.String("provider", account.Provider),
		slog.Bool("reauth", reauth),
	)

	return code, nil
}

// ExchangeParams are the validated inputs to Exchange.
type ExchangeParams struct {
	ClientPublicID string
	ClientSecret   string
	Code           string
}

// TokenResult carries the one-time raw token and the namespace it is
// scoped to.
type TokenResult struct {
	AccessToken string
	Account     *models.Account
	Namespace   *models.Namespace
}

// Exchange consumes a grant code and issues a fresh bearer token.
// The consume-and-rotate step runs in one store transaction, so a
// code is exchangeable at most once and at most one live token
// exists per (client, namespace) pair afterwards. The raw token is
// returned exactly once.
func (s *Service) Exchange(ctx context.Context, p ExchangeParams) (*TokenResult, error) {
	client, err := s.clients.FindByPublicID(p.ClientPublicID)
	if err != nil {
		return nil, err
	}

	if !s.clients.VerifySecret(client, p.ClientSecret) {
		return nil, fmt.Errorf("%w: client %s", apperrors.ErrInvalidClientSecret, client.PublicID)
	}

	raw := secrets.Generate(secrets.DefaultLength)
	token := models.BearerToken{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		TokenHash: secrets.Hash(raw),
		ClientID:  client.ID,
	}

	account, ns, err := s.store.ExchangeGrant(client.ID, secrets.Hash(p.Code), token, time.Now())
	if err != nil {
		return nil, err
	}

	s.logger.Info("exchanged grant for token",
		slog.String("client_id", client.PublicID),
		slog.String("namespace", ns.PublicID),
	)

	return &TokenResult{
		AccessToken: raw,
		Account:     account,
		Namespace:   ns,
	}, nil
}
