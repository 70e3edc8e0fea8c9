package models

import (
	"time"

	"github.com/google/uuid"
)

// Account is a connected mail account. Provider-specific settings
// (server hostnames, refresh tokens, passwords) are carried opaquely;
// this service only threads them through to the provisioning backend.
type Account struct {
	ID           string         `json:"id"`
	NamespaceID  string         `json:"namespace_id"`
	Name         string         `json:"name,omitempty"`
	EmailAddress string         `json:"email_address"`
	Provider     string         `json:"provider"`
	Settings     map[string]any `json:"settings,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Namespace is the account's data-ownership boundary. Callers see
// only the public id; bearer tokens are scoped to the internal one.
type Namespace struct {
	ID        string    `json:"id"`
	PublicID  string    `json:"public_id"`
	AccountID string    `json:"account_id"`
	CreatedAt time.Time `json:"created_at"`
}

// NewAccount builds a fresh account with its own namespace id.
// Provisioning backends call this on first-time connection.
func NewAccount(emailAddress, providerName string) *Account {
	now := time.Now().UTC()

	return &Account{
		ID:           uuid.NewString(),
		NamespaceID:  uuid.NewString(),
		EmailAddress: emailAddress,
		Provider:     providerName,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// NewNamespace builds the namespace entity for a freshly created
// account.
func NewNamespace(account *Account) *Namespace {
	return &Namespace{
		ID:        account.NamespaceID,
		PublicID:  uuid.NewString(),
		AccountID: account.ID,
		CreatedAt: time.Now().UTC(),
	}
}
