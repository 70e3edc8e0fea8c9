// Package models defines types shared across internal packages.
package models

import "time"

// GrantTTL is how long an authorization grant stays exchangeable.
const GrantTTL = 10 * time.Minute

// Client represents a registered API consumer. The secret is stored
// as a SHA-256 hex digest; the raw secret is only ever held by the
// caller.
type Client struct {
	ID         string    `json:"id"`
	PublicID   string    `json:"client_id"`
	SecretHash string    `json:"secret_hash"`
	Name       string    `json:"name,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Grant is a one-time authorization credential binding an account to
// a client. The code is stored as a digest and the grant row is
// deleted when exchanged. Expiry is computed from CreatedAt and TTL,
// never stored, so a grant cannot carry a stale flag.
type Grant struct {
	ID        string        `json:"id"`
	CreatedAt time.Time     `json:"created_at"`
	TTL       time.Duration `json:"ttl"`
	CodeHash  string        `json:"code_hash"`
	AccountID string        `json:"account_id"`
	ClientID  string        `json:"client_id"`
}

// Expired reports whether the grant's age exceeds its TTL at the
// given instant.
func (g Grant) Expired(now time.Time) bool {
	return now.After(g.CreatedAt.Add(g.TTL))
}

// BearerToken is a long-lived access credential scoped to a
// namespace. At most one live token exists per (client, namespace)
// pair; issuing a new one deletes its predecessors.
type BearerToken struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	TokenHash   string    `json:"token_hash"`
	NamespaceID string    `json:"namespace_id"`
	ClientID    string    `json:"client_id"`
}
