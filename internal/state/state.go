// Package state persists clients, accounts, namespaces, grants, and
// bearer tokens in a bbolt database. Grant and token records are
// keyed by the SHA-256 hex digest of their secret, so raw secrets
// never reach disk, and lookups are digest comparisons.
//
// bbolt allows a single writer at a time, which makes Update the
// atomic unit for the exchange flow: consuming a grant and rotating
// the namespace's token happen in one transaction, so a grant can
// never be exchanged twice and a crash leaves no half-rotated state.
package state

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alexjbarnes/mail-connect/internal/models"
	bolt "go.etcd.io/bbolt"

	apperrors "github.com/alexjbarnes/mail-connect/internal/errors"
)

const (
	// dbDirPerm is the permission mode for the database directory.
	dbDirPerm = fs.FileMode(0o700)

	// dbFilePerm is the permission mode for the database file.
	dbFilePerm = fs.FileMode(0o600)

	// dbOpenTimeout is the maximum time to wait for the bolt database lock.
	dbOpenTimeout = 5 * time.Second
)

var (
	clientsBucket       = []byte("clients")        // public client id -> Client
	accountsBucket      = []byte("accounts")       // account id -> Account
	accountEmailsBucket = []byte("account_emails") // lowercased email -> account id
	namespacesBucket    = []byte("namespaces")     // namespace id -> Namespace
	grantsBucket        = []byte("grants")         // code digest -> Grant
	tokensBucket        = []byte("tokens")         // token digest -> BearerToken
)

// Store wraps a bbolt database holding all durable state.
type Store struct {
	db *bolt.DB
}

// Open opens the database at the given path, creating it and all
// buckets if they do not exist.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, dbDirPerm); err != nil {
			return nil, fmt.Errorf("creating state directory: %w", err)
		}
	}

	db, err := bolt.Open(path, dbFilePerm, &bolt.Options{Timeout: dbOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{
			clientsBucket,
			accountsBucket,
			accountEmailsBucket,
			namespacesBucket,
			grantsBucket,
			tokensBucket,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func put(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	return b.Put(key, data)
}

// ClientByPublicID returns the registered client with the given
// public id, or nil if none exists.
func (s *Store) ClientByPublicID(publicID string) (*models.Client, error) {
	var client *models.Client

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(clientsBucket).Get([]byte(publicID))
		if v == nil {
			return nil
		}

		client = &models.Client{}

		return json.Unmarshal(v, client)
	})

	return client, err
}

// UpsertClient registers or refreshes a client keyed by its public
// id. An existing client keeps its internal id so grants and tokens
// that reference it stay valid; only the secret digest and name are
// replaced.
func (s *Store) UpsertClient(client models.Client) error {
	if client.SecretHash == "" {
		return fmt.Errorf("client secret hash is required for persistence")
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(clientsBucket)

		key := []byte(client.PublicID)
		if v := b.Get(key); v != nil {
			var existing models.Client
			if err := json.Unmarshal(v, &existing); err != nil {
				return err
			}

			client.ID = existing.ID
			client.CreatedAt = existing.CreatedAt
		}

		return put(b, key, client)
	})
}

// PruneClients removes every client whose public id is not in the
// given set, along with the grants and tokens it still holds. Run at
// startup after seeding so a client dropped from the configuration
// stops authorizing and its outstanding credentials are revoked.
func (s *Store) PruneClients(keepPublicIDs []string) error {
	keep := make(map[string]struct{}, len(keepPublicIDs))
	for _, id := range keepPublicIDs {
		keep[id] = struct{}{}
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		clients := tx.Bucket(clientsBucket)

		var (
			staleKeys [][]byte
			removed   []string
		)

		err := clients.ForEach(func(k, v []byte) error {
			if _, ok := keep[string(k)]; ok {
				return nil
			}

			var c models.Client
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}

			key := make([]byte, len(k))
			copy(key, k)
			staleKeys = append(staleKeys, key)
			removed = append(removed, c.ID)

			return nil
		})
		if err != nil {
			return err
		}

		for _, key := range staleKeys {
			if err := clients.Delete(key); err != nil {
				return err
			}
		}

		for _, clientID := range removed {
			if err := deleteGrantsForClient(tx.Bucket(grantsBucket), clientID); err != nil {
				return err
			}

			if err := deleteTokensForClient(tx.Bucket(tokensBucket), clientID); err != nil {
				return err
			}
		}

		return nil
	})
}

// AccountByEmail returns the account with the given email address,
// or nil if none exists. The lookup is case-insensitive.
func (s *Store) AccountByEmail(email string) (*models.Account, error) {
	var account *models.Account

	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(accountEmailsBucket).Get([]byte(normalizeEmail(email)))
		if id == nil {
			return nil
		}

		v := tx.Bucket(accountsBucket).Get(id)
		if v == nil {
			return nil
		}

		account = &models.Account{}

		return json.Unmarshal(v, account)
	})

	return account, err
}

// NamespaceByID returns the namespace with the given internal id, or
// nil if none exists.
func (s *Store) NamespaceByID(id string) (*models.Namespace, error) {
	var ns *models.Namespace

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(namespacesBucket).Get([]byte(id))
		if v == nil {
			return nil
		}

		ns = &models.Namespace{}

		return json.Unmarshal(v, ns)
	})

	return ns, err
}

// AccountByNamespaceID returns the account owning the given
// namespace, or nil if none exists.
func (s *Store) AccountByNamespaceID(namespaceID string) (*models.Account, error) {
	ns, err := s.NamespaceByID(namespaceID)
	if err != nil || ns == nil {
		return nil, err
	}

	var account *models.Account

	err = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(accountsBucket).Get([]byte(ns.AccountID))
		if v == nil {
			return nil
		}

		account = &models.Account{}

		return json.Unmarshal(v, account)
	})

	return account, err
}

// SaveAccountWithGrant persists the account, its namespace, and a
// freshly minted grant in one transaction. Either everything commits
// or nothing does; a verified account is never left behind without
// its grant.
func (s *Store) SaveAccountWithGrant(account *models.Account, ns *models.Namespace, grant models.Grant) error {
	if grant.CodeHash == "" {
		return fmt.Errorf("grant code hash is required for persistence")
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		if err := put(tx.Bucket(accountsBucket), []byte(account.ID), account); err != nil {
			return err
		}

		email := []byte(normalizeEmail(account.EmailAddress))
		if err := tx.Bucket(accountEmailsBucket).Put(email, []byte(account.ID)); err != nil {
			return err
		}

		if err := put(tx.Bucket(namespacesBucket), []byte(ns.ID), ns); err != nil {
			return err
		}

		return put(tx.Bucket(grantsBucket), []byte(grant.CodeHash), grant)
	})
}

// ExchangeGrant atomically consumes the grant matching (client, code
// digest) and rotates the namespace's bearer token: every prior
// token for the (client, namespace) pair is deleted, the new token
// row is inserted, and the grant row is removed, all in one write
// transaction. Returns ErrInvalidGrant when no grant matches the
// digest for that client or the grant's age exceeds its TTL; an
// expired grant is deleted on the way out but is otherwise
// indistinguishable from an absent one.
//
// token.NamespaceID is filled in from the consumed grant's account.
// bbolt serializes writers, so concurrent exchanges of the same code
// line up here and only the first finds the grant.
func (s *Store) ExchangeGrant(clientID, codeHash string, token models.BearerToken, now time.Time) (*models.Account, *models.Namespace, error) {
	if token.TokenHash == "" {
		return nil, nil, fmt.Errorf("token hash is required for persistence")
	}

	var (
		account models.Account
		ns      models.Namespace
		expired bool
	)

	err := s.db.Update(func(tx *bolt.Tx) error {
		grants := tx.Bucket(grantsBucket)

		v := grants.Get([]byte(codeHash))
		if v == nil {
			return apperrors.ErrInvalidGrant
		}

		var grant models.Grant
		if err := json.Unmarshal(v, &grant); err != nil {
			return err
		}

		if grant.ClientID != clientID {
			return apperrors.ErrInvalidGrant
		}

		if grant.Expired(now) {
			// Lazy reaping: the row is useless, drop it now. The
			// delete only commits if this closure returns nil, so the
			// invalid-grant sentinel is raised outside the transaction.
			expired = true

			return grants.Delete([]byte(codeHash))
		}

		av := tx.Bucket(accountsBucket).Get([]byte(grant.AccountID))
		if av == nil {
			return apperrors.ErrInvalidGrant
		}

		if err := json.Unmarshal(av, &account); err != nil {
			return err
		}

		nv := tx.Bucket(namespacesBucket).Get([]byte(account.NamespaceID))
		if nv == nil {
			return apperrors.ErrInvalidGrant
		}

		if err := json.Unmarshal(nv, &ns); err != nil {
			return err
		}

		tokens := tx.Bucket(tokensBucket)
		if err := deleteTokensFor(tokens, clientID, ns.ID); err != nil {
			return err
		}

		token.NamespaceID = ns.ID
		if err := insertToken(tokens, token); err != nil {
			return err
		}

		return grants.Delete([]byte(codeHash))
	})
	if err != nil {
		return nil, nil, err
	}

	if expired {
		return nil, nil, apperrors.ErrInvalidGrant
	}

	return &account, &ns, nil
}

// TokenByHash returns the bearer token whose digest matches, or
// ErrInvalidToken if none exists. There is no path that returns a
// raw token; callers must already hold one to look it up.
func (s *Store) TokenByHash(tokenHash string) (*models.BearerToken, error) {
	var token *models.BearerToken

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(tokensBucket).Get([]byte(tokenHash))
		if v == nil {
			return apperrors.ErrInvalidToken
		}

		token = &models.BearerToken{}

		return json.Unmarshal(v, token)
	})
	if err != nil {
		return nil, err
	}

	return token, nil
}

// TokensFor returns all live tokens for a (client, namespace) pair.
// Exposed for invariant checks; the exchange path never reads tokens
// back.
func (s *Store) TokensFor(clientID, namespaceID string) ([]models.BearerToken, error) {
	var result []models.BearerToken

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(tokensBucket).ForEach(func(k, v []byte) error {
			var t models.BearerToken
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}

			if t.ClientID == clientID && t.NamespaceID == namespaceID {
				result = append(result, t)
			}

			return nil
		})
	})

	return result, err
}

// GrantByCodeHash returns the grant with the given code digest, or
// nil if none exists. Expiry is not evaluated here; only the
// exchange path decides whether a grant is usable.
func (s *Store) GrantByCodeHash(codeHash string) (*models.Grant, error) {
	var grant *models.Grant

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(grantsBucket).Get([]byte(codeHash))
		if v == nil {
			return nil
		}

		grant = &models.Grant{}

		return json.Unmarshal(v, grant)
	})

	return grant, err
}

// deleteTokensFor removes every token belonging to the (client,
// namespace) pair within the caller's transaction. This is what
// keeps the single-live-token invariant.
func deleteTokensFor(b *bolt.Bucket, clientID, namespaceID string) error {
	var stale [][]byte

	err := b.ForEach(func(k, v []byte) error {
		var t models.BearerToken
		if err := json.Unmarshal(v, &t); err != nil {
			return err
		}

		if t.ClientID == clientID && t.NamespaceID == namespaceID {
			key := make([]byte, len(k))
			copy(key, k)
			stale = append(stale, key)
		}

		return nil
	})
	if err != nil {
		return err
	}

	for _, key := range stale {
		if err := b.Delete(key); err != nil {
			return err
		}
	}

	return nil
}

// insertToken writes a token row within the caller's transaction.
func insertToken(b *bolt.Bucket, token models.BearerToken) error {
	return put(b, []byte(token.TokenHash), token)
}

// deleteGrantsForClient removes every grant issued to the client
// within the caller's transaction.
func deleteGrantsForClient(b *bolt.Bucket, clientID string) error {
	var stale [][]byte

	err := b.ForEach(func(k, v []byte) error {
		var g models.Grant
		if err := json.Unmarshal(v, &g); err != nil {
			return err
		}

		if g.ClientID == clientID {
			key := make([]byte, len(k))
			copy(key, k)
			stale = append(stale, key)
		}

		return nil
	})
	if err != nil {
		return err
	}

	for _, key := range stale {
		if err := b.Delete(key); err != nil {
			return err
		}
	}

	return nil
}

// deleteTokensForClient removes every token issued to the client
// within the caller's transaction.
func deleteTokensForClient(b *bolt.Bucket, clientID string) error {
	var stale [][]byte

	err := b.ForEach(func(k, v []byte) error {
		var t models.BearerToken
		if err := json.Unmarshal(v, &t); err != nil {
			return err
		}

		if t.ClientID == clientID {
			key := make([]byte, len(k))
			copy(key, k)
			stale = append(stale, key)
		}

		return nil
	})
	if err != nil {
		return err
	}

	for _, key := range stale {
		if err := b.Delete(key); err != nil {
			return err
		}
	}

	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
