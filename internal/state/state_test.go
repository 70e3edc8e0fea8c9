package state

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/alexjbarnes/mail-connect/internal/errors"
	"github.com/alexjbarnes/mail-connect/internal/models"
	"github.com/alexjbarnes/mail-connect/internal/secrets"
)

func testDB(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testClient(t *testing.T, s *Store) models.Client {
	t.Helper()
	c := models.Client{
		ID:         uuid.NewString(),
		PublicID:   "client-" + uuid.NewString()[:8],
		SecretHash: secrets.Hash("test-client-secret"),
		Name:       "Test App",
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, s.UpsertClient(c))
	return c
}

// seedGrant persists an account, namespace, and grant, returning the
// grant's raw code.
func seedGrant(t *testing.T, s *Store, clientID string, createdAt time.Time) (string, *models.Account, *models.Namespace) {
	t.Helper()

	account := models.NewAccount("user@example.com", "outlook")
	ns := models.NewNamespace(account)
	code := secrets.Generate(secrets.DefaultLength)
	grant := models.Grant{
		ID:        uuid.NewString(),
		CreatedAt: createdAt,
		TTL:       models.GrantTTL,
		CodeHash:  secrets.Hash(code),
		AccountID: account.ID,
		ClientID:  clientID,
	}
	require.NoError(t, s.SaveAccountWithGrant(account, ns, grant))
	return code, account, ns
}

// seedReauthGrant persists a further grant against an existing
// account and namespace, mirroring the reauth path in
// connect.Service.Authorize, and returns the grant's raw code.
func seedReauthGrant(t *testing.T, s *Store, clientID string, account *models.Account, ns *models.Namespace, createdAt time.Time) string {
	t.Helper()

	code := secrets.Generate(secrets.DefaultLength)
	grant := models.Grant{
		ID:        uuid.NewString(),
		CreatedAt: createdAt,
		TTL:       models.GrantTTL,
		CodeHash:  secrets.Hash(code),
		AccountID: account.ID,
		ClientID:  clientID,
	}
	require.NoError(t, s.SaveAccountWithGrant(account, ns, grant))
	return code
}

// --- Open / Close ---

func TestOpen_CreatesDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sub", "state.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestOpen_ReopensExistingDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")

	s1, err := Open(dbPath)
	require.NoError(t, err)
	c := models.Client{ID: uuid.NewString(), PublicID: "c1", SecretHash: secrets.Hash("s")}
	require.NoError(t, s1.UpsertClient(c))
	require.NoError(t, s1.Close())

	s2, err := Open(dbPath)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.ClientByPublicID("c1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, c.ID, got.ID)
}

// --- Clients ---

func TestClientByPublicID_Missing(t *testing.T) {
	s := testDB(t)

	got, err := s.ClientByPublicID("nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpsertClient_KeepsInternalID(t *testing.T) {
	s := testDB(t)
	c := testClient(t, s)

	// Re-seeding with a rotated secret must not change the internal id,
	// or existing grants and tokens would dangle.
	rotated := models.Client{
		ID:         uuid.NewString(),
		PublicID:   c.PublicID,
		SecretHash: secrets.Hash("rotated-secret"),
		Name:       "Renamed App",
	}
	require.NoError(t, s.UpsertClient(rotated))

	got, err := s.ClientByPublicID(c.PublicID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, secrets.Hash("rotated-secret"), got.SecretHash)
	assert.Equal(t, "Renamed App", got.Name)
}

func TestUpsertClient_RequiresSecretHash(t *testing.T) {
	s := testDB(t)
	err := s.UpsertClient(models.Client{ID: uuid.NewString(), PublicID: "c1"})
	assert.Error(t, err)
}

func TestPruneClients_RevokesDeregisteredClient(t *testing.T) {
	s := testDB(t)
	kept := testClient(t, s)
	gone := testClient(t, s)

	keptCode, _, _ := seedGrant(t, s, kept.ID, time.Now().UTC())

	// The de-registered client holds a live token and a pending grant.
	goneCode, _, _ := seedGrant(t, s, gone.ID, time.Now().UTC())
	goneTokenHash := secrets.Hash(secrets.Generate(secrets.DefaultLength))
	_, _, err := s.ExchangeGrant(gone.ID, secrets.Hash(goneCode), models.BearerToken{
		ID: uuid.NewString(), TokenHash: goneTokenHash, ClientID: gone.ID,
	}, time.Now())
	require.NoError(t, err)
	pendingCode, _, _ := seedGrant(t, s, gone.ID, time.Now().UTC())

	require.NoError(t, s.PruneClients([]string{kept.PublicID}))

	// The removed client no longer resolves and its credentials are
	// revoked.
	got, err := s.ClientByPublicID(gone.PublicID)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = s.TokenByHash(goneTokenHash)
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)

	grant, err := s.GrantByCodeHash(secrets.Hash(pendingCode))
	require.NoError(t, err)
	assert.Nil(t, grant)

	// The configured client and its grant are untouched.
	still, err := s.ClientByPublicID(kept.PublicID)
	require.NoError(t, err)
	require.NotNil(t, still)
	assert.Equal(t, kept.ID, still.ID)

	keptGrant, err := s.GrantByCodeHash(secrets.Hash(keptCode))
	require.NoError(t, err)
	assert.NotNil(t, keptGrant)
}

// --- Accounts ---

func TestAccountByEmail_CaseInsensitive(t *testing.T) {
	s := testDB(t)
	c := testClient(t, s)
	_, account, _ := seedGrant(t, s, c.ID, time.Now().UTC())

	got, err := s.AccountByEmail("User@Example.COM")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, account.ID, got.ID)
}

func TestAccountByEmail_Missing(t *testing.T) {
	s := testDB(t)

	got, err := s.AccountByEmail("ghost@example.com")
	require.NoError(t, err)
	assert.Nil(t, got)
}

// --- ExchangeGrant ---

func TestExchangeGrant_ConsumesExactlyOnce(t *testing.T) {
	s := testDB(t)
	c := testClient(t, s)
	code, account, ns := seedGrant(t, s, c.ID, time.Now().UTC())
	codeHash := secrets.Hash(code)

	token := models.BearerToken{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		TokenHash: secrets.Hash(secrets.Generate(secrets.DefaultLength)),
		ClientID:  c.ID,
	}

	gotAccount, gotNS, err := s.ExchangeGrant(c.ID, codeHash, token, time.Now())
	require.NoError(t, err)
	assert.Equal(t, account.ID, gotAccount.ID)
	assert.Equal(t, ns.ID, gotNS.ID)

	// The grant row is gone.
	grant, err := s.GrantByCodeHash(codeHash)
	require.NoError(t, err)
	assert.Nil(t, grant)

	// A second exchange with the same code fails.
	_, _, err = s.ExchangeGrant(c.ID, codeHash, token, time.Now())
	assert.ErrorIs(t, err, apperrors.ErrInvalidGrant)
}

func TestExchangeGrant_WrongClient(t *testing.T) {
	s := testDB(t)
	c := testClient(t, s)
	other := testClient(t, s)
	code, _, _ := seedGrant(t, s, c.ID, time.Now().UTC())

	token := models.BearerToken{ID: uuid.NewString(), TokenHash: secrets.Hash("t"), ClientID: other.ID}
	_, _, err := s.ExchangeGrant(other.ID, secrets.Hash(code), token, time.Now())
	assert.ErrorIs(t, err, apperrors.ErrInvalidGrant)

	// The grant survives a mismatched attempt.
	grant, err := s.GrantByCodeHash(secrets.Hash(code))
	require.NoError(t, err)
	assert.NotNil(t, grant)
}

func TestExchangeGrant_Expired(t *testing.T) {
	s := testDB(t)
	c := testClient(t, s)
	code, _, _ := seedGrant(t, s, c.ID, time.Now().UTC().Add(-models.GrantTTL-time.Minute))
	codeHash := secrets.Hash(code)

	token := models.BearerToken{ID: uuid.NewString(), TokenHash: secrets.Hash("t"), ClientID: c.ID}
	_, _, err := s.ExchangeGrant(c.ID, codeHash, token, time.Now())
	assert.ErrorIs(t, err, apperrors.ErrInvalidGrant)

	// The reap committed: the expired row is gone even though the
	// exchange failed.
	grant, err := s.GrantByCodeHash(codeHash)
	require.NoError(t, err)
	assert.Nil(t, grant)

	// Nothing else from the failed exchange was persisted.
	_, err = s.TokenByHash(token.TokenHash)
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
}

func TestExchangeGrant_RotatesTokens(t *testing.T) {
	s := testDB(t)
	c := testClient(t, s)

	// Two full authorize cycles for the same account.
	code1, account, ns := seedGrant(t, s, c.ID, time.Now().UTC())
	hash1 := secrets.Hash(secrets.Generate(secrets.DefaultLength))
	_, _, err := s.ExchangeGrant(c.ID, secrets.Hash(code1), models.BearerToken{
		ID: uuid.NewString(), TokenHash: hash1, ClientID: c.ID,
	}, time.Now())
	require.NoError(t, err)

	code2 := seedReauthGrant(t, s, c.ID, account, ns, time.Now().UTC())
	hash2 := secrets.Hash(secrets.Generate(secrets.DefaultLength))
	_, _, err = s.ExchangeGrant(c.ID, secrets.Hash(code2), models.BearerToken{
		ID: uuid.NewString(), TokenHash: hash2, ClientID: c.ID,
	}, time.Now())
	require.NoError(t, err)

	// Exactly one live token remains, and it is the new one.
	tokens, err := s.TokensFor(c.ID, ns.ID)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, hash2, tokens[0].TokenHash)

	_, err = s.TokenByHash(hash1)
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)

	got, err := s.TokenByHash(hash2)
	require.NoError(t, err)
	assert.Equal(t, ns.ID, got.NamespaceID)
}

func TestExchangeGrant_KeepsOtherClientsTokens(t *testing.T) {
	s := testDB(t)
	c1 := testClient(t, s)
	c2 := testClient(t, s)

	code1, _, ns := seedGrant(t, s, c1.ID, time.Now().UTC())
	hash1 := secrets.Hash("token-one")
	_, _, err := s.ExchangeGrant(c1.ID, secrets.Hash(code1), models.BearerToken{
		ID: uuid.NewString(), TokenHash: hash1, ClientID: c1.ID,
	}, time.Now())
	require.NoError(t, err)

	// A different client connecting the same account must not disturb
	// the first client's token.
	code2, _, _ := seedGrant(t, s, c2.ID, time.Now().UTC())
	_, _, err = s.ExchangeGrant(c2.ID, secrets.Hash(code2), models.BearerToken{
		ID: uuid.NewString(), TokenHash: secrets.Hash("token-two"), ClientID: c2.ID,
	}, time.Now())
	require.NoError(t, err)

	tokens, err := s.TokensFor(c1.ID, ns.ID)
	require.NoError(t, err)
	assert.Len(t, tokens, 1)
}

func TestExchangeGrant_ConcurrentSingleWinner(t *testing.T) {
	s := testDB(t)
	c := testClient(t, s)
	code, _, _ := seedGrant(t, s, c.ID, time.Now().UTC())
	codeHash := secrets.Hash(code)

	const attempts = 16

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token := models.BearerToken{
				ID:        uuid.NewString(),
				TokenHash: secrets.Hash(secrets.Generate(secrets.DefaultLength)),
				ClientID:  c.ID,
			}
			_, _, err := s.ExchangeGrant(c.ID, codeHash, token, time.Now())
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, apperrors.ErrInvalidGrant)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded, "exactly one concurrent exchange must win")
}

// --- Tokens ---

func TestTokenByHash_Missing(t *testing.T) {
	s := testDB(t)

	_, err := s.TokenByHash(secrets.Hash("never-issued"))
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
}

func TestSaveAccountWithGrant_RequiresCodeHash(t *testing.T) {
	s := testDB(t)
	account := models.NewAccount("a@example.com", "outlook")
	ns := models.NewNamespace(account)

	err := s.SaveAccountWithGrant(account, ns, models.Grant{ID: uuid.NewString()})
	assert.Error(t, err)
}

func TestAccountByNamespaceID(t *testing.T) {
	s := testDB(t)
	c := testClient(t, s)
	_, account, ns := seedGrant(t, s, c.ID, time.Now().UTC())

	got, err := s.AccountByNamespaceID(ns.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, account.ID, got.ID)

	missing, err := s.AccountByNamespaceID("no-such-namespace")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
