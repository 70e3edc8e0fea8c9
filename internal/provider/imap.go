package provider

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/alexjbarnes/mail-connect/internal/errors"
	"github.com/alexjbarnes/mail-connect/internal/models"
)

const (
	// imapDialTimeout bounds the whole verification conversation:
	// dial, greeting, LOGIN, response.
	imapDialTimeout = 15 * time.Second

	imapTLSPort = 993
)

// imapSettingKeys are the caller-supplied settings carried onto the
// account for a generic IMAP/SMTP mailbox.
var imapSettingKeys = []string{
	"imap_server_hostname", "imap_server_port",
	"smtp_server_hostname", "smtp_server_port",
	"username", "password", "ssl_required",
}

// IMAP provisions accounts for arbitrary IMAP/SMTP servers
// (provider name "custom"). Verification performs a real LOGIN
// against the configured IMAP server.
type IMAP struct {
	dialTimeout time.Duration

	// tlsConfig overrides the TLS client config; tests use it to
	// accept self-signed certificates.
	tlsConfig *tls.Config
}

// NewIMAP creates the generic IMAP backend.
func NewIMAP() *IMAP {
	return &IMAP{dialTimeout: imapDialTimeout}
}

// CreateAccount builds a fresh custom account from the settings.
func (b *IMAP) CreateAccount(ctx context.Context, emailAddress string, info Settings) (*models.Account, error) {
	account := models.NewAccount(emailAddress, "custom")
	return b.UpdateAccount(ctx, account, info)
}

// UpdateAccount applies new server settings to the account.
func (b *IMAP) UpdateAccount(_ context.Context, account *models.Account, info Settings) (*models.Account, error) {
	if info.String("imap_server_hostname") == "" {
		return nil, fmt.Errorf("%w: missing imap_server_hostname in settings", apperrors.ErrProviderAuth)
	}

	if info.Int("imap_server_port") == 0 {
		return nil, fmt.Errorf("%w: missing imap_server_port in settings", apperrors.ErrProviderAuth)
	}

	if account.Settings == nil {
		account.Settings = make(map[string]any)
	}

	for _, key := range imapSettingKeys {
		if v, ok := info[key]; ok {
			account.Settings[key] = v
		}
	}

	if account.Settings["username"] == nil || account.Settings["username"] == "" {
		account.Settings["username"] = account.EmailAddress
	}

	if name := info.String("name"); name != "" {
		account.Name = name
	}

	account.UpdatedAt = time.Now().UTC()

	return account, nil
}

// VerifyAccount dials the IMAP server, reads the greeting, and
// attempts a LOGIN with the stored credentials. Connection failures
// map to the provider sentinel; a rejected LOGIN maps to the
// verification one.
func (b *IMAP) VerifyAccount(ctx context.Context, account *models.Account) error {
	settings := Settings(account.Settings)

	host := settings.String("imap_server_hostname")
	port := settings.Int("imap_server_port")
	if host == "" || port == 0 {
		return fmt.Errorf("%w: account has no imap server settings", apperrors.ErrProviderAuth)
	}

	ctx, cancel := context.WithTimeout(ctx, b.dialTimeout)
	defer cancel()

	addr := net.JoinHostPort(host, strconv.Itoa(port))

	conn, err := b.dial(ctx, addr, port, settings)
	if err != nil {
		return fmt.Errorf("%w: dialing %s: %v", apperrors.ErrProviderAuth, addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	r := bufio.NewReader(conn)

	greeting, err := r.ReadString('\n')
	if err != nil {
		return fmt.Errorf("%w: reading greeting: %v", apperrors.ErrProviderAuth, err)
	}

	if !strings.HasPrefix(greeting, "* OK") {
		return fmt.Errorf("%w: unexpected greeting %q", apperrors.ErrProviderAuth, strings.TrimSpace(greeting))
	}

	username := settings.String("username")
	password := settings.String("password")

	if _, err := fmt.Fprintf(conn, "a1 LOGIN %s %s\r\n", imapQuote(username), imapQuote(password)); err != nil {
		return fmt.Errorf("%w: sending LOGIN: %v", apperrors.ErrProviderAuth, err)
	}

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return fmt.Errorf("%w: reading LOGIN response: %v", apperrors.ErrProviderAuth, err)
		}

		if !strings.HasPrefix(line, "a1 ") {
			// Untagged response, keep reading.
			continue
		}

		if strings.HasPrefix(line, "a1 OK") {
			fmt.Fprint(conn, "a2 LOGOUT\r\n")
			return nil
		}

		return fmt.Errorf("%w: server said %q", apperrors.ErrVerificationFailed, strings.TrimSpace(line))
	}
}

func (b *IMAP) dial(ctx context.Context, addr string, port int, settings Settings) (net.Conn, error) {
	useTLS := port == imapTLSPort
	if v, ok := settings["ssl_required"].(bool); ok {
		useTLS = v
	}

	if useTLS {
		dialer := &tls.Dialer{Config: b.tlsConfig}
		return dialer.DialContext(ctx, "tcp", addr)
	}

	var dialer net.Dialer

	return dialer.DialContext(ctx, "tcp", addr)
}

// imapQuote wraps a value as an IMAP quoted string, escaping
// backslashes and double quotes.
func imapQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)

	return `"` + s + `"`
}
