package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	apperrors "github.com/alexjbarnes/mail-connect/internal/errors"
	"github.com/alexjbarnes/mail-connect/internal/models"
)

const (
	outlookTokenURL    = "https://login.live.com/oauth20_token.srf"
	outlookUserInfoURL = "https://apis.live.net/v5.0/me"

	// httpClientTimeout is the timeout for the default HTTP client
	// used when no custom client is provided.
	httpClientTimeout = 30 * time.Second

	// maxResponseBytes caps provider response reads so a misbehaving
	// endpoint cannot consume unbounded memory.
	maxResponseBytes = 1024 * 1024

	// maxRedirects matches the default net/http limit.
	maxRedirects = 10
)

// outlookSettingKeys are the caller-supplied settings carried onto
// the account. The refresh token is the credential verified against
// the live provider.
var outlookSettingKeys = []string{"refresh_token", "scope", "user_id", "locale", "link"}

// OutlookConfig holds the OAuth application credentials used to
// redeem caller-supplied refresh tokens.
type OutlookConfig struct {
	ClientID     string
	ClientSecret string
}

// Outlook provisions accounts backed by a Microsoft mailbox. The
// caller performs the interactive OAuth dance elsewhere and hands us
// the resulting refresh token in the connection settings; verification
// redeems that token and fetches the user profile.
type Outlook struct {
	cfg        OutlookConfig
	httpClient *http.Client

	tokenURL    string
	userInfoURL string
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host, so credentials never leak to
// third-party domains.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewOutlook creates the Outlook backend. If httpClient is nil, a
// client with a 30-second timeout and same-host redirect policy is
// used.
func NewOutlook(cfg OutlookConfig, httpClient *http.Client) *Outlook {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:       httpClientTimeout,
			CheckRedirect: sameHostRedirectPolicy,
		}
	}

	return &Outlook{
		cfg:         cfg,
		httpClient:  httpClient,
		tokenURL:    outlookTokenURL,
		userInfoURL: outlookUserInfoURL,
	}
}

// CreateAccount builds a fresh Outlook account from the settings.
func (o *Outlook) CreateAccount(ctx context.Context, emailAddress string, info Settings) (*models.Account, error) {
	account := models.NewAccount(emailAddress, "outlook")
	return o.UpdateAccount(ctx, account, info)
}

// UpdateAccount applies new settings to the account. Only the keys
// this backend understands are carried over; everything else the
// caller sent is dropped rather than persisted blindly.
func (o *Outlook) UpdateAccount(_ context.Context, account *models.Account, info Settings) (*models.Account, error) {
	if info.String("refresh_token") == "" {
		return nil, fmt.Errorf("%w: missing refresh_token in settings", apperrors.ErrProviderAuth)
	}

	if account.Settings == nil {
		account.Settings = make(map[string]any)
	}

	for _, key := range outlookSettingKeys {
		if v, ok := info[key]; ok {
			account.Settings[key] = v
		}
	}

	if name := info.String("name"); name != "" {
		account.Name = name
	}

	if email := info.String("email"); email != "" {
		account.EmailAddress = email
	}

	account.UpdatedAt = time.Now().UTC()

	return account, nil
}

// VerifyAccount redeems the account's refresh token for an access
// token and fetches the user profile with it. Both round-trips must
// succeed for the account to be considered live.
func (o *Outlook) VerifyAccount(ctx context.Context, account *models.Account) error {
	refreshToken, _ := account.Settings["refresh_token"].(string)
	if refreshToken == "" {
		return fmt.Errorf("%w: account has no refresh token", apperrors.ErrProviderAuth)
	}

	accessToken, err := o.redeemRefreshToken(ctx, refreshToken)
	if err != nil {
		return err
	}

	return o.fetchUserInfo(ctx, accessToken)
}

func (o *Outlook) redeemRefreshToken(ctx context.Context, refreshToken string) (string, error) {
	form := url.Values{
		"client_id":     {o.cfg.ClientID},
		"client_secret": {o.cfg.ClientSecret},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: token endpoint: %v", apperrors.ErrProviderAuth, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("reading token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token endpoint returned %d", apperrors.ErrProviderAuth, resp.StatusCode)
	}

	accessToken := gjson.GetBytes(body, "access_token").String()
	if accessToken == "" {
		return "", fmt.Errorf("%w: token response missing access_token", apperrors.ErrProviderAuth)
	}

	return accessToken, nil
}

func (o *Outlook) fetchUserInfo(ctx context.Context, accessToken string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.userInfoURL, nil)
	if err != nil {
		return fmt.Errorf("building userinfo request: %w", err)
	}

	q := req.URL.Query()
	q.Set("access_token", accessToken)
	req.URL.RawQuery = q.Encode()

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: userinfo endpoint: %v", apperrors.ErrProviderAuth, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("reading userinfo response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: userinfo endpoint returned %d", apperrors.ErrVerificationFailed, resp.StatusCode)
	}

	if !gjson.GetBytes(body, "id").Exists() {
		return fmt.Errorf("%w: userinfo response missing id", apperrors.ErrVerificationFailed)
	}

	return nil
}
