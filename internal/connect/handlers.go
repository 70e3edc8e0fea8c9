package connect

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alexjbarnes/mail-connect/internal/models"
	"github.com/alexjbarnes/mail-connect/internal/provider"

	apperrors "github.com/alexjbarnes/mail-connect/internal/errors"
)

type authorizeRequest struct {
	Name            string          `json:"name"`
	ClientID        string          `json:"client_id"`
	EmailAddress    string          `json:"email_address"`
	Provider        string          `json:"provider"`
	Settings        map[string]any  `json:"settings"`
	ReauthAccountID string          `json:"reauth_account_id"`
	Reauth          json.RawMessage `json:"reauth"` // legacy alias for reauth_account_id
}

type tokenRequest struct {
	Code         string `json:"code"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// HandleAuthorize returns the POST /connect/authorize handler.
func HandleAuthorize(svc *Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req authorizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
			return
		}

		for _, field := range []struct{ name, value string }{
			{"name", req.Name},
			{"client_id", req.ClientID},
			{"email_address", req.EmailAddress},
			{"provider", req.Provider},
		} {
			if field.value == "" {
				writeJSONError(w, http.StatusBadRequest, "invalid_request", "missing required field "+field.name)
				return
			}
		}

		if req.Settings == nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "missing required field settings")
			return
		}

		code, err := svc.Authorize(r.Context(), AuthorizeParams{
			ClientPublicID: req.ClientID,
			Name:           req.Name,
			EmailAddress:   req.EmailAddress,
			Provider:       req.Provider,
			Settings:       provider.Settings(req.Settings),
			Reauth:         req.ReauthAccountID != "" || truthy(req.Reauth),
		})
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"code": code})
	}
}

// HandleToken returns the POST /connect/token handler.
func HandleToken(svc *Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req tokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
			return
		}

		for _, field := range []struct{ name, value string }{
			{"code", req.Code},
			{"client_id", req.ClientID},
			{"client_secret", req.ClientSecret},
		} {
			if field.value == "" {
				writeJSONError(w, http.StatusBadRequest, "invalid_request", "missing required field "+field.name)
				return
			}
		}

		result, err := svc.Exchange(r.Context(), ExchangeParams{
			ClientPublicID: req.ClientID,
			ClientSecret:   req.ClientSecret,
			Code:           req.Code,
		})
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}

		payload := namespacePayload(result.Namespace, result.Account)
		payload["access_token"] = result.AccessToken

		writeJSON(w, http.StatusOK, payload)
	}
}

// namespacePayload is the caller-visible serialization of a
// namespace and its account.
func namespacePayload(ns *models.Namespace, account *models.Account) map[string]any {
	return map[string]any{
		"id":            ns.PublicID,
		"object":        "namespace",
		"namespace_id":  ns.PublicID,
		"email_address": account.EmailAddress,
		"provider":      account.Provider,
		"name":          account.Name,
	}
}

// writeServiceError maps flow errors to HTTP responses. The
// forbidden class (unknown client, bad secret, invalid grant) gets
// one generic message so the response never reveals which check
// failed.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, apperrors.ErrClientNotFound),
		errors.Is(err, apperrors.ErrInvalidClientSecret),
		errors.Is(err, apperrors.ErrInvalidGrant):
		writeJSONError(w, http.StatusForbidden, "access_denied", "invalid client or grant")
	case errors.Is(err, apperrors.ErrAccountExists):
		writeJSONError(w, http.StatusForbidden, "access_denied", apperrors.ErrAccountExists.Error())
	case errors.Is(err, apperrors.ErrNotSupported),
		errors.Is(err, apperrors.ErrVerificationFailed),
		errors.Is(err, apperrors.ErrProviderAuth):
		writeJSONError(w, http.StatusForbidden, "access_denied", "could not verify account with provider")
	default:
		logger.Error("connect request failed", slog.String("error", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

// truthy reports whether a raw JSON value should count as a set
// reauth flag: anything but absent, null, false, empty string, or 0.
func truthy(raw json.RawMessage) bool {
	v := bytes.TrimSpace(raw)
	switch string(v) {
	case "", "null", "false", `""`, "0":
		return false
	default:
		return true
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, errCode, description string) {
	writeJSON(w, status, map[string]string{
		"error":             errCode,
		"error_description": description,
	})
}
