package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/marketplace-settlement/internal/domain/auth"
)

// APIKeyHeader carries the admin API key.
const APIKeyHeader = "X-API-Key"

type apiKeyCtxKey struct{}

// apiKeyFrom returns the API key authenticated for the request.
func apiKeyFrom(ctx context.Context) (*auth.APIKeyInfo, bool) {
	info, ok := ctx.Value(apiKeyCtxKey{}).(*auth.APIKeyInfo)
	return info, ok
}

// HashAPIKey returns the hex HMAC-SHA256 of key under pepper, as stored in
// the api_keys table.
func HashAPIKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// authenticate resolves the API key of the request. The stored hash is
// compared in constant time after the lookup.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(APIKeyHeader)
		if key == "" {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Code: CodeUnauthorized, Message: "missing api key"})
			return
		}

		info, err := h.verifyKey(r.Context(), key)
		if err != nil {
			if !errors.Is(err, auth.ErrKeyNotFound) {
				zctx.From(r.Context()).Error("API key lookup failed", zap.Error(err))
			}
			writeJSON(w, http.StatusUnauthorized, errorResponse{Code: CodeUnauthorized, Message: "unauthorized"})
			return
		}

		ctx := zctx.With(r.Context(), zap.String("api_key", info.ID), zap.Int64("admin_user_id", info.AdminUserID))
		ctx = context.WithValue(ctx, apiKeyCtxKey{}, info)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) verifyKey(ctx context.Context, key string) (*auth.APIKeyInfo, error) {
	hexHash := HashAPIKey(h.cfg.APIKeyPepper, key)

	info, err := h.deps.APIKeys.FindByHash(ctx, hexHash)
	if err != nil {
		return nil, err
	}

	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return nil, errors.Wrap(err, "decode stored hash")
	}
	computed, _ := hex.DecodeString(hexHash)
	if subtle.ConstantTimeCompare(computed, stored) != 1 {
		return nil, auth.ErrKeyNotFound
	}
	return info, nil
}

// requireScope rejects keys that do not grant scope.
func requireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, ok := apiKeyFrom(r.Context())
			if !ok || !info.HasScope(scope) {
				writeJSON(w, http.StatusForbidden, errorResponse{Code: CodeForbidden, Message: "api key lacks scope " + scope})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
