// Package auth models the API keys that authenticate admin operations.
package auth

import (
	"context"
	"slices"

	"github.com/go-faster/errors"
)

// Scopes granted to admin API keys.
const (
	ScopeSettlementApprove = "settlement:approve"
	ScopeSettlementManage  = "settlement:manage"
	ScopeSellerVerify      = "seller:verify"
	ScopeFeePolicyWrite    = "fee-policy:write"
)

// ErrKeyNotFound is returned when no active key has the given hash.
var ErrKeyNotFound = errors.New("api key not found")

// APIKeyInfo holds the identity and permission data for a validated API key.
// Every key belongs to one admin user, recorded on the decisions made with
// it.
type APIKeyInfo struct {
	ID          string
	KeyHash     string
	Name        string
	AdminUserID int64
	Scopes      []string
}

// HasScope reports whether the key grants scope. The "*" scope grants
// everything.
func (k *APIKeyInfo) HasScope(scope string) bool {
	return slices.Contains(k.Scopes, scope) || slices.Contains(k.Scopes, "*")
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	// FindByHash returns ErrKeyNotFound when no active key matches.
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}
