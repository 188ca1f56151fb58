package fee

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Resolver picks the fee policy that applies to a seller at a point in time.
type Resolver struct {
	repo Repository
}

// NewResolver creates a Resolver backed by repo.
func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo}
}

// Resolve returns the rates that apply to a sale by sellerID at the given
// time.
func (r *Resolver) Resolve(ctx context.Context, sellerID int64, at time.Time) (Rates, error) {
	snap, err := r.Snapshot(ctx, sellerID)
	if err != nil {
		return Rates{}, err
	}
	return snap.Resolve(at)
}

// Snapshot loads the candidate policies of a seller once, so resolving many
// sales of one aggregation run does not hit storage per sale.
func (r *Resolver) Snapshot(ctx context.Context, sellerID int64) (*Snapshot, error) {
	policies, err := r.repo.ListForSeller(ctx, sellerID)
	if err != nil {
		return nil, errors.Wrap(err, "list fee policies")
	}

	s := &Snapshot{sellerID: sellerID}
	for _, p := range policies {
		switch {
		case p.Scope == ScopeSeller && p.SellerID != nil && *p.SellerID == sellerID:
			s.seller = append(s.seller, p)
		case p.Scope == ScopePlatform:
			s.platform = append(s.platform, p)
		}
	}
	return s, nil
}

// Snapshot is the set of policies that may apply to one seller.
type Snapshot struct {
	sellerID int64
	seller   []Policy
	platform []Policy
}

// Policy returns the policy covering at. Seller policies win over platform
// policies; within a scope the highest version wins.
func (s *Snapshot) Policy(at time.Time) (Policy, error) {
	if p, ok := latestCovering(s.seller, at); ok {
		return p, nil
	}
	if p, ok := latestCovering(s.platform, at); ok {
		return p, nil
	}
	return Policy{}, &PolicyNotFoundError{SellerID: s.sellerID, At: at}
}

// Resolve returns the rates of the policy covering at.
func (s *Snapshot) Resolve(at time.Time) (Rates, error) {
	p, err := s.Policy(at)
	if err != nil {
		return Rates{}, err
	}
	return p.Rates, nil
}

func latestCovering(policies []Policy, at time.Time) (Policy, bool) {
	var (
		best  Policy
		found bool
	)
	for _, p := range policies {
		if !p.Covers(at) {
			continue
		}
		if !found || p.Version > best.Version {
			best, found = p, true
		}
	}
	return best, found
}
