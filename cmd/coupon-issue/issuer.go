package main

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"

	"github.com/xenking/marketplace-settlement/internal/domain/coupon"
)

const (
	minCodeLen = 4
	maxCodeLen = 32
)

// couponStore is the part of the coupon repository the issuer writes to.
type couponStore interface {
	ExistingCodes(ctx context.Context, codes []string) (map[string]struct{}, error)
	IssueBatch(ctx context.Context, templateID int64, expiresAt *time.Time, issues []coupon.Issue) (int64, error)
}

type issueStats struct {
	Read       uint64
	Issued     uint64
	Duplicates uint64
	Invalid    uint64
}

// issuer batches coupon issues. Codes the filter has never seen go straight
// to the database. Codes it may have seen are checked exactly first, after
// the unseen codes of the same batch are written.
type issuer struct {
	store      couponStore
	filter     *bloom.BloomFilter
	templateID int64
	expiresAt  *time.Time
	batchSize  int

	fresh    []coupon.Issue
	suspects []coupon.Issue
	stats    issueStats
}

func newIssuer(store couponStore, filter *bloom.BloomFilter, templateID int64, expiresAt *time.Time, batchSize int) *issuer {
	return &issuer{
		store:      store,
		filter:     filter,
		templateID: templateID,
		expiresAt:  expiresAt,
		batchSize:  batchSize,
	}
}

// Add queues one input line. Blank lines and # comments are ignored.
func (is *issuer) Add(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}
	is.stats.Read++

	iss, err := parseLine(line)
	if err != nil {
		is.stats.Invalid++
		slog.Warn("skipping line", slog.Uint64("line", is.stats.Read), slog.String("error", err.Error()))
		return nil
	}

	if is.filter.TestString(iss.Code) {
		is.suspects = append(is.suspects, iss)
	} else {
		is.filter.AddString(iss.Code)
		is.fresh = append(is.fresh, iss)
	}

	if len(is.fresh)+len(is.suspects) >= is.batchSize {
		return is.Flush(ctx)
	}
	return nil
}

// Flush writes the queued coupons.
func (is *issuer) Flush(ctx context.Context) error {
	if err := is.write(ctx, is.fresh); err != nil {
		return err
	}
	is.fresh = is.fresh[:0]

	if len(is.suspects) == 0 {
		return nil
	}
	codes := make([]string, len(is.suspects))
	for i, s := range is.suspects {
		codes[i] = s.Code
	}
	existing, err := is.store.ExistingCodes(ctx, codes)
	if err != nil {
		return errors.Wrap(err, "check suspected duplicates")
	}

	pending := make([]coupon.Issue, 0, len(is.suspects))
	seen := make(map[string]struct{}, len(is.suspects))
	for _, s := range is.suspects {
		_, taken := existing[s.Code]
		_, repeated := seen[s.Code]
		if taken || repeated {
			is.stats.Duplicates++
			continue
		}
		seen[s.Code] = struct{}{}
		pending = append(pending, s)
	}
	is.suspects = is.suspects[:0]

	return is.write(ctx, pending)
}

func (is *issuer) write(ctx context.Context, issues []coupon.Issue) error {
	if len(issues) == 0 {
		return nil
	}
	n, err := is.store.IssueBatch(ctx, is.templateID, is.expiresAt, issues)
	if err != nil {
		return errors.Wrap(err, "issue batch")
	}
	is.stats.Issued += uint64(n)
	// Rows skipped by the database were issued by someone else meanwhile.
	is.stats.Duplicates += uint64(len(issues)) - uint64(n)
	return nil
}

// parseLine parses a CODE,USER_ID line. Codes are upper cased.
func parseLine(line string) (coupon.Issue, error) {
	rawCode, rawUser, ok := strings.Cut(line, ",")
	if !ok {
		return coupon.Issue{}, errors.Errorf("want CODE,USER_ID, got %q", line)
	}

	code := strings.ToUpper(strings.TrimSpace(rawCode))
	if len(code) < minCodeLen || len(code) > maxCodeLen {
		return coupon.Issue{}, errors.Errorf("code %q must be %d..%d characters", code, minCodeLen, maxCodeLen)
	}
	for _, r := range code {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '-' && r != '_' {
			return coupon.Issue{}, errors.Errorf("code %q has invalid character %q", code, r)
		}
	}

	userID, err := strconv.ParseInt(strings.TrimSpace(rawUser), 10, 64)
	if err != nil || userID <= 0 {
		return coupon.Issue{}, errors.Errorf("invalid user id %q", rawUser)
	}
	return coupon.Issue{Code: code, UserID: userID}, nil
}
