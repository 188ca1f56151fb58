// Command seed-db prepares a fresh database: it applies the schema, stores
// an admin API key and publishes the initial platform fee policy.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace-settlement/internal/domain/auth"
	"github.com/xenking/marketplace-settlement/internal/domain/fee"
	"github.com/xenking/marketplace-settlement/internal/handler"
	"github.com/xenking/marketplace-settlement/internal/storage/postgres"
)

type policyJSON struct {
	EffectiveFrom time.Time `json:"effectiveFrom"`
	Rates         struct {
		PgFeeApplied        decimal.Decimal `json:"pgFeeApplied"`
		PgFeeDisplay        decimal.Decimal `json:"pgFeeDisplay"`
		PgFeeBaseline       decimal.Decimal `json:"pgFeeBaseline"`
		PlatformFeeApplied  decimal.Decimal `json:"platformFeeApplied"`
		PlatformFeeDisplay  decimal.Decimal `json:"platformFeeDisplay"`
		PlatformFeeBaseline decimal.Decimal `json:"platformFeeBaseline"`
		VatRate             decimal.Decimal `json:"vatRate"`
	} `json:"rates"`
}

type options struct {
	databaseURL  string
	policyFile   string
	apiKey       string
	apiKeyPepper string
	adminUserID  int64
	scopes       string
}

func main() {
	var opts options

	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.policyFile, "policy-file", "db/seed/fee_policy.json", "path to the platform fee policy JSON file")
	flag.StringVar(&opts.apiKey, "api-key", "", "admin API key to seed (or SETTLE_SEED_API_KEY env)")
	flag.StringVar(&opts.apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or SETTLE_API_KEY_PEPPER env)")
	flag.Int64Var(&opts.adminUserID, "admin-user-id", 1, "admin user owning the seeded key")
	flag.StringVar(&opts.scopes, "scopes", "*", "comma separated scopes of the seeded key")
	flag.Parse()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if opts.apiKey == "" {
		opts.apiKey = os.Getenv("SETTLE_SEED_API_KEY")
	}
	if opts.apiKey == "" {
		slog.Error("API key is required: set --api-key or SETTLE_SEED_API_KEY")
		os.Exit(1)
	}
	if opts.apiKeyPepper == "" {
		opts.apiKeyPepper = os.Getenv("SETTLE_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, opts options) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedPlatformPolicy(ctx, postgres.NewFeePolicyRepository(pool), opts.policyFile); err != nil {
		return errors.Wrap(err, "seed fee policy")
	}

	if err := seedAPIKey(ctx, postgres.NewAPIKeyRepository(pool), opts); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	return nil
}

// seedPlatformPolicy publishes the policy file unless a platform policy
// already exists.
func seedPlatformPolicy(ctx context.Context, repo fee.Repository, path string) error {
	existing, err := repo.ListForSeller(ctx, 0)
	if err != nil {
		return errors.Wrap(err, "list policies")
	}
	for _, p := range existing {
		if p.Scope == fee.ScopePlatform {
			slog.Info("platform fee policy exists, skipping", slog.Int("version", p.Version))
			return nil
		}
	}

	slog.Info("reading policy file", slog.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read policy file")
	}

	var pj policyJSON
	if err := json.Unmarshal(data, &pj); err != nil {
		return errors.Wrap(err, "parse policy JSON")
	}

	p, err := fee.NewPublisher(repo).Publish(ctx, fee.NewPolicy{
		Scope:         fee.ScopePlatform,
		EffectiveFrom: pj.EffectiveFrom,
		Rates: fee.Rates{
			PgFeeApplied:        pj.Rates.PgFeeApplied,
			PgFeeDisplay:        pj.Rates.PgFeeDisplay,
			PgFeeBaseline:       pj.Rates.PgFeeBaseline,
			PlatformFeeApplied:  pj.Rates.PlatformFeeApplied,
			PlatformFeeDisplay:  pj.Rates.PlatformFeeDisplay,
			PlatformFeeBaseline: pj.Rates.PlatformFeeBaseline,
			VAT:                 pj.Rates.VatRate,
		},
	})
	if err != nil {
		return errors.Wrap(err, "publish policy")
	}

	slog.Info("published platform fee policy", slog.Int64("id", p.ID), slog.Int("version", p.Version))
	return nil
}

func seedAPIKey(ctx context.Context, repo *postgres.APIKeyRepository, opts options) error {
	slog.Info("seeding admin API key")

	info := &auth.APIKeyInfo{
		ID:          "default",
		KeyHash:     handler.HashAPIKey([]byte(opts.apiKeyPepper), opts.apiKey),
		Name:        "Default admin key",
		AdminUserID: opts.adminUserID,
		Scopes:      strings.Split(opts.scopes, ","),
	}
	if err := repo.Upsert(ctx, info); err != nil {
		return errors.Wrap(err, "upsert default API key")
	}

	slog.Info("upserted API key",
		slog.String("id", info.ID),
		slog.Int64("admin_user_id", info.AdminUserID),
		slog.Any("scopes", info.Scopes),
	)
	return nil
}
