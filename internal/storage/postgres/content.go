package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/marketplace-settlement/internal/domain/order"
)

const (
	getContentSQL = `SELECT id, seller_id, title FROM contents WHERE id = $1`

	listContentOptionsSQL = `SELECT id, kind, name, price, session_minutes, session_count, file_name, page_count
		FROM content_options WHERE content_id = $1 ORDER BY id`
)

var _ order.ContentRepository = (*ContentRepository)(nil)

// ContentRepository implements order.ContentRepository backed by PostgreSQL.
type ContentRepository struct {
	pool *pgxpool.Pool
}

// NewContentRepository returns a ContentRepository that uses the given pool.
func NewContentRepository(pool *pgxpool.Pool) *ContentRepository {
	return &ContentRepository{pool: pool}
}

// Get returns the content with its options.
func (r *ContentRepository) Get(ctx context.Context, id int64) (*order.Content, error) {
	var c order.Content
	err := r.pool.QueryRow(ctx, getContentSQL, id).Scan(&c.ID, &c.SellerID, &c.Title)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrContentNotFound
		}
		return nil, fmt.Errorf("getting content %d: %w", id, err)
	}

	rows, err := r.pool.Query(ctx, listContentOptionsSQL, id)
	if err != nil {
		return nil, fmt.Errorf("listing options of content %d: %w", id, err)
	}
	c.Options, err = pgx.CollectRows(rows, scanOption)
	if err != nil {
		return nil, fmt.Errorf("listing options of content %d: %w", id, err)
	}
	return &c, nil
}

// scanOption fills the detail matching the option kind. The columns of the
// other kind are NULL.
func scanOption(row pgx.CollectableRow) (order.Option, error) {
	var (
		o              order.Option
		kind           string
		sessionMinutes *int
		sessionCount   *int
		fileName       *string
		pageCount      *int
	)
	err := row.Scan(&o.ID, &kind, &o.Name, &o.Price, &sessionMinutes, &sessionCount, &fileName, &pageCount)
	if err != nil {
		return o, err
	}

	o.Kind = order.OptionKind(kind)
	switch o.Kind {
	case order.OptionCoaching:
		o.Coaching = &order.CoachingDetail{
			SessionMinutes: deref(sessionMinutes),
			SessionCount:   deref(sessionCount),
		}
	case order.OptionDocument:
		o.Document = &order.DocumentDetail{
			FileName:  deref(fileName),
			PageCount: deref(pageCount),
		}
	default:
		return o, fmt.Errorf("unknown option kind %q", kind)
	}
	return o, nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
