package order

import (
	"context"

	"github.com/shopspring/decimal"
)

// OptionKind discriminates the option variants of a content.
type OptionKind string

const (
	OptionCoaching OptionKind = "COACHING"
	OptionDocument OptionKind = "DOCUMENT"
)

// CoachingDetail holds the attributes specific to coaching options.
type CoachingDetail struct {
	SessionMinutes int
	SessionCount   int
}

// DocumentDetail holds the attributes specific to document options.
type DocumentDetail struct {
	FileName  string
	PageCount int
}

// Option is a purchasable option of a content. Exactly one of Coaching and
// Document is set, according to Kind.
type Option struct {
	ID    int64
	Kind  OptionKind
	Name  string
	Price decimal.Decimal

	Coaching *CoachingDetail
	Document *DocumentDetail
}

// Content is the sellable unit whose options are ordered.
type Content struct {
	ID       int64
	SellerID int64
	Title    string
	Options  []Option
}

// Option returns the option with the given id.
func (c *Content) Option(id int64) (Option, bool) {
	for _, o := range c.Options {
		if o.ID == id {
			return o, true
		}
	}
	return Option{}, false
}

// ContentRepository looks up content and its options.
type ContentRepository interface {
	// Get returns ErrContentNotFound when the content does not exist.
	Get(ctx context.Context, id int64) (*Content, error)
}
