package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrLineNotFound  = errors.New("cart line not found")
	ErrEntryNotFound = errors.New("price book entry not found")
)

// Line is one cart line as the pricing backend keeps it. Charges are unit
// prices; totals are derived when the line is priced.
type Line struct {
	ID               string
	CartID           string
	PriceBookEntryID string
	Name             string
	Quantity         int64
	RecurringCharge  decimal.Decimal
	OneTimeCharge    decimal.Decimal
	Position         int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// LineRepository stores cart lines. Lines of a cart are listed in insertion order.
type LineRepository interface {
	ListLines(ctx context.Context, cartID string) ([]Line, error)
	GetLine(ctx context.Context, cartID, lineID string) (*Line, error)
	InsertLine(ctx context.Context, line *Line) error
	UpdateQuantity(ctx context.Context, cartID, lineID string, quantity int64) (*Line, error)
	DeleteCart(ctx context.Context, cartID string) error
}
