package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// CartItem is one priced line in the cart. Totals are server-computed and
// never derived locally; Quantity always mirrors RawFields.
type CartItem struct {
	PriceBookEntryID string          `json:"priceBookEntryId"`
	Name             string          `json:"name"`
	Quantity         int64           `json:"quantity"`
	RecurringCharge  decimal.Decimal `json:"recurringCharge"`
	RecurringTotal   decimal.Decimal `json:"recurringTotal"`
	OneTimeCharge    decimal.Decimal `json:"oneTimeCharge"`
	OneTimeTotal     decimal.Decimal `json:"oneTimeTotal"`
	RawFields        FieldBag        `json:"fields"`
	RawActions       Actions         `json:"actions,omitempty"`
}

func (c CartItem) Clone() CartItem {
	c.RawFields = c.RawFields.Clone()
	c.RawActions = c.RawActions.Clone()
	return c
}

// Snapshot is a read-only copy of the cart state handed to views.
type Snapshot struct {
	CartID  string     `json:"cartId"`
	Items   []CartItem `json:"items"`
	Error   string     `json:"error,omitempty"`
	Loaded  bool       `json:"loaded"`
	Version uint64     `json:"version"`
}

func (m FieldMap) ParseCartItem(r Record) (CartItem, error) {
	qty, err := r.Fields.Int(m.Quantity)
	if err != nil {
		return CartItem{}, err
	}
	item := CartItem{
		PriceBookEntryID: r.Fields.String(m.PriceBookEntryID),
		Name:             r.Fields.String(m.Name),
		Quantity:         qty,
		RawFields:        r.Fields.Clone(),
		RawActions:       r.Actions.Clone(),
	}
	money := []struct {
		name string
		dst  *decimal.Decimal
	}{
		{m.RecurringCharge, &item.RecurringCharge},
		{m.RecurringTotal, &item.RecurringTotal},
		{m.OneTimeCharge, &item.OneTimeCharge},
		{m.OneTimeTotal, &item.OneTimeTotal},
	}
	for _, f := range money {
		v, err := r.Fields.Decimal(f.name)
		if err != nil {
			return CartItem{}, err
		}
		*f.dst = v
	}
	return item, nil
}

func (m FieldMap) ParseCartItems(records []Record) ([]CartItem, error) {
	items := make([]CartItem, 0, len(records))
	for i, r := range records {
		item, err := m.ParseCartItem(r)
		if err != nil {
			return nil, fmt.Errorf("cart record %d: %w", i, err)
		}
		items = append(items, item)
	}
	return items, nil
}
