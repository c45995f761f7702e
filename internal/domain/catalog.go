package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrMissingIdentity = errors.New("record has no price book entry id")
	ErrMalformedIntent = errors.New("malformed add product intent")
)

// Actions is the opaque action descriptor bag attached to a record.
type Actions map[string]any

func (a Actions) Clone() Actions {
	if a == nil {
		return nil
	}
	out := make(Actions, len(a))
	for k, v := range a {
		out[k] = cloneValue(v)
	}
	return out
}

// Params is an opaque parameter bag forwarded verbatim as a remote input map.
type Params map[string]any

func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

// AddToCartParams walks actions.addtocart.remote.params.
func (a Actions) AddToCartParams() (Params, bool) {
	var cur any = map[string]any(a)
	for _, key := range []string{"addtocart", "remote", "params"} {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	m, ok := asMap(cur)
	if !ok {
		return nil, false
	}
	return Params(m).Clone(), true
}

// CatalogEntry is a purchasable item as offered, before it is in a cart.
type CatalogEntry struct {
	PriceBookEntryID string          `json:"priceBookEntryId"`
	Name             string          `json:"name"`
	RecurringPrice   decimal.Decimal `json:"recurringPrice"`
	ListPrice        decimal.Decimal `json:"listPrice"`
	Actions          Actions         `json:"actions,omitempty"`
}

// Intent builds the message published when the entry's "add" row action fires.
func (e CatalogEntry) Intent() AddProductIntent {
	return AddProductIntent{
		PriceBookEntryID: e.PriceBookEntryID,
		Actions:          e.Actions.Clone(),
	}
}

// AddProductIntent is the message sent from the catalog to the cart.
type AddProductIntent struct {
	PriceBookEntryID string  `json:"priceBookEntryId"`
	Actions          Actions `json:"actions"`
}

func DecodeIntent(data []byte) (AddProductIntent, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var intent AddProductIntent
	if err := dec.Decode(&intent); err != nil {
		return AddProductIntent{}, fmt.Errorf("%w: %v", ErrMalformedIntent, err)
	}
	if intent.PriceBookEntryID == "" {
		return AddProductIntent{}, fmt.Errorf("%w: empty priceBookEntryId", ErrMalformedIntent)
	}
	return intent, nil
}

func (m FieldMap) ParseCatalogEntry(r Record) (CatalogEntry, error) {
	id := r.Fields.String(m.EntryID)
	if id == "" {
		return CatalogEntry{}, ErrMissingIdentity
	}
	listPrice, err := r.Fields.Decimal(m.UnitPrice)
	if err != nil {
		return CatalogEntry{}, err
	}
	recurring, err := r.Fields.Decimal(m.RecurringPrice)
	if err != nil {
		return CatalogEntry{}, err
	}
	return CatalogEntry{
		PriceBookEntryID: id,
		Name:             r.Fields.String(m.Name),
		RecurringPrice:   recurring,
		ListPrice:        listPrice,
		Actions:          r.Actions.Clone(),
	}, nil
}

func (m FieldMap) ParseCatalog(records []Record) ([]CatalogEntry, error) {
	entries := make([]CatalogEntry, 0, len(records))
	for i, r := range records {
		e, err := m.ParseCatalogEntry(r)
		if err != nil {
			return nil, fmt.Errorf("catalog record %d: %w", i, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
