package pricing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fjod/cpqcart/internal/domain"
	"github.com/fjod/cpqcart/internal/remote"
	"github.com/fjod/cpqcart/internal/repository"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// lineIDField identifies a cart line in submitted records.
const lineIDField = "Id"

type PriceBook interface {
	ListEntries(ctx context.Context) ([]repository.PriceBookEntry, error)
	GetEntry(ctx context.Context, id string) (*repository.PriceBookEntry, error)
}

// Service is a small cart backend serving the four invoke methods. Every
// line it returns is priced: totals are charge times quantity.
type Service struct {
	lines  repository.LineRepository
	book   PriceBook
	fields domain.FieldMap
}

func NewService(lines repository.LineRepository, book PriceBook, fields domain.FieldMap) *Service {
	return &Service{
		lines:  lines,
		book:   book,
		fields: fields.WithDefaults(),
	}
}

func (s *Service) Invoke(ctx context.Context, input remote.InputMap) (*domain.Envelope, error) {
	cartID := input.String("cartId")
	method := input.Method()
	if method == "" {
		return nil, remote.ErrMissingMethod
	}
	if cartID == "" {
		return nil, fmt.Errorf("%w: cartId is required", remote.ErrInvalidInput)
	}

	var (
		records []domain.Record
		err     error
	)
	switch method {
	case remote.MethodGetCartsItems:
		records, err = s.getCartsItems(ctx, cartID)
	case remote.MethodGetCartsProducts:
		records, err = s.getCartsProducts(ctx, cartID)
	case remote.MethodPostCartsItems:
		records, err = s.postCartsItems(ctx, cartID, input.String("priceBookEntryId"))
	case remote.MethodPutCartsItems:
		records, err = s.putCartsItems(ctx, cartID, input)
	default:
		return nil, fmt.Errorf("%w: %s", remote.ErrUnknownMethod, method)
	}
	if err != nil {
		log.Warn().Err(err).Str("method", method).Str("cart_id", cartID).Msg("invoke failed")
		return nil, err
	}
	return &domain.Envelope{Records: records}, nil
}

func (s *Service) getCartsItems(ctx context.Context, cartID string) ([]domain.Record, error) {
	lines, err := s.lines.ListLines(ctx, cartID)
	if err != nil {
		return nil, err
	}
	records := make([]domain.Record, 0, len(lines))
	for i := range lines {
		records = append(records, s.lineRecord(&lines[i]))
	}
	return records, nil
}

func (s *Service) getCartsProducts(ctx context.Context, cartID string) ([]domain.Record, error) {
	entries, err := s.book.ListEntries(ctx)
	if err != nil {
		return nil, err
	}
	records := make([]domain.Record, 0, len(entries))
	for _, e := range entries {
		records = append(records, s.productRecord(cartID, e))
	}
	return records, nil
}

func (s *Service) postCartsItems(ctx context.Context, cartID, entryID string) ([]domain.Record, error) {
	if entryID == "" {
		return nil, fmt.Errorf("%w: priceBookEntryId is required", remote.ErrInvalidInput)
	}
	entry, err := s.book.GetEntry(ctx, entryID)
	if errors.Is(err, repository.ErrEntryNotFound) {
		return nil, fmt.Errorf("%w: price book entry %s", remote.ErrNotFound, entryID)
	}
	if err != nil {
		return nil, err
	}

	line := &repository.Line{
		CartID:           cartID,
		PriceBookEntryID: entry.ID,
		Name:             entry.Name,
		Quantity:         1,
		RecurringCharge:  entry.RecurringPrice,
		OneTimeCharge:    entry.UnitPrice,
	}
	if err := s.lines.InsertLine(ctx, line); err != nil {
		return nil, err
	}
	return []domain.Record{s.lineRecord(line)}, nil
}

// putCartsItems applies the submitted quantities. Other submitted fields are
// ignored; the response always reflects stored and repriced values.
func (s *Service) putCartsItems(ctx context.Context, cartID string, input remote.InputMap) ([]domain.Record, error) {
	bags, err := submittedRecords(input["items"])
	if err != nil {
		return nil, err
	}
	if len(bags) == 0 {
		return nil, fmt.Errorf("%w: items.records is empty", remote.ErrInvalidInput)
	}
	validate, _ := input["validate"].(bool)

	records := make([]domain.Record, 0, len(bags))
	for _, bag := range bags {
		lineID := bag.String(lineIDField)
		if lineID == "" {
			return nil, fmt.Errorf("%w: record without %s", remote.ErrInvalidInput, lineIDField)
		}
		qty, err := bag.Int(s.fields.Quantity)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", remote.ErrInvalidInput, err)
		}
		if validate && qty < 1 {
			return nil, fmt.Errorf("%w: quantity must be at least 1, got %d", remote.ErrInvalidInput, qty)
		}

		line, err := s.lines.UpdateQuantity(ctx, cartID, lineID, qty)
		if errors.Is(err, repository.ErrLineNotFound) {
			return nil, fmt.Errorf("%w: line %s", remote.ErrNotFound, lineID)
		}
		if err != nil {
			return nil, err
		}
		records = append(records, s.lineRecord(line))
	}
	return records, nil
}

// submittedRecords reads items.records whether it arrived decoded from JSON
// or as field bags from an in-process caller.
func submittedRecords(items any) ([]domain.FieldBag, error) {
	if items == nil {
		return nil, fmt.Errorf("%w: items is required", remote.ErrInvalidInput)
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", remote.ErrInvalidInput, err)
	}
	var body struct {
		Records []domain.FieldBag `json:"records"`
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: items: %v", remote.ErrInvalidInput, err)
	}
	return body.Records, nil
}

func (s *Service) lineRecord(l *repository.Line) domain.Record {
	qty := decimal.NewFromInt(l.Quantity)
	f := domain.FieldBag{}
	f.Set(lineIDField, l.ID)
	f.Set(s.fields.Name, l.Name)
	f.Set(s.fields.PriceBookEntryID, l.PriceBookEntryID)
	f.Set(s.fields.Quantity, json.Number(qty.String()))
	f[s.fields.Quantity]["editable"] = true
	f.Set(s.fields.RecurringCharge, number(l.RecurringCharge))
	f.Set(s.fields.RecurringTotal, number(l.RecurringCharge.Mul(qty)))
	f.Set(s.fields.OneTimeCharge, number(l.OneTimeCharge))
	f.Set(s.fields.OneTimeTotal, number(l.OneTimeCharge.Mul(qty)))
	return domain.Record{Fields: f}
}

func (s *Service) productRecord(cartID string, e repository.PriceBookEntry) domain.Record {
	f := domain.FieldBag{}
	f.Set(s.fields.EntryID, e.ID)
	f.Set(s.fields.Name, e.Name)
	f.Set("ProductCode", e.ProductCode)
	f.Set(s.fields.UnitPrice, number(e.UnitPrice))
	f.Set(s.fields.RecurringPrice, number(e.RecurringPrice))
	return domain.Record{
		Fields: f,
		Actions: domain.Actions{
			"addtocart": map[string]any{
				"remote": map[string]any{
					"params": map[string]any{
						"methodName":       remote.MethodPostCartsItems,
						"cartId":           cartID,
						"priceBookEntryId": e.ID,
					},
				},
			},
		},
	}
}

func number(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}
