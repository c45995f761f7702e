package domain

// FieldMap names the backend fields the engine reads. Everything else in a
// record is carried opaquely.
type FieldMap struct {
	Name             string `yaml:"name"`
	Quantity         string `yaml:"quantity"`
	PriceBookEntryID string `yaml:"price_book_entry_id"`
	RecurringCharge  string `yaml:"recurring_charge"`
	RecurringTotal   string `yaml:"recurring_total"`
	OneTimeCharge    string `yaml:"one_time_charge"`
	OneTimeTotal     string `yaml:"one_time_total"`

	// catalog records
	EntryID        string `yaml:"entry_id"`
	UnitPrice      string `yaml:"unit_price"`
	RecurringPrice string `yaml:"recurring_price"`
}

func DefaultFieldMap() FieldMap {
	return FieldMap{
		Name:             "Name",
		Quantity:         "Quantity",
		PriceBookEntryID: "PricebookEntryId",
		RecurringCharge:  "vlocity_cmt__RecurringCharge__c",
		RecurringTotal:   "vlocity_cmt__RecurringTotal__c",
		OneTimeCharge:    "vlocity_cmt__OneTimeCharge__c",
		OneTimeTotal:     "vlocity_cmt__OneTimeTotal__c",
		EntryID:          "Id",
		UnitPrice:        "UnitPrice",
		RecurringPrice:   "vlocity_cmt__RecurringPrice__c",
	}
}

// WithDefaults fills every empty name with its default.
func (m FieldMap) WithDefaults() FieldMap {
	d := DefaultFieldMap()
	fill := func(dst *string, def string) {
		if *dst == "" {
			*dst = def
		}
	}
	fill(&m.Name, d.Name)
	fill(&m.Quantity, d.Quantity)
	fill(&m.PriceBookEntryID, d.PriceBookEntryID)
	fill(&m.RecurringCharge, d.RecurringCharge)
	fill(&m.RecurringTotal, d.RecurringTotal)
	fill(&m.OneTimeCharge, d.OneTimeCharge)
	fill(&m.OneTimeTotal, d.OneTimeTotal)
	fill(&m.EntryID, d.EntryID)
	fill(&m.UnitPrice, d.UnitPrice)
	fill(&m.RecurringPrice, d.RecurringPrice)
	return m
}
