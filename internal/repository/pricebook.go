package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// PriceBookEntry is a purchasable offering with its list prices.
type PriceBookEntry struct {
	ID             string
	ProductCode    string
	Name           string
	UnitPrice      decimal.Decimal
	RecurringPrice decimal.Decimal
}

type PriceBook struct {
	db *sql.DB
}

func NewPriceBook(dbPath string) (*PriceBook, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// one connection so that ":memory:" is a single database
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PriceBook{db: db}, nil
}

func (p *PriceBook) RunMigrations(migrationsPath string) error {
	driver, err := sqlite.WithInstance(p.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", migrationsPath),
		"sqlite",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}

	return nil
}

func (p *PriceBook) ListEntries(ctx context.Context) ([]PriceBookEntry, error) {
	query := `
		SELECT id, product_code, name, unit_price, recurring_price
		FROM price_book_entries
		WHERE active = 1
		ORDER BY sort_order, id
	`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query price book: %w", err)
	}
	defer rows.Close()

	var entries []PriceBookEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return entries, nil
}

func (p *PriceBook) GetEntry(ctx context.Context, id string) (*PriceBookEntry, error) {
	query := `
		SELECT id, product_code, name, unit_price, recurring_price
		FROM price_book_entries
		WHERE id = ? AND active = 1
	`

	e, err := scanEntry(p.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (p *PriceBook) Close() error {
	return p.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*PriceBookEntry, error) {
	var e PriceBookEntry
	var unitRaw, recurRaw string
	if err := row.Scan(&e.ID, &e.ProductCode, &e.Name, &unitRaw, &recurRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan price book entry: %w", err)
	}

	var err error
	if e.UnitPrice, err = decimal.NewFromString(unitRaw); err != nil {
		return nil, fmt.Errorf("entry %s: bad unit price: %w", e.ID, err)
	}
	if e.RecurringPrice, err = decimal.NewFromString(recurRaw); err != nil {
		return nil, fmt.Errorf("entry %s: bad recurring price: %w", e.ID, err)
	}
	return &e, nil
}
