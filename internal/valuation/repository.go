package valuation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockval/internal/accounting/periods"
	"github.com/odyssey-erp/stockval/internal/platform/db"
)

// Repository persists valuation data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes fn within a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("valuation repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const productColumns = `p.id, p.code, p.name, p.standard_price::text, COALESCE(p.valuation, ''), COALESCE(p.cost_method, ''),
COALESCE(p.stock_input_account_id, 0), COALESCE(p.stock_output_account_id, 0),
COALESCE(p.stock_valuation_account_id, 0), COALESCE(p.expense_account_id, 0),
c.id, c.name, COALESCE(c.stock_input_account_id, 0), COALESCE(c.stock_output_account_id, 0),
COALESCE(c.stock_valuation_account_id, 0), COALESCE(c.expense_account_id, 0), COALESCE(c.stock_journal_id, 0)
FROM products p JOIN categories c ON c.id = p.category_id`

// GetProduct loads a product with its category and variants.
func (r *Repository) GetProduct(ctx context.Context, productID int64) (Product, error) {
	return getProduct(ctx, r.pool, `SELECT `+productColumns+` WHERE p.id=$1`, productID)
}

// ListProducts loads products with their categories, without variants.
func (r *Repository) ListProducts(ctx context.Context, productIDs []int64) ([]Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+productColumns+` WHERE p.id = ANY($1) ORDER BY p.id`, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var products []Product
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, product)
	}
	return products, rows.Err()
}

// GetLocation loads a stock location.
func (r *Repository) GetLocation(ctx context.Context, locationID int64) (Location, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, code, name, company_id, usage, COALESCE(valuation_account_id, 0)
FROM stock_locations WHERE id=$1`, locationID)
	var loc Location
	if err := row.Scan(&loc.ID, &loc.Code, &loc.Name, &loc.CompanyID, &loc.Usage, &loc.ValuationAccountID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Location{}, ErrLocationNotFound
		}
		return Location{}, err
	}
	return loc, nil
}

// CompanyForActor resolves the company of a user.
func (r *Repository) CompanyForActor(ctx context.Context, actorID int64) (int64, error) {
	if actorID == 0 {
		return 0, ErrActorRequired
	}
	var companyID *int64
	err := r.pool.QueryRow(ctx, `SELECT company_id FROM users WHERE id=$1`, actorID).Scan(&companyID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrCompanyNotFound
		}
		return 0, err
	}
	if companyID == nil {
		return 0, ErrCompanyNotFound
	}
	return *companyID, nil
}

func (r *txRepository) GetProductForUpdate(ctx context.Context, productID int64) (Product, error) {
	return getProduct(ctx, r.tx, `SELECT `+productColumns+` WHERE p.id=$1 FOR UPDATE OF p`, productID)
}

func (r *txRepository) FindInternalLocations(ctx context.Context, companyID int64) ([]Location, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, code, name, company_id, usage, COALESCE(valuation_account_id, 0)
FROM stock_locations WHERE usage=$1 AND company_id=$2 ORDER BY id`, LocationUsageInternal, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var locations []Location
	for rows.Next() {
		var loc Location
		if err := rows.Scan(&loc.ID, &loc.Code, &loc.Name, &loc.CompanyID, &loc.Usage, &loc.ValuationAccountID); err != nil {
			return nil, err
		}
		locations = append(locations, loc)
	}
	return locations, rows.Err()
}

func (r *txRepository) OnHandQuantity(ctx context.Context, variantID, locationID int64) (decimal.Decimal, error) {
	var raw string
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(qty), 0)::text FROM stock_quants WHERE variant_id=$1 AND location_id=$2`,
		variantID, locationID).Scan(&raw)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(raw)
}

func (r *txRepository) FindOpenPeriod(ctx context.Context, date time.Time) (int64, error) {
	period, err := periods.FindOpenByDate(ctx, r.tx, date)
	if err != nil {
		if errors.Is(err, periods.ErrNoOpenPeriod) {
			return 0, fmt.Errorf("%w: %s", ErrNoOpenPeriod, date.Format("2006-01-02"))
		}
		return 0, err
	}
	return period.ID, nil
}

func (r *txRepository) InsertEntry(ctx context.Context, header EntryHeader) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO journal_entries (journal_id, company_id, period_id, date, ref, source_module, source_id, status)
VALUES ($1,$2,$3,$4,$5,$6,$7,'POSTED') RETURNING id`,
		header.JournalID, header.CompanyID, header.PeriodID, header.Date, header.Reference, header.SourceModule, header.SourceID).Scan(&id)
	return id, err
}

func (r *txRepository) InsertEntryLine(ctx context.Context, entryID int64, line EntryLine) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO journal_lines (je_id, account_id, debit, credit, product_id, name, dim_company_id, dim_warehouse_id)
VALUES ($1,$2,$3::numeric,$4::numeric,$5,$6,$7,$8) RETURNING id`,
		entryID, line.AccountID, line.Debit.String(), line.Credit.String(), line.VariantID, line.Name,
		nullInt(line.CompanyID), nullInt(line.LocationID)).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateStandardPrice(ctx context.Context, productID int64, price decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE products SET standard_price=$2::numeric, updated_at=NOW() WHERE id=$1`, productID, price.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func getProduct(ctx context.Context, q querier, query string, productID int64) (Product, error) {
	product, err := scanProduct(q.QueryRow(ctx, query, productID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, err
	}
	rows, err := q.Query(ctx, `SELECT id, product_id, code, name FROM product_variants WHERE product_id=$1 ORDER BY id`, productID)
	if err != nil {
		return Product{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var v Variant
		if err := rows.Scan(&v.ID, &v.ProductID, &v.Code, &v.Name); err != nil {
			return Product{}, err
		}
		product.Variants = append(product.Variants, v)
	}
	return product, rows.Err()
}

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	var price string
	err := row.Scan(&p.ID, &p.Code, &p.Name, &price, &p.Valuation, &p.CostMethod,
		&p.InputAccountID, &p.OutputAccountID, &p.ValuationAccountID, &p.ExpenseAccountID,
		&p.Category.ID, &p.Category.Name, &p.Category.InputAccountID, &p.Category.OutputAccountID,
		&p.Category.ValuationAccountID, &p.Category.ExpenseAccountID, &p.Category.JournalID)
	if err != nil {
		return Product{}, err
	}
	p.StandardPrice, err = decimal.NewFromString(price)
	if err != nil {
		return Product{}, fmt.Errorf("valuation: parse standard price of product %d: %w", p.ID, err)
	}
	return p, nil
}

func nullInt(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}
