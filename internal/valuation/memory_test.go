package valuation

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockval/internal/shared"
)

type postedLine struct {
	EntryID int64
	Line    EntryLine
}

type memoryRepo struct {
	products  map[int64]Product
	locations []Location
	quants    map[string]decimal.Decimal
	periodID  int64
	users     map[int64]int64

	headers map[int64]EntryHeader
	lines   []postedLine
	updates map[int64]int
	nextID  int64

	failInsertLine int64
	lineCalls      int
	listCalls      int
}

type memoryTx struct {
	repo    *memoryRepo
	headers map[int64]EntryHeader
	lines   []postedLine
	prices  map[int64]decimal.Decimal
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		products: make(map[int64]Product),
		quants:   make(map[string]decimal.Decimal),
		users:    map[int64]int64{7: 1},
		headers:  make(map[int64]EntryHeader),
		updates:  make(map[int64]int),
		periodID: 3,
	}
}

func quantKey(variantID, locationID int64) string {
	return fmt.Sprintf("%d:%d", variantID, locationID)
}

func (r *memoryRepo) setQty(variantID, locationID int64, qty string) {
	r.quants[quantKey(variantID, locationID)] = decimal.RequireFromString(qty)
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memoryTx{repo: r, headers: make(map[int64]EntryHeader), prices: make(map[int64]decimal.Decimal)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for id, h := range tx.headers {
		r.headers[id] = h
	}
	r.lines = append(r.lines, tx.lines...)
	for id, price := range tx.prices {
		p := r.products[id]
		p.StandardPrice = price
		r.products[id] = p
		r.updates[id]++
	}
	return nil
}

func (r *memoryRepo) GetProduct(ctx context.Context, productID int64) (Product, error) {
	p, ok := r.products[productID]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

func (r *memoryRepo) ListProducts(ctx context.Context, productIDs []int64) ([]Product, error) {
	r.listCalls++
	var out []Product
	for _, id := range productIDs {
		if p, ok := r.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memoryRepo) GetLocation(ctx context.Context, locationID int64) (Location, error) {
	for _, loc := range r.locations {
		if loc.ID == locationID {
			return loc, nil
		}
	}
	return Location{}, ErrLocationNotFound
}

func (r *memoryRepo) CompanyForActor(ctx context.Context, actorID int64) (int64, error) {
	if actorID == 0 {
		return 0, ErrActorRequired
	}
	company, ok := r.users[actorID]
	if !ok {
		return 0, ErrCompanyNotFound
	}
	return company, nil
}

func (tx *memoryTx) GetProductForUpdate(ctx context.Context, productID int64) (Product, error) {
	return tx.repo.GetProduct(ctx, productID)
}

// FindInternalLocations returns every location so the service filter is exercised.
func (tx *memoryTx) FindInternalLocations(ctx context.Context, companyID int64) ([]Location, error) {
	return append([]Location(nil), tx.repo.locations...), nil
}

func (tx *memoryTx) OnHandQuantity(ctx context.Context, variantID, locationID int64) (decimal.Decimal, error) {
	return tx.repo.quants[quantKey(variantID, locationID)], nil
}

func (tx *memoryTx) FindOpenPeriod(ctx context.Context, date time.Time) (int64, error) {
	if tx.repo.periodID == 0 {
		return 0, ErrNoOpenPeriod
	}
	return tx.repo.periodID, nil
}

func (tx *memoryTx) InsertEntry(ctx context.Context, header EntryHeader) (int64, error) {
	tx.repo.nextID++
	tx.headers[tx.repo.nextID] = header
	return tx.repo.nextID, nil
}

func (tx *memoryTx) InsertEntryLine(ctx context.Context, entryID int64, line EntryLine) (int64, error) {
	tx.repo.lineCalls++
	if tx.repo.failInsertLine > 0 && int64(tx.repo.lineCalls) == tx.repo.failInsertLine {
		return 0, fmt.Errorf("line %d rejected", tx.repo.lineCalls)
	}
	tx.lines = append(tx.lines, postedLine{EntryID: entryID, Line: line})
	return int64(len(tx.lines)), nil
}

func (tx *memoryTx) UpdateStandardPrice(ctx context.Context, productID int64, price decimal.Decimal) error {
	if _, ok := tx.repo.products[productID]; !ok {
		return ErrProductNotFound
	}
	tx.prices[productID] = price
	return nil
}

type memoryAudit struct {
	logs []shared.AuditLog
}

func (a *memoryAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

type memoryIdempotency struct {
	keys map[string]string
}

func (m *memoryIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	if m.keys == nil {
		m.keys = make(map[string]string)
	}
	if _, ok := m.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = module
	return nil
}

func (m *memoryIdempotency) Delete(ctx context.Context, key string) error {
	delete(m.keys, key)
	return nil
}

// widget is a fully configured product priced at 100 with one variant.
func widget() Product {
	return Product{
		ID:            10,
		Code:          "WGT",
		Name:          "Widget",
		StandardPrice: decimal.NewFromInt(100),
		Category: Category{
			ID:                 1,
			Name:               "Finished Goods",
			InputAccountID:     1101,
			OutputAccountID:    1102,
			ValuationAccountID: 1100,
			ExpenseAccountID:   5100,
			JournalID:          4,
		},
		Variants: []Variant{{ID: 100, ProductID: 10, Code: "WGT-1", Name: "Widget"}},
	}
}

func warehouse(id int64) Location {
	return Location{ID: id, Code: fmt.Sprintf("WH%d", id), Name: "Stock", CompanyID: 1, Usage: LocationUsageInternal}
}
