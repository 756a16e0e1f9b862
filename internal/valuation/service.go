package valuation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockval/internal/shared"
)

// RepositoryPort abstracts catalog reads and the transaction boundary.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetProduct(ctx context.Context, productID int64) (Product, error)
	ListProducts(ctx context.Context, productIDs []int64) ([]Product, error)
	GetLocation(ctx context.Context, locationID int64) (Location, error)
}

// TxRepository exposes the reads and writes of one revaluation transaction.
type TxRepository interface {
	GetProductForUpdate(ctx context.Context, productID int64) (Product, error)
	FindInternalLocations(ctx context.Context, companyID int64) ([]Location, error)
	// OnHandQuantity is scoped to the location itself, child locations excluded.
	OnHandQuantity(ctx context.Context, variantID, locationID int64) (decimal.Decimal, error)
	FindOpenPeriod(ctx context.Context, date time.Time) (int64, error)
	InsertEntry(ctx context.Context, header EntryHeader) (int64, error)
	InsertEntryLine(ctx context.Context, entryID int64, line EntryLine) (int64, error)
	UpdateStandardPrice(ctx context.Context, productID int64, price decimal.Decimal) error
}

// CompanyResolver resolves the company a user acts for.
type CompanyResolver interface {
	CompanyForActor(ctx context.Context, actorID int64) (int64, error)
}

// AuditPort records price changes for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// idempotencyModule scopes valuation keys in the shared idempotency store.
const idempotencyModule = "valuation"

// IdempotencyPort guards against replayed price change requests.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// GroupCache caches valuation account groups.
type GroupCache interface {
	ValuationGroups(ctx context.Context, productIDs []int64, loader func(context.Context) (map[int64][]int64, error)) (map[int64][]int64, error)
}

// ServiceConfig groups optional collaborators and settings.
type ServiceConfig struct {
	Language    string
	Idempotency IdempotencyPort
	Cache       GroupCache
	Metrics     *Metrics
	Logger      *slog.Logger
}

// Service drives standard price changes and account lookups.
type Service struct {
	repo        RepositoryPort
	companies   CompanyResolver
	audit       AuditPort
	idempotency IdempotencyPort
	cache       GroupCache
	metrics     *Metrics
	logger      *slog.Logger
	poster      *Poster
	now         func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, companies CompanyResolver, audit AuditPort, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		companies:   companies,
		audit:       audit,
		idempotency: cfg.Idempotency,
		cache:       cfg.Cache,
		metrics:     cfg.Metrics,
		logger:      logger,
		poster:      NewPoster(NewMessages(cfg.Language)),
		now:         time.Now,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
		s.poster.now = now
	}
}

// ChangePriceInput describes a standard price change for a batch of products.
type ChangePriceInput struct {
	ProductIDs     []int64         `validate:"required,min=1,dive,gt=0"`
	NewPrice       decimal.Decimal `validate:"nonnegative_decimal"`
	ActorID        int64           `validate:"gt=0"`
	IdempotencyKey string
	RequestID      string
	Options        PostingOptions
}

// ProductOutcome reports the result of revaluing one product.
type ProductOutcome struct {
	ProductID int64           `json:"product_id"`
	OldPrice  decimal.Decimal `json:"old_price"`
	NewPrice  decimal.Decimal `json:"new_price"`
	Entries   []PostedEntry   `json:"entries"`
	Error     string          `json:"error,omitempty"`
}

// Succeeded reports whether the new price was committed.
func (o ProductOutcome) Succeeded() bool {
	return o.Error == ""
}

// ChangePriceResult lists per-product outcomes in request order.
type ChangePriceResult struct {
	RequestID string           `json:"request_id"`
	Products  []ProductOutcome `json:"products"`
}

// Failed counts products whose price was not changed.
func (r ChangePriceResult) Failed() int {
	n := 0
	for _, p := range r.Products {
		if !p.Succeeded() {
			n++
		}
	}
	return n
}

// ChangeStandardPrice revalues stock of every product at the new price and
// then commits the price. Each product runs in its own transaction: a
// failing product is rolled back and reported while the rest proceed. The
// returned error joins the per-product failures.
func (s *Service) ChangeStandardPrice(ctx context.Context, in ChangePriceInput) (ChangePriceResult, error) {
	if err := validateStruct(in); err != nil {
		return ChangePriceResult{}, err
	}
	companyID, err := s.companies.CompanyForActor(ctx, in.ActorID)
	if err != nil {
		return ChangePriceResult{}, err
	}
	if in.RequestID == "" {
		in.RequestID = uuid.NewString()
	}
	insertedKey := false
	if s.idempotency != nil && in.IdempotencyKey != "" {
		if err := s.idempotency.CheckAndInsert(ctx, in.IdempotencyKey, idempotencyModule); err != nil {
			return ChangePriceResult{}, err
		}
		insertedKey = true
	}

	result := ChangePriceResult{RequestID: in.RequestID}
	var errs []error
	for _, productID := range uniqueIDs(in.ProductIDs) {
		outcome, err := s.changeProductPrice(ctx, productID, companyID, in)
		if err != nil {
			outcome.Error = err.Error()
			errs = append(errs, fmt.Errorf("product %d: %w", productID, err))
			s.logger.Warn("standard price change failed",
				slog.Int64("product_id", productID),
				slog.String("request_id", in.RequestID),
				slog.Any("error", err))
			s.metrics.observePriceChange(false, 0)
		} else {
			s.metrics.observePriceChange(true, len(outcome.Entries))
			s.record(ctx, in, outcome)
		}
		result.Products = append(result.Products, outcome)
	}

	if insertedKey && len(errs) == len(result.Products) {
		_ = s.idempotency.Delete(ctx, in.IdempotencyKey)
	}
	return result, errors.Join(errs...)
}

func (s *Service) changeProductPrice(ctx context.Context, productID, companyID int64, in ChangePriceInput) (ProductOutcome, error) {
	outcome := ProductOutcome{ProductID: productID, NewPrice: in.NewPrice, Entries: []PostedEntry{}}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		product, err := tx.GetProductForUpdate(ctx, productID)
		if err != nil {
			return err
		}
		product.ApplyDefaults()
		outcome.OldPrice = product.StandardPrice

		entries, err := s.revalue(ctx, tx, product, companyID, in)
		if err != nil {
			return err
		}
		if err := tx.UpdateStandardPrice(ctx, product.ID, in.NewPrice); err != nil {
			return fmt.Errorf("valuation: update standard price: %w", err)
		}
		outcome.Entries = entries
		return nil
	})
	if err != nil {
		outcome.Entries = []PostedEntry{}
		return outcome, err
	}
	return outcome, nil
}

// revalue posts the value swing of product at every internal location of
// the company. Nothing is posted when the price does not change.
func (s *Service) revalue(ctx context.Context, tx TxRepository, product Product, companyID int64, in ChangePriceInput) ([]PostedEntry, error) {
	entries := []PostedEntry{}
	diff := product.StandardPrice.Sub(in.NewPrice)
	if diff.IsZero() {
		return entries, nil
	}

	found, err := tx.FindInternalLocations(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("valuation: find internal locations: %w", err)
	}
	locations := make([]Location, 0, len(found))
	for _, location := range found {
		if location.IsInternal() && location.CompanyID == companyID {
			locations = append(locations, location)
		}
	}
	// Resolve every location first so incomplete configuration fails before any write.
	for i := range locations {
		if _, err := ResolveAccounts(product, &locations[i]); err != nil {
			return nil, err
		}
	}
	if len(locations) > 0 {
		if _, err := CounterpartAccount(product); err != nil {
			return nil, err
		}
	}

	for _, location := range locations {
		for _, variant := range product.Variants {
			qty, err := tx.OnHandQuantity(ctx, variant.ID, location.ID)
			if err != nil {
				return nil, fmt.Errorf("valuation: on hand quantity: %w", err)
			}
			entry, posted, err := s.poster.Post(ctx, tx, Revaluation{
				Product:   product,
				Variant:   variant,
				Location:  location,
				CompanyID: companyID,
				NewPrice:  in.NewPrice,
				Quantity:  qty,
				Diff:      diff,
				RequestID: in.RequestID,
			}, in.Options)
			if err != nil {
				return nil, err
			}
			if posted {
				entries = append(entries, entry)
			}
		}
	}
	return entries, nil
}

func (s *Service) record(ctx context.Context, in ChangePriceInput, outcome ProductOutcome) {
	if s.audit == nil {
		return
	}
	entryIDs := make([]int64, 0, len(outcome.Entries))
	for _, e := range outcome.Entries {
		entryIDs = append(entryIDs, e.EntryID)
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  in.ActorID,
		Action:   "valuation.standard_price",
		Entity:   "product",
		EntityID: fmt.Sprintf("%d", outcome.ProductID),
		Meta: map[string]any{
			"old_price":  outcome.OldPrice.String(),
			"new_price":  outcome.NewPrice.String(),
			"entry_ids":  entryIDs,
			"request_id": in.RequestID,
		},
		At: s.now(),
	}); err != nil {
		s.logger.Warn("audit standard price change", slog.Int64("product_id", outcome.ProductID), slog.Any("error", err))
	}
}

// GetProductAccounts resolves the valuation anchors of a product. A
// non-zero locationID applies that location's valuation override.
func (s *Service) GetProductAccounts(ctx context.Context, productID, locationID int64) (Accounts, error) {
	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return Accounts{}, err
	}
	if locationID == 0 {
		return ResolveAccounts(product, nil)
	}
	location, err := s.repo.GetLocation(ctx, locationID)
	if err != nil {
		return Accounts{}, err
	}
	return ResolveAccounts(product, &location)
}

// ValuationAccountGroups groups products by valuation account.
func (s *Service) ValuationAccountGroups(ctx context.Context, productIDs []int64) (map[int64][]int64, error) {
	ids := uniqueIDs(productIDs)
	if len(ids) == 0 {
		return map[int64][]int64{}, nil
	}
	loader := func(ctx context.Context) (map[int64][]int64, error) {
		products, err := s.repo.ListProducts(ctx, ids)
		if err != nil {
			return nil, err
		}
		return GroupByValuationAccount(products), nil
	}
	if s.cache == nil {
		return loader(ctx)
	}
	return s.cache.ValuationGroups(ctx, ids, loader)
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// sortedIDs returns a sorted copy, used for cache keys.
func sortedIDs(ids []int64) []int64 {
	out := append([]int64(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
