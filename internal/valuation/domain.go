package valuation

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ValuationMode enumerates inventory valuation strategies.
type ValuationMode string

const (
	// ValuationManualPeriodic leaves stock value to periodic manual entries.
	ValuationManualPeriodic ValuationMode = "manual_periodic"
	// ValuationRealTime posts journal entries for each stock move.
	ValuationRealTime ValuationMode = "real_time"
)

// CostMethod enumerates product costing methods.
type CostMethod string

const (
	CostMethodStandard CostMethod = "standard"
	CostMethodAverage  CostMethod = "average"
	CostMethodReal     CostMethod = "real"
)

// LocationUsage classifies stock locations.
type LocationUsage string

const (
	LocationUsageInternal  LocationUsage = "internal"
	LocationUsageSupplier  LocationUsage = "supplier"
	LocationUsageCustomer  LocationUsage = "customer"
	LocationUsageTransit   LocationUsage = "transit"
	LocationUsageInventory LocationUsage = "inventory"
	LocationUsageView      LocationUsage = "view"
)

// Category holds account defaults shared by its products. Zero ids are unset.
type Category struct {
	ID                 int64
	Name               string
	InputAccountID     int64
	OutputAccountID    int64
	ValuationAccountID int64
	ExpenseAccountID   int64
	JournalID          int64
}

// Variant is a stockable variant of a product.
type Variant struct {
	ID        int64
	ProductID int64
	Code      string
	Name      string
}

// Product is a product template with its category and variants.
type Product struct {
	ID                 int64
	Code               string
	Name               string
	StandardPrice      decimal.Decimal
	Valuation          ValuationMode
	CostMethod         CostMethod
	InputAccountID     int64
	OutputAccountID    int64
	ValuationAccountID int64
	ExpenseAccountID   int64
	Category           Category
	Variants           []Variant
}

// ApplyDefaults fills valuation settings left empty by the catalog.
func (p *Product) ApplyDefaults() {
	if p.Valuation == "" {
		p.Valuation = ValuationManualPeriodic
	}
	if p.CostMethod == "" {
		p.CostMethod = CostMethodStandard
	}
}

// Location is a stock location. ValuationAccountID overrides the product
// valuation account for stock held here.
type Location struct {
	ID                 int64
	Code               string
	Name               string
	CompanyID          int64
	Usage              LocationUsage
	ValuationAccountID int64
}

// IsInternal reports whether the location holds owned stock.
func (l Location) IsInternal() bool {
	return l.Usage == LocationUsageInternal
}

// Accounts groups the accounting anchors used for valuation.
type Accounts struct {
	InputAccountID     int64 `json:"stock_input_account_id"`
	OutputAccountID    int64 `json:"stock_output_account_id"`
	ValuationAccountID int64 `json:"stock_valuation_account_id"`
	JournalID          int64 `json:"stock_journal_id"`
}

// PostingOptions replaces free-form posting context with named fields.
type PostingOptions struct {
	Date          *time.Time
	PeriodID      *int64
	Reference     string
	ForceQuantity bool
}

// EntryHeader is the journal entry created for one revaluation posting.
type EntryHeader struct {
	JournalID    int64
	CompanyID    int64
	PeriodID     int64
	Date         time.Time
	Reference    string
	SourceModule string
	SourceID     uuid.UUID
}

// EntryLine is a debit or credit line of an entry.
type EntryLine struct {
	AccountID  int64
	Debit      decimal.Decimal
	Credit     decimal.Decimal
	VariantID  int64
	LocationID int64
	CompanyID  int64
	Name       string
}

// PostedEntry summarises an entry written by the poster.
type PostedEntry struct {
	EntryID         int64           `json:"entry_id"`
	VariantID       int64           `json:"variant_id"`
	LocationID      int64           `json:"location_id"`
	DebitAccountID  int64           `json:"debit_account_id"`
	CreditAccountID int64           `json:"credit_account_id"`
	Amount          decimal.Decimal `json:"amount"`
}

// SourceModule tags journal entries created by standard price changes.
const SourceModule = "VALUATION.STANDARD_PRICE"

var (
	// ErrProductNotFound indicates an unknown product id.
	ErrProductNotFound = errors.New("valuation: product not found")
	// ErrLocationNotFound indicates an unknown location id.
	ErrLocationNotFound = errors.New("valuation: location not found")
	// ErrNoOpenPeriod indicates no open fiscal period covers the posting date.
	ErrNoOpenPeriod = errors.New("valuation: no open period for posting date")
	// ErrActorRequired indicates the acting principal is unknown.
	ErrActorRequired = errors.New("valuation: acting user required")
	// ErrCompanyNotFound indicates the actor has no company.
	ErrCompanyNotFound = errors.New("valuation: company not found for actor")
)
