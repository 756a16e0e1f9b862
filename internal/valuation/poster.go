package valuation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Revaluation is one (variant, location) value swing to post.
type Revaluation struct {
	Product   Product
	Variant   Variant
	Location  Location
	CompanyID int64
	NewPrice  decimal.Decimal
	Quantity  decimal.Decimal
	// Diff is old price minus new price.
	Diff      decimal.Decimal
	RequestID string
}

// Poster writes revaluation journal entries.
type Poster struct {
	messages Messages
	now      func() time.Time
}

// NewPoster constructs a Poster.
func NewPoster(messages Messages) *Poster {
	return &Poster{messages: messages, now: time.Now}
}

// Post records the entry for rv. It returns posted=false without touching
// the store when the quantity is zero and opts.ForceQuantity is not set.
func (p *Poster) Post(ctx context.Context, tx TxRepository, rv Revaluation, opts PostingOptions) (PostedEntry, bool, error) {
	if rv.Quantity.IsZero() && !opts.ForceQuantity {
		return PostedEntry{}, false, nil
	}
	location := rv.Location
	accounts, err := ResolveAccounts(rv.Product, &location)
	if err != nil {
		return PostedEntry{}, false, err
	}
	counterpart, err := CounterpartAccount(rv.Product)
	if err != nil {
		return PostedEntry{}, false, err
	}

	amount := rv.Quantity.Mul(rv.Diff)
	debitAccount, creditAccount := accounts.ValuationAccountID, counterpart
	if amount.IsPositive() {
		debitAccount, creditAccount = counterpart, accounts.ValuationAccountID
	} else {
		amount = amount.Neg()
	}

	header, err := p.header(ctx, tx, rv, accounts.JournalID, opts)
	if err != nil {
		return PostedEntry{}, false, err
	}
	entryID, err := tx.InsertEntry(ctx, header)
	if err != nil {
		return PostedEntry{}, false, fmt.Errorf("valuation: insert entry: %w", err)
	}

	name := p.messages.LineName(rv.Product.StandardPrice, rv.NewPrice)
	lines := [2]EntryLine{
		{AccountID: debitAccount, Debit: amount, Credit: decimal.Zero},
		{AccountID: creditAccount, Debit: decimal.Zero, Credit: amount},
	}
	for _, line := range lines {
		line.VariantID = rv.Variant.ID
		line.LocationID = rv.Location.ID
		line.CompanyID = rv.CompanyID
		line.Name = name
		if _, err := tx.InsertEntryLine(ctx, entryID, line); err != nil {
			return PostedEntry{}, false, fmt.Errorf("valuation: insert entry line: %w", err)
		}
	}

	return PostedEntry{
		EntryID:         entryID,
		VariantID:       rv.Variant.ID,
		LocationID:      rv.Location.ID,
		DebitAccountID:  debitAccount,
		CreditAccountID: creditAccount,
		Amount:          amount,
	}, true, nil
}

func (p *Poster) header(ctx context.Context, tx TxRepository, rv Revaluation, journalID int64, opts PostingOptions) (EntryHeader, error) {
	date := p.now().UTC()
	if opts.Date != nil {
		date = *opts.Date
	}
	var periodID int64
	if opts.PeriodID != nil {
		periodID = *opts.PeriodID
	} else {
		found, err := tx.FindOpenPeriod(ctx, date)
		if err != nil {
			return EntryHeader{}, err
		}
		periodID = found
	}
	reference := opts.Reference
	if reference == "" {
		reference = p.messages.DefaultReference()
	}
	source := fmt.Sprintf("%s:%s:%d:%d:%d", SourceModule, rv.RequestID, rv.Product.ID, rv.Variant.ID, rv.Location.ID)
	return EntryHeader{
		JournalID:    journalID,
		CompanyID:    rv.CompanyID,
		PeriodID:     periodID,
		Date:         date,
		Reference:    reference,
		SourceModule: SourceModule,
		SourceID:     uuid.NewSHA1(uuid.Nil, []byte(source)),
	}, nil
}
