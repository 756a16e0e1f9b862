package valuation

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingAccountingConfiguration matches any *MissingAccountingConfigurationError.
	ErrMissingAccountingConfiguration = errors.New("valuation: missing accounting configuration")
	// ErrMissingExpenseAccount matches any *MissingExpenseAccountError.
	ErrMissingExpenseAccount = errors.New("valuation: missing expense account")
)

// Account fields reported by MissingAccountingConfigurationError.
const (
	FieldInputAccount     = "stock_input_account"
	FieldOutputAccount    = "stock_output_account"
	FieldValuationAccount = "stock_valuation_account"
	FieldJournal          = "stock_journal"
)

// MissingAccountingConfigurationError reports which anchors could not be
// resolved for a product. Resolved holds what was found.
type MissingAccountingConfigurationError struct {
	ProductID   int64
	ProductName string
	Missing     []string
	Resolved    Accounts
}

func (e *MissingAccountingConfigurationError) Error() string {
	return fmt.Sprintf("valuation: one of the following information is missing on the product or product category "+
		"and prevents the accounting valuation entries to be created: product: %s, stock input account: %s, "+
		"stock output account: %s, stock valuation account: %s, stock journal: %s (missing: %s)",
		e.ProductName,
		formatAnchor(e.Resolved.InputAccountID),
		formatAnchor(e.Resolved.OutputAccountID),
		formatAnchor(e.Resolved.ValuationAccountID),
		formatAnchor(e.Resolved.JournalID),
		strings.Join(e.Missing, ", "))
}

// Is lets errors.Is match the sentinel.
func (e *MissingAccountingConfigurationError) Is(target error) bool {
	return target == ErrMissingAccountingConfiguration
}

// MissingExpenseAccountError reports a product without counterpart account.
type MissingExpenseAccountError struct {
	ProductID   int64
	ProductName string
}

func (e *MissingExpenseAccountError) Error() string {
	return fmt.Sprintf("valuation: no expense account defined on the product %s or on its category", e.ProductName)
}

// Is lets errors.Is match the sentinel.
func (e *MissingExpenseAccountError) Is(target error) bool {
	return target == ErrMissingExpenseAccount
}

// IsConfigurationError reports errors that need catalog data fixed before retry.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrMissingAccountingConfiguration) || errors.Is(err, ErrMissingExpenseAccount)
}

func formatAnchor(id int64) string {
	if id == 0 {
		return "<unset>"
	}
	return fmt.Sprintf("%d", id)
}
