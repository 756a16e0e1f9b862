package valuation

import "sort"

// firstSet returns the first non-zero id, or zero when none is set.
func firstSet(candidates ...int64) int64 {
	for _, id := range candidates {
		if id != 0 {
			return id
		}
	}
	return 0
}

// ResolveAccounts resolves the input, output and valuation accounts and the
// stock journal for product. A non-nil location contributes its valuation
// override, which takes precedence over product and category.
func ResolveAccounts(product Product, location *Location) (Accounts, error) {
	var locationValuation int64
	if location != nil {
		locationValuation = location.ValuationAccountID
	}
	accounts := Accounts{
		InputAccountID:     firstSet(product.InputAccountID, product.Category.InputAccountID),
		OutputAccountID:    firstSet(product.OutputAccountID, product.Category.OutputAccountID),
		ValuationAccountID: firstSet(locationValuation, product.ValuationAccountID, product.Category.ValuationAccountID),
		JournalID:          firstSet(product.Category.JournalID),
	}

	var missing []string
	if accounts.InputAccountID == 0 {
		missing = append(missing, FieldInputAccount)
	}
	if accounts.OutputAccountID == 0 {
		missing = append(missing, FieldOutputAccount)
	}
	if accounts.ValuationAccountID == 0 {
		missing = append(missing, FieldValuationAccount)
	}
	if accounts.JournalID == 0 {
		missing = append(missing, FieldJournal)
	}
	if len(missing) > 0 {
		return Accounts{}, &MissingAccountingConfigurationError{
			ProductID:   product.ID,
			ProductName: product.Name,
			Missing:     missing,
			Resolved:    accounts,
		}
	}
	return accounts, nil
}

// CounterpartAccount resolves the expense account absorbing a price change.
func CounterpartAccount(product Product) (int64, error) {
	account := firstSet(product.ExpenseAccountID, product.Category.ExpenseAccountID)
	if account == 0 {
		return 0, &MissingExpenseAccountError{ProductID: product.ID, ProductName: product.Name}
	}
	return account, nil
}

// GroupByValuationAccount maps valuation accounts to the products valued in
// them. Products without a valuation account are left out.
func GroupByValuationAccount(products []Product) map[int64][]int64 {
	groups := make(map[int64][]int64)
	for _, product := range products {
		account := firstSet(product.ValuationAccountID, product.Category.ValuationAccountID)
		if account == 0 {
			continue
		}
		groups[account] = append(groups[account], product.ID)
	}
	for account := range groups {
		ids := groups[account]
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}
	return groups
}
