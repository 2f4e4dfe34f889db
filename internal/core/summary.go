package core

// CategoryAmount is an expense total aggregated by category name.
type CategoryAmount struct {
	Name   string
	Amount Money
}

// MonthPoint is one point of the income/expense time series.
type MonthPoint struct {
	Year    int
	Month   int // 1-12
	Income  Money
	Expense Money
}

// Overview is the dashboard summary: ledger-wide totals plus the
// per-account balances behind them.
type Overview struct {
	TotalIncome  Money
	TotalExpense Money
	Net          Money
	Accounts     []Account
}
