package domain

// Product is a stock ledger entry as exposed to inventory administration.
type Product struct {
	ID        string
	Name      string
	Available int
	UnitsSold int
}
