package domain

// ============================================================
// Transactions & Users
// ============================================================

// Transaction is a raw ledger entry as stored in the user's transaction document.
// Date is kept as the stored string; the recurrence detector parses it.
type Transaction struct {
	ID     string  `json:"id,omitempty"`
	Email  string  `json:"email,omitempty"`
	Name   string  `json:"name"`
	Date   string  `json:"date"`
	Amount float64 `json:"amount"`
}

// User is an entry of the user directory.
type User struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// DisplayName returns "First Last", trimmed when either part is missing.
func (u User) DisplayName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}
