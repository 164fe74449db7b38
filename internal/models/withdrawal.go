package models

import "time"

// BankInfo is the payout destination snapshot captured with a withdrawal.
type BankInfo struct {
	AccountName   string `json:"accountName,omitempty" db:"account_name"`
	AccountNumber string `json:"accountNumber,omitempty" db:"account_number" validate:"omitempty,numeric,min=10,max=20"`
	BankName      string `json:"bankName,omitempty" db:"bank_name"`
}

// Withdrawal is one completed wallet withdrawal. The row exists only once
// the paired credit-alert notification has been confirmed; a failed
// notification leaves no Withdrawal behind.
type Withdrawal struct {
	ID        int64     `json:"id" db:"id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	Amount    int64     `json:"amount" db:"amount"`
	BankInfo  BankInfo  `json:"bankInfo"`
	Status    string    `json:"status" db:"status"`
	Reference string    `json:"reference" db:"reference"`
	Note      string    `json:"note,omitempty" db:"note"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
