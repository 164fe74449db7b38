package models

import "time"

// Ledger entry kinds. The sign of an entry is implied by its kind: debit
// kinds reduce the wallet balance, credit kinds increase it.
const (
	EntryTransferOut        = "transfer_out"
	EntryTransferIn         = "transfer_in"
	EntryWithdrawal         = "withdrawal"
	EntryTopup              = "topup"
	EntryDisbursementCredit = "disbursement_credit"
)

// Wallet holds one user's current balance. Amounts are in minor units
// (kobo). The full event history lives in ledger_entries, keyed by user_id.
type Wallet struct {
	UserID    int64     `json:"user_id" db:"user_id"`
	Balance   int64     `json:"balance" db:"balance"`
	Version   int64     `json:"-" db:"version"` // for optimistic locking
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// LedgerEntry is one append-only record of a balance-affecting event.
// Amount is an unsigned magnitude; SignedAmount applies the kind's sign.
type LedgerEntry struct {
	ID             int64     `json:"id" db:"id"`
	UserID         int64     `json:"user_id" db:"user_id"`
	Kind           string    `json:"kind" db:"kind"`
	Amount         int64     `json:"amount" db:"amount"`
	CounterpartyID *int64    `json:"counterparty_id,omitempty" db:"counterparty_id"`
	Reference      string    `json:"reference,omitempty" db:"reference"`
	Note           string    `json:"note,omitempty" db:"note"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// IsDebitKind reports whether entries of the given kind reduce the balance.
func IsDebitKind(kind string) bool {
	switch kind {
	case EntryTransferOut, EntryWithdrawal:
		return true
	}
	return false
}

// SignedAmount returns the entry's amount with the sign implied by its kind.
func (e *LedgerEntry) SignedAmount() int64 {
	if IsDebitKind(e.Kind) {
		return -e.Amount
	}
	return e.Amount
}
