package models

import "time"

// Transaction kinds and statuses.
const (
	TxnDebit        = "debit"
	TxnCredit       = "credit"
	TxnWithdrawal   = "withdrawal"
	TxnTopup        = "topup"
	TxnDisbursement = "disbursement"

	TxnCompleted = "completed"
	TxnFailed    = "failed"
)

// Transaction is the user/audit-visible record of one economic event. A peer
// transfer produces exactly two rows (a debit owned by the sender and a
// credit owned by the receiver, each with its own reference); a withdrawal
// produces one. Rows are immutable once status is completed.
type Transaction struct {
	ID          int64     `json:"id" db:"id"`
	FromUserID  int64     `json:"from" db:"from_user_id"`
	ToUserID    int64     `json:"to" db:"to_user_id"`
	Kind        string    `json:"type" db:"kind"`
	Amount      int64     `json:"amount" db:"amount"`
	Description string    `json:"description" db:"description"`
	Reference   string    `json:"reference" db:"reference"`
	Status      string    `json:"status" db:"status"`
	CreatedAt   time.Time `json:"date" db:"created_at"`
}
