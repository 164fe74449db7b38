package services

import "errors"

// Business errors returned by the fund-movement coordinators. Validation and
// business-rule errors are returned before any state change; ErrConflict
// signals lost-update contention and is safe to retry.
var (
	ErrWalletNotFound     = errors.New("wallet not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrBatchNotFound      = errors.New("disbursement batch not found")
	ErrInsufficientFunds  = errors.New("insufficient wallet balance")
	ErrSelfTransfer       = errors.New("cannot transfer to self")
	ErrConflict           = errors.New("wallet was modified concurrently")
	ErrNoBeneficiaries    = errors.New("no beneficiaries match the selected filters")
	ErrBatchNotRetryable  = errors.New("batch is still being processed")
	ErrNotificationFailed = errors.New("withdrawal failed: notification undeliverable")
)
