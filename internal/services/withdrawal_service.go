package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/Buzz-brain/dpi-backend/internal/config"
	"github.com/Buzz-brain/dpi-backend/internal/models"
)

// WithdrawalService runs the compensating-transaction withdrawal protocol:
// the debit is committed first, then the credit-alert notification is
// attempted with a bounded timeout, and a delivery failure rolls everything
// back. Notification delivery is a condition of the withdrawal's success.
type WithdrawalService struct {
	db         *sql.DB
	wallets    *WalletService
	identity   IdentityResolver
	mailer     Mailer
	settlement *SettlementService
	cfg        *config.WithdrawalConfig
	validator  *ValidationHelper
}

func NewWithdrawalService(db *sql.DB, wallets *WalletService, identity IdentityResolver, mailer Mailer, cfg *config.WithdrawalConfig) *WithdrawalService {
	if cfg == nil {
		cfg = config.LoadWithdrawalConfig()
	}
	return &WithdrawalService{
		db:         db,
		wallets:    wallets,
		identity:   identity,
		mailer:     mailer,
		settlement: NewSettlementService(),
		cfg:        cfg,
		validator:  NewValidationHelper(),
	}
}

// errRecordsFailed marks a fault writing the withdrawal's own records. It is
// compensated like an undeliverable alert but reported as an internal fault.
var errRecordsFailed = errors.New("could not record withdrawal")

// Withdraw debits the wallet, records the Transaction and Withdrawal rows,
// and delivers the credit alert. Any failure after the debit is compensated
// away; an undeliverable alert returns ErrNotificationFailed, a record fault
// returns errRecordsFailed. No partial state survives either way.
func (s *WithdrawalService) Withdraw(ctx context.Context, userID, amount int64, bankInfo models.BankInfo, note string) (*models.Withdrawal, *models.Transaction, error) {
	if amount < 1 {
		return nil, nil, fmt.Errorf("amount must be at least 1")
	}

	reference := NewReference(RefWithdrawal)

	// Step 1: durable debit.
	entry := &models.LedgerEntry{
		Kind:      models.EntryWithdrawal,
		Amount:    amount,
		Reference: reference,
		Note:      note,
	}
	wallet, err := s.wallets.ApplyEntry(userID, entry)
	if err != nil {
		return nil, nil, err
	}
	balanceBefore := wallet.Balance + amount

	fail := func(sentinel, cause error) (*models.Withdrawal, *models.Transaction, error) {
		if cerr := s.compensate(userID, entry.ID, amount, reference); cerr != nil {
			log.Printf("[WITHDRAWAL] Compensation failed for ref %s: %v", reference, cerr)
			return nil, nil, fmt.Errorf("compensation failed after %v: %w", cause, cerr)
		}
		log.Printf("[WITHDRAWAL] Withdrawal rolled back for user %d, ref %s: %v", userID, reference, cause)
		return nil, nil, fmt.Errorf("%w: %v", sentinel, cause)
	}

	// Step 2: transaction + withdrawal records.
	txn, wd, err := s.insertRecords(userID, amount, bankInfo, note, reference)
	if err != nil {
		return fail(errRecordsFailed, err)
	}

	// Step 3: notification gate.
	contact, err := s.identity.ResolveContact(userID)
	if err != nil {
		return fail(ErrNotificationFailed, fmt.Errorf("no contact address: %w", err))
	}

	subject, body := CreditAlertBody(contact.DisplayName, amount, reference, balanceBefore, wallet.Balance)
	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.NotifyTimeout)
	defer cancel()
	if err := s.mailer.Send(sendCtx, contact.EmailAddress, subject, body); err != nil {
		return fail(ErrNotificationFailed, err)
	}
	log.Printf("[WITHDRAWAL] Email sent to %s for withdrawal ref %s", contact.EmailAddress, reference)

	// Bank payout instruction; logged hand-off, never gates the withdrawal.
	if doc, derr := s.settlement.CreatePayoutInstruction(wd, contact.DisplayName); derr == nil {
		if serr := s.settlement.SendToSettlement(doc); serr != nil {
			log.Printf("[WITHDRAWAL] Settlement hand-off failed for ref %s: %v", reference, serr)
		}
	}

	log.Printf("[WITHDRAWAL] Withdrawal completed for user %d, ref %s", userID, reference)
	return wd, txn, nil
}

func (s *WithdrawalService) insertRecords(userID, amount int64, bankInfo models.BankInfo, note, reference string) (*models.Transaction, *models.Withdrawal, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	now := time.Now()
	txn := &models.Transaction{
		FromUserID:  userID,
		ToUserID:    userID,
		Kind:        models.TxnWithdrawal,
		Amount:      amount,
		Description: note,
		Reference:   reference,
		Status:      models.TxnCompleted,
		CreatedAt:   now,
	}
	err = tx.QueryRow(`
		INSERT INTO transactions (from_user_id, to_user_id, kind, amount, description, reference, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, txn.FromUserID, txn.ToUserID, txn.Kind, txn.Amount, txn.Description, txn.Reference, txn.Status, txn.CreatedAt).Scan(&txn.ID)
	if err != nil {
		return nil, nil, err
	}

	wd := &models.Withdrawal{
		UserID:    userID,
		Amount:    amount,
		BankInfo:  bankInfo,
		Status:    models.TxnCompleted,
		Reference: reference,
		Note:      note,
		CreatedAt: now,
	}
	err = tx.QueryRow(`
		INSERT INTO withdrawals (user_id, amount, account_name, account_number, bank_name, status, reference, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, wd.UserID, wd.Amount, wd.BankInfo.AccountName, wd.BankInfo.AccountNumber, wd.BankInfo.BankName, wd.Status, wd.Reference, wd.Note, wd.CreatedAt).Scan(&wd.ID)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return txn, wd, nil
}

// compensate restores the wallet to its pre-attempt state: the balance comes
// back, the just-appended ledger entry is removed, and any Transaction or
// Withdrawal rows created under the reference are deleted. Retried a bounded
// number of times before giving up.
func (s *WithdrawalService) compensate(userID, entryID, amount int64, reference string) error {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.CompensateAttempts; attempt++ {
		if lastErr = s.compensateOnce(userID, entryID, amount, reference); lastErr == nil {
			return nil
		}
		log.Printf("[WITHDRAWAL] Compensation attempt %d/%d failed for ref %s: %v",
			attempt, s.cfg.CompensateAttempts, reference, lastErr)
		time.Sleep(s.cfg.CompensateBackoff * time.Duration(attempt))
	}
	return lastErr
}

func (s *WithdrawalService) compensateOnce(userID, entryID, amount int64, reference string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	wallet, err := s.wallets.lockWallet(tx, userID)
	if err != nil {
		return err
	}

	result, err := tx.Exec(`
		UPDATE wallets
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE user_id = $3 AND version = $4
	`, wallet.Balance+amount, time.Now(), userID, wallet.Version)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("wallet %d: %w", userID, ErrConflict)
	}

	if _, err := tx.Exec(`DELETE FROM ledger_entries WHERE id = $1`, entryID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM transactions WHERE reference = $1`, reference); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM withdrawals WHERE reference = $1`, reference); err != nil {
		return err
	}

	return tx.Commit()
}

// ListFor returns the user's withdrawals, newest first.
func (s *WithdrawalService) ListFor(userID int64, limit int) ([]models.Withdrawal, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, amount, COALESCE(account_name, ''), COALESCE(account_number, ''), COALESCE(bank_name, ''),
		       status, reference, COALESCE(note, ''), created_at
		FROM withdrawals
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []models.Withdrawal{}
	for rows.Next() {
		var wd models.Withdrawal
		if err := rows.Scan(&wd.ID, &wd.UserID, &wd.Amount, &wd.BankInfo.AccountName, &wd.BankInfo.AccountNumber,
			&wd.BankInfo.BankName, &wd.Status, &wd.Reference, &wd.Note, &wd.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, wd)
	}
	return list, rows.Err()
}

// HTTP handlers

// CreateWithdrawal processes a withdrawal
// @Summary Withdraw funds
// @Description Debit the caller's wallet; succeeds only if the credit alert is delivered
// @Tags withdrawals
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{amount=int64,bankInfo=models.BankInfo,note=string} true "Withdrawal request"
// @Success 201 {object} object{withdrawal=models.Withdrawal,transaction=models.Transaction}
// @Failure 400 {object} services.ErrorResponse
// @Failure 502 {object} services.ErrorResponse
// @Router /withdrawals [post]
func (s *WithdrawalService) CreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	userID, ok := CallerID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Amount   int64           `json:"amount" validate:"required,gte=1"`
		BankInfo models.BankInfo `json:"bankInfo"`
		Note     string          `json:"note" validate:"omitempty,max=500"`
	}
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	wd, txn, err := s.Withdraw(r.Context(), userID, req.Amount, req.BankInfo, req.Note)
	if err != nil {
		switch {
		case errors.Is(err, ErrWalletNotFound):
			SendErrorResponse(w, "Wallet not found", http.StatusNotFound, nil)
		case errors.Is(err, ErrInsufficientFunds):
			SendErrorResponse(w, "Insufficient wallet balance", http.StatusBadRequest, nil)
		case errors.Is(err, ErrNotificationFailed):
			SendErrorResponse(w, "Withdrawal failed: could not deliver alert. No funds were deducted.", http.StatusBadGateway, nil)
		case errors.Is(err, errRecordsFailed):
			log.Printf("[WITHDRAWAL] Record fault for user %d: %v", userID, err)
			SendErrorResponse(w, "Withdrawal failed. No funds were deducted.", http.StatusInternalServerError, nil)
		case errors.Is(err, ErrConflict):
			SendErrorResponse(w, "Wallet busy, please retry", http.StatusConflict, nil)
		default:
			log.Printf("[WITHDRAWAL] Withdrawal failed for user %d: %v", userID, err)
			SendErrorResponse(w, "Withdrawal failed", http.StatusInternalServerError, nil)
		}
		return
	}

	SendJSONResponse(w, http.StatusCreated, map[string]any{
		"message":     "Withdrawal processed",
		"withdrawal":  wd,
		"transaction": txn,
	})
}

// GetWithdrawals lists the caller's withdrawals
// @Summary List withdrawals
// @Tags withdrawals
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.Withdrawal
// @Router /withdrawals [get]
func (s *WithdrawalService) GetWithdrawals(w http.ResponseWriter, r *http.Request) {
	userID, ok := CallerID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	list, err := s.ListFor(userID, 50)
	if err != nil {
		log.Printf("[WITHDRAWAL] Failed to fetch withdrawals for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch withdrawals", http.StatusInternalServerError, nil)
		return
	}

	SendJSONResponse(w, http.StatusOK, list)
}
