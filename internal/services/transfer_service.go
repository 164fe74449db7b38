package services

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Buzz-brain/dpi-backend/internal/models"
)

// TransferService moves funds between two wallets atomically: two ledger
// entries, two balance updates and two Transaction rows commit together or
// not at all.
type TransferService struct {
	db        *sql.DB
	wallets   *WalletService
	identity  IdentityResolver
	validator *ValidationHelper
}

func NewTransferService(db *sql.DB, wallets *WalletService, identity IdentityResolver) *TransferService {
	return &TransferService{
		db:        db,
		wallets:   wallets,
		identity:  identity,
		validator: NewValidationHelper(),
	}
}

// TransferResult carries both legs of a completed transfer plus the
// post-transfer balances.
type TransferResult struct {
	DebitTxn    *models.Transaction `json:"debitTransaction"`
	CreditTxn   *models.Transaction `json:"creditTransaction"`
	FromBalance int64               `json:"fromBalance"`
	ToBalance   int64               `json:"toBalance"`
}

// Transfer debits the sender and credits the recipient (addressed by NIN) in
// one database transaction. Both wallet rows are locked in ascending user-id
// order so opposing transfers between the same pair cannot deadlock.
func (ts *TransferService) Transfer(fromUserID int64, recipientNIN string, amount int64, description string) (*TransferResult, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}

	toUserID, err := ts.identity.ResolveUserByNIN(recipientNIN)
	if err != nil {
		return nil, err
	}
	if toUserID == fromUserID {
		return nil, ErrSelfTransfer
	}

	tx, err := ts.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Lock wallets in consistent order to prevent deadlocks
	firstLock, secondLock := fromUserID, toUserID
	if fromUserID > toUserID {
		firstLock, secondLock = toUserID, fromUserID
	}

	first, err := ts.wallets.lockWallet(tx, firstLock)
	if err != nil {
		return nil, err
	}
	second, err := ts.wallets.lockWallet(tx, secondLock)
	if err != nil {
		return nil, err
	}

	fromWallet, toWallet := first, second
	if firstLock != fromUserID {
		fromWallet, toWallet = second, first
	}

	if fromWallet.Balance < amount {
		return nil, ErrInsufficientFunds
	}

	debitEntry := &models.LedgerEntry{
		Kind:           models.EntryTransferOut,
		Amount:         amount,
		CounterpartyID: &toUserID,
		Note:           description,
	}
	fromWallet, err = ts.wallets.applyToLocked(tx, fromWallet, debitEntry)
	if err != nil {
		return nil, err
	}

	creditEntry := &models.LedgerEntry{
		Kind:           models.EntryTransferIn,
		Amount:         amount,
		CounterpartyID: &fromUserID,
		Note:           description,
	}
	toWallet, err = ts.wallets.applyToLocked(tx, toWallet, creditEntry)
	if err != nil {
		return nil, err
	}

	debitTxn, err := ts.insertTransaction(tx, fromUserID, toUserID, models.TxnDebit, amount, description, NewReference(RefTransferDebit))
	if err != nil {
		return nil, err
	}
	creditTxn, err := ts.insertTransaction(tx, fromUserID, toUserID, models.TxnCredit, amount, description, NewReference(RefTransferCredit))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &TransferResult{
		DebitTxn:    debitTxn,
		CreditTxn:   creditTxn,
		FromBalance: fromWallet.Balance,
		ToBalance:   toWallet.Balance,
	}, nil
}

func (ts *TransferService) insertTransaction(tx *sql.Tx, fromUserID, toUserID int64, kind string, amount int64, description, reference string) (*models.Transaction, error) {
	txn := &models.Transaction{
		FromUserID:  fromUserID,
		ToUserID:    toUserID,
		Kind:        kind,
		Amount:      amount,
		Description: description,
		Reference:   reference,
		Status:      models.TxnCompleted,
		CreatedAt:   time.Now(),
	}
	err := tx.QueryRow(`
		INSERT INTO transactions (from_user_id, to_user_id, kind, amount, description, reference, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, txn.FromUserID, txn.ToUserID, txn.Kind, txn.Amount, txn.Description, txn.Reference, txn.Status, txn.CreatedAt).Scan(&txn.ID)
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// ListFor returns the user's transactions, newest first.
func (ts *TransferService) ListFor(userID int64, limit int) ([]models.Transaction, error) {
	rows, err := ts.db.Query(`
		SELECT id, from_user_id, to_user_id, kind, amount, COALESCE(description, ''), reference, status, created_at
		FROM transactions
		WHERE from_user_id = $1 OR to_user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txns := []models.Transaction{}
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.FromUserID, &t.ToUserID, &t.Kind, &t.Amount, &t.Description, &t.Reference, &t.Status, &t.CreatedAt); err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// FetchByReference returns one transaction by its unique reference.
func (ts *TransferService) FetchByReference(reference string) (*models.Transaction, error) {
	t := &models.Transaction{}
	err := ts.db.QueryRow(`
		SELECT id, from_user_id, to_user_id, kind, amount, COALESCE(description, ''), reference, status, created_at
		FROM transactions
		WHERE reference = $1
	`, reference).Scan(&t.ID, &t.FromUserID, &t.ToUserID, &t.Kind, &t.Amount, &t.Description, &t.Reference, &t.Status, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// HTTP handlers

// SendTransaction handles a peer transfer
// @Summary Send funds to another user
// @Description Transfer funds to a recipient addressed by NIN
// @Tags transactions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{recipient=string,amount=int64,description=string} true "Transfer request"
// @Success 201 {object} services.TransferResult
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /transactions [post]
func (ts *TransferService) SendTransaction(w http.ResponseWriter, r *http.Request) {
	fromUserID, ok := CallerID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Recipient   string `json:"recipient" validate:"required"`
		Amount      int64  `json:"amount" validate:"required,gt=0"`
		Description string `json:"description" validate:"omitempty,max=500"`
	}
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := ts.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	result, err := ts.Transfer(fromUserID, req.Recipient, req.Amount, req.Description)
	if err != nil {
		switch {
		case errors.Is(err, ErrUserNotFound):
			SendErrorResponse(w, "Recipient not found", http.StatusNotFound, nil)
		case errors.Is(err, ErrWalletNotFound):
			SendErrorResponse(w, "Wallet not found", http.StatusNotFound, nil)
		case errors.Is(err, ErrSelfTransfer):
			SendErrorResponse(w, "Cannot transfer to self", http.StatusBadRequest, nil)
		case errors.Is(err, ErrInsufficientFunds):
			SendErrorResponse(w, "Insufficient balance", http.StatusBadRequest, nil)
		case errors.Is(err, ErrConflict):
			SendErrorResponse(w, "Wallet busy, please retry", http.StatusConflict, nil)
		default:
			log.Printf("[TRANSFER] Transfer failed for user %d: %v", fromUserID, err)
			SendErrorResponse(w, "Transfer failed", http.StatusInternalServerError, nil)
		}
		return
	}

	log.Printf("[TRANSFER] Transfer completed: %s / %s", result.DebitTxn.Reference, result.CreditTxn.Reference)
	SendJSONResponse(w, http.StatusCreated, map[string]any{
		"message":      "Transfer successful",
		"transactions": []*models.Transaction{result.DebitTxn, result.CreditTxn},
		"balances": map[string]int64{
			"from": result.FromBalance,
			"to":   result.ToBalance,
		},
	})
}

// GetTransactions lists the caller's transactions
// @Summary List transactions
// @Tags transactions
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{transactions=[]models.Transaction,count=int}
// @Router /transactions [get]
func (ts *TransferService) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := CallerID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	txns, err := ts.ListFor(userID, 50)
	if err != nil {
		log.Printf("[TRANSFER] Failed to fetch transactions for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	SendJSONResponse(w, http.StatusOK, map[string]any{
		"transactions": txns,
		"count":        len(txns),
	})
}

// GetTransaction retrieves one transaction by reference
// @Summary Get transaction by reference
// @Tags transactions
// @Produce json
// @Security BearerAuth
// @Param reference path string true "Transaction reference"
// @Success 200 {object} models.Transaction
// @Failure 404 {object} services.ErrorResponse
// @Router /transactions/{reference} [get]
func (ts *TransferService) GetTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := CallerID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	reference := chi.URLParam(r, "reference")
	txn, err := ts.FetchByReference(reference)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to fetch transaction", http.StatusInternalServerError, nil)
		return
	}
	if txn.FromUserID != userID && txn.ToUserID != userID {
		SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
		return
	}

	SendJSONResponse(w, http.StatusOK, txn)
}
