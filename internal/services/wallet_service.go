package services

import (
	"bytes"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/skip2/go-qrcode"

	"github.com/Buzz-brain/dpi-backend/internal/models"
)

// WalletService is the wallet store: one balance row per user plus an
// append-only ledger_entries table. All balance mutations go through
// ApplyEntry/ApplyEntryTx, which hold a row lock for the read-modify-write
// so concurrent debits against one wallet serialize.
type WalletService struct {
	db        *sql.DB
	redis     *redis.Client
	identity  IdentityResolver
	validator *ValidationHelper
}

func NewWalletService(db *sql.DB, redisClient *redis.Client, identity IdentityResolver) *WalletService {
	return &WalletService{
		db:        db,
		redis:     redisClient,
		identity:  identity,
		validator: NewValidationHelper(),
	}
}

// Get returns the wallet for userID or ErrWalletNotFound.
func (ws *WalletService) Get(userID int64) (*models.Wallet, error) {
	w := &models.Wallet{}
	err := ws.db.QueryRow(`
		SELECT user_id, balance, version, created_at, updated_at
		FROM wallets
		WHERE user_id = $1
	`, userID).Scan(&w.UserID, &w.Balance, &w.Version, &w.CreatedAt, &w.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

// CreateIfAbsent creates a zero-balance wallet for userID if none exists and
// returns the wallet either way. Safe under concurrent calls.
func (ws *WalletService) CreateIfAbsent(userID int64) (*models.Wallet, error) {
	_, err := ws.db.Exec(`
		INSERT INTO wallets (user_id, balance, version, created_at, updated_at)
		VALUES ($1, 0, 1, $2, $2)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, time.Now())
	if err != nil {
		return nil, err
	}
	return ws.Get(userID)
}

// ApplyEntry atomically appends entry to the user's ledger and moves the
// balance by the entry's signed amount. Debit entries that would take the
// balance negative fail with ErrInsufficientFunds and leave no trace.
func (ws *WalletService) ApplyEntry(userID int64, entry *models.LedgerEntry) (*models.Wallet, error) {
	tx, err := ws.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	w, err := ws.ApplyEntryTx(tx, userID, entry)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return w, nil
}

// ApplyEntryTx is ApplyEntry inside a caller-owned transaction, for
// coordinators that span multiple wallets or tables.
func (ws *WalletService) ApplyEntryTx(tx *sql.Tx, userID int64, entry *models.LedgerEntry) (*models.Wallet, error) {
	w, err := ws.lockWallet(tx, userID)
	if err != nil {
		return nil, err
	}
	return ws.applyToLocked(tx, w, entry)
}

// lockWallet takes the per-wallet exclusive row lock for the duration of the
// surrounding transaction.
func (ws *WalletService) lockWallet(tx *sql.Tx, userID int64) (*models.Wallet, error) {
	w := &models.Wallet{}
	err := tx.QueryRow(`
		SELECT user_id, balance, version, created_at, updated_at
		FROM wallets
		WHERE user_id = $1
		FOR UPDATE
	`, userID).Scan(&w.UserID, &w.Balance, &w.Version, &w.CreatedAt, &w.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

// applyToLocked appends the ledger entry and updates the already-locked
// wallet. The version check turns any lost update into ErrConflict.
func (ws *WalletService) applyToLocked(tx *sql.Tx, w *models.Wallet, entry *models.LedgerEntry) (*models.Wallet, error) {
	newBalance := w.Balance + entry.SignedAmount()
	if models.IsDebitKind(entry.Kind) && newBalance < 0 {
		return nil, ErrInsufficientFunds
	}

	entry.UserID = w.UserID
	entry.CreatedAt = time.Now()
	err := tx.QueryRow(`
		INSERT INTO ledger_entries (user_id, kind, amount, counterparty_id, reference, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, entry.UserID, entry.Kind, entry.Amount, entry.CounterpartyID, entry.Reference, entry.Note, entry.CreatedAt).Scan(&entry.ID)
	if err != nil {
		return nil, err
	}

	result, err := tx.Exec(`
		UPDATE wallets
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE user_id = $3 AND version = $4
	`, newBalance, time.Now(), w.UserID, w.Version)
	if err != nil {
		return nil, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("wallet %d: %w", w.UserID, ErrConflict)
	}

	w.Balance = newBalance
	w.Version++
	return w, nil
}

// Ledger returns a page of the user's ledger, newest first.
func (ws *WalletService) Ledger(userID int64, limit, offset int) ([]models.LedgerEntry, error) {
	rows, err := ws.db.Query(`
		SELECT id, user_id, kind, amount, counterparty_id, COALESCE(reference, ''), COALESCE(note, ''), created_at
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY id DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Kind, &e.Amount, &e.CounterpartyID, &e.Reference, &e.Note, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Topup credits the caller's wallet and records a completed topup
// Transaction in one atomic unit.
func (ws *WalletService) Topup(userID, amount int64, note string) (*models.Transaction, *models.Wallet, error) {
	tx, err := ws.db.Begin()
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	reference := NewReference(RefTopup)
	entry := &models.LedgerEntry{Kind: models.EntryTopup, Amount: amount, Reference: reference, Note: note}
	w, err := ws.ApplyEntryTx(tx, userID, entry)
	if err != nil {
		return nil, nil, err
	}

	txn := &models.Transaction{
		FromUserID:  userID,
		ToUserID:    userID,
		Kind:        models.TxnTopup,
		Amount:      amount,
		Description: note,
		Reference:   reference,
		Status:      models.TxnCompleted,
		CreatedAt:   time.Now(),
	}
	err = tx.QueryRow(`
		INSERT INTO transactions (from_user_id, to_user_id, kind, amount, description, reference, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, txn.FromUserID, txn.ToUserID, txn.Kind, txn.Amount, txn.Description, txn.Reference, txn.Status, txn.CreatedAt).Scan(&txn.ID)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return txn, w, nil
}

// HTTP handlers

// GetBalance returns the caller's wallet balance
// @Summary Get wallet balance
// @Tags wallet
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{balance=int64}
// @Failure 404 {object} services.ErrorResponse
// @Router /wallet/balance [get]
func (ws *WalletService) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := CallerID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	wallet, err := ws.Get(userID)
	if err == ErrWalletNotFound {
		SendErrorResponse(w, "Wallet not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[WALLET] Failed to fetch wallet for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch wallet", http.StatusInternalServerError, nil)
		return
	}

	SendJSONResponse(w, http.StatusOK, map[string]any{
		"balance":   wallet.Balance,
		"updatedAt": wallet.UpdatedAt,
	})
}

// GetLedger returns a page of the caller's ledger
// @Summary Get wallet ledger
// @Tags wallet
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Page size (default 50, max 200)"
// @Param offset query int false "Page offset"
// @Success 200 {object} object{ledger=[]models.LedgerEntry,count=int}
// @Router /wallet/ledger [get]
func (ws *WalletService) GetLedger(w http.ResponseWriter, r *http.Request) {
	userID, ok := CallerID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	limit := 50
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	entries, err := ws.Ledger(userID, limit, offset)
	if err != nil {
		log.Printf("[WALLET] Failed to fetch ledger for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch ledger", http.StatusInternalServerError, nil)
		return
	}

	SendJSONResponse(w, http.StatusOK, map[string]any{
		"ledger": entries,
		"count":  len(entries),
		"limit":  limit,
		"offset": offset,
	})
}

// CreateTopup credits the caller's wallet
// @Summary Top up wallet
// @Tags wallet
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{amount=int64,note=string} true "Topup request"
// @Success 201 {object} object{transaction=models.Transaction,balance=int64}
// @Failure 400 {object} services.ErrorResponse
// @Router /wallet/topup [post]
func (ws *WalletService) CreateTopup(w http.ResponseWriter, r *http.Request) {
	userID, ok := CallerID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Amount int64  `json:"amount" validate:"required,gt=0"`
		Note   string `json:"note" validate:"omitempty,max=500"`
	}
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := ws.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	txn, wallet, err := ws.Topup(userID, req.Amount, req.Note)
	if err == ErrWalletNotFound {
		SendErrorResponse(w, "Wallet not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[WALLET] Topup failed for user %d: %v", userID, err)
		SendErrorResponse(w, "Topup failed", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[WALLET] Topup completed for user %d, ref %s", userID, txn.Reference)
	SendJSONResponse(w, http.StatusCreated, map[string]any{
		"message":     "Topup successful",
		"transaction": txn,
		"balance":     wallet.Balance,
	})
}

// GetReceiveQR returns a QR code other users can scan to address a transfer
// to the caller. The payload carries the caller's NIN, which the transfer
// endpoint accepts as the recipient identifier.
// @Summary Get receive-money QR code
// @Tags wallet
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{qrImage=string,nin=string}
// @Router /wallet/receive-qr [get]
func (ws *WalletService) GetReceiveQR(w http.ResponseWriter, r *http.Request) {
	userID, ok := CallerID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	nin, err := ws.identity.NINFor(userID)
	if err != nil {
		SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		return
	}

	payload, err := json.Marshal(map[string]any{"recipient": nin, "v": 1})
	if err != nil {
		SendErrorResponse(w, "Failed to generate QR", http.StatusInternalServerError, nil)
		return
	}

	if ws.redis != nil {
		key := fmt.Sprintf("receive_qr:%d", userID)
		ws.redis.Set(r.Context(), key, payload, 24*time.Hour)
	}

	qr, err := qrcode.New(string(payload), qrcode.Medium)
	if err != nil {
		SendErrorResponse(w, "Failed to generate QR", http.StatusInternalServerError, nil)
		return
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		SendErrorResponse(w, "Failed to encode QR", http.StatusInternalServerError, nil)
		return
	}

	SendJSONResponse(w, http.StatusOK, map[string]any{
		"nin":     nin,
		"qrImage": base64.StdEncoding.EncodeToString(buf.Bytes()),
	})
}
