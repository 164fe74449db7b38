package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"

	"github.com/Buzz-brain/dpi-backend/internal/models"
)

func walletRows(userID, balance, version int64) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"user_id", "balance", "version", "created_at", "updated_at"}).
		AddRow(userID, balance, version, now, now)
}

func TestWalletService_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewWalletService(db, nil, &MockIdentity{})

	t.Run("existing wallet", func(t *testing.T) {
		mock.ExpectQuery("SELECT user_id, balance, version, created_at, updated_at FROM wallets").
			WithArgs(int64(1)).
			WillReturnRows(walletRows(1, 5000, 3))

		w, err := service.Get(1)
		assert.NoError(t, err)
		assert.Equal(t, int64(5000), w.Balance)
		assert.Equal(t, int64(3), w.Version)
	})

	t.Run("missing wallet", func(t *testing.T) {
		mock.ExpectQuery("SELECT user_id, balance, version, created_at, updated_at FROM wallets").
			WithArgs(int64(99)).
			WillReturnError(sql.ErrNoRows)

		_, err := service.Get(99)
		assert.ErrorIs(t, err, ErrWalletNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletService_CreateIfAbsent(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewWalletService(db, nil, &MockIdentity{})

	t.Run("already exists", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO wallets").
			WithArgs(int64(7), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT user_id, balance, version, created_at, updated_at FROM wallets").
			WithArgs(int64(7)).
			WillReturnRows(walletRows(7, 1200, 5))

		w, err := service.CreateIfAbsent(7)
		assert.NoError(t, err)
		assert.Equal(t, int64(1200), w.Balance)
	})

	t.Run("created fresh", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO wallets").
			WithArgs(int64(8), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectQuery("SELECT user_id, balance, version, created_at, updated_at FROM wallets").
			WithArgs(int64(8)).
			WillReturnRows(walletRows(8, 0, 1))

		w, err := service.CreateIfAbsent(8)
		assert.NoError(t, err)
		assert.Equal(t, int64(0), w.Balance)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletService_ApplyEntry(t *testing.T) {
	t.Run("credit moves balance and appends entry", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewWalletService(db, nil, &MockIdentity{})

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT user_id, balance, version, created_at, updated_at FROM wallets").
			WithArgs(int64(1)).
			WillReturnRows(walletRows(1, 1000, 2))
		mock.ExpectQuery("INSERT INTO ledger_entries").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(10))
		mock.ExpectExec("UPDATE wallets").
			WithArgs(int64(1500), sqlmock.AnyArg(), int64(1), int64(2)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		entry := &models.LedgerEntry{Kind: models.EntryTopup, Amount: 500}
		w, err := service.ApplyEntry(1, entry)
		assert.NoError(t, err)
		assert.Equal(t, int64(1500), w.Balance)
		assert.Equal(t, int64(3), w.Version)
		assert.Equal(t, int64(10), entry.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("debit below zero is rejected before any write", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewWalletService(db, nil, &MockIdentity{})

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT user_id, balance, version, created_at, updated_at FROM wallets").
			WithArgs(int64(1)).
			WillReturnRows(walletRows(1, 300, 1))
		mock.ExpectRollback()

		_, err = service.ApplyEntry(1, &models.LedgerEntry{Kind: models.EntryWithdrawal, Amount: 500})
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale version surfaces conflict", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewWalletService(db, nil, &MockIdentity{})

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT user_id, balance, version, created_at, updated_at FROM wallets").
			WithArgs(int64(1)).
			WillReturnRows(walletRows(1, 1000, 4))
		mock.ExpectQuery("INSERT INTO ledger_entries").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
		mock.ExpectExec("UPDATE wallets").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		_, err = service.ApplyEntry(1, &models.LedgerEntry{Kind: models.EntryTopup, Amount: 100})
		assert.ErrorIs(t, err, ErrConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWalletService_Topup(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewWalletService(db, nil, &MockIdentity{})

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT user_id, balance, version, created_at, updated_at FROM wallets").
		WithArgs(int64(3)).
		WillReturnRows(walletRows(3, 100, 1))
	mock.ExpectQuery("INSERT INTO ledger_entries").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(21))
	mock.ExpectExec("UPDATE wallets").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO transactions").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(31))
	mock.ExpectCommit()

	txn, w, err := service.Topup(3, 900, "salary")
	assert.NoError(t, err)
	assert.Equal(t, int64(1000), w.Balance)
	assert.Equal(t, models.TxnTopup, txn.Kind)
	assert.Contains(t, txn.Reference, "DigiPayG2C-TOP-")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletService_GetReceiveQR(t *testing.T) {
	db, _, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	redisClient, redisMock := redismock.NewClientMock()
	identity := &MockIdentity{}
	identity.On("NINFor", int64(5)).Return("12345678901", nil)

	service := NewWalletService(db, redisClient, identity)

	payload, _ := json.Marshal(map[string]any{"recipient": "12345678901", "v": 1})
	redisMock.ExpectSet("receive_qr:5", payload, 24*time.Hour).SetVal("OK")

	req := httptest.NewRequest("GET", "/wallet/receive-qr", nil)
	req = req.WithContext(context.WithValue(req.Context(), "userID", int64(5)))
	w := httptest.NewRecorder()

	service.GetReceiveQR(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var response map[string]any
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "12345678901", response["nin"])
	assert.NotEmpty(t, response["qrImage"])
	identity.AssertExpectations(t)
}

func TestWalletService_GetBalanceHandler(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewWalletService(db, nil, &MockIdentity{})

	t.Run("unauthorized without caller", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/wallet/balance", nil)
		w := httptest.NewRecorder()

		service.GetBalance(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("returns balance", func(t *testing.T) {
		mock.ExpectQuery("SELECT user_id, balance, version, created_at, updated_at FROM wallets").
			WithArgs(int64(2)).
			WillReturnRows(walletRows(2, 2500, 1))

		req := httptest.NewRequest("GET", "/wallet/balance", nil)
		req = req.WithContext(context.WithValue(req.Context(), "userID", int64(2)))
		w := httptest.NewRecorder()

		service.GetBalance(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var response map[string]any
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, float64(2500), response["balance"])
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
