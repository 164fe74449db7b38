package services

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/Buzz-brain/dpi-backend/internal/models"
)

func newTransferService(t *testing.T) (*TransferService, sqlmock.Sqlmock, *MockIdentity, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)

	identity := &MockIdentity{}
	wallets := NewWalletService(db, nil, identity)
	return NewTransferService(db, wallets, identity), mock, identity, func() { db.Close() }
}

func TestTransferService_Transfer(t *testing.T) {
	t.Run("both legs commit together", func(t *testing.T) {
		service, mock, identity, cleanup := newTransferService(t)
		defer cleanup()

		identity.On("ResolveUserByNIN", "22222222222").Return(int64(2), nil)

		mock.ExpectBegin()
		// Sender has the lower id, so it is locked first.
		mock.ExpectQuery("SELECT user_id, balance, version, created_at, updated_at FROM wallets").
			WithArgs(int64(1)).
			WillReturnRows(walletRows(1, 5000, 1))
		mock.ExpectQuery("SELECT user_id, balance, version, created_at, updated_at FROM wallets").
			WithArgs(int64(2)).
			WillReturnRows(walletRows(2, 100, 1))
		mock.ExpectQuery("INSERT INTO ledger_entries").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
		mock.ExpectExec("UPDATE wallets").
			WithArgs(int64(3000), sqlmock.AnyArg(), int64(1), int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("INSERT INTO ledger_entries").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))
		mock.ExpectExec("UPDATE wallets").
			WithArgs(int64(2100), sqlmock.AnyArg(), int64(2), int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("INSERT INTO transactions").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
		mock.ExpectQuery("INSERT INTO transactions").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(12))
		mock.ExpectCommit()

		result, err := service.Transfer(1, "22222222222", 2000, "groceries")
		assert.NoError(t, err)
		assert.Equal(t, int64(3000), result.FromBalance)
		assert.Equal(t, int64(2100), result.ToBalance)
		assert.Equal(t, models.TxnDebit, result.DebitTxn.Kind)
		assert.Equal(t, models.TxnCredit, result.CreditTxn.Kind)
		assert.Contains(t, result.DebitTxn.Reference, "DigiPayG2C-DEB-")
		assert.Contains(t, result.CreditTxn.Reference, "DigiPayG2C-CRD-")
		assert.NotEqual(t, result.DebitTxn.Reference, result.CreditTxn.Reference)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("locks acquired in ascending id order when sender id is higher", func(t *testing.T) {
		service, mock, identity, cleanup := newTransferService(t)
		defer cleanup()

		identity.On("ResolveUserByNIN", "33333333333").Return(int64(3), nil)

		mock.ExpectBegin()
		// Recipient id 3 < sender id 9: recipient row locked first.
		mock.ExpectQuery("SELECT user_id, balance, version, created_at, updated_at FROM wallets").
			WithArgs(int64(3)).
			WillReturnRows(walletRows(3, 0, 1))
		mock.ExpectQuery("SELECT user_id, balance, version, created_at, updated_at FROM wallets").
			WithArgs(int64(9)).
			WillReturnRows(walletRows(9, 800, 1))
		mock.ExpectQuery("INSERT INTO ledger_entries").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
		mock.ExpectExec("UPDATE wallets").
			WithArgs(int64(300), sqlmock.AnyArg(), int64(9), int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("INSERT INTO ledger_entries").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(4))
		mock.ExpectExec("UPDATE wallets").
			WithArgs(int64(500), sqlmock.AnyArg(), int64(3), int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("INSERT INTO transactions").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(13))
		mock.ExpectQuery("INSERT INTO transactions").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(14))
		mock.ExpectCommit()

		result, err := service.Transfer(9, "33333333333", 500, "")
		assert.NoError(t, err)
		assert.Equal(t, int64(300), result.FromBalance)
		assert.Equal(t, int64(500), result.ToBalance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient funds rolls everything back", func(t *testing.T) {
		service, mock, identity, cleanup := newTransferService(t)
		defer cleanup()

		identity.On("ResolveUserByNIN", "22222222222").Return(int64(2), nil)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT user_id, balance, version, created_at, updated_at FROM wallets").
			WithArgs(int64(1)).
			WillReturnRows(walletRows(1, 100, 1))
		mock.ExpectQuery("SELECT user_id, balance, version, created_at, updated_at FROM wallets").
			WithArgs(int64(2)).
			WillReturnRows(walletRows(2, 0, 1))
		mock.ExpectRollback()

		_, err := service.Transfer(1, "22222222222", 2000, "")
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("self transfer rejected", func(t *testing.T) {
		service, _, identity, cleanup := newTransferService(t)
		defer cleanup()

		identity.On("ResolveUserByNIN", "11111111111").Return(int64(1), nil)

		_, err := service.Transfer(1, "11111111111", 100, "")
		assert.ErrorIs(t, err, ErrSelfTransfer)
	})

	t.Run("unknown recipient", func(t *testing.T) {
		service, _, identity, cleanup := newTransferService(t)
		defer cleanup()

		identity.On("ResolveUserByNIN", "00000000000").Return(int64(0), ErrUserNotFound)

		_, err := service.Transfer(1, "00000000000", 100, "")
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("non-positive amount rejected", func(t *testing.T) {
		service, _, _, cleanup := newTransferService(t)
		defer cleanup()

		_, err := service.Transfer(1, "22222222222", 0, "")
		assert.Error(t, err)
	})

	t.Run("version conflict on credit leg aborts the debit too", func(t *testing.T) {
		service, mock, identity, cleanup := newTransferService(t)
		defer cleanup()

		identity.On("ResolveUserByNIN", "22222222222").Return(int64(2), nil)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT user_id, balance, version, created_at, updated_at FROM wallets").
			WithArgs(int64(1)).
			WillReturnRows(walletRows(1, 5000, 1))
		mock.ExpectQuery("SELECT user_id, balance, version, created_at, updated_at FROM wallets").
			WithArgs(int64(2)).
			WillReturnRows(walletRows(2, 100, 1))
		mock.ExpectQuery("INSERT INTO ledger_entries").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))
		mock.ExpectExec("UPDATE wallets").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("INSERT INTO ledger_entries").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(6))
		mock.ExpectExec("UPDATE wallets").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		_, err := service.Transfer(1, "22222222222", 2000, "")
		assert.ErrorIs(t, err, ErrConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTransferService_SendTransaction(t *testing.T) {
	t.Run("invalid body", func(t *testing.T) {
		service, _, _, cleanup := newTransferService(t)
		defer cleanup()

		req := httptest.NewRequest("POST", "/transactions", bytes.NewBufferString("not json"))
		req = req.WithContext(context.WithValue(req.Context(), "userID", int64(1)))
		w := httptest.NewRecorder()

		service.SendTransaction(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("insufficient funds maps to 400", func(t *testing.T) {
		service, mock, identity, cleanup := newTransferService(t)
		defer cleanup()

		identity.On("ResolveUserByNIN", "22222222222").Return(int64(2), nil)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT user_id, balance, version, created_at, updated_at FROM wallets").
			WithArgs(int64(1)).
			WillReturnRows(walletRows(1, 50, 1))
		mock.ExpectQuery("SELECT user_id, balance, version, created_at, updated_at FROM wallets").
			WithArgs(int64(2)).
			WillReturnRows(walletRows(2, 0, 1))
		mock.ExpectRollback()

		body, _ := json.Marshal(map[string]any{"recipient": "22222222222", "amount": 2000})
		req := httptest.NewRequest("POST", "/transactions", bytes.NewBuffer(body))
		req = req.WithContext(context.WithValue(req.Context(), "userID", int64(1)))
		w := httptest.NewRecorder()

		service.SendTransaction(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown recipient maps to 404", func(t *testing.T) {
		service, _, identity, cleanup := newTransferService(t)
		defer cleanup()

		identity.On("ResolveUserByNIN", "00000000000").Return(int64(0), ErrUserNotFound)

		body, _ := json.Marshal(map[string]any{"recipient": "00000000000", "amount": 100})
		req := httptest.NewRequest("POST", "/transactions", bytes.NewBuffer(body))
		req = req.WithContext(context.WithValue(req.Context(), "userID", int64(1)))
		w := httptest.NewRecorder()

		service.SendTransaction(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestTransferService_ListFor(t *testing.T) {
	service, mock, _, cleanup := newTransferService(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"id", "from_user_id", "to_user_id", "kind", "amount", "description", "reference", "status", "created_at"}).
		AddRow(2, 1, 2, models.TxnCredit, 500, "", "DigiPayG2C-CRD-2025-bbbbbbbb", models.TxnCompleted, time.Now()).
		AddRow(1, 1, 2, models.TxnDebit, 500, "", "DigiPayG2C-DEB-2025-aaaaaaaa", models.TxnCompleted, time.Now())
	mock.ExpectQuery("SELECT id, from_user_id, to_user_id, kind, amount").
		WithArgs(int64(1), 20).
		WillReturnRows(rows)

	txns, err := service.ListFor(1, 20)
	assert.NoError(t, err)
	assert.Len(t, txns, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransferService_SendTransaction_ErrorMapping(t *testing.T) {
	service, _, identity, cleanup := newTransferService(t)
	defer cleanup()

	identity.On("ResolveUserByNIN", "11111111111").Return(int64(1), nil)

	body, _ := json.Marshal(map[string]any{"recipient": "11111111111", "amount": 100})
	req := httptest.NewRequest("POST", "/transactions", bytes.NewBuffer(body))
	req = req.WithContext(context.WithValue(req.Context(), "userID", int64(1)))
	w := httptest.NewRecorder()

	service.SendTransaction(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var response ErrorResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.NotEmpty(t, response.Error)
}
