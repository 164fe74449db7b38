package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Buzz-brain/dpi-backend/internal/config"
	"github.com/Buzz-brain/dpi-backend/internal/models"
)

// DisbursementService orchestrates bulk government-to-citizen crediting.
// Batch creation is synchronous (beneficiary list frozen and persisted);
// crediting runs out-of-band via a Redis-backed queue and a bounded worker
// pool. Every per-beneficiary outcome is written back as it happens, so a
// batch is resumable from its durable result rows.
type DisbursementService struct {
	db       *sql.DB
	redis    *redis.Client
	wallets  *WalletService
	selector *BeneficiarySelector
	cfg      *config.DisbursementConfig
}

func NewDisbursementService(db *sql.DB, redisClient *redis.Client, wallets *WalletService, selector *BeneficiarySelector, cfg *config.DisbursementConfig) *DisbursementService {
	if cfg == nil {
		cfg = config.LoadDisbursementConfig()
	}
	return &DisbursementService{
		db:       db,
		redis:    redisClient,
		wallets:  wallets,
		selector: selector,
		cfg:      cfg,
	}
}

// CreateBatchRequest is the admin-facing batch creation payload.
type CreateBatchRequest struct {
	BatchName        string                     `json:"batchName" validate:"required,min=3,max=200"`
	Description      string                     `json:"description" validate:"omitempty,max=500"`
	Amount           int64                      `json:"amount" validate:"required,gte=1"`
	DisbursementDate time.Time                  `json:"disbursementDate" validate:"required"`
	Filters          models.DisbursementFilters `json:"filters"`
}

// CreateBatch freezes the beneficiary list for the given filters, persists
// the batch with one pending result row per beneficiary, and queues it for
// background processing.
func (ds *DisbursementService) CreateBatch(createdBy int64, req *CreateBatchRequest) (*models.Disbursement, error) {
	beneficiaries, err := ds.selector.Select(req.Filters)
	if err != nil {
		return nil, err
	}
	if len(beneficiaries) == 0 {
		return nil, ErrNoBeneficiaries
	}

	tx, err := ds.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	batch := &models.Disbursement{
		BatchName:        req.BatchName,
		Description:      req.Description,
		CreatedBy:        createdBy,
		Amount:           req.Amount,
		TotalAmount:      req.Amount * int64(len(beneficiaries)),
		BeneficiaryCount: len(beneficiaries),
		DisbursementDate: req.DisbursementDate,
		Filters:          normalizeFilters(req.Filters),
		Status:           models.BatchPending,
		CreatedAt:        time.Now(),
	}
	err = tx.QueryRow(`
		INSERT INTO disbursements
		(batch_name, description, created_by, amount, total_amount, beneficiary_count, disbursement_date,
		 filter_status, filter_state, filter_occupation, filter_min_balance, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`, batch.BatchName, batch.Description, batch.CreatedBy, batch.Amount, batch.TotalAmount,
		batch.BeneficiaryCount, batch.DisbursementDate, batch.Filters.Status, batch.Filters.State,
		batch.Filters.Occupation, batch.Filters.MinBalance, batch.Status, batch.CreatedAt).Scan(&batch.ID)
	if err != nil {
		return nil, err
	}

	for _, beneficiaryID := range beneficiaries {
		if _, err := tx.Exec(`
			INSERT INTO disbursement_results (disbursement_id, beneficiary_id, status)
			VALUES ($1, $2, $3)
		`, batch.ID, beneficiaryID, models.ResultPending); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	ds.enqueue(batch.ID)
	return batch, nil
}

// Preview returns how many users the filters currently match.
func (ds *DisbursementService) Preview(f models.DisbursementFilters) (int, error) {
	return ds.selector.Count(f)
}

// enqueue hands the batch to the background worker. Without Redis the batch
// is processed on a direct goroutine instead.
func (ds *DisbursementService) enqueue(batchID int64) {
	if ds.redis != nil {
		err := ds.redis.RPush(context.Background(), ds.cfg.QueueName, batchID).Err()
		if err == nil {
			return
		}
		log.Printf("[DISBURSEMENT] Queue push failed for batch %d, processing inline: %v", batchID, err)
	}
	go ds.safeProcess(batchID)
}

// RunWorker consumes the batch queue until ctx is cancelled. Started once
// from main alongside the HTTP server.
func (ds *DisbursementService) RunWorker(ctx context.Context) {
	if ds.redis == nil {
		log.Println("[DISBURSEMENT] Redis unavailable, worker not started (batches process inline)")
		return
	}

	log.Printf("[DISBURSEMENT] Worker started on queue %s", ds.cfg.QueueName)
	for {
		select {
		case <-ctx.Done():
			log.Println("[DISBURSEMENT] Worker stopped")
			return
		default:
		}

		vals, err := ds.redis.BLPop(ctx, ds.cfg.PopTimeout, ds.cfg.QueueName).Result()
		if err == redis.Nil || err == context.Canceled {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[DISBURSEMENT] Queue pop failed: %v", err)
			time.Sleep(time.Second)
			continue
		}

		batchID, err := strconv.ParseInt(vals[1], 10, 64)
		if err != nil {
			log.Printf("[DISBURSEMENT] Discarding malformed queue entry %q", vals[1])
			continue
		}
		ds.safeProcess(batchID)
	}
}

func (ds *DisbursementService) safeProcess(batchID int64) {
	if err := ds.ProcessBatch(batchID); err != nil {
		log.Printf("[DISBURSEMENT] Batch %d processing error: %v", batchID, err)
	}
}

// ProcessBatch drives every still-pending beneficiary of the batch through
// the wallet store. One beneficiary's failure is recorded in its result row
// and never blocks the rest. Only a fault on the batch record itself flips
// the batch to failed.
func (ds *DisbursementService) ProcessBatch(batchID int64) error {
	batch, err := ds.GetBatch(batchID)
	if err != nil {
		ds.markFailed(batchID)
		return err
	}

	now := time.Now()
	_, err = ds.db.Exec(`
		UPDATE disbursements SET status = $1, started_at = $2 WHERE id = $3
	`, models.BatchProcessing, now, batchID)
	if err != nil {
		ds.markFailed(batchID)
		return fmt.Errorf("failed to mark batch processing: %w", err)
	}

	pending, err := ds.pendingResults(batchID)
	if err != nil {
		ds.markFailed(batchID)
		return fmt.Errorf("failed to load batch results: %w", err)
	}

	// Bounded pool: each beneficiary touches only its own wallet and its own
	// result row, so workers cannot conflict with each other.
	sem := make(chan struct{}, ds.cfg.WorkerCount)
	var wg sync.WaitGroup
	for i := range pending {
		result := &pending[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			ds.creditBeneficiary(batch, result)
		}()
	}
	wg.Wait()

	// Recompute aggregates from the result rows in one statement; this is
	// the single serialized write to the batch record after the pass.
	result, err := ds.db.Exec(`
		UPDATE disbursements d
		SET status = $2,
		    success_count = r.successes,
		    failed_count = r.failures,
		    processed_count = r.successes + r.failures,
		    completed_at = $3
		FROM (
			SELECT COUNT(*) FILTER (WHERE status = 'success') AS successes,
			       COUNT(*) FILTER (WHERE status = 'failed') AS failures
			FROM disbursement_results
			WHERE disbursement_id = $1
		) r
		WHERE d.id = $1
	`, batchID, models.BatchCompleted, time.Now())
	if err != nil {
		ds.markFailed(batchID)
		return fmt.Errorf("failed to finalize batch: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("batch %d disappeared during finalize", batchID)
	}

	log.Printf("[DISBURSEMENT] Batch %d completed: %d beneficiaries attempted", batchID, len(pending))
	return nil
}

// creditBeneficiary credits one wallet and records the outcome. A missing
// wallet is created with zero balance, not treated as an error.
func (ds *DisbursementService) creditBeneficiary(batch *models.Disbursement, result *models.DisbursementResult) {
	if err := ds.creditOnce(batch, result); err != nil {
		log.Printf("[DISBURSEMENT] Failed to disburse to beneficiary %d in batch %d: %v",
			result.BeneficiaryID, batch.ID, err)
		ds.markResultFailed(result.ID, err.Error())
	}
}

// creditOnce applies the ledger credit, the transaction record, and the
// success flip of the result row in one SQL transaction. The result row
// update is guarded on pending status, so a row another pass already
// settled rolls the whole credit back.
func (ds *DisbursementService) creditOnce(batch *models.Disbursement, result *models.DisbursementResult) error {
	if _, err := ds.wallets.CreateIfAbsent(result.BeneficiaryID); err != nil {
		return err
	}

	reference := NewReference(RefDisbursement)
	tx, err := ds.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	entry := &models.LedgerEntry{
		Kind:           models.EntryDisbursementCredit,
		Amount:         batch.Amount,
		CounterpartyID: &batch.CreatedBy,
		Reference:      reference,
		Note:           batch.BatchName,
	}
	if _, err := ds.wallets.ApplyEntryTx(tx, result.BeneficiaryID, entry); err != nil {
		return err
	}

	if _, err := tx.Exec(`
		INSERT INTO transactions (from_user_id, to_user_id, kind, amount, description, reference, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, batch.CreatedBy, result.BeneficiaryID, models.TxnDisbursement, batch.Amount, batch.BatchName,
		reference, models.TxnCompleted, time.Now()); err != nil {
		return err
	}

	res, err := tx.Exec(`
		UPDATE disbursement_results
		SET status = $1, error = '', transaction_ref = $2
		WHERE id = $3 AND status = $4
	`, models.ResultSuccess, reference, result.ID, models.ResultPending)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("result %d is no longer pending", result.ID)
	}

	return tx.Commit()
}

// markResultFailed records a failure outcome. Guarded on pending status so
// it never overwrites a settled row.
func (ds *DisbursementService) markResultFailed(resultID int64, errMsg string) {
	_, err := ds.db.Exec(`
		UPDATE disbursement_results
		SET status = $1, error = $2, transaction_ref = ''
		WHERE id = $3 AND status = $4
	`, models.ResultFailed, errMsg, resultID, models.ResultPending)
	if err != nil {
		log.Printf("[DISBURSEMENT] Failed to record result %d: %v", resultID, err)
	}
}

func (ds *DisbursementService) markFailed(batchID int64) {
	if _, err := ds.db.Exec(`UPDATE disbursements SET status = $1 WHERE id = $2`, models.BatchFailed, batchID); err != nil {
		log.Printf("[DISBURSEMENT] Failed to mark batch %d failed: %v", batchID, err)
	}
}

// Retry resets every failed result to pending and requeues the batch.
// Successful results are untouched, so no beneficiary is ever credited
// twice across retries. Only a batch whose previous pass has finished
// (completed or failed) can be retried.
func (ds *DisbursementService) Retry(batchID int64) error {
	batch, err := ds.GetBatch(batchID)
	if err != nil {
		return err
	}
	if batch.Status != models.BatchCompleted && batch.Status != models.BatchFailed {
		return ErrBatchNotRetryable
	}

	tx, err := ds.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		UPDATE disbursement_results
		SET status = $1, error = ''
		WHERE disbursement_id = $2 AND status = $3
	`, models.ResultPending, batchID, models.ResultFailed); err != nil {
		return err
	}

	if _, err := tx.Exec(`
		UPDATE disbursements
		SET status = $1, processed_count = 0, success_count = 0, failed_count = 0, completed_at = NULL
		WHERE id = $2
	`, models.BatchPending, batchID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	ds.enqueue(batchID)
	return nil
}

func (ds *DisbursementService) pendingResults(batchID int64) ([]models.DisbursementResult, error) {
	rows, err := ds.db.Query(`
		SELECT id, disbursement_id, beneficiary_id, status, COALESCE(error, ''), COALESCE(transaction_ref, '')
		FROM disbursement_results
		WHERE disbursement_id = $1 AND status = $2
		ORDER BY id
	`, batchID, models.ResultPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []models.DisbursementResult{}
	for rows.Next() {
		var r models.DisbursementResult
		if err := rows.Scan(&r.ID, &r.DisbursementID, &r.BeneficiaryID, &r.Status, &r.Error, &r.TransactionRef); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// GetBatch returns one batch record or ErrBatchNotFound.
func (ds *DisbursementService) GetBatch(batchID int64) (*models.Disbursement, error) {
	b := &models.Disbursement{}
	err := ds.db.QueryRow(`
		SELECT id, batch_name, COALESCE(description, ''), created_by, amount, total_amount, beneficiary_count,
		       disbursement_date, filter_status, filter_state, filter_occupation, filter_min_balance,
		       status, processed_count, success_count, failed_count, started_at, completed_at, created_at
		FROM disbursements
		WHERE id = $1
	`, batchID).Scan(&b.ID, &b.BatchName, &b.Description, &b.CreatedBy, &b.Amount, &b.TotalAmount,
		&b.BeneficiaryCount, &b.DisbursementDate, &b.Filters.Status, &b.Filters.State,
		&b.Filters.Occupation, &b.Filters.MinBalance, &b.Status, &b.ProcessedCount,
		&b.SuccessCount, &b.FailedCount, &b.StartedAt, &b.CompletedAt, &b.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrBatchNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Results returns every result row of a batch.
func (ds *DisbursementService) Results(batchID int64) ([]models.DisbursementResult, error) {
	rows, err := ds.db.Query(`
		SELECT id, disbursement_id, beneficiary_id, status, COALESCE(error, ''), COALESCE(transaction_ref, '')
		FROM disbursement_results
		WHERE disbursement_id = $1
		ORDER BY id
	`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []models.DisbursementResult{}
	for rows.Next() {
		var r models.DisbursementResult
		if err := rows.Scan(&r.ID, &r.DisbursementID, &r.BeneficiaryID, &r.Status, &r.Error, &r.TransactionRef); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// ListBatches returns all batches, newest first.
func (ds *DisbursementService) ListBatches(limit int) ([]models.Disbursement, error) {
	rows, err := ds.db.Query(`
		SELECT id, batch_name, COALESCE(description, ''), created_by, amount, total_amount, beneficiary_count,
		       disbursement_date, filter_status, filter_state, filter_occupation, filter_min_balance,
		       status, processed_count, success_count, failed_count, started_at, completed_at, created_at
		FROM disbursements
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batches := []models.Disbursement{}
	for rows.Next() {
		var b models.Disbursement
		if err := rows.Scan(&b.ID, &b.BatchName, &b.Description, &b.CreatedBy, &b.Amount, &b.TotalAmount,
			&b.BeneficiaryCount, &b.DisbursementDate, &b.Filters.Status, &b.Filters.State,
			&b.Filters.Occupation, &b.Filters.MinBalance, &b.Status, &b.ProcessedCount,
			&b.SuccessCount, &b.FailedCount, &b.StartedAt, &b.CompletedAt, &b.CreatedAt); err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// FilterOptions exposes the selector's distinct filter values.
func (ds *DisbursementService) FilterOptions() (states, occupations []string, err error) {
	return ds.selector.FilterOptions()
}

func normalizeFilters(f models.DisbursementFilters) models.DisbursementFilters {
	if f.Status == "" {
		f.Status = "all"
	}
	if f.State == "" {
		f.State = "all"
	}
	if f.Occupation == "" {
		f.Occupation = "all"
	}
	return f
}
