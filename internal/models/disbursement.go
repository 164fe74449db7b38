package models

import "time"

// Batch and per-beneficiary statuses for the disbursement engine.
const (
	BatchPending    = "pending"
	BatchProcessing = "processing"
	BatchCompleted  = "completed" // finished running, not "all succeeded"
	BatchFailed     = "failed"    // engine-level fault only

	ResultPending = "pending"
	ResultSuccess = "success"
	ResultFailed  = "failed"
)

// DisbursementFilters is the beneficiary selection criteria snapshot, frozen
// at batch creation. Empty or "all" means no restriction on that dimension.
type DisbursementFilters struct {
	Status     string `json:"status,omitempty" validate:"omitempty,oneof=all active inactive verified"`
	State      string `json:"state,omitempty"`
	Occupation string `json:"occupation,omitempty"`
	MinBalance int64  `json:"minBalance,omitempty" validate:"omitempty,gte=0"`
}

// Disbursement is one bulk government-to-citizen crediting operation.
// BeneficiaryCount and TotalAmount are fixed at creation; the counters are
// recomputed from the result rows after every processing pass.
type Disbursement struct {
	ID               int64               `json:"id" db:"id"`
	BatchName        string              `json:"batchName" db:"batch_name"`
	Description      string              `json:"description,omitempty" db:"description"`
	CreatedBy        int64               `json:"createdBy" db:"created_by"`
	Amount           int64               `json:"amount" db:"amount"` // per beneficiary
	TotalAmount      int64               `json:"totalAmount" db:"total_amount"`
	BeneficiaryCount int                 `json:"beneficiaryCount" db:"beneficiary_count"`
	DisbursementDate time.Time           `json:"disbursementDate" db:"disbursement_date"`
	Filters          DisbursementFilters `json:"filters"`
	Status           string              `json:"status" db:"status"`
	ProcessedCount   int                 `json:"processedCount" db:"processed_count"`
	SuccessCount     int                 `json:"successCount" db:"success_count"`
	FailedCount      int                 `json:"failedCount" db:"failed_count"`
	StartedAt        *time.Time          `json:"startedAt,omitempty" db:"started_at"`
	CompletedAt      *time.Time          `json:"completedAt,omitempty" db:"completed_at"`
	CreatedAt        time.Time           `json:"createdAt" db:"created_at"`
}

// DisbursementResult is one beneficiary's durable outcome within a batch.
type DisbursementResult struct {
	ID             int64  `json:"id" db:"id"`
	DisbursementID int64  `json:"disbursement_id" db:"disbursement_id"`
	BeneficiaryID  int64  `json:"beneficiaryId" db:"beneficiary_id"`
	Status         string `json:"status" db:"status"`
	Error          string `json:"error,omitempty" db:"error"`
	TransactionRef string `json:"transactionId,omitempty" db:"transaction_ref"`
}
