package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Reference kinds carried inside generated references.
const (
	RefTransferDebit  = "DEB"
	RefTransferCredit = "CRD"
	RefWithdrawal     = "WDR"
	RefTopup          = "TOP"
	RefDisbursement   = "DSB"
)

// NewReference generates a unique, human-traceable reference like
// DigiPayG2C-WDR-2025-1a2b3c4d. The UUID fragment keeps concurrent
// generation collision-free.
func NewReference(kind string) string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("DigiPayG2C-%s-%d-%s", kind, time.Now().Year(), id)
}
