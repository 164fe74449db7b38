package services

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewReference(t *testing.T) {
	t.Run("carries scheme, kind and year", func(t *testing.T) {
		ref := NewReference(RefWithdrawal)

		parts := strings.Split(ref, "-")
		assert.Len(t, parts, 4)
		assert.Equal(t, "DigiPayG2C", parts[0])
		assert.Equal(t, "WDR", parts[1])
		assert.Equal(t, fmt.Sprintf("%d", time.Now().Year()), parts[2])
		assert.Len(t, parts[3], 8)
	})

	t.Run("unique across calls", func(t *testing.T) {
		seen := make(map[string]bool)
		for i := 0; i < 100; i++ {
			ref := NewReference(RefTransferDebit)
			assert.False(t, seen[ref], "duplicate reference %s", ref)
			seen[ref] = true
		}
	})

	t.Run("distinct kinds produce distinct prefixes", func(t *testing.T) {
		assert.Contains(t, NewReference(RefTransferDebit), "-DEB-")
		assert.Contains(t, NewReference(RefTransferCredit), "-CRD-")
		assert.Contains(t, NewReference(RefTopup), "-TOP-")
		assert.Contains(t, NewReference(RefDisbursement), "-DSB-")
	})
}
