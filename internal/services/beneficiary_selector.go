package services

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/Buzz-brain/dpi-backend/internal/models"
)

// BeneficiarySelector evaluates a disbursement filter set against user,
// identity and wallet data. Select and Count share one WHERE builder so a
// previewed count always matches the list a batch is created from. Selection
// is a pure read.
type BeneficiarySelector struct {
	db *sql.DB
}

func NewBeneficiarySelector(db *sql.DB) *BeneficiarySelector {
	return &BeneficiarySelector{db: db}
}

const beneficiaryJoin = `
	FROM users u
	LEFT JOIN nin_infos n ON u.nin_info_id = n.id
	LEFT JOIN wallets w ON w.user_id = u.id
`

// buildWhere turns the filter snapshot into a WHERE clause. The "verified"
// status filters on the identity record's verification flag, not on the
// account status column; the two are different facts.
func (s *BeneficiarySelector) buildWhere(f models.DisbursementFilters) (string, []any) {
	var conditions []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	switch f.Status {
	case models.UserActive, models.UserInactive:
		conditions = append(conditions, "u.status = "+arg(f.Status))
	case "verified":
		conditions = append(conditions, "n.is_verified = TRUE")
	}

	if f.State != "" && f.State != "all" {
		conditions = append(conditions, "n.state = "+arg(f.State))
	}
	if f.Occupation != "" && f.Occupation != "all" {
		conditions = append(conditions, "n.occupation = "+arg(f.Occupation))
	}
	if f.MinBalance > 0 {
		conditions = append(conditions, "COALESCE(w.balance, 0) >= "+arg(f.MinBalance))
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// Select returns the ids of all matching users in a deterministic order.
func (s *BeneficiarySelector) Select(f models.DisbursementFilters) ([]int64, error) {
	where, args := s.buildWhere(f)
	query := "SELECT u.id" + beneficiaryJoin + where + " ORDER BY u.id"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Count returns how many users Select would return for the same filters.
func (s *BeneficiarySelector) Count(f models.DisbursementFilters) (int, error) {
	where, args := s.buildWhere(f)
	query := "SELECT COUNT(*)" + beneficiaryJoin + where

	var count int
	if err := s.db.QueryRow(query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// FilterOptions returns the distinct states and occupations present in the
// identity data, for the admin filter UI.
func (s *BeneficiarySelector) FilterOptions() (states, occupations []string, err error) {
	states, err = s.distinctColumn("state")
	if err != nil {
		return nil, nil, err
	}
	occupations, err = s.distinctColumn("occupation")
	if err != nil {
		return nil, nil, err
	}
	return states, occupations, nil
}

func (s *BeneficiarySelector) distinctColumn(column string) ([]string, error) {
	// column is one of two fixed identifiers, never user input
	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT DISTINCT %s FROM nin_infos
		WHERE %s IS NOT NULL AND %s <> ''
		ORDER BY %s
	`, column, column, column, column))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}
