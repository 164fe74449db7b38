package services

import (
	"database/sql"

	"github.com/Buzz-brain/dpi-backend/internal/models"
)

// IdentityResolver is the identity/verification collaborator consumed by the
// fund-movement coordinators. Identity data itself is owned elsewhere; the
// engine only reads it.
type IdentityResolver interface {
	ResolveContact(userID int64) (*models.Contact, error)
	ResolveUserByNIN(nin string) (int64, error)
	AttributesFor(userID int64) (*models.IdentityAttributes, error)
	NINFor(userID int64) (string, error)
}

// IdentityService resolves identity facts from the users/nin_infos tables.
type IdentityService struct {
	db *sql.DB
}

func NewIdentityService(db *sql.DB) *IdentityService {
	return &IdentityService{db: db}
}

// ResolveContact returns the user's display name and email address for
// notification delivery. A user without a linked identity email resolves to
// ErrUserNotFound; the withdrawal coordinator treats that as undeliverable.
func (s *IdentityService) ResolveContact(userID int64) (*models.Contact, error) {
	c := &models.Contact{}
	err := s.db.QueryRow(`
		SELECT COALESCE(NULLIF(n.full_name, ''), u.username), n.email
		FROM users u
		JOIN nin_infos n ON u.nin_info_id = n.id
		WHERE u.id = $1 AND n.email <> ''
	`, userID).Scan(&c.DisplayName, &c.EmailAddress)

	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ResolveUserByNIN maps a national identity number to a user id.
func (s *IdentityService) ResolveUserByNIN(nin string) (int64, error) {
	var id int64
	err := s.db.QueryRow(`SELECT id FROM users WHERE nin = $1`, nin).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

// AttributesFor returns the demographic attributes the beneficiary selector
// filters on.
func (s *IdentityService) AttributesFor(userID int64) (*models.IdentityAttributes, error) {
	a := &models.IdentityAttributes{}
	err := s.db.QueryRow(`
		SELECT COALESCE(n.state, ''), COALESCE(n.occupation, ''), COALESCE(n.is_verified, FALSE)
		FROM users u
		LEFT JOIN nin_infos n ON u.nin_info_id = n.id
		WHERE u.id = $1
	`, userID).Scan(&a.State, &a.Occupation, &a.Verified)

	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// NINFor returns the user's NIN, the public identifier transfers address.
func (s *IdentityService) NINFor(userID int64) (string, error) {
	var nin string
	err := s.db.QueryRow(`SELECT nin FROM users WHERE id = $1`, userID).Scan(&nin)
	if err == sql.ErrNoRows {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", err
	}
	return nin, nil
}
