package models

import "time"

// Account statuses used by the beneficiary selector. "Verified" is not an
// account status: it lives on the identity record (NinInfo.IsVerified).
const (
	UserActive   = "active"
	UserInactive = "inactive"
)

// User is the account record. Identity details (name, email, demographics)
// live on the linked NinInfo record, owned by the identity subsystem.
type User struct {
	ID        int64     `json:"id" db:"id"`
	NIN       string    `json:"nin" db:"nin"`
	Username  string    `json:"username" db:"username"`
	Status    string    `json:"status" db:"status"`
	NinInfoID *int64    `json:"-" db:"nin_info_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NinInfo is the national-identity record linked to a user.
type NinInfo struct {
	ID         int64  `json:"id" db:"id"`
	FullName   string `json:"fullName" db:"full_name"`
	Email      string `json:"email" db:"email"`
	State      string `json:"state" db:"state"`
	Occupation string `json:"occupation" db:"occupation"`
	IsVerified bool   `json:"isVerified" db:"is_verified"`
}

// Contact is the resolved delivery address for user notifications.
type Contact struct {
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress"`
}

// IdentityAttributes are the demographic facts the beneficiary selector
// filters on.
type IdentityAttributes struct {
	State      string `json:"state"`
	Occupation string `json:"occupation"`
	Verified   bool   `json:"verified"`
}
