package types

import "time"

// Role is the authorization level of an account. It is a closed
// enumeration; the authorization boundary matches on it exhaustively.
type Role string

const (
	RoleBuyer     Role = "buyer"
	RoleSeller    Role = "seller"
	RoleCollector Role = "collector"
	RoleAdmin     Role = "admin"
)

// Valid reports whether the role is a member of the closed enumeration.
func (r Role) Valid() bool {
	switch r {
	case RoleBuyer, RoleSeller, RoleCollector, RoleAdmin:
		return true
	default:
		return false
	}
}

// CanList reports whether the role may create gem listings.
func (r Role) CanList() bool {
	switch r {
	case RoleSeller, RoleCollector:
		return true
	case RoleBuyer, RoleAdmin:
		return false
	default:
		return false
	}
}

// User represents an account in the marketplace.
// It contains identity, role, and audit metadata.
type User struct {
	// ID is the unique identifier of the user.
	ID int `json:"id" db:"id"`

	// Name is the user's display or full name.
	Name string `json:"name" db:"name"`

	// Email is the user's email address. It is unique and stored
	// lowercase so lookups are case-insensitive.
	Email string `json:"email" db:"email"`

	// PasswordHash stores the hashed representation of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// Role indicates the user's authorization level within the
	// marketplace (buyer, seller, collector, or admin).
	Role Role `json:"role" db:"role"`

	// Phone is an optional contact number.
	Phone string `json:"phone,omitempty" db:"phone"`

	// Bio is an optional short profile description.
	Bio string `json:"bio,omitempty" db:"bio"`

	// Rating is the derived average seller rating, from 0 to 5.
	Rating float64 `json:"rating" db:"rating"`

	// TotalRatings is the number of ratings contributing to Rating.
	TotalRatings int `json:"total_ratings" db:"total_ratings"`

	// IsVerified indicates whether the account identity was verified.
	IsVerified bool `json:"is_verified" db:"is_verified"`

	// IsActive indicates whether the account is enabled. Accounts are
	// deactivated rather than hard-deleted.
	IsActive bool `json:"is_active" db:"is_active"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// SellerSummary is the reduced seller projection joined onto listings.
type SellerSummary struct {
	Name   string  `json:"name"`
	Email  string  `json:"email,omitempty"`
	Rating float64 `json:"rating"`
}
