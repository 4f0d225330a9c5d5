package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User is an identity row in the `users` table. Username and email are
// unique across active and inactive rows; email is stored lower-cased.
type User struct {
	ID           string     `db:"id"`
	Username     string     `db:"username"`
	Email        string     `db:"email"`
	PasswordHash string     `db:"password_hash"`
	FullName     string     `db:"full_name"`
	IsActive     bool       `db:"is_active"`
	IsVerified   bool       `db:"is_verified"`
	LastLoginAt  *time.Time `db:"last_login_at"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

// Wallet is the balance record created together with every user.
type Wallet struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	UserID    string          `db:"user_id" json:"user_id"`
	Balance   decimal.Decimal `db:"balance" json:"balance"`
	Currency  string          `db:"currency" json:"currency"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// PublicUser is the projection safe to return to clients.
type PublicUser struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	FullName    string     `json:"full_name"`
	IsVerified  bool       `json:"is_verified"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// Public strips the password hash and internal flags.
func (u *User) Public() *PublicUser {
	return &PublicUser{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		FullName:    u.FullName,
		IsVerified:  u.IsVerified,
		LastLoginAt: u.LastLoginAt,
	}
}

// NewWallet returns an empty wallet for a freshly registered user.
func NewWallet(userID, currency string, now time.Time) *Wallet {
	return &Wallet{
		ID:        uuid.New(),
		UserID:    userID,
		Balance:   decimal.Zero,
		Currency:  currency,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
