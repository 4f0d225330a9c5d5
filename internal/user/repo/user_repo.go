package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/freddennis10/astra-app-sub001/internal/user/entity"
)

var (
	ErrNotFound  = errors.New("user not found")
	ErrDuplicate = errors.New("username or email already taken")
)

// pq error code for unique_violation
const uniqueViolation = "23505"

const userColumns = `id, username, email, password_hash, full_name, is_active, is_verified,
	last_login_at, created_at, updated_at`

// UserRepo provides data access for the users and wallets tables using sqlx.
type UserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepo { return &UserRepo{db: db} }

// FindByUsernameOrEmail returns the user whose username equals username or
// whose email equals email (case-insensitive via citext).
func (r *UserRepo) FindByUsernameOrEmail(ctx context.Context, username, email string) (*entity.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE username=$1 OR email=$2 LIMIT 1`
	var u entity.User
	if err := r.db.GetContext(ctx, &u, q, username, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &u, nil
}

// FindByID fetches a full user row.
func (r *UserRepo) FindByID(ctx context.Context, id string) (*entity.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE id=$1`
	var u entity.User
	if err := r.db.GetContext(ctx, &u, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &u, nil
}

// CreateUserAndDependents inserts the user and its wallet in one transaction.
// A unique violation on either table yields ErrDuplicate and nothing persists.
func (r *UserRepo) CreateUserAndDependents(ctx context.Context, u *entity.User, w *entity.Wallet) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const insertUser = `INSERT INTO users (id, username, email, password_hash, full_name, is_active, is_verified, created_at, updated_at)
		VALUES (:id, :username, :email, :password_hash, :full_name, :is_active, :is_verified, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, insertUser, u); err != nil {
		return mapWriteErr("insert user", err)
	}

	const insertWallet = `INSERT INTO wallets (id, user_id, balance, currency, created_at, updated_at)
		VALUES (:id, :user_id, :balance, :currency, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, insertWallet, w); err != nil {
		return mapWriteErr("insert wallet", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// UpdatePasswordHash replaces the stored hash.
func (r *UserRepo) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	const q = `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`
	return r.execOne(ctx, "update password", q, id, hash)
}

// UpdateLastLogin stamps a successful authentication.
func (r *UserRepo) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	const q = `UPDATE users SET last_login_at=$2, updated_at=NOW() WHERE id=$1`
	return r.execOne(ctx, "update last login", q, id, at)
}

// MarkVerified flags the email address as confirmed.
func (r *UserRepo) MarkVerified(ctx context.Context, id string) error {
	const q = `UPDATE users SET is_verified=true, updated_at=NOW() WHERE id=$1`
	return r.execOne(ctx, "mark verified", q, id)
}

// GetWallet returns the wallet created with the user.
func (r *UserRepo) GetWallet(ctx context.Context, userID string) (*entity.Wallet, error) {
	const q = `SELECT id, user_id, balance, currency, created_at, updated_at FROM wallets WHERE user_id=$1`
	var w entity.Wallet
	if err := r.db.GetContext(ctx, &w, q, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	return &w, nil
}

// Ping checks database connectivity.
func (r *UserRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *UserRepo) execOne(ctx context.Context, op, q string, args ...any) error {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func mapWriteErr(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	return fmt.Errorf("%s: %w", op, err)
}
