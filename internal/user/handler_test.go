package user

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/freddennis10/astra-app-sub001/internal/auth"
	"github.com/freddennis10/astra-app-sub001/internal/token"
	userrepo "github.com/freddennis10/astra-app-sub001/internal/user/repo"
)

var userCols = []string{"id", "username", "email", "password_hash", "full_name", "is_active", "is_verified", "last_login_at", "created_at", "updated_at"}

func newMockHandler(t *testing.T) (*Handler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	repo := userrepo.NewUserRepo(sqlx.NewDb(db, "postgres"))
	return NewHandler(NewService(repo, time.Second), zap.NewNop().Sugar()), mock
}

func meRequest(userID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
	if userID != "" {
		req = req.WithContext(auth.WithClaims(req.Context(), &token.Claims{UserID: userID, Type: token.TypeAccess}))
	}
	return req
}

func TestMeReturnsProfileWithWallet(t *testing.T) {
	h, mock := newMockHandler(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT .* FROM users WHERE id=\$1`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow("u1", "alice", "alice@example.com", "secret-hash", "Alice", true, false, nil, now, now))
	mock.ExpectQuery(`SELECT .* FROM wallets WHERE user_id=\$1`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "balance", "currency", "created_at", "updated_at"}).
			AddRow("4f7c2a52-6c3e-4d8e-9a55-0c1c1c9c2b11", "u1", "12.50", "USD", now, now))

	rec := httptest.NewRecorder()
	h.Me(rec, meRequest("u1"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret-hash")

	var body struct {
		User struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"user"`
		Wallet struct {
			Currency string `json:"currency"`
			Balance  string `json:"balance"`
		} `json:"wallet"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "u1", body.User.ID)
	assert.Equal(t, "alice", body.User.Username)
	assert.Equal(t, "USD", body.Wallet.Currency)
	bal, err := decimal.NewFromString(body.Wallet.Balance)
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.RequireFromString("12.50")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMeUnknownOrInactiveUser(t *testing.T) {
	h, mock := newMockHandler(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT .* FROM users WHERE id=\$1`).
		WithArgs("gone").
		WillReturnRows(sqlmock.NewRows(userCols))
	rec := httptest.NewRecorder()
	h.Me(rec, meRequest("gone"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	mock.ExpectQuery(`SELECT .* FROM users WHERE id=\$1`).
		WithArgs("off").
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow("off", "bob", "bob@example.com", "h", "Bob", false, true, nil, now, now))
	rec = httptest.NewRecorder()
	h.Me(rec, meRequest("off"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMeWithoutClaims(t *testing.T) {
	h, _ := newMockHandler(t)
	rec := httptest.NewRecorder()
	h.Me(rec, meRequest(""))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMeDatabaseError(t *testing.T) {
	h, mock := newMockHandler(t)
	mock.ExpectQuery(`SELECT .* FROM users WHERE id=\$1`).
		WithArgs("u1").
		WillReturnError(assert.AnError)

	rec := httptest.NewRecorder()
	h.Me(rec, meRequest("u1"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), assert.AnError.Error())
}

func TestMeTimesOutSlowDatabase(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	repo := userrepo.NewUserRepo(sqlx.NewDb(db, "postgres"))
	h := NewHandler(NewService(repo, 20*time.Millisecond), zap.NewNop().Sugar())

	mock.ExpectQuery(`SELECT .* FROM users WHERE id=\$1`).
		WithArgs("u1").
		WillDelayFor(time.Second).
		WillReturnRows(sqlmock.NewRows(userCols))

	start := time.Now()
	rec := httptest.NewRecorder()
	h.Me(rec, meRequest("u1"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
