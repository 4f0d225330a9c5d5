package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/freddennis10/astra-app-sub001/internal/config"
	"github.com/freddennis10/astra-app-sub001/internal/token"
	"github.com/freddennis10/astra-app-sub001/internal/tokenstore"
	"github.com/freddennis10/astra-app-sub001/internal/user/entity"
	userrepo "github.com/freddennis10/astra-app-sub001/internal/user/repo"
)

// fakeUsers is an in-memory UserStore enforcing the same uniqueness rules
// as the database schema.
type fakeUsers struct {
	mu        sync.Mutex
	byID      map[string]*entity.User
	wallets   map[string]*entity.Wallet
	createErr error
	lastErr   error
	block     bool
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byID: map[string]*entity.User{}, wallets: map[string]*entity.Wallet{}}
}

func (f *fakeUsers) wait(ctx context.Context) error {
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (f *fakeUsers) FindByUsernameOrEmail(ctx context.Context, username, email string) (*entity.User, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if u.Username == username || strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, userrepo.ErrNotFound
}

func (f *fakeUsers) FindByID(ctx context.Context, id string) (*entity.User, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return nil, userrepo.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) CreateUserAndDependents(ctx context.Context, u *entity.User, w *entity.Wallet) error {
	if err := f.wait(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	for _, existing := range f.byID {
		if existing.Username == u.Username || strings.EqualFold(existing.Email, u.Email) {
			return userrepo.ErrDuplicate
		}
	}
	cp := *u
	f.byID[u.ID] = &cp
	f.wallets[u.ID] = w
	return nil
}

func (f *fakeUsers) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return userrepo.ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (f *fakeUsers) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lastErr != nil {
		return f.lastErr
	}
	u, ok := f.byID[id]
	if !ok {
		return userrepo.ErrNotFound
	}
	u.LastLoginAt = &at
	return nil
}

func (f *fakeUsers) MarkVerified(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return userrepo.ErrNotFound
	}
	u.IsVerified = true
	return nil
}

func (f *fakeUsers) get(id string) entity.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.byID[id]
}

func (f *fakeUsers) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byID)
}

func (f *fakeUsers) setActive(id string, active bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[id].IsActive = active
}

// fakeHasher keeps the suite fast. Hashes are salted like real ones so two
// hashes of one password differ. "legacy$" hashes report NeedsRehash.
type fakeHasher struct {
	verifies atomic.Int32
}

func (h *fakeHasher) Hash(pw string) (string, error) {
	salt := make([]byte, 8)
	_, _ = rand.Read(salt)
	return "fake$" + hex.EncodeToString(salt) + "$" + pw, nil
}

func (h *fakeHasher) Verify(hash, pw string) bool {
	h.verifies.Add(1)
	parts := strings.SplitN(hash, "$", 3)
	switch {
	case len(parts) == 3 && parts[0] == "fake":
		return parts[2] == pw
	case len(parts) == 2 && parts[0] == "legacy":
		return parts[1] == pw
	}
	return false
}

func (h *fakeHasher) NeedsRehash(hash string) bool {
	return strings.HasPrefix(hash, "legacy$")
}

type sentMail struct {
	to, subject, body string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (n *fakeNotifier) Send(ctx context.Context, to, subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentMail{to, subject, body})
	return nil
}

func (n *fakeNotifier) messages() []sentMail {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentMail(nil), n.sent...)
}

var linkToken = regexp.MustCompile(`token=([A-Za-z0-9_-]+)`)

func (n *fakeNotifier) lastToken(t *testing.T) string {
	t.Helper()
	msgs := n.messages()
	require.NotEmpty(t, msgs)
	m := linkToken.FindStringSubmatch(msgs[len(msgs)-1].body)
	require.Len(t, m, 2)
	return m[1]
}

type seqIDs struct{ n atomic.Int64 }

func (s *seqIDs) NewID() string { return strconv.FormatInt(s.n.Add(1), 10) }

// failingStore wraps a Store and fails every read once broken is set.
type failingStore struct {
	tokenstore.Store
	broken atomic.Bool
}

var errStoreDown = errors.New("connection refused")

func (f *failingStore) Get(ctx context.Context, key string) (string, bool, error) {
	if f.broken.Load() {
		return "", false, errStoreDown
	}
	return f.Store.Get(ctx, key)
}

type harness struct {
	svc      *Service
	users    *fakeUsers
	store    *failingStore
	mem      *tokenstore.MemoryStore
	hasher   *fakeHasher
	notifier *fakeNotifier
	clock    *clockwork.FakeClock
	tokens   *token.Issuer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	tokens, err := token.NewIssuer(token.Config{
		AccessSecret:  []byte(strings.Repeat("a", 32)),
		RefreshSecret: []byte(strings.Repeat("r", 32)),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
	}, clock)
	require.NoError(t, err)

	mem := tokenstore.NewMemoryStore(clock)
	h := &harness{
		users:    newFakeUsers(),
		store:    &failingStore{Store: mem},
		mem:      mem,
		hasher:   &fakeHasher{},
		notifier: &fakeNotifier{},
		clock:    clock,
		tokens:   tokens,
	}
	h.svc, err = NewService(Deps{
		Users:    h.users,
		Store:    h.store,
		Hasher:   h.hasher,
		Tokens:   tokens,
		Notifier: h.notifier,
		IDs:      &seqIDs{},
		Clock:    clock,
	}, Options{
		VerificationTTL:   time.Hour,
		PasswordResetTTL:  time.Hour,
		BlacklistCeiling:  time.Hour,
		DependencyTimeout: time.Second,
		BaseURL:           "https://astra.test",
		Password: config.PasswordPolicy{
			MinLength:    8,
			RequireUpper: true,
			RequireLower: true,
			RequireDigit: true,
		},
	})
	require.NoError(t, err)
	return h
}

const goodPassword = "Sup3rSecret"

func (h *harness) register(t *testing.T, username, email string) *entity.PublicUser {
	t.Helper()
	u, err := h.svc.Register(context.Background(), RegisterInput{
		Username: username,
		Email:    email,
		Password: goodPassword,
		FullName: "Test " + username,
	})
	require.NoError(t, err)
	h.svc.Wait()
	return u
}
