package credential

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// MinBcryptCost is the lowest bcrypt cost this package will hash with.
const MinBcryptCost = 12

const (
	AlgoBcrypt   = "bcrypt"
	AlgoArgon2id = "argon2id"
)

var errInvalidHash = errors.New("invalid password hash")

// Hasher defines the minimal password hashing interface.
type Hasher interface {
	Hash(pw string) (string, error)
	Verify(hash, pw string) bool
	NeedsRehash(hash string) bool
}

// BcryptHasher implementation.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) cost() int {
	if b.Cost < MinBcryptCost {
		return MinBcryptCost
	}
	return b.Cost
}

func (b BcryptHasher) Hash(pw string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(pw), b.cost())
	if err != nil {
		return "", fmt.Errorf("bcrypt: %w", err)
	}
	return string(h), nil
}

func (b BcryptHasher) Verify(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// NeedsRehash is true for non-bcrypt hashes and bcrypt hashes below the configured cost.
func (b BcryptHasher) NeedsRehash(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return true
	}
	return cost < b.cost()
}

// Argon2Hasher produces PHC-style argon2id strings:
// $argon2id$v=19$m=<KiB>,t=<iterations>,p=<threads>$<salt>$<key>
type Argon2Hasher struct {
	Time    uint32
	Memory  uint32
	Threads uint8
	KeyLen  uint32
	SaltLen int
}

// DefaultArgon2 returns the parameters used for new argon2id hashes.
func DefaultArgon2() Argon2Hasher {
	return Argon2Hasher{Time: 3, Memory: 64 * 1024, Threads: 2, KeyLen: 32, SaltLen: 16}
}

func (a Argon2Hasher) Hash(pw string) (string, error) {
	salt := make([]byte, a.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	sum := argon2.IDKey([]byte(pw), salt, a.Time, a.Memory, a.Threads, a.KeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		a.Memory,
		a.Time,
		a.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	), nil
}

func (a Argon2Hasher) Verify(hash, pw string) bool {
	p, err := parseArgon2(hash)
	if err != nil {
		return false
	}
	actual := argon2.IDKey([]byte(pw), p.salt, p.time, p.memory, p.threads, uint32(len(p.key)))
	return subtle.ConstantTimeCompare(actual, p.key) == 1
}

// NeedsRehash is true for foreign hashes and argon2id hashes weaker than a.
func (a Argon2Hasher) NeedsRehash(hash string) bool {
	p, err := parseArgon2(hash)
	if err != nil {
		return true
	}
	return p.time < a.Time || p.memory < a.Memory || p.threads < a.Threads
}

type argon2Params struct {
	time    uint32
	memory  uint32
	threads uint8
	salt    []byte
	key     []byte
}

// Upper bounds on stored argon2id parameters; anything beyond is treated
// as a corrupt hash rather than computed.
const (
	maxArgon2Memory = 1 << 20 // KiB
	maxArgon2Time   = 16
	maxArgon2KeyLen = 128
)

func parseArgon2(hash string) (*argon2Params, error) {
	parts := strings.Split(hash, "$")
	if len(parts) != 6 || parts[1] != AlgoArgon2id {
		return nil, errInvalidHash
	}
	version, err := parseUint(parts[2], "v=")
	if err != nil || version != argon2.Version {
		return nil, errInvalidHash
	}
	params := strings.Split(parts[3], ",")
	if len(params) != 3 {
		return nil, errInvalidHash
	}
	mem, err := parseUint(params[0], "m=")
	if err != nil || mem == 0 || mem > maxArgon2Memory {
		return nil, errInvalidHash
	}
	t, err := parseUint(params[1], "t=")
	if err != nil || t == 0 || t > maxArgon2Time {
		return nil, errInvalidHash
	}
	threads, err := parseUint(params[2], "p=")
	if err != nil || threads == 0 || threads > 255 {
		return nil, errInvalidHash
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, errInvalidHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 || len(key) > maxArgon2KeyLen {
		return nil, errInvalidHash
	}
	return &argon2Params{time: uint32(t), memory: uint32(mem), threads: uint8(threads), salt: salt, key: key}, nil
}

func parseUint(value, prefix string) (uint64, error) {
	if !strings.HasPrefix(value, prefix) {
		return 0, errInvalidHash
	}
	return strconv.ParseUint(strings.TrimPrefix(value, prefix), 10, 32)
}

// MultiHasher hashes with its primary algorithm and verifies bcrypt or
// argon2id hashes, so stored hashes keep working after PASSWORD_HASH_ALGO
// changes. Login upgrades them through NeedsRehash.
type MultiHasher struct {
	primary Hasher
	bcrypt  BcryptHasher
	argon2  Argon2Hasher
}

// New returns a MultiHasher for algo ("bcrypt" or "argon2id").
func New(algo string, bcryptCost int) (*MultiHasher, error) {
	m := &MultiHasher{bcrypt: BcryptHasher{Cost: bcryptCost}, argon2: DefaultArgon2()}
	switch algo {
	case "", AlgoBcrypt:
		m.primary = m.bcrypt
	case AlgoArgon2id:
		m.primary = m.argon2
	default:
		return nil, fmt.Errorf("unsupported password hash algorithm %q", algo)
	}
	return m, nil
}

func (m *MultiHasher) Hash(pw string) (string, error) {
	return m.primary.Hash(pw)
}

func (m *MultiHasher) Verify(hash, pw string) bool {
	switch {
	case strings.HasPrefix(hash, "$argon2id$"):
		return m.argon2.Verify(hash, pw)
	case strings.HasPrefix(hash, "$2"):
		return m.bcrypt.Verify(hash, pw)
	default:
		return false
	}
}

func (m *MultiHasher) NeedsRehash(hash string) bool {
	return m.primary.NeedsRehash(hash)
}
