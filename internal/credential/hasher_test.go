package credential

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// cheap argon2 parameters keep the suite fast; the format is identical.
func testArgon2() Argon2Hasher {
	return Argon2Hasher{Time: 1, Memory: 8 * 1024, Threads: 1, KeyLen: 32, SaltLen: 16}
}

func TestBcryptRoundTrip(t *testing.T) {
	h := BcryptHasher{Cost: MinBcryptCost}

	first, err := h.Hash("Correct-Horse1")
	require.NoError(t, err)
	second, err := h.Hash("Correct-Horse1")
	require.NoError(t, err)

	require.NotEqual(t, first, second, "salts must differ")
	assert.True(t, h.Verify(first, "Correct-Horse1"))
	assert.True(t, h.Verify(second, "Correct-Horse1"))
	assert.False(t, h.Verify(first, "Correct-Horse2"))
}

func TestBcryptCostIsClamped(t *testing.T) {
	h := BcryptHasher{Cost: 4}
	hash, err := h.Hash("pw")
	require.NoError(t, err)

	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	require.GreaterOrEqual(t, cost, MinBcryptCost)
	require.False(t, h.NeedsRehash(hash))
}

func TestBcryptNeedsRehashForWeakCost(t *testing.T) {
	weak, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	require.NoError(t, err)

	h := BcryptHasher{Cost: MinBcryptCost}
	require.True(t, h.Verify(string(weak), "pw"))
	require.True(t, h.NeedsRehash(string(weak)))
	require.True(t, h.NeedsRehash("not-a-hash"))
}

func TestArgon2RoundTrip(t *testing.T) {
	h := testArgon2()

	first, err := h.Hash("Correct-Horse1")
	require.NoError(t, err)
	second, err := h.Hash("Correct-Horse1")
	require.NoError(t, err)

	require.NotEqual(t, first, second)
	assert.True(t, h.Verify(first, "Correct-Horse1"))
	assert.True(t, h.Verify(second, "Correct-Horse1"))
	assert.False(t, h.Verify(first, "correct-horse1"))
	assert.False(t, h.NeedsRehash(first))
	assert.True(t, DefaultArgon2().NeedsRehash(first))
}

func TestVerifyMalformedHashes(t *testing.T) {
	m, err := New(AlgoBcrypt, MinBcryptCost)
	require.NoError(t, err)

	for _, hash := range []string{
		"",
		"plaintext",
		"$2b$12$short",
		"$argon2id$v=19$m=x,t=1,p=1$AAAA$AAAA",
		"$argon2id$v=19$m=1024,t=1,p=0$AAAA$AAAA",
		"$argon2id$v=19$m=1024,t=0,p=1$AAAAAAAAAAAAAAAAAAAAAA$AAAA",
		"$argon2id$v=19$m=0,t=1,p=1$AAAAAAAAAAAAAAAAAAAAAA$AAAA",
		"$argon2id$v=19$m=4294967295,t=1,p=1$AAAAAAAAAAAAAAAAAAAAAA$AAAA",
		"$argon2id$v=19$m=1024,t=4000000000,p=1$AAAAAAAAAAAAAAAAAAAAAA$AAAA",
		"$argon2id$v=18$m=1024,t=1,p=1$AAAA$AAAA",
		"$argon2id$v=19$m=1024,t=1,p=1$!!!$AAAA",
	} {
		assert.NotPanics(t, func() {
			assert.False(t, m.Verify(hash, "pw"), hash)
		})
	}
}

func TestMultiHasherVerifiesBothFormats(t *testing.T) {
	m, err := New(AlgoBcrypt, MinBcryptCost)
	require.NoError(t, err)
	m.argon2 = testArgon2()

	argonHash, err := m.argon2.Hash("Secret-123")
	require.NoError(t, err)
	bcryptHash, err := m.Hash("Secret-123")
	require.NoError(t, err)

	assert.True(t, m.Verify(argonHash, "Secret-123"))
	assert.True(t, m.Verify(bcryptHash, "Secret-123"))
	assert.True(t, m.NeedsRehash(argonHash), "argon2 hash must migrate to bcrypt primary")
	assert.False(t, m.NeedsRehash(bcryptHash))
}

func TestNewRejectsUnknownAlgorithm(t *testing.T) {
	_, err := New("sha1", MinBcryptCost)
	require.Error(t, err)

	m, err := New(AlgoArgon2id, MinBcryptCost)
	require.NoError(t, err)
	_, ok := m.primary.(Argon2Hasher)
	require.True(t, ok)
}
