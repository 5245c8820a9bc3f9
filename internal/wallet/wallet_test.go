package wallet

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macterra/keymaster/internal/cipher"
)

func TestMain(m *testing.M) {
	// Fast scrypt for tests; production keeps the secure default.
	cipher.SetScryptWorkFactor(10)
	os.Exit(m.Run())
}

func TestNewWallet(t *testing.T) {
	t.Parallel()

	w, err := New("")
	require.NoError(t, err)

	assert.Equal(t, uint32(0), w.Counter)
	assert.Empty(t, w.Current)
	assert.Empty(t, w.IDs)
	assert.Empty(t, w.Names)
	assert.True(t, strings.HasPrefix(w.Seed.HDKey.XPriv, "xprv"))
	assert.True(t, strings.HasPrefix(w.Seed.HDKey.XPub, "xpub"))

	mnemonic, err := w.DecryptMnemonic()
	require.NoError(t, err)
	assert.Len(t, strings.Fields(mnemonic), 12)
	assert.NoError(t, cipher.ValidateMnemonic(mnemonic))
}

func TestNewWalletFromMnemonic(t *testing.T) {
	t.Parallel()

	const phrase = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

	w1, err := New(phrase)
	require.NoError(t, err)
	w2, err := New(phrase)
	require.NoError(t, err)

	// Same phrase, same HD tree
	assert.Equal(t, w1.Seed.HDKey.XPriv, w2.Seed.HDKey.XPriv)

	mnemonic, err := w1.DecryptMnemonic()
	require.NoError(t, err)
	assert.Equal(t, phrase, mnemonic)

	_, err = New("not a valid phrase")
	assert.ErrorIs(t, err, cipher.ErrInvalidMnemonic)
}

func TestValidateName(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidateName("Alice"))
	assert.NoError(t, ValidateName("bob_2"))
	assert.NoError(t, ValidateName("carol-prod"))
	assert.ErrorIs(t, ValidateName(""), ErrInvalidName)
	assert.ErrorIs(t, ValidateName("has space"), ErrInvalidName)
	assert.ErrorIs(t, ValidateName(strings.Repeat("x", 65)), ErrInvalidName)
}

func TestHasName(t *testing.T) {
	t.Parallel()

	w, err := New("")
	require.NoError(t, err)

	w.IDs["Alice"] = &Identity{DID: "did:mdip:alice"}
	w.Names["work"] = "did:mdip:somewhere"

	assert.True(t, w.HasName("Alice"))
	assert.True(t, w.HasName("work"))
	assert.False(t, w.HasName("Bob"))
}

func TestFindIDAndResolveDID(t *testing.T) {
	t.Parallel()

	w, err := New("")
	require.NoError(t, err)
	w.IDs["Alice"] = &Identity{DID: "did:mdip:alice"}
	w.Names["team"] = "did:mdip:team"

	id, name, ok := w.FindID("Alice")
	require.True(t, ok)
	assert.Equal(t, "Alice", name)
	assert.Equal(t, "did:mdip:alice", id.DID)

	id, name, ok = w.FindID("did:mdip:alice")
	require.True(t, ok)
	assert.Equal(t, "Alice", name)
	assert.NotNil(t, id)

	_, _, ok = w.FindID("nobody")
	assert.False(t, ok)

	assert.Equal(t, "did:mdip:alice", w.ResolveDID("Alice"))
	assert.Equal(t, "did:mdip:team", w.ResolveDID("team"))
	assert.Equal(t, "did:mdip:other", w.ResolveDID("did:mdip:other"))
}

func TestIdentitySets(t *testing.T) {
	t.Parallel()

	id := &Identity{}
	id.AddOwned("did:mdip:a")
	id.AddOwned("did:mdip:a")
	id.AddOwned("did:mdip:b")
	assert.Equal(t, []string{"did:mdip:a", "did:mdip:b"}, id.Owned)

	id.AddHeld("did:mdip:c")
	id.AddHeld("did:mdip:c")
	assert.Equal(t, []string{"did:mdip:c"}, id.Held)
}

func TestFileStoreInitializesFreshWallet(t *testing.T) {
	t.Parallel()

	store := NewFileStore(t.TempDir())

	w, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), w.Counter)
	assert.Empty(t, w.IDs)

	// First load persisted the wallet
	_, err = os.Stat(store.Path())
	require.NoError(t, err)

	// Second load returns the same wallet, not a new one
	again, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, w.Seed.HDKey.XPriv, again.Seed.HDKey.XPriv)
}

func TestFileStoreSaveRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewFileStore(t.TempDir())
	w, err := store.Load()
	require.NoError(t, err)

	w.Counter = 2
	w.Current = "Alice"
	w.IDs["Alice"] = &Identity{
		DID:     "did:mdip:alice",
		Account: 0,
		Index:   1,
		Owned:   []string{"did:mdip:msg1"},
		Held:    []string{"did:mdip:vc1"},
	}
	w.Names["work"] = "did:mdip:work"
	require.NoError(t, store.Save(w))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, w, got)

	// No temp files left behind by the atomic write
	entries, err := os.ReadDir(filepath.Dir(store.Path()))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "wallet.json", entries[0].Name())
}

func TestFileStoreCorruptFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := NewFileStore(dir)
	require.NoError(t, os.WriteFile(store.Path(), []byte("{nope"), 0o600))

	_, err := store.Load()
	assert.ErrorIs(t, err, ErrCorruptWallet)
}

func TestWalletFileShape(t *testing.T) {
	t.Parallel()

	store := NewFileStore(t.TempDir())
	_, err := store.Load()
	require.NoError(t, err)

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)

	for _, key := range []string{`"seed"`, `"mnemonic"`, `"hdkey"`, `"xpriv"`, `"xpub"`, `"counter"`, `"current"`, `"ids"`, `"names"`} {
		assert.Contains(t, string(data), key)
	}
}
