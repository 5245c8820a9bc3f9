package keymaster

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macterra/keymaster/internal/gatekeeper"
	"github.com/macterra/keymaster/internal/wallet"
	kmerr "github.com/macterra/keymaster/pkg/errors"
)

// snapshotWallet deep-copies a wallet through its JSON form.
func snapshotWallet(t *testing.T, k *Keymaster) *wallet.Wallet {
	t.Helper()

	w, err := k.Wallet()
	require.NoError(t, err)

	data, err := json.Marshal(w)
	require.NoError(t, err)

	var copied wallet.Wallet
	require.NoError(t, json.Unmarshal(data, &copied))
	return &copied
}

func TestBackupAndRecoverWallet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg := gatekeeper.NewMemory()
	k := newEngine(t, reg)

	_, err := k.CreateID(ctx, "Alice")
	require.NoError(t, err)
	require.NoError(t, k.AddName(ctx, "work", "did:mdip:work"))

	mnemonic, err := k.ShowMnemonic(ctx)
	require.NoError(t, err)

	pre := snapshotWallet(t, k)

	backupDID, err := k.BackupWallet(ctx)
	require.NoError(t, err)

	// Wipe the wallet, seeded from the same mnemonic
	fresh, err := k.NewWallet(ctx, mnemonic)
	require.NoError(t, err)
	assert.Empty(t, fresh.IDs)
	assert.Equal(t, pre.Seed.HDKey.XPriv, fresh.Seed.HDKey.XPriv)

	recovered, err := k.RecoverWallet(ctx, backupDID)
	require.NoError(t, err)
	assert.Equal(t, pre, recovered)

	// The recovered wallet is persisted
	w, err := k.Wallet()
	require.NoError(t, err)
	assert.Equal(t, pre, w)
}

func TestRecoverWalletWrongSeed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg := gatekeeper.NewMemory()
	k := newEngine(t, reg)

	_, err := k.CreateID(ctx, "Alice")
	require.NoError(t, err)

	backupDID, err := k.BackupWallet(ctx)
	require.NoError(t, err)

	// Replace the wallet with a different seed entirely
	_, err = k.NewWallet(ctx, "")
	require.NoError(t, err)

	_, err = k.RecoverWallet(ctx, backupDID)
	assert.ErrorIs(t, err, kmerr.ErrCannotRecoverWallet)
}

func TestBackupAndRecoverID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg := gatekeeper.NewMemory()
	k := newEngine(t, reg)

	aliceDID, err := k.CreateID(ctx, "Alice")
	require.NoError(t, err)

	// Give the identity some state worth recovering
	schemaDID, err := k.CreateSchema(ctx, json.RawMessage(`{"type":"object","properties":{"x":{"type":"string"}}}`))
	require.NoError(t, err)

	mnemonic, err := k.ShowMnemonic(ctx)
	require.NoError(t, err)

	vaultDID, err := k.BackupID(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, vaultDID)

	// The identity document now references the vault
	doc, err := k.ResolveDID(ctx, aliceDID)
	require.NoError(t, err)
	assert.Equal(t, vaultDID, doc.Metadata.Vault)

	preID := snapshotWallet(t, k).IDs["Alice"]

	// Wipe the wallet, keeping the seed, then recover the identity
	_, err = k.NewWallet(ctx, mnemonic)
	require.NoError(t, err)

	name, err := k.RecoverID(ctx, aliceDID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", name)

	w, err := k.Wallet()
	require.NoError(t, err)
	assert.Equal(t, "Alice", w.Current)
	require.Contains(t, w.IDs, "Alice")
	assert.Equal(t, preID, w.IDs["Alice"])
	assert.Contains(t, w.IDs["Alice"].Owned, schemaDID)
	assert.Greater(t, w.Counter, w.IDs["Alice"].Account)
}

func TestRecoverIDForeignSeed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg := gatekeeper.NewMemory()
	alice := newEngine(t, reg)
	mallory := newEngine(t, reg)

	aliceDID, err := alice.CreateID(ctx, "Alice")
	require.NoError(t, err)
	_, err = mallory.CreateID(ctx, "Mallory")
	require.NoError(t, err)

	_, err = alice.BackupID(ctx)
	require.NoError(t, err)

	// A wallet with a different seed cannot decrypt the vault
	_, err = mallory.RecoverID(ctx, aliceDID)
	assert.ErrorIs(t, err, kmerr.ErrCannotRecoverID)
}

func TestRecoverIDWithoutVault(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg := gatekeeper.NewMemory()
	k := newEngine(t, reg)

	did, err := k.CreateID(ctx, "Alice")
	require.NoError(t, err)

	_, err = k.RecoverID(ctx, did)
	assert.ErrorIs(t, err, kmerr.ErrCannotRecoverID)
}

func TestNewWalletSuggestsTypoFixes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	k := newEngine(t, gatekeeper.NewMemory())

	_, err := k.NewWallet(ctx, "abandon abandno abandon abandon abandon abandon abandon abandon abandon abandon abandon about")
	require.ErrorIs(t, err, kmerr.ErrInvalidMnemonic)

	var ke *kmerr.KeymasterError
	require.ErrorAs(t, err, &ke)
	assert.Contains(t, ke.Suggestion, "did you mean 'abandon'?")

	// A valid-word phrase with a bad checksum gets no suggestion
	_, err = k.NewWallet(ctx, "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon")
	require.ErrorIs(t, err, kmerr.ErrInvalidMnemonic)
	require.ErrorAs(t, err, &ke)
	assert.Empty(t, ke.Suggestion)
}

func TestNewWalletOverwrites(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	k := newEngine(t, gatekeeper.NewMemory())

	_, err := k.CreateID(ctx, "Alice")
	require.NoError(t, err)

	w, err := k.NewWallet(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, w.IDs)
	assert.Equal(t, uint32(0), w.Counter)

	persisted, err := k.Wallet()
	require.NoError(t, err)
	assert.Empty(t, persisted.IDs)
}
