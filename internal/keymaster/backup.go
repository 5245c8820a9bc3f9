package keymaster

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/macterra/keymaster/internal/cipher"
	"github.com/macterra/keymaster/internal/gatekeeper"
	"github.com/macterra/keymaster/internal/wallet"
	kmerr "github.com/macterra/keymaster/pkg/errors"
)

// vaultContext prefixes the HKDF info string for identity vault keys, so a
// vault key is bound to both the wallet seed and the identity DID.
const vaultContext = "keymaster/vault/"

// walletBackup is the payload of a wallet backup data-DID.
type walletBackup struct {
	Backup string `json:"backup"`
}

// identityVault is the payload of an identity vault data-DID.
type identityVault struct {
	Vault string `json:"vault"`
}

// vaultRecord is the plaintext stored in an identity vault.
type vaultRecord struct {
	Name     string           `json:"name"`
	Identity *wallet.Identity `json:"identity"`
}

// NewWallet unconditionally replaces the wallet with a fresh one built
// from the given mnemonic, or from a newly generated phrase when empty.
// An invalid phrase with words outside the BIP39 word list fails with a
// per-word hint, naming the closest list word where one is within
// MaxTypoDistance.
func (k *Keymaster) NewWallet(_ context.Context, mnemonic string) (*wallet.Wallet, error) {
	w, err := wallet.New(mnemonic)
	if err != nil {
		if errors.Is(err, cipher.ErrInvalidMnemonic) {
			if typos := cipher.DetectTypos(mnemonic); len(typos) > 0 {
				return nil, kmerr.WithSuggestion(kmerr.ErrInvalidMnemonic, cipher.FormatTypoSuggestions(typos))
			}
			return nil, kmerr.ErrInvalidMnemonic
		}
		return nil, err
	}
	if err := k.store.Save(w); err != nil {
		return nil, err
	}
	return w, nil
}

// ShowMnemonic decrypts and returns the wallet's recovery phrase.
func (k *Keymaster) ShowMnemonic(_ context.Context) (string, error) {
	w, err := k.store.Load()
	if err != nil {
		return "", err
	}
	return w.DecryptMnemonic()
}

// BackupWallet encrypts the wallet under its own mnemonic and anchors the
// ciphertext as a data-DID controlled by the current identity. Returns the
// backup DID.
func (k *Keymaster) BackupWallet(ctx context.Context) (string, error) {
	w, err := k.store.Load()
	if err != nil {
		return "", err
	}
	id, err := requireCurrent(w)
	if err != nil {
		return "", err
	}

	mnemonic, err := w.DecryptMnemonic()
	if err != nil {
		return "", err
	}

	snapshot, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("marshaling wallet: %w", err)
	}

	sealed, err := cipher.EncryptWithPassphrase(snapshot, mnemonic)
	if err != nil {
		return "", err
	}

	did, err := k.anchorAsset(ctx, w, id, &walletBackup{
		Backup: base64.StdEncoding.EncodeToString(sealed),
	})
	if err != nil {
		return "", err
	}

	id.AddOwned(did)
	if err := k.store.Save(w); err != nil {
		return "", err
	}

	return did, nil
}

// RecoverWallet fetches a wallet backup DID, decrypts it with the current
// wallet's mnemonic, and replaces the wallet. Fails with
// ErrCannotRecoverWallet when the mnemonic does not open the backup.
func (k *Keymaster) RecoverWallet(ctx context.Context, backupDID string) (*wallet.Wallet, error) {
	w, err := k.store.Load()
	if err != nil {
		return nil, err
	}

	mnemonic, err := w.DecryptMnemonic()
	if err != nil {
		return nil, err
	}

	var payload walletBackup
	if err := k.assetData(ctx, w.ResolveDID(backupDID), &payload); err != nil {
		return nil, err
	}

	sealed, err := base64.StdEncoding.DecodeString(payload.Backup)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", kmerr.ErrCannotRecoverWallet, err)
	}

	snapshot, err := cipher.DecryptWithPassphrase(sealed, mnemonic)
	if err != nil {
		return nil, kmerr.ErrCannotRecoverWallet
	}

	var recovered wallet.Wallet
	if err := json.Unmarshal(snapshot, &recovered); err != nil {
		return nil, fmt.Errorf("%w: %w", kmerr.ErrCannotRecoverWallet, err)
	}
	if recovered.IDs == nil {
		recovered.IDs = make(map[string]*wallet.Identity)
	}
	if recovered.Names == nil {
		recovered.Names = make(map[string]string)
	}

	if err := k.store.Save(&recovered); err != nil {
		return nil, err
	}
	return &recovered, nil
}

// BackupID stores the current identity's record, encrypted under a key
// derived from the wallet seed, in a vault data-DID referenced from the
// identity's document metadata.
func (k *Keymaster) BackupID(ctx context.Context) (string, error) {
	w, err := k.store.Load()
	if err != nil {
		return "", err
	}
	id, err := requireCurrent(w)
	if err != nil {
		return "", err
	}

	record, err := json.Marshal(&vaultRecord{Name: w.Current, Identity: id})
	if err != nil {
		return "", fmt.Errorf("marshaling identity record: %w", err)
	}

	key, err := k.vaultKey(w, id.DID)
	if err != nil {
		return "", err
	}
	defer cipher.ZeroBytes(key)

	sealed, err := cipher.EncryptWithKey(key, record)
	if err != nil {
		return "", err
	}

	vaultDID, err := k.anchorAsset(ctx, w, id, &identityVault{Vault: sealed})
	if err != nil {
		return "", err
	}

	// Reference the vault from the identity's document so recovery can
	// find it from the DID alone.
	head, err := k.registry.ResolveDID(ctx, id.DID)
	if err != nil {
		return "", err
	}
	doc := &gatekeeper.DIDDocument{
		Document: head.Document,
		Metadata: gatekeeper.Metadata{
			Data:     head.Metadata.Data,
			Manifest: head.Metadata.Manifest,
			Vault:    vaultDID,
		},
	}
	if err := k.updateDID(ctx, w, id, id.DID, doc); err != nil {
		return "", err
	}

	return vaultDID, nil
}

// RecoverID reconstructs an identity from its vault. The wallet's seed
// must be the one that produced the vault key; a wallet with a different
// seed fails with ErrCannotRecoverID.
func (k *Keymaster) RecoverID(ctx context.Context, did string) (string, error) {
	w, err := k.store.Load()
	if err != nil {
		return "", err
	}
	did = w.ResolveDID(did)

	head, err := k.registry.ResolveDID(ctx, did)
	if err != nil {
		return "", err
	}
	if head.Metadata.Vault == "" {
		return "", fmt.Errorf("%w: no vault reference", kmerr.ErrCannotRecoverID)
	}

	var payload identityVault
	if err := k.assetData(ctx, head.Metadata.Vault, &payload); err != nil {
		return "", err
	}

	key, err := k.vaultKey(w, did)
	if err != nil {
		return "", err
	}
	defer cipher.ZeroBytes(key)

	record, err := cipher.DecryptWithKey(key, payload.Vault)
	if err != nil {
		// A different seed derives a different vault key.
		return "", kmerr.ErrCannotRecoverID
	}

	var vault vaultRecord
	if err := json.Unmarshal(record, &vault); err != nil || vault.Identity == nil || vault.Name == "" {
		return "", kmerr.ErrCannotRecoverID
	}

	if existing, ok := w.IDs[vault.Name]; ok && existing.DID != vault.Identity.DID {
		return "", kmerr.WithDetails(kmerr.ErrNameTaken, map[string]string{"name": vault.Name})
	}

	w.IDs[vault.Name] = vault.Identity
	w.Current = vault.Name
	if vault.Identity.Account >= w.Counter {
		w.Counter = vault.Identity.Account + 1
	}
	if err := k.store.Save(w); err != nil {
		return "", err
	}

	return vault.Name, nil
}

// vaultKey derives the identity vault key from the wallet seed and DID.
func (k *Keymaster) vaultKey(w *wallet.Wallet, did string) ([]byte, error) {
	master, err := w.MasterKey()
	if err != nil {
		return nil, err
	}

	ikm, err := master.SerializedPrivKey()
	if err != nil {
		return nil, fmt.Errorf("serializing master key: %w", err)
	}
	defer cipher.ZeroBytes(ikm)

	return cipher.DeriveSymmetricKey(ikm, vaultContext+did)
}
