// Package wallet defines the persistent state of the Keymaster process:
// the master seed, per-identity derivation state, name aliases, and the
// owned/held credential sets. Persistence is a single JSON file replaced
// atomically on every save.
package wallet

import (
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"

	"github.com/decred/dcrd/hdkeychain/v3"

	"github.com/macterra/keymaster/internal/cipher"
)

var (
	// ErrInvalidName indicates an identity or alias name is invalid.
	ErrInvalidName = errors.New("name must be 1-64 alphanumeric characters, underscores, or hyphens")

	// nameRegex validates identity and alias names.
	nameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)
)

// Identity is one DID controlled by this wallet. The (Account, Index) pair
// identifies the current signing key; earlier indices remain derivable from
// the seed, which is what keeps historical ciphertexts decryptable.
type Identity struct {
	// DID is the identity's decentralized identifier.
	DID string `json:"did"`

	// Account is the hardened account component of the derivation path.
	// Allocated at creation and never changed.
	Account uint32 `json:"account"`

	// Index is the current key index. Incremented on every rotation.
	Index uint32 `json:"index"`

	// Owned lists DIDs this identity has authored: credentials,
	// challenges, data anchors, and encrypted messages.
	Owned []string `json:"owned,omitempty"`

	// Held lists credential DIDs this identity has accepted as subject.
	Held []string `json:"held,omitempty"`
}

// Seed holds the wallet's key material.
type Seed struct {
	// Mnemonic is the recovery phrase, encrypted at rest under a
	// passphrase derived from the wallet's own extended key. This is a
	// deliberate round-trip property for the backup flow, not secrecy.
	Mnemonic string `json:"mnemonic"`

	// HDKey is the serialized BIP32 extended key pair.
	HDKey HDKey `json:"hdkey"`
}

// HDKey is the BIP32 serialization of the master key.
type HDKey struct {
	XPriv string `json:"xpriv"`
	XPub  string `json:"xpub"`
}

// Wallet is the process-wide persistent state.
type Wallet struct {
	// Seed is the master key material.
	Seed Seed `json:"seed"`

	// Counter is the next account to allocate. Monotonically increasing;
	// every identity satisfies account < counter.
	Counter uint32 `json:"counter"`

	// Current is the name of the active identity, or empty.
	Current string `json:"current"`

	// IDs maps identity name to identity record.
	IDs map[string]*Identity `json:"ids"`

	// Names maps human-readable aliases to arbitrary DIDs.
	Names map[string]string `json:"names"`
}

// ValidateName checks if an identity or alias name is acceptable.
func ValidateName(name string) error {
	if !nameRegex.MatchString(name) {
		return ErrInvalidName
	}
	return nil
}

// New creates a wallet from a recovery phrase. Pass the empty string to
// generate a fresh 12-word phrase.
func New(mnemonic string) (*Wallet, error) {
	if mnemonic == "" {
		var err error
		mnemonic, err = cipher.GenerateMnemonic()
		if err != nil {
			return nil, fmt.Errorf("generating mnemonic: %w", err)
		}
	} else if err := cipher.ValidateMnemonic(mnemonic); err != nil {
		return nil, err
	}
	mnemonic = cipher.NormalizeMnemonicInput(mnemonic)

	seed, err := cipher.SeedFromMnemonic(mnemonic)
	if err != nil {
		return nil, err
	}
	defer seed.Destroy()

	master, err := cipher.MasterKeyFromSeed(seed.Bytes())
	if err != nil {
		return nil, err
	}

	xpriv, xpub := cipher.SerializeMasterKey(master)

	phrase := cipher.SecureBytesFromSlice([]byte(mnemonic))
	defer phrase.Destroy()

	sealed, err := cipher.EncryptSecure(phrase, xpriv)
	if err != nil {
		return nil, fmt.Errorf("encrypting mnemonic: %w", err)
	}

	return &Wallet{
		Seed: Seed{
			Mnemonic: base64.StdEncoding.EncodeToString(sealed),
			HDKey:    HDKey{XPriv: xpriv, XPub: xpub},
		},
		IDs:   make(map[string]*Identity),
		Names: make(map[string]string),
	}, nil
}

// MasterKey parses the stored extended key.
func (w *Wallet) MasterKey() (*hdkeychain.ExtendedKey, error) {
	return cipher.ParseMasterKey(w.Seed.HDKey.XPriv)
}

// DecryptMnemonic recovers the plaintext recovery phrase from the wallet.
func (w *Wallet) DecryptMnemonic() (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(w.Seed.Mnemonic)
	if err != nil {
		return "", fmt.Errorf("decoding stored mnemonic: %w", err)
	}

	phrase, err := cipher.DecryptSecure(sealed, w.Seed.HDKey.XPriv)
	if err != nil {
		return "", fmt.Errorf("decrypting mnemonic: %w", err)
	}
	defer phrase.Destroy()

	return string(phrase.Bytes()), nil
}

// HasName reports whether a name is taken by an identity or an alias.
// Names are globally unique across both namespaces.
func (w *Wallet) HasName(name string) bool {
	if _, ok := w.IDs[name]; ok {
		return true
	}
	_, ok := w.Names[name]
	return ok
}

// CurrentID returns the active identity record, or nil if none is set.
func (w *Wallet) CurrentID() *Identity {
	if w.Current == "" {
		return nil
	}
	return w.IDs[w.Current]
}

// FindID resolves a name or DID string to an identity record.
func (w *Wallet) FindID(nameOrDID string) (*Identity, string, bool) {
	if id, ok := w.IDs[nameOrDID]; ok {
		return id, nameOrDID, true
	}
	for name, id := range w.IDs {
		if id.DID == nameOrDID {
			return id, name, true
		}
	}
	return nil, "", false
}

// ResolveDID maps a name, alias, or DID string to a DID string.
func (w *Wallet) ResolveDID(nameOrDID string) string {
	if id, ok := w.IDs[nameOrDID]; ok {
		return id.DID
	}
	if did, ok := w.Names[nameOrDID]; ok {
		return did
	}
	return nameOrDID
}

// AddOwned records a DID authored by the identity. Duplicates are ignored.
func (i *Identity) AddOwned(did string) {
	for _, d := range i.Owned {
		if d == did {
			return
		}
	}
	i.Owned = append(i.Owned, did)
}

// AddHeld records an accepted credential DID. Duplicates are ignored.
func (i *Identity) AddHeld(did string) {
	for _, d := range i.Held {
		if d == did {
			return
		}
	}
	i.Held = append(i.Held, did)
}
