package cipher

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"filippo.io/age"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/hkdf"
)

var (
	// ErrDecryptionFailed indicates AEAD authentication failed.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrInvalidCiphertext indicates the ciphertext is too short or malformed.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
)

const (
	// aeadKeySize is the AES-256 key length.
	aeadKeySize = 32

	// nonceSize is the AES-GCM nonce length prepended to each ciphertext.
	nonceSize = 12

	// hkdfInfo domain-separates the message AEAD key from other HKDF uses.
	hkdfInfo = "keymaster/msg/v1"
)

// sharedAEAD derives the AES-GCM cipher for a sender/receiver key pair.
// ECDH yields the same x-coordinate on both sides, so the sender computing
// (senderPriv, receiverPub) and the receiver computing (receiverPriv,
// senderPub) arrive at the same key.
func sharedAEAD(pubJWK, privJWK JWK) (cipher.AEAD, error) {
	pub, err := PublicKeyFromJWK(pubJWK)
	if err != nil {
		return nil, err
	}

	priv, err := PrivateKeyFromJWK(privJWK)
	if err != nil {
		return nil, err
	}
	defer priv.Zero()

	secret := secp256k1.GenerateSharedSecret(priv, pub)
	defer ZeroBytes(secret)

	key := make([]byte, aeadKeySize)
	kdf := hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("expanding shared secret: %w", err)
	}
	defer ZeroBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("initializing AES: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("initializing GCM: %w", err)
	}

	return aead, nil
}

// EncryptMessage seals plaintext for the holder of the receiver public key.
// Output is base64(nonce || AES-GCM ciphertext).
func EncryptMessage(receiverPub, senderPriv JWK, plaintext []byte) (string, error) {
	aead, err := sharedAEAD(receiverPub, senderPriv)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptMessage opens a ciphertext produced by EncryptMessage.
// otherPub is the counterparty public key; selfPriv is the local private key.
// Returns ErrDecryptionFailed on authentication failure so callers can walk
// historical keys.
func DecryptMessage(otherPub, selfPriv JWK, ciphertext string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCiphertext, err)
	}
	if len(raw) < nonceSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidCiphertext, len(raw))
	}

	aead, err := sharedAEAD(otherPub, selfPriv)
	if err != nil {
		return nil, err
	}

	nonce, sealed := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}

// scryptWorkFactor controls the work factor for passphrase encryption.
// Default is 18 (age's secure default). Lower values for testing.
//
//nolint:gochecknoglobals // Package-level atomic for thread-safe work factor configuration
var scryptWorkFactor atomic.Int32

//nolint:gochecknoinits // Required to set secure default work factor
func init() {
	scryptWorkFactor.Store(18)
}

// SetScryptWorkFactor sets the work factor for passphrase encryption.
// Lower values are faster but less secure. Use only for testing.
// Range: 10 (fast/insecure) to 22 (very secure). Default: 18.
func SetScryptWorkFactor(factor int) {
	if factor < 10 {
		factor = 10
	} else if factor > 22 {
		factor = 22
	}
	scryptWorkFactor.Store(int32(factor))
}

// EncryptWithPassphrase encrypts plaintext using age with a scrypt recipient.
// Used for the wallet's at-rest mnemonic and for wallet backup blobs.
func EncryptWithPassphrase(plaintext []byte, passphrase string) ([]byte, error) {
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt recipient: %w", err)
	}
	recipient.SetWorkFactor(int(scryptWorkFactor.Load()))

	buf := &bytes.Buffer{}
	w, err := age.Encrypt(buf, recipient)
	if err != nil {
		return nil, fmt.Errorf("initializing encryption: %w", err)
	}

	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("writing encrypted data: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing encryption: %w", err)
	}

	return buf.Bytes(), nil
}

// DecryptWithPassphrase decrypts a blob produced by EncryptWithPassphrase.
// Returns ErrDecryptionFailed when the passphrase does not match.
func DecryptWithPassphrase(ciphertext []byte, passphrase string) ([]byte, error) {
	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}
	identity.SetMaxWorkFactor(int(scryptWorkFactor.Load()))

	r, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}

// EncryptSecure encrypts the contents of a SecureBytes container using age
// with a scrypt recipient. The container is left intact for the caller.
func EncryptSecure(sb *SecureBytes, passphrase string) ([]byte, error) {
	data := sb.Bytes()
	if data == nil {
		return nil, ErrInvalidCiphertext
	}
	return EncryptWithPassphrase(data, passphrase)
}

// DecryptSecure decrypts a blob produced by EncryptSecure into a
// SecureBytes container, zeroing the intermediate plaintext on all paths.
func DecryptSecure(ciphertext []byte, passphrase string) (*SecureBytes, error) {
	plaintext, err := DecryptWithPassphrase(ciphertext, passphrase)
	if err != nil {
		return nil, err
	}
	defer ZeroBytes(plaintext)

	return SecureBytesFromSlice(plaintext), nil
}

// DeriveSymmetricKey expands key material into a 32-byte AES key bound to
// the given context string. Used for identity vault encryption, where the
// key must be recoverable from the wallet seed alone.
func DeriveSymmetricKey(ikm []byte, context string) ([]byte, error) {
	key := make([]byte, aeadKeySize)
	kdf := hkdf.New(sha256.New, ikm, nil, []byte(context))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("deriving symmetric key: %w", err)
	}
	return key, nil
}

// EncryptWithKey seals plaintext under a raw 32-byte key with AES-GCM.
// Output layout matches EncryptMessage: base64(nonce || ciphertext).
func EncryptWithKey(key, plaintext []byte) (string, error) {
	if len(key) != aeadKeySize {
		return "", fmt.Errorf("%w: key length %d", ErrInvalidCiphertext, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("initializing AES: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("initializing GCM: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptWithKey opens a ciphertext produced by EncryptWithKey.
func DecryptWithKey(key []byte, ciphertext string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCiphertext, err)
	}
	if len(raw) < nonceSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidCiphertext, len(raw))
	}
	if len(key) != aeadKeySize {
		return nil, fmt.Errorf("%w: key length %d", ErrInvalidCiphertext, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("initializing AES: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("initializing GCM: %w", err)
	}

	nonce, sealed := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}
