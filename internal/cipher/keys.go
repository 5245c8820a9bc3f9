// Package cipher provides the cryptographic primitives for Keymaster:
// BIP39 mnemonics, BIP32 hierarchical key derivation, secp256k1 signing
// and ECDH message encryption, and RFC 8785 JSON canonicalization.
// All operations are pure; nothing in this package performs I/O.
package cipher

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/hdkeychain/v3"
)

var (
	// ErrInvalidJWK indicates a malformed or non-secp256k1 JWK.
	ErrInvalidJWK = errors.New("invalid JWK")

	// ErrMissingPrivateKey indicates a JWK without the private scalar.
	ErrMissingPrivateKey = errors.New("JWK has no private key component")
)

// JWK is a JSON Web Key restricted to the secp256k1 curve.
// Coordinates and the private scalar are base64url without padding.
type JWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
	D   string `json:"d,omitempty"`
}

// Keypair holds a private/public JWK pair derived from the HD tree.
type Keypair struct {
	Private JWK `json:"privateJwk"`
	Public  JWK `json:"publicJwk"`
}

// hdNetParams satisfies hdkeychain.NetworkParams for BIP32 key derivation.
// Uses standard Bitcoin mainnet HD version bytes.
type hdNetParams struct{}

func (hdNetParams) HDPrivKeyVersion() [4]byte { return [4]byte{0x04, 0x88, 0xAD, 0xE4} }
func (hdNetParams) HDPubKeyVersion() [4]byte  { return [4]byte{0x04, 0x88, 0xB2, 0x1E} }

// MasterKeyFromSeed creates the BIP32 master extended key from a BIP39 seed.
func MasterKeyFromSeed(seed []byte) (*hdkeychain.ExtendedKey, error) {
	master, err := hdkeychain.NewMaster(seed, hdNetParams{})
	if err != nil {
		return nil, fmt.Errorf("creating master key: %w", err)
	}
	return master, nil
}

// ParseMasterKey parses a base58 xpriv back into an extended key.
func ParseMasterKey(xpriv string) (*hdkeychain.ExtendedKey, error) {
	master, err := hdkeychain.NewKeyFromString(xpriv, hdNetParams{})
	if err != nil {
		return nil, fmt.Errorf("parsing extended key: %w", err)
	}
	return master, nil
}

// SerializeMasterKey returns the xpriv and xpub serializations of a master key.
func SerializeMasterKey(master *hdkeychain.ExtendedKey) (xpriv, xpub string) {
	return master.String(), master.Neuter().String()
}

// DerivationPath returns the BIP44 path used for an identity key.
func DerivationPath(account, index uint32) string {
	return fmt.Sprintf("m/44'/0'/%d'/0/%d", account, index)
}

// DeriveKeypair derives the secp256k1 keypair at m/44'/0'/account'/0/index.
// The account component is hardened; index is not, so a rotation never
// crosses an account boundary.
func DeriveKeypair(master *hdkeychain.ExtendedKey, account, index uint32) (*Keypair, error) {
	// m/44' (purpose)
	purposeKey, err := master.ChildBIP32Std(hdkeychain.HardenedKeyStart + 44)
	if err != nil {
		return nil, fmt.Errorf("deriving purpose key: %w", err)
	}

	// m/44'/0' (coin type)
	coinTypeKey, err := purposeKey.ChildBIP32Std(hdkeychain.HardenedKeyStart)
	if err != nil {
		return nil, fmt.Errorf("deriving coin type key: %w", err)
	}

	// m/44'/0'/account'
	accountKey, err := coinTypeKey.ChildBIP32Std(hdkeychain.HardenedKeyStart + account)
	if err != nil {
		return nil, fmt.Errorf("deriving account key: %w", err)
	}

	// m/44'/0'/account'/0 (external chain)
	changeKey, err := accountKey.ChildBIP32Std(0)
	if err != nil {
		return nil, fmt.Errorf("deriving change key: %w", err)
	}

	// m/44'/0'/account'/0/index
	indexKey, err := changeKey.ChildBIP32Std(index)
	if err != nil {
		return nil, fmt.Errorf("deriving index key: %w", err)
	}

	serialized, err := indexKey.SerializedPrivKey()
	if err != nil {
		return nil, fmt.Errorf("serializing private key: %w", err)
	}
	priv := secp256k1.PrivKeyFromBytes(serialized)
	defer ZeroBytes(serialized)

	return keypairFromPrivate(priv), nil
}

// keypairFromPrivate builds the JWK pair from a secp256k1 private key.
func keypairFromPrivate(priv *secp256k1.PrivateKey) *Keypair {
	pub := priv.PubKey()
	uncompressed := pub.SerializeUncompressed()

	x := base64.RawURLEncoding.EncodeToString(uncompressed[1:33])
	y := base64.RawURLEncoding.EncodeToString(uncompressed[33:65])
	d := base64.RawURLEncoding.EncodeToString(priv.Serialize())

	public := JWK{Kty: "EC", Crv: "secp256k1", X: x, Y: y}
	private := JWK{Kty: "EC", Crv: "secp256k1", X: x, Y: y, D: d}

	return &Keypair{Private: private, Public: public}
}

// PublicKeyFromJWK reconstructs a secp256k1 public key from a JWK.
func PublicKeyFromJWK(jwk JWK) (*secp256k1.PublicKey, error) {
	if jwk.Kty != "EC" || jwk.Crv != "secp256k1" {
		return nil, fmt.Errorf("%w: kty=%q crv=%q", ErrInvalidJWK, jwk.Kty, jwk.Crv)
	}

	x, err := base64.RawURLEncoding.DecodeString(jwk.X)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding x: %w", ErrInvalidJWK, err)
	}
	y, err := base64.RawURLEncoding.DecodeString(jwk.Y)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding y: %w", ErrInvalidJWK, err)
	}
	if len(x) != 32 || len(y) != 32 {
		return nil, fmt.Errorf("%w: coordinate length x=%d y=%d", ErrInvalidJWK, len(x), len(y))
	}

	uncompressed := make([]byte, 65)
	uncompressed[0] = 0x04
	copy(uncompressed[1:33], x)
	copy(uncompressed[33:65], y)

	pub, err := secp256k1.ParsePubKey(uncompressed)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidJWK, err)
	}
	return pub, nil
}

// PrivateKeyFromJWK reconstructs a secp256k1 private key from a JWK.
func PrivateKeyFromJWK(jwk JWK) (*secp256k1.PrivateKey, error) {
	if jwk.Kty != "EC" || jwk.Crv != "secp256k1" {
		return nil, fmt.Errorf("%w: kty=%q crv=%q", ErrInvalidJWK, jwk.Kty, jwk.Crv)
	}
	if jwk.D == "" {
		return nil, ErrMissingPrivateKey
	}

	d, err := base64.RawURLEncoding.DecodeString(jwk.D)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding d: %w", ErrInvalidJWK, err)
	}
	if len(d) != 32 {
		return nil, fmt.Errorf("%w: scalar length %d", ErrInvalidJWK, len(d))
	}

	priv := secp256k1.PrivKeyFromBytes(d)
	ZeroBytes(d)
	return priv, nil
}

// ZeroBytes zeros out a byte slice.
func ZeroBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
