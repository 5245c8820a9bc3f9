package cipher

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// ErrInvalidHash indicates the hash is not a 32-byte hex string.
var ErrInvalidHash = errors.New("hash must be 32 bytes of hex")

// SignHash signs a hex-encoded SHA-256 digest with the private JWK.
// The signature is DER-serialized ECDSA, returned as lowercase hex.
func SignHash(hashHex string, privJWK JWK) (string, error) {
	digest, err := hex.DecodeString(hashHex)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidHash, err)
	}
	if len(digest) != 32 {
		return "", fmt.Errorf("%w: got %d bytes", ErrInvalidHash, len(digest))
	}

	priv, err := PrivateKeyFromJWK(privJWK)
	if err != nil {
		return "", err
	}
	defer priv.Zero()

	sig := ecdsa.Sign(priv, digest)
	return hex.EncodeToString(sig.Serialize()), nil
}

// VerifySig verifies a DER signature over a hex digest against a public JWK.
// Malformed inputs verify as false, never as an error.
func VerifySig(hashHex, sigHex string, pubJWK JWK) bool {
	digest, err := hex.DecodeString(hashHex)
	if err != nil || len(digest) != 32 {
		return false
	}

	sigBytes, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}

	sig, err := ecdsa.ParseDERSignature(sigBytes)
	if err != nil {
		return false
	}

	pub, err := PublicKeyFromJWK(pubJWK)
	if err != nil {
		return false
	}

	return sig.Verify(digest, pub)
}
