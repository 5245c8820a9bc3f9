package gatekeeper

import (
	"crypto/sha256"
	"time"

	"github.com/macterra/keymaster/internal/cipher"
)

// sha256Sum returns the raw SHA-256 of data.
func sha256Sum(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// SignOperation hashes the operation (signature detached) and attaches a
// signature produced by the given private key. Signer is the DID string to
// record, or empty for self-signed agent create operations.
func SignOperation(op *Operation, privJWK cipher.JWK, signer string, now time.Time) error {
	hash, err := HashOperation(op)
	if err != nil {
		return err
	}

	value, err := cipher.SignHash(hash, privJWK)
	if err != nil {
		return err
	}

	op.Signature = &Signature{
		Signer: signer,
		Signed: now.UTC().Format(TimeFormat),
		Hash:   hash,
		Value:  value,
	}
	return nil
}

// VerifyOperation checks an operation's signature against a public key.
// The hash recorded in the signature must match the recomputed hash of the
// operation with the signature detached.
func VerifyOperation(op *Operation, pubJWK cipher.JWK) bool {
	if op == nil || op.Signature == nil {
		return false
	}

	hash, err := HashOperation(op)
	if err != nil {
		return false
	}
	if hash != op.Signature.Hash {
		return false
	}

	return cipher.VerifySig(hash, op.Signature.Value, pubJWK)
}
