package keymaster

import (
	"context"
	"encoding/json"
	"time"

	"github.com/macterra/keymaster/internal/cipher"
	"github.com/macterra/keymaster/internal/gatekeeper"
	kmerr "github.com/macterra/keymaster/pkg/errors"
)

// AddSignature signs a JSON object with the current identity's key.
// Any existing signature is stripped before canonicalization, so signing
// is idempotent over the object's content. The returned object carries
// signature = { signer, signed, hash, value }.
func (k *Keymaster) AddSignature(_ context.Context, obj map[string]any) (map[string]any, error) {
	if obj == nil {
		return nil, kmerr.ErrInvalidInput
	}

	w, err := k.store.Load()
	if err != nil {
		return nil, err
	}
	id, err := requireCurrent(w)
	if err != nil {
		return nil, err
	}

	kp, err := currentKeypair(w, id)
	if err != nil {
		return nil, err
	}

	signed := make(map[string]any, len(obj)+1)
	for key, val := range obj {
		if key == "signature" {
			continue
		}
		signed[key] = val
	}

	hash, err := objectHash(signed)
	if err != nil {
		return nil, err
	}

	value, err := cipher.SignHash(hash, kp.Private)
	if err != nil {
		return nil, err
	}

	signed["signature"] = map[string]any{
		"signer": id.DID,
		"signed": k.now().UTC().Format(gatekeeper.TimeFormat),
		"hash":   hash,
		"value":  value,
	}

	return signed, nil
}

// VerifySignature checks a signed JSON object. The signer's document is
// resolved as of the signing time, so signatures made before a key
// rotation still verify. Well-formed objects that fail any check return
// false rather than an error.
func (k *Keymaster) VerifySignature(ctx context.Context, obj map[string]any) bool {
	if obj == nil {
		return false
	}

	sigField, ok := obj["signature"].(map[string]any)
	if !ok {
		return false
	}

	signer, _ := sigField["signer"].(string)
	signedAt, _ := sigField["signed"].(string)
	sigHash, _ := sigField["hash"].(string)
	sigValue, _ := sigField["value"].(string)
	if signer == "" || sigHash == "" || sigValue == "" {
		return false
	}

	residue := make(map[string]any, len(obj))
	for key, val := range obj {
		if key == "signature" {
			continue
		}
		residue[key] = val
	}

	hash, err := objectHash(residue)
	if err != nil || hash != sigHash {
		return false
	}

	key, err := k.signerKey(ctx, signer, signedAt)
	if err != nil {
		return false
	}

	return cipher.VerifySig(hash, sigValue, key)
}

// signerKey resolves the signer's key at the signing time when available,
// falling back to the current key for objects without a usable timestamp.
func (k *Keymaster) signerKey(ctx context.Context, signer, signedAt string) (cipher.JWK, error) {
	if signedAt != "" {
		if at, err := time.Parse(gatekeeper.TimeFormat, signedAt); err == nil {
			return k.resolveKeyAt(ctx, signer, at)
		}
	}
	return k.resolveKey(ctx, signer)
}

// objectHash canonicalizes a JSON object and returns its SHA-256 hex.
func objectHash(obj map[string]any) (string, error) {
	data, err := json.Marshal(obj)
	if err != nil {
		return "", err
	}
	return cipher.HashJSON(data)
}

// signStruct converts a typed value to a JSON object and signs it.
func (k *Keymaster) signStruct(ctx context.Context, v any) (map[string]any, error) {
	obj, err := toMap(v)
	if err != nil {
		return nil, err
	}
	return k.AddSignature(ctx, obj)
}
