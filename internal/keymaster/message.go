package keymaster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/macterra/keymaster/internal/cipher"
	"github.com/macterra/keymaster/internal/gatekeeper"
	"github.com/macterra/keymaster/internal/wallet"
	kmerr "github.com/macterra/keymaster/pkg/errors"
)

// Envelope is the asymmetric message container anchored as a data-DID.
// The plaintext is encrypted twice: once openable by the sender, once by
// the receiver, so either party can resolve the DID later and read it.
type Envelope struct {
	// Sender is the authoring agent DID.
	Sender string `json:"sender"`

	// Created records when the envelope was sealed. Decryption resolves
	// the counterparty's key as of this instant, which keeps envelopes
	// readable across later key rotations.
	Created string `json:"created"`

	// CipherHash is the SHA-256 of the plaintext.
	CipherHash string `json:"cipher_hash"`

	// CipherSender is the plaintext sealed to the sender's own key.
	CipherSender string `json:"cipher_sender"`

	// CipherReceiver is the plaintext sealed to the receiver's key.
	CipherReceiver string `json:"cipher_receiver"`
}

// Encrypt seals a message for a receiver DID and anchors the envelope as a
// data-DID controlled by the current identity. Returns the envelope DID.
func (k *Keymaster) Encrypt(ctx context.Context, plaintext []byte, receiver string) (string, error) {
	if len(plaintext) == 0 {
		return "", kmerr.ErrInvalidInput
	}

	w, err := k.store.Load()
	if err != nil {
		return "", err
	}
	id, err := requireCurrent(w)
	if err != nil {
		return "", err
	}

	receiverDID := w.ResolveDID(receiver)
	receiverKey, err := k.resolveKey(ctx, receiverDID)
	if err != nil {
		return "", err
	}

	kp, err := currentKeypair(w, id)
	if err != nil {
		return "", err
	}

	cipherSender, err := cipher.EncryptMessage(kp.Public, kp.Private, plaintext)
	if err != nil {
		return "", err
	}
	cipherReceiver, err := cipher.EncryptMessage(receiverKey, kp.Private, plaintext)
	if err != nil {
		return "", err
	}

	envelope := &Envelope{
		Sender:         id.DID,
		Created:        k.now().UTC().Format(gatekeeper.TimeFormat),
		CipherHash:     cipher.HashMessage(string(plaintext)),
		CipherSender:   cipherSender,
		CipherReceiver: cipherReceiver,
	}

	did, err := k.anchorAsset(ctx, w, id, envelope)
	if err != nil {
		return "", err
	}

	id.AddOwned(did)
	if err := k.store.Save(w); err != nil {
		return "", err
	}

	return did, nil
}

// Decrypt resolves an envelope DID and recovers the plaintext. The current
// identity must be the envelope's sender or its receiver. The local key
// history is walked from the current index back to zero, so messages
// encrypted before any number of rotations still open.
func (k *Keymaster) Decrypt(ctx context.Context, envelopeDID string) ([]byte, error) {
	w, err := k.store.Load()
	if err != nil {
		return nil, err
	}
	id, err := requireCurrent(w)
	if err != nil {
		return nil, err
	}

	var envelope Envelope
	if err := k.assetData(ctx, w.ResolveDID(envelopeDID), &envelope); err != nil {
		return nil, err
	}

	plaintext, err := k.openEnvelope(ctx, w, id, &envelope)
	if err != nil {
		return nil, err
	}

	if cipher.HashMessage(string(plaintext)) != envelope.CipherHash {
		return nil, kmerr.ErrTamperedCiphertext
	}

	return plaintext, nil
}

// openEnvelope decrypts the role-appropriate ciphertext, walking the local
// key history backward on failure.
func (k *Keymaster) openEnvelope(ctx context.Context, w *wallet.Wallet, id *wallet.Identity, envelope *Envelope) ([]byte, error) {
	asSender := envelope.Sender == id.DID

	var counterpartyKey cipher.JWK
	ciphertext := envelope.CipherSender
	if !asSender {
		ciphertext = envelope.CipherReceiver

		created, err := time.Parse(gatekeeper.TimeFormat, envelope.Created)
		if err != nil {
			return nil, fmt.Errorf("%w: bad envelope timestamp: %w", kmerr.ErrInvalidInput, err)
		}
		// The sender may have rotated since sealing; resolve the key
		// that was current when the envelope was created.
		counterpartyKey, err = k.resolveKeyAt(ctx, envelope.Sender, created)
		if err != nil {
			return nil, err
		}
	}

	for index := int64(id.Index); index >= 0; index-- {
		kp, err := keypairAt(w, id, uint32(index))
		if err != nil {
			return nil, err
		}

		otherKey := counterpartyKey
		if asSender {
			// The sender copy was sealed to the key in use at the
			// time, so the walk covers both sides at once.
			otherKey = kp.Public
		}

		plaintext, err := cipher.DecryptMessage(otherKey, kp.Private, ciphertext)
		if err == nil {
			return plaintext, nil
		}
		if !errors.Is(err, cipher.ErrDecryptionFailed) {
			return nil, err
		}
	}

	return nil, kmerr.ErrDecryptionFailed
}

// EncryptJSON canonicalizes a JSON document and seals it for a receiver.
func (k *Keymaster) EncryptJSON(ctx context.Context, doc any, receiver string) (string, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshaling document: %w", err)
	}
	canonical, err := cipher.Canonicalize(data)
	if err != nil {
		return "", err
	}
	return k.Encrypt(ctx, canonical, receiver)
}

// DecryptJSON decrypts an envelope and returns the JSON plaintext.
func (k *Keymaster) DecryptJSON(ctx context.Context, envelopeDID string) (json.RawMessage, error) {
	plaintext, err := k.Decrypt(ctx, envelopeDID)
	if err != nil {
		return nil, err
	}
	if !json.Valid(plaintext) {
		return nil, fmt.Errorf("%w: envelope does not contain JSON", kmerr.ErrInvalidInput)
	}
	return plaintext, nil
}
