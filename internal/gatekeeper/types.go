// Package gatekeeper implements the registry client for the MDIP DID
// method: wire types for operations and DID documents, DID minting, an
// HTTP client for a remote gatekeeper, and an in-process registry used
// for local mode and tests.
package gatekeeper

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mr-tron/base58"

	"github.com/macterra/keymaster/internal/cipher"
)

// DID method constants.
const (
	// DIDPrefix is the string prefix of every MDIP DID.
	DIDPrefix = "did:mdip:"

	// MDIPVersion is the supported protocol version.
	MDIPVersion = 1
)

// Operation verbs.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// DID document types.
const (
	TypeAgent = "agent"
	TypeAsset = "asset"
)

// Supported registries. The registry choice influences anchoring on the
// gatekeeper side but not the document shape.
const (
	RegistryLocal   = "local"
	RegistryPeerbit = "peerbit"
	RegistryBTC     = "BTC"
	RegistryTBTC    = "tBTC"
)

// TimeFormat is used for every timestamp on the wire. Nanosecond precision
// keeps version ordering stable even when operations land within the same
// second.
const TimeFormat = time.RFC3339Nano

// MDIP identifies the protocol version, document type, and target registry
// of an operation.
type MDIP struct {
	Version  int    `json:"version"`
	Type     string `json:"type"`
	Registry string `json:"registry"`
}

// Signature binds an operation or document to a signing key.
type Signature struct {
	// Signer is the DID whose key produced the signature. Empty on
	// agent create operations, which are self-signed by the embedded key.
	Signer string `json:"signer,omitempty"`

	// Signed is the signing timestamp in TimeFormat.
	Signed string `json:"signed"`

	// Hash is the SHA-256 hex of the canonicalized signed object.
	Hash string `json:"hash"`

	// Value is the DER-encoded ECDSA signature in hex.
	Value string `json:"value"`
}

// Operation is one entry in a DID's linear history.
type Operation struct {
	Op   string `json:"op"`
	DID  string `json:"did,omitempty"`
	MDIP MDIP   `json:"mdip"`

	// PublicJWK carries the initial key of an agent create operation.
	PublicJWK *cipher.JWK `json:"publicJwk,omitempty"`

	// Controller is the creating agent DID of an asset create operation.
	Controller string `json:"controller,omitempty"`

	// Data is the payload of an asset create operation.
	Data json.RawMessage `json:"data,omitempty"`

	// Doc is the replacement document of an update operation.
	Doc *DIDDocument `json:"doc,omitempty"`

	// Created is the operation timestamp in TimeFormat.
	Created string `json:"created,omitempty"`

	// Prev is the hash of the previous operation, chaining the history.
	Prev string `json:"prev,omitempty"`

	Signature *Signature `json:"signature,omitempty"`
}

// VerificationMethod is a key entry in a DID document.
type VerificationMethod struct {
	ID           string     `json:"id"`
	Controller   string     `json:"controller"`
	Type         string     `json:"type"`
	PublicKeyJWK cipher.JWK `json:"publicKeyJwk"`
}

// Document is the core DID document.
type Document struct {
	Context            []string             `json:"@context,omitempty"`
	ID                 string               `json:"id,omitempty"`
	Controller         string               `json:"controller,omitempty"`
	VerificationMethod []VerificationMethod `json:"verificationMethod,omitempty"`
	Authentication     []string             `json:"authentication,omitempty"`
}

// Metadata is the document metadata returned by resolution. Data, Manifest,
// and Vault are controller-settable; the rest is registry-managed.
type Metadata struct {
	Created     string                     `json:"created,omitempty"`
	Updated     string                     `json:"updated,omitempty"`
	Version     int                        `json:"version,omitempty"`
	Deactivated bool                       `json:"deactivated,omitempty"`
	Data        json.RawMessage            `json:"data,omitempty"`
	Manifest    map[string]json.RawMessage `json:"manifest,omitempty"`
	Vault       string                     `json:"vault,omitempty"`

	// OpHash is the hash of the latest operation. Clients chain the next
	// update's prev field to it.
	OpHash string `json:"opHash,omitempty"`
}

// DIDDocument is the full resolution result.
type DIDDocument struct {
	Document Document `json:"didDocument"`
	Metadata Metadata `json:"didDocumentMetadata"`
}

// CurrentKey returns the first verification method key, which is the
// document's active signing and agreement key.
func (d *DIDDocument) CurrentKey() (cipher.JWK, bool) {
	if len(d.Document.VerificationMethod) == 0 {
		return cipher.JWK{}, false
	}
	return d.Document.VerificationMethod[0].PublicKeyJWK, true
}

// Registry is the contract the identity and credential engines require.
// Resolution is read-only and idempotent; mutations are at-most-once from
// the client's perspective, deduplicated by operation hash on the server.
type Registry interface {
	// CreateDID submits a signed create operation and returns the
	// canonical DID minted from its content hash.
	CreateDID(ctx context.Context, op *Operation) (string, error)

	// ResolveDID returns the current document, or a tombstone document
	// with deactivated metadata for deleted DIDs.
	ResolveDID(ctx context.Context, did string) (*DIDDocument, error)

	// ResolveDIDAtTime returns the document as of the given instant,
	// used to verify signatures and open envelopes that predate a key
	// rotation.
	ResolveDIDAtTime(ctx context.Context, did string, at time.Time) (*DIDDocument, error)

	// UpdateDID appends an update operation to the DID's history.
	UpdateDID(ctx context.Context, op *Operation) error

	// DeleteDID deactivates the DID.
	DeleteDID(ctx context.Context, op *Operation) error
}

// AgentDocument builds the standard document for an agent DID holding a
// single secp256k1 verification key.
func AgentDocument(did string, key cipher.JWK) Document {
	keyID := did + "#key-1"
	return Document{
		Context: []string{"https://www.w3.org/ns/did/v1"},
		ID:      did,
		VerificationMethod: []VerificationMethod{{
			ID:           keyID,
			Controller:   did,
			Type:         keyType,
			PublicKeyJWK: key,
		}},
		Authentication: []string{keyID},
	}
}

// HashOperation returns the SHA-256 hex of the canonicalized operation,
// excluding its signature. This is the value signed, chained as prev, and
// hashed into the DID itself.
func HashOperation(op *Operation) (string, error) {
	unsigned := *op
	unsigned.Signature = nil

	doc, err := json.Marshal(&unsigned)
	if err != nil {
		return "", fmt.Errorf("marshaling operation: %w", err)
	}
	return cipher.HashJSON(doc)
}

// MintDID derives the canonical DID from a create operation: the base58
// encoding of the operation's content hash under the did:mdip prefix.
func MintDID(op *Operation) (string, error) {
	unsigned := *op
	unsigned.Signature = nil

	doc, err := json.Marshal(&unsigned)
	if err != nil {
		return "", fmt.Errorf("marshaling operation: %w", err)
	}
	canonical, err := cipher.Canonicalize(doc)
	if err != nil {
		return "", err
	}

	sum := sha256Sum(canonical)
	return DIDPrefix + base58.Encode(sum), nil
}
