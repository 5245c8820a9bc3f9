package gatekeeper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/macterra/keymaster/internal/cipher"
)

var (
	// ErrUnknownDID indicates the DID has no history in the registry.
	ErrUnknownDID = errors.New("unknown DID")

	// ErrInvalidOperation indicates a malformed or unsigned operation.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrBadSignature indicates the operation signature did not verify
	// against the controlling key.
	ErrBadSignature = errors.New("operation signature verification failed")

	// ErrConflict indicates the operation's prev hash does not match the
	// head of the DID's history.
	ErrConflict = errors.New("operation conflicts with DID history")

	// ErrDeactivated indicates the DID has been deactivated.
	ErrDeactivated = errors.New("DID is deactivated")
)

// keyType is the verification method type recorded for secp256k1 JWKs.
const keyType = "EcdsaSecp256k1VerificationKey2019"

// version is one entry in a DID's linear history.
type version struct {
	doc      Document
	data     json.RawMessage
	manifest map[string]json.RawMessage
	vault    string
	ts       time.Time
	opHash   string
}

// entry is the full state of one DID.
type entry struct {
	didType       string
	controller    string
	versions      []version
	deactivated   bool
	deactivatedAt time.Time
}

// Memory is an in-process Registry with full linear history per DID.
// It backs the local registry mode and the test suite; the semantics
// (prev chaining, controller signature checks, versioned resolution)
// match what a remote gatekeeper enforces.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*entry
	minted  map[string]string // operation hash -> DID, for create dedup
}

// NewMemory creates an empty in-process registry.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]*entry),
		minted:  make(map[string]string),
	}
}

// CreateDID validates and stores a create operation, returning the DID
// minted from the operation's content hash. Resubmitting the same
// operation returns the same DID.
func (m *Memory) CreateDID(_ context.Context, op *Operation) (string, error) {
	if err := checkCreateShape(op); err != nil {
		return "", err
	}

	opHash, err := HashOperation(op)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidOperation, err)
	}

	ts, err := operationTime(op)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if did, ok := m.minted[opHash]; ok {
		return did, nil
	}

	did, err := MintDID(op)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidOperation, err)
	}

	var v version
	switch op.MDIP.Type {
	case TypeAgent:
		if !VerifyOperation(op, *op.PublicJWK) {
			return "", ErrBadSignature
		}
		v = version{
			doc:    agentDocument(did, *op.PublicJWK),
			ts:     ts,
			opHash: opHash,
		}
	case TypeAsset:
		key, err := m.controllerKeyLocked(op.Controller, ts)
		if err != nil {
			return "", err
		}
		if !VerifyOperation(op, key) {
			return "", ErrBadSignature
		}
		v = version{
			doc:    Document{ID: did, Controller: op.Controller},
			data:   op.Data,
			ts:     ts,
			opHash: opHash,
		}
	}

	m.entries[did] = &entry{
		didType:    op.MDIP.Type,
		controller: op.Controller,
		versions:   []version{v},
	}
	m.minted[opHash] = did
	return did, nil
}

// ResolveDID returns the current document for a DID.
func (m *Memory) ResolveDID(_ context.Context, did string) (*DIDDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[did]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDID, did)
	}

	if e.deactivated {
		return &DIDDocument{
			Metadata: Metadata{
				Created:     e.versions[0].ts.Format(TimeFormat),
				Updated:     e.deactivatedAt.Format(TimeFormat),
				Version:     len(e.versions),
				Deactivated: true,
			},
		}, nil
	}

	return e.document(e.versions[len(e.versions)-1], false), nil
}

// ResolveDIDAtTime returns the document as of the given instant. Requests
// predating the first version resolve to the first version.
func (m *Memory) ResolveDIDAtTime(_ context.Context, did string, at time.Time) (*DIDDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[did]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDID, did)
	}

	v := e.versions[0]
	for _, candidate := range e.versions[1:] {
		if candidate.ts.After(at) {
			break
		}
		v = candidate
	}

	deactivated := e.deactivated && !e.deactivatedAt.After(at)
	return e.document(v, deactivated), nil
}

// UpdateDID appends an update operation to a DID's history after checking
// the prev chain and the controlling signature.
func (m *Memory) UpdateDID(_ context.Context, op *Operation) error {
	if op == nil || op.Op != OpUpdate || op.DID == "" || op.Doc == nil || op.Signature == nil {
		return ErrInvalidOperation
	}

	ts, err := operationTime(op)
	if err != nil {
		return err
	}

	opHash, err := HashOperation(op)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOperation, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[op.DID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDID, op.DID)
	}
	if e.deactivated {
		return fmt.Errorf("%w: %s", ErrDeactivated, op.DID)
	}

	head := e.versions[len(e.versions)-1]
	if op.Prev != head.opHash {
		return fmt.Errorf("%w: prev %s is not head", ErrConflict, op.Prev)
	}

	key, err := m.signingKeyLocked(e, head, ts)
	if err != nil {
		return err
	}
	if !VerifyOperation(op, key) {
		return ErrBadSignature
	}

	doc := op.Doc.Document
	if doc.ID == "" {
		doc.ID = op.DID
	}

	e.versions = append(e.versions, version{
		doc:      doc,
		data:     op.Doc.Metadata.Data,
		manifest: op.Doc.Metadata.Manifest,
		vault:    op.Doc.Metadata.Vault,
		ts:       ts,
		opHash:   opHash,
	})
	return nil
}

// DeleteDID deactivates a DID. Deleting an already deactivated DID fails
// with ErrDeactivated.
func (m *Memory) DeleteDID(_ context.Context, op *Operation) error {
	if op == nil || op.Op != OpDelete || op.DID == "" || op.Signature == nil {
		return ErrInvalidOperation
	}

	ts, err := operationTime(op)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[op.DID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDID, op.DID)
	}
	if e.deactivated {
		return fmt.Errorf("%w: %s", ErrDeactivated, op.DID)
	}

	head := e.versions[len(e.versions)-1]
	if op.Prev != head.opHash {
		return fmt.Errorf("%w: prev %s is not head", ErrConflict, op.Prev)
	}

	key, err := m.signingKeyLocked(e, head, ts)
	if err != nil {
		return err
	}
	if !VerifyOperation(op, key) {
		return ErrBadSignature
	}

	e.deactivated = true
	e.deactivatedAt = ts
	return nil
}

// document assembles the resolution result for one version.
func (e *entry) document(v version, deactivated bool) *DIDDocument {
	meta := Metadata{
		Created:     e.versions[0].ts.Format(TimeFormat),
		Updated:     v.ts.Format(TimeFormat),
		Version:     len(e.versions),
		Deactivated: deactivated,
		Vault:       v.vault,
		OpHash:      v.opHash,
	}
	if v.data != nil {
		meta.Data = append(json.RawMessage(nil), v.data...)
	}
	if v.manifest != nil {
		meta.Manifest = make(map[string]json.RawMessage, len(v.manifest))
		for k, raw := range v.manifest {
			meta.Manifest[k] = append(json.RawMessage(nil), raw...)
		}
	}

	return &DIDDocument{Document: v.doc, Metadata: meta}
}

// signingKeyLocked returns the key that must have signed an operation on
// this entry: the head verification key for agents, the controller's key
// as of the signing time for assets.
func (m *Memory) signingKeyLocked(e *entry, head version, at time.Time) (cipher.JWK, error) {
	if e.didType == TypeAgent {
		if len(head.doc.VerificationMethod) == 0 {
			return cipher.JWK{}, fmt.Errorf("%w: document has no key", ErrInvalidOperation)
		}
		return head.doc.VerificationMethod[0].PublicKeyJWK, nil
	}
	return m.controllerKeyLocked(e.controller, at)
}

// controllerKeyLocked resolves a controller agent's key as of an instant.
func (m *Memory) controllerKeyLocked(controller string, at time.Time) (cipher.JWK, error) {
	if controller == "" {
		return cipher.JWK{}, fmt.Errorf("%w: missing controller", ErrInvalidOperation)
	}

	e, ok := m.entries[controller]
	if !ok {
		return cipher.JWK{}, fmt.Errorf("%w: controller %s", ErrUnknownDID, controller)
	}

	v := e.versions[0]
	for _, candidate := range e.versions[1:] {
		if candidate.ts.After(at) {
			break
		}
		v = candidate
	}

	if len(v.doc.VerificationMethod) == 0 {
		return cipher.JWK{}, fmt.Errorf("%w: controller has no key", ErrInvalidOperation)
	}
	return v.doc.VerificationMethod[0].PublicKeyJWK, nil
}

// agentDocument builds the initial document for a new agent DID.
func agentDocument(did string, key cipher.JWK) Document {
	return AgentDocument(did, key)
}

// checkCreateShape validates the static shape of a create operation.
func checkCreateShape(op *Operation) error {
	if op == nil || op.Op != OpCreate || op.Signature == nil {
		return ErrInvalidOperation
	}
	if op.MDIP.Version != MDIPVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrInvalidOperation, op.MDIP.Version)
	}
	switch op.MDIP.Type {
	case TypeAgent:
		if op.PublicJWK == nil {
			return fmt.Errorf("%w: agent create without key", ErrInvalidOperation)
		}
	case TypeAsset:
		if op.Controller == "" || len(op.Data) == 0 {
			return fmt.Errorf("%w: asset create without controller or data", ErrInvalidOperation)
		}
	default:
		return fmt.Errorf("%w: type %q", ErrInvalidOperation, op.MDIP.Type)
	}
	return nil
}

// operationTime extracts an operation's timestamp, preferring the explicit
// created field and falling back to the signing time.
func operationTime(op *Operation) (time.Time, error) {
	stamp := op.Created
	if stamp == "" && op.Signature != nil {
		stamp = op.Signature.Signed
	}
	if stamp == "" {
		return time.Time{}, fmt.Errorf("%w: missing timestamp", ErrInvalidOperation)
	}

	ts, err := time.Parse(TimeFormat, stamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad timestamp: %w", ErrInvalidOperation, err)
	}
	return ts, nil
}
