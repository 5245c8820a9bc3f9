// Package keymaster implements the identity and credential engines: DID
// lifecycle management, message envelopes, signed objects, and the
// verifiable-credential pipeline. The engine owns no state of its own;
// every operation loads the wallet, completes its registry I/O, then
// mutates and saves atomically.
package keymaster

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/macterra/keymaster/internal/cipher"
	"github.com/macterra/keymaster/internal/config"
	"github.com/macterra/keymaster/internal/gatekeeper"
	"github.com/macterra/keymaster/internal/wallet"
	kmerr "github.com/macterra/keymaster/pkg/errors"
)

// Keymaster is the engine façade. It holds the wallet store, the registry
// client, and the target registry name for new operations.
type Keymaster struct {
	store    wallet.Store
	registry gatekeeper.Registry
	target   string
	log      *config.Logger
	now      func() time.Time
}

// Options configures engine construction.
type Options struct {
	// Registry names the target registry recorded in new operations
	// (local, peerbit, BTC, tBTC). Defaults to local.
	Registry string

	// Logger receives debug and error logs. Defaults to a null logger.
	Logger *config.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// New creates an engine over a wallet store and a registry.
func New(store wallet.Store, registry gatekeeper.Registry, opts *Options) *Keymaster {
	k := &Keymaster{
		store:    store,
		registry: registry,
		target:   gatekeeper.RegistryLocal,
		log:      config.NullLogger(),
		now:      time.Now,
	}

	if opts != nil {
		if opts.Registry != "" {
			k.target = opts.Registry
		}
		if opts.Logger != nil {
			k.log = opts.Logger
		}
		if opts.Now != nil {
			k.now = opts.Now
		}
	}

	return k
}

// Wallet returns the current wallet state.
func (k *Keymaster) Wallet() (*wallet.Wallet, error) {
	return k.store.Load()
}

// ResolveDID resolves a name, alias, or DID to its current document.
func (k *Keymaster) ResolveDID(ctx context.Context, nameOrDID string) (*gatekeeper.DIDDocument, error) {
	w, err := k.store.Load()
	if err != nil {
		return nil, err
	}
	return k.registry.ResolveDID(ctx, w.ResolveDID(nameOrDID))
}

// requireCurrent returns the active identity, failing with ErrNoCurrentID
// when none is selected.
func requireCurrent(w *wallet.Wallet) (*wallet.Identity, error) {
	id := w.CurrentID()
	if id == nil {
		return nil, kmerr.ErrNoCurrentID
	}
	return id, nil
}

// keypairAt derives an identity's keypair at a specific rotation index.
func keypairAt(w *wallet.Wallet, id *wallet.Identity, index uint32) (*cipher.Keypair, error) {
	master, err := w.MasterKey()
	if err != nil {
		return nil, err
	}
	return cipher.DeriveKeypair(master, id.Account, index)
}

// currentKeypair derives an identity's active keypair.
func currentKeypair(w *wallet.Wallet, id *wallet.Identity) (*cipher.Keypair, error) {
	return keypairAt(w, id, id.Index)
}

// resolveKey resolves a DID's current agreement/signing key.
func (k *Keymaster) resolveKey(ctx context.Context, did string) (cipher.JWK, error) {
	doc, err := k.registry.ResolveDID(ctx, did)
	if err != nil {
		return cipher.JWK{}, err
	}
	key, ok := doc.CurrentKey()
	if !ok {
		return cipher.JWK{}, fmt.Errorf("%w: %s has no key", kmerr.ErrUnknownDID, did)
	}
	return key, nil
}

// resolveKeyAt resolves a DID's key as of an instant, for envelopes and
// signatures that predate a rotation.
func (k *Keymaster) resolveKeyAt(ctx context.Context, did string, at time.Time) (cipher.JWK, error) {
	doc, err := k.registry.ResolveDIDAtTime(ctx, did, at)
	if err != nil {
		return cipher.JWK{}, err
	}
	key, ok := doc.CurrentKey()
	if !ok {
		return cipher.JWK{}, fmt.Errorf("%w: %s has no key", kmerr.ErrUnknownDID, did)
	}
	return key, nil
}

// anchorAsset creates a data-DID controlled by the identity, carrying the
// given payload. The caller is responsible for recording ownership and
// saving the wallet.
func (k *Keymaster) anchorAsset(ctx context.Context, w *wallet.Wallet, id *wallet.Identity, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling asset payload: %w", err)
	}

	kp, err := currentKeypair(w, id)
	if err != nil {
		return "", err
	}

	now := k.now()
	op := &gatekeeper.Operation{
		Op:         gatekeeper.OpCreate,
		MDIP:       gatekeeper.MDIP{Version: gatekeeper.MDIPVersion, Type: gatekeeper.TypeAsset, Registry: k.target},
		Controller: id.DID,
		Data:       data,
		Created:    now.UTC().Format(gatekeeper.TimeFormat),
	}
	if err := gatekeeper.SignOperation(op, kp.Private, id.DID, now); err != nil {
		return "", err
	}

	return k.registry.CreateDID(ctx, op)
}

// assetData resolves a data-DID and unmarshals its payload into out.
func (k *Keymaster) assetData(ctx context.Context, did string, out any) error {
	doc, err := k.registry.ResolveDID(ctx, did)
	if err != nil {
		return err
	}
	if doc.Metadata.Deactivated {
		return fmt.Errorf("%w: %s is deactivated", kmerr.ErrUnknownDID, did)
	}
	if len(doc.Metadata.Data) == 0 {
		return fmt.Errorf("%w: %s carries no data", kmerr.ErrInvalidInput, did)
	}
	if err := json.Unmarshal(doc.Metadata.Data, out); err != nil {
		return fmt.Errorf("parsing data for %s: %w", did, err)
	}
	return nil
}

// updateDID submits an update operation against a DID the identity
// controls. The fresh resolve supplies the prev hash, so a stale local
// view cannot conflict with the registry's chain.
func (k *Keymaster) updateDID(ctx context.Context, w *wallet.Wallet, id *wallet.Identity, did string, doc *gatekeeper.DIDDocument) error {
	head, err := k.registry.ResolveDID(ctx, did)
	if err != nil {
		return err
	}

	kp, err := currentKeypair(w, id)
	if err != nil {
		return err
	}

	now := k.now()
	op := &gatekeeper.Operation{
		Op:      gatekeeper.OpUpdate,
		DID:     did,
		MDIP:    gatekeeper.MDIP{Version: gatekeeper.MDIPVersion, Type: headType(head), Registry: k.target},
		Doc:     doc,
		Created: now.UTC().Format(gatekeeper.TimeFormat),
		Prev:    head.Metadata.OpHash,
	}
	if err := gatekeeper.SignOperation(op, kp.Private, id.DID, now); err != nil {
		return err
	}

	return k.registry.UpdateDID(ctx, op)
}

// deleteDID submits a deactivate operation for a DID the identity controls.
func (k *Keymaster) deleteDID(ctx context.Context, w *wallet.Wallet, id *wallet.Identity, did string) error {
	head, err := k.registry.ResolveDID(ctx, did)
	if err != nil {
		return err
	}
	if head.Metadata.Deactivated {
		return fmt.Errorf("%w: %s", kmerr.ErrUnknownDID, did)
	}

	kp, err := currentKeypair(w, id)
	if err != nil {
		return err
	}

	now := k.now()
	op := &gatekeeper.Operation{
		Op:      gatekeeper.OpDelete,
		DID:     did,
		MDIP:    gatekeeper.MDIP{Version: gatekeeper.MDIPVersion, Type: headType(head), Registry: k.target},
		Created: now.UTC().Format(gatekeeper.TimeFormat),
		Prev:    head.Metadata.OpHash,
	}
	if err := gatekeeper.SignOperation(op, kp.Private, id.DID, now); err != nil {
		return err
	}

	return k.registry.DeleteDID(ctx, op)
}

// headType infers the document type from a resolved head: agents carry a
// verification method, assets carry a controller.
func headType(doc *gatekeeper.DIDDocument) string {
	if len(doc.Document.VerificationMethod) > 0 {
		return gatekeeper.TypeAgent
	}
	return gatekeeper.TypeAsset
}

// toMap converts a typed value into a generic JSON object.
func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling object: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("object is not a JSON object: %w", err)
	}
	return m, nil
}
