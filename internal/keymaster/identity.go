package keymaster

import (
	"context"
	"fmt"
	"sort"

	"github.com/macterra/keymaster/internal/cipher"
	"github.com/macterra/keymaster/internal/gatekeeper"
	"github.com/macterra/keymaster/internal/wallet"
	kmerr "github.com/macterra/keymaster/pkg/errors"
)

// IDInfo is one row of a ListIDs result.
type IDInfo struct {
	Name    string `json:"name"`
	DID     string `json:"did"`
	Current bool   `json:"current"`
}

// CreateID creates a new identity: allocates the next account, derives its
// first keypair, anchors a create-agent operation, and selects the new
// identity as current.
func (k *Keymaster) CreateID(ctx context.Context, name string) (string, error) {
	if err := wallet.ValidateName(name); err != nil {
		return "", kmerr.Wrap(err, "invalid ID name")
	}

	w, err := k.store.Load()
	if err != nil {
		return "", err
	}

	if w.HasName(name) {
		return "", kmerr.WithDetails(kmerr.ErrNameTaken, map[string]string{"name": name})
	}

	account := w.Counter
	id := &wallet.Identity{Account: account, Index: 0}
	kp, err := keypairAt(w, id, 0)
	if err != nil {
		return "", err
	}

	now := k.now()
	op := &gatekeeper.Operation{
		Op:        gatekeeper.OpCreate,
		MDIP:      gatekeeper.MDIP{Version: gatekeeper.MDIPVersion, Type: gatekeeper.TypeAgent, Registry: k.target},
		PublicJWK: &kp.Public,
		Created:   now.UTC().Format(gatekeeper.TimeFormat),
	}
	if err := gatekeeper.SignOperation(op, kp.Private, "", now); err != nil {
		return "", err
	}

	did, err := k.registry.CreateDID(ctx, op)
	if err != nil {
		return "", err
	}

	// Registry I/O complete; mutate and save atomically.
	id.DID = did
	w.IDs[name] = id
	w.Current = name
	w.Counter = account + 1

	if err := k.store.Save(w); err != nil {
		return "", err
	}

	k.log.Debug("created ID %s with DID %s at %s", name, did, cipher.DerivationPath(account, 0))
	return did, nil
}

// UseID selects the named identity as current.
func (k *Keymaster) UseID(_ context.Context, name string) error {
	w, err := k.store.Load()
	if err != nil {
		return err
	}

	if _, ok := w.IDs[name]; !ok {
		return kmerr.WithDetails(kmerr.ErrNoSuchID, map[string]string{"name": name})
	}

	w.Current = name
	return k.store.Save(w)
}

// ListIDs enumerates the wallet's identities, marking the current one.
// Results are sorted by name for stable output.
func (k *Keymaster) ListIDs(_ context.Context) ([]IDInfo, error) {
	w, err := k.store.Load()
	if err != nil {
		return nil, err
	}

	infos := make([]IDInfo, 0, len(w.IDs))
	for name, id := range w.IDs {
		infos = append(infos, IDInfo{
			Name:    name,
			DID:     id.DID,
			Current: name == w.Current,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// RemoveID deletes an identity from the wallet. The DID itself remains in
// the registry; only local key-derivation state is dropped.
func (k *Keymaster) RemoveID(_ context.Context, name string) error {
	w, err := k.store.Load()
	if err != nil {
		return err
	}

	if _, ok := w.IDs[name]; !ok {
		return kmerr.WithDetails(kmerr.ErrNoSuchID, map[string]string{"name": name})
	}

	delete(w.IDs, name)
	if w.Current == name {
		w.Current = ""
	}
	return k.store.Save(w)
}

// RotateKeys rotates the current identity's key to the next derivation
// index. The update is signed with the old key; local state advances only
// after the registry accepts the rotation.
func (k *Keymaster) RotateKeys(ctx context.Context) error {
	w, err := k.store.Load()
	if err != nil {
		return err
	}
	id, err := requireCurrent(w)
	if err != nil {
		return err
	}

	next, err := keypairAt(w, id, id.Index+1)
	if err != nil {
		return err
	}

	// Carry document metadata (manifest, vault) across the rotation.
	head, err := k.registry.ResolveDID(ctx, id.DID)
	if err != nil {
		return err
	}

	doc := &gatekeeper.DIDDocument{
		Document: gatekeeper.AgentDocument(id.DID, next.Public),
		Metadata: gatekeeper.Metadata{
			Data:     head.Metadata.Data,
			Manifest: head.Metadata.Manifest,
			Vault:    head.Metadata.Vault,
		},
	}
	if err := k.updateDID(ctx, w, id, id.DID, doc); err != nil {
		return fmt.Errorf("rotating keys: %w", err)
	}

	id.Index++
	if err := k.store.Save(w); err != nil {
		// The registry accepted the rotation but the wallet did not
		// record it. Log the new index so state can be reconstructed.
		k.log.Error("rotation for %s confirmed at index %d but wallet save failed: %v", id.DID, id.Index, err)
		return err
	}

	k.log.Debug("rotated keys for %s to %s", id.DID, cipher.DerivationPath(id.Account, id.Index))
	return nil
}
