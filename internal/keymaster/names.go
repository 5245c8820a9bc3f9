package keymaster

import (
	"context"
	"sort"

	"github.com/macterra/keymaster/internal/wallet"
	kmerr "github.com/macterra/keymaster/pkg/errors"
)

// NameInfo is one alias entry.
type NameInfo struct {
	Name string `json:"name"`
	DID  string `json:"did"`
}

// AddName registers a human-readable alias for a DID. Aliases share a
// namespace with identity names.
func (k *Keymaster) AddName(_ context.Context, name, did string) error {
	if did == "" {
		return kmerr.ErrInvalidInput
	}
	if err := wallet.ValidateName(name); err != nil {
		return kmerr.Wrap(err, "invalid alias")
	}

	w, err := k.store.Load()
	if err != nil {
		return err
	}

	if w.HasName(name) {
		return kmerr.WithDetails(kmerr.ErrNameTaken, map[string]string{"name": name})
	}

	w.Names[name] = did
	return k.store.Save(w)
}

// RemoveName drops an alias. Removing a missing alias is a no-op, so the
// operation is idempotent.
func (k *Keymaster) RemoveName(_ context.Context, name string) error {
	w, err := k.store.Load()
	if err != nil {
		return err
	}

	if _, ok := w.Names[name]; !ok {
		return nil
	}

	delete(w.Names, name)
	return k.store.Save(w)
}

// ListNames enumerates aliases sorted by name.
func (k *Keymaster) ListNames(_ context.Context) ([]NameInfo, error) {
	w, err := k.store.Load()
	if err != nil {
		return nil, err
	}

	infos := make([]NameInfo, 0, len(w.Names))
	for name, did := range w.Names {
		infos = append(infos, NameInfo{Name: name, DID: did})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}
