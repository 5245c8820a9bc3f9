package keymaster

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/macterra/keymaster/internal/gatekeeper"
	kmerr "github.com/macterra/keymaster/pkg/errors"
)

// credentialContext is the @context recorded on issued credentials.
const credentialContext = "https://www.w3.org/ns/credentials/v2"

// vcType is the base type of every verifiable credential.
const vcType = "VerifiableCredential"

// Subject names the credential subject.
type Subject struct {
	ID string `json:"id"`
}

// VerifiableCredential is a signed assertion by an issuer about a subject.
// The schema DID rides in the type list next to the base VC type.
type VerifiableCredential struct {
	Context           []string              `json:"@context"`
	Type              []string              `json:"type"`
	Issuer            string                `json:"issuer"`
	ValidFrom         string                `json:"validFrom"`
	ValidUntil        string                `json:"validUntil,omitempty"`
	CredentialSubject *Subject              `json:"credentialSubject"`
	Credential        json.RawMessage       `json:"credential"`
	Signature         *gatekeeper.Signature `json:"signature,omitempty"`
}

// SchemaDID returns the schema DID carried in the type list, if any.
func (vc *VerifiableCredential) SchemaDID() string {
	for _, t := range vc.Type {
		if t != vcType {
			return t
		}
	}
	return ""
}

// CreateSchema anchors a JSON Schema as a data-DID under the current
// identity and returns the schema DID.
func (k *Keymaster) CreateSchema(ctx context.Context, schema json.RawMessage) (string, error) {
	var parsed map[string]any
	if len(schema) == 0 || json.Unmarshal(schema, &parsed) != nil {
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

	did, err := k.anchorAsset(ctx, w, id, parsed)
	if err != nil {
		return "", err
	}

	id.AddOwned(did)
	if err := k.store.Save(w); err != nil {
		return "", err
	}

	return did, nil
}

// BindCredential shapes an unsigned credential for a subject: the schema's
// minimal valid instance becomes the credential payload, ready for editing
// before attestation.
func (k *Keymaster) BindCredential(ctx context.Context, schemaDID, subject string) (*VerifiableCredential, error) {
	w, err := k.store.Load()
	if err != nil {
		return nil, err
	}
	id, err := requireCurrent(w)
	if err != nil {
		return nil, err
	}

	schemaDID = w.ResolveDID(schemaDID)
	subjectDID := w.ResolveDID(subject)

	var schema map[string]any
	if err := k.assetData(ctx, schemaDID, &schema); err != nil {
		return nil, err
	}

	sample, err := json.Marshal(minimalInstance(schema))
	if err != nil {
		return nil, fmt.Errorf("marshaling sample credential: %w", err)
	}

	return &VerifiableCredential{
		Context:           []string{credentialContext},
		Type:              []string{vcType, schemaDID},
		Issuer:            id.DID,
		ValidFrom:         k.now().UTC().Format(gatekeeper.TimeFormat),
		CredentialSubject: &Subject{ID: subjectDID},
		Credential:        sample,
	}, nil
}

// AttestCredential signs a bound credential and delivers it encrypted to
// the subject. Returns the attestation envelope DID, which is recorded in
// the issuer's owned set.
func (k *Keymaster) AttestCredential(ctx context.Context, vc *VerifiableCredential) (string, error) {
	if vc == nil || vc.CredentialSubject == nil || vc.CredentialSubject.ID == "" {
		return "", kmerr.ErrInvalidVC
	}

	w, err := k.store.Load()
	if err != nil {
		return "", err
	}
	id, err := requireCurrent(w)
	if err != nil {
		return "", err
	}

	if vc.Issuer != id.DID {
		return "", kmerr.WithDetails(kmerr.ErrInvalidVC, map[string]string{"issuer": vc.Issuer})
	}

	signed, err := k.signStruct(ctx, vc)
	if err != nil {
		return "", err
	}

	return k.EncryptJSON(ctx, signed, vc.CredentialSubject.ID)
}

// AcceptCredential verifies an attestation addressed to the current
// identity and records it in the held set. Verification failures on
// well-formed input return false rather than an error.
func (k *Keymaster) AcceptCredential(ctx context.Context, vcDID string) (bool, error) {
	w, err := k.store.Load()
	if err != nil {
		return false, err
	}
	id, err := requireCurrent(w)
	if err != nil {
		return false, err
	}
	vcDID = w.ResolveDID(vcDID)

	raw, err := k.DecryptJSON(ctx, vcDID)
	if err != nil {
		return false, err
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return false, fmt.Errorf("%w: %w", kmerr.ErrInvalidVC, err)
	}
	if !k.VerifySignature(ctx, obj) {
		return false, nil
	}

	var vc VerifiableCredential
	if err := json.Unmarshal(raw, &vc); err != nil {
		return false, fmt.Errorf("%w: %w", kmerr.ErrInvalidVC, err)
	}
	if vc.CredentialSubject == nil || vc.CredentialSubject.ID != id.DID {
		return false, nil
	}

	id.AddHeld(vcDID)
	if err := k.store.Save(w); err != nil {
		return false, err
	}

	return true, nil
}

// RevokeCredential deactivates an attestation the current identity issued.
// Returns true on first-time deactivation, false when the attestation is
// already deactivated or not controlled by the current identity.
func (k *Keymaster) RevokeCredential(ctx context.Context, vcDID string) (bool, error) {
	w, err := k.store.Load()
	if err != nil {
		return false, err
	}
	id, err := requireCurrent(w)
	if err != nil {
		return false, err
	}
	vcDID = w.ResolveDID(vcDID)

	head, err := k.registry.ResolveDID(ctx, vcDID)
	if err != nil {
		return false, err
	}
	if head.Metadata.Deactivated {
		return false, nil
	}
	if head.Document.Controller != id.DID {
		return false, nil
	}

	// The inner credential must name the current identity as issuer.
	raw, err := k.DecryptJSON(ctx, vcDID)
	if err != nil {
		return false, err
	}
	var vc VerifiableCredential
	if err := json.Unmarshal(raw, &vc); err != nil {
		return false, fmt.Errorf("%w: %w", kmerr.ErrInvalidVC, err)
	}
	if vc.Issuer != id.DID {
		return false, kmerr.WithDetails(kmerr.ErrInvalidVC, map[string]string{"issuer": vc.Issuer})
	}

	if err := k.deleteDID(ctx, w, id, vcDID); err != nil {
		return false, err
	}

	return true, nil
}

// PublishCredential writes a credential into the current identity's DID
// document manifest. With reveal false the credential payload is redacted,
// proving possession without disclosure.
func (k *Keymaster) PublishCredential(ctx context.Context, vcDID string, reveal bool) error {
	w, err := k.store.Load()
	if err != nil {
		return err
	}
	id, err := requireCurrent(w)
	if err != nil {
		return err
	}
	vcDID = w.ResolveDID(vcDID)

	raw, err := k.DecryptJSON(ctx, vcDID)
	if err != nil {
		return err
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return fmt.Errorf("%w: %w", kmerr.ErrInvalidVC, err)
	}
	if !reveal {
		obj["credential"] = nil
	}
	entry, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("marshaling manifest entry: %w", err)
	}

	head, err := k.registry.ResolveDID(ctx, id.DID)
	if err != nil {
		return err
	}

	manifest := make(map[string]json.RawMessage, len(head.Metadata.Manifest)+1)
	for key, val := range head.Metadata.Manifest {
		manifest[key] = val
	}
	manifest[vcDID] = entry

	doc := &gatekeeper.DIDDocument{
		Document: head.Document,
		Metadata: gatekeeper.Metadata{
			Data:     head.Metadata.Data,
			Manifest: manifest,
			Vault:    head.Metadata.Vault,
		},
	}
	return k.updateDID(ctx, w, id, id.DID, doc)
}

// UnpublishCredential removes a credential from the manifest.
func (k *Keymaster) UnpublishCredential(ctx context.Context, vcDID string) error {
	w, err := k.store.Load()
	if err != nil {
		return err
	}
	id, err := requireCurrent(w)
	if err != nil {
		return err
	}
	vcDID = w.ResolveDID(vcDID)

	head, err := k.registry.ResolveDID(ctx, id.DID)
	if err != nil {
		return err
	}

	if _, ok := head.Metadata.Manifest[vcDID]; !ok {
		return kmerr.WithDetails(kmerr.ErrInvalidInput, map[string]string{"did": vcDID, "reason": "not published"})
	}

	manifest := make(map[string]json.RawMessage, len(head.Metadata.Manifest))
	for key, val := range head.Metadata.Manifest {
		if key != vcDID {
			manifest[key] = val
		}
	}

	doc := &gatekeeper.DIDDocument{
		Document: head.Document,
		Metadata: gatekeeper.Metadata{
			Data:     head.Metadata.Data,
			Manifest: manifest,
			Vault:    head.Metadata.Vault,
		},
	}
	return k.updateDID(ctx, w, id, id.DID, doc)
}

// minimalInstance synthesizes the simplest value conforming to a JSON
// Schema (draft-07 subset): the first enum or const value when present,
// otherwise the zero value of the declared type, recursing into object
// properties. Unknown shapes yield null.
func minimalInstance(schema map[string]any) any {
	if values, ok := schema["enum"].([]any); ok && len(values) > 0 {
		return values[0]
	}
	if value, ok := schema["const"]; ok {
		return value
	}

	schemaType, _ := schema["type"].(string)
	if schemaType == "" {
		if types, ok := schema["type"].([]any); ok && len(types) > 0 {
			schemaType, _ = types[0].(string)
		} else if _, ok := schema["properties"]; ok {
			schemaType = "object"
		}
	}

	switch schemaType {
	case "object":
		properties, _ := schema["properties"].(map[string]any)
		instance := make(map[string]any, len(properties))

		// Populate only the required properties when the schema names
		// them; otherwise populate everything.
		if required, ok := schema["required"].([]any); ok && len(required) > 0 {
			for _, name := range required {
				key, _ := name.(string)
				if prop, ok := properties[key].(map[string]any); ok {
					instance[key] = minimalInstance(prop)
				} else if key != "" {
					instance[key] = nil
				}
			}
			return instance
		}

		for key, raw := range properties {
			if prop, ok := raw.(map[string]any); ok {
				instance[key] = minimalInstance(prop)
			} else {
				instance[key] = nil
			}
		}
		return instance
	case "string":
		return ""
	case "number", "integer":
		return 0
	case "boolean":
		return false
	case "array":
		return []any{}
	default:
		return nil
	}
}
