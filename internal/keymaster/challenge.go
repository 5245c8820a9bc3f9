package keymaster

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/macterra/keymaster/internal/gatekeeper"
	kmerr "github.com/macterra/keymaster/pkg/errors"
)

// challengeTTL is the default validity window of an issued challenge.
const challengeTTL = time.Hour

// CredentialRequest asks for a credential over a schema, attested by one
// of the listed issuers. An empty attestor list accepts any issuer.
type CredentialRequest struct {
	Schema    string   `json:"schema"`
	Attestors []string `json:"attestors,omitempty"`
}

// Challenge is a reusable credential request set, anchored as a data-DID.
type Challenge struct {
	Credentials []CredentialRequest `json:"credentials"`
}

// BoundChallenge is a challenge issued to a specific subject with a
// validity window, signed by the verifier.
type BoundChallenge struct {
	Challenge  string                `json:"challenge"`
	From       string                `json:"from"`
	To         string                `json:"to"`
	Nonce      string                `json:"nonce"`
	ValidFrom  string                `json:"validFrom"`
	ValidUntil string                `json:"validUntil"`
	Signature  *gatekeeper.Signature `json:"signature,omitempty"`
}

// PresentationEntry pairs an attestation DID with a copy re-encrypted for
// the verifier.
type PresentationEntry struct {
	VC string `json:"vc"`
	VP string `json:"vp"`
}

// Presentation is the subject's response to a bound challenge.
type Presentation struct {
	Challenge   string              `json:"challenge"`
	Credentials []PresentationEntry `json:"credentials"`
}

// CreateChallenge anchors a challenge as a data-DID under the current
// identity and returns its DID.
func (k *Keymaster) CreateChallenge(ctx context.Context, challenge *Challenge) (string, error) {
	if challenge == nil || len(challenge.Credentials) == 0 {
		return "", kmerr.ErrInvalidChallenge
	}
	for _, req := range challenge.Credentials {
		if req.Schema == "" {
			return "", kmerr.ErrInvalidChallenge
		}
	}

	w, err := k.store.Load()
	if err != nil {
		return "", err
	}
	id, err := requireCurrent(w)
	if err != nil {
		return "", err
	}

	did, err := k.anchorAsset(ctx, w, id, challenge)
	if err != nil {
		return "", err
	}

	id.AddOwned(did)
	if err := k.store.Save(w); err != nil {
		return "", err
	}

	return did, nil
}

// IssueChallenge binds a challenge to a subject with a one-hour validity
// window, signs it, and delivers it encrypted. Returns the envelope DID.
func (k *Keymaster) IssueChallenge(ctx context.Context, challengeDID, subject string) (string, error) {
	w, err := k.store.Load()
	if err != nil {
		return "", err
	}
	id, err := requireCurrent(w)
	if err != nil {
		return "", err
	}

	challengeDID = w.ResolveDID(challengeDID)
	subjectDID := w.ResolveDID(subject)

	// The challenge must exist and carry a well-formed request set.
	var challenge Challenge
	if err := k.assetData(ctx, challengeDID, &challenge); err != nil {
		return "", err
	}
	if len(challenge.Credentials) == 0 {
		return "", kmerr.ErrInvalidChallenge
	}

	now := k.now().UTC()
	bound := &BoundChallenge{
		Challenge:  challengeDID,
		From:       id.DID,
		To:         subjectDID,
		Nonce:      uuid.NewString(),
		ValidFrom:  now.Format(gatekeeper.TimeFormat),
		ValidUntil: now.Add(challengeTTL).Format(gatekeeper.TimeFormat),
	}

	signed, err := k.signStruct(ctx, bound)
	if err != nil {
		return "", err
	}

	return k.EncryptJSON(ctx, signed, subjectDID)
}

// CreateResponse answers a bound challenge: matching credentials from the
// held set are re-encrypted to the verifier and assembled into a
// presentation, itself encrypted to the verifier. Returns the response DID.
func (k *Keymaster) CreateResponse(ctx context.Context, boundDID string) (string, error) {
	w, err := k.store.Load()
	if err != nil {
		return "", err
	}
	id, err := requireCurrent(w)
	if err != nil {
		return "", err
	}
	boundDID = w.ResolveDID(boundDID)

	raw, err := k.DecryptJSON(ctx, boundDID)
	if err != nil {
		return "", err
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", fmt.Errorf("%w: %w", kmerr.ErrInvalidChallenge, err)
	}
	if !k.VerifySignature(ctx, obj) {
		return "", fmt.Errorf("%w: signature verification failed", kmerr.ErrInvalidChallenge)
	}

	var bound BoundChallenge
	if err := json.Unmarshal(raw, &bound); err != nil {
		return "", fmt.Errorf("%w: %w", kmerr.ErrInvalidChallenge, err)
	}
	if bound.To != id.DID {
		return "", fmt.Errorf("%w: challenge addressed to %s", kmerr.ErrInvalidChallenge, bound.To)
	}
	if expired(bound.ValidUntil, k.now()) {
		return "", fmt.Errorf("%w: challenge expired", kmerr.ErrInvalidChallenge)
	}

	var challenge Challenge
	if err := k.assetData(ctx, bound.Challenge, &challenge); err != nil {
		return "", err
	}

	entries := make([]PresentationEntry, 0, len(challenge.Credentials))
	for _, req := range challenge.Credentials {
		heldDID, vcRaw, found := k.findHeld(ctx, id.Held, req)
		if !found {
			continue
		}

		// Re-encrypt the attestation for the verifier.
		vpDID, err := k.EncryptJSON(ctx, vcRaw, bound.From)
		if err != nil {
			return "", err
		}
		entries = append(entries, PresentationEntry{VC: heldDID, VP: vpDID})
	}

	presentation := &Presentation{
		Challenge:   boundDID,
		Credentials: entries,
	}
	return k.EncryptJSON(ctx, presentation, bound.From)
}

// findHeld scans the held set for a credential matching a request.
func (k *Keymaster) findHeld(ctx context.Context, held []string, req CredentialRequest) (string, json.RawMessage, bool) {
	for _, heldDID := range held {
		vcRaw, err := k.DecryptJSON(ctx, heldDID)
		if err != nil {
			k.log.Debug("skipping held credential %s: %v", heldDID, err)
			continue
		}

		var vc VerifiableCredential
		if err := json.Unmarshal(vcRaw, &vc); err != nil {
			continue
		}

		if vc.SchemaDID() != req.Schema {
			continue
		}
		if len(req.Attestors) > 0 && !slices.Contains(req.Attestors, vc.Issuer) {
			continue
		}

		return heldDID, vcRaw, true
	}
	return "", nil, false
}

// VerifyResponse checks a presentation against its challenge and returns
// the credentials that survive every check: signature, schema, attestor,
// and revocation. Revoked or missing credentials drop out, shortening the
// returned list.
func (k *Keymaster) VerifyResponse(ctx context.Context, responseDID string) ([]*VerifiableCredential, error) {
	w, err := k.store.Load()
	if err != nil {
		return nil, err
	}
	if _, err := requireCurrent(w); err != nil {
		return nil, err
	}
	responseDID = w.ResolveDID(responseDID)

	raw, err := k.DecryptJSON(ctx, responseDID)
	if err != nil {
		return nil, err
	}
	var presentation Presentation
	if err := json.Unmarshal(raw, &presentation); err != nil {
		return nil, fmt.Errorf("%w: %w", kmerr.ErrInvalidInput, err)
	}

	// The verifier authored the bound challenge, so the sender copy of
	// that envelope opens here.
	boundRaw, err := k.DecryptJSON(ctx, presentation.Challenge)
	if err != nil {
		return nil, err
	}
	var bound BoundChallenge
	if err := json.Unmarshal(boundRaw, &bound); err != nil {
		return nil, fmt.Errorf("%w: %w", kmerr.ErrInvalidChallenge, err)
	}

	var challenge Challenge
	if err := k.assetData(ctx, bound.Challenge, &challenge); err != nil {
		return nil, err
	}

	verified := make([]*VerifiableCredential, 0, len(presentation.Credentials))
	for _, entry := range presentation.Credentials {
		vc, ok := k.verifyEntry(ctx, entry, challenge.Credentials)
		if !ok {
			continue
		}
		verified = append(verified, vc)
	}

	return verified, nil
}

// verifyEntry validates one presentation entry against the challenge's
// requests.
func (k *Keymaster) verifyEntry(ctx context.Context, entry PresentationEntry, requests []CredentialRequest) (*VerifiableCredential, bool) {
	vpRaw, err := k.DecryptJSON(ctx, entry.VP)
	if err != nil {
		k.log.Debug("dropping presentation entry %s: %v", entry.VP, err)
		return nil, false
	}

	var obj map[string]any
	if err := json.Unmarshal(vpRaw, &obj); err != nil {
		return nil, false
	}
	if !k.VerifySignature(ctx, obj) {
		return nil, false
	}

	var vc VerifiableCredential
	if err := json.Unmarshal(vpRaw, &vc); err != nil {
		return nil, false
	}

	// The original attestation must still be live.
	attestation, err := k.registry.ResolveDID(ctx, entry.VC)
	if err != nil || attestation.Metadata.Deactivated {
		return nil, false
	}

	for _, req := range requests {
		if vc.SchemaDID() != req.Schema {
			continue
		}
		if len(req.Attestors) > 0 && !slices.Contains(req.Attestors, vc.Issuer) {
			continue
		}
		return &vc, true
	}
	return nil, false
}

// expired reports whether a validUntil timestamp has passed.
func expired(validUntil string, now time.Time) bool {
	until, err := time.Parse(gatekeeper.TimeFormat, validUntil)
	if err != nil {
		return true
	}
	return now.After(until)
}
