package pool

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/nbd-wtf/go-nostr"
)

// PartialEvent carries only the fields needed to verify an event's
// signature: its claimed ID, its public key and its signature.
type PartialEvent struct {
	ID     string
	PubKey string
	Sig    string
}

// MissingPartialEvent carries the remaining fields of an event wire
// form, decoded only after the partial projection's signature has
// verified.
type MissingPartialEvent struct {
	CreatedAt nostr.Timestamp
	Kind      int
	Tags      nostr.Tags
	Content   string
}

// decodePartial parses a raw relay-delivered event payload. encoding/json
// has no convenient streaming partial-decode, so unlike the reference
// implementation this decodes the whole object in one pass; the
// two-phase ORDERING the spec cares about -- verify the signature
// before trusting kind/tags/content -- is preserved by never looking at
// the MissingPartialEvent fields until verifySignature has returned
// successfully. The design notes explicitly allow fusing the phases
// when the codec does not support streaming verification.
func decodePartial(raw []byte) (*PartialEvent, *MissingPartialEvent, error) {
	var full nostr.Event
	if err := json.Unmarshal(raw, &full); err != nil {
		return nil, nil, newErr(ErrKindPartialEvent, fmt.Errorf("decode event: %w", err))
	}
	if full.ID == "" || full.PubKey == "" || full.Sig == "" {
		return nil, nil, newErr(ErrKindPartialEvent, fmt.Errorf("event missing id, pubkey or sig"))
	}
	partial := &PartialEvent{ID: full.ID, PubKey: full.PubKey, Sig: full.Sig}
	missing := &MissingPartialEvent{
		CreatedAt: full.CreatedAt,
		Kind:      full.Kind,
		Tags:      full.Tags,
		Content:   full.Content,
	}
	return partial, missing, nil
}

// canonicalHash computes the SHA-256 digest of the NIP-01 canonical
// serialization [0, pubkey, created_at, kind, tags, content]. HTML
// escaping is disabled on the encoder to match the byte-for-byte form
// relays actually hash, the same way go-nostr's own Event.Serialize does.
func canonicalHash(pubkey string, missing *MissingPartialEvent) ([]byte, error) {
	arr := []any{0, pubkey, missing.CreatedAt, missing.Kind, missing.Tags, missing.Content}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(arr); err != nil {
		return nil, fmt.Errorf("serialize canonical event: %w", err)
	}
	sum := sha256.Sum256(bytes.TrimRight(buf.Bytes(), "\n"))
	return sum[:], nil
}

// verifySignature checks partial.Sig against partial.PubKey over the
// canonical hash of the merged event, using BIP-340 Schnorr
// verification over secp256k1.
func verifySignature(partial *PartialEvent, missing *MissingPartialEvent) ([]byte, error) {
	hash, err := canonicalHash(partial.PubKey, missing)
	if err != nil {
		return nil, newErr(ErrKindEvent, err)
	}
	pubKeyBytes, err := hex.DecodeString(partial.PubKey)
	if err != nil || len(pubKeyBytes) != 32 {
		return nil, newErr(ErrKindEvent, fmt.Errorf("invalid public key encoding"))
	}
	pubKey, err := schnorr.ParsePubKey(pubKeyBytes)
	if err != nil {
		return nil, newErr(ErrKindEvent, fmt.Errorf("parse public key: %w", err))
	}
	sigBytes, err := hex.DecodeString(partial.Sig)
	if err != nil {
		return nil, newErr(ErrKindEvent, fmt.Errorf("invalid signature encoding"))
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return nil, newErr(ErrKindEvent, fmt.Errorf("parse signature: %w", err))
	}
	if !sig.Verify(hash, pubKey) {
		return nil, newErr(ErrKindEvent, fmt.Errorf("signature does not verify"))
	}
	return hash, nil
}

// isExpired implements NIP-40: an event carrying an "expiration" tag
// whose unix-second value lies in the past is expired.
func isExpired(tags nostr.Tags) bool {
	for _, tag := range tags {
		if len(tag) >= 2 && tag[0] == "expiration" {
			ts, err := strconv.ParseInt(tag[1], 10, 64)
			if err != nil {
				continue
			}
			return time.Unix(ts, 0).Before(time.Now())
		}
	}
	return false
}

// verifyAndAssemble runs the full receipt pipeline on a raw relay
// event payload: verify the signature on the partial projection,
// reject expired events, re-derive the ID from the canonical
// serialization and compare it against the wire ID, and only then
// return the assembled event.
func verifyAndAssemble(raw []byte) (*nostr.Event, error) {
	partial, missing, err := decodePartial(raw)
	if err != nil {
		return nil, err
	}
	hash, err := verifySignature(partial, missing)
	if err != nil {
		return nil, err
	}
	if isExpired(missing.Tags) {
		return nil, ErrEventExpired
	}
	derivedID := hex.EncodeToString(hash)
	if derivedID != partial.ID {
		return nil, newErr(ErrKindEvent, fmt.Errorf("event id mismatch: wire %s derived %s", partial.ID, derivedID))
	}
	return &nostr.Event{
		ID:        partial.ID,
		PubKey:    partial.PubKey,
		Sig:       partial.Sig,
		CreatedAt: missing.CreatedAt,
		Kind:      missing.Kind,
		Tags:      missing.Tags,
		Content:   missing.Content,
	}, nil
}
