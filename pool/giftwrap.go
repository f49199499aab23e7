package pool

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/ekzyis/nip44"
	"github.com/nbd-wtf/go-nostr"
)

// Nostr event kinds relevant to NIP-59 gift wrapping.
const (
	KindSeal     = 13
	KindGiftWrap = 1059
)

// Rumor is the innermost, unsigned layer of a NIP-59 gift wrap: the
// actual message the sender intended to deliver.
type Rumor struct {
	PubKey    string      `json:"pubkey"`
	CreatedAt nostr.Timestamp `json:"created_at"`
	Kind      int         `json:"kind"`
	Tags      nostr.Tags  `json:"tags"`
	Content   string      `json:"content"`
}

// giftWrapKeys derives the raw key bytes GenerateConversationKey needs
// from hex-encoded private/public keys, the same padding convention
// the teacher's own nip44 helper uses for x-only public keys.
func giftWrapKeys(privateKeyHex, publicKeyHex string) ([]byte, []byte, error) {
	privateKeyBytes, err := hex.DecodeString(privateKeyHex)
	if err != nil {
		return nil, nil, fmt.Errorf("decode private key: %w", err)
	}
	publicKeyBytes, err := hex.DecodeString("02" + publicKeyHex)
	if err != nil {
		return nil, nil, fmt.Errorf("decode public key: %w", err)
	}
	return privateKeyBytes, publicKeyBytes, nil
}

// ExtractRumor unwraps a NIP-59 gift wrap addressed to the holder of
// privateKeyHex: it decrypts the wrap to recover the seal, then
// decrypts the seal to recover the rumor. Three nested layers, as the
// glossary describes: gift wrap (outer, signed), seal (middle), rumor
// (inner, unsigned).
func ExtractRumor(privateKeyHex string, giftWrap *nostr.Event) (*Rumor, error) {
	if giftWrap.Kind != KindGiftWrap {
		return nil, newErr(ErrKindEvent, fmt.Errorf("event kind %d is not a gift wrap", giftWrap.Kind))
	}

	wrapPrivKey, wrapPubKey, err := giftWrapKeys(privateKeyHex, giftWrap.PubKey)
	if err != nil {
		return nil, newErr(ErrKindEvent, err)
	}
	wrapSharedKey, err := nip44.GenerateConversationKey(wrapPrivKey, wrapPubKey)
	if err != nil {
		return nil, newErr(ErrKindEvent, fmt.Errorf("compute gift wrap shared key: %w", err))
	}
	sealJSON, err := nip44.Decrypt(wrapSharedKey, giftWrap.Content)
	if err != nil {
		return nil, newErr(ErrKindEvent, fmt.Errorf("decrypt gift wrap: %w", err))
	}

	var seal nostr.Event
	if err := json.Unmarshal([]byte(sealJSON), &seal); err != nil {
		return nil, newErr(ErrKindEvent, fmt.Errorf("decode seal: %w", err))
	}
	if seal.Kind != KindSeal {
		return nil, newErr(ErrKindEvent, fmt.Errorf("event kind %d is not a seal", seal.Kind))
	}

	sealPrivKey, sealPubKey, err := giftWrapKeys(privateKeyHex, seal.PubKey)
	if err != nil {
		return nil, newErr(ErrKindEvent, err)
	}
	sealSharedKey, err := nip44.GenerateConversationKey(sealPrivKey, sealPubKey)
	if err != nil {
		return nil, newErr(ErrKindEvent, fmt.Errorf("compute seal shared key: %w", err))
	}
	rumorJSON, err := nip44.Decrypt(sealSharedKey, seal.Content)
	if err != nil {
		return nil, newErr(ErrKindEvent, fmt.Errorf("decrypt seal: %w", err))
	}

	var rumor Rumor
	if err := json.Unmarshal([]byte(rumorJSON), &rumor); err != nil {
		return nil, newErr(ErrKindEvent, fmt.Errorf("decode rumor: %w", err))
	}
	return &rumor, nil
}
