package pool

import (
	"encoding/json"
	"testing"

	"github.com/ekzyis/nip44"
	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
)

// sealAndWrap builds a NIP-59 gift wrap addressed to recipientPub,
// containing rumor, signed by an ephemeral sender key for the seal and
// a separate ephemeral key for the wrap -- the same nesting ExtractRumor
// is expected to undo.
func sealAndWrap(t *testing.T, senderPriv string, recipientPub string, rumor Rumor) *nostr.Event {
	t.Helper()

	rumorJSON, err := json.Marshal(rumor)
	if err != nil {
		t.Fatalf("marshal rumor: %v", err)
	}

	senderPriv2, senderPub2, err := giftWrapKeys(senderPriv, recipientPub)
	if err != nil {
		t.Fatalf("giftWrapKeys(seal): %v", err)
	}
	sealKey, err := nip44.GenerateConversationKey(senderPriv2, senderPub2)
	if err != nil {
		t.Fatalf("GenerateConversationKey(seal): %v", err)
	}
	sealContent, err := nip44.Encrypt(sealKey, string(rumorJSON), &nip44.EncryptOptions{})
	if err != nil {
		t.Fatalf("Encrypt(seal): %v", err)
	}
	seal := &nostr.Event{
		PubKey:    rumor.PubKey,
		CreatedAt: rumor.CreatedAt,
		Kind:      KindSeal,
		Tags:      nostr.Tags{},
		Content:   sealContent,
	}
	if err := seal.Sign(senderPriv); err != nil {
		t.Fatalf("sign seal: %v", err)
	}

	wrapPriv := nostr.GeneratePrivateKey()
	wrapPub, err := nostr.GetPublicKey(wrapPriv)
	if err != nil {
		t.Fatalf("GetPublicKey(wrap): %v", err)
	}
	sealJSON, err := json.Marshal(seal)
	if err != nil {
		t.Fatalf("marshal seal: %v", err)
	}
	wrapPriv2, wrapPub2, err := giftWrapKeys(wrapPriv, recipientPub)
	if err != nil {
		t.Fatalf("giftWrapKeys(wrap): %v", err)
	}
	wrapKey, err := nip44.GenerateConversationKey(wrapPriv2, wrapPub2)
	if err != nil {
		t.Fatalf("GenerateConversationKey(wrap): %v", err)
	}
	wrapContent, err := nip44.Encrypt(wrapKey, string(sealJSON), &nip44.EncryptOptions{})
	if err != nil {
		t.Fatalf("Encrypt(wrap): %v", err)
	}
	giftWrap := &nostr.Event{
		PubKey:    wrapPub,
		CreatedAt: rumor.CreatedAt,
		Kind:      KindGiftWrap,
		Tags:      nostr.Tags{},
		Content:   wrapContent,
	}
	if err := giftWrap.Sign(wrapPriv); err != nil {
		t.Fatalf("sign gift wrap: %v", err)
	}
	return giftWrap
}

func TestExtractRumor_RoundTrip(t *testing.T) {
	t.Parallel()
	recipientPriv := nostr.GeneratePrivateKey()
	recipientPub, err := nostr.GetPublicKey(recipientPriv)
	if err != nil {
		t.Fatalf("GetPublicKey(recipient): %v", err)
	}
	senderPriv := nostr.GeneratePrivateKey()
	senderPub, err := nostr.GetPublicKey(senderPriv)
	if err != nil {
		t.Fatalf("GetPublicKey(sender): %v", err)
	}

	want := Rumor{
		PubKey:    senderPub,
		CreatedAt: nostr.Now(),
		Kind:      nostr.KindTextNote,
		Tags:      nostr.Tags{},
		Content:   "a message wrapped in two layers",
	}
	giftWrap := sealAndWrap(t, senderPriv, recipientPub, want)

	got, err := ExtractRumor(recipientPriv, giftWrap)
	assert.NoError(t, err)
	assert.Equal(t, want.Content, got.Content)
	assert.Equal(t, want.PubKey, got.PubKey)
	assert.Equal(t, want.Kind, got.Kind)
}

func TestExtractRumor_RejectsWrongKind(t *testing.T) {
	t.Parallel()
	recipientPriv := nostr.GeneratePrivateKey()
	notAWrap := &nostr.Event{Kind: nostr.KindTextNote}
	if _, err := ExtractRumor(recipientPriv, notAWrap); err == nil {
		t.Fatal("ExtractRumor() accepted a non-gift-wrap event kind")
	}
}
