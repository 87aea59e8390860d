/*
Copyright 2024 SatsQueue Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package nostr

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gonostr "github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
	"github.com/nbd-wtf/go-nostr/nip19"
)

var ErrNoPrivateKey = errors.New("nostr private key is not set")

// Notifier sends NIP-04 encrypted direct messages.
type Notifier struct {
	secretKey string
	publicKey string
	relays    Relays
}

// NewNotifier accepts the sender key as nsec or hex.
func NewNotifier(privateKey string, relays Relays) (*Notifier, error) {
	sk, err := decodeSecretKey(privateKey)
	if err != nil {
		return nil, err
	}
	pk, err := gonostr.GetPublicKey(sk)
	if err != nil {
		return nil, err
	}
	return &Notifier{secretKey: sk, publicKey: pk, relays: relays}, nil
}

// PublicKey is the sender's hex public key.
func (n *Notifier) PublicKey() string {
	return n.publicKey
}

// Notify encrypts message for contactRef, an npub, an nprofile or a hex key, and
// publishes it.
func (n *Notifier) Notify(ctx context.Context, contactRef, message string) error {
	recipient, err := recipientKey(contactRef)
	if err != nil {
		return err
	}

	event, err := n.directMessage(recipient, message)
	if err != nil {
		return err
	}
	return n.relays.Publish(ctx, event)
}

func (n *Notifier) directMessage(recipient, message string) (gonostr.Event, error) {
	shared, err := nip04.ComputeSharedSecret(recipient, n.secretKey)
	if err != nil {
		return gonostr.Event{}, fmt.Errorf("computing shared secret: %w", err)
	}
	content, err := nip04.Encrypt(message, shared)
	if err != nil {
		return gonostr.Event{}, fmt.Errorf("encrypting message: %w", err)
	}

	event := gonostr.Event{
		PubKey:    n.publicKey,
		CreatedAt: gonostr.Now(),
		Kind:      kindEncryptedDM,
		Tags:      gonostr.Tags{gonostr.Tag{"p", recipient}},
		Content:   content,
	}
	if err := event.Sign(n.secretKey); err != nil {
		return gonostr.Event{}, err
	}
	return event, nil
}

func recipientKey(contactRef string) (string, error) {
	contactRef = strings.TrimPrefix(strings.TrimSpace(contactRef), "nostr:")
	if isHexKey(contactRef) {
		return strings.ToLower(contactRef), nil
	}
	if !strings.HasPrefix(contactRef, "npub1") && !strings.HasPrefix(contactRef, "nprofile1") {
		return "", ErrUnsupportedIdentifier
	}
	return decodePublicKey(contactRef)
}

func decodeSecretKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrNoPrivateKey
	}
	if isHexKey(key) {
		return strings.ToLower(key), nil
	}
	prefix, value, err := nip19.Decode(key)
	if err != nil {
		return "", err
	}
	sk, ok := value.(string)
	if prefix != "nsec" || !ok {
		return "", fmt.Errorf("expected an nsec key, got %q", prefix)
	}
	return sk, nil
}
