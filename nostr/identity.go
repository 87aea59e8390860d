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
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gonostr "github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/sirupsen/logrus"

	"github.com/satsqueue/satsqueue/internal/request"
)

var (
	ErrUnsupportedIdentifier = errors.New("identifier must be an npub, an nprofile or a NIP-05 address")
	ErrNIP05NotFound         = errors.New("NIP-05 identifier not found")
)

type nip05Response struct {
	Names map[string]string `json:"names"`
}

type profileContent struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

// Resolver maps nostr identifiers to profile names. The contact reference it
// returns is the hex public key.
type Resolver struct {
	relays Relays
	http   *http.Client
}

func NewResolver(relays Relays, timeout time.Duration) *Resolver {
	return &Resolver{relays: relays, http: &http.Client{Timeout: timeout}}
}

// Resolve returns the profile name and public key of identifier. Both are empty
// when the identifier is not a nostr identity. A known key without a readable
// profile yields an empty name and the key.
func (r *Resolver) Resolve(ctx context.Context, identifier string) (string, string) {
	pubkey, err := r.PublicKey(ctx, identifier)
	if err != nil {
		logrus.WithError(err).WithField("identifier", identifier).Debug("nostr identity not resolved")
		return "", ""
	}

	event, err := r.relays.QueryProfile(ctx, pubkey)
	if err != nil || event == nil {
		if err != nil {
			logrus.WithError(err).WithField("pubkey", pubkey).Debug("profile lookup failed")
		}
		return "", pubkey
	}

	var profile profileContent
	if err := json.Unmarshal([]byte(event.Content), &profile); err != nil {
		logrus.WithError(err).WithField("pubkey", pubkey).Debug("unreadable profile content")
		return "", pubkey
	}
	if profile.DisplayName != "" {
		return profile.DisplayName, pubkey
	}
	return profile.Name, pubkey
}

// PublicKey returns the hex public key behind an npub, an nprofile, a hex key or
// a NIP-05 address.
func (r *Resolver) PublicKey(ctx context.Context, identifier string) (string, error) {
	identifier = strings.TrimPrefix(strings.TrimSpace(identifier), "nostr:")
	switch {
	case strings.HasPrefix(identifier, "npub1"), strings.HasPrefix(identifier, "nprofile1"):
		return decodePublicKey(identifier)
	case isHexKey(identifier):
		return strings.ToLower(identifier), nil
	case strings.Contains(identifier, "@"):
		return r.queryNIP05(ctx, identifier)
	default:
		return "", ErrUnsupportedIdentifier
	}
}

func (r *Resolver) queryNIP05(ctx context.Context, address string) (string, error) {
	name, domain, _ := strings.Cut(strings.ToLower(address), "@")
	if name == "" || domain == "" {
		return "", ErrUnsupportedIdentifier
	}

	endpoint := (&url.URL{
		Scheme:   "https",
		Host:     domain,
		Path:     "/.well-known/nostr.json",
		RawQuery: url.Values{"name": []string{name}}.Encode(),
	}).String()

	var resp nip05Response
	if err := request.GetJSON(ctx, r.http, endpoint, &resp); err != nil {
		return "", fmt.Errorf("querying %s: %w", endpoint, err)
	}
	pubkey, ok := resp.Names[name]
	if !ok || !isHexKey(pubkey) {
		return "", ErrNIP05NotFound
	}
	return strings.ToLower(pubkey), nil
}

func decodePublicKey(encoded string) (string, error) {
	prefix, value, err := nip19.Decode(encoded)
	if err != nil {
		return "", err
	}
	switch prefix {
	case "npub":
		if pk, ok := value.(string); ok {
			return pk, nil
		}
	case "nprofile":
		if pointer, ok := value.(gonostr.ProfilePointer); ok {
			return pointer.PublicKey, nil
		}
	}
	return "", ErrUnsupportedIdentifier
}

func isHexKey(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
