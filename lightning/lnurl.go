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

// Package lightning issues invoices against LNURL-pay endpoints and checks their
// settlement through the LUD-21 verify URL.
package lightning

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

const lnurlHRP = "lnurl"

var ErrUnsupportedTarget = errors.New("payout target must be a lightning address, an LNURL or an https LNURL-pay URL")

// ResolveURL turns a payout target into the LNURL-pay endpoint to query. It accepts
// lightning addresses (LUD-16), bech32 LNURLs (LUD-01, with or without a
// "lightning:" prefix) and https URLs.
func ResolveURL(target string) (string, error) {
	target = strings.TrimSpace(target)
	if len(target) > len("lightning:") && strings.EqualFold(target[:len("lightning:")], "lightning:") {
		target = target[len("lightning:"):]
	}
	if target == "" {
		return "", ErrUnsupportedTarget
	}

	switch {
	case strings.Contains(target, "@"):
		return addressURL(target)
	case strings.HasPrefix(strings.ToLower(target), lnurlHRP+"1"):
		return decodeLNURL(target)
	case strings.HasPrefix(strings.ToLower(target), "https://"), strings.HasPrefix(strings.ToLower(target), "http://"):
		return checkURL(target)
	default:
		return "", ErrUnsupportedTarget
	}
}

func addressURL(address string) (string, error) {
	user, domain, ok := strings.Cut(address, "@")
	if !ok || user == "" || domain == "" || strings.ContainsAny(domain, "@/") {
		return "", fmt.Errorf("%w: malformed lightning address %q", ErrUnsupportedTarget, address)
	}
	return (&url.URL{
		Scheme: "https",
		Host:   strings.ToLower(domain),
		Path:   "/.well-known/lnurlp/" + strings.ToLower(user),
	}).String(), nil
}

func decodeLNURL(encoded string) (string, error) {
	hrp, data, err := bech32.DecodeNoLimit(strings.ToLower(encoded))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsupportedTarget, err)
	}
	if hrp != lnurlHRP {
		return "", fmt.Errorf("%w: unexpected prefix %q", ErrUnsupportedTarget, hrp)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsupportedTarget, err)
	}
	return checkURL(string(raw))
}

func checkURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: invalid url %q", ErrUnsupportedTarget, raw)
	}
	// Plain http is only allowed for onion services.
	if u.Scheme != "https" && !(u.Scheme == "http" && strings.HasSuffix(u.Hostname(), ".onion")) {
		return "", fmt.Errorf("%w: insecure url %q", ErrUnsupportedTarget, raw)
	}
	return u.String(), nil
}
