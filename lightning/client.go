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

package lightning

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/satsqueue/satsqueue/internal/request"
	"github.com/satsqueue/satsqueue/model"
)

var (
	ErrNotPayRequest    = errors.New("endpoint is not an LNURL-pay endpoint")
	ErrAmountOutOfRange = errors.New("amount is outside the range accepted by the payout target")
	ErrNoVerifyURL      = errors.New("payout target does not support payment verification (LUD-21)")
	ErrEmptyInvoice     = errors.New("payout target returned no invoice")
)

// lnurlStatus is the error shape shared by every LNURL response.
type lnurlStatus struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (s lnurlStatus) err() error {
	if strings.EqualFold(s.Status, "ERROR") {
		if s.Reason == "" {
			return errors.New("lnurl endpoint returned an error")
		}
		return errors.New(s.Reason)
	}
	return nil
}

type payParams struct {
	lnurlStatus
	Tag         string `json:"tag"`
	Callback    string `json:"callback"`
	MinSendable int64  `json:"minSendable"`
	MaxSendable int64  `json:"maxSendable"`
}

type invoiceResponse struct {
	lnurlStatus
	PR     string `json:"pr"`
	Verify string `json:"verify"`
}

type verifyResponse struct {
	lnurlStatus
	Settled bool   `json:"settled"`
	PR      string `json:"pr"`
}

// Client talks to LNURL-pay endpoints.
type Client struct {
	http *http.Client
}

func NewClient(timeout time.Duration) *Client {
	return &Client{http: &http.Client{Timeout: timeout}}
}

// ValidateTarget checks that target resolves to a reachable LNURL-pay endpoint.
func (c *Client) ValidateTarget(ctx context.Context, target string) error {
	_, err := c.fetchPayParams(ctx, target)
	return err
}

// IssueInvoice requests an invoice for amount sats payable to target.
func (c *Client) IssueInvoice(ctx context.Context, target string, amount int64) (model.Invoice, error) {
	if amount <= 0 {
		return nil, errors.New("amount must be greater than 0")
	}
	params, err := c.fetchPayParams(ctx, target)
	if err != nil {
		return nil, err
	}

	msat := amount * 1000
	if (params.MinSendable > 0 && msat < params.MinSendable) || (params.MaxSendable > 0 && msat > params.MaxSendable) {
		return nil, fmt.Errorf("%w: %d sats (min %d, max %d)", ErrAmountOutOfRange, amount, params.MinSendable/1000, params.MaxSendable/1000)
	}

	callback, err := url.Parse(params.Callback)
	if err != nil || callback.Host == "" {
		return nil, fmt.Errorf("invalid callback url %q", params.Callback)
	}
	query := callback.Query()
	query.Set("amount", strconv.FormatInt(msat, 10))
	callback.RawQuery = query.Encode()

	var resp invoiceResponse
	if err := request.GetJSON(ctx, c.http, callback.String(), &resp); err != nil {
		return nil, fmt.Errorf("requesting invoice: %w", err)
	}
	if err := resp.err(); err != nil {
		return nil, err
	}
	if resp.PR == "" {
		return nil, ErrEmptyInvoice
	}
	if resp.Verify == "" {
		return nil, ErrNoVerifyURL
	}

	logrus.WithFields(logrus.Fields{"target": target, "amount": amount}).Debug("invoice issued")
	return &Invoice{paymentRequest: resp.PR, verifyURL: resp.Verify, client: c}, nil
}

func (c *Client) fetchPayParams(ctx context.Context, target string) (*payParams, error) {
	endpoint, err := ResolveURL(target)
	if err != nil {
		return nil, err
	}

	var params payParams
	if err := request.GetJSON(ctx, c.http, endpoint, &params); err != nil {
		return nil, fmt.Errorf("fetching %s: %w", endpoint, err)
	}
	if err := params.err(); err != nil {
		return nil, err
	}
	if params.Callback == "" || (params.Tag != "" && params.Tag != "payRequest") {
		return nil, ErrNotPayRequest
	}
	return &params, nil
}

// Invoice is a BOLT-11 payment request whose settlement is checked through its
// verify URL.
type Invoice struct {
	paymentRequest string
	verifyURL      string
	client         *Client
}

func (i *Invoice) PaymentRequest() string {
	return i.paymentRequest
}

func (i *Invoice) PollPaid(ctx context.Context) (bool, error) {
	var resp verifyResponse
	if err := request.GetJSON(ctx, i.client.http, i.verifyURL, &resp); err != nil {
		return false, err
	}
	if err := resp.err(); err != nil {
		return false, err
	}
	return resp.Settled, nil
}
