/*
Copyright 2024 Blnk Finance Authors.

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

package webhook

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/maintflow/maintflow/internal/request"
	"github.com/sirupsen/logrus"
)

// Outcome classifies a delivery attempt.
type Outcome int

const (
	// Delivered means the receiver answered 2xx.
	Delivered Outcome = iota
	// Rejected means the receiver answered 4xx. It is not retried.
	Rejected
	// Retryable covers 5xx, other statuses, timeouts and network failures.
	Retryable
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Rejected:
		return "rejected"
	default:
		return "retryable"
	}
}

// Delivery is one signed webhook to send.
type Delivery struct {
	URL            string
	EventType      string
	IdempotencyKey string
	Body           []byte
}

// Result describes what happened to a Delivery. StatusCode is nil when no
// response was received.
type Result struct {
	Outcome    Outcome
	StatusCode *int
	Body       string
	Err        error
}

// ErrorMessage is the text stored on the outbox row for a failed attempt.
func (r Result) ErrorMessage() string {
	if r.Err != nil {
		return r.Err.Error()
	}
	if r.StatusCode != nil && r.Outcome != Delivered {
		if r.Body != "" {
			return fmt.Sprintf("HTTP %d: %s", *r.StatusCode, r.Body)
		}
		return fmt.Sprintf("HTTP %d", *r.StatusCode)
	}
	return ""
}

// Classify maps an HTTP status code to an Outcome.
func Classify(statusCode int) Outcome {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return Delivered
	case statusCode >= 400 && statusCode < 500:
		return Rejected
	default:
		return Retryable
	}
}

// Client signs and posts approval webhooks.
type Client struct {
	secret     string
	httpClient *http.Client
}

// NewClient returns a Client whose requests are bounded by timeout.
func NewClient(secret string, timeout time.Duration) *Client {
	return &Client{
		secret:     secret,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// HTTPClient exposes the underlying client so tests can swap its transport.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// Send performs a single attempt. Retries are scheduled by the caller.
func (c *Client) Send(ctx context.Context, d Delivery) Result {
	headers := map[string]string{
		HeaderEvent:          d.EventType,
		HeaderIdempotencyKey: d.IdempotencyKey,
		HeaderSignature:      Sign(c.secret, d.Body),
	}

	// a URL that does not parse or has no scheme and host never succeeds
	if target, err := url.Parse(d.URL); err != nil || !target.IsAbs() || target.Host == "" {
		return Result{Outcome: Rejected, Err: fmt.Errorf("callback URL %q is not absolute", d.URL)}
	}

	req, err := request.NewJSONRequest(ctx, http.MethodPost, d.URL, d.Body, headers)
	if err != nil {
		return Result{Outcome: Rejected, Err: fmt.Errorf("failed to create request: %w", err)}
	}

	resp, err := request.Do(c.httpClient, req)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"url":        d.URL,
			"event_type": d.EventType,
			"error":      err,
		}).Warn("approval webhook request failed")
		return Result{Outcome: Retryable, Err: fmt.Errorf("failed to execute request: %w", err)}
	}

	code := resp.StatusCode
	outcome := Classify(code)
	logrus.WithFields(logrus.Fields{
		"url":         d.URL,
		"event_type":  d.EventType,
		"status_code": code,
		"outcome":     outcome.String(),
	}).Debug("approval webhook response received")

	return Result{Outcome: outcome, StatusCode: &code, Body: resp.Body}
}
