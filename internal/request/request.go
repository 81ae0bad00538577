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

package request

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
)

// MaxResponseBody caps how much of a response body Do keeps.
const MaxResponseBody = 2048

// Response is the part of an HTTP response callers keep after the body is closed.
type Response struct {
	StatusCode int
	Body       string
}

// ToJson serializes payload for use as a request body.
func ToJson(payload interface{}) ([]byte, error) {
	return json.Marshal(payload)
}

// NewJSONRequest builds a POST-style request carrying body verbatim with a
// JSON content type and the given extra headers.
func NewJSONRequest(ctx context.Context, method, url string, body []byte, headers map[string]string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// Do sends req and returns the status code with at most MaxResponseBody
// bytes of the body. A non-nil error means no response was received.
func Do(client *http.Client, req *http.Request) (*Response, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBody))
	if err != nil {
		return &Response{StatusCode: resp.StatusCode}, nil
	}
	// drain so the connection can be reused
	_, _ = io.Copy(io.Discard, resp.Body)

	return &Response{StatusCode: resp.StatusCode, Body: string(body)}, nil
}
